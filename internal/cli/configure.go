package cli

import (
	"fmt"

	"github.com/riskops/amlguard/internal/config"
	"github.com/spf13/cobra"
)

var (
	configureProvider string
	configureAPIKey   string
	configureToolURL  string
	configureShow     bool
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write or inspect the configuration file",
	Long: `Write the configuration file with the given provider credentials and
tool server endpoint. Existing settings are preserved. With --show, the
effective configuration is printed instead.`,
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().StringVar(&configureProvider, "provider", "", "AI provider (openai, anthropic)")
	configureCmd.Flags().StringVar(&configureAPIKey, "api-key", "", "AI provider API key")
	configureCmd.Flags().StringVar(&configureToolURL, "tool-server", "", "tool server base URL")
	configureCmd.Flags().BoolVar(&configureShow, "show", false, "print the effective configuration")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	if configureShow {
		fmt.Println(cfg.String())
		return nil
	}

	if configureProvider != "" {
		cfg.AI.Provider = configureProvider
	}
	if configureAPIKey != "" {
		cfg.AI.APIKey = configureAPIKey
	}
	if configureToolURL != "" {
		cfg.ToolServer.URL = configureToolURL
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := loader.Save(cfg); err != nil {
		return err
	}

	fmt.Println("Configuration saved.")
	return nil
}
