package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/riskops/amlguard/internal/config"
	"github.com/riskops/amlguard/pkg/toolexec"
	"github.com/spf13/cobra"
)

var toolsRemote bool

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools available to the pipeline",
	Long: `List the registered tool definitions. With --remote, the configured
tool server is queried instead, which verifies connectivity.`,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().BoolVar(&toolsRemote, "remote", false, "query the tool server instead of the local registry")
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	if toolsRemote {
		return listRemoteTools()
	}
	return listLocalTools()
}

func listLocalTools() error {
	registry, err := toolexec.Builtin()
	if err != nil {
		return err
	}

	for _, name := range registry.List() {
		def, ok := registry.Get(name)
		if !ok {
			continue
		}
		fmt.Printf("%s\n    %s\n", def.Name, def.Description)
	}
	return nil
}

func listRemoteTools() error {
	// Listing tools needs no provider credentials, so skip Validate.
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return err
	}

	client := toolexec.NewClient(cfg.ToolServer.URL, time.Duration(cfg.ToolServer.Timeout)*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ToolServer.Timeout)*time.Second)
	defer cancel()

	tools, err := client.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tools from %s: %w", cfg.ToolServer.URL, err)
	}

	for _, tool := range tools {
		fmt.Printf("%s\n    %s\n", tool.Name, tool.Description)
	}
	return nil
}
