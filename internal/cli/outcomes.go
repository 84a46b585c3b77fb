package cli

import (
	"context"
	"fmt"

	"github.com/riskops/amlguard/internal/config"
	"github.com/riskops/amlguard/pkg/pipeline"
	"github.com/riskops/amlguard/pkg/report"
	"github.com/spf13/cobra"
)

var outcomesLimit int

var outcomesCmd = &cobra.Command{
	Use:   "outcomes [subject-id]",
	Short: "Show recent analysis outcomes",
	Long: `Show recent analysis outcomes from the outcome database. With a
subject ID, only that subject's history is shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runOutcomes,
}

func init() {
	outcomesCmd.Flags().IntVar(&outcomesLimit, "limit", 20, "maximum number of outcomes to show")
	rootCmd.AddCommand(outcomesCmd)
}

func runOutcomes(cmd *cobra.Command, args []string) error {
	// Reading outcomes needs no provider credentials, so skip Validate.
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return err
	}

	store, err := report.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()

	var outcomes []pipeline.Outcome
	if len(args) == 1 {
		outcomes, err = store.ListBySubject(ctx, args[0], outcomesLimit)
	} else {
		outcomes, err = store.ListRecent(ctx, outcomesLimit)
	}
	if err != nil {
		return err
	}

	if len(outcomes) == 0 {
		fmt.Println("No outcomes recorded.")
		return nil
	}

	for _, o := range outcomes {
		when := o.StartedAt.Format("2006-01-02 15:04:05")
		if o.Completed {
			fmt.Printf("%s  %-8s completed\n", when, o.SubjectID)
			continue
		}
		fmt.Printf("%s  %-8s %s", when, o.SubjectID, o.Status)
		if o.HaltedStage != "" {
			fmt.Printf(" at %s", o.HaltedStage)
		}
		if o.Detail != "" {
			fmt.Printf(": %s", o.Detail)
		}
		fmt.Println()
	}
	return nil
}
