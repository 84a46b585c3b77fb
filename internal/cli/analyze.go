package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [subject-id...]",
	Short: "Run the analysis pipeline for one or more subjects",
	Long: `Run the full analysis pipeline for the named subjects. With no
arguments, the subjects from the configuration file are analyzed.`,
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	subjects := args
	if len(subjects) == 0 {
		subjects = a.cfg.Pipeline.Subjects
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	outcomes := a.runner.AnalyzeAll(ctx, subjects)

	failures := 0
	for _, outcome := range outcomes {
		if outcome.Completed {
			fmt.Printf("%s: completed (thread %s)\n", outcome.SubjectID, outcome.ThreadID)
			continue
		}
		failures++
		if outcome.HaltedStage != "" {
			fmt.Printf("%s: halted at %s (%s): %s\n", outcome.SubjectID, outcome.HaltedStage, outcome.Status, outcome.Detail)
		} else {
			fmt.Printf("%s: %s: %s\n", outcome.SubjectID, outcome.Status, outcome.Detail)
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d sessions did not complete", failures, len(outcomes))
	}
	return nil
}
