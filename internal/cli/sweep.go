package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/riskops/amlguard/pkg/schedule"
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run scheduled analysis sweeps until interrupted",
	Long: `Start the sweep scheduler. On every cron fire, the full subject list
from the configuration is analyzed. Runs in the foreground until
interrupted.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.cfg.Sweep.Enabled {
		return fmt.Errorf("sweeps are disabled in configuration")
	}

	svc, err := schedule.NewService(schedule.ServiceOptions{
		Schedule: a.cfg.Sweep.Schedule,
		Sweep: func(ctx context.Context) {
			a.runner.AnalyzeAll(ctx, a.cfg.Pipeline.Subjects)
		},
	})
	if err != nil {
		return err
	}

	svc.Start()
	defer svc.Stop()

	fmt.Printf("Sweep scheduler running (%s), press Ctrl+C to stop\n", a.cfg.Sweep.Schedule)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	return nil
}
