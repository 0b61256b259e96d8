package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shopharvest/crawler/internal/app"
	"github.com/shopharvest/crawler/internal/config"
	"github.com/shopharvest/crawler/internal/engine"
)

// newRunCmd creates the 'run' subcommand that executes one extraction run.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the extraction pipeline once",
		Long: `Executes the three-stage extraction pipeline against the configured
category targets and exits once the run completes or aborts. While the run is
active, health, metrics, and the live run report are served over HTTP.`,
		RunE: runExtraction,
	}
}

func runExtraction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if len(cfg.Targets.Categories) == 0 {
		return fmt.Errorf("no category targets configured (targets.categories)")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}

	report, err := a.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run pipeline: %w", err)
	}
	if report.FinalState == engine.RunAborted {
		return fmt.Errorf("run aborted: %s", report.Reason)
	}
	return nil
}
