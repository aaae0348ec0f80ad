package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/plates/platewatch"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		force      bool
		statusAddr string
		headful    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll the detection table until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := ctx.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("force-recognition") {
				cfg.Poll.ForceRecognition = force
			}
			if statusAddr != "" {
				cfg.Status.Addr = statusAddr
			}
			if headful {
				headless := false
				cfg.Browser.Headless = &headless
			}

			sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runService(sigCtx, cfg, logger)
		},
	}

	cmd.Flags().BoolVar(&force, "force-recognition", false, "Enrich every dispatched row, even complete ones")
	cmd.Flags().StringVar(&statusAddr, "status-addr", "", "Serve the status API on this address")
	cmd.Flags().BoolVar(&headful, "headful", false, "Show the browser window")

	return cmd
}

func (c *commandContext) load() (*platewatch.Config, *slog.Logger, error) {
	logger, err := c.logger()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func runService(ctx context.Context, cfg *platewatch.Config, logger *slog.Logger, opts ...platewatch.ServiceOption) error {
	svc, err := platewatch.NewService(cfg, logger, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("platewatch: close", "error", err)
		}
	}()

	if err := svc.Run(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	logger.Info("platewatch: stopped")
	return nil
}
