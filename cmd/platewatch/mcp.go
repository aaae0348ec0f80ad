package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/plates/platewatch"
)

var version = "dev"

func newMCPCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Poll and expose status and history as MCP tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := ctx.load()
			if err != nil {
				return err
			}
			// stdout carries the MCP protocol.
			if cfg.Sink.Stdout {
				logger.Warn("platewatch: stdout sink disabled in mcp mode")
				cfg.Sink.Stdout = false
			}

			sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			runCtx, cancel := context.WithCancel(sigCtx)
			defer cancel()

			svc, err := platewatch.NewService(cfg, logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			srv := mcp.NewServer(&mcp.Implementation{Name: "platewatch", Version: version}, nil)
			svc.RegisterMCP(srv)

			mcpErr := make(chan error, 1)
			go func() {
				defer cancel()
				mcpErr <- srv.Run(runCtx, &mcp.StdioTransport{})
			}()

			runErr := svc.Run(runCtx)
			cancel()
			err = <-mcpErr
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			return errors.Join(runErr, err)
		},
	}
}
