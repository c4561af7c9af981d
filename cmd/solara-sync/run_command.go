package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/alexjbarnes/solara-sync/internal/app"
	"github.com/spf13/cobra"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Watch connectivity and sync the queue on reconnect",
		Long: "Run the daemon: probes the endpoint, drains the queue after each " +
			"reconnect, processes photos dropped into INBOX_DIR and serves MCP " +
			"when ENABLE_MCP is set.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			logger := ctx.logger(cfg)
			logger.Info("solara-sync starting",
				slog.String("version", Version),
				slog.String("state", cfg.StatePath),
				slog.Bool("inbox", cfg.InboxDir != ""),
				slog.Bool("mcp", cfg.EnableMCP),
			)

			runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ctrl, err := app.New(cfg, logger, app.Options{Version: Version})
			if err != nil {
				return err
			}
			defer ctrl.Close()

			if err := ctrl.Run(runCtx); err != nil {
				return err
			}

			logger.Info("solara-sync stopped")

			return nil
		},
	}
}
