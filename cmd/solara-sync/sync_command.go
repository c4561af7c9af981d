package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/alexjbarnes/solara-sync/internal/app"
	"github.com/spf13/cobra"
)

func newSyncCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Try to deliver every queued photo once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()

			return ctx.withController(consoleReporter{w: cmd.ErrOrStderr()}, func(ctrl *app.Controller) error {
				ctrl.Probe(runCtx)

				res, err := ctrl.Sync(runCtx, nil)
				if err != nil {
					return err
				}

				switch {
				case res.Skipped:
					n, err := ctrl.QueueCount()
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Offline. %d photo(s) remain queued.\n", n)
				case res.Total == 0:
					fmt.Fprintln(out, "Queue is empty")
				default:
					fmt.Fprintln(out, res.Status.Message)
				}

				return nil
			})
		},
	}
}
