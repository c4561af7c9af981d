package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/alexjbarnes/solara-sync/internal/app"
	"github.com/alexjbarnes/solara-sync/internal/state"
	"github.com/spf13/cobra"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "List photos waiting to be delivered",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withController(nil, func(ctrl *app.Controller) error {
				records, err := ctrl.Pending()
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(records) == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}

				fmt.Fprint(out, renderTable(
					[]string{"#", "Photo", "Ciclo", "Sector", "Ruta", "Tecnico", "Queued"},
					queueRows(records),
					[]columnAlignment{alignRight},
				))
				fmt.Fprintf(out, "%d pending\n", len(records))

				return nil
			})
		},
	}
}

func queueRows(records []state.Record) [][]string {
	rows := make([][]string, 0, len(records))

	for i, r := range records {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			r.Nombre,
			r.Ciclo,
			r.Sector,
			r.Ruta,
			r.Tecnico,
			r.QueuedAt.Local().Format(time.DateTime),
		})
	}

	return rows
}
