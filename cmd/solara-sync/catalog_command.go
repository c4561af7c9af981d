package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/alexjbarnes/solara-sync/internal/app"
	"github.com/alexjbarnes/solara-sync/internal/catalog"
	"github.com/spf13/cobra"
)

func newCatalogCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Show the cycles, sectors, routes and technicians accepted by the endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withController(nil, func(ctrl *app.Controller) error {
				cat, err := ctrl.Catalog(cmd.Context())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if cat.Stale {
					fmt.Fprintf(out, "Offline: showing catalog cached at %s\n", cat.FetchedAt.Local().Format(time.DateTime))
				}

				fmt.Fprint(out, renderTable([]string{"Ciclo", "Sector", "Rutas"}, catalogRows(cat), nil))
				fmt.Fprintf(out, "Tecnicos: %s\n", strings.Join(cat.Tecnicos, ", "))

				return nil
			})
		},
	}
}

// catalogRows flattens the cycle to sector to route tree, one row per
// sector. Cycles without sectors get a single empty row.
func catalogRows(cat *catalog.Catalog) [][]string {
	var rows [][]string

	for _, ciclo := range cat.Ciclos {
		sectors := cat.SectorsFor(ciclo)
		if len(sectors) == 0 {
			rows = append(rows, []string{ciclo, "", ""})
			continue
		}

		for _, sector := range sectors {
			rows = append(rows, []string{ciclo, sector, strings.Join(cat.RoutesFor(sector), ", ")})
		}
	}

	return rows
}
