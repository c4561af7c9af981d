package main

import (
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alexjbarnes/solara-sync/internal/app"
	"github.com/alexjbarnes/solara-sync/internal/manifest"
	"github.com/alexjbarnes/solara-sync/internal/uploader"
	"github.com/spf13/cobra"
)

var errIncompleteSubmission = errors.New("submission incomplete")

type submitFlags struct {
	ciclo    string
	sector   string
	ruta     string
	tecnico  string
	manifest string
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var flags submitFlags

	cmd := &cobra.Command{
		Use:   "submit [photo...]",
		Short: "Upload a batch of photos, queueing what cannot be delivered",
		Example: "  solara-sync submit --ciclo C1 --sector S1 --ruta R1 --tecnico Ana a.jpg b.jpg\n" +
			"  solara-sync submit --manifest batch.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			batch, err := flags.batch(args)
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()

			return ctx.withController(consoleReporter{w: cmd.ErrOrStderr()}, func(ctrl *app.Controller) error {
				ctrl.Probe(runCtx)

				res, err := ctrl.Submit(runCtx, batch, nil)
				if len(res.Items) > 0 {
					fmt.Fprint(out, renderTable([]string{"Photo", "Result", "Detail"}, itemRows(res.Items), nil))
				}

				if res.Status.Message != "" {
					fmt.Fprintln(out, res.Status.Message)
				}

				if err != nil {
					return err
				}

				if res.Failed > 0 {
					return fmt.Errorf("%w: %d photo(s) failed", errIncompleteSubmission, res.Failed)
				}

				return nil
			})
		},
	}

	cmd.Flags().StringVar(&flags.ciclo, "ciclo", "", "Cycle")
	cmd.Flags().StringVar(&flags.sector, "sector", "", "Sector")
	cmd.Flags().StringVar(&flags.ruta, "ruta", "", "Route")
	cmd.Flags().StringVar(&flags.tecnico, "tecnico", "", "Technician")
	cmd.Flags().StringVarP(&flags.manifest, "manifest", "m", "", "YAML batch manifest")
	cmd.MarkFlagsMutuallyExclusive("manifest", "ciclo")
	cmd.MarkFlagsMutuallyExclusive("manifest", "sector")
	cmd.MarkFlagsMutuallyExclusive("manifest", "ruta")
	cmd.MarkFlagsMutuallyExclusive("manifest", "tecnico")

	return cmd
}

// batch builds the submission from either the manifest or the flags
// and positional photo paths. Field validation is left to the
// orchestrator so the user sees its message.
func (f submitFlags) batch(args []string) (uploader.Batch, error) {
	if f.manifest != "" {
		if len(args) > 0 {
			return uploader.Batch{}, errors.New("photo arguments cannot be combined with --manifest")
		}

		m, err := manifest.Load(f.manifest)
		if err != nil {
			return uploader.Batch{}, err
		}

		return m.Batch(), nil
	}

	batch := uploader.Batch{
		Ciclo:   f.ciclo,
		Sector:  f.sector,
		Ruta:    f.ruta,
		Tecnico: f.tecnico,
	}

	for _, p := range args {
		abs, err := filepath.Abs(p)
		if err != nil {
			return uploader.Batch{}, fmt.Errorf("resolving %s: %w", p, err)
		}

		batch.Files = append(batch.Files, uploader.File{Name: filepath.Base(abs), Path: abs})
	}

	return batch, nil
}

func itemRows(items []uploader.ItemResult) [][]string {
	rows := make([][]string, 0, len(items))

	for _, it := range items {
		detail := ""
		if it.Err != nil {
			detail = it.Err.Error()
		}

		rows = append(rows, []string{it.Name, string(it.Outcome), detail})
	}

	return rows
}
