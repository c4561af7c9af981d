package main

import (
	"github.com/spf13/cobra"
)

// skipConfigAnnotation marks commands that run without SOLARA_* config.
const skipConfigAnnotation = "skip-config"

func newRootCommand() *cobra.Command {
	var quiet bool

	ctx := newCommandContext(&quiet)

	rootCmd := &cobra.Command{
		Use:           "solara-sync",
		Short:         "Offline-first field photo uploader",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress log output")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newSubmitCommand(ctx))
	rootCmd.AddCommand(newSyncCommand(ctx))
	rootCmd.AddCommand(newQueueCommand(ctx))
	rootCmd.AddCommand(newCatalogCommand(ctx))
	rootCmd.AddCommand(newHashKeyCommand())

	return rootCmd
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if _, ok := c.Annotations[skipConfigAnnotation]; ok {
			return true
		}
	}

	return cmd.Name() == "help"
}
