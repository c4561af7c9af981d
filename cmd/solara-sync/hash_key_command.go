package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/alexjbarnes/solara-sync/internal/auth"
	"github.com/spf13/cobra"
)

func newHashKeyCommand() *cobra.Command {
	var (
		generate bool
		name     string
	)

	cmd := &cobra.Command{
		Use:   "hash-key",
		Short: "Produce a bcrypt hash for MCP_API_KEYS",
		Long: "Reads an API key from stdin and prints its bcrypt hash. With --generate " +
			"a new random key is created and printed once alongside the hash.",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: ""},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			var key string

			if generate {
				key = auth.GenerateKey()
				fmt.Fprintf(out, "key:  %s\n", key)
			} else {
				fmt.Fprint(cmd.ErrOrStderr(), "Enter API key: ")

				scanner := bufio.NewScanner(cmd.InOrStdin())
				if !scanner.Scan() {
					return errors.New("no input")
				}

				key = strings.TrimSpace(scanner.Text())
			}

			hash, err := auth.HashKey(key)
			if err != nil {
				return err
			}

			if generate {
				fmt.Fprintf(out, "hash: %s\n", hash)
				fmt.Fprintf(out, "MCP_API_KEYS entry: %s:%s\n", name, hash)

				return nil
			}

			fmt.Fprintln(out, hash)

			return nil
		},
	}

	cmd.Flags().BoolVar(&generate, "generate", false, "Generate a new random key")
	cmd.Flags().StringVar(&name, "name", "default", "Key name for the printed MCP_API_KEYS entry")

	return cmd
}
