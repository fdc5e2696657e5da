// File: cmd/seed.go
package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/veilkit/pane/internal/identity"
	"github.com/veilkit/pane/internal/providers"
)

// newSeedCmd creates the `seed` command. Seeds are cheap; the table shows
// what each one will become so the operator can pick before spending a
// provider call on it.
func newSeedCmd(state *appState) *cobra.Command {
	var (
		count  int
		export string
	)

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Prints fresh context seeds with their alias previews",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			seeds, err := identity.NewSeedBatch(count)
			if err != nil {
				return err
			}
			domain := state.cfg.Providers.Alias.Domain

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SEED\tALIAS PREVIEW\tCOMMAND")
			for _, seed := range seeds {
				fmt.Fprintf(w, "%s\t%s\tpane context new %s\n",
					seed, providers.LocalAliasEmail(seed, domain), seed)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if export != "" {
				data := strings.Join(seeds, "\n") + "\n"
				if err := os.WriteFile(export, []byte(data), 0644); err != nil {
					return fmt.Errorf("failed to export seeds: %w", err)
				}
				state.logger.Info("Seeds exported.",
					zap.String("path", export),
					zap.Int("count", len(seeds)),
				)
			}
			return nil
		},
	}

	seedCmd.Flags().IntVarP(&count, "count", "n", 10, "Number of seeds to generate.")
	seedCmd.Flags().StringVar(&export, "export", "", "Also write the bare seeds to this file, one per line.")

	return seedCmd
}
