// File: cmd/context.go
package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/veilkit/pane/api/schemas"
	"github.com/veilkit/pane/internal/identity"
	"github.com/veilkit/pane/internal/providers"
)

// cleanupTimeout bounds the provider calls that undo a half-provisioned
// context after a failure.
const cleanupTimeout = 30 * time.Second

func newContextCmd(state *appState) *cobra.Command {
	contextCmd := &cobra.Command{
		Use:   "context",
		Short: "Manages stored enrollment contexts (identity, alias, card, credentials)",
	}
	contextCmd.AddCommand(
		newContextNewCmd(state),
		newContextListCmd(state),
		newContextShowCmd(state),
		newContextTombstoneCmd(state),
	)
	return contextCmd
}

// newContextNewCmd provisions a complete envelope: deterministic identity,
// provider-backed alias, optional card, fresh credentials, persisted under
// the seed name.
func newContextNewCmd(state *appState) *cobra.Command {
	var targetURL string

	c := &cobra.Command{
		Use:   "new [seed]",
		Short: "Provisions a full envelope for the seed and stores it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (retErr error) {
			ctx := cmd.Context()
			cfg := state.cfg
			logger := state.logger

			seed := ""
			if len(args) == 1 {
				seed = args[0]
			}

			st, pool, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			id, err := identity.NewGenerator().Generate(seed)
			if err != nil {
				return err
			}

			aliasProvider, err := providers.NewAliasProvider(cfg.Providers, cfg.Network, logger)
			if err != nil {
				return err
			}

			alias, err := aliasProvider.Create(ctx, schemas.AliasRequest{Name: id.Seed, Identity: id})
			if err != nil {
				return err
			}

			var (
				card         schemas.CardResult
				cardProvider schemas.CardProvider
			)
			// Burn what was provisioned if a later step fails; an aborted
			// run must not leave a live alias or card upstream.
			defer func() {
				if retErr == nil {
					return
				}
				cleanupCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
				defer cancel()
				if alias.ID != "" {
					if err := aliasProvider.Delete(cleanupCtx, alias.ID); err != nil {
						logger.Warn("Alias cleanup failed.", zap.String("alias_id", alias.ID), zap.Error(err))
					}
				}
				if card.Token != "" && cardProvider != nil {
					if err := cardProvider.Freeze(cleanupCtx, card.Token); err != nil {
						logger.Warn("Card cleanup failed.", zap.Error(err))
					}
				}
			}()

			if cfg.Providers.Card.Enabled {
				cardProvider, err = providers.NewCardProvider(cfg.Providers, cfg.Network, logger)
				if err != nil {
					return err
				}
				card, err = cardProvider.Create(ctx, schemas.CardRequest{
					Memo:            id.Seed,
					SpendLimitCents: cfg.Providers.Card.SpendLimitCents,
				})
				if err != nil {
					return err
				}
			}

			username, err := identity.Username(id.Seed)
			if err != nil {
				return err
			}
			password, err := identity.NewPassword()
			if err != nil {
				return err
			}

			env := &schemas.Envelope{
				Name:      id.Seed,
				TargetURL: targetURL,
				Identity:  id,
				Alias:     alias,
				Card:      card,
				Username:  username,
				Password:  password,
			}
			if err := st.Save(ctx, env); err != nil {
				return err
			}

			logger.Info("Context stored.",
				zap.String("context", env.Name),
				zap.String("alias", env.Alias.Email),
			)
			return printJSON(cmd.OutOrStdout(), env)
		},
	}

	c.Flags().StringVar(&targetURL, "target", "", "Target URL this context is intended for.")
	return c
}

func newContextListCmd(state *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Lists stored contexts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			st, pool, err := openStore(ctx, state.cfg, state.logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			envs, err := st.List(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tALIAS\tCREATED\tSTATUS")
			for i := range envs {
				env := &envs[i]
				status := "active"
				if env.Tombstoned() {
					status = "tombstoned"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					env.Name, env.Alias.Email, env.CreatedAt.Format(time.RFC3339), status)
			}
			return w.Flush()
		},
	}
}

func newContextShowCmd(state *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "show [name]",
		Short: "Prints one stored context as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			st, pool, err := openStore(ctx, state.cfg, state.logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			env, err := st.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), env)
		},
	}
}

// newContextTombstoneCmd terminates a context: the alias stops forwarding,
// the card stops authorizing, and the envelope is marked, never deleted.
func newContextTombstoneCmd(state *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "tombstone [name]",
		Short: "Burns the alias, freezes the card and marks the context terminated",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := state.cfg
			logger := state.logger
			name := args[0]

			st, pool, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			env, err := st.Get(ctx, name)
			if err != nil {
				return err
			}
			if env.Tombstoned() {
				logger.Info("Context already tombstoned.", zap.String("context", name))
				return nil
			}

			aliasProvider, err := providers.NewAliasProvider(cfg.Providers, cfg.Network, logger)
			if err != nil {
				return err
			}
			if err := aliasProvider.Delete(ctx, env.Alias.ID); err != nil {
				return fmt.Errorf("failed to burn alias for %q: %w", name, err)
			}

			if env.Card.Token != "" {
				cardProvider, err := providers.NewCardProvider(cfg.Providers, cfg.Network, logger)
				if err != nil {
					return err
				}
				if err := cardProvider.Freeze(ctx, env.Card.Token); err != nil {
					return fmt.Errorf("failed to freeze card for %q: %w", name, err)
				}
			}

			if err := st.Tombstone(ctx, name); err != nil {
				return err
			}

			logger.Info("Context tombstoned.", zap.String("context", name))
			fmt.Fprintf(cmd.OutOrStdout(), "Context %s tombstoned.\n", name)
			return nil
		},
	}
}
