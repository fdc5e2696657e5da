// File: cmd/serve.go
package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/veilkit/pane/api/schemas"
	"github.com/veilkit/pane/internal/jobs"
	"github.com/veilkit/pane/internal/server"
)

// newServeCmd creates the `serve` command: the engine behind an HTTP API
// with background jobs, event streams and Prometheus metrics.
func newServeCmd(state *appState) *cobra.Command {
	var listen string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the enrollment engine as an HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := state.logger

			cfg := *state.cfg
			if listen != "" {
				cfg.Server.Listen = listen
			}

			components, err := buildEngine(ctx, &cfg, true, logger)
			if err != nil {
				return err
			}
			defer components.Shutdown(logger)

			supervisor := jobs.NewSupervisor(components.Machine, components.Sink, logger)

			var ctxStore schemas.ContextStore
			if cfg.Store.URL != "" {
				st, pool, err := openStore(ctx, &cfg, logger)
				if err != nil {
					return err
				}
				defer pool.Close()
				ctxStore = st
			} else {
				logger.Info("No store configured; enrollment by stored context is disabled.")
			}

			srv := server.New(cfg.Server, server.Deps{
				Jobs:        supervisor,
				Store:       ctxStore,
				Gatherer:    components.Gatherer,
				AliasDomain: cfg.Providers.Alias.Domain,
				Logger:      logger,
			})

			err = srv.Run(ctx)

			// Running jobs are canceled once the HTTP side has drained.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if shutdownErr := supervisor.Shutdown(shutdownCtx); shutdownErr != nil {
				logger.Warn("Supervisor shutdown reported an error.", zap.Error(shutdownErr))
			}
			return err
		},
	}

	serveCmd.Flags().StringVar(&listen, "listen", "", "Listen address override (host:port).")

	return serveCmd
}
