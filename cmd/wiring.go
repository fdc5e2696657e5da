// File: cmd/wiring.go
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/veilkit/pane/api/schemas"
	"github.com/veilkit/pane/internal/artifacts"
	"github.com/veilkit/pane/internal/browser"
	"github.com/veilkit/pane/internal/config"
	"github.com/veilkit/pane/internal/enroll"
	"github.com/veilkit/pane/internal/fielddetect"
	"github.com/veilkit/pane/internal/identity"
	"github.com/veilkit/pane/internal/metrics"
	"github.com/veilkit/pane/internal/providers"
	"github.com/veilkit/pane/internal/store"
)

// engineComponents holds the initialized enrollment engine.
type engineComponents struct {
	Backend  *browser.Backend
	Machine  *enroll.Machine
	Sink     metrics.Sink
	Gatherer prometheus.Gatherer
}

// buildEngine performs the dependency injection for the enrollment engine.
// withMetrics selects a real Prometheus registry; one-shot commands run on
// the noop sink since nothing scrapes them.
func buildEngine(ctx context.Context, cfg *config.Config, withMetrics bool, logger *zap.Logger) (*engineComponents, error) {
	var (
		sink     metrics.Sink = metrics.NewNoopSink()
		gatherer prometheus.Gatherer
	)
	if withMetrics && cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		sink = metrics.NewPrometheusSink(reg, logger)
		gatherer = reg
	}

	artifactSink, err := artifacts.NewSink(ctx, cfg.Artifacts, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize artifact sink: %w", err)
	}

	var registry *fielddetect.Registry
	if cfg.Enroll.OverridesDir != "" {
		registry = fielddetect.NewRegistry(logger)
		if err := registry.LoadDir(cfg.Enroll.OverridesDir); err != nil {
			return nil, fmt.Errorf("failed to load field overrides: %w", err)
		}
	}

	backend := browser.NewBackend(cfg.Browser, logger)

	machine := enroll.NewMachine(cfg.Enroll, enroll.Deps{
		Backend:   backend,
		Registry:  registry,
		Artifacts: artifactSink,
		Metrics:   sink,
		Logger:    logger,
	})

	return &engineComponents{
		Backend:  backend,
		Machine:  machine,
		Sink:     sink,
		Gatherer: gatherer,
	}, nil
}

// Shutdown tears the browser down; sessions still open get closed with it.
func (c *engineComponents) Shutdown(logger *zap.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := c.Backend.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Browser shutdown reported an error.", zap.Error(err))
	}
}

// openStore connects to the envelope database and verifies the schema.
// The caller owns the returned pool.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*store.Store, *pgxpool.Pool, error) {
	if cfg.Store.URL == "" {
		return nil, nil, fmt.Errorf("store.url is not configured (PANE_STORE_URL)")
	}

	pool, err := store.Connect(ctx, cfg.Store.URL)
	if err != nil {
		return nil, nil, err
	}

	st, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return st, pool, nil
}

// ephemeralContext assembles a run bundle that never touches the store or
// a paid provider: deterministic identity, locally minted alias, fresh
// credentials. An empty seed draws a random one.
func ephemeralContext(ctx context.Context, cfg *config.Config, seed string, logger *zap.Logger) (schemas.EnrollmentContext, error) {
	id, err := identity.NewGenerator().Generate(seed)
	if err != nil {
		return schemas.EnrollmentContext{}, fmt.Errorf("generate identity: %w", err)
	}

	local := providers.NewLocalAliasProvider(cfg.Providers.Alias.Domain, logger)
	alias, err := local.Create(ctx, schemas.AliasRequest{Name: id.Seed, Identity: id})
	if err != nil {
		return schemas.EnrollmentContext{}, fmt.Errorf("mint alias: %w", err)
	}

	username, err := identity.Username(id.Seed)
	if err != nil {
		return schemas.EnrollmentContext{}, fmt.Errorf("derive username: %w", err)
	}
	password, err := identity.NewPassword()
	if err != nil {
		return schemas.EnrollmentContext{}, fmt.Errorf("generate password: %w", err)
	}

	return schemas.EnrollmentContext{
		Name:     id.Seed,
		Identity: id,
		Alias:    alias,
		Username: username,
		Password: password,
	}, nil
}
