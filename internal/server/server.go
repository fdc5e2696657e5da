// File: internal/server/server.go

// Package server exposes the job supervisor over HTTP: enrollment
// submission, job status, live progress streams and operational endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/veilkit/pane/api/schemas"
	"github.com/veilkit/pane/internal/config"
	"github.com/veilkit/pane/internal/identity"
	"github.com/veilkit/pane/internal/jobs"
	"github.com/veilkit/pane/internal/providers"
)

// Deps are the collaborators behind the HTTP surface. Jobs is required.
// Store enables enrollment by stored context name; without it those
// requests are refused. Gatherer, when set, mounts the Prometheus endpoint.
type Deps struct {
	Jobs        *jobs.Supervisor
	Store       schemas.ContextStore
	Gatherer    prometheus.Gatherer
	AliasDomain string
	Logger      *zap.Logger
}

// Server is the serve-mode HTTP front end.
type Server struct {
	cfg        config.ServerConfig
	jobs       *jobs.Supervisor
	store      schemas.ContextStore
	gatherer   prometheus.Gatherer
	identities *identity.Generator
	aliases    schemas.AliasProvider
	log        *zap.Logger
}

// New assembles the server. Ephemeral enrollments mint their alias locally
// under deps.AliasDomain; an empty domain falls back to the provider default.
func New(cfg config.ServerConfig, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:        cfg,
		jobs:       deps.Jobs,
		store:      deps.Store,
		gatherer:   deps.Gatherer,
		identities: identity.NewGenerator(),
		aliases:    providers.NewLocalAliasProvider(deps.AliasDomain, logger),
		log:        logger.Named("server"),
	}
}

// Router builds the route tree. Exposed separately from Run so tests can
// drive the handlers through httptest without binding a port.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(s.logRequests)
	r.Use(s.recoverPanics)

	r.Get("/healthz", s.handleHealthz)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(api chi.Router) {
		api.Post("/enroll", s.handleEnroll)
		api.Get("/jobs", s.handleListJobs)
		api.Route("/jobs/{id}", func(job chi.Router) {
			job.Get("/", s.handleJobStatus)
			job.Get("/events", s.handleJobEvents)
			job.Post("/cancel", s.handleCancelJob)
		})
	})
	return r
}

// Run serves until ctx is canceled, then drains connections within the
// configured shutdown window. Event streams are long-lived, so the base
// context is canceled first; that unblocks their select loops and lets
// Shutdown finish instead of timing out.
func (s *Server) Run(ctx context.Context) error {
	shutdownTimeout := s.cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	defer baseCancel()

	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		// WriteTimeout stays zero: event streams write for the whole job.
		IdleTimeout: 60 * time.Second,
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("Server listening.", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		baseCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		s.log.Info("Server stopped.")
		return nil
	})
	return g.Wait()
}
