// File: internal/artifacts/factory.go

// Package artifacts stores run screenshots and returns the reference that
// flows into progress events. Two sinks exist: a local directory (default)
// and S3-compatible object storage.
package artifacts

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/veilkit/pane/api/schemas"
	"github.com/veilkit/pane/internal/config"
)

// NewSink builds the artifact sink selected by the configuration.
func NewSink(ctx context.Context, cfg config.ArtifactsConfig, logger *zap.Logger) (schemas.ArtifactSink, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalDir(cfg.Dir, logger)
	case "s3":
		return NewS3Sink(ctx, cfg.S3, logger)
	default:
		return nil, fmt.Errorf("unknown artifacts backend %q", cfg.Backend)
	}
}
