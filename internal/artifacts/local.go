// File: internal/artifacts/local.go
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
)

// LocalDir writes artifacts into a directory on the local filesystem. The
// returned reference is the absolute file path.
type LocalDir struct {
	dir string
	log *zap.Logger
}

// NewLocalDir resolves (expanding a leading ~) and creates the target
// directory.
func NewLocalDir(dir string, logger *zap.Logger) (*LocalDir, error) {
	expanded, err := homedir.Expand(dir)
	if err != nil {
		return nil, fmt.Errorf("could not resolve artifacts dir '%s': %w", dir, err)
	}
	if err := os.MkdirAll(expanded, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifacts dir: %w", err)
	}
	return &LocalDir{
		dir: expanded,
		log: logger.Named("artifacts"),
	}, nil
}

// Save writes the artifact under its name, never overwriting: a name that
// already exists (two screenshots in the same second) gets a short random
// suffix instead.
func (l *LocalDir) Save(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// Base strips any path components a caller-supplied label could smuggle in.
	path := filepath.Join(l.dir, filepath.Base(name))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, os.ErrExist) {
		path = suffixedPath(path)
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	}
	if err != nil {
		return "", fmt.Errorf("failed to create artifact file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close artifact file: %w", err)
	}

	l.log.Debug("Artifact written.", zap.String("path", path), zap.Int("bytes", len(data)))
	return path, nil
}

// suffixedPath inserts a short random fragment before the extension.
func suffixedPath(path string) string {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	return fmt.Sprintf("%s-%s%s", stem, uuid.NewString()[:8], ext)
}
