// File: internal/fielddetect/registry.go
package fielddetect

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

// Registry maps registration domains to named strategies, with the generic
// strategy as the universal fallback. It is populated once during startup
// and read-only afterwards, so lookups need no locking.
type Registry struct {
	logger    *zap.Logger
	overrides map[string]Strategy
	fallback  Strategy
}

// NewRegistry builds an empty registry around the generic fallback.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:    logger.Named("fielddetect"),
		overrides: make(map[string]Strategy),
		fallback:  newGeneric(),
	}
}

// Register admits one descriptor. Later registrations for the same domain
// win, which lets user descriptors shadow built-ins.
func (r *Registry) Register(d Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	key := strings.ToLower(d.Domain)
	r.overrides[key] = &override{d: d}
	return nil
}

// LoadDir reads every .yaml/.yml descriptor under dir. Call during setup,
// before the first lookup. A missing directory is not an error; a broken
// descriptor is.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading override dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading override %s: %w", path, err)
		}
		d, err := ParseDescriptor(raw)
		if err != nil {
			return fmt.Errorf("override %s: %w", path, err)
		}
		if err := r.Register(d); err != nil {
			return fmt.Errorf("override %s: %w", path, err)
		}
		r.logger.Debug("Loaded field override.",
			zap.String("domain", d.Domain),
			zap.String("file", entry.Name()))
	}
	return nil
}

// ForURL resolves the strategy for a target URL. Unknown or unparsable
// targets fall back to generic detection rather than failing the run.
func (r *Registry) ForURL(rawURL string) Strategy {
	domain, err := RegistrationDomain(rawURL)
	if err != nil {
		r.logger.Debug("Falling back to generic detection.",
			zap.String("url", rawURL), zap.Error(err))
		return r.fallback
	}
	if s, ok := r.overrides[domain]; ok {
		return s
	}
	return r.fallback
}

// Len reports the number of registered overrides.
func (r *Registry) Len() int { return len(r.overrides) }

// RegistrationDomain extracts the eTLD+1 using the Public Suffix List, so
// "signup.example.co.uk" and "example.co.uk" key to the same override.
func RegistrationDomain(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing target url: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("target url %q has no host", rawURL)
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return "", fmt.Errorf("could not determine effective TLD+1 for %s: %w", host, err)
	}
	return strings.ToLower(domain), nil
}
