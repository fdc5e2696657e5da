// File: internal/providers/alias.go
package providers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/veilkit/pane/api/schemas"
	"github.com/veilkit/pane/internal/network"
)

// DefaultAliasDomain is the fallback domain for locally minted aliases.
const DefaultAliasDomain = "relay.veilkit.dev"

// LocalAliasEmail derives the deterministic local alias address for a seed.
// The same derivation backs the seed table preview in the CLI, so what the
// table promises is what the local provider mints.
func LocalAliasEmail(seed, domain string) string {
	if domain == "" {
		domain = DefaultAliasDomain
	}
	sum := sha256.Sum256([]byte(seed))
	return fmt.Sprintf("%s-%s@%s", seed, hex.EncodeToString(sum[:2])[:3], domain)
}

// -- HTTP implementation --

type aliasCreateRequest struct {
	Description string `json:"description"`
}

type aliasCreateResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// HTTPAliasProvider talks to a masked-email service over its JSON API.
type HTTPAliasProvider struct {
	api    *network.APIClient
	logger *zap.Logger
}

// NewHTTPAliasProvider wraps an API client pointed at the alias service.
func NewHTTPAliasProvider(api *network.APIClient, logger *zap.Logger) *HTTPAliasProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPAliasProvider{
		api:    api,
		logger: logger.Named("alias_provider"),
	}
}

// Create provisions a new forwarding alias labelled with the context name.
func (p *HTTPAliasProvider) Create(ctx context.Context, req schemas.AliasRequest) (schemas.AliasResult, error) {
	if req.Name == "" {
		return schemas.AliasResult{}, errors.New("alias create: context name is required")
	}

	var resp aliasCreateResponse
	err := p.api.PostJSON(ctx, "/v1/aliases", aliasCreateRequest{Description: req.Name}, &resp)
	if err != nil {
		return schemas.AliasResult{}, fmt.Errorf("create alias for %q: %w", req.Name, err)
	}
	if resp.ID == "" || resp.Email == "" {
		return schemas.AliasResult{}, fmt.Errorf("alias service returned an incomplete record for %q", req.Name)
	}

	p.logger.Info("Alias created.",
		zap.String("context", req.Name),
		zap.String("alias_id", resp.ID),
	)
	return schemas.AliasResult{ID: resp.ID, Email: resp.Email}, nil
}

// Delete burns the alias. An alias the service no longer knows is treated
// as already burned, which keeps tombstoning repeatable.
func (p *HTTPAliasProvider) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}

	err := p.api.Delete(ctx, "/v1/aliases/"+url.PathEscape(id))
	var apiErr *network.APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		p.logger.Warn("Alias already gone upstream.", zap.String("alias_id", id))
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete alias %s: %w", id, err)
	}

	p.logger.Info("Alias burned.", zap.String("alias_id", id))
	return nil
}

// -- Local offline implementation --

// LocalAliasProvider mints deterministic addresses under a configured domain
// without any upstream service. Mail to them goes nowhere; they exist so the
// rest of the pipeline has a real-shaped address to work with.
type LocalAliasProvider struct {
	domain string
	logger *zap.Logger
}

// NewLocalAliasProvider builds the offline provider. An empty domain falls
// back to DefaultAliasDomain.
func NewLocalAliasProvider(domain string, logger *zap.Logger) *LocalAliasProvider {
	if domain == "" {
		domain = DefaultAliasDomain
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalAliasProvider{
		domain: domain,
		logger: logger.Named("alias_provider.local"),
	}
}

// Create derives the alias from the context name. Same name, same alias.
func (p *LocalAliasProvider) Create(_ context.Context, req schemas.AliasRequest) (schemas.AliasResult, error) {
	if req.Name == "" {
		return schemas.AliasResult{}, errors.New("alias create: context name is required")
	}

	sum := sha256.Sum256([]byte(req.Name))
	result := schemas.AliasResult{
		ID:    "local-" + hex.EncodeToString(sum[:4]),
		Email: LocalAliasEmail(req.Name, p.domain),
	}

	p.logger.Info("Local alias minted.",
		zap.String("context", req.Name),
		zap.String("alias_id", result.ID),
	)
	return result, nil
}

// Delete is a no-op; local aliases have no upstream record to burn.
func (p *LocalAliasProvider) Delete(_ context.Context, id string) error {
	p.logger.Debug("Local alias delete is a no-op.", zap.String("alias_id", id))
	return nil
}
