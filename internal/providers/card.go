// File: internal/providers/card.go
package providers

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/veilkit/pane/api/schemas"
	"github.com/veilkit/pane/internal/network"
)

// -- HTTP implementation --

type cardCreateRequest struct {
	Memo            string `json:"memo"`
	SpendLimitCents int64  `json:"spend_limit_cents"`
}

type cardCreateResponse struct {
	Token    string `json:"token"`
	LastFour string `json:"last_four"`
}

// HTTPCardProvider talks to a virtual card service over its JSON API.
type HTTPCardProvider struct {
	api    *network.APIClient
	logger *zap.Logger
}

// NewHTTPCardProvider wraps an API client pointed at the card service.
func NewHTTPCardProvider(api *network.APIClient, logger *zap.Logger) *HTTPCardProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPCardProvider{
		api:    api,
		logger: logger.Named("card_provider"),
	}
}

// Create issues a new single-merchant card under the given memo and limit.
func (p *HTTPCardProvider) Create(ctx context.Context, req schemas.CardRequest) (schemas.CardResult, error) {
	if req.SpendLimitCents <= 0 {
		return schemas.CardResult{}, errors.New("card create: spend limit must be positive")
	}

	var resp cardCreateResponse
	err := p.api.PostJSON(ctx, "/v1/cards", cardCreateRequest{
		Memo:            req.Memo,
		SpendLimitCents: req.SpendLimitCents,
	}, &resp)
	if err != nil {
		return schemas.CardResult{}, fmt.Errorf("create card %q: %w", req.Memo, err)
	}
	if resp.Token == "" {
		return schemas.CardResult{}, fmt.Errorf("card service returned no token for %q", req.Memo)
	}

	p.logger.Info("Card issued.",
		zap.String("memo", req.Memo),
		zap.String("last_four", resp.LastFour),
	)
	return schemas.CardResult{Token: resp.Token, LastFour: resp.LastFour}, nil
}

// Freeze blocks all future authorizations on the card. A token the service
// no longer knows is treated as already dead, which keeps tombstoning
// repeatable.
func (p *HTTPCardProvider) Freeze(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	err := p.api.PostJSON(ctx, "/v1/cards/"+url.PathEscape(token)+"/freeze", nil, nil)
	var apiErr *network.APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		p.logger.Warn("Card already gone upstream.", zap.String("token", token))
		return nil
	}
	if err != nil {
		return fmt.Errorf("freeze card %s: %w", token, err)
	}

	p.logger.Info("Card frozen.", zap.String("token", token))
	return nil
}

// -- Local offline implementation --

// LocalCardProvider fabricates card records without any upstream service.
// Tokens are random; nothing behind them can ever authorize a charge.
type LocalCardProvider struct {
	logger *zap.Logger
}

// NewLocalCardProvider builds the offline provider.
func NewLocalCardProvider(logger *zap.Logger) *LocalCardProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalCardProvider{logger: logger.Named("card_provider.local")}
}

// Create fabricates a fresh random card record.
func (p *LocalCardProvider) Create(_ context.Context, req schemas.CardRequest) (schemas.CardResult, error) {
	if req.SpendLimitCents <= 0 {
		return schemas.CardResult{}, errors.New("card create: spend limit must be positive")
	}

	var raw [10]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return schemas.CardResult{}, fmt.Errorf("card create: %w", err)
	}

	result := schemas.CardResult{
		Token:    "card_local_" + hex.EncodeToString(raw[:8]),
		LastFour: fmt.Sprintf("%04d", binary.BigEndian.Uint16(raw[8:])%10000),
	}

	p.logger.Info("Local card fabricated.",
		zap.String("memo", req.Memo),
		zap.String("last_four", result.LastFour),
	)
	return result, nil
}

// Freeze is a no-op; there is no upstream card to block.
func (p *LocalCardProvider) Freeze(_ context.Context, token string) error {
	p.logger.Debug("Local card freeze is a no-op.", zap.String("token", token))
	return nil
}
