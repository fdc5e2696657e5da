// File: internal/providers/factory.go

// Package providers supplies the alias (masked email) and virtual card
// integrations. Each comes in two flavors: an HTTP client for a configured
// upstream service and a local offline implementation used when no base URL
// is set, so the CLI works standalone.
package providers

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/veilkit/pane/api/schemas"
	"github.com/veilkit/pane/internal/config"
	"github.com/veilkit/pane/internal/network"
)

// NewAliasProvider selects the alias implementation from configuration.
// An empty base URL yields the local provider.
func NewAliasProvider(cfg config.ProvidersConfig, netCfg config.NetworkConfig, logger *zap.Logger) (schemas.AliasProvider, error) {
	if cfg.Alias.BaseURL == "" {
		return NewLocalAliasProvider(cfg.Alias.Domain, logger), nil
	}

	api, err := newAPIClient(cfg.Alias.BaseURL, cfg.Alias.Token, netCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("alias provider: %w", err)
	}
	return NewHTTPAliasProvider(api, logger), nil
}

// NewCardProvider selects the card implementation from configuration.
// An empty base URL yields the local provider.
func NewCardProvider(cfg config.ProvidersConfig, netCfg config.NetworkConfig, logger *zap.Logger) (schemas.CardProvider, error) {
	if cfg.Card.BaseURL == "" {
		return NewLocalCardProvider(logger), nil
	}

	api, err := newAPIClient(cfg.Card.BaseURL, cfg.Card.Token, netCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("card provider: %w", err)
	}
	return NewHTTPCardProvider(api, logger), nil
}

func newAPIClient(baseURL, token string, netCfg config.NetworkConfig, logger *zap.Logger) (*network.APIClient, error) {
	clientCfg := network.NewDefaultClientConfig()
	if netCfg.Timeout > 0 {
		clientCfg.RequestTimeout = netCfg.Timeout
	}
	clientCfg.IgnoreTLSErrors = netCfg.IgnoreTLSErrors
	clientCfg.Logger = logger

	return network.NewAPIClient(network.APIConfig{
		BaseURL:           baseURL,
		Token:             token,
		UserAgent:         netCfg.UserAgent,
		RequestsPerSecond: netCfg.RequestsPerSecond,
		Burst:             netCfg.Burst,
		MaxRetries:        netCfg.MaxRetries,
		Client:            clientCfg,
		Logger:            logger,
	})
}
