// File: internal/network/apiclient.go

// Package network provides the outbound HTTP stack shared by the provider
// integrations: a tuned transport with transparent response decoding, and a
// JSON API client that paces requests and retries transient failures.
package network

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var apiJSON = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// maxResponseBytes bounds how much of a provider response is read into memory.
	maxResponseBytes = 1 << 20
	// maxErrorBodyBytes bounds how much of an error body lands in APIError.
	maxErrorBodyBytes = 2048

	defaultBackoffInitial = 250 * time.Millisecond
	defaultBackoffMax     = 5 * time.Second
)

// APIConfig configures a provider-facing JSON API client.
type APIConfig struct {
	// BaseURL is the scheme://host[:port][/prefix] all request paths resolve
	// against. Required.
	BaseURL string
	// Token, when set, is sent as a bearer Authorization header.
	Token     string
	UserAgent string

	// RequestsPerSecond caps the outbound request rate. Zero or negative
	// means no cap.
	RequestsPerSecond float64
	Burst             int
	// MaxRetries bounds additional attempts after the first for transient
	// failures (connection errors, 429, 5xx).
	MaxRetries int

	// Client tunes the underlying transport. Nil uses defaults.
	Client *ClientConfig

	Logger *zap.Logger
}

// APIClient is a JSON-over-HTTP client shared by the provider integrations.
// It paces requests with a client-side limiter, retries transient failures
// with exponential backoff, and reads responses already decoded.
//
// Safe for concurrent use.
type APIClient struct {
	http      *Client
	base      *url.URL
	token     string
	userAgent string
	limiter   *rate.Limiter
	maxTries  uint64

	// newBackOff is swapped in tests to avoid real retry sleeps.
	newBackOff func() backoff.BackOff

	logger *zap.Logger
}

// NewAPIClient validates cfg and builds the client.
func NewAPIClient(cfg APIConfig) (*APIClient, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base URL %q must use http or https", cfg.BaseURL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("base URL %q has no host", cfg.BaseURL)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("api_client").With(zap.String("host", base.Host))

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}

	clientCfg := cfg.Client
	if clientCfg == nil {
		clientCfg = NewDefaultClientConfig()
	}
	if clientCfg.Logger == nil {
		clientCfg.Logger = logger
	}

	return &APIClient{
		http:      NewClient(clientCfg),
		base:      base,
		token:     cfg.Token,
		userAgent: cfg.UserAgent,
		limiter:   rate.NewLimiter(limit, burst),
		maxTries:  uint64(retries),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = defaultBackoffInitial
			b.MaxInterval = defaultBackoffMax
			return b
		},
		logger: logger,
	}, nil
}

// APIError reports a non-2xx provider response.
type APIError struct {
	Status int
	Method string
	Path   string
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// retryableStatus reports whether the status code is worth another attempt.
func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// GetJSON issues a GET and decodes the response into out.
func (c *APIClient) GetJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// PostJSON issues a POST with in as the JSON body, decoding the response
// into out when out is non-nil.
func (c *APIClient) PostJSON(ctx context.Context, path string, in, out any) error {
	return c.do(ctx, http.MethodPost, path, in, out)
}

// Delete issues a DELETE, discarding any response body.
func (c *APIClient) Delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *APIClient) do(ctx context.Context, method, path string, in, out any) error {
	target, err := c.resolve(path)
	if err != nil {
		return err
	}

	var payload []byte
	if in != nil {
		payload, err = apiJSON.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, method, target, requestBody(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		c.setHeaders(req, payload != nil)

		start := time.Now()
		resp, err := c.http.Do(req)
		if err != nil {
			c.logger.Warn("Provider request failed.",
				zap.String("method", method),
				zap.String("path", path),
				zap.Error(err))
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			apiErr := &APIError{
				Status: resp.StatusCode,
				Method: method,
				Path:   path,
				Body:   truncateBody(body),
			}
			if retryableStatus(resp.StatusCode) {
				c.logger.Warn("Provider returned transient status.",
					zap.String("method", method),
					zap.String("path", path),
					zap.Int("status", resp.StatusCode))
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}

		if out != nil && len(body) > 0 {
			if err := apiJSON.Unmarshal(body, out); err != nil {
				return backoff.Permanent(fmt.Errorf("decode response body: %w", err))
			}
		}

		c.logger.Debug("Provider request complete.",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.Duration("duration", time.Since(start)))
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.maxTries), ctx)
	return backoff.Retry(operation, b)
}

// resolve joins path onto the base URL, keeping any base path prefix.
func (c *APIClient) resolve(path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse request path %q: %w", path, err)
	}
	if ref.IsAbs() || ref.Host != "" {
		return "", fmt.Errorf("request path %q must be relative", path)
	}

	joined := *c.base
	joined.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.TrimLeft(ref.Path, "/")
	joined.RawQuery = ref.RawQuery
	return joined.String(), nil
}

func (c *APIClient) setHeaders(req *http.Request, hasBody bool) {
	req.Header.Set("Accept", "application/json")
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
}

func requestBody(payload []byte) io.Reader {
	if payload == nil {
		return nil
	}
	return bytes.NewReader(payload)
}

func truncateBody(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBodyBytes {
		return text[:maxErrorBodyBytes]
	}
	return text
}
