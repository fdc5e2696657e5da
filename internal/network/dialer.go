// File: internal/network/dialer.go
package network

import (
	"context"
	"fmt"
	"net"
	"time"
)

// DialerConfig holds configuration for the low-level TCP dialer.
type DialerConfig struct {
	Timeout   time.Duration
	KeepAlive time.Duration
	// NoDelay controls TCP_NODELAY. Keeps small JSON round trips snappy.
	NoDelay bool
	// Resolver allows custom DNS resolution logic. Defaults to the system resolver.
	Resolver *net.Resolver
}

// Clone returns a copy of the DialerConfig. A nil receiver yields defaults.
func (c *DialerConfig) Clone() *DialerConfig {
	if c == nil {
		return NewDialerConfig()
	}
	clone := *c
	return &clone
}

// NewDialerConfig creates a default configuration suited to calling JSON APIs.
func NewDialerConfig() *DialerConfig {
	return &DialerConfig{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		NoDelay:   true,
		Resolver:  net.DefaultResolver,
	}
}

// DialTCPContext establishes a raw TCP connection. Suitable for
// http.Transport.DialContext.
func DialTCPContext(ctx context.Context, network, address string, config *DialerConfig) (net.Conn, error) {
	if config == nil {
		config = NewDialerConfig()
	}

	dialer := &net.Dialer{
		Timeout:   config.Timeout,
		KeepAlive: config.KeepAlive,
		// Enable Happy Eyeballs (RFC 8305) for faster IPv4/IPv6 fallback.
		FallbackDelay: 300 * time.Millisecond,
		Resolver:      config.Resolver,
	}

	rawConn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("tcp dial failed: %w", err)
	}

	if tcpConn, ok := rawConn.(*net.TCPConn); ok {
		if err := configureTCP(tcpConn, config); err != nil {
			_ = tcpConn.Close()
			return nil, err
		}
	}
	return rawConn, nil
}

// configureTCP applies TCP specific settings.
func configureTCP(conn *net.TCPConn, config *DialerConfig) error {
	// Keep-alive tuning is best effort; not every platform supports it.
	_ = conn.SetKeepAlive(true)
	if config.KeepAlive > 0 {
		_ = conn.SetKeepAlivePeriod(config.KeepAlive)
	}

	if err := conn.SetNoDelay(config.NoDelay); err != nil {
		return fmt.Errorf("failed to set TCP NoDelay: %w", err)
	}
	return nil
}
