// File: internal/network/dialer_test.go
package network

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Starts a simple TCP server that echoes back any received data.
func startTCPEchoServer(t *testing.T) net.Listener {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "Failed to start TCP listener")

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				continue
			}
			go func(c net.Conn) {
				defer c.Close()
				_, _ = io.Copy(c, c)
			}(conn)
		}
	}()
	return listener
}

func TestNewDialerConfig_Defaults(t *testing.T) {
	config := NewDialerConfig()

	assert.Equal(t, 10*time.Second, config.Timeout)
	assert.Equal(t, 30*time.Second, config.KeepAlive)
	assert.True(t, config.NoDelay)
	assert.NotNil(t, config.Resolver)
}

func TestDialerConfig_Clone(t *testing.T) {
	original := NewDialerConfig()
	original.Timeout = 3 * time.Second

	clone := original.Clone()
	clone.Timeout = 9 * time.Second
	clone.NoDelay = false

	assert.Equal(t, 3*time.Second, original.Timeout)
	assert.True(t, original.NoDelay)

	// A nil receiver yields usable defaults.
	var nilConfig *DialerConfig
	assert.Equal(t, NewDialerConfig().Timeout, nilConfig.Clone().Timeout)
}

func TestDialTCPContext_Success(t *testing.T) {
	listener := startTCPEchoServer(t)
	defer listener.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := DialTCPContext(ctx, "tcp", listener.Addr().String(), NewDialerConfig())
	require.NoError(t, err)
	defer conn.Close()

	testMsg := []byte("hello tcp echo")
	_, err = conn.Write(testMsg)
	require.NoError(t, err)

	response := make([]byte, len(testMsg))
	_, err = io.ReadFull(conn, response)
	require.NoError(t, err)
	assert.Equal(t, testMsg, response)
}

func TestDialTCPContext_Timeout(t *testing.T) {
	// Non routable address (RFC 5737 TEST-NET-1) forces a connect timeout.
	nonRoutableAddr := "192.0.2.1:8080"

	config := NewDialerConfig()
	config.Timeout = 100 * time.Millisecond

	start := time.Now()
	conn, err := DialTCPContext(context.Background(), "tcp", nonRoutableAddr, config)
	duration := time.Since(start)

	assert.Error(t, err)
	assert.Nil(t, conn)

	var netErr net.Error
	if assert.ErrorAs(t, err, &netErr) {
		assert.True(t, netErr.Timeout(), "Error should be a timeout")
	}
	assert.Contains(t, err.Error(), "tcp dial failed")

	assert.GreaterOrEqual(t, duration, 100*time.Millisecond)
	assert.Less(t, duration, 2*time.Second, "Timeout took significantly longer than configured")
}

func TestDialTCPContext_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	conn, err := DialTCPContext(ctx, "tcp", "192.0.2.1:8080", NewDialerConfig())
	assert.Error(t, err)
	assert.Nil(t, conn)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDialTCPContext_NilConfig(t *testing.T) {
	listener := startTCPEchoServer(t)
	defer listener.Close()

	conn, err := DialTCPContext(context.Background(), "tcp", listener.Addr().String(), nil)
	require.NoError(t, err)
	defer conn.Close()

	_, ok := conn.(*net.TCPConn)
	assert.True(t, ok, "Direct dial should yield a TCP connection")
}
