// File: internal/browser/backend_test.go
package browser

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/veilkit/pane/api/schemas"
	"github.com/veilkit/pane/internal/browser/netguard"
	"github.com/veilkit/pane/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestBuildAllocatorOptionsLayersOverDefaults(t *testing.T) {
	base := buildAllocatorOptions(config.BrowserConfig{Headless: true})
	assert.Greater(t, len(base), len(chromedp.DefaultExecAllocatorOptions),
		"overrides must come after the defaults so they win")

	// Same platform block in both, so the delta is exactly the configured
	// extras: cache, TLS, exec path and two user args.
	loaded := buildAllocatorOptions(config.BrowserConfig{
		Headless:        true,
		DisableCache:    true,
		IgnoreTLSErrors: true,
		ExecPath:        "/usr/bin/chromium",
		Args:            []string{"--proxy-server=socks5://127.0.0.1:9050", "window-size=1280,800"},
	})
	assert.Equal(t, len(base)+5, len(loaded))
}

func TestHumanoidConfigOverlay(t *testing.T) {
	t.Run("zero values keep defaults", func(t *testing.T) {
		got := humanoidConfig(config.HumanoidConfig{Enabled: true})
		assert.True(t, got.Enabled)
		assert.InDelta(t, 70.0, got.KeyPauseMeanMs, 0.001)
		assert.InDelta(t, 0.04, got.TypoRate, 0.001)
		assert.Equal(t, 50, got.ClickHoldMinMs)
	})

	t.Run("set values override", func(t *testing.T) {
		got := humanoidConfig(config.HumanoidConfig{
			Enabled:          true,
			TypoRate:         0.1,
			KeyPauseMeanMs:   120,
			KeyPauseStdDevMs: 40,
			KeyPauseMinMs:    50,
			ClickHoldMinMs:   80,
			ClickHoldMaxMs:   200,
		})
		assert.InDelta(t, 0.1, got.TypoRate, 0.001)
		assert.InDelta(t, 120.0, got.KeyPauseMeanMs, 0.001)
		assert.InDelta(t, 40.0, got.KeyPauseStdDevMs, 0.001)
		assert.InDelta(t, 50.0, got.KeyPauseMinMs, 0.001)
		assert.Equal(t, 80, got.ClickHoldMinMs)
		assert.Equal(t, 200, got.ClickHoldMaxMs)
	})
}

func TestCombineContextCancelsWithSecondary(t *testing.T) {
	primary, primaryCancel := context.WithCancel(context.Background())
	defer primaryCancel()
	secondary, secondaryCancel := context.WithCancel(context.Background())

	combined, cancel := combineContext(primary, secondary)
	defer cancel()

	select {
	case <-combined.Done():
		t.Fatal("combined context ended before either parent")
	default:
	}

	secondaryCancel()
	select {
	case <-combined.Done():
	case <-time.After(time.Second):
		t.Fatal("combined context did not follow the secondary cancel")
	}
}

func TestCombineContextCancelsWithPrimary(t *testing.T) {
	primary, primaryCancel := context.WithCancel(context.Background())
	secondary, secondaryCancel := context.WithCancel(context.Background())
	defer secondaryCancel()

	combined, cancel := combineContext(primary, secondary)
	defer cancel()

	primaryCancel()
	select {
	case <-combined.Done():
	case <-time.After(time.Second):
		t.Fatal("combined context did not follow the primary cancel")
	}
}

func TestShutdownBeforeLaunchIsCheap(t *testing.T) {
	b := NewBackend(config.BrowserConfig{Headless: true}, zaptest.NewLogger(t))

	require.NoError(t, b.Shutdown(context.Background()))

	_, err := b.NewSession(context.Background(), schemas.DefaultFingerprint)
	require.ErrorIs(t, err, ErrBackendClosed)

	// Idempotent.
	require.NoError(t, b.Shutdown(context.Background()))
}

func TestSessionAccounting(t *testing.T) {
	b := NewBackend(config.BrowserConfig{}, zaptest.NewLogger(t))

	s := newDetachedSession(t)
	require.NoError(t, b.register(s))
	assert.Equal(t, 1, b.OpenSessions())

	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, 0, b.OpenSessions())

	// Closing again must not unbalance the accounting.
	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, 0, b.OpenSessions())

	// All sessions gone, no browser launched: shutdown returns immediately.
	require.NoError(t, b.Shutdown(context.Background()))
}

func TestRegisterAfterShutdownRefused(t *testing.T) {
	b := NewBackend(config.BrowserConfig{}, zaptest.NewLogger(t))
	require.NoError(t, b.Shutdown(context.Background()))

	s := newDetachedSession(t)
	require.ErrorIs(t, b.register(s), ErrBackendClosed)
}

func TestRollFingerprintPopulated(t *testing.T) {
	b := NewBackend(config.BrowserConfig{}, zaptest.NewLogger(t))
	fp := b.RollFingerprint()
	assert.NotEmpty(t, fp.UserAgent)
	assert.NotEmpty(t, fp.Timezone)
	assert.Greater(t, fp.Width, int64(0))
	assert.Greater(t, fp.Height, int64(0))
}

// newDetachedSession builds a session with no live browser behind it, for
// accounting tests that never touch CDP.
func newDetachedSession(t *testing.T) *Session {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &Session{
		id:     uuid.NewString(),
		logger: zaptest.NewLogger(t),
		ctx:    ctx,
		cancel: cancel,
		guard:  netguard.New(zaptest.NewLogger(t), nil),
	}
}
