// File: internal/browser/backend.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veilkit/pane/api/schemas"
	"github.com/veilkit/pane/internal/browser/fingerprint"
	"github.com/veilkit/pane/internal/browser/netguard"
	"github.com/veilkit/pane/internal/config"
	"github.com/veilkit/pane/internal/humanoid"
)

const (
	defaultLaunchTimeout = 60 * time.Second
	sessionSetupTimeout  = 30 * time.Second
	sessionCloseTimeout  = 10 * time.Second
)

var (
	// ErrBackendClosed is returned by NewSession after Shutdown has begun.
	ErrBackendClosed = errors.New("browser backend is shut down")
	// ErrNoMatch is the session contract sentinel for element lookups.
	ErrNoMatch = schemas.ErrNoMatch
	// ErrNoFrame is returned when no child frame matches the URL fragment.
	ErrNoFrame = errors.New("no matching frame found")
)

// Backend drives one headless Chrome process and hands out isolated
// sessions backed by separate browser contexts (cookies, storage and cache
// are never shared between sessions). The process launches lazily on the
// first NewSession call so commands that never touch a browser stay cheap.
type Backend struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	initOnce sync.Once
	initErr  error

	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	controlCtx      context.Context
	controlCancel   context.CancelFunc

	// creationMu serializes browser context and target creation; CDP
	// attachment misbehaves when creations interleave.
	creationMu sync.Mutex

	mu       sync.Mutex
	closed   bool
	sessions map[string]*Session
	wg       sync.WaitGroup

	// newFingerprint lets tests pin the rolled environment.
	randomizer *fingerprint.Randomizer
}

var _ schemas.BrowserBackend = (*Backend)(nil)

// NewBackend wires a backend over the given configuration. The Chrome
// process is not launched until the first session is requested.
func NewBackend(cfg config.BrowserConfig, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		logger:     logger.Named("browser"),
		cfg:        cfg,
		sessions:   make(map[string]*Session),
		randomizer: fingerprint.NewRandomizer(rand.New(rand.NewSource(time.Now().UnixNano()))),
	}
}

// RollFingerprint draws a fresh synthetic environment for one session.
func (b *Backend) RollFingerprint() schemas.Fingerprint {
	return b.randomizer.Roll()
}

// initialize launches Chrome once and verifies it answers. Safe for
// concurrent callers; losers of the race inherit the winner's error.
func (b *Backend) initialize() error {
	b.initOnce.Do(func() {
		opts := buildAllocatorOptions(b.cfg)
		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

		var ctxOpts []chromedp.ContextOption
		if b.cfg.Debug {
			ctxOpts = append(ctxOpts, chromedp.WithDebugf(b.logger.Sugar().Debugf))
		}
		controlCtx, controlCancel := chromedp.NewContext(allocCtx, ctxOpts...)

		launchTimeout := b.cfg.LaunchTimeout
		if launchTimeout <= 0 {
			launchTimeout = defaultLaunchTimeout
		}

		// A navigation on the controller forces the actual process launch;
		// anything wrong with the binary or flags surfaces here rather than
		// in the middle of a run.
		testCtx, cancel := context.WithTimeout(controlCtx, launchTimeout)
		defer cancel()
		if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
			controlCancel()
			allocCancel()
			b.initErr = fmt.Errorf("browser launch failed: %w", err)
			return
		}

		b.allocatorCtx, b.allocatorCancel = allocCtx, allocCancel
		b.controlCtx, b.controlCancel = controlCtx, controlCancel
		b.logger.Info("Browser launched",
			zap.Bool("headless", b.cfg.Headless),
			zap.String("execPath", b.cfg.ExecPath),
		)
	})
	return b.initErr
}

// buildAllocatorOptions assembles the Chrome launch flags. Starts from the
// chromedp defaults, then overrides the flags that advertise automation and
// layers configuration and user-supplied arguments on top. Later options
// win, so the overrides replace the default values.
func buildAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := make([]chromedp.ExecAllocatorOption, 0, len(chromedp.DefaultExecAllocatorOptions)+12)
	opts = append(opts, chromedp.DefaultExecAllocatorOptions[:]...)

	opts = append(opts,
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		// Keep site isolation enabled: embedded third-party frames must
		// surface as their own targets for frame-scoped filling.
		chromedp.Flag("disable-features", "Translate,BlinkGenPropertyTrees"),
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", cfg.Headless),
	)

	if cfg.DisableCache {
		opts = append(opts, chromedp.Flag("disk-cache-size", "0"))
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	if runtime.GOOS == "linux" {
		// Container runtimes routinely lack the sandbox helpers and ship a
		// tiny /dev/shm; Chrome crashes without these.
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-setuid-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
	}

	for _, arg := range cfg.Args {
		name := strings.TrimPrefix(arg, "--")
		if key, value, ok := strings.Cut(name, "="); ok {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}
	return opts
}

// NewSession creates one isolated browser session. The session rides in its
// own CDP browser context, gets the fingerprint and tracker rules installed
// before any navigation, and is torn down independently of its siblings.
func (b *Backend) NewSession(ctx context.Context, fp schemas.Fingerprint) (schemas.BrowserSession, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBackendClosed
	}
	b.mu.Unlock()

	if err := b.initialize(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bctxID, targetID, err := b.createIsolatedTarget(ctx)
	if err != nil {
		return nil, err
	}

	sessionCtx, sessionCancel := chromedp.NewContext(b.controlCtx, chromedp.WithTargetID(targetID))

	id := uuid.NewString()
	logger := b.logger.Named("session").With(zap.String("sessionID", id[:8]))

	s := &Session{
		id:           id,
		logger:       logger,
		ctx:          sessionCtx,
		cancel:       sessionCancel,
		browserCtxID: bctxID,
		controlCtx:   b.controlCtx,
		navTimeout:   defaultNavigationTimeout,
		guard:        netguard.New(logger, nil),
	}
	if b.cfg.Humanoid.Enabled {
		s.human = humanoid.New(humanoidConfig(b.cfg.Humanoid), logger, &cdpExecutor{s: s})
	}

	if err := s.install(ctx, fp); err != nil {
		s.discard()
		return nil, err
	}

	if err := b.register(s); err != nil {
		s.discard()
		return nil, err
	}

	logger.Debug("Session opened",
		zap.String("browserContext", string(bctxID)),
		zap.String("userAgent", fp.UserAgent),
	)
	return s, nil
}

// createIsolatedTarget allocates a fresh browser context plus an about:blank
// page inside it, both on the controller connection.
func (b *Backend) createIsolatedTarget(ctx context.Context) (cdp.BrowserContextID, target.ID, error) {
	b.creationMu.Lock()
	defer b.creationMu.Unlock()

	createCtx, cancel := context.WithTimeout(b.controlCtx, sessionSetupTimeout)
	defer cancel()

	var bctxID cdp.BrowserContextID
	var targetID target.ID
	err := chromedp.Run(createCtx, chromedp.ActionFunc(func(cctx context.Context) error {
		id, err := target.CreateBrowserContext().Do(cctx)
		if err != nil {
			return fmt.Errorf("create browser context: %w", err)
		}
		bctxID = id

		tid, err := target.CreateTarget("about:blank").WithBrowserContextID(id).Do(cctx)
		if err != nil {
			// Don't leak the context we just made.
			_ = target.DisposeBrowserContext(id).Do(cctx)
			return fmt.Errorf("create target: %w", err)
		}
		targetID = tid
		return nil
	}))
	if err != nil {
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		return "", "", err
	}
	return bctxID, targetID, nil
}

// register adds the session to the accounting table. Fails when Shutdown
// won the race so the caller can tear the session straight back down.
func (b *Backend) register(s *Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBackendClosed
	}
	b.sessions[s.id] = s
	b.wg.Add(1)
	s.onClose = func() { b.unregister(s.id) }
	return nil
}

func (b *Backend) unregister(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sessions[id]; !ok {
		return
	}
	delete(b.sessions, id)
	b.wg.Done()
}

// OpenSessions reports how many sessions are currently registered.
func (b *Backend) OpenSessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// Shutdown closes every open session concurrently, waits for them bounded
// by ctx, then tears down the Chrome process. Idempotent.
func (b *Backend) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	open := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		open = append(open, s)
	}
	b.mu.Unlock()

	if b.allocatorCtx == nil {
		// Chrome never launched; nothing to tear down.
		return nil
	}

	b.logger.Info("Shutting down browser", zap.Int("openSessions", len(open)))

	for _, s := range open {
		go func(s *Session) {
			if err := s.Close(ctx); err != nil {
				b.logger.Debug("Session close during shutdown failed", zap.Error(err))
			}
		}(s)
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("Shutdown interrupted waiting for sessions", zap.Error(ctx.Err()))
	}

	b.controlCancel()
	b.allocatorCancel()

	select {
	case <-b.allocatorCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	b.logger.Info("Browser stopped")
	return nil
}

// humanoidConfig overlays the user's knobs on the model defaults. Zero
// values mean "keep the default", matching the config contract.
func humanoidConfig(hc config.HumanoidConfig) humanoid.Config {
	cfg := humanoid.DefaultConfig()
	cfg.Enabled = hc.Enabled
	if hc.TypoRate > 0 {
		cfg.TypoRate = hc.TypoRate
	}
	if hc.KeyPauseMeanMs > 0 {
		cfg.KeyPauseMeanMs = hc.KeyPauseMeanMs
	}
	if hc.KeyPauseStdDevMs > 0 {
		cfg.KeyPauseStdDevMs = hc.KeyPauseStdDevMs
	}
	if hc.KeyPauseMinMs > 0 {
		cfg.KeyPauseMinMs = hc.KeyPauseMinMs
	}
	if hc.ClickHoldMinMs > 0 {
		cfg.ClickHoldMinMs = hc.ClickHoldMinMs
	}
	if hc.ClickHoldMaxMs > 0 {
		cfg.ClickHoldMaxMs = hc.ClickHoldMaxMs
	}
	return cfg
}

// combineContext derives a context from primary that is additionally
// canceled when secondary ends. chromedp session values ride the primary
// chain; deriving from the caller's context directly would lose them.
func combineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(primary)
	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
