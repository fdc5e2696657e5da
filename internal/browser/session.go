// File: internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/veilkit/pane/api/schemas"
	"github.com/veilkit/pane/internal/browser/fingerprint"
	"github.com/veilkit/pane/internal/browser/netguard"
	"github.com/veilkit/pane/internal/humanoid"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultSettleDelay       = 3 * time.Second
	settleReadyTimeout       = 5 * time.Second
	frameLocateTimeout       = 15 * time.Second
	framePollInterval        = 250 * time.Millisecond
)

// Session is one isolated browser context plus the page target living in
// it. Element operations go through the top-level page until UseFrame
// redirects them to a child frame; page-level operations (navigation,
// screenshots, state capture) always address the top-level page.
type Session struct {
	id     string
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	browserCtxID cdp.BrowserContextID
	controlCtx   context.Context

	guard *netguard.Guard
	human *humanoid.Humanoid

	navTimeout time.Duration

	mu          sync.Mutex
	frameCtx    context.Context
	frameCancel context.CancelFunc

	closeOnce sync.Once
	onClose   func()
}

var _ schemas.BrowserSession = (*Session)(nil)

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// install arms the session before its first navigation: tracker blocking
// first, then the fingerprint overrides and countermeasure script. The
// target sits on about:blank, so nothing observable happens until Navigate.
func (s *Session) install(ctx context.Context, fp schemas.Fingerprint) error {
	setupCtx, cancel := combineContext(s.ctx, ctx)
	defer cancel()
	setupCtx, timeoutCancel := context.WithTimeout(setupCtx, sessionSetupTimeout)
	defer timeoutCancel()

	if err := s.guard.Attach(s.ctx); err != nil {
		return fmt.Errorf("attach request filter: %w", err)
	}
	if err := chromedp.Run(setupCtx, fingerprint.Apply(fp, s.logger)); err != nil {
		return fmt.Errorf("apply fingerprint: %w", err)
	}
	return nil
}

// discard tears down a half-built session that never registered.
func (s *Session) discard() {
	s.cancel()
	s.disposeBrowserContext()
}

// opCtx returns the context element operations run against: the active
// frame when one is selected, otherwise the top-level page.
func (s *Session) opCtx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frameCtx != nil {
		return s.frameCtx
	}
	return s.ctx
}

// run executes actions against the active frame, bounded by the caller's
// context.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(s.opCtx(), ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// runPage executes actions against the top-level page regardless of any
// selected frame.
func (s *Session) runPage(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads the URL and waits for the document to be structurally
// ready. Resource completion is deliberately not awaited; signup pages
// routinely hold connections open for analytics that netguard kills anyway.
func (s *Session) Navigate(ctx context.Context, rawURL string) error {
	runCtx, cancel := combineContext(s.ctx, ctx)
	defer cancel()
	navCtx, navCancel := context.WithTimeout(runCtx, s.navTimeout)
	defer navCancel()

	s.logger.Debug("Navigating", zap.String("url", rawURL))

	err := chromedp.Run(navCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err == nil {
		// A navigation tears down any frame selected on the old document.
		s.clearFrame()
		return nil
	}

	switch {
	case navCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
		return fmt.Errorf("navigation timed out after %s: %w", s.navTimeout, err)
	case ctx.Err() == context.DeadlineExceeded:
		return fmt.Errorf("navigation timed out: %w", ctx.Err())
	case ctx.Err() != nil:
		return fmt.Errorf("navigation canceled: %w", ctx.Err())
	default:
		return fmt.Errorf("navigate %s: %w", rawURL, err)
	}
}

// ClickText clicks the first visible element whose trimmed text equals any
// of the given texts, tried in order. The click happens inside the page so
// text matching and actioning stay one atomic step.
func (s *Session) ClickText(ctx context.Context, texts []string) (string, error) {
	if len(texts) == 0 {
		return "", ErrNoMatch
	}
	var matched string
	script := fmt.Sprintf(clickTextJS, jsonEncode(texts))
	if err := s.run(ctx, evaluate(script, &matched)); err != nil {
		return "", fmt.Errorf("click by text: %w", err)
	}
	if matched == "" {
		return "", ErrNoMatch
	}
	s.logger.Debug("Clicked element by text", zap.String("text", matched))
	return matched, nil
}

// ClickFirst clicks the first visible, enabled element matching any of the
// selectors, tried in order. Returns the selector that matched.
func (s *Session) ClickFirst(ctx context.Context, selectors []string) (string, error) {
	selector, err := s.FindFirst(ctx, selectors)
	if err != nil {
		return "", err
	}
	if err := s.click(ctx, selector); err != nil {
		return "", err
	}
	return selector, nil
}

// FindFirst returns the first selector that resolves to a visible, enabled
// element, without interacting with it.
func (s *Session) FindFirst(ctx context.Context, selectors []string) (string, error) {
	for _, selector := range selectors {
		ok, err := s.probe(ctx, selector)
		if err != nil {
			return "", err
		}
		if ok {
			return selector, nil
		}
	}
	return "", ErrNoMatch
}

// probe reports whether the selector resolves to an actionable element.
func (s *Session) probe(ctx context.Context, selector string) (bool, error) {
	var ok bool
	script := fmt.Sprintf(actionableJS, jsonEncode(selector))
	if err := s.run(ctx, evaluate(script, &ok)); err != nil {
		return false, fmt.Errorf("probe %s: %w", selector, err)
	}
	return ok, nil
}

// click actions one element, through the input model when available.
func (s *Session) click(ctx context.Context, selector string) error {
	if s.human != nil {
		if err := s.human.Click(ctx, selector); err != nil {
			return fmt.Errorf("click %s: %w", selector, err)
		}
		return nil
	}
	err := s.run(ctx, chromedp.Tasks{
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	})
	if err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

// Fill types the value into the element. With the humanoid enabled the
// keystrokes carry realistic timing and slips; otherwise the value lands
// in one burst.
func (s *Session) Fill(ctx context.Context, selector, value string) error {
	err := s.run(ctx, chromedp.Tasks{
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Focus(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
	})
	if err != nil {
		return fmt.Errorf("prepare field %s: %w", selector, err)
	}

	if s.human != nil {
		if err := s.human.Type(ctx, selector, value); err != nil {
			return fmt.Errorf("type into %s: %w", selector, err)
		}
		return nil
	}
	if err := s.run(ctx, chromedp.SendKeys(selector, value, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("fill %s: %w", selector, err)
	}
	return nil
}

// PressEnter sends a confirm keystroke to the element.
func (s *Session) PressEnter(ctx context.Context, selector string) error {
	if err := s.run(ctx, chromedp.SendKeys(selector, kb.Enter, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("press enter on %s: %w", selector, err)
	}
	return nil
}

// UseFrame redirects subsequent element operations to the child frame whose
// URL contains the fragment. Embedded provider frames are cross-origin and
// therefore run as their own targets; the frame may still be loading when
// this is called, so discovery polls until the deadline.
func (s *Session) UseFrame(ctx context.Context, urlFragment string) error {
	if urlFragment == "" {
		return fmt.Errorf("%w: empty url fragment", ErrNoFrame)
	}

	waitCtx, cancel := combineContext(s.ctx, ctx)
	defer cancel()
	waitCtx, timeoutCancel := context.WithTimeout(waitCtx, frameLocateTimeout)
	defer timeoutCancel()

	ticker := time.NewTicker(framePollInterval)
	defer ticker.Stop()

	for {
		infos, err := chromedp.Targets(s.ctx)
		if err != nil {
			return fmt.Errorf("list frame targets: %w", err)
		}
		if info := matchFrameTarget(infos, s.browserCtxID, urlFragment); info != nil {
			frameCtx, frameCancel := chromedp.NewContext(s.ctx, chromedp.WithTargetID(info.TargetID))

			s.mu.Lock()
			if s.frameCancel != nil {
				s.frameCancel()
			}
			s.frameCtx, s.frameCancel = frameCtx, frameCancel
			s.mu.Unlock()

			s.logger.Debug("Switched to frame",
				zap.String("fragment", urlFragment),
				zap.String("frameURL", info.URL),
			)
			return nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: no frame URL contains %q", ErrNoFrame, urlFragment)
		case <-ticker.C:
		}
	}
}

// matchFrameTarget picks the first iframe target in the session's browser
// context whose URL contains the fragment. Matching is case-insensitive;
// frame URLs carry provider-cased path segments.
func matchFrameTarget(infos []*target.Info, bctxID cdp.BrowserContextID, fragment string) *target.Info {
	needle := strings.ToLower(fragment)
	for _, info := range infos {
		if info.Type != "iframe" {
			continue
		}
		if info.BrowserContextID != bctxID {
			continue
		}
		if strings.Contains(strings.ToLower(info.URL), needle) {
			return info
		}
	}
	return nil
}

// clearFrame drops the frame selection, returning element operations to the
// top-level page.
func (s *Session) clearFrame() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frameCancel != nil {
		s.frameCancel()
	}
	s.frameCtx, s.frameCancel = nil, nil
}

// WaitSettled waits for a page navigation or the settle delay, whichever
// comes first. Full-reload submits trip the navigation listener; single
// page apps that rewrite in place simply run out the delay.
func (s *Session) WaitSettled(ctx context.Context, settle time.Duration) error {
	if settle <= 0 {
		settle = defaultSettleDelay
	}

	waitCtx, cancel := combineContext(s.ctx, ctx)
	defer cancel()

	navigated := make(chan struct{}, 1)
	chromedp.ListenTarget(waitCtx, func(ev interface{}) {
		switch ev.(type) {
		case *page.EventFrameNavigated, *page.EventNavigatedWithinDocument:
			select {
			case navigated <- struct{}{}:
			default:
			}
		}
	})

	timer := time.NewTimer(settle)
	defer timer.Stop()

	select {
	case <-navigated:
		s.clearFrame()
		// Give the new document a moment to produce a body; the outcome
		// snapshot is useless on a half-parsed page.
		readyCtx, readyCancel := context.WithTimeout(waitCtx, settleReadyTimeout)
		defer readyCancel()
		_ = chromedp.Run(readyCtx, chromedp.WaitReady("body", chromedp.ByQuery))
		return nil
	case <-timer.C:
		return nil
	case <-waitCtx.Done():
		return waitCtx.Err()
	}
}

// PageState captures the top-level URL, title and leading body text.
func (s *Session) PageState(ctx context.Context) (*schemas.PageState, error) {
	var state schemas.PageState
	err := s.runPage(ctx,
		chromedp.Location(&state.URL),
		chromedp.Title(&state.Title),
		evaluate(bodyTextJS, &state.BodyText),
	)
	if err != nil {
		return nil, fmt.Errorf("capture page state: %w", err)
	}
	return &state, nil
}

// ElementText returns the trimmed text content of the element.
func (s *Session) ElementText(ctx context.Context, selector string) (string, error) {
	var out string
	if err := s.run(ctx, chromedp.Text(selector, &out, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read text of %s: %w", selector, err)
	}
	return strings.TrimSpace(out), nil
}

// Screenshot captures the top-level viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.runPage(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

// Close releases the session: the page target dies with its context cancel
// and the browser context is disposed so cookies and storage go with it.
// Safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.logger.Debug("Closing session", zap.Int64("blockedRequests", s.guard.BlockedCount()))

		s.clearFrame()
		s.cancel()
		s.disposeBrowserContext()

		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}

// disposeBrowserContext drops the isolated context on the controller
// connection; the session's own connection is already gone by the time
// this runs. Disposal races with browser shutdown are routine and only
// logged.
func (s *Session) disposeBrowserContext() {
	if s.browserCtxID == "" {
		return
	}
	disposeCtx, cancel := context.WithTimeout(s.controlCtx, sessionCloseTimeout)
	defer cancel()
	if err := chromedp.Run(disposeCtx, target.DisposeBrowserContext(s.browserCtxID)); err != nil {
		s.logger.Debug("Browser context disposal failed", zap.Error(err))
	}
}
