// Package netguard blocks requests to known tracker domains for the
// lifetime of a browser session. Rules attach before the first navigation
// so not even the initial page load can reach a tracker.
package netguard

import (
	"context"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// defaultBlocklist names tracker and ad-tech hosts by registrable domain.
// Matching is suffix-based, so "doubleclick.net" also covers
// "stats.g.doubleclick.net". Fixed at build time and never mutated.
var defaultBlocklist = []string{
	"google-analytics.com",
	"googletagmanager.com",
	"googlesyndication.com",
	"adservice.google.com",
	"doubleclick.net",
	"connect.facebook.net",
	"graph.facebook.com",
	"hotjar.com",
	"segment.com",
	"segment.io",
	"mixpanel.com",
	"amplitude.com",
	"fullstory.com",
	"clarity.ms",
	"adnxs.com",
	"scorecardresearch.com",
	"quantserve.com",
	"criteo.com",
	"branch.io",
	"braze.com",
	"optimizely.com",
	"mouseflow.com",
	"crazyegg.com",
	"heapanalytics.com",
}

// Guard is one session's request filter. Each session gets its own Guard so
// per-session block counts stay meaningful.
type Guard struct {
	logger    *zap.Logger
	blocklist []string
	blocked   atomic.Int64
}

// New builds a Guard over the given blocklist; nil selects the built-in
// default table. Tests substitute their own list.
func New(logger *zap.Logger, blocklist []string) *Guard {
	if blocklist == nil {
		blocklist = defaultBlocklist
	}
	return &Guard{
		logger:    logger.Named("netguard"),
		blocklist: blocklist,
	}
}

// Attach registers the interception listener on the session context and
// enables the fetch domain. Must be called before the first navigation;
// once attached the rules hold until the session closes.
func (g *Guard) Attach(ctx context.Context) error {
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		if e, ok := ev.(*fetch.EventRequestPaused); ok {
			// The verdict runs on its own goroutine: ListenTarget handlers
			// must not block, and Fail/Continue are round trips to Chrome.
			go g.resolve(ctx, e)
		}
	})

	if err := chromedp.Run(ctx, fetch.Enable()); err != nil {
		return err
	}

	g.logger.Debug("Request interception active",
		zap.Int("blocklistEntries", len(g.blocklist)))
	return nil
}

// resolve fails or continues one paused request.
func (g *Guard) resolve(ctx context.Context, e *fetch.EventRequestPaused) {
	c := chromedp.FromContext(ctx)
	if c == nil {
		return
	}
	execCtx := cdp.WithExecutor(ctx, c.Target)

	if g.Blocked(e.Request.URL) {
		g.blocked.Add(1)
		g.logger.Debug("Blocked tracker request", zap.String("url", e.Request.URL))
		if err := fetch.FailRequest(e.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx); err != nil {
			g.logger.Debug("Failed to block request", zap.Error(err))
		}
		return
	}

	if err := fetch.ContinueRequest(e.RequestID).Do(execCtx); err != nil {
		// Races with page teardown are routine here; nothing to do about them.
		g.logger.Debug("Failed to continue request", zap.Error(err))
	}
}

// Blocked reports whether the URL's host falls under a blocklisted domain.
func (g *Guard) Blocked(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	for _, domain := range g.blocklist {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// BlockedCount returns how many requests this session has rejected.
func (g *Guard) BlockedCount() int64 {
	return g.blocked.Load()
}
