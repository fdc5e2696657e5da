package schemas

import (
	"context"
	"time"
)

// -- Browser Interfaces --

// BrowserBackend owns the lifecycle of browser sessions. The production
// implementation drives a headless Chrome; tests substitute a fake so the
// engine's session accounting can be asserted without a browser.
type BrowserBackend interface {
	// NewSession creates an isolated browser session configured with the
	// given fingerprint, with countermeasure scripts and tracker block rules
	// installed before any navigation can occur.
	NewSession(ctx context.Context, fp Fingerprint) (BrowserSession, error)
	// Shutdown tears down every session still open and the browser itself.
	Shutdown(ctx context.Context) error
}

// BrowserSession is one isolated browser context. Exactly one session is
// associated with one enrollment job; sessions are never pooled or shared.
// All blocking methods honor context cancellation.
type BrowserSession interface {
	// ID returns the session's unique identifier.
	ID() string
	// Navigate loads the URL and returns once the document is structurally
	// loaded (not full resource completion), bounded by the session's
	// navigation timeout.
	Navigate(ctx context.Context, url string) error
	// ClickText clicks the first visible element whose trimmed text equals
	// any of the given texts, tried in order. Returns the matched text.
	ClickText(ctx context.Context, texts []string) (string, error)
	// ClickFirst clicks the first visible, enabled element matching any of
	// the selectors, tried in order. Returns the selector that matched.
	ClickFirst(ctx context.Context, selectors []string) (string, error)
	// FindFirst returns the first selector from the list that resolves to a
	// visible, enabled element, without interacting with it.
	FindFirst(ctx context.Context, selectors []string) (string, error)
	// Fill types the value into the element. Implementations may synthesize
	// human-like keystroke timing.
	Fill(ctx context.Context, selector, value string) error
	// PressEnter sends a confirm keystroke to the element.
	PressEnter(ctx context.Context, selector string) error
	// UseFrame redirects all subsequent element operations to the child
	// frame whose URL contains the fragment.
	UseFrame(ctx context.Context, urlFragment string) error
	// WaitSettled waits for a page navigation or the settle delay, whichever
	// comes first. Tolerates both full-reload and single-page-app submits.
	WaitSettled(ctx context.Context, settle time.Duration) error
	// PageState captures the current URL, title and leading body text.
	PageState(ctx context.Context) (*PageState, error)
	// ElementText returns the trimmed text content of the element.
	ElementText(ctx context.Context, selector string) (string, error)
	// Screenshot captures the viewport as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
	// Close releases the session. Safe to call more than once.
	Close(ctx context.Context) error
}

// PageState is the post-submission snapshot the outcome classifier works on.
type PageState struct {
	URL   string
	Title string
	// BodyText is the leading portion of the visible body text, enough for
	// signal matching without hauling the whole document around.
	BodyText string
}

// -- Collaborator Contracts --

// IdentityGenerator produces synthetic people. Deterministic: the same seed
// always yields the same identity.
type IdentityGenerator interface {
	Generate(seed string) (Identity, error)
}

// AliasProvider manages disposable forwarding email addresses.
type AliasProvider interface {
	// Create provisions a new alias for the named context.
	Create(ctx context.Context, req AliasRequest) (AliasResult, error)
	// Delete burns the alias; mail to it stops forwarding immediately.
	Delete(ctx context.Context, id string) error
}

// CardProvider manages disposable virtual payment cards.
type CardProvider interface {
	// Create issues a new single-merchant card.
	Create(ctx context.Context, req CardRequest) (CardResult, error)
	// Freeze blocks all future authorizations on the card.
	Freeze(ctx context.Context, token string) error
}

// ContextStore persists envelopes keyed by context name.
type ContextStore interface {
	// Save inserts a new envelope. Fails if the name already exists.
	Save(ctx context.Context, env *Envelope) error
	// Update rewrites an existing envelope.
	Update(ctx context.Context, env *Envelope) error
	// Get fetches one envelope by name.
	Get(ctx context.Context, name string) (*Envelope, error)
	// List returns all envelopes, newest first.
	List(ctx context.Context) ([]Envelope, error)
	// Tombstone marks the envelope terminated without deleting the row.
	Tombstone(ctx context.Context, name string) error
}

// ArtifactSink stores run artifacts (screenshots) and returns a reference
// usable in progress events.
type ArtifactSink interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
}
