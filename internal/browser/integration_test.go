// File: internal/browser/integration_test.go

// Integration tests that drive a real Chrome. Gated behind PANE_INTEGRATION
// since CI boxes do not always carry a browser; the unit tests next door
// cover the session contract with a faked executor.
package browser_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/veilkit/pane/api/schemas"
	"github.com/veilkit/pane/internal/browser"
	"github.com/veilkit/pane/internal/config"
)

func newIntegrationBackend(t *testing.T) *browser.Backend {
	t.Helper()
	if os.Getenv("PANE_INTEGRATION") == "" {
		t.Skip("set PANE_INTEGRATION=1 and install Chrome to run browser integration tests")
	}

	cfg := config.BrowserConfig{
		Headless:      true,
		DisableCache:  true,
		LaunchTimeout: 2 * time.Minute,
	}
	b := browser.NewBackend(cfg, zaptest.NewLogger(t))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := b.Shutdown(ctx); err != nil {
			t.Logf("backend shutdown: %v", err)
		}
	})
	return b
}

func newIntegrationSession(t *testing.T, b *browser.Backend) schemas.BrowserSession {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	t.Cleanup(cancel)

	session, err := b.NewSession(ctx, b.RollFingerprint())
	require.NoError(t, err, "session setup needs a working Chrome install")
	t.Cleanup(func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		_ = session.Close(closeCtx)
	})
	return session
}

func serveFixture(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

const signupFixture = `<!DOCTYPE html>
<html>
<head><title>Fixture Signup</title></head>
<body>
  <div id="cmp"><button type="button" onclick="document.getElementById('cmp').remove()">Accept all</button></div>
  <form action="/done" method="post">
    <input type="email" name="email" placeholder="Email">
    <input type="password" name="password" placeholder="Password">
    <button type="submit">Create account</button>
  </form>
</body>
</html>`

const doneFixture = `<!DOCTYPE html>
<html>
<head><title>Done</title></head>
<body><h1>Registration complete</h1><p>Check your email to confirm.</p></body>
</html>`

func TestIntegrationSignupWalk(t *testing.T) {
	backend := newIntegrationBackend(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, signupFixture)
	})
	mux.HandleFunc("/done", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, doneFixture)
	})
	srv := serveFixture(t, mux)

	session := newIntegrationSession(t, backend)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	require.NoError(t, session.Navigate(ctx, srv.URL))

	matched, err := session.ClickText(ctx, []string{"Reject all", "Accept all"})
	require.NoError(t, err)
	assert.Equal(t, "Accept all", matched)

	emailSel, err := session.FindFirst(ctx, []string{`input[type='email']`})
	require.NoError(t, err)
	require.NoError(t, session.Fill(ctx, emailSel, "maple-circuit-9f1@relay.veilkit.dev"))
	require.NoError(t, session.Fill(ctx, `input[type='password']`, "Vx7#pq2$Lm9@rT4w!n"))

	_, err = session.ClickFirst(ctx, []string{`button[type='submit']`})
	require.NoError(t, err)
	require.NoError(t, session.WaitSettled(ctx, 3*time.Second))

	state, err := session.PageState(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Done", state.Title)
	assert.Contains(t, state.BodyText, "Registration complete")
	assert.Contains(t, state.URL, "/done")

	heading, err := session.ElementText(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, "Registration complete", heading)

	shot, err := session.Screenshot(ctx)
	require.NoError(t, err)
	assert.True(t, len(shot) > 8 && string(shot[1:4]) == "PNG", "screenshot is a PNG")
}

func TestIntegrationSessionIsolation(t *testing.T) {
	backend := newIntegrationBackend(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/tag", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "fixture", Value: "tagged"})
		fmt.Fprint(w, `<html><body>tagged</body></html>`)
	})
	mux.HandleFunc("/jar", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div id="jar"></div>`+
			`<script>document.getElementById('jar').textContent = document.cookie || 'empty';</script>`+
			`</body></html>`)
	})
	srv := serveFixture(t, mux)

	first := newIntegrationSession(t, backend)
	second := newIntegrationSession(t, backend)
	assert.Equal(t, 2, backend.OpenSessions())

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	require.NoError(t, first.Navigate(ctx, srv.URL+"/tag"))
	require.NoError(t, first.Navigate(ctx, srv.URL+"/jar"))
	jar, err := first.ElementText(ctx, "#jar")
	require.NoError(t, err)
	assert.Contains(t, jar, "fixture=tagged")

	// The sibling session rides its own browser context and must not see
	// the first session's cookie jar.
	require.NoError(t, second.Navigate(ctx, srv.URL+"/jar"))
	jar, err = second.ElementText(ctx, "#jar")
	require.NoError(t, err)
	assert.Equal(t, "empty", jar)
}
