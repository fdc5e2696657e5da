// File: cmd/cmd_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/veilkit/pane/internal/config"
	"github.com/veilkit/pane/internal/observability"
	"github.com/veilkit/pane/internal/providers"
)

// executeCommand runs an isolated command tree and returns its combined
// output and the state it resolved.
func executeCommand(t *testing.T, args ...string) (string, *appState, error) {
	t.Helper()
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)

	rootCmd, state := newRootCmd()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), state, err
}

func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pane.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestVersionFlag(t *testing.T) {
	out, _, err := executeCommand(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "pane version 0.1.0")
}

func TestNoArgsShowsHelp(t *testing.T) {
	out, _, err := executeCommand(t)
	require.NoError(t, err)
	assert.Contains(t, out, "Pane enrolls disposable alias identities")
	assert.Contains(t, out, "enroll")
	assert.Contains(t, out, "serve")
}

func TestSeedCommandPrintsTable(t *testing.T) {
	out, _, err := executeCommand(t, "seed", "--count", "3")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4, "header plus three rows")
	assert.Contains(t, lines[0], "SEED")
	assert.Contains(t, lines[0], "ALIAS PREVIEW")

	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		require.GreaterOrEqual(t, len(fields), 2, "row: %q", line)
		seed, alias := fields[0], fields[1]
		assert.Regexp(t, `^[a-z]+-[a-z]+$`, seed)
		// The preview is exactly what the local provider will mint.
		assert.Equal(t, providers.LocalAliasEmail(seed, "relay.veilkit.dev"), alias)
		assert.Contains(t, line, "pane context new "+seed)
	}
}

func TestSeedExportWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seeds.txt")
	_, _, err := executeCommand(t, "seed", "-n", "2", "--export", path)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	seeds := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, seeds, 2)
	for _, seed := range seeds {
		assert.Regexp(t, `^[a-z]+-[a-z]+$`, seed)
	}
}

func TestEnrollRequiresTarget(t *testing.T) {
	_, _, err := executeCommand(t, "enroll")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestEnrollRejectsContextWithSeed(t *testing.T) {
	_, _, err := executeCommand(t, "enroll", "https://example.com/signup",
		"--context", "maple-circuit", "--seed", "cedar-lantern")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestEnrollWithContextNeedsStore(t *testing.T) {
	_, _, err := executeCommand(t, "enroll", "https://example.com/signup",
		"--context", "maple-circuit")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.url is not configured")
}

func TestContextCommandsNeedStore(t *testing.T) {
	for _, args := range [][]string{
		{"context", "list"},
		{"context", "show", "maple-circuit"},
		{"context", "new", "maple-circuit"},
		{"context", "tombstone", "maple-circuit"},
	} {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			_, _, err := executeCommand(t, args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "PANE_STORE_URL")
		})
	}
}

func TestConfigFileOverride(t *testing.T) {
	cfgPath := createTempConfig(t, `
server:
  listen: "0.0.0.0:9999"
providers:
  alias:
    domain: mask.example.net
`)

	out, state, err := executeCommand(t, "-c", cfgPath, "seed", "-n", "1")
	require.NoError(t, err)
	require.NotNil(t, state.cfg)
	assert.Equal(t, "0.0.0.0:9999", state.cfg.Server.Listen)
	assert.Contains(t, out, "@mask.example.net")
}

func TestLogLevelFlagOverridesConfig(t *testing.T) {
	_, state, err := executeCommand(t, "--log-level", "debug", "seed", "-n", "1")
	require.NoError(t, err)
	require.NotNil(t, state.cfg)
	assert.Equal(t, "debug", state.cfg.Logger.Level)
}

func TestInvalidConfigIsRejected(t *testing.T) {
	cfgPath := createTempConfig(t, `
logger:
  format: xml
`)

	_, _, err := executeCommand(t, "-c", cfgPath, "seed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logger.format")
}

func TestEphemeralContextBundle(t *testing.T) {
	cfg := config.NewDefaultConfig()

	ec, err := ephemeralContext(context.Background(), cfg, "maple-circuit", zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "maple-circuit", ec.Name)
	assert.Equal(t, "maple-circuit", ec.Identity.Seed)
	assert.NotEmpty(t, ec.Identity.FullName)
	assert.Equal(t, providers.LocalAliasEmail("maple-circuit", cfg.Providers.Alias.Domain), ec.Alias.Email)
	assert.Regexp(t, `^maple_circuit\d{2}$`, ec.Username)
	assert.Len(t, ec.Password, 18)
	assert.Empty(t, ec.Card.Token, "ephemeral bundles never spend a card")

	// Same seed, same identity; credentials are fresh each time.
	again, err := ephemeralContext(context.Background(), cfg, "maple-circuit", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, ec.Identity, again.Identity)
	assert.NotEqual(t, ec.Password, again.Password)
}
