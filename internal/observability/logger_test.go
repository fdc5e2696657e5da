// File: internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/veilkit/pane/internal/config"
)

// initForTest resets the global state and initializes against an in-memory
// buffer so assertions can read the console output directly.
func initForTest(t *testing.T, cfg config.LoggerConfig) *bytes.Buffer {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)

	buf := &bytes.Buffer{}
	Initialize(cfg, zapcore.AddSync(buf))
	return buf
}

func TestInitializeConsoleOutput(t *testing.T) {
	buf := initForTest(t, config.LoggerConfig{Level: "debug", Format: "console"})

	GetLogger().Info("Hello.", zap.String("target", "example.com"))

	out := buf.String()
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "pane.")
	assert.Contains(t, out, "Hello.")
	assert.Contains(t, out, "example.com")
	assert.NotContains(t, out, colorReset, "colors stay off unless asked for")
}

func TestInitializeColors(t *testing.T) {
	buf := initForTest(t, config.LoggerConfig{Level: "info", Format: "console", Colors: true})

	GetLogger().Info("Tinted.")

	assert.Contains(t, buf.String(), colorGreen+"INFO"+colorReset)
}

func TestInitializeJSONOutput(t *testing.T) {
	buf := initForTest(t, config.LoggerConfig{Level: "info", Format: "json", ServiceName: "pane-test"})

	GetLogger().Info("Structured.", zap.Int("count", 3))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "Structured.", entry["msg"])
	assert.Equal(t, "pane-test", entry["logger"])
	assert.EqualValues(t, 3, entry["count"])
}

func TestInitializeRunsOnce(t *testing.T) {
	first := initForTest(t, config.LoggerConfig{Level: "info", Format: "console"})

	second := &bytes.Buffer{}
	Initialize(config.LoggerConfig{Level: "debug", Format: "json"}, zapcore.AddSync(second))

	GetLogger().Info("Routed.")
	assert.Contains(t, first.String(), "Routed.")
	assert.Zero(t, second.Len(), "a second Initialize must not rewire output")
}

func TestLevelFiltering(t *testing.T) {
	buf := initForTest(t, config.LoggerConfig{Level: "warn", Format: "console"})

	logger := GetLogger()
	logger.Debug("quiet")
	logger.Info("quiet")
	logger.Warn("Loud.")

	out := buf.String()
	assert.NotContains(t, out, "quiet")
	assert.Contains(t, out, "Loud.")
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	buf := initForTest(t, config.LoggerConfig{Level: "shouting", Format: "console"})

	logger := GetLogger()
	logger.Debug("hidden")
	logger.Info("Visible.")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "Visible.")
}

func TestFileCoreWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pane.log")
	initForTest(t, config.LoggerConfig{Level: "info", Format: "console", LogFile: path})

	GetLogger().Info("Persisted.", zap.String("context", "maple-circuit"))
	Sync()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(raw), &entry))
	assert.Equal(t, "Persisted.", entry["msg"])
	assert.Equal(t, "maple-circuit", entry["context"])
	assert.False(t, strings.Contains(string(raw), colorReset), "file core never carries ANSI codes")
}

func TestGetLoggerBeforeInitialize(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logger := GetLogger()
	require.NotNil(t, logger)
	logger.Info("no-op, must not panic")
}

func TestSetLoggerReplacesGlobal(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	injected := zap.NewNop()
	SetLogger(injected)
	assert.Same(t, injected, GetLogger())
}

func TestSyncWithoutLogger(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	Sync()
}
