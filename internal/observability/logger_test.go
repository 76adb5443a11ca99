package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kestrelqa/selfheal/internal/config"
)

func TestInitializeJSONLogger(t *testing.T) {
	ResetForTest()
	var buf bytes.Buffer

	Initialize(config.LoggerConfig{
		Level:       "info",
		Format:      "json",
		ServiceName: "selfheal-test",
	}, zapcore.AddSync(&buf))

	GetLogger().Warn("broadcast buffer filling up", zap.String("channel", "validation:tc-1"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "log output should be valid JSON")
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "selfheal-test", entry["logger"])
	assert.Equal(t, "broadcast buffer filling up", entry["msg"])
	assert.Equal(t, "validation:tc-1", entry["channel"])
}

func TestInitializeConsoleLogger(t *testing.T) {
	ResetForTest()
	var buf bytes.Buffer

	Initialize(config.LoggerConfig{
		Level:       "debug",
		Format:      "console",
		ServiceName: "selfheal",
	}, zapcore.AddSync(&buf))

	GetLogger().Named("healing").Info("Healing session created")

	output := buf.String()
	assert.Contains(t, output, "INFO")
	assert.Contains(t, output, "Healing session created")
	assert.Contains(t, output, "selfheal.healing.")
}

func TestInitializeTeesToLogFile(t *testing.T) {
	ResetForTest()
	logFile := filepath.Join(t.TempDir(), "selfheal.log")

	Initialize(config.LoggerConfig{
		Level:       "debug",
		Format:      "console",
		ServiceName: "selfheal",
		LogFile:     logFile,
		MaxSize:     1,
	}, zapcore.AddSync(&bytes.Buffer{}))

	GetLogger().Error("session store unavailable")
	Sync()

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "session store unavailable")
}

func TestInitializeIsOneShot(t *testing.T) {
	ResetForTest()
	var first, second bytes.Buffer

	Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "first"}, zapcore.AddSync(&first))
	Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "second"}, zapcore.AddSync(&second))

	GetLogger().Info("who owns this line")
	assert.Contains(t, first.String(), `"first"`)
	assert.Empty(t, second.String(), "the second initialization must be ignored")
}

func TestGetLoggerFallback(t *testing.T) {
	ResetForTest()
	logger := GetLogger()
	require.NotNil(t, logger, "uninitialized logger access must still be safe")
}
