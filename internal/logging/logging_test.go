package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/cmhcmh79/freecell-vs/internal/config"
)

func TestLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, Level("debug"))
	assert.Equal(t, zapcore.WarnLevel, Level("warn"))
	assert.Equal(t, zapcore.ErrorLevel, Level("error"))
	assert.Equal(t, zapcore.InfoLevel, Level("chatty"))
}

func TestConfig(t *testing.T) {
	prod := Config(config.LoggingConfig{Level: "warn", Format: "json"})
	assert.Equal(t, "json", prod.Encoding)
	assert.Equal(t, zapcore.WarnLevel, prod.Level.Level())

	dev := Config(config.LoggingConfig{Level: "debug", Format: "console"})
	assert.Equal(t, "console", dev.Encoding)
	assert.True(t, dev.Development)
}

func TestNewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "freecell.log")
	logger, err := NewFile(config.LoggingConfig{Level: "info", Format: "json"}, path)
	require.NoError(t, err)

	logger.Info("hello")
	logger.Debug("filtered")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.NotContains(t, string(data), "filtered")
}
