// Package logging builds the zap logger from configuration.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cmhcmh79/freecell-vs/internal/config"
)

// Level maps a configured level name to zap. Unknown names fall back to
// info.
func Level(name string) zapcore.Level {
	switch name {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Config returns the zap configuration for cfg: production JSON for
// "json", a colored development console otherwise.
func Config(cfg config.LoggingConfig) zap.Config {
	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zapCfg.Level = zap.NewAtomicLevelAt(Level(cfg.Level))
	return zapCfg
}

// New builds the logger.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	return Config(cfg).Build()
}

// NewFile builds a logger that writes to path instead of stderr. The
// terminal client uses it so log lines do not tear the board.
func NewFile(cfg config.LoggingConfig, path string) (*zap.Logger, error) {
	zapCfg := Config(cfg)
	zapCfg.OutputPaths = []string{path}
	zapCfg.ErrorOutputPaths = []string{path}
	if cfg.Format != "json" {
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	return zapCfg.Build()
}
