// Package logging builds the shared zap logger for cognihub.
// Components receive a named child logger (store, tools, research, ...)
// instead of reaching for a global.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls logger construction.
type Config struct {
	// Debug enables development encoding and debug-level output.
	Debug bool `yaml:"debug"`

	// Level overrides the default level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// File, when set, appends JSON log lines to this path instead of stderr.
	File string `yaml:"file"`
}

// DefaultConfig returns production defaults: info level to stderr.
func DefaultConfig() Config {
	return Config{Level: "info"}
}

// New constructs a zap logger from cfg. An invalid level falls back to
// info rather than erroring at bootstrap.
func New(cfg Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Debug {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	if cfg.Level != "" {
		if lvl, err := zapcore.ParseLevel(cfg.Level); err == nil {
			zc.Level = zap.NewAtomicLevelAt(lvl)
		}
	}
	if cfg.File != "" {
		zc.OutputPaths = []string{cfg.File}
		zc.ErrorOutputPaths = []string{cfg.File}
	}

	return zc.Build()
}

// Nop returns a no-op logger for tests and optional dependencies.
func Nop() *zap.Logger {
	return zap.NewNop()
}
