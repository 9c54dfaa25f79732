// Package logging builds the zap loggers used across the service.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a production JSON logger at the given level ("debug", "info",
// "warn", "error"). An empty level means info.
func New(level string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Sampling = nil
	return cfg.Build(zap.AddCaller())
}

// NewDevelopment creates a human-readable console logger for CLI use.
func NewDevelopment() *zap.Logger {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// JobSink returns a logger that additionally forwards each message line to
// appendLine, so a job's streamed log mirrors what the service logs.
func JobSink(base *zap.Logger, appendLine func(string)) *zap.Logger {
	return base.WithOptions(zap.Hooks(func(e zapcore.Entry) error {
		appendLine(e.Message)
		return nil
	}))
}
