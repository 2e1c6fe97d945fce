// Package logger wraps zap construction so the rest of the server only
// deals with a ready *zap.Logger.
package logger

import (
	"strings"

	"go.uber.org/zap"
)

// Logger carries the shared zap instance.
type Logger struct {
	Log *zap.Logger
}

// New returns a Logger with a no-op zap instance; call Init to activate it.
func New() *Logger {
	return &Logger{Log: zap.NewNop()}
}

// Init builds the production zap logger at the given level ("Debug",
// "Info", "Warn", "Error"). Returns an error for unknown levels or build
// failures.
func (l *Logger) Init(level string) error {
	parsed, err := zap.ParseAtomicLevel(strings.ToLower(level))
	if err != nil {
		return err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = parsed

	log, err := cfg.Build()
	if err != nil {
		return err
	}

	l.Log = log
	return nil
}
