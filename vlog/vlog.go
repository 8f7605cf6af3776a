// Package vlog exposes a level-gated zap logger for the vault daemons and
// libraries. "none" returns a nop logger; library packages default to nop so
// embedding the core stays silent unless the host opts in.
package vlog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelNone  = "none"
)

// New returns a zap logger at the given level.
func New(level string) (*zap.Logger, error) {
	if level == LevelNone || level == "" {
		return zap.NewNop(), nil
	}
	cfg := zap.NewProductionConfig()
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// MustNew returns a logger or panics. Daemon startup only.
func MustNew(level string) *zap.Logger {
	l, err := New(level)
	if err != nil {
		panic(err)
	}
	return l
}
