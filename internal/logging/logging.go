// Package logging builds the process logger. Components receive a
// *zap.SugaredLogger and name it for themselves, e.g. logger.Named("clone").
package logging

import (
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// Config selects level and encoding.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json or console
}

// New returns a logger for cfg. JSON output uses the production preset,
// console output the development one.
func New(cfg Config) (*zap.SugaredLogger, error) {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var zc zap.Config
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		zc = zap.NewProductionConfig()
	case "console":
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.OutputPaths = []string{"stderr"}

	l, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return l.Sugar(), nil
}

// ParseLevel maps a level name to a zap level; empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return lvl, nil
}

// Test returns a logger that writes through tb.
func Test(tb testing.TB) *zap.SugaredLogger {
	tb.Helper()
	return zaptest.NewLogger(tb).Sugar()
}

// TestObserved returns a test logger whose entries at lvl and above are
// also captured for assertions.
func TestObserved(tb testing.TB, lvl zapcore.Level) (*zap.SugaredLogger, *observer.ObservedLogs) {
	tb.Helper()
	core, logs := observer.New(lvl)
	tee := zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, core)
	})
	return zaptest.NewLogger(tb, zaptest.WrapOptions(tee)).Sugar(), logs
}
