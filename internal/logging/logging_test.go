package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]zapcore.Level{
		"":      zapcore.InfoLevel,
		"debug": zapcore.DebugLevel,
		"WARN":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestNew(t *testing.T) {
	for _, format := range []string{"", "json", "console"} {
		l, err := New(Config{Level: "debug", Format: format})
		require.NoError(t, err, format)
		assert.True(t, l.Desugar().Core().Enabled(zapcore.DebugLevel))
	}

	_, err := New(Config{Format: "xml"})
	require.Error(t, err)
	_, err = New(Config{Level: "nope"})
	require.Error(t, err)
}

func TestTestObserved(t *testing.T) {
	l, logs := TestObserved(t, zapcore.WarnLevel)
	l.Infow("ignored")
	l.Warnw("tool timed out", "tool", "bandit")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "tool timed out", entry.Message)
	assert.Equal(t, "bandit", entry.ContextMap()["tool"])
}
