package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// TestParseLogLevel verifies mapping from strings to zapcore.Level and handling of unknown values.
func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"WARNING": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"fatal":   zapcore.FatalLevel,
	}
	for s, lvl := range cases {
		got, ok := ParseLogLevel(s)
		require.True(t, ok, s)
		require.Equal(t, lvl, got)
	}

	_, ok := ParseLogLevel("unknown")
	require.False(t, ok)
}

// TestContextHelpers checks that named loggers and key-values travel with the context.
func TestContextHelpers(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	ctx := ToContext(context.Background(), NewWithWriter(&buf, zapcore.DebugLevel))
	ctx = WithName(ctx, "sdk")
	ctx = WithKV(ctx, "platform", "esp32s3")

	InfoKV(ctx, "Resolving SDK", "version", "0.6.0")

	out := buf.String()
	require.Contains(t, out, "sdk")
	require.Contains(t, out, "Resolving SDK")
	require.Contains(t, out, "esp32s3")
	require.Contains(t, out, "0.6.0")
}

// TestFromContextFallsBackToGlobal ensures an empty context yields the global logger.
func TestFromContextFallsBackToGlobal(t *testing.T) {
	t.Parallel()

	require.Same(t, Logger(), FromContext(context.Background()))
}

// TestConfigure maps level names onto the global level and lets verbose win.
func TestConfigure(t *testing.T) {
	previous := Level()
	t.Cleanup(func() { SetLevel(previous) })

	Configure("warn", false)
	require.Equal(t, zapcore.WarnLevel, Level())

	Configure("warn", true)
	require.Equal(t, zapcore.DebugLevel, Level())

	Configure("nonsense", false)
	require.Equal(t, zapcore.InfoLevel, Level())
}
