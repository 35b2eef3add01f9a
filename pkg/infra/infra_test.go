package infra

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-trigger-sync/internal/config"
)

func TestBackoffGrowsWithinBounds(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, time.Second, 2.0)

	base := 100 * time.Millisecond
	for i := 1; i <= 6; i++ {
		wait := b.Next()
		expected := min(base, time.Second)
		assert.GreaterOrEqual(t, wait, 100*time.Millisecond, "attempt %d", i)
		assert.LessOrEqual(t, wait, expected+expected/5, "attempt %d", i)
		assert.Equal(t, i, b.Attempts())
		base *= 2
	}

	b.Reset()
	assert.Zero(t, b.Attempts())
	assert.LessOrEqual(t, b.Next(), 120*time.Millisecond)
}

func TestBackoffStaysUnderCeiling(t *testing.T) {
	b := NewBackoff(time.Second, 3*time.Second, 10)
	for i := 0; i < 5; i++ {
		assert.LessOrEqual(t, b.Next(), 3*time.Second)
	}
}

func TestSleep(t *testing.T) {
	assert.True(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, Sleep(ctx, time.Hour))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	slog.New(newHandler(&config.Config{LogLevel: "INFO", LogFormat: "json"}, &buf)).Info("batch loaded", "batch_id", 7)
	assert.Contains(t, buf.String(), `"batch_id":7`)

	buf.Reset()
	logger := slog.New(newHandler(&config.Config{LogLevel: "WARN", LogFormat: "TEXT"}, &buf))
	logger.Info("hidden")
	logger.Warn("shown", "channel", "default")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "channel=default")
}

func TestSetupLoggerWritesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.log")
	logger := SetupLogger(&config.Config{LogLevel: "INFO", LogFile: path})
	logger.Info("trigger installed", "trigger", "items")
	CloseLogger()

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(body), "trigger=items")
}
