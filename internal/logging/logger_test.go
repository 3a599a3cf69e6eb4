package logging

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_FileAndHistory(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer

	l, err := newLogger(&Config{
		Dir:        dir,
		Level:      LevelDebug,
		MaxHistory: 3,
		Console:    true,
		MaxSizeMB:  1,
	}, &console)
	require.NoError(t, err)

	l.Debug("render", "frame", map[string]any{"n": 1})
	l.Warn("tts", "fallback", map[string]any{"provider": "remote", "a": 2})
	l.Error("chat", "request failed", errors.New("boom"), nil)
	require.NoError(t, l.Close())

	hist := l.GetHistory(0)
	require.Len(t, hist, 3)
	assert.Equal(t, "warn", hist[0].Level)
	assert.Equal(t, "a=2, provider=remote", hist[0].Data)
	assert.Equal(t, "error=boom", hist[1].Data)
	assert.Equal(t, "Logger shutting down", hist[2].Message)

	assert.Len(t, l.GetHistory(1), 1)

	data, err := os.ReadFile(l.GetLogPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"tts"`)
	assert.Contains(t, string(data), `"app":"talkingavatar"`)
	assert.Contains(t, console.String(), "fallback")
}

func TestLogger_LevelFilters(t *testing.T) {
	l, err := newLogger(&Config{Level: LevelWarn}, nil)
	require.NoError(t, err)

	l.Info("server", "listening", nil)
	l.Debug("server", "noise", nil)
	l.Warn("server", "slow", nil)

	hist := l.GetHistory(0)
	require.Len(t, hist, 1)
	assert.Equal(t, "slow", hist[0].Message)
	assert.Empty(t, l.GetLogPath())
}

func TestLogger_OnLog(t *testing.T) {
	l, err := newLogger(&Config{Level: LevelInfo}, nil)
	require.NoError(t, err)

	got := make(chan LogEntry, 1)
	l.SetOnLog(func(e LogEntry) { got <- e })
	l.Info("library", "avatar added", nil)

	e := <-got
	assert.Equal(t, "library", e.Component)
}
