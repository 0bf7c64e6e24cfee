package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlogHandler(t *testing.T) {
	var buf bytes.Buffer
	l := New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	l.Debug("fetch started", "key", `["profile","u1"]`)
	l.Error("fetch failed", "error", errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, "level=DEBUG")
	assert.Contains(t, out, "fetch started")
	assert.Contains(t, out, "error=boom")
}

func TestZerologHandler(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewZerologWriter(&buf, "debug", false)
	require.NoError(t, err)

	l.Warn("channel disconnected", "filter", "journal_entries:user_id=eq.u1", "error", errors.New("eof"), "dangling")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "warn", rec["level"])
	assert.Equal(t, "channel disconnected", rec["message"])
	assert.Equal(t, "journal_entries:user_id=eq.u1", rec["filter"])
	assert.Equal(t, "eof", rec["error"])
	assert.Equal(t, "dangling", rec["!BADKEY"])
}

func TestZerologLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewZerologWriter(&buf, "error", false)
	require.NoError(t, err)

	l.Info("ignored")
	assert.Empty(t, buf.String())

	_, err = NewZerologWriter(&buf, "verbose", false)
	assert.Error(t, err)
}
