package telemetry

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	l, err := setupLogger(&buf, LogConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)

	l.Info("dropped")
	l.Warn("game: command dropped", "conn", "c1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line), "only the warn line should be written")
	assert.Equal(t, "game: command dropped", line["msg"])
	assert.Equal(t, "c1", line["conn"])
	assert.Equal(t, "songquiz", line["service"])
}

func TestSetupLogger_Invalid(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	_, err := setupLogger(&bytes.Buffer{}, LogConfig{Level: "loud"})
	require.Error(t, err)

	_, err = setupLogger(&bytes.Buffer{}, LogConfig{Level: "info", Format: "xml"})
	require.Error(t, err)
}
