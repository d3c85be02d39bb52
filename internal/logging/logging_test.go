package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astrate-platform/astrate/config"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newWithWriter(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("broker link lost, reconnecting", "component", "dispatcher", "attempt", 2)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "broker link lost, reconnecting", entry["msg"])
	assert.Equal(t, "dispatcher", entry["component"])
	assert.Equal(t, float64(2), entry["attempt"])
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newWithWriter(config.LogConfig{Level: "debug", Format: "text"}, &buf)
	require.NoError(t, err)

	logger.Debug("consumer notice", "kind", "registered")
	assert.Contains(t, buf.String(), "consumer notice")
	assert.Contains(t, buf.String(), "kind=registered")
}

func TestNew_Errors(t *testing.T) {
	_, err := newWithWriter(config.LogConfig{Format: "xml"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, `unsupported log format "xml"`)

	_, err = newWithWriter(config.LogConfig{Level: "loud"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, `unsupported log level "loud"`)
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}
