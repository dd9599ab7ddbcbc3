package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlogHandlerEmitsAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := New(slog.NewJSONHandler(&buf, nil))

	log.Info("op applied", "type", "actor", "count", 3)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "op applied", line["msg"])
	assert.Equal(t, "actor", line["type"])
	assert.Equal(t, float64(3), line["count"])
}

func TestZerologHandlerEmitsAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerolog(&buf)

	log.Warn("stale response dropped", "id", "abc123")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "stale response dropped", line["message"])
	assert.Equal(t, "abc123", line["id"])
}
