package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesKeyValuePairs(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("debug", &buf)

	id := uuid.New()
	log.Info("Message sent", "conversation_id", id, "count", 3, "error", errors.New("boom"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "Message sent", entry["message"])
	assert.Equal(t, id.String(), entry["conversation_id"])
	assert.Equal(t, float64(3), entry["count"])
	assert.Equal(t, "boom", entry["error"])
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("warn", &buf)

	log.Info("hidden")
	assert.Zero(t, buf.Len())

	log.Warn("shown")
	assert.NotZero(t, buf.Len())
}

func TestWithAddsContextFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("info", &buf).With("module", "realtime")

	log.Info("Socket connected", "dangling")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "realtime", entry["module"])
	assert.Equal(t, "dangling", entry["!BADKEY"])
}
