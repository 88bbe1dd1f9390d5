package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn", Format: "json", Output: &buf})

	l.Info().Msg("dropped")
	l.Warn().Str("doctor_id", "d1").Msg("kept")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "d1", entry["doctor_id"])
}

func TestWithFieldsAttachesToContext(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", Format: "json", Output: &buf})

	ctx := WithFields(l.WithContext(context.Background()), map[string]interface{}{"request_id": "r-1"})
	FromContext(ctx).Info().Msg("hello")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "r-1", entry["request_id"])
}
