package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf, ServiceName: "listing-sync-test"})

	logger.WithDealer("dealer-1").WithBatch("batch-9").Info().Int("creates", 3).Msg("Reconciliation finished")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "listing-sync-test", line["service"])
	assert.Equal(t, "dealer-1", line["dealer_id"])
	assert.Equal(t, "batch-9", line["batch_id"])
	assert.Equal(t, float64(3), line["creates"])
	assert.Equal(t, "Reconciliation finished", line["message"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json", Output: &buf})

	logger.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestLogger_WithContextTraceID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Format: "json", Output: &buf})

	ctx := ContextWithTraceID(context.Background(), "trace-abc")
	logger.WithContext(ctx).Debug().Msg("traced")

	assert.Contains(t, buf.String(), `"trace_id":"trace-abc"`)
	assert.Equal(t, "", TraceIDFromContext(context.Background()))
}
