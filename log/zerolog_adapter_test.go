package log_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"go.pilab.hu/sociallink/log"
)

func TestNew_WritesStructuredEntries(t *testing.T) {
	var buf bytes.Buffer
	logger, err := log.New(log.Options{Level: "debug", Output: &buf})
	require.NoError(t, err)

	logger.With(log.Fields{"component": "test"}).
		Error(context.Background(), "save failed", errors.New("boom"), log.Fields{"provider": "Google"})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "save failed", entry["message"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "test", entry["component"])
	assert.Equal(t, "Google", entry["provider"])
}

func TestNew_TraceIDs(t *testing.T) {
	var buf bytes.Buffer
	logger, err := log.New(log.Options{Output: &buf})
	require.NoError(t, err)

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))

	logger.Info(ctx, "hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "0102030405060708090a0b0c0d0e0f10", entry["trace_id"])
	assert.Equal(t, "0102030405060708", entry["span_id"])
}

func TestNew_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger, err := log.New(log.Options{Level: "warn", Output: &buf})
	require.NoError(t, err)

	logger.Info(context.Background(), "dropped")
	assert.Empty(t, buf.String())

	_, err = log.New(log.Options{Level: "loud"})
	assert.Error(t, err)
}
