package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartSpanPropagatesTrace(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), New(&buf, "debug"))

	ctx, parent := StartSpan(ctx, "feed")
	traceID := TraceIDFromContext(ctx)
	parentID := SpanIDFromContext(ctx)
	require.NotEmpty(t, traceID)
	require.NotEmpty(t, parentID)

	childCtx, child := StartSpan(ctx, "feed.load")
	assert.Equal(t, traceID, TraceIDFromContext(childCtx))
	assert.NotEqual(t, parentID, SpanIDFromContext(childCtx))

	child.End(nil)
	parent.End(errors.New("boom"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first, second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))

	assert.Equal(t, "span completed", first["msg"])
	assert.Equal(t, parentID, first["parent_span_id"])
	assert.Equal(t, traceID, first["trace_id"])

	assert.Equal(t, "span failed", second["msg"])
	assert.Equal(t, "boom", second["error"])
	assert.Equal(t, "WARN", second["level"])
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(context.Background()))
}
