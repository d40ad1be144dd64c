package correlation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnsureCorrelationIDKeepsExisting(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "cid-1")
	ctx, cid := EnsureCorrelationID(ctx)
	assert.Equal(t, "cid-1", cid)
	assert.Equal(t, "cid-1", ExtractCorrelationID(ctx))
}

func TestEnsureCorrelationIDGenerates(t *testing.T) {
	_, cid := EnsureCorrelationID(context.Background())
	assert.Len(t, cid, 26)
}

func TestHeadersWithRemoteSpan(t *testing.T) {
	ctx := ContextWithRemoteSpan(context.Background(), "4bf92f3577b34da6a3ce929d0e0e4736", "00f067aa0ba902b7")
	ctx = ContextWithCorrelationID(ctx, "cid-2")

	headers := Headers(ctx, time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC))
	assert.Equal(t, "cid-2", headers["correlation_id"])
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", headers["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", headers["span_id"])
	assert.Equal(t, "2026-01-15T10:00:00Z", headers["published_at"])
}

func TestHeadersWithoutSpan(t *testing.T) {
	headers := Headers(context.Background(), time.Now())
	_, hasTrace := headers["trace_id"]
	assert.False(t, hasTrace)
	assert.NotEmpty(t, headers["correlation_id"])
}
