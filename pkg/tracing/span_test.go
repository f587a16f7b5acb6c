package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanTree(t *testing.T) {
	ctx := logger.WithRequestID(context.Background(), "req-1")
	ctx, root := Start(ctx, "search")
	rankCtx, rank := Start(ctx, "rank")
	_, heap := Start(rankCtx, "topk")
	rank.SetAttr("candidates", 3)
	heap.End()
	rank.End()
	root.End()

	require.Len(t, root.Children(), 1)
	assert.Equal(t, "req-1", rank.TraceID())
	assert.Equal(t, "search/rank/topk", heap.Path())
	assert.Same(t, root, FromContext(ctx))

	var buf bytes.Buffer
	root.Log(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "span=search")
	assert.Contains(t, lines[1], "span=search/rank")
	assert.Contains(t, lines[1], "candidates=3")
	assert.Contains(t, lines[2], "trace_id=req-1")
}

func TestEndIsIdempotent(t *testing.T) {
	_, s := Start(context.Background(), "verify")
	s.End()
	first := s.Duration()
	time.Sleep(2 * time.Millisecond)
	s.End()
	assert.Equal(t, first, s.Duration())
}

func TestSpanLogSkippedAboveDebug(t *testing.T) {
	_, root := Start(context.Background(), "search")
	root.End()

	var buf bytes.Buffer
	root.Log(slog.New(slog.NewTextHandler(&buf, nil)))
	assert.Empty(t, buf.String())
}

func TestRootWithoutRequestID(t *testing.T) {
	_, span := Start(context.Background(), "instant-search")
	assert.Empty(t, span.TraceID())
	assert.Equal(t, "instant-search", span.Path())
	assert.Nil(t, FromContext(context.Background()))
}
