package consumer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/document"
	apperrors "github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingApplier struct {
	events []document.ChangeEvent
	err    error
}

func (r *recordingApplier) OnDocumentChanged(_ context.Context, ev document.ChangeEvent) error {
	r.events = append(r.events, ev)
	return r.err
}

func TestHandleAppliesEvent(t *testing.T) {
	applier := &recordingApplier{}
	err := New(applier, nil).Handle(context.Background(), []byte("kb-001"), []byte(`{"documentId":"kb-001","kind":"updated","version":2}`))
	require.NoError(t, err)
	require.Len(t, applier.events, 1)
	assert.Equal(t, document.ChangeUpdated, applier.events[0].Kind)
	assert.Equal(t, int64(2), applier.events[0].Version)
}

func TestHandleFallsBackToKey(t *testing.T) {
	applier := &recordingApplier{}
	require.NoError(t, New(applier, nil).Handle(context.Background(), []byte("kb-002"), []byte(`{"kind":"deleted"}`)))
	require.Len(t, applier.events, 1)
	assert.Equal(t, "kb-002", applier.events[0].DocumentID)
}

func TestHandleSkipsBadInput(t *testing.T) {
	applier := &recordingApplier{}
	h := New(applier, nil)

	assert.NoError(t, h.Handle(context.Background(), nil, []byte(`not json`)))
	assert.NoError(t, h.Handle(context.Background(), []byte("  "), []byte(`{"kind":"created"}`)))
	assert.Empty(t, applier.events)
}

func TestHandleCountsOutcomes(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	ctx := context.Background()
	body := []byte(`{"documentId":"kb-009"}`)

	require.NoError(t, New(&recordingApplier{}, m).Handle(ctx, nil, body))

	malformed := &recordingApplier{err: fmt.Errorf("indexing: %w", apperrors.ErrMalformedDocument)}
	assert.NoError(t, New(malformed, m).Handle(ctx, nil, body))
	assert.NoError(t, New(malformed, m).Handle(ctx, nil, []byte(`{`)))

	storeDown := &recordingApplier{err: errors.New("connection reset")}
	err := New(storeDown, m).Handle(ctx, nil, body)
	assert.ErrorContains(t, err, "applying change to kb-009")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ChangeEventsTotal.WithLabelValues(outcomeApplied)))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ChangeEventsTotal.WithLabelValues(outcomeSkipped)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ChangeEventsTotal.WithLabelValues(outcomeFailed)))
}
