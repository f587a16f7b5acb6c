// Package consumer applies document change events read from Kafka to the
// search index.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/document"
	apperrors "github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/metrics"
)

const (
	outcomeApplied = "applied"
	outcomeSkipped = "skipped"
	outcomeFailed  = "failed"
)

// ChangeApplier is satisfied by *indexer.Engine.
type ChangeApplier interface {
	OnDocumentChanged(ctx context.Context, ev document.ChangeEvent) error
}

type Handler struct {
	applier ChangeApplier
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a change handler. m may be nil.
func New(applier ChangeApplier, m *metrics.Metrics) *Handler {
	return &Handler{
		applier: applier,
		metrics: m,
		logger:  slog.Default().With("component", "change-consumer"),
	}
}

// Handle applies one change event. Messages that can never be applied
// (undecodable, without a document id, or naming a malformed record) are
// skipped; store failures are returned for the consumer to retry.
func (h *Handler) Handle(ctx context.Context, key, value []byte) error {
	ev, err := kafka.DecodeJSON[document.ChangeEvent](value)
	if err != nil {
		h.logger.ErrorContext(ctx, "undecodable change event", "key", string(key), "error", err)
		h.count(outcomeSkipped)
		return nil
	}
	if strings.TrimSpace(ev.DocumentID) == "" {
		ev.DocumentID = strings.TrimSpace(string(key))
	}
	if ev.DocumentID == "" {
		h.logger.WarnContext(ctx, "change event without document id")
		h.count(outcomeSkipped)
		return nil
	}

	err = h.applier.OnDocumentChanged(ctx, ev)
	switch {
	case err == nil:
		h.logger.DebugContext(ctx, "change applied", "doc_id", ev.DocumentID, "kind", ev.Kind, "version", ev.Version)
		h.count(outcomeApplied)
		return nil
	case apperrors.IsValidation(err):
		h.logger.WarnContext(ctx, "change names a malformed document", "doc_id", ev.DocumentID, "error", err)
		h.count(outcomeSkipped)
		return nil
	default:
		h.count(outcomeFailed)
		return fmt.Errorf("applying change to %s: %w", ev.DocumentID, err)
	}
}

func (h *Handler) count(outcome string) {
	if h.metrics != nil {
		h.metrics.ChangeEventsTotal.WithLabelValues(outcome).Inc()
	}
}
