// Package publisher writes knowledge records to the document store and
// announces each committed change on Kafka so search nodes re-index it.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/kafka"
	"github.com/google/uuid"
)

// IDPrefix starts every generated document id.
const IDPrefix = "kb-"

type Publisher struct {
	store    document.Store
	producer kafka.Publisher
	newID    func() string
	logger   *slog.Logger
}

// New creates a Publisher. producer may be nil, in which case changes are
// only stored and search nodes pick them up on their next consistency check.
func New(store document.Store, producer kafka.Publisher) *Publisher {
	if producer == nil {
		producer = kafka.NopPublisher{}
	}
	return &Publisher{
		store:    store,
		producer: producer,
		newID:    func() string { return IDPrefix + uuid.NewString() },
		logger:   slog.Default().With("component", "publisher"),
	}
}

// Create stores a new record. A request without an id gets a generated one;
// an id that already exists is a conflict.
func (p *Publisher) Create(ctx context.Context, req *ingestion.DocumentRequest) (*ingestion.DocumentResponse, error) {
	doc, err := p.prepare(req)
	if err != nil {
		return nil, err
	}
	if doc.ID == "" {
		doc.ID = p.newID()
	}
	if doc.Status == "" {
		doc.Status = document.StatusDraft
	}
	return p.commit(ctx, doc, p.store.Create)
}

// Update replaces the editable fields of an existing record. An empty
// status keeps the current one.
func (p *Publisher) Update(ctx context.Context, id string, req *ingestion.DocumentRequest) (*ingestion.DocumentResponse, error) {
	existing, err := p.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	doc, err := p.prepare(req)
	if err != nil {
		return nil, err
	}
	doc.ID = existing.ID
	if doc.Status == "" {
		doc.Status = existing.Status
	}
	return p.save(ctx, doc)
}

func (p *Publisher) Get(ctx context.Context, id string) (*document.Document, error) {
	return p.store.Get(ctx, id)
}

func (p *Publisher) List(ctx context.Context, filter ingestion.ListFilter) (*ingestion.ListResponse, error) {
	docs, err := p.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	out := make([]*document.Document, 0, len(docs))
	for _, d := range docs {
		if filter.Match(d) {
			out = append(out, d)
		}
	}
	return &ingestion.ListResponse{Documents: out, Total: len(out)}, nil
}

// Archive keeps the record but takes it out of search.
func (p *Publisher) Archive(ctx context.Context, id string) (*ingestion.DocumentResponse, error) {
	doc, err := p.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	doc.Status = document.StatusArchived
	return p.save(ctx, doc)
}

func (p *Publisher) Delete(ctx context.Context, id string) (*ingestion.DocumentResponse, error) {
	ev, err := p.store.Remove(ctx, id)
	if err != nil {
		return nil, err
	}
	p.announce(ctx, ev)
	return &ingestion.DocumentResponse{DocumentID: ev.DocumentID, Kind: ev.Kind, Version: ev.Version}, nil
}

// RecordView and RecordFavorite update engagement counters. They never
// change the version, so nothing is announced.
func (p *Publisher) RecordView(ctx context.Context, id string) error {
	c, err := p.counters()
	if err != nil {
		return err
	}
	return c.RecordView(ctx, id)
}

func (p *Publisher) RecordFavorite(ctx context.Context, id string) error {
	c, err := p.counters()
	if err != nil {
		return err
	}
	return c.RecordFavorite(ctx, id)
}

func (p *Publisher) counters() (document.Counters, error) {
	c, ok := p.store.(document.Counters)
	if !ok {
		return nil, apperrors.New(apperrors.ErrUnsupported, "store does not track engagement")
	}
	return c, nil
}

func (p *Publisher) prepare(req *ingestion.DocumentRequest) (*document.Document, error) {
	doc := req.Document()
	if req.ContentFormat == ingestion.FormatHTML {
		text, err := ingestion.HTMLToText(req.Content)
		if err != nil {
			return nil, apperrors.New(apperrors.ErrValidation, err.Error())
		}
		doc.Content = text
	}
	doc.Content = strings.TrimSpace(doc.Content)
	return doc, nil
}

func (p *Publisher) save(ctx context.Context, doc *document.Document) (*ingestion.DocumentResponse, error) {
	return p.commit(ctx, doc, p.store.Upsert)
}

func (p *Publisher) commit(
	ctx context.Context,
	doc *document.Document,
	write func(context.Context, *document.Document) (document.ChangeEvent, error),
) (*ingestion.DocumentResponse, error) {
	ev, err := write(ctx, doc)
	if err != nil {
		return nil, err
	}
	p.announce(ctx, ev)
	return &ingestion.DocumentResponse{
		DocumentID: ev.DocumentID,
		Kind:       ev.Kind,
		Version:    ev.Version,
		Status:     doc.Status,
	}, nil
}

// announce publishes ev keyed by document id. A failed publish leaves the
// change committed; search nodes repair the gap on their consistency check.
func (p *Publisher) announce(ctx context.Context, ev document.ChangeEvent) {
	if err := p.producer.Publish(ctx, kafka.Event{Key: ev.DocumentID, Type: "document." + string(ev.Kind), Value: ev}); err != nil {
		p.logger.Error("failed to publish change event, index update deferred",
			"doc_id", ev.DocumentID,
			"kind", ev.Kind,
			"error", err,
		)
	}
}
