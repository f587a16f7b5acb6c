package document

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/errors"
)

type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeUpdated  ChangeKind = "updated"
	ChangeArchived ChangeKind = "archived"
	ChangeDeleted  ChangeKind = "deleted"
)

// ChangeEvent announces a mutation. It carries no document body: consumers
// re-read the store, so events delivered out of order still converge on the
// latest state.
type ChangeEvent struct {
	DocumentID string     `json:"documentId"`
	Kind       ChangeKind `json:"kind"`
	Version    int64      `json:"version"`
	At         time.Time  `json:"at"`
}

// Listener receives change events after the mutation is committed.
type Listener func(ctx context.Context, ev ChangeEvent)

// Store is the source of truth for knowledge records.
type Store interface {
	// Get returns a copy of the record, or an error wrapping
	// apperrors.ErrNotFound.
	Get(ctx context.Context, id string) (*Document, error)
	// List returns copies of all records ordered by id.
	List(ctx context.Context) ([]*Document, error)
	// Upsert creates or updates a record. Version increases only when
	// title, content or tags change.
	Upsert(ctx context.Context, doc *Document) (ChangeEvent, error)
	// Create stores a new record and fails with apperrors.ErrConflict when
	// the id is taken, atomically with respect to other writers.
	Create(ctx context.Context, doc *Document) (ChangeEvent, error)
	Remove(ctx context.Context, id string) (ChangeEvent, error)
	Subscribe(l Listener)
}

// Counters records read-side engagement; it never affects versions.
type Counters interface {
	RecordView(ctx context.Context, id string) error
	RecordFavorite(ctx context.Context, id string) error
}

// Clock returns the current time. Stores take one so tests control recency.
type Clock func() time.Time

func notFound(id string) error {
	return fmt.Errorf("document %q: %w", id, apperrors.ErrNotFound)
}

func conflict(id string) error {
	return apperrors.Newf(apperrors.ErrConflict, "document %q already exists", id)
}

func checkID(doc *Document) error {
	if doc == nil || strings.TrimSpace(doc.ID) == "" {
		return apperrors.New(apperrors.ErrValidation, "document id is required")
	}
	return nil
}

// Merge applies incoming onto existing (nil for a new record) and returns the
// stored result with the kind of change. Shared by every Store
// implementation.
func Merge(existing, incoming *Document, now time.Time) (*Document, ChangeKind) {
	if existing == nil {
		doc := incoming.Clone()
		doc.ID = strings.TrimSpace(doc.ID)
		doc.Tags = NormalizeTags(doc.Tags)
		if doc.Status == "" {
			doc.Status = StatusDraft
		}
		doc.Version = 1
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = now
		}
		if doc.UpdatedAt.Before(doc.CreatedAt) {
			doc.UpdatedAt = doc.CreatedAt
		}
		if doc.Views < 0 {
			doc.Views = 0
		}
		if doc.Favorites < 0 {
			doc.Favorites = 0
		}
		return doc, ChangeCreated
	}

	doc := existing.Clone()
	contentChanged := existing.Title != incoming.Title ||
		existing.Content != incoming.Content ||
		!sameTags(existing.Tags, incoming.Tags)

	doc.Title = incoming.Title
	doc.Content = incoming.Content
	doc.Tags = NormalizeTags(incoming.Tags)
	doc.Type = incoming.Type
	doc.Department = incoming.Department
	doc.Author = incoming.Author
	if incoming.Status != "" {
		doc.Status = incoming.Status
	}
	if contentChanged {
		doc.Version++
		doc.UpdatedAt = now
		if doc.UpdatedAt.Before(doc.CreatedAt) {
			doc.UpdatedAt = doc.CreatedAt
		}
	}

	kind := ChangeUpdated
	if doc.Status == StatusArchived && existing.Status != StatusArchived {
		kind = ChangeArchived
	}
	return doc, kind
}
