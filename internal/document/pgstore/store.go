// Package pgstore persists knowledge records in PostgreSQL. Upserts lock the
// existing row so concurrent writers to one id serialize and each sees the
// version the other committed.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/document"
	apperrors "github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/postgres"
	"github.com/lib/pq"
)

const selectColumns = `id, title, content, type, department, author, tags, status,
	version, created_at, updated_at, views, favorites`

var errCreateRace = errors.New("concurrent create")

type Store struct {
	db        *postgres.Client
	now       document.Clock
	mu        sync.RWMutex
	listeners []document.Listener
	logger    *slog.Logger
}

type Option func(*Store)

func WithClock(c document.Clock) Option {
	return func(s *Store) { s.now = c }
}

func New(db *postgres.Client, opts ...Option) *Store {
	s := &Store{
		db:     db,
		now:    time.Now,
		logger: slog.Default().With("component", "pg-store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*document.Document, error) {
	var (
		doc  document.Document
		tags pq.StringArray
	)
	err := row.Scan(&doc.ID, &doc.Title, &doc.Content, &doc.Type, &doc.Department, &doc.Author,
		&tags, &doc.Status, &doc.Version, &doc.CreatedAt, &doc.UpdatedAt, &doc.Views, &doc.Favorites)
	if err != nil {
		return nil, err
	}
	doc.Tags = []string(tags)
	doc.CreatedAt = doc.CreatedAt.UTC()
	doc.UpdatedAt = doc.UpdatedAt.UTC()
	return &doc, nil
}

func notFound(id string) error {
	return fmt.Errorf("document %q: %w", id, apperrors.ErrNotFound)
}

func (s *Store) Get(ctx context.Context, id string) (*document.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM knowledge_documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying document %s: %w", id, err)
	}
	return doc, nil
}

func (s *Store) List(ctx context.Context) ([]*document.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM knowledge_documents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []*document.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}

func (s *Store) Upsert(ctx context.Context, doc *document.Document) (document.ChangeEvent, error) {
	if doc == nil || strings.TrimSpace(doc.ID) == "" {
		return document.ChangeEvent{}, fmt.Errorf("document id is required: %w", apperrors.ErrValidation)
	}
	id := strings.TrimSpace(doc.ID)

	var ev document.ChangeEvent
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		ev, err = s.upsertOnce(ctx, id, doc)
		if !errors.Is(err, errCreateRace) {
			break
		}
		s.logger.Debug("create raced with another writer, retrying", "id", id)
	}
	if err != nil {
		return document.ChangeEvent{}, fmt.Errorf("upserting document %s: %w", id, err)
	}
	s.notify(ctx, ev)
	return ev, nil
}

func (s *Store) upsertOnce(ctx context.Context, id string, doc *document.Document) (document.ChangeEvent, error) {
	now := s.now().UTC()
	var ev document.ChangeEvent
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanDocument(tx.QueryRowContext(ctx,
			`SELECT `+selectColumns+` FROM knowledge_documents WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, sql.ErrNoRows) {
			existing = nil
		} else if err != nil {
			return fmt.Errorf("locking row: %w", err)
		}

		merged, kind := document.Merge(existing, doc, now)
		merged.ID = id
		if existing == nil {
			err := insert(ctx, tx, merged)
			if postgres.IsUniqueViolation(err) {
				return errCreateRace
			}
			if err != nil {
				return fmt.Errorf("inserting: %w", err)
			}
		} else {
			_, err := tx.ExecContext(ctx,
				`UPDATE knowledge_documents
				SET title = $2, content = $3, type = $4, department = $5, author = $6, tags = $7,
					status = $8, version = $9, updated_at = $10
				WHERE id = $1`,
				merged.ID, merged.Title, merged.Content, merged.Type, merged.Department, merged.Author,
				pq.Array(merged.Tags), merged.Status, merged.Version, merged.UpdatedAt)
			if err != nil {
				return fmt.Errorf("updating: %w", err)
			}
		}
		ev = document.ChangeEvent{DocumentID: id, Kind: kind, Version: merged.Version, At: now}
		return nil
	})
	return ev, err
}

// Create inserts without the row lock Upsert takes; the primary key decides
// between concurrent creates and the loser gets apperrors.ErrConflict.
func (s *Store) Create(ctx context.Context, doc *document.Document) (document.ChangeEvent, error) {
	if doc == nil || strings.TrimSpace(doc.ID) == "" {
		return document.ChangeEvent{}, fmt.Errorf("document id is required: %w", apperrors.ErrValidation)
	}
	now := s.now().UTC()
	created, kind := document.Merge(nil, doc, now)
	created.ID = strings.TrimSpace(doc.ID)

	err := insert(ctx, s.db, created)
	if postgres.IsUniqueViolation(err) {
		return document.ChangeEvent{}, apperrors.Newf(apperrors.ErrConflict, "document %q already exists", created.ID)
	}
	if err != nil {
		return document.ChangeEvent{}, fmt.Errorf("creating document %s: %w", created.ID, err)
	}
	ev := document.ChangeEvent{DocumentID: created.ID, Kind: kind, Version: created.Version, At: now}
	s.notify(ctx, ev)
	return ev, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insert(ctx context.Context, db execer, doc *document.Document) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO knowledge_documents (`+selectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		doc.ID, doc.Title, doc.Content, doc.Type, doc.Department, doc.Author,
		pq.Array(doc.Tags), doc.Status, doc.Version, doc.CreatedAt, doc.UpdatedAt,
		doc.Views, doc.Favorites)
	return err
}

func (s *Store) Remove(ctx context.Context, id string) (document.ChangeEvent, error) {
	var version int64
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM knowledge_documents WHERE id = $1 RETURNING version`, id).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return document.ChangeEvent{}, notFound(id)
	}
	if err != nil {
		return document.ChangeEvent{}, fmt.Errorf("deleting document %s: %w", id, err)
	}
	ev := document.ChangeEvent{DocumentID: id, Kind: document.ChangeDeleted, Version: version, At: s.now().UTC()}
	s.notify(ctx, ev)
	return ev, nil
}

func (s *Store) RecordView(ctx context.Context, id string) error {
	return s.bump(ctx, id, "views")
}

func (s *Store) RecordFavorite(ctx context.Context, id string) error {
	return s.bump(ctx, id, "favorites")
}

// bump increments a counter column; column is always a constant from this file.
func (s *Store) bump(ctx context.Context, id, column string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE knowledge_documents SET `+column+` = `+column+` + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("incrementing %s for %s: %w", column, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(id)
	}
	return nil
}

func (s *Store) Subscribe(l document.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Store) notify(ctx context.Context, ev document.ChangeEvent) {
	s.mu.RLock()
	listeners := slices.Clone(s.listeners)
	s.mu.RUnlock()
	for _, l := range listeners {
		l(ctx, ev)
	}
}
