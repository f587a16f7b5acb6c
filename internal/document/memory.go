package document

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps records in a map. It backs tests, the seeded demo mode
// and the searcher's fallback when PostgreSQL is unreachable.
type MemoryStore struct {
	mu        sync.RWMutex
	docs      map[string]*Document
	listeners []Listener
	now       Clock
	logger    *slog.Logger
}

type MemoryOption func(*MemoryStore)

func WithClock(c Clock) MemoryOption {
	return func(s *MemoryStore) { s.now = c }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		docs:   make(map[string]*Document),
		now:    time.Now,
		logger: slog.Default().With("component", "memory-store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, notFound(id)
	}
	return doc.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context) ([]*Document, error) {
	s.mu.RLock()
	out := make([]*Document, 0, len(s.docs))
	for _, doc := range s.docs {
		out = append(out, doc.Clone())
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Document) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, doc *Document) (ChangeEvent, error) {
	if err := checkID(doc); err != nil {
		return ChangeEvent{}, err
	}
	now := s.now()

	s.mu.Lock()
	id := strings.TrimSpace(doc.ID)
	merged, kind := Merge(s.docs[id], doc, now)
	s.docs[id] = merged
	ev := ChangeEvent{DocumentID: id, Kind: kind, Version: merged.Version, At: now}
	s.mu.Unlock()

	s.logger.Debug("document upserted", "id", id, "kind", kind, "version", merged.Version)
	s.notify(ctx, ev)
	return ev, nil
}

func (s *MemoryStore) Create(ctx context.Context, doc *Document) (ChangeEvent, error) {
	if err := checkID(doc); err != nil {
		return ChangeEvent{}, err
	}
	now := s.now()

	s.mu.Lock()
	id := strings.TrimSpace(doc.ID)
	if _, ok := s.docs[id]; ok {
		s.mu.Unlock()
		return ChangeEvent{}, conflict(id)
	}
	created, kind := Merge(nil, doc, now)
	s.docs[id] = created
	ev := ChangeEvent{DocumentID: id, Kind: kind, Version: created.Version, At: now}
	s.mu.Unlock()

	s.notify(ctx, ev)
	return ev, nil
}

func (s *MemoryStore) Remove(ctx context.Context, id string) (ChangeEvent, error) {
	now := s.now()

	s.mu.Lock()
	doc, ok := s.docs[id]
	if !ok {
		s.mu.Unlock()
		return ChangeEvent{}, notFound(id)
	}
	delete(s.docs, id)
	s.mu.Unlock()

	ev := ChangeEvent{DocumentID: id, Kind: ChangeDeleted, Version: doc.Version, At: now}
	s.notify(ctx, ev)
	return ev, nil
}

func (s *MemoryStore) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *MemoryStore) RecordView(_ context.Context, id string) error {
	return s.bump(id, func(d *Document) { d.Views++ })
}

func (s *MemoryStore) RecordFavorite(_ context.Context, id string) error {
	return s.bump(id, func(d *Document) { d.Favorites++ })
}

func (s *MemoryStore) bump(id string, fn func(*Document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return notFound(id)
	}
	fn(doc)
	return nil
}

// notify runs listeners outside the lock so they may read the store.
func (s *MemoryStore) notify(ctx context.Context, ev ChangeEvent) {
	s.mu.RLock()
	listeners := slices.Clone(s.listeners)
	s.mu.RUnlock()
	for _, l := range listeners {
		l(ctx, ev)
	}
}
