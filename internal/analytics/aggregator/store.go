// Package aggregator persists analytics snapshots to PostgreSQL so query
// popularity survives restarts.
package aggregator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/analytics"
	apperrors "github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/postgres"
)

// Sources of snapshots. The searcher aggregates only its own queries while
// the analytics service aggregates the whole event topic, so each restores
// and prunes only what it wrote.
const (
	SourceSearcher  = "searcher"
	SourceAnalytics = "analytics"
)

// Snapshot is one saved copy of the aggregated statistics.
type Snapshot struct {
	ID         int64
	Source     string
	CapturedAt time.Time
	Stats      analytics.AggregatedStats
}

// StatsSource is satisfied by *analytics.Aggregator.
type StatsSource interface {
	Stats() analytics.AggregatedStats
}

// Store reads and writes the analytics_snapshots rows of one source.
type Store struct {
	db     *postgres.Client
	source string
	logger *slog.Logger
}

func NewStore(db *postgres.Client, source string) *Store {
	return &Store{
		db:     db,
		source: source,
		logger: slog.Default().With("component", "analytics-store", "source", source),
	}
}

func (s *Store) Save(ctx context.Context, stats analytics.AggregatedStats) (Snapshot, error) {
	data, err := json.Marshal(stats)
	if err != nil {
		return Snapshot{}, fmt.Errorf("encoding snapshot: %w", err)
	}
	snap := Snapshot{Source: s.source, Stats: stats}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO analytics_snapshots (source, data) VALUES ($1, $2) RETURNING id, captured_at`,
		s.source, data,
	).Scan(&snap.ID, &snap.CapturedAt)
	if err != nil {
		return Snapshot{}, fmt.Errorf("saving snapshot: %w", err)
	}
	snap.CapturedAt = snap.CapturedAt.UTC()
	return snap, nil
}

// Latest returns the newest snapshot of this source, or
// apperrors.ErrNotFound when none has been saved.
func (s *Store) Latest(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Source: s.source}
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, captured_at, data FROM analytics_snapshots
		WHERE source = $1 ORDER BY captured_at DESC, id DESC LIMIT 1`, s.source,
	).Scan(&snap.ID, &snap.CapturedAt, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("%s analytics snapshot: %w", s.source, apperrors.ErrNotFound)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("querying latest snapshot: %w", err)
	}
	if err := json.Unmarshal(data, &snap.Stats); err != nil {
		return Snapshot{}, fmt.Errorf("decoding snapshot %d: %w", snap.ID, err)
	}
	snap.CapturedAt = snap.CapturedAt.UTC()
	return snap, nil
}

// Prune deletes all but the keep newest snapshots of this source. keep <= 0
// deletes nothing.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM analytics_snapshots WHERE source = $1 AND id NOT IN (
			SELECT id FROM analytics_snapshots WHERE source = $1
			ORDER BY captured_at DESC, id DESC LIMIT $2)`, s.source, keep)
	if err != nil {
		return 0, fmt.Errorf("pruning snapshots: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RestoreLatest seeds agg from the newest snapshot. An empty table is not
// an error.
func (s *Store) RestoreLatest(ctx context.Context, agg *analytics.Aggregator) error {
	snap, err := s.Latest(ctx)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	agg.Restore(snap.Stats)
	s.logger.Info("analytics restored",
		"snapshot_id", snap.ID,
		"captured_at", snap.CapturedAt,
		"total_searches", snap.Stats.TotalSearches,
	)
	return nil
}

// StartPeriodicSave snapshots src every interval and once more when ctx
// ends, keeping the newest keep snapshots. Ticks where nothing was recorded
// since the last save write nothing.
func (s *Store) StartPeriodicSave(ctx context.Context, src StatsSource, interval time.Duration, keep int) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var last activity
		for {
			select {
			case <-ticker.C:
				last = s.saveIfChanged(ctx, src, last, keep)
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				s.saveIfChanged(shutdownCtx, src, last, keep)
				cancel()
				return
			}
		}
	}()
	s.logger.Info("periodic snapshot started", "interval", interval, "retention", keep)
}

// activity identifies a state of the aggregator for change detection.
type activity struct {
	searches, instant, indexed, rejected int64
}

func activityOf(st analytics.AggregatedStats) activity {
	return activity{st.TotalSearches, st.InstantSearches, st.DocsIndexed, st.DocsRejected}
}

func (s *Store) saveIfChanged(ctx context.Context, src StatsSource, last activity, keep int) activity {
	stats := src.Stats()
	now := activityOf(stats)
	if now == last {
		return last
	}
	snap, err := s.Save(ctx, stats)
	if err != nil {
		s.logger.Error("snapshot failed", "error", err)
		return last
	}
	pruned, err := s.Prune(ctx, keep)
	if err != nil {
		s.logger.Warn("snapshot pruning failed", "error", err)
	}
	s.logger.Debug("snapshot saved",
		"snapshot_id", snap.ID,
		"total_searches", stats.TotalSearches,
		"pruned", pruned,
	)
	return now
}
