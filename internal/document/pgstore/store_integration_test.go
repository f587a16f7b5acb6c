//go:build integration

package pgstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/document"
	apperrors "github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/errors"
	pgclient "github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupStore(t *testing.T, clock document.Clock) *Store {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("ark_knowledge_test"),
		postgres.WithUsername("ark"),
		postgres.WithPassword("ark"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := ctr.Terminate(context.Background()); err != nil {
			t.Logf("terminating container: %v", err)
		}
	})

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, Migrate(dsn))
	require.NoError(t, Migrate(dsn), "migrations are idempotent")

	client, err := pgclient.NewFromDSN(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return New(client, WithClock(clock))
}

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 12, 20, 9, 0, 0, 0, time.UTC)
	s := setupStore(t, func() time.Time { return now })

	var events []document.ChangeEvent
	s.Subscribe(func(_ context.Context, ev document.ChangeEvent) { events = append(events, ev) })

	doc := &document.Document{
		ID:         "kb-001",
		Title:      "套房定義及貸款成數規定",
		Content:    "套房定義為建築物登記面積15坪以下",
		Type:       document.TypeRegulation,
		Department: document.DeptCredit,
		Tags:       []string{"貸款成數", "套房"},
		Status:     document.StatusPublished,
	}
	ev, err := s.Upsert(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, document.ChangeCreated, ev.Kind)
	assert.Equal(t, int64(1), ev.Version)

	got, err := s.Get(ctx, "kb-001")
	require.NoError(t, err)
	assert.Equal(t, []string{"套房", "貸款成數"}, got.Tags)
	assert.Equal(t, now, got.CreatedAt)

	doc.Tags = []string{"套房", "貸款成數"}
	ev, err = s.Upsert(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ev.Version, "same tag set keeps the version")

	now = now.Add(48 * time.Hour)
	doc.Content = "套房貸款成數最高不得超過房屋鑑價之70%"
	ev, err = s.Upsert(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, int64(2), ev.Version)

	got, err = s.Get(ctx, "kb-001")
	require.NoError(t, err)
	assert.Equal(t, now, got.UpdatedAt)

	require.NoError(t, s.RecordView(ctx, "kb-001"))
	got, _ = s.Get(ctx, "kb-001")
	assert.Equal(t, int64(1), got.Views)

	docs, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	ev, err = s.Remove(ctx, "kb-001")
	require.NoError(t, err)
	assert.Equal(t, document.ChangeDeleted, ev.Kind)

	_, err = s.Get(ctx, "kb-001")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = s.Remove(ctx, "kb-001")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	assert.Len(t, events, 4)
}

func TestConcurrentUpsertsSerialize(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	now := time.Date(2024, 12, 20, 9, 0, 0, 0, time.UTC)
	s := setupStore(t, func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Upsert(ctx, &document.Document{
				ID:         "kb-100",
				Title:      "外匯申報",
				Content:    time.Now().String(),
				Type:       document.TypeFAQ,
				Department: document.DeptForex,
				Status:     document.StatusPublished,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "kb-100")
	require.NoError(t, err)
	assert.Equal(t, int64(8), got.Version)
}

func TestConcurrentCreatesConflict(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t, func() time.Time { return time.Date(2024, 12, 20, 9, 0, 0, 0, time.UTC) })

	errs := make(chan error, 8)
	var wg sync.WaitGroup
	for i := 0; i < cap(errs); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Create(ctx, &document.Document{
				ID:         "kb-200",
				Title:      "信用卡掛失",
				Content:    "掛失流程",
				Type:       document.TypeSOP,
				Department: document.DeptDigital,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	created := 0
	for err := range errs {
		if err == nil {
			created++
			continue
		}
		assert.ErrorIs(t, err, apperrors.ErrConflict)
	}
	assert.Equal(t, 1, created)

	got, err := s.Get(ctx, "kb-200")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, document.StatusDraft, got.Status)
}
