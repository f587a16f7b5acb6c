package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errCache = errors.New("redis: connection refused")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 12, 20, 9, 0, 0, 0, time.UTC)}
	var transitions []State
	cb := NewCircuitBreaker("result-cache", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		OnStateChange:    func(_ string, to State) { transitions = append(transitions, to) },
		Now:              clock.now,
	})

	assert.ErrorIs(t, cb.Execute(func() error { return errCache }), errCache)
	assert.ErrorIs(t, cb.Execute(func() error { return errCache }), errCache)
	assert.Equal(t, StateOpen, cb.GetState())

	calls := 0
	err := cb.Execute(func() error { calls++; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Zero(t, calls)

	clock.advance(time.Minute)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestCircuitBreakerFailedProbeReopens(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 12, 20, 9, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("result-cache", CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Second,
		Now:              clock.now,
	})
	_ = cb.Execute(func() error { return errCache })
	clock.advance(time.Second)

	assert.ErrorIs(t, cb.Execute(func() error { return errCache }), errCache)
	assert.Equal(t, StateOpen, cb.GetState())
	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)
}

func TestCircuitBreakerIgnoresCancellation(t *testing.T) {
	cb := NewCircuitBreaker("result-cache", CircuitBreakerConfig{FailureThreshold: 1})
	for range 3 {
		err := cb.Execute(func() error { return context.Canceled })
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), "postgres connect", RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
	}, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errCache
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryGivesUp(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), "kafka-handle", RetryConfig{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
	}, func(context.Context) error {
		attempts++
		return errCache
	})
	assert.ErrorIs(t, err, errCache)
	assert.Equal(t, 2, attempts)
}

func TestRetryStopsOnPermanentErrors(t *testing.T) {
	permanent := []error{
		apperrors.New(apperrors.ErrMalformedDocument, "document has no title"),
		apperrors.ErrNotFound,
		apperrors.ErrConflict,
	}
	for _, perr := range permanent {
		attempts := 0
		err := Retry(context.Background(), "handle", RetryConfig{
			MaxAttempts:  5,
			InitialDelay: time.Millisecond,
		}, func(context.Context) error {
			attempts++
			return perr
		})
		assert.ErrorIs(t, err, perr)
		assert.Equal(t, 1, attempts, perr.Error())
	}
}

func TestRetryCustomClassifier(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), "handle", RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		Retryable:    func(err error) bool { return !errors.Is(err, errCache) },
	}, func(context.Context) error {
		attempts++
		return errCache
	})
	assert.ErrorIs(t, err, errCache)
	assert.Equal(t, 1, attempts)
}

func TestRetryAbortsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Retry(ctx, "postgres connect", RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Hour,
	}, func(context.Context) error {
		attempts++
		cancel()
		return errCache
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestBackoffBounds(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second}.withDefaults()
	assert.GreaterOrEqual(t, cfg.backoff(1), 100*time.Millisecond)
	assert.LessOrEqual(t, cfg.backoff(2), 220*time.Millisecond)
	assert.Equal(t, time.Second, cfg.backoff(10))
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), 10*time.Millisecond, "reindex kb-001", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, apperrors.ErrTimeout)

	err = WithTimeout(context.Background(), time.Second, "reindex kb-001", func(ctx context.Context) error {
		return errCache
	})
	assert.ErrorIs(t, err, errCache)

	err = WithTimeout(context.Background(), 0, "reindex kb-001", func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err)
}

func TestWithTimeoutParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithTimeout(ctx, time.Second, "reindex kb-001", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, apperrors.ErrTimeout)
}
