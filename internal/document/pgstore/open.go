package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/resilience"
)

// Open connects to PostgreSQL and applies migrations, retrying while the
// database starts up. The caller closes the returned client.
func Open(ctx context.Context, cfg config.PostgresConfig, opts ...Option) (*Store, *postgres.Client, error) {
	var db *postgres.Client
	retryCfg := resilience.RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
	}
	err := resilience.Retry(ctx, "postgres connect", retryCfg, func(context.Context) error {
		var err error
		db, err = postgres.New(cfg)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := Migrate(cfg.DSN()); err != nil {
		db.Close()
		return nil, nil, err
	}
	return New(db, opts...), db, nil
}
