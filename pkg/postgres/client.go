// Package postgres opens lib/pq connection pools and classifies the
// PostgreSQL error codes the stores react to.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/config"
	"github.com/lib/pq"
)

const (
	codeUniqueViolation      pq.ErrorCode = "23505"
	codeSerializationFailure pq.ErrorCode = "40001"
	codeDeadlockDetected     pq.ErrorCode = "40P01"

	txAttempts = 3
)

type Client struct {
	*sql.DB
}

// New opens a pool sized from cfg.
func New(cfg config.PostgresConfig) (*Client, error) {
	c, err := NewFromDSN(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("postgres %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Database, err)
	}
	c.SetMaxOpenConns(cfg.MaxOpenConns)
	c.SetMaxIdleConns(cfg.MaxIdleConns)
	c.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return c, nil
}

// NewFromDSN opens a pool from a lib/pq DSN or URL and checks it answers.
func NewFromDSN(dsn string) (*Client, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening connection: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging: %w", err)
	}
	return &Client{DB: db}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.PingContext(ctx)
}

// InTx runs fn in a transaction and commits if it returns nil. A commit or
// statement that loses a serialization or deadlock race reruns fn from the
// start, so fn must not keep state across calls.
func (c *Client) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 1; attempt <= txAttempts; attempt++ {
		if err = c.runTx(ctx, fn); err == nil || !IsRetryable(err) || ctx.Err() != nil {
			return err
		}
	}
	return fmt.Errorf("transaction failed %d times: %w", txAttempts, err)
}

func (c *Client) runTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := c.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Code returns the SQLSTATE of err, or "" when err did not come from the
// server.
func Code(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}

func IsUniqueViolation(err error) bool { return Code(err) == codeUniqueViolation }

// IsRetryable reports whether the server aborted the transaction only
// because of a concurrent one.
func IsRetryable(err error) bool {
	switch Code(err) {
	case codeSerializationFailure, codeDeadlockDetected:
		return true
	}
	return false
}
