// SPDX-License-Identifier: Apache-2.0

// Package dbconn opens and retires pooled PostgreSQL connections from plain
// connection-string URLs. A Conn is owned exclusively by whichever component
// opened it (the sync executor, the diff engine's preview path, ...) and is
// closed on every exit path.
package dbconn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cloudflare/backoff"
	"github.com/lib/pq"
	"golang.org/x/sync/errgroup"
)

const (
	lockNotAvailableErrorCode     pq.ErrorCode = "55P03"
	serializationFailureErrorCode pq.ErrorCode = "40001"
	deadlockDetectedErrorCode     pq.ErrorCode = "40P01"

	maxBackoffDuration = 1 * time.Minute
	backoffInterval    = 250 * time.Millisecond
)

// Conn is a handle to a PostgreSQL instance: parameterized queries, unsafe
// string-formatted statements with bound parameters, and transaction scopes.
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	WithTx(ctx context.Context, isolation sql.IsolationLevel, f func(context.Context, *sql.Tx) error) error
	Raw() *sql.DB
	Close() error
}

// Conn wraps a *sql.DB and retries queries with exponential backoff and
// jitter on lock-not-available and serialization-failure errors.
type pgConn struct {
	db *sql.DB
}

// Open connects to a PostgreSQL URL and verifies the connection with a ping.
func Open(ctx context.Context, url string) (Conn, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("opening connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &pgConn{db: db}, nil
}

// OpenPair opens the source and target connections concurrently (§5: "parallel
// opening of source and target connections").
func OpenPair(ctx context.Context, sourceURL, targetURL string) (source, target Conn, err error) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		source, err = Open(gctx, sourceURL)
		if err != nil {
			return fmt.Errorf("opening source connection: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		target, err = Open(gctx, targetURL)
		if err != nil {
			return fmt.Errorf("opening target connection: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		if source != nil {
			source.Close()
		}
		if target != nil {
			target.Close()
		}
		return nil, nil, err
	}

	return source, target, nil
}

func (c *pgConn) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	b := backoff.New(maxBackoffDuration, backoffInterval)
	for {
		res, err := c.db.ExecContext(ctx, query, args...)
		if err == nil {
			return res, nil
		}
		if !isLockOrSerializationError(err) {
			return nil, err
		}
		if err := sleepCtx(ctx, b.Duration()); err != nil {
			return nil, err
		}
	}
}

func (c *pgConn) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	b := backoff.New(maxBackoffDuration, backoffInterval)
	for {
		rows, err := c.db.QueryContext(ctx, query, args...)
		if err == nil {
			return rows, nil
		}
		if !isLockOrSerializationError(err) {
			return nil, err
		}
		if err := sleepCtx(ctx, b.Duration()); err != nil {
			return nil, err
		}
	}
}

func (c *pgConn) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return c.db.QueryRowContext(ctx, query, args...)
}

// WithTx runs f inside a transaction at the given isolation level, retrying
// the whole transaction on lock-not-available or serialization failures.
func (c *pgConn) WithTx(ctx context.Context, isolation sql.IsolationLevel, f func(context.Context, *sql.Tx) error) error {
	b := backoff.New(maxBackoffDuration, backoffInterval)

	for {
		tx, err := c.db.BeginTx(ctx, &sql.TxOptions{Isolation: isolation})
		if err != nil {
			return err
		}

		err = f(ctx, tx)
		if err == nil {
			return tx.Commit()
		}

		if errRollback := tx.Rollback(); errRollback != nil && !errors.Is(errRollback, sql.ErrTxDone) {
			return errors.Join(err, errRollback)
		}

		if !isLockOrSerializationError(err) {
			return err
		}
		if err := sleepCtx(ctx, b.Duration()); err != nil {
			return err
		}
	}
}

func (c *pgConn) Raw() *sql.DB { return c.db }

func (c *pgConn) Close() error { return c.db.Close() }

func isLockOrSerializationError(err error) bool {
	pqErr := &pq.Error{}
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case lockNotAvailableErrorCode, serializationFailureErrorCode, deadlockDetectedErrorCode:
		return true
	default:
		return false
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// ScanFirstValue scans a single column from the first row of rows, assuming
// exactly one row is expected.
func ScanFirstValue[T any](rows *sql.Rows, dest *T) error {
	if rows.Next() {
		if err := rows.Scan(dest); err != nil {
			return err
		}
	}
	return rows.Err()
}
