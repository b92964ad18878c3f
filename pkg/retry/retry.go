// SPDX-License-Identifier: Apache-2.0

// Package retry classifies sync errors and provides the retry, timeout, and
// circuit-breaker primitives the executor wraps target operations in
// (spec.md §4.10).
package retry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cloudflare/backoff"
	"github.com/lib/pq"
)

// Class categorizes an error by how the executor should respond to it.
type Class string

const (
	// ClassTransient errors are retried with backoff: lock timeouts,
	// serialization failures, deadlocks, connection resets, too many
	// connections.
	ClassTransient Class = "transient"
	// ClassPermanent errors fail the current row/batch but not the job:
	// constraint violations, type mismatches.
	ClassPermanent Class = "permanent"
	// ClassFatal errors abort the whole job and trigger restore: auth
	// failures, missing database, disk full.
	ClassFatal Class = "fatal"
)

var fatalSubstrings = []string{
	"password authentication failed",
	"database does not exist",
	"no space left on device",
}

// transientSubstrings match retryable failures that may arrive without a
// Postgres error code (network errors surfaced by the driver).
var transientSubstrings = []string{
	"connection reset",
	"too many connections",
}

var permanentPqCodes = map[pq.ErrorCode]bool{
	"23505": true, // unique_violation
	"23503": true, // foreign_key_violation
	"23502": true, // not_null_violation
	"23514": true, // check_violation
	"22P02": true, // invalid_text_representation
}

var transientPqCodes = map[pq.ErrorCode]bool{
	"55P03": true, // lock_not_available
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"08006": true, // connection_failure
	"08003": true, // connection_does_not_exist
}

// Classify inspects err and reports which Class the executor's failure
// policy should treat it as (spec.md §4.9.6).
func Classify(err error) Class {
	if err == nil {
		return ClassPermanent
	}

	msg := strings.ToLower(err.Error())
	for _, s := range fatalSubstrings {
		if strings.Contains(msg, s) {
			return ClassFatal
		}
	}
	for _, s := range transientSubstrings {
		if strings.Contains(msg, s) {
			return ClassTransient
		}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if transientPqCodes[pqErr.Code] {
			return ClassTransient
		}
		if permanentPqCodes[pqErr.Code] {
			return ClassPermanent
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	return ClassPermanent
}

// Config configures WithRetry's backoff behavior.
type Config struct {
	MaxAttempts  int
	MaxBackoff   time.Duration
	BaseInterval time.Duration
}

func defaultConfig() Config {
	return Config{MaxAttempts: 5, MaxBackoff: 1 * time.Minute, BaseInterval: 250 * time.Millisecond}
}

// WithRetry runs fn, retrying with exponential backoff and jitter while the
// error classifies as transient, up to cfg.MaxAttempts.
func WithRetry(ctx context.Context, cfg Config, fn func(context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg = defaultConfig()
	}

	b := backoff.New(cfg.MaxBackoff, cfg.BaseInterval)

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if Classify(lastErr) != ClassTransient {
			return lastErr
		}
		if err := sleepCtx(ctx, b.Duration()); err != nil {
			return err
		}
	}
	return lastErr
}

// WithTimeout runs fn with a derived context that is canceled after d.
func WithTimeout(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(cctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// breakerState is the circuit breaker's current mode.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// CircuitBreaker trips open after Threshold consecutive failures, refusing
// calls until ResetTimeout elapses, then allows one trial call
// (half-open) before closing again.
type CircuitBreaker struct {
	Threshold    int
	ResetTimeout time.Duration

	mu          sync.Mutex
	state       breakerState
	failures    int
	openedAt    time.Time
}

func NewCircuitBreaker(threshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{Threshold: threshold, ResetTimeout: resetTimeout}
}

// ErrCircuitOpen is returned by Execute when the breaker is open and the
// reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("retry: circuit breaker is open")

// Execute runs fn guarded by the breaker's state machine.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	cb.mu.Lock()
	if cb.state == breakerOpen {
		if time.Since(cb.openedAt) < cb.ResetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.state = breakerHalfOpen
	}
	cb.mu.Unlock()

	err := fn(ctx)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		if cb.state == breakerHalfOpen || cb.failures >= cb.Threshold {
			cb.state = breakerOpen
			cb.openedAt = time.Now()
		}
		return err
	}

	cb.failures = 0
	cb.state = breakerClosed
	return nil
}
