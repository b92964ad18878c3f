// SPDX-License-Identifier: Apache-2.0

// Package idempotency tracks which (job, table, row) triples have already
// been synced, so that re-running a job after a crash or a retry never
// double-applies a row (spec.md §4.5).
package idempotency

import (
	"context"
	"sync"
	"time"
)

// Operation is the terminal outcome recorded for a processed row.
type Operation string

const (
	OperationInsert Operation = "insert"
	OperationUpdate Operation = "update"
	OperationSkip   Operation = "skip"
)

// ProcessedRow is one entry in the durable store, unique on
// (JobID, Table, RowID).
type ProcessedRow struct {
	JobID       string
	Table       string
	RowID       string
	Operation   Operation
	BatchID     string
	ProcessedAt time.Time
}

// DurableStore is the externally-provided, persistent backend for processed
// row records. Implementations must upsert on the (jobID, table, rowID)
// triple so retried marks are idempotent themselves.
type DurableStore interface {
	MarkProcessed(ctx context.Context, row ProcessedRow) error
	MarkProcessedBulk(ctx context.Context, rows []ProcessedRow) error
	IsProcessed(ctx context.Context, jobID, table, rowID string) (bool, error)
	GetProcessedIDs(ctx context.Context, jobID, table string, rowIDs []string) (map[string]bool, error)
}

// EphemeralStore is a fast, TTL-bounded cache consulted before the durable
// store. Implementations need not persist across process restarts.
type EphemeralStore interface {
	Set(ctx context.Context, key string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	SetBulk(ctx context.Context, keys []string, ttl time.Duration) error
	ExistsBulk(ctx context.Context, keys []string) (map[string]bool, error)
}

const defaultTTL = 24 * time.Hour

// Tracker composes an ephemeral and a durable store behind one interface.
// Reads consult the ephemeral store first, then fall through to durable;
// writes go to both. Either collaborator may be nil, in which case the
// tracker degrades rather than branching at call sites: a nil ephemeral
// store is simply skipped on read and write, and with neither store
// configured IsRowProcessed/GetProcessedRowIDs always report unprocessed
// (spec.md §4.5).
type Tracker struct {
	ephemeral EphemeralStore
	durable   DurableStore
	ttl       time.Duration

	mu sync.Mutex
}

// Option configures a Tracker.
type Option func(*Tracker)

func WithEphemeralStore(s EphemeralStore) Option {
	return func(t *Tracker) { t.ephemeral = s }
}

func WithDurableStore(s DurableStore) Option {
	return func(t *Tracker) { t.durable = s }
}

func WithTTL(ttl time.Duration) Option {
	return func(t *Tracker) { t.ttl = ttl }
}

func New(opts ...Option) *Tracker {
	t := &Tracker{ttl: defaultTTL}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func key(jobID, table, rowID string) string {
	return jobID + "\x00" + table + "\x00" + rowID
}

// MarkRowProcessed records one terminal operation for a row. It is safe to
// call more than once for the same triple.
func (t *Tracker) MarkRowProcessed(ctx context.Context, jobID, table, rowID string, op Operation, batchID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ephemeral != nil {
		if err := t.ephemeral.Set(ctx, key(jobID, table, rowID), t.ttl); err != nil {
			return err
		}
	}
	if t.durable != nil {
		return t.durable.MarkProcessed(ctx, ProcessedRow{
			JobID:       jobID,
			Table:       table,
			RowID:       rowID,
			Operation:   op,
			BatchID:     batchID,
			ProcessedAt: processedAtNow(),
		})
	}
	return nil
}

// MarkRowsProcessed is the bulk form of MarkRowProcessed, used at the end of
// each synced batch.
func (t *Tracker) MarkRowsProcessed(ctx context.Context, jobID, table string, rowIDs []string, op Operation, batchID string) error {
	if len(rowIDs) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ephemeral != nil {
		keys := make([]string, len(rowIDs))
		for i, id := range rowIDs {
			keys[i] = key(jobID, table, id)
		}
		if err := t.ephemeral.SetBulk(ctx, keys, t.ttl); err != nil {
			return err
		}
	}
	if t.durable != nil {
		rows := make([]ProcessedRow, len(rowIDs))
		now := processedAtNow()
		for i, id := range rowIDs {
			rows[i] = ProcessedRow{JobID: jobID, Table: table, RowID: id, Operation: op, BatchID: batchID, ProcessedAt: now}
		}
		return t.durable.MarkProcessedBulk(ctx, rows)
	}
	return nil
}

// IsRowProcessed reports whether a row has already been recorded as
// processed for this job and table. Without any configured store it always
// reports false, so the executor treats every row as unprocessed.
func (t *Tracker) IsRowProcessed(ctx context.Context, jobID, table, rowID string) (bool, error) {
	if t.ephemeral != nil {
		if ok, err := t.ephemeral.Exists(ctx, key(jobID, table, rowID)); err != nil {
			return false, err
		} else if ok {
			return true, nil
		}
	}
	if t.durable != nil {
		return t.durable.IsProcessed(ctx, jobID, table, rowID)
	}
	return false, nil
}

// GetProcessedRowIDs returns the subset of rowIDs already marked processed,
// batching the durable lookup in groups of batchSize (default 100) to bound
// query size for large tables (spec.md §4.5).
func (t *Tracker) GetProcessedRowIDs(ctx context.Context, jobID, table string, rowIDs []string, batchSize int) (map[string]bool, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	result := map[string]bool{}
	remaining := rowIDs

	if t.ephemeral != nil {
		keys := make([]string, len(rowIDs))
		for i, id := range rowIDs {
			keys[i] = key(jobID, table, id)
		}
		found, err := t.ephemeral.ExistsBulk(ctx, keys)
		if err != nil {
			return nil, err
		}
		var stillUnknown []string
		for _, id := range rowIDs {
			if found[key(jobID, table, id)] {
				result[id] = true
			} else {
				stillUnknown = append(stillUnknown, id)
			}
		}
		remaining = stillUnknown
	}

	if t.durable == nil || len(remaining) == 0 {
		return result, nil
	}

	for start := 0; start < len(remaining); start += batchSize {
		end := start + batchSize
		if end > len(remaining) {
			end = len(remaining)
		}
		found, err := t.durable.GetProcessedIDs(ctx, jobID, table, remaining[start:end])
		if err != nil {
			return nil, err
		}
		for id, ok := range found {
			if ok {
				result[id] = true
			}
		}
	}

	return result, nil
}

// processedAtNow exists so ProcessedRow.ProcessedAt assignment has one
// call site, keeping the clock source swappable for tests.
var processedAtNow = time.Now
