// SPDX-License-Identifier: Apache-2.0

// Package metrics accumulates timings, throughput, retries, and throttle
// statistics for one sync job, and persists a final snapshot to a durable
// store on completion (spec.md §4.6).
package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

const maxSnapshots = 100

// Status is the terminal state a job finished in.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusPaused    Status = "paused"
)

// TableStats accumulates per-table counters and timing.
type TableStats struct {
	Table      string
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	Inserted   int64
	Updated    int64
	Skipped    int64
	Errors     int64
	Rows       int64
}

// RowsPerSecond returns the table's throughput, or 0 if it hasn't run long
// enough to measure.
func (s TableStats) RowsPerSecond() float64 {
	secs := s.Duration.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.Rows) / secs
}

// Summary renders a one-line human-readable progress report for log output,
// e.g. "42,310 rows (470/s), 3 errors in 1m30s".
func (s TableStats) Summary() string {
	rate := s.RowsPerSecond()
	suffix := ""
	if s.Errors > 0 {
		suffix = fmt.Sprintf(", %s errors", humanize.Comma(s.Errors))
	}
	return fmt.Sprintf("%s rows (%s/s)%s in %s",
		humanize.Comma(s.Rows), humanize.Comma(int64(rate)), suffix, s.Duration.Round(time.Second))
}

// Snapshot is a point-in-time view of a job's accumulated metrics, retained
// in a bounded ring so dashboards can chart progress without unbounded
// memory growth.
type Snapshot struct {
	TakenAt        time.Time
	RowsProcessed  int64
	RowsInserted   int64
	RowsUpdated    int64
	RowsSkipped    int64
	Errors         int64
	Retries        int64
	ThrottleMillis int64
}

// Record is the full metrics record persisted to the durable store when a
// job completes.
type Record struct {
	JobID       string
	Status      Status
	StartedAt   time.Time
	FinishedAt  time.Time
	Duration    time.Duration
	Tables      map[string]*TableStats
	Snapshots   []Snapshot
	PeakMemory  uint64
	TotalErrors int64
	TotalRetry  int64
}

// Summary renders a one-line human-readable report of the whole job, used
// in the CLI's final status line and unattended log output.
func (r Record) Summary() string {
	return fmt.Sprintf("job %s %s: %s rows processed, %s inserted, %s updated, %s errors, peak memory %s, in %s",
		r.JobID, r.Status,
		humanize.Comma(r.TotalRowsProcessed()), humanize.Comma(r.totalInserted()), humanize.Comma(r.totalUpdated()),
		humanize.Comma(r.TotalErrors), humanize.Bytes(r.PeakMemory), r.Duration.Round(time.Second))
}

// TotalRowsProcessed sums every table's row count.
func (r Record) TotalRowsProcessed() int64 {
	var total int64
	for _, t := range r.Tables {
		total += t.Rows
	}
	return total
}

func (r Record) totalInserted() int64 {
	var total int64
	for _, t := range r.Tables {
		total += t.Inserted
	}
	return total
}

func (r Record) totalUpdated() int64 {
	var total int64
	for _, t := range r.Tables {
		total += t.Updated
	}
	return total
}

// Store persists a completed job's metrics record.
type Store interface {
	Persist(ctx context.Context, record Record) error
}

// Collector accumulates metrics for a single sync job. It is safe for
// concurrent use.
type Collector struct {
	mu sync.Mutex

	jobID     string
	store     Store
	startedAt time.Time

	tables map[string]*TableStats
	order  []string

	rowsProcessed int64
	rowsInserted  int64
	rowsUpdated   int64
	rowsSkipped   int64
	errors        int64
	retries       int64
	throttleNanos int64

	snapshots []Snapshot
	peakMem   uint64
}

func New(jobID string, store Store) *Collector {
	return &Collector{
		jobID:     jobID,
		store:     store,
		startedAt: time.Now(),
		tables:    map[string]*TableStats{},
	}
}

// StartTable begins timing for a table. Calling it twice for the same table
// resets its start time.
func (c *Collector) StartTable(table string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.tables[table]; !ok {
		c.order = append(c.order, table)
	}
	c.tables[table] = &TableStats{Table: table, StartedAt: time.Now()}
}

// CompleteTable finalizes a table's duration.
func (c *Collector) CompleteTable(table string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts, ok := c.tables[table]
	if !ok {
		return
	}
	ts.FinishedAt = time.Now()
	ts.Duration = ts.FinishedAt.Sub(ts.StartedAt)
}

// RecordBatch folds one batch's outcome into the running totals.
func (c *Collector) RecordBatch(table string, rowCount int, duration time.Duration, inserted, updated, skipped, errs int64, bytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts, ok := c.tables[table]
	if !ok {
		ts = &TableStats{Table: table, StartedAt: time.Now()}
		c.tables[table] = ts
		c.order = append(c.order, table)
	}
	ts.Rows += int64(rowCount)
	ts.Inserted += inserted
	ts.Updated += updated
	ts.Skipped += skipped
	ts.Errors += errs

	c.rowsProcessed += int64(rowCount)
	c.rowsInserted += inserted
	c.rowsUpdated += updated
	c.rowsSkipped += skipped
	c.errors += errs

	c.pushSnapshotLocked()
}

// RecordError increments the error counter outside the per-batch path, e.g.
// for errors raised during pre-flight.
func (c *Collector) RecordError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors++
}

// RecordRetry increments the retry counter.
func (c *Collector) RecordRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retries++
}

// RecordThrottling adds to the accumulated time spent waiting on the rate
// limiter.
func (c *Collector) RecordThrottling(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.throttleNanos += d.Nanoseconds()
}

// RecordPeakMemory lets the host report its own memory usage (e.g. from
// runtime.MemStats) without this package depending on runtime internals.
func (c *Collector) RecordPeakMemory(bytes uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bytes > c.peakMem {
		c.peakMem = bytes
	}
}

// pushSnapshotLocked appends a point-in-time snapshot, evicting the oldest
// once maxSnapshots is exceeded. Must be called with mu held.
func (c *Collector) pushSnapshotLocked() {
	snap := Snapshot{
		TakenAt:        time.Now(),
		RowsProcessed:  c.rowsProcessed,
		RowsInserted:   c.rowsInserted,
		RowsUpdated:    c.rowsUpdated,
		RowsSkipped:    c.rowsSkipped,
		Errors:         c.errors,
		Retries:        c.retries,
		ThrottleMillis: c.throttleNanos / int64(time.Millisecond),
	}
	if len(c.snapshots) >= maxSnapshots {
		copy(c.snapshots, c.snapshots[1:])
		c.snapshots[len(c.snapshots)-1] = snap
	} else {
		c.snapshots = append(c.snapshots, snap)
	}
}

// Snapshots returns a copy of the retained snapshot history.
func (c *Collector) Snapshots() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Snapshot, len(c.snapshots))
	copy(out, c.snapshots)
	return out
}

// Complete finalizes the job's record and, if a durable store is
// configured, persists it.
func (c *Collector) Complete(ctx context.Context, status Status) error {
	c.mu.Lock()
	finishedAt := time.Now()
	tables := make(map[string]*TableStats, len(c.tables))
	for k, v := range c.tables {
		cp := *v
		tables[k] = &cp
	}
	record := Record{
		JobID:       c.jobID,
		Status:      status,
		StartedAt:   c.startedAt,
		FinishedAt:  finishedAt,
		Duration:    finishedAt.Sub(c.startedAt),
		Tables:      tables,
		Snapshots:   append([]Snapshot(nil), c.snapshots...),
		PeakMemory:  c.peakMem,
		TotalErrors: c.errors,
		TotalRetry:  c.retries,
	}
	store := c.store
	c.mu.Unlock()

	if store == nil {
		return nil
	}
	return store.Persist(ctx, record)
}
