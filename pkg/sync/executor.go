// SPDX-License-Identifier: Apache-2.0

package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/pgsync/pgsync/internal/dbconn"
	"github.com/pgsync/pgsync/pkg/backup"
	"github.com/pgsync/pgsync/pkg/idempotency"
	"github.com/pgsync/pgsync/pkg/metrics"
	"github.com/pgsync/pgsync/pkg/ratelimit"
	"github.com/pgsync/pgsync/pkg/retry"
	"github.com/pgsync/pgsync/pkg/schema"
	"github.com/pgsync/pgsync/pkg/sink"
	"github.com/pgsync/pgsync/pkg/validate"
)

// Executor owns all job-scoped state (connections, checkpoint, metrics,
// rate limiter, backup handle) for the duration of one Execute call
// (spec.md §3: "Ownership").
type Executor struct {
	Tracker *idempotency.Tracker
	Backup  *backup.Manager
	Sink    sink.JobSink
	Metrics metrics.Store

	inspector *schema.Inspector
	validator *validate.Validator
}

// New constructs an Executor. Tracker, Backup, and Sink may be nil, in
// which case the corresponding component degrades as its package
// documents.
func New(tracker *idempotency.Tracker, backupMgr *backup.Manager, jobSink sink.JobSink) *Executor {
	if tracker == nil {
		tracker = idempotency.New()
	}
	return &Executor{
		Tracker:   tracker,
		Backup:    backupMgr,
		Sink:      jobSink,
		inspector: schema.NewInspector(""),
		validator: validate.New(),
	}
}

// jobState carries everything a running job needs across its pre-flight
// and per-table phases, so that batch-loop helpers don't need a dozen
// positional parameters.
type jobState struct {
	cfg     JobConfig
	control *ControlHandle

	source dbconn.Conn
	target dbconn.Conn

	sourceSchema *schema.DatabaseSchema
	targetSchema *schema.DatabaseSchema

	tableOrder []string
	strategies map[string]ConflictStrategy

	limiter *ratelimit.Limiter
	metrics *metrics.Collector

	deadline time.Time

	results map[string]*TableResult
	backupID string
}

// Execute runs one sync job to completion, pause, cancellation, or fatal
// failure. It always returns a Result with Success set. When the job stops
// part-way through its tables, the Result carries a Checkpoint from which a
// later call can resume (nil only when the failing table is absent from the
// source schema); a pre-flight failure returns the error and no Checkpoint.
func (e *Executor) Execute(ctx context.Context, cfg JobConfig, control *ControlHandle) (*Result, error) {
	cfg = cfg.withDefaults()
	if control == nil {
		control = NewControlHandle()
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.JobTimeout)
	defer cancel()

	st, err := e.preflight(ctx, cfg, control)
	if err != nil {
		e.logError("preflight failed: %v", err)
		e.pushComplete(false, nil)
		return &Result{Success: false}, err
	}
	defer st.source.Close()
	defer st.target.Close()

	result := &Result{Tables: map[string]*TableResult{}, BackupID: st.backupID}

	startIdx := 0
	if cfg.Checkpoint != nil {
		for i, t := range st.tableOrder {
			if t == cfg.Checkpoint.LastTable {
				startIdx = i
				break
			}
		}
	}

	for i := startIdx; i < len(st.tableOrder); i++ {
		table := st.tableOrder[i]
		if cfg.Checkpoint != nil && contains(cfg.Checkpoint.ProcessedTables, table) {
			continue
		}

		if control.shouldStop() {
			result.Checkpoint = e.checkpointAt(st, table, "", time.Time{})
			result.Success = false
			e.completeMetrics(ctx, st, control)
			e.pushComplete(false, result.Checkpoint)
			return result, nil
		}

		afterID := ""
		if cfg.Checkpoint != nil && table == cfg.Checkpoint.LastTable {
			afterID = cfg.Checkpoint.LastRowID
		}

		tr, checkpoint, stopped, err := e.syncTable(ctx, st, table, afterID)
		st.results[table] = tr
		result.Tables[table] = tr

		if err != nil {
			e.logError("table %s failed fatally: %v", table, err)
			result.Checkpoint = checkpoint
			result.Success = false
			if e.Backup != nil && st.backupID != "" {
				if restoreErr := e.attemptRestore(ctx, st); restoreErr != nil {
					e.logError("restore after fatal failure also failed: %v", restoreErr)
				}
			}
			_ = st.metrics.Complete(ctx, metrics.StatusFailed)
			e.pushComplete(false, result.Checkpoint)
			return result, nil
		}
		if stopped {
			result.Checkpoint = checkpoint
			result.Success = false
			e.completeMetrics(ctx, st, control)
			e.pushComplete(false, result.Checkpoint)
			return result, nil
		}
	}

	result.Success = true
	_ = st.metrics.Complete(ctx, metrics.StatusCompleted)
	e.pushComplete(true, nil)
	return result, nil
}

// completeMetrics finalizes the job's metrics record, classifying a
// cooperative stop as paused or failed depending on which control flag
// caused it (spec.md §4.9.6).
func (e *Executor) completeMetrics(ctx context.Context, st *jobState, control *ControlHandle) {
	status := metrics.StatusFailed
	if control.isPaused() {
		status = metrics.StatusPaused
	}
	_ = st.metrics.Complete(ctx, status)
}

func (e *Executor) attemptRestore(ctx context.Context, st *jobState) error {
	if e.Backup == nil || st.backupID == "" {
		return nil
	}
	return e.Backup.Restore(ctx, st.cfg.JobID, &backup.Metadata{ID: st.backupID}, connParamsFromURL(st.cfg.TargetURL))
}

func (e *Executor) checkpointAt(st *jobState, table, rowID string, updatedAt time.Time) *Checkpoint {
	var processed []string
	for t := range st.results {
		if t != table {
			processed = append(processed, t)
		}
	}
	return &Checkpoint{LastTable: table, LastRowID: rowID, LastUpdatedAt: updatedAt, ProcessedTables: processed}
}

func (e *Executor) logError(format string, args ...any) {
	if e.Sink == nil {
		return
	}
	e.Sink.Error(fmt.Sprintf(format, args...))
}

func (e *Executor) logInfo(format string, args ...any) {
	if e.Sink == nil {
		return
	}
	e.Sink.Info(fmt.Sprintf(format, args...))
}

func (e *Executor) pushProgress(p SyncProgress) {
	if e.Sink == nil {
		return
	}
	e.Sink.Progress(sink.Progress{
		JobID:     p.JobID,
		Table:     p.Table,
		RowsDone:  p.RowsDone,
		RowsTotal: p.RowsTotal,
		Phase:     p.Phase,
	})
}

// pushCheckpoint reports a mid-table resume position to the sink every
// CheckpointInterval processed rows (spec.md §4.9.4 step 10, §6 item 5), so
// a crash between cooperative stop checks still leaves a usable resume
// point for a caller persisting sink checkpoints out of process.
func (e *Executor) pushCheckpoint(st *jobState, table, rowID string) {
	if e.Sink == nil {
		return
	}
	cp := e.checkpointAt(st, table, rowID, time.Time{})
	e.Sink.Checkpoint(sink.Checkpoint{
		JobID:           st.cfg.JobID,
		Table:           cp.LastTable,
		LastRowID:       cp.LastRowID,
		ProcessedTables: cp.ProcessedTables,
	})
}

func (e *Executor) pushComplete(success bool, cp *Checkpoint) {
	if e.Sink == nil {
		return
	}
	var sinkCp *sink.Checkpoint
	if cp != nil {
		sinkCp = &sink.Checkpoint{Table: cp.LastTable, LastRowID: cp.LastRowID, ProcessedTables: cp.ProcessedTables}
	}
	e.Sink.Complete(success, sinkCp)
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// withRetryWrapper adapts retry.WithRetry to the executor's configured
// MaxRetries/RetryDelay, used for connection open and per-batch fetches
// (spec.md §4.9.2 step 2, §4.9.4 step 2).
func withRetryWrapper(ctx context.Context, cfg JobConfig, fn func(context.Context) error) error {
	return retry.WithRetry(ctx, retry.Config{
		MaxAttempts:  cfg.MaxRetries,
		MaxBackoff:   1 * time.Minute,
		BaseInterval: cfg.RetryDelay,
	}, fn)
}
