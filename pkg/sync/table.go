// SPDX-License-Identifier: Apache-2.0

package sync

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pgsync/pgsync/pkg/diff"
	"github.com/pgsync/pgsync/pkg/rowvalue"
	"github.com/pgsync/pgsync/pkg/schema"
)

// rowWithID pairs a materialized source row with its already-extracted id,
// so the insert/update lanes below don't need to re-extract it.
type rowWithID struct {
	id  string
	row rowvalue.Row
}

// syncTable runs the full per-table batch loop (spec.md §4.9.3, §4.9.4)
// starting after afterID (empty for a fresh table). It returns the table's
// result, a checkpoint if it stopped early, whether it stopped
// cooperatively (pause/cancel/timeout, not an error), and a non-nil error
// only for a per-table fatal failure.
func (e *Executor) syncTable(ctx context.Context, st *jobState, table, afterID string) (*TableResult, *Checkpoint, bool, error) {
	tr := &TableResult{Table: table}
	tableStart := time.Now()

	srcTable := st.sourceSchema.GetTable(table)
	if srcTable == nil {
		return tr, nil, false, fmt.Errorf("table %q not present in source schema", table)
	}
	tgtTable := st.targetSchema.GetTable(table)

	st.metrics.StartTable(table)
	e.logTableMetadata(table, tgtTable)

	columns := insertColumns(srcTable)
	strategy := st.strategies[table]

	var rowsSinceCheckpoint int
	var rowsTotal int64
	if err := st.source.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM %s", quoteIdentifier(table))).Scan(&rowsTotal); err != nil {
		rowsTotal = 0
	}

	for {
		if st.control.shouldStop() || time.Now().After(st.deadline) {
			st.metrics.CompleteTable(table)
			tr.Duration = time.Since(tableStart)
			return tr, e.checkpointAt(st, table, afterID, time.Time{}), true, nil
		}

		page, err := e.fetchPage(ctx, st, table, afterID, columnNames(srcTable))
		if err != nil {
			st.metrics.RecordError()
			st.metrics.CompleteTable(table)
			tr.Duration = time.Since(tableStart)
			return tr, e.checkpointAt(st, table, afterID, time.Time{}), false, fmt.Errorf("fetching batch for %q: %w", table, err)
		}
		if len(page.Rows) == 0 {
			break
		}

		if _, err := st.limiter.AcquirePermit(ctx, float64(len(page.Rows)), float64(estimateBatchBytes(page))); err != nil {
			st.metrics.CompleteTable(table)
			tr.Duration = time.Since(tableStart)
			return tr, e.checkpointAt(st, table, afterID, time.Time{}), true, nil
		}

		ids := make([]string, 0, len(page.Rows))
		for _, row := range page.Rows {
			if v, ok := row.Get("id"); ok && v.Kind == rowvalue.KindString {
				ids = append(ids, v.String)
			}
		}
		targetTimes, err := fetchTargetTimestamps(ctx, st.target.Raw(), table, ids)
		if err != nil {
			st.metrics.RecordError()
			return tr, e.checkpointAt(st, table, afterID, time.Time{}), false, fmt.Errorf("bulk target lookup for %q: %w", table, err)
		}

		var inserts, updates []rowWithID
		for _, row := range page.Rows {
			v, ok := row.Get("id")
			if !ok || v.Kind != rowvalue.KindString || v.String == "" {
				tr.Skipped.NoID++
				continue
			}
			if _, exists := targetTimes[v.String]; exists {
				updates = append(updates, rowWithID{id: v.String, row: row})
			} else {
				inserts = append(inserts, rowWithID{id: v.String, row: row})
			}
		}

		batchStart := time.Now()
		txErr := st.target.WithTx(ctx, sql.LevelSerializable, func(ctx context.Context, tx *sql.Tx) error {
			if len(inserts) > 0 {
				if err := e.bulkInsert(ctx, tx, st, table, columns, inserts, tr); err != nil {
					return err
				}
			}
			for _, u := range updates {
				e.applyUpdate(ctx, tx, st, table, columns, u, strategy, targetTimes[u.id], tr)
			}
			return nil
		})
		if txErr != nil {
			st.metrics.RecordError()
			tr.ErrorMessages = appendBounded(tr.ErrorMessages, txErr.Error())
		}

		batchDuration := time.Since(batchStart)
		st.metrics.RecordBatch(table, len(page.Rows), batchDuration, int64(len(inserts)), int64(len(updates)),
			tr.Skipped.AlreadySynced+tr.Skipped.NoID+tr.Skipped.Conflict, tr.Skipped.Error, estimateBatchBytes(page))
		st.limiter.RecordResponseTime(batchDuration)

		e.pushProgress(SyncProgress{
			JobID:     st.cfg.JobID,
			Table:     table,
			RowsDone:  tr.Inserted + tr.Updated + tr.Skipped.AlreadySynced + tr.Skipped.NoID + tr.Skipped.Error + tr.Skipped.Conflict,
			RowsTotal: rowsTotal,
			Inserted:  tr.Inserted,
			Updated:   tr.Updated,
			Skipped:   tr.Skipped.AlreadySynced + tr.Skipped.NoID + tr.Skipped.Error + tr.Skipped.Conflict,
			Phase:     "syncing",
		})

		afterID = page.LastID

		rowsSinceCheckpoint += len(page.Rows)
		if rowsSinceCheckpoint >= st.cfg.CheckpointInterval {
			e.pushCheckpoint(st, table, afterID)
			rowsSinceCheckpoint = 0
		}

		if !page.HasMore {
			break
		}

		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			st.metrics.CompleteTable(table)
			tr.Duration = time.Since(tableStart)
			return tr, e.checkpointAt(st, table, afterID, time.Time{}), true, nil
		}
	}

	st.metrics.CompleteTable(table)
	tr.Duration = time.Since(tableStart)
	return tr, nil, false, nil
}

func (e *Executor) fetchPage(ctx context.Context, st *jobState, table, afterID string, columns []string) (*diff.Page, error) {
	batchCtx, cancel := context.WithTimeout(ctx, st.cfg.BatchTimeout)
	defer cancel()

	var page *diff.Page
	err := withRetryWrapper(batchCtx, st.cfg, func(ctx context.Context) error {
		var fetchErr error
		page, fetchErr = diff.GetRowsToSync(ctx, st.source, columns, table, st.cfg.Since, afterID, st.cfg.BatchSize)
		return fetchErr
	})
	return page, err
}

func (e *Executor) logTableMetadata(table string, tgt *schema.DetailedTableSchema) {
	if tgt == nil {
		return
	}
	if len(tgt.Triggers) > 0 {
		e.logInfo("table %s has %d trigger(s); may affect write performance", table, len(tgt.Triggers))
	}
	checkCount := 0
	for _, c := range tgt.Constraints {
		if c.Type == schema.ConstraintCheck {
			checkCount++
		}
	}
	if checkCount > 0 {
		e.logInfo("table %s has %d CHECK constraint(s)", table, checkCount)
	}
}

func appendBounded(msgs []string, msg string) []string {
	if len(msgs) >= maxErrorMessagesPerTable {
		return msgs
	}
	return append(msgs, msg)
}

// estimateBatchBytes sums rowvalue.Row.ByteSize() across a page, per
// spec.md §4.9.5's row byte size estimate.
func estimateBatchBytes(page *diff.Page) int64 {
	var total int64
	for _, r := range page.Rows {
		total += r.ByteSize()
	}
	return total
}

// fetchTargetTimestamps bulk-selects (id, updated_at) for the given ids
// (spec.md §4.9.4 step 4). A nil map value means the target row exists
// with a NULL updated_at, treated as epoch (spec.md §4.9.5).
func fetchTargetTimestamps(ctx context.Context, target *sql.DB, table string, ids []string) (map[string]*time.Time, error) {
	out := map[string]*time.Time{}
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := make([]interface{}, len(ids))
	query := fmt.Sprintf("SELECT id, updated_at FROM %s WHERE id IN (", quoteIdentifier(table))
	for i, id := range ids {
		if i > 0 {
			query += ", "
		}
		query += fmt.Sprintf("$%d", i+1)
		placeholders[i] = id
	}
	query += ")"

	rows, err := target.QueryContext(ctx, query, placeholders...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var ts sql.NullTime
		if err := rows.Scan(&id, &ts); err != nil {
			return nil, err
		}
		if ts.Valid {
			t := ts.Time
			out[id] = &t
		} else {
			out[id] = nil
		}
	}
	return out, rows.Err()
}

func columnNames(t *schema.DetailedTableSchema) []string {
	if t == nil {
		return nil
	}
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = c.Name
	}
	return cols
}

// insertColumns excludes generated columns from the INSERT/UPDATE column
// list (spec.md GLOSSARY "Generated column").
func insertColumns(src *schema.DetailedTableSchema) []string {
	generated := map[string]bool{}
	for _, g := range src.GeneratedColumns {
		generated[g] = true
	}
	var cols []string
	for _, c := range src.Columns {
		if generated[c.Name] {
			continue
		}
		cols = append(cols, c.Name)
	}
	return cols
}
