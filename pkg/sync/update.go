// SPDX-License-Identifier: Apache-2.0

package sync

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pgsync/pgsync/pkg/idempotency"
)

// applyUpdate resolves one update-lane row, consulting the idempotency
// tracker, comparing updated_at timestamps, and applying the configured
// conflict strategy for two-way jobs (spec.md §4.9.4 step 8). Errors are
// recorded on tr rather than returned, since one row's failure must not
// abort the whole batch transaction.
func (e *Executor) applyUpdate(ctx context.Context, tx *sql.Tx, st *jobState, table string, columns []string, r rowWithID, strategy ConflictStrategy, targetUpdatedAt *time.Time, tr *TableResult) {
	if e.Tracker != nil {
		processed, err := e.Tracker.IsRowProcessed(ctx, st.cfg.JobID, table, r.id)
		if err == nil && processed {
			tr.Skipped.AlreadySynced++
			return
		}
	}

	sourceUpdatedAtVal, ok := r.row.Get("updated_at")
	if !ok || sourceUpdatedAtVal.Timestamp.IsZero() {
		tr.Skipped.Error++
		tr.ErrorMessages = appendBounded(tr.ErrorMessages, fmt.Sprintf("row %s: unparseable source updated_at", r.id))
		return
	}
	sourceUpdatedAt := sourceUpdatedAtVal.Timestamp

	// Null updated_at on target is treated as epoch: source always wins
	// (spec.md §4.9.5).
	var effectiveTargetUpdatedAt time.Time
	if targetUpdatedAt != nil {
		effectiveTargetUpdatedAt = *targetUpdatedAt
	}

	if st.cfg.Direction == DirectionTwoWay && effectiveTargetUpdatedAt.After(sourceUpdatedAt) {
		switch strategy {
		case StrategySourceWins:
			// fall through to the normal update path below.
		case StrategyManual:
			tr.Conflicts = append(tr.Conflicts, Conflict{
				Table:         table,
				RowID:         r.id,
				SourceUpdated: sourceUpdatedAt,
				TargetUpdated: effectiveTargetUpdatedAt,
			})
			tr.Skipped.Conflict++
			return
		case StrategyTargetWins, StrategyLastWriteWins, "":
			tr.Skipped.Conflict++
			return
		default:
			tr.Skipped.Conflict++
			return
		}
	} else if !sourceUpdatedAt.After(effectiveTargetUpdatedAt) {
		// Strictly > on updated_at; equal timestamps do not update
		// (spec.md §4.9.5 "Newness comparison").
		tr.Skipped.AlreadySynced++
		return
	}

	if err := updateRow(ctx, tx, table, columns, r); err != nil {
		tr.Skipped.Error++
		tr.ErrorMessages = appendBounded(tr.ErrorMessages, fmt.Sprintf("row %s: %s", r.id, classifyRowError(err)))
		return
	}

	tr.Updated++
	if e.Tracker != nil {
		_ = e.Tracker.MarkRowProcessed(ctx, st.cfg.JobID, table, r.id, idempotency.OperationUpdate, "")
	}
}

func updateRow(ctx context.Context, tx *sql.Tx, table string, columns []string, r rowWithID) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "UPDATE %s SET ", quoteIdentifier(table))

	var args []interface{}
	argn := 1
	first := true
	for _, col := range columns {
		if col == "id" {
			continue
		}
		if !first {
			sb.WriteString(", ")
		}
		first = false
		fmt.Fprintf(&sb, "%s = $%d", quoteIdentifier(col), argn)
		argn++
		v, _ := r.row.Get(col)
		args = append(args, v.Arg())
	}

	fmt.Fprintf(&sb, " WHERE id = $%d", argn)
	idVal, _ := r.row.Get("id")
	args = append(args, idVal.Arg())

	_, err := tx.ExecContext(ctx, sb.String(), args...)
	return err
}
