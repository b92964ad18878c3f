// SPDX-License-Identifier: Apache-2.0

package sync

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const maxRowBytes = 1 << 20 // 1 MiB (spec.md §4.9.5)

// bulkInsert writes the insert lane as multi-value INSERT ... ON CONFLICT
// upserts, chunked by bulkInsertSize, falling back to per-row inserts for
// oversized rows and on bulk failure (spec.md §4.9.4 step 7).
//
// Per spec.md's pinned Open Question, the insert path always wins on
// conflict: the target was observed absent for these ids just before this
// transaction began, so ON CONFLICT DO UPDATE unconditionally overwrites
// rather than re-checking newness.
func (e *Executor) bulkInsert(ctx context.Context, tx *sql.Tx, st *jobState, table string, columns []string, rows []rowWithID, tr *TableResult) error {
	var normal, oversized []rowWithID
	for _, r := range rows {
		if r.row.ByteSize() > maxRowBytes {
			oversized = append(oversized, r)
		} else {
			normal = append(normal, r)
		}
	}

	chunkSize := st.cfg.BulkInsertSize
	for start := 0; start < len(normal); start += chunkSize {
		end := start + chunkSize
		if end > len(normal) {
			end = len(normal)
		}
		chunk := normal[start:end]

		if err := insertChunk(ctx, tx, table, columns, chunk); err != nil {
			for _, r := range chunk {
				e.insertOneRow(ctx, tx, table, columns, r, tr)
			}
			continue
		}
		tr.Inserted += int64(len(chunk))
	}

	for _, r := range oversized {
		e.insertOneRow(ctx, tx, table, columns, r, tr)
	}

	return nil
}

func insertChunk(ctx context.Context, tx *sql.Tx, table string, columns []string, rows []rowWithID) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", quoteIdentifier(table), quoteIdentifierList(columns))

	var args []interface{}
	argn := 1
	for i, r := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j, col := range columns {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", argn)
			argn++
			v, _ := r.row.Get(col)
			args = append(args, v.Arg())
		}
		sb.WriteString(")")
	}

	sb.WriteString(" ON CONFLICT (id) DO UPDATE SET ")
	first := true
	for _, col := range columns {
		if col == "id" {
			continue
		}
		if !first {
			sb.WriteString(", ")
		}
		first = false
		fmt.Fprintf(&sb, "%s = EXCLUDED.%s", quoteIdentifier(col), quoteIdentifier(col))
	}

	_, err := tx.ExecContext(ctx, sb.String(), args...)
	return err
}

// insertOneRow inserts a single row outside the bulk path, classifying any
// failure by message fragment (spec.md §4.9.4 step 7, §4.9.6).
func (e *Executor) insertOneRow(ctx context.Context, tx *sql.Tx, table string, columns []string, r rowWithID, tr *TableResult) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES (", quoteIdentifier(table), quoteIdentifierList(columns))

	var args []interface{}
	for i, col := range columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "$%d", i+1)
		v, _ := r.row.Get(col)
		args = append(args, v.Arg())
	}
	sb.WriteString(") ON CONFLICT (id) DO UPDATE SET ")
	first := true
	for _, col := range columns {
		if col == "id" {
			continue
		}
		if !first {
			sb.WriteString(", ")
		}
		first = false
		fmt.Fprintf(&sb, "%s = EXCLUDED.%s", quoteIdentifier(col), quoteIdentifier(col))
	}

	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		tr.Skipped.Error++
		tr.ErrorMessages = appendBounded(tr.ErrorMessages, fmt.Sprintf("row %s: %s", r.id, classifyRowError(err)))
		return
	}
	tr.Inserted++
}

func classifyRowError(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unique"):
		return "unique constraint violation: " + err.Error()
	case strings.Contains(msg, "foreign key"):
		return "foreign key violation: " + err.Error()
	case strings.Contains(msg, "not-null") || strings.Contains(msg, "not null"):
		return "not-null violation: " + err.Error()
	case strings.Contains(msg, "check constraint"):
		return "check constraint violation: " + err.Error()
	default:
		return err.Error()
	}
}

func quoteIdentifierList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdentifier(n)
	}
	return strings.Join(quoted, ", ")
}
