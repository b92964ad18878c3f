// SPDX-License-Identifier: Apache-2.0

package diff

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pgsync/pgsync/internal/dbconn"
)

const previewPageSize = 1000

// PreviewOptions configures a Preview call.
type PreviewOptions struct {
	Tables     []string
	Since      *time.Time
	SampleSize int
}

// TableDiff is one table's entry in a Preview result.
type TableDiff struct {
	Table           string
	Inserts         int64
	Updates         int64
	SourceRowCount  int64
	TargetRowCount  int64
	SampleInserts   []string
	SampleUpdates   []string
}

// Preview computes per-table insert/update counts without moving any rows,
// implementing spec.md §4.4a. Source and target id sets are retrieved
// concurrently (spec.md §5: "parallel source-ids vs. target-ids retrieval").
func Preview(ctx context.Context, source, target dbconn.Conn, opts PreviewOptions) ([]TableDiff, error) {
	results := make([]TableDiff, len(opts.Tables))

	for i, table := range opts.Tables {
		td, err := previewTable(ctx, source, target, table, opts.Since, opts.SampleSize)
		if err != nil {
			return nil, fmt.Errorf("previewing table %q: %w", table, err)
		}
		results[i] = *td
	}

	return results, nil
}

func previewTable(ctx context.Context, source, target dbconn.Conn, table string, since *time.Time, sampleSize int) (*TableDiff, error) {
	var sourceIDs, targetIDs map[string]bool
	var sourceCount, targetCount int64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sourceIDs, sourceCount, err = fetchIDSet(gctx, source, table, since)
		return err
	})
	g.Go(func() error {
		var err error
		targetIDs, targetCount, err = fetchIDSet(gctx, target, table, nil)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	td := &TableDiff{
		Table:          table,
		SourceRowCount: sourceCount,
		TargetRowCount: targetCount,
	}

	var intersection []string
	for id := range sourceIDs {
		if targetIDs[id] {
			intersection = append(intersection, id)
			continue
		}
		td.Inserts++
		if len(td.SampleInserts) < sampleSize {
			td.SampleInserts = append(td.SampleInserts, id)
		}
	}

	updates, sampleUpdates, err := countUpdatedRows(ctx, source, target, table, intersection, sampleSize)
	if err != nil {
		return nil, err
	}
	td.Updates = updates
	td.SampleUpdates = sampleUpdates

	return td, nil
}

func fetchIDSet(ctx context.Context, conn dbconn.Conn, table string, since *time.Time) (map[string]bool, int64, error) {
	query := fmt.Sprintf("SELECT id FROM %s", quoteIdentifier(table))
	var args []interface{}
	if since != nil {
		query += " WHERE updated_at >= $1"
		args = append(args, *since)
	}

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("fetching id set for %q: %w", table, err)
	}
	defer rows.Close()

	ids := map[string]bool{}
	var count int64
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, 0, err
		}
		ids[id] = true
		count++
	}
	return ids, count, rows.Err()
}

// countUpdatedRows pages the intersection of ids in batches of 1000,
// comparing source.updated_at > target.updated_at, per spec.md §4.4a.
func countUpdatedRows(ctx context.Context, source, target dbconn.Conn, table string, ids []string, sampleSize int) (int64, []string, error) {
	var updates int64
	var samples []string

	for start := 0; start < len(ids); start += previewPageSize {
		end := start + previewPageSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		sourceTimes, err := fetchUpdatedAt(ctx, source, table, batch)
		if err != nil {
			return 0, nil, err
		}
		targetTimes, err := fetchUpdatedAt(ctx, target, table, batch)
		if err != nil {
			return 0, nil, err
		}

		for _, id := range batch {
			st, sok := sourceTimes[id]
			tt, tok := targetTimes[id]
			if !sok || !tok {
				continue
			}
			if st.After(tt) {
				updates++
				if len(samples) < sampleSize {
					samples = append(samples, id)
				}
			}
		}
	}

	return updates, samples, nil
}

func fetchUpdatedAt(ctx context.Context, conn dbconn.Conn, table string, ids []string) (map[string]time.Time, error) {
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

	rows, err := conn.QueryContext(ctx, query, placeholders...)
	if err != nil {
		return nil, fmt.Errorf("fetching updated_at batch for %q: %w", table, err)
	}
	defer rows.Close()

	out := map[string]time.Time{}
	for rows.Next() {
		var id string
		var t time.Time
		if err := rows.Scan(&id, &t); err != nil {
			return nil, err
		}
		out[id] = t
	}
	return out, rows.Err()
}
