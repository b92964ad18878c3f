// SPDX-License-Identifier: Apache-2.0

package diff

import (
	"context"
	"fmt"
	"time"

	"github.com/pgsync/pgsync/internal/dbconn"
	"github.com/pgsync/pgsync/pkg/rowvalue"
)

// Page is one batch of source rows returned by GetRowsToSync: the extra row
// fetched beyond batchSize is used to compute HasMore, then dropped.
type Page struct {
	Rows    []rowvalue.Row
	HasMore bool
	LastID  string
}

// GetRowsToSync returns one page of source rows whose id > afterId (and
// updated_at >= since, if provided), ordered by id ascending, using keyset
// pagination (spec.md §4.4b).
func GetRowsToSync(ctx context.Context, source dbconn.Conn, columns []string, table string, since *time.Time, afterID string, batchSize int) (*Page, error) {
	colList := quoteIdentifierList(columns)

	query := fmt.Sprintf("SELECT %s FROM %s", colList, quoteIdentifier(table))
	var conditions []string
	var args []interface{}

	// afterID is "" for the first page of a fresh table; omit the clause
	// instead of binding it, since id is uuid and uuid_in("") errors.
	if afterID != "" {
		args = append(args, afterID)
		conditions = append(conditions, fmt.Sprintf("id > $%d", len(args)))
	}
	if since != nil {
		args = append(args, *since)
		conditions = append(conditions, fmt.Sprintf("updated_at >= $%d", len(args)))
	}
	for i, cond := range conditions {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}

	args = append(args, batchSize+1)
	query += fmt.Sprintf(" ORDER BY id ASC LIMIT $%d", len(args))

	rows, err := source.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying rows to sync for %q: %w", table, err)
	}
	defer rows.Close()

	materialized, err := scanRows(rows, columns)
	if err != nil {
		return nil, err
	}

	hasMore := len(materialized) > batchSize
	if hasMore {
		materialized = materialized[:batchSize]
	}

	page := &Page{Rows: materialized, HasMore: hasMore}
	if len(materialized) > 0 {
		if idVal, ok := materialized[len(materialized)-1].Get("id"); ok {
			page.LastID = idVal.String
		}
	} else {
		page.LastID = afterID
	}

	return page, nil
}
