// SPDX-License-Identifier: Apache-2.0

package diff

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/pgsync/pgsync/pkg/rowvalue"
)

// scanRows materializes every row of rows into rowvalue.Row values, using
// the lib/pq driver's native Go value mapping (bool, []byte, int64, float64,
// string, time.Time) and classifying each into the rowvalue.Value union.
func scanRows(rows *sql.Rows, columns []string) ([]rowvalue.Row, error) {
	var out []rowvalue.Row

	for rows.Next() {
		dest := make([]interface{}, len(columns))
		for i := range dest {
			dest[i] = new(interface{})
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		row := rowvalue.NewRow()
		for i, col := range columns {
			raw := *(dest[i].(*interface{}))
			row.Set(col, classify(raw))
		}
		out = append(out, row)
	}

	return out, rows.Err()
}

func classify(raw interface{}) rowvalue.Value {
	switch v := raw.(type) {
	case nil:
		return rowvalue.Null()
	case bool:
		return rowvalue.Bool(v)
	case int64:
		return rowvalue.Int64(v)
	case float64:
		return rowvalue.Float64(v)
	case []byte:
		return rowvalue.String(string(v))
	case string:
		return rowvalue.String(v)
	case time.Time:
		return rowvalue.Timestamp(v)
	default:
		return rowvalue.String(fmt.Sprintf("%v", v))
	}
}
