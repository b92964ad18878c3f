// SPDX-License-Identifier: Apache-2.0

// Package diff computes per-table insert/update counts between a source and
// target database and pages source rows that need to be synced, using
// order-by-id keyset pagination exclusively (spec.md §4.4: "offset pagination
// is forbidden").
package diff

import (
	"strings"
)

// quoteIdentifier sanitizes and double-quotes a Postgres identifier: strips
// null bytes, doubles internal double quotes, and truncates to 63 bytes
// (spec.md §4.9.5 "Identifier safety").
func quoteIdentifier(name string) string {
	name = strings.ReplaceAll(name, "\x00", "")
	if len(name) > 63 {
		name = name[:63]
	}
	name = strings.ReplaceAll(name, `"`, `""`)
	return `"` + name + `"`
}

func quoteIdentifierList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdentifier(n)
	}
	return strings.Join(quoted, ", ")
}
