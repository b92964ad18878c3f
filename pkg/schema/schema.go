// SPDX-License-Identifier: Apache-2.0

// Package schema introspects PostgreSQL databases in bulk and produces
// immutable schema snapshots used by the validator, migration planner, and
// sync executor.
package schema

import "time"

// DetailedColumn is an immutable snapshot of one column.
type DetailedColumn struct {
	Name              string
	DataType          string
	UDTName           string
	IsNullable        bool
	DefaultValue      *string
	IsPrimaryKey      bool
	MaxLength         *int
	NumericPrecision  *int
	OrdinalPosition   int
}

// ForeignKey describes a foreign key constraint on a table.
type ForeignKey struct {
	Name              string
	Columns           []string
	ReferencedTable   string
	ReferencedColumns []string
	OnDelete          string
	OnUpdate          string
}

// Constraint is a non-FK, non-PK constraint: check, unique, or exclude.
type Constraint struct {
	Name       string
	Type       ConstraintType
	Columns    []string
	Definition string
}

type ConstraintType string

const (
	ConstraintCheck   ConstraintType = "check"
	ConstraintUnique  ConstraintType = "unique"
	ConstraintExclude ConstraintType = "exclude"
)

// Index describes an index defined on a table.
type Index struct {
	Name       string
	Unique     bool
	Columns    []string
	Definition string
}

// DetailedTableSchema is an immutable snapshot of one table.
type DetailedTableSchema struct {
	TableName         string
	Columns           []DetailedColumn
	PrimaryKey        []string
	ForeignKeys       []ForeignKey
	Constraints       []Constraint
	Indexes           []Index
	RowCountEstimate  int64
	EstimatedSizeBytes int64

	// NotNullNoDefault are columns that are NOT NULL and have no default,
	// relevant to both validation (spec.md §4.2) and row-level insert
	// validation (spec.md §4.9.4 step 7).
	NotNullNoDefault []string

	// Generated columns the database populates automatically; excluded from
	// INSERT value lists (spec.md GLOSSARY "Generated column").
	GeneratedColumns []string

	// Triggers and their count, logged but not acted on by the executor
	// beyond a performance warning.
	Triggers []string
}

// Enum is a PostgreSQL enum type.
type Enum struct {
	Name   string
	Values []string
}

// DatabaseSchema is a full, immutable inspection snapshot.
type DatabaseSchema struct {
	Tables         map[string]*DetailedTableSchema
	Enums          map[string]*Enum
	SyncableTables []string
	Version        string
	InspectedAt    time.Time
}

// GetTable looks up a table by name, returning nil if absent.
func (s *DatabaseSchema) GetTable(name string) *DetailedTableSchema {
	if s == nil || s.Tables == nil {
		return nil
	}
	return s.Tables[name]
}

// GetColumn looks up a column on the table by name, returning nil if absent.
func (t *DetailedTableSchema) GetColumn(name string) *DetailedColumn {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// IsSyncable reports whether the table has an `id uuid` column and an
// `updated_at` column of UDT `timestamp` or `timestamptz` — the single
// precondition for participation in sync (spec.md §3).
func (t *DetailedTableSchema) IsSyncable() bool {
	id := t.GetColumn("id")
	if id == nil || id.UDTName != "uuid" {
		return false
	}
	updatedAt := t.GetColumn("updated_at")
	if updatedAt == nil {
		return false
	}
	return updatedAt.UDTName == "timestamp" || updatedAt.UDTName == "timestamptz"
}
