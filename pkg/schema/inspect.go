// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/pgsync/pgsync/internal/dbconn"
)

// Inspector produces DatabaseSchema snapshots from a live connection.
type Inspector struct {
	SchemaName string
}

func NewInspector(schemaName string) *Inspector {
	if schemaName == "" {
		schemaName = "public"
	}
	return &Inspector{SchemaName: schemaName}
}

// raw per-query row shapes, grouped by table_name before assembly.
type rawColumn struct {
	table, name, dataType, udtName string
	nullable                      bool
	defaultValue                  *string
	maxLength, numericPrecision   *int
	ordinal                       int
	generated                    bool
}

type rawPK struct{ table, column string }

type rawFK struct {
	name, table                     string
	columns, referencedColumns      []string
	referencedTable, onUpdate, onDelete string
}

type rawConstraint struct {
	name, table, ctype, definition string
	columns                        []string
}

type rawIndex struct {
	table, name string
	unique      bool
	definition  string
	columns     []string
}

type rawEnum struct{ typeName, value string }

type rawTrigger struct{ table, name string }

// Inspect runs the bounded set of bulk catalog queries and assembles a full
// DatabaseSchema. It executes the fan-out concurrently (spec.md §5: "parallel
// fan-out of the pre-flight bulk introspection queries — safe, read-only").
func (insp *Inspector) Inspect(ctx context.Context, conn dbconn.Conn) (*DatabaseSchema, error) {
	var (
		tableRows      []rawTableRow
		columns        []rawColumn
		pks            []rawPK
		fks            []rawFK
		constraints    []rawConstraint
		indexes        []rawIndex
		enums          []rawEnum
		triggers       []rawTrigger
		serverVersion  string
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) { tableRows, err = insp.queryTables(gctx, conn); return })
	g.Go(func() (err error) { columns, err = insp.queryColumns(gctx, conn); return })
	g.Go(func() (err error) { pks, err = insp.queryPrimaryKeys(gctx, conn); return })
	g.Go(func() (err error) { fks, err = insp.queryForeignKeys(gctx, conn); return })
	g.Go(func() (err error) { constraints, err = insp.queryConstraints(gctx, conn); return })
	g.Go(func() (err error) { indexes, err = insp.queryIndexes(gctx, conn); return })
	g.Go(func() (err error) { enums, err = insp.queryEnums(gctx, conn); return })
	g.Go(func() (err error) { triggers, err = insp.queryTriggers(gctx, conn); return })
	g.Go(func() error {
		row := conn.QueryRowContext(gctx, queryServerVersion)
		return row.Scan(&serverVersion)
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return insp.assemble(tableRows, columns, pks, fks, constraints, indexes, enums, triggers, serverVersion), nil
}

type rawTableRow struct {
	name         string
	rowEstimate  int64
	sizeBytes    int64
}

func (insp *Inspector) queryTables(ctx context.Context, conn dbconn.Conn) ([]rawTableRow, error) {
	rows, err := conn.QueryContext(ctx, queryTables, insp.SchemaName)
	if err != nil {
		return nil, fmt.Errorf("querying tables: %w", err)
	}
	defer rows.Close()

	var out []rawTableRow
	for rows.Next() {
		var r rawTableRow
		if err := rows.Scan(&r.name, &r.rowEstimate, &r.sizeBytes); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (insp *Inspector) queryColumns(ctx context.Context, conn dbconn.Conn) ([]rawColumn, error) {
	rows, err := conn.QueryContext(ctx, queryColumns, insp.SchemaName)
	if err != nil {
		return nil, fmt.Errorf("querying columns: %w", err)
	}
	defer rows.Close()

	var out []rawColumn
	for rows.Next() {
		var c rawColumn
		if err := rows.Scan(&c.table, &c.name, &c.dataType, &c.udtName, &c.nullable,
			&c.defaultValue, &c.maxLength, &c.numericPrecision, &c.ordinal, &c.generated); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (insp *Inspector) queryPrimaryKeys(ctx context.Context, conn dbconn.Conn) ([]rawPK, error) {
	rows, err := conn.QueryContext(ctx, queryPrimaryKeys, insp.SchemaName)
	if err != nil {
		return nil, fmt.Errorf("querying primary keys: %w", err)
	}
	defer rows.Close()

	var out []rawPK
	for rows.Next() {
		var p rawPK
		if err := rows.Scan(&p.table, &p.column); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (insp *Inspector) queryForeignKeys(ctx context.Context, conn dbconn.Conn) ([]rawFK, error) {
	rows, err := conn.QueryContext(ctx, queryForeignKeys, insp.SchemaName)
	if err != nil {
		return nil, fmt.Errorf("querying foreign keys: %w", err)
	}
	defer rows.Close()

	var out []rawFK
	for rows.Next() {
		var f rawFK
		var onUpdate, onDelete string
		if err := rows.Scan(&f.name, &f.table, pq.Array(&f.columns), &f.referencedTable,
			pq.Array(&f.referencedColumns), &onUpdate, &onDelete); err != nil {
			return nil, err
		}
		f.onUpdate = decodeFKAction(onUpdate)
		f.onDelete = decodeFKAction(onDelete)
		out = append(out, f)
	}
	return out, rows.Err()
}

func decodeFKAction(code string) string {
	switch code {
	case "a":
		return "NO ACTION"
	case "r":
		return "RESTRICT"
	case "c":
		return "CASCADE"
	case "n":
		return "SET NULL"
	case "d":
		return "SET DEFAULT"
	default:
		return code
	}
}

func (insp *Inspector) queryConstraints(ctx context.Context, conn dbconn.Conn) ([]rawConstraint, error) {
	rows, err := conn.QueryContext(ctx, queryConstraints, insp.SchemaName)
	if err != nil {
		return nil, fmt.Errorf("querying constraints: %w", err)
	}
	defer rows.Close()

	var out []rawConstraint
	for rows.Next() {
		var c rawConstraint
		if err := rows.Scan(&c.name, &c.table, &c.ctype, &c.definition, pq.Array(&c.columns)); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (insp *Inspector) queryIndexes(ctx context.Context, conn dbconn.Conn) ([]rawIndex, error) {
	rows, err := conn.QueryContext(ctx, queryIndexes, insp.SchemaName)
	if err != nil {
		return nil, fmt.Errorf("querying indexes: %w", err)
	}
	defer rows.Close()

	var out []rawIndex
	for rows.Next() {
		var ix rawIndex
		if err := rows.Scan(&ix.table, &ix.name, &ix.unique, &ix.definition, pq.Array(&ix.columns)); err != nil {
			return nil, err
		}
		out = append(out, ix)
	}
	return out, rows.Err()
}

func (insp *Inspector) queryEnums(ctx context.Context, conn dbconn.Conn) ([]rawEnum, error) {
	rows, err := conn.QueryContext(ctx, queryEnums, insp.SchemaName)
	if err != nil {
		return nil, fmt.Errorf("querying enums: %w", err)
	}
	defer rows.Close()

	var out []rawEnum
	for rows.Next() {
		var e rawEnum
		if err := rows.Scan(&e.typeName, &e.value); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (insp *Inspector) queryTriggers(ctx context.Context, conn dbconn.Conn) ([]rawTrigger, error) {
	rows, err := conn.QueryContext(ctx, queryTriggers, insp.SchemaName)
	if err != nil {
		return nil, fmt.Errorf("querying triggers: %w", err)
	}
	defer rows.Close()

	var out []rawTrigger
	for rows.Next() {
		var t rawTrigger
		if err := rows.Scan(&t.table, &t.name); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// assemble groups every raw row slice by table_name into in-memory maps and
// performs O(1) per-table assembly, regardless of table count (spec.md §4.1).
func (insp *Inspector) assemble(
	tableRows []rawTableRow,
	columns []rawColumn,
	pks []rawPK,
	fks []rawFK,
	constraints []rawConstraint,
	indexes []rawIndex,
	enums []rawEnum,
	triggers []rawTrigger,
	serverVersion string,
) *DatabaseSchema {
	columnsByTable := map[string][]rawColumn{}
	for _, c := range columns {
		columnsByTable[c.table] = append(columnsByTable[c.table], c)
	}
	pksByTable := map[string][]string{}
	for _, p := range pks {
		pksByTable[p.table] = append(pksByTable[p.table], p.column)
	}
	fksByTable := map[string][]rawFK{}
	for _, f := range fks {
		fksByTable[f.table] = append(fksByTable[f.table], f)
	}
	constraintsByTable := map[string][]rawConstraint{}
	for _, c := range constraints {
		constraintsByTable[c.table] = append(constraintsByTable[c.table], c)
	}
	indexesByTable := map[string][]rawIndex{}
	for _, ix := range indexes {
		indexesByTable[ix.table] = append(indexesByTable[ix.table], ix)
	}
	triggersByTable := map[string][]string{}
	for _, t := range triggers {
		triggersByTable[t.table] = append(triggersByTable[t.table], t.name)
	}
	enumsByName := map[string]*Enum{}
	for _, e := range enums {
		en, ok := enumsByName[e.typeName]
		if !ok {
			en = &Enum{Name: e.typeName}
			enumsByName[e.typeName] = en
		}
		en.Values = append(en.Values, e.value)
	}

	schema := &DatabaseSchema{
		Tables:      make(map[string]*DetailedTableSchema, len(tableRows)),
		Enums:       enumsByName,
		Version:     serverVersion,
		InspectedAt: time.Now(),
	}

	for _, tr := range tableRows {
		pk := pksByTable[tr.name]
		pkSet := make(map[string]bool, len(pk))
		for _, c := range pk {
			pkSet[c] = true
		}

		var detailCols []DetailedColumn
		var notNullNoDefault []string
		var generated []string
		for _, c := range columnsByTable[tr.name] {
			detailCols = append(detailCols, DetailedColumn{
				Name:             c.name,
				DataType:         c.dataType,
				UDTName:          c.udtName,
				IsNullable:       c.nullable,
				DefaultValue:     c.defaultValue,
				IsPrimaryKey:     pkSet[c.name],
				MaxLength:        c.maxLength,
				NumericPrecision: c.numericPrecision,
				OrdinalPosition:  c.ordinal,
			})
			if !c.nullable && c.defaultValue == nil && !c.generated {
				notNullNoDefault = append(notNullNoDefault, c.name)
			}
			if c.generated {
				generated = append(generated, c.name)
			}
		}

		var foreignKeys []ForeignKey
		for _, f := range fksByTable[tr.name] {
			foreignKeys = append(foreignKeys, ForeignKey{
				Name:              f.name,
				Columns:           f.columns,
				ReferencedTable:   f.referencedTable,
				ReferencedColumns: f.referencedColumns,
				OnDelete:          f.onDelete,
				OnUpdate:          f.onUpdate,
			})
		}

		var cons []Constraint
		for _, c := range constraintsByTable[tr.name] {
			cons = append(cons, Constraint{
				Name:       c.name,
				Type:       constraintTypeFromCode(c.ctype),
				Columns:    c.columns,
				Definition: c.definition,
			})
		}

		var idx []Index
		for _, ix := range indexesByTable[tr.name] {
			idx = append(idx, Index{
				Name:       ix.name,
				Unique:     ix.unique,
				Columns:    ix.columns,
				Definition: ix.definition,
			})
		}

		table := &DetailedTableSchema{
			TableName:          tr.name,
			Columns:            detailCols,
			PrimaryKey:         pk,
			ForeignKeys:        foreignKeys,
			Constraints:        cons,
			Indexes:            idx,
			RowCountEstimate:   tr.rowEstimate,
			EstimatedSizeBytes: tr.sizeBytes,
			NotNullNoDefault:   notNullNoDefault,
			GeneratedColumns:   generated,
			Triggers:           triggersByTable[tr.name],
		}
		schema.Tables[tr.name] = table

		if table.IsSyncable() {
			schema.SyncableTables = append(schema.SyncableTables, tr.name)
		}
	}

	return schema
}

func constraintTypeFromCode(code string) ConstraintType {
	switch code {
	case "c":
		return ConstraintCheck
	case "u":
		return ConstraintUnique
	case "x":
		return ConstraintExclude
	default:
		return ConstraintType(code)
	}
}

// InspectTable inspects a single table, for callers that only need one
// table's schema rather than a full database snapshot. It runs the same
// bulk queries as Inspect and returns the named table, or nil when there is
// no such table; it issues no per-table queries.
func (insp *Inspector) InspectTable(ctx context.Context, conn dbconn.Conn, tableName string) (*DetailedTableSchema, error) {
	full, err := insp.Inspect(ctx, conn)
	if err != nil {
		return nil, err
	}
	return full.GetTable(tableName), nil
}

// ValidateSyncRequirements is a quick per-table check of the `id uuid` and
// `updated_at` timestamp[tz] columns, without a full schema inspection.
func ValidateSyncRequirements(ctx context.Context, conn dbconn.Conn, schemaName, tableName string) (bool, error) {
	const q = `
SELECT
  EXISTS (SELECT 1 FROM information_schema.columns WHERE table_schema=$1 AND table_name=$2 AND column_name='id' AND udt_name='uuid'),
  EXISTS (SELECT 1 FROM information_schema.columns WHERE table_schema=$1 AND table_name=$2 AND column_name='updated_at' AND udt_name IN ('timestamp','timestamptz'))`

	var hasID, hasUpdatedAt bool
	row := conn.QueryRowContext(ctx, q, schemaName, tableName)
	if err := row.Scan(&hasID, &hasUpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return hasID && hasUpdatedAt, nil
}
