// SPDX-License-Identifier: Apache-2.0

// Package migrate produces an ordered list of idempotent DDL scripts that
// would align a target schema with a source schema. Generating the plan is
// in scope; executing it is not (spec.md §1 Non-goals).
package migrate

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/pgsync/pgsync/pkg/schema"
)

// Severity classifies how risky executing a Script is.
type Severity string

const (
	SeveritySafe      Severity = "safe"
	SeverityCaution    Severity = "caution"
	SeverityDangerous Severity = "dangerous"
)

// Script is one idempotent DDL statement (or PL/pgSQL DO block) in the plan,
// with an optional inverse.
type Script struct {
	ID       string
	Table    string
	SQL      string
	Rollback string // empty if the operation is not invertible
	Severity Severity
}

// Plan is the ordered list of scripts that align target with source.
type Plan struct {
	Scripts []Script
}

// Planner builds migration plans by diffing two DetailedTableSchema values.
type Planner struct{}

func New() *Planner { return &Planner{} }

// Plan produces the ordered DDL plan for the given table names, diffing
// source against target using the same per-column comparisons the validator
// runs (spec.md §4.3).
func (p *Planner) Plan(source, target *schema.DatabaseSchema, tables []string) *Plan {
	plan := &Plan{}

	for _, name := range tables {
		srcTable := source.GetTable(name)
		if srcTable == nil {
			continue
		}
		tgtTable := target.GetTable(name)

		if tgtTable == nil {
			plan.Scripts = append(plan.Scripts, createTableScript(srcTable))
			continue
		}

		plan.Scripts = append(plan.Scripts, p.diffColumns(srcTable, tgtTable)...)
		plan.Scripts = append(plan.Scripts, p.diffIndexes(srcTable, tgtTable)...)
		plan.Scripts = append(plan.Scripts, p.diffCheckConstraints(srcTable, tgtTable)...)
	}

	return plan
}

func createTableScript(src *schema.DetailedTableSchema) Script {
	var cols []string
	for _, c := range src.Columns {
		cols = append(cols, columnDefSQL(c))
	}
	body := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)",
		pq.QuoteIdentifier(src.TableName), strings.Join(cols, ",\n  "))

	return Script{
		ID:       fmt.Sprintf("create_table_%s", src.TableName),
		Table:    src.TableName,
		SQL:      wrapIdempotent(body),
		Rollback: fmt.Sprintf("DROP TABLE IF EXISTS %s", pq.QuoteIdentifier(src.TableName)),
		Severity: SeveritySafe,
	}
}

func columnDefSQL(c schema.DetailedColumn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", pq.QuoteIdentifier(c.Name), c.UDTName)
	if !c.IsNullable {
		b.WriteString(" NOT NULL")
	}
	if c.DefaultValue != nil {
		fmt.Fprintf(&b, " DEFAULT %s", *c.DefaultValue)
	}
	return b.String()
}

// diffColumns generates scripts for columns present in source but missing or
// mismatched on target. A NOT NULL column without a default is added in
// three idempotent steps, per spec.md §4.3: add nullable, backfill, then set
// NOT NULL. With no default to copy, the backfill writes NULL, so on a table
// that already has rows the SET NOT NULL step fails inside its exception
// handler and the column stays nullable.
func (p *Planner) diffColumns(src, tgt *schema.DetailedTableSchema) []Script {
	var scripts []Script

	for _, sc := range src.Columns {
		tc := tgt.GetColumn(sc.Name)

		if tc == nil {
			if !sc.IsNullable && sc.DefaultValue == nil {
				scripts = append(scripts, addColumnMultiStep(src.TableName, sc)...)
			} else {
				scripts = append(scripts, addColumnScript(src.TableName, sc))
			}
			continue
		}

		if !schema.AreTypesCompatible(sc.UDTName, tc.UDTName) {
			scripts = append(scripts, alterColumnTypeScript(src.TableName, sc))
		}
	}

	return scripts
}

func addColumnScript(table string, c schema.DetailedColumn) Script {
	body := fmt.Sprintf(
		"DO $$ BEGIN\n  IF NOT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name=%s AND column_name=%s) THEN\n    ALTER TABLE %s ADD COLUMN %s;\n  END IF;\nEND $$;",
		quoteLiteral(table), quoteLiteral(c.Name), pq.QuoteIdentifier(table), columnDefSQL(c))

	return Script{
		ID:       fmt.Sprintf("add_column_%s_%s", table, c.Name),
		Table:    table,
		SQL:      body,
		Rollback: fmt.Sprintf("ALTER TABLE %s DROP COLUMN IF EXISTS %s", pq.QuoteIdentifier(table), pq.QuoteIdentifier(c.Name)),
		Severity: SeveritySafe,
	}
}

// addColumnMultiStep implements the three-step NOT-NULL-without-default
// sequence: add nullable, backfill, set NOT NULL. The backfill writes the
// column's default when it has one and NULL otherwise; no value is derived
// from the column type.
func addColumnMultiStep(table string, c schema.DetailedColumn) []Script {
	nullable := c
	nullable.IsNullable = true
	nullable.DefaultValue = nil

	add := addColumnScript(table, nullable)
	add.ID = fmt.Sprintf("add_nullable_column_%s_%s", table, c.Name)

	backfillValue := "NULL"
	if c.DefaultValue != nil {
		backfillValue = *c.DefaultValue
	}
	backfill := Script{
		ID:    fmt.Sprintf("backfill_column_%s_%s", table, c.Name),
		Table: table,
		SQL: fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s IS NULL",
			pq.QuoteIdentifier(table), pq.QuoteIdentifier(c.Name), backfillValue, pq.QuoteIdentifier(c.Name)),
		Severity: SeverityCaution,
	}

	setNotNull := Script{
		ID:    fmt.Sprintf("set_not_null_%s_%s", table, c.Name),
		Table: table,
		SQL: fmt.Sprintf("DO $$ BEGIN\n  ALTER TABLE %s ALTER COLUMN %s SET NOT NULL;\nEXCEPTION WHEN others THEN NULL;\nEND $$;",
			pq.QuoteIdentifier(table), pq.QuoteIdentifier(c.Name)),
		Rollback: fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL",
			pq.QuoteIdentifier(table), pq.QuoteIdentifier(c.Name)),
		Severity: SeverityCaution,
	}

	return []Script{add, backfill, setNotNull}
}

// alterColumnTypeScript wraps the USING cast in a sub-transaction (via a DO
// block with an exception handler) that warns rather than fails the whole
// plan if the cast is not possible for existing data.
func alterColumnTypeScript(table string, c schema.DetailedColumn) Script {
	body := fmt.Sprintf(
		"DO $$ BEGIN\n  ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s;\nEXCEPTION WHEN others THEN\n  RAISE WARNING 'could not convert column %% on table %%: %%', %s, %s, SQLERRM;\nEND $$;",
		pq.QuoteIdentifier(table), pq.QuoteIdentifier(c.Name), c.UDTName,
		pq.QuoteIdentifier(c.Name), c.UDTName,
		quoteLiteral(c.Name), quoteLiteral(table))

	return Script{
		ID:       fmt.Sprintf("alter_column_type_%s_%s", table, c.Name),
		Table:    table,
		SQL:      body,
		Severity: SeverityDangerous,
	}
}

func (p *Planner) diffIndexes(src, tgt *schema.DetailedTableSchema) []Script {
	tgtIdx := map[string]bool{}
	for _, ix := range tgt.Indexes {
		tgtIdx[ix.Name] = true
	}

	var scripts []Script
	for _, ix := range src.Indexes {
		if tgtIdx[ix.Name] {
			continue
		}
		scripts = append(scripts, Script{
			ID:       fmt.Sprintf("create_index_%s", ix.Name),
			Table:    src.TableName,
			SQL:      fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", pq.QuoteIdentifier(ix.Name), pq.QuoteIdentifier(src.TableName), quoteIdentifierList(ix.Columns)),
			Rollback: fmt.Sprintf("DROP INDEX IF EXISTS %s", pq.QuoteIdentifier(ix.Name)),
			Severity: SeveritySafe,
		})
	}
	return scripts
}

func (p *Planner) diffCheckConstraints(src, tgt *schema.DetailedTableSchema) []Script {
	tgtNames := map[string]bool{}
	for _, c := range tgt.Constraints {
		tgtNames[c.Name] = true
	}

	var scripts []Script
	for _, c := range src.Constraints {
		if c.Type != schema.ConstraintCheck || tgtNames[c.Name] {
			continue
		}
		body := fmt.Sprintf(
			"DO $$ BEGIN\n  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname=%s) THEN\n    ALTER TABLE %s ADD CONSTRAINT %s %s;\n  END IF;\nEND $$;",
			quoteLiteral(c.Name), pq.QuoteIdentifier(src.TableName), pq.QuoteIdentifier(c.Name), c.Definition)

		scripts = append(scripts, Script{
			ID:       fmt.Sprintf("add_check_%s", c.Name),
			Table:    src.TableName,
			SQL:      body,
			Rollback: fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s", pq.QuoteIdentifier(src.TableName), pq.QuoteIdentifier(c.Name)),
			Severity: SeverityCaution,
		})
	}
	return scripts
}

func wrapIdempotent(body string) string {
	return body
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quoteIdentifierList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pq.QuoteIdentifier(c)
	}
	return strings.Join(quoted, ", ")
}
