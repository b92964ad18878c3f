// SPDX-License-Identifier: Apache-2.0

package migrate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgsync/pgsync/pkg/migrate"
	"github.com/pgsync/pgsync/pkg/schema"
)

func defVal(s string) *string { return &s }

func TestPlanCreatesMissingTable(t *testing.T) {
	t.Parallel()

	source := &schema.DatabaseSchema{Tables: map[string]*schema.DetailedTableSchema{
		"users": {
			TableName: "users",
			Columns: []schema.DetailedColumn{
				{Name: "id", UDTName: "uuid", IsPrimaryKey: true},
				{Name: "updated_at", UDTName: "timestamptz"},
			},
		},
	}}
	target := &schema.DatabaseSchema{Tables: map[string]*schema.DetailedTableSchema{}}

	plan := migrate.New().Plan(source, target, []string{"users"})

	require.Len(t, plan.Scripts, 1)
	assert.Equal(t, "create_table_users", plan.Scripts[0].ID)
	assert.Equal(t, migrate.SeveritySafe, plan.Scripts[0].Severity)
	assert.Contains(t, plan.Scripts[0].SQL, "CREATE TABLE IF NOT EXISTS")
	assert.Contains(t, plan.Scripts[0].Rollback, "DROP TABLE IF EXISTS")
}

func TestPlanAddsSimpleNullableColumn(t *testing.T) {
	t.Parallel()

	srcCols := []schema.DetailedColumn{
		{Name: "id", UDTName: "uuid"},
		{Name: "nickname", UDTName: "text", IsNullable: true},
	}
	tgtCols := []schema.DetailedColumn{{Name: "id", UDTName: "uuid"}}

	source := &schema.DatabaseSchema{Tables: map[string]*schema.DetailedTableSchema{
		"users": {TableName: "users", Columns: srcCols},
	}}
	target := &schema.DatabaseSchema{Tables: map[string]*schema.DetailedTableSchema{
		"users": {TableName: "users", Columns: tgtCols},
	}}

	plan := migrate.New().Plan(source, target, []string{"users"})

	require.Len(t, plan.Scripts, 1)
	assert.Equal(t, "add_column_users_nickname", plan.Scripts[0].ID)
	assert.Equal(t, migrate.SeveritySafe, plan.Scripts[0].Severity)
}

func TestPlanNotNullWithoutDefaultIsThreeSteps(t *testing.T) {
	t.Parallel()

	srcCols := []schema.DetailedColumn{
		{Name: "id", UDTName: "uuid"},
		{Name: "status", UDTName: "text", IsNullable: false},
	}
	tgtCols := []schema.DetailedColumn{{Name: "id", UDTName: "uuid"}}

	source := &schema.DatabaseSchema{Tables: map[string]*schema.DetailedTableSchema{
		"users": {TableName: "users", Columns: srcCols},
	}}
	target := &schema.DatabaseSchema{Tables: map[string]*schema.DetailedTableSchema{
		"users": {TableName: "users", Columns: tgtCols},
	}}

	plan := migrate.New().Plan(source, target, []string{"users"})

	require.Len(t, plan.Scripts, 3)
	assert.Contains(t, plan.Scripts[0].ID, "add_nullable_column")
	assert.Contains(t, plan.Scripts[1].ID, "backfill_column")
	assert.Contains(t, plan.Scripts[2].ID, "set_not_null")
	assert.Equal(t, migrate.SeverityCaution, plan.Scripts[1].Severity)
}

func TestPlanTypeMismatchIsDangerous(t *testing.T) {
	t.Parallel()

	srcCols := []schema.DetailedColumn{{Name: "age", UDTName: "int4"}}
	tgtCols := []schema.DetailedColumn{{Name: "age", UDTName: "text"}}

	source := &schema.DatabaseSchema{Tables: map[string]*schema.DetailedTableSchema{
		"users": {TableName: "users", Columns: srcCols},
	}}
	target := &schema.DatabaseSchema{Tables: map[string]*schema.DetailedTableSchema{
		"users": {TableName: "users", Columns: tgtCols},
	}}

	plan := migrate.New().Plan(source, target, []string{"users"})

	require.Len(t, plan.Scripts, 1)
	assert.Equal(t, migrate.SeverityDangerous, plan.Scripts[0].Severity)
	assert.Contains(t, plan.Scripts[0].SQL, "RAISE WARNING")
}

func TestPlanMissingIndexAndCheckConstraint(t *testing.T) {
	t.Parallel()

	cols := []schema.DetailedColumn{{Name: "id", UDTName: "uuid"}}
	source := &schema.DatabaseSchema{Tables: map[string]*schema.DetailedTableSchema{
		"users": {
			TableName: "users",
			Columns:   cols,
			Indexes:   []schema.Index{{Name: "users_email_idx", Columns: []string{"email"}}},
			Constraints: []schema.Constraint{
				{Name: "users_age_check", Type: schema.ConstraintCheck, Definition: "CHECK (age >= 0)"},
			},
		},
	}}
	target := &schema.DatabaseSchema{Tables: map[string]*schema.DetailedTableSchema{
		"users": {TableName: "users", Columns: cols},
	}}

	plan := migrate.New().Plan(source, target, []string{"users"})

	var ids []string
	for _, s := range plan.Scripts {
		ids = append(ids, s.ID)
	}
	assert.Contains(t, ids, "create_index_users_email_idx")
	assert.Contains(t, ids, "add_check_users_age_check")
}

func TestPlanSkipsTableMissingFromSource(t *testing.T) {
	t.Parallel()

	source := &schema.DatabaseSchema{Tables: map[string]*schema.DetailedTableSchema{}}
	target := &schema.DatabaseSchema{Tables: map[string]*schema.DetailedTableSchema{
		"users": {TableName: "users"},
	}}

	plan := migrate.New().Plan(source, target, []string{"users"})

	assert.Empty(t, plan.Scripts)
}
