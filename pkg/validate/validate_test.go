// SPDX-License-Identifier: Apache-2.0

package validate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgsync/pgsync/pkg/schema"
	"github.com/pgsync/pgsync/pkg/validate"
)

func syncableColumns() []schema.DetailedColumn {
	return []schema.DetailedColumn{
		{Name: "id", DataType: "uuid", UDTName: "uuid", IsPrimaryKey: true},
		{Name: "updated_at", DataType: "timestamp with time zone", UDTName: "timestamptz"},
	}
}

func TestValidateMissingTable(t *testing.T) {
	t.Parallel()

	source := &schema.DatabaseSchema{Tables: map[string]*schema.DetailedTableSchema{
		"users": {TableName: "users", Columns: syncableColumns()},
	}}
	target := &schema.DatabaseSchema{Tables: map[string]*schema.DetailedTableSchema{}}

	result := validate.New().Validate(source, target, []string{"users"})

	require.Len(t, result.Issues, 1)
	assert.Equal(t, validate.SeverityCritical, result.Issues[0].Severity)
	assert.Equal(t, validate.CategoryMissingTable, result.Issues[0].Category)
	assert.False(t, result.CanProceed)
}

func TestValidateIdenticalTablesCanProceed(t *testing.T) {
	t.Parallel()

	table := &schema.DetailedTableSchema{TableName: "users", Columns: syncableColumns()}
	source := &schema.DatabaseSchema{Tables: map[string]*schema.DetailedTableSchema{"users": table}}
	target := &schema.DatabaseSchema{Tables: map[string]*schema.DetailedTableSchema{"users": table}}

	result := validate.New().Validate(source, target, []string{"users"})

	assert.Empty(t, result.Issues)
	assert.True(t, result.CanProceed)
	assert.False(t, result.RequiresConfirmation)
}

func TestValidateTypeMismatchIsHighSeverity(t *testing.T) {
	t.Parallel()

	srcCols := append(syncableColumns(), schema.DetailedColumn{Name: "age", DataType: "integer", UDTName: "int4"})
	tgtCols := append(syncableColumns(), schema.DetailedColumn{Name: "age", DataType: "text", UDTName: "text"})

	source := &schema.DatabaseSchema{Tables: map[string]*schema.DetailedTableSchema{
		"users": {TableName: "users", Columns: srcCols},
	}}
	target := &schema.DatabaseSchema{Tables: map[string]*schema.DetailedTableSchema{
		"users": {TableName: "users", Columns: tgtCols},
	}}

	result := validate.New().Validate(source, target, []string{"users"})

	require.NotEmpty(t, result.Issues)
	var found bool
	for _, iss := range result.Issues {
		if iss.Category == validate.CategoryTypeMismatch {
			found = true
			assert.Equal(t, validate.SeverityHigh, iss.Severity)
		}
	}
	assert.True(t, found, "expected a type_mismatch issue")
	assert.True(t, result.RequiresConfirmation)
	assert.True(t, result.CanProceed)
}

func TestValidateMissingRequiredTargetColumnIsCritical(t *testing.T) {
	t.Parallel()

	srcCols := append(syncableColumns(), schema.DetailedColumn{Name: "email", DataType: "text", UDTName: "text", IsNullable: false})

	source := &schema.DatabaseSchema{Tables: map[string]*schema.DetailedTableSchema{
		"users": {TableName: "users", Columns: srcCols},
	}}
	target := &schema.DatabaseSchema{Tables: map[string]*schema.DetailedTableSchema{
		"users": {TableName: "users", Columns: syncableColumns()},
	}}

	result := validate.New().Validate(source, target, []string{"users"})

	require.NotEmpty(t, result.Issues)
	assert.False(t, result.CanProceed)
}

func TestValidateEnumMismatch(t *testing.T) {
	t.Parallel()

	table := &schema.DetailedTableSchema{TableName: "orders", Columns: syncableColumns()}
	source := &schema.DatabaseSchema{
		Tables: map[string]*schema.DetailedTableSchema{"orders": table},
		Enums: map[string]*schema.Enum{
			"order_status": {Name: "order_status", Values: []string{"pending", "shipped", "cancelled"}},
		},
	}
	target := &schema.DatabaseSchema{
		Tables: map[string]*schema.DetailedTableSchema{"orders": table},
		Enums: map[string]*schema.Enum{
			"order_status": {Name: "order_status", Values: []string{"pending", "shipped"}},
		},
	}

	result := validate.New().Validate(source, target, []string{"orders"})

	var found bool
	for _, iss := range result.Issues {
		if iss.Category == validate.CategoryEnumMismatch {
			found = true
		}
	}
	assert.True(t, found, "expected an enum_mismatch issue for the missing cancelled value")
}

func TestValidateSeverityHistogram(t *testing.T) {
	t.Parallel()

	source := &schema.DatabaseSchema{Tables: map[string]*schema.DetailedTableSchema{
		"users": {TableName: "users", Columns: syncableColumns()},
		"orders": {TableName: "orders", Columns: syncableColumns()},
	}}
	target := &schema.DatabaseSchema{Tables: map[string]*schema.DetailedTableSchema{
		"users": {TableName: "users", Columns: syncableColumns()},
	}}

	result := validate.New().Validate(source, target, []string{"users", "orders"})

	assert.Equal(t, 1, result.SeverityHistogram[validate.SeverityCritical])
	assert.False(t, result.CanProceed)
}
