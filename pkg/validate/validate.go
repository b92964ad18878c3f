// SPDX-License-Identifier: Apache-2.0

// Package validate compares a selected table set across a source and target
// schema and categorizes the differences that matter for replication.
package validate

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/pgsync/pgsync/pkg/schema"
)

// Severity is the urgency of a ValidationIssue.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// Category classifies what kind of mismatch an issue describes.
type Category string

const (
	CategoryMissingTable      Category = "missing_table"
	CategoryMissingColumn     Category = "missing_column"
	CategoryTypeMismatch      Category = "type_mismatch"
	CategoryConstraintTighter Category = "constraint_tighter"
	CategoryMissingForeignKey Category = "missing_foreign_key"
	CategoryMissingUnique     Category = "missing_unique"
	CategoryCheckConstraint   Category = "check_constraint"
	CategoryIndexDifference   Category = "index_difference"
	CategoryEnumMismatch      Category = "enum_mismatch"
)

// ValidationIssue is one emitted discrepancy between source and target.
type ValidationIssue struct {
	ID             string
	Severity       Severity
	Category       Category
	TableName      string
	ColumnName     string
	Message        string
	Details        string
	Recommendation string
}

// SchemaValidationResult is the full output of a Validate call.
type SchemaValidationResult struct {
	Issues               []ValidationIssue
	SeverityHistogram    map[Severity]int
	CanProceed           bool // no CRITICAL issues
	RequiresConfirmation bool // at least one HIGH issue
}

// Validator compares two DatabaseSchema snapshots over a selected table set.
type Validator struct{}

func New() *Validator { return &Validator{} }

// Validate runs the algorithm in spec.md §4.2 over the given table names.
func (v *Validator) Validate(source, target *schema.DatabaseSchema, tables []string) *SchemaValidationResult {
	result := &SchemaValidationResult{
		SeverityHistogram: map[Severity]int{},
	}

	for _, name := range tables {
		srcTable := source.GetTable(name)
		tgtTable := target.GetTable(name)

		if srcTable == nil || tgtTable == nil {
			result.add(issue(SeverityCritical, CategoryMissingTable, name, "",
				fmt.Sprintf("table %q is missing from %s", name, sideOf(srcTable == nil)),
				"", "create the missing table before syncing"))
			continue
		}

		v.validateRequiredColumns(result, srcTable, tgtTable)
		v.validateSourceColumns(result, srcTable, tgtTable)
		v.validateTargetOnlyColumns(result, srcTable, tgtTable)
		v.validateForeignKeys(result, srcTable, tgtTable)
		v.validateUniqueAndCheck(result, srcTable, tgtTable)
		v.validateIndexes(result, srcTable, tgtTable)
	}

	v.validateEnums(result, source, target, tables)

	for _, iss := range result.Issues {
		result.SeverityHistogram[iss.Severity]++
	}
	result.CanProceed = result.SeverityHistogram[SeverityCritical] == 0
	result.RequiresConfirmation = result.SeverityHistogram[SeverityHigh] > 0

	return result
}

func sideOf(sourceMissing bool) string {
	if sourceMissing {
		return "source"
	}
	return "target"
}

func (v *Validator) validateRequiredColumns(result *SchemaValidationResult, src, tgt *schema.DetailedTableSchema) {
	for _, side := range []struct {
		name  string
		table *schema.DetailedTableSchema
	}{{"source", src}, {"target", tgt}} {
		id := side.table.GetColumn("id")
		if id == nil || id.UDTName != "uuid" {
			result.add(issue(SeverityCritical, CategoryMissingColumn, src.TableName, "id",
				fmt.Sprintf("%s.%s is missing a uuid `id` column required for sync", side.name, src.TableName),
				"", "add an `id uuid` primary key column"))
		}
		updatedAt := side.table.GetColumn("updated_at")
		if updatedAt == nil || (updatedAt.UDTName != "timestamp" && updatedAt.UDTName != "timestamptz") {
			result.add(issue(SeverityCritical, CategoryMissingColumn, src.TableName, "updated_at",
				fmt.Sprintf("%s.%s is missing a timestamp `updated_at` column required for sync", side.name, src.TableName),
				"", "add an `updated_at timestamptz` column"))
		}
	}
}

func (v *Validator) validateSourceColumns(result *SchemaValidationResult, src, tgt *schema.DetailedTableSchema) {
	for _, sc := range src.Columns {
		tc := tgt.GetColumn(sc.Name)
		if tc == nil {
			if !sc.IsNullable && sc.DefaultValue == nil {
				result.add(issue(SeverityCritical, CategoryMissingColumn, src.TableName, sc.Name,
					fmt.Sprintf("column %q is NOT NULL without a default in source but missing in target", sc.Name),
					"", "add the column to target with a default, or make it nullable"))
			} else {
				result.add(issue(SeverityLow, CategoryMissingColumn, src.TableName, sc.Name,
					fmt.Sprintf("column %q exists in source but not in target", sc.Name),
					"", "consider adding the column to target"))
			}
			continue
		}

		if !schema.AreTypesCompatible(sc.UDTName, tc.UDTName) {
			result.add(issue(SeverityHigh, CategoryTypeMismatch, src.TableName, sc.Name,
				fmt.Sprintf("column %q type %s is incompatible with target type %s", sc.Name, sc.UDTName, tc.UDTName),
				"", "align column types or add a transformation"))
			continue
		}

		if !schema.CanSafelyInsert(sc, *tc) {
			result.add(issue(SeverityMedium, CategoryConstraintTighter, src.TableName, sc.Name,
				fmt.Sprintf("column %q has tighter constraints on target (length/precision/NOT NULL)", sc.Name),
				"", "widen the target constraint or filter offending rows"))
		}
	}
}

func (v *Validator) validateTargetOnlyColumns(result *SchemaValidationResult, src, tgt *schema.DetailedTableSchema) {
	for _, tc := range tgt.Columns {
		if src.GetColumn(tc.Name) != nil {
			continue
		}
		if !tc.IsNullable && tc.DefaultValue == nil {
			result.add(issue(SeverityHigh, CategoryMissingColumn, src.TableName, tc.Name,
				fmt.Sprintf("target column %q is NOT NULL without a default and absent from source", tc.Name),
				"", "give the column a default or make it nullable on target"))
		}
	}
}

func (v *Validator) validateForeignKeys(result *SchemaValidationResult, src, tgt *schema.DetailedTableSchema) {
	srcFKs := map[string]bool{}
	for _, fk := range src.ForeignKeys {
		srcFKs[fk.Name] = true
	}
	for _, fk := range tgt.ForeignKeys {
		if !srcFKs[fk.Name] {
			result.add(issue(SeverityHigh, CategoryMissingForeignKey, src.TableName, "",
				fmt.Sprintf("target has foreign key %q absent from source; inserts may violate it", fk.Name),
				"", "ensure referenced rows sync first or relax the constraint"))
		}
	}
}

func (v *Validator) validateUniqueAndCheck(result *SchemaValidationResult, src, tgt *schema.DetailedTableSchema) {
	srcConstraints := map[string]bool{}
	for _, c := range src.Constraints {
		srcConstraints[c.Name] = true
	}
	for _, c := range tgt.Constraints {
		if srcConstraints[c.Name] {
			continue
		}
		switch c.Type {
		case schema.ConstraintUnique:
			result.add(issue(SeverityMedium, CategoryMissingUnique, src.TableName, "",
				fmt.Sprintf("target unique constraint %q absent from source", c.Name), "", "upserts may fail on this constraint"))
		case schema.ConstraintCheck:
			result.add(issue(SeverityInfo, CategoryCheckConstraint, src.TableName, "",
				fmt.Sprintf("target check constraint %q absent from source", c.Name), "", ""))
		}
	}
}

func (v *Validator) validateIndexes(result *SchemaValidationResult, src, tgt *schema.DetailedTableSchema) {
	srcIdx := map[string]bool{}
	for _, ix := range src.Indexes {
		srcIdx[ix.Name] = true
	}
	for _, ix := range tgt.Indexes {
		if !srcIdx[ix.Name] {
			result.add(issue(SeverityInfo, CategoryIndexDifference, src.TableName, "",
				fmt.Sprintf("target index %q has no source counterpart", ix.Name), "", ""))
		}
	}
}

func (v *Validator) validateEnums(result *SchemaValidationResult, source, target *schema.DatabaseSchema, tables []string) {
	_ = tables // enums are schema-global, not table-scoped
	for name, srcEnum := range source.Enums {
		tgtEnum, ok := target.Enums[name]
		if !ok {
			result.add(issue(SeverityHigh, CategoryEnumMismatch, "", "",
				fmt.Sprintf("enum %q exists in source but not in target", name), "", "create the enum type on target"))
			continue
		}
		tgtValues := map[string]bool{}
		for _, v := range tgtEnum.Values {
			tgtValues[v] = true
		}
		for _, v := range srcEnum.Values {
			if !tgtValues[v] {
				result.add(issue(SeverityMedium, CategoryEnumMismatch, "", "",
					fmt.Sprintf("enum %q is missing value %q on target", name, v), "", "add the missing enum value"))
			}
		}
		srcValues := map[string]bool{}
		for _, v := range srcEnum.Values {
			srcValues[v] = true
		}
		for _, v := range tgtEnum.Values {
			if !srcValues[v] {
				result.add(issue(SeverityInfo, CategoryEnumMismatch, "", "",
					fmt.Sprintf("enum %q has extra value %q on target", name, v), "", ""))
			}
		}
	}
}

func (r *SchemaValidationResult) add(i ValidationIssue) {
	r.Issues = append(r.Issues, i)
}

func issue(sev Severity, cat Category, table, column, message, details, recommendation string) ValidationIssue {
	return ValidationIssue{
		ID:             uuid.NewString(),
		Severity:       sev,
		Category:       cat,
		TableName:      table,
		ColumnName:     column,
		Message:        message,
		Details:        details,
		Recommendation: recommendation,
	}
}
