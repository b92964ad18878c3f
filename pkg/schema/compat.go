// SPDX-License-Identifier: Apache-2.0

package schema

// typeFamily groups UDT names into normalized equivalence classes for
// cross-database type comparison.
type typeFamily int

const (
	familyUnknown typeFamily = iota
	familyInteger
	familyFloat
	familyCharacter
	familyTimestamp
	familyBoolean
	familyJSON
	familyUUID
)

var udtFamilies = map[string]typeFamily{
	"int2": familyInteger, "int4": familyInteger, "int8": familyInteger,
	"smallint": familyInteger, "integer": familyInteger, "bigint": familyInteger,
	"serial": familyInteger, "bigserial": familyInteger,

	"float4": familyFloat, "float8": familyFloat, "numeric": familyFloat,
	"decimal": familyFloat, "real": familyFloat, "double precision": familyFloat,
	"money": familyFloat,

	"bpchar": familyCharacter, "varchar": familyCharacter, "text": familyCharacter,
	"char": familyCharacter, "character": familyCharacter, "character varying": familyCharacter,

	"timestamp": familyTimestamp, "timestamptz": familyTimestamp,
	"date": familyTimestamp, "time": familyTimestamp, "timetz": familyTimestamp,

	"bool": familyBoolean, "boolean": familyBoolean,

	"json": familyJSON, "jsonb": familyJSON,

	"uuid": familyUUID,
}

func familyOf(udtName string) typeFamily {
	if f, ok := udtFamilies[udtName]; ok {
		return f
	}
	return familyUnknown
}

// AreTypesCompatible reports whether two UDT names belong to the same
// normalized equivalence class (spec.md §4.1).
func AreTypesCompatible(a, b string) bool {
	if a == b {
		return true
	}
	fa, fb := familyOf(a), familyOf(b)
	if fa == familyUnknown || fb == familyUnknown {
		return false
	}
	return fa == fb
}

// CanSafelyInsert reports whether a row from a column with the source shape
// can be inserted into a column with the target shape without truncation,
// precision loss, or a NOT-NULL violation: type compatibility, length and
// precision containment, and nullable-source-into-NOT-NULL-without-default
// are all checked (spec.md §4.1).
func CanSafelyInsert(source, target DetailedColumn) bool {
	if !AreTypesCompatible(source.UDTName, target.UDTName) {
		return false
	}

	if target.MaxLength != nil {
		if source.MaxLength == nil || *source.MaxLength > *target.MaxLength {
			return false
		}
	}

	if target.NumericPrecision != nil {
		if source.NumericPrecision == nil || *source.NumericPrecision > *target.NumericPrecision {
			return false
		}
	}

	if source.IsNullable && !target.IsNullable && target.DefaultValue == nil {
		return false
	}

	return true
}
