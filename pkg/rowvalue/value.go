// SPDX-License-Identifier: Apache-2.0

// Package rowvalue models a single column value as a tagged union instead of
// an untyped map, per the source system's "Dynamic row: Record<string,
// unknown>" pattern re-architected for a statically typed implementation.
// The executor and the diff engine operate on Row (an ordered map of
// column name to Value), never on bare interface{}.
package rowvalue

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
	"unicode/utf16"
)

// Kind identifies which alternative of Value is populated.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt64
	KindFloat64
	KindString
	KindBytes
	KindTimestamp
	KindJSON
)

// Value is a tagged union over the column value classes the executor knows
// how to bind and serialize.
type Value struct {
	Kind Kind

	Bool      bool
	Int64     int64
	Float64   float64
	String    string
	Bytes     []byte
	Timestamp time.Time
	JSON      json.RawMessage

	// Warning is set when serialization reduced the value (NaN/Inf -> NULL,
	// an invalid Date -> NULL, a function/symbol -> NULL or its name).
	Warning string
}

func Null() Value                      { return Value{Kind: KindNull} }
func Bool(b bool) Value                 { return Value{Kind: KindBool, Bool: b} }
func Int64(i int64) Value               { return Value{Kind: KindInt64, Int64: i} }
func String(s string) Value             { return Value{Kind: KindString, String: s} }
func Bytes(b []byte) Value              { return Value{Kind: KindBytes, Bytes: b} }
func Timestamp(t time.Time) Value       { return Value{Kind: KindTimestamp, Timestamp: t} }
func JSONValue(b json.RawMessage) Value { return Value{Kind: KindJSON, JSON: b} }

// Float64 builds a Value from a float64, applying the documented reduction:
// NaN and +/-Inf become NULL with a warning rather than being sent to
// Postgres, which cannot represent them in a numeric column.
func Float64(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{Kind: KindNull, Warning: "non-finite float reduced to NULL"}
	}
	return Value{Kind: KindFloat64, Float64: f}
}

// BigInt builds a Value from a string-encoded arbitrary precision integer
// (the "bigint -> decimal string" rule), stored as a decimal string so no
// precision is lost binding it as a parameter.
func BigInt(decimal string) Value {
	return Value{Kind: KindString, String: decimal}
}

// FromTime builds a Value from a possibly-invalid timestamp. An invalid
// (zero) Date reduces to NULL with a warning, per spec.
func FromTime(t time.Time, valid bool) Value {
	if !valid || t.IsZero() {
		return Value{Kind: KindNull, Warning: "invalid date reduced to NULL"}
	}
	return Timestamp(t)
}

// FromUnsupported handles functions, channels, and other types with no SQL
// representation: reduced to NULL (or the type's name as a string) with a
// warning.
func FromUnsupported(name string, asName bool) Value {
	if asName {
		return Value{Kind: KindString, String: name, Warning: "unsupported value serialized as name"}
	}
	return Value{Kind: KindNull, Warning: "unsupported value reduced to NULL"}
}

// Arg returns the value in the form the database/sql driver expects as a
// bind parameter.
func (v Value) Arg() interface{} {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.Bool
	case KindInt64:
		return v.Int64
	case KindFloat64:
		return v.Float64
	case KindString:
		return v.String
	case KindBytes:
		return "\\x" + hex.EncodeToString(v.Bytes)
	case KindTimestamp:
		return v.Timestamp.UTC().Format(time.RFC3339Nano)
	case KindJSON:
		return string(v.JSON)
	default:
		return nil
	}
}

// ByteSize estimates the on-the-wire size of the value, per spec.md §4.9.5:
// strings counted as UTF-16 code units * 2, JSON as its serialized length * 2.
func (v Value) ByteSize() int64 {
	switch v.Kind {
	case KindNull:
		return 0
	case KindBool:
		return 1
	case KindInt64, KindFloat64:
		return 8
	case KindString:
		return int64(len(utf16.Encode([]rune(v.String))) * 2)
	case KindBytes:
		return int64(len(v.Bytes))
	case KindTimestamp:
		return 24
	case KindJSON:
		return int64(len(v.JSON) * 2)
	default:
		return 0
	}
}

// GoString prints a debug representation; not used for SQL.
func (v Value) GoString() string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindInt64:
		return strconv.FormatInt(v.Int64, 10)
	default:
		return fmt.Sprintf("%v", v.Arg())
	}
}

// Row is an ordered column-name -> Value mapping for a single database row.
type Row struct {
	Columns []string
	Values  map[string]Value
}

func NewRow() Row {
	return Row{Values: make(map[string]Value)}
}

func (r *Row) Set(column string, v Value) {
	if _, exists := r.Values[column]; !exists {
		r.Columns = append(r.Columns, column)
	}
	r.Values[column] = v
}

func (r Row) Get(column string) (Value, bool) {
	v, ok := r.Values[column]
	return v, ok
}

// ByteSize sums the estimated byte size of every value in the row, used to
// decide whether a row exceeds the 1 MiB bulk-insert threshold (spec.md
// §4.9.4 step 7, §4.9.5).
func (r Row) ByteSize() int64 {
	var total int64
	for _, c := range r.Columns {
		total += r.Values[c].ByteSize()
	}
	return total
}
