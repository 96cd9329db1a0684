// Package typeconv converts source column values to the closed set of
// target type tags and infers types from sampled data when schema metadata
// is absent.
package typeconv

import (
	"fmt"
	"strings"
)

// Type is a target type tag. Every source value is converted into exactly
// one of these classes before loading.
type Type string

const (
	Integer   Type = "integer"
	Text      Type = "text"
	Decimal   Type = "decimal"
	Binary    Type = "binary"
	Timestamp Type = "timestamp"
	Boolean   Type = "boolean"
	JSON      Type = "json"
)

// MapDeclaredType maps a SQLite declared column type to a target type tag
// using SQLite's affinity rules. Unknown declared types map to Text so the
// conversion step stays permissive; correctness is enforced later by the
// validator.
func MapDeclaredType(decl string) Type {
	d := strings.ToUpper(strings.TrimSpace(decl))
	switch {
	case d == "":
		return Text
	case strings.Contains(d, "JSON"):
		return JSON
	case strings.Contains(d, "BOOL"):
		return Boolean
	case strings.Contains(d, "DATE"), strings.Contains(d, "TIME"):
		return Timestamp
	case strings.Contains(d, "INT"):
		return Integer
	case strings.Contains(d, "CHAR"), strings.Contains(d, "CLOB"), strings.Contains(d, "TEXT"):
		return Text
	case strings.Contains(d, "BLOB"):
		return Binary
	case strings.Contains(d, "REAL"), strings.Contains(d, "FLOA"), strings.Contains(d, "DOUB"),
		strings.Contains(d, "DECIM"), strings.Contains(d, "NUMER"):
		return Decimal
	default:
		return Text
	}
}

// ConversionError names the originating table and field of a failed value
// conversion so the transformer can record it without crashing the run.
type ConversionError struct {
	Table  string
	Field  string
	Value  any
	Target Type
	Err    error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("%s.%s: cannot convert %v to %s: %v", e.Table, e.Field, e.Value, e.Target, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}
