package typeconv

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cast"
)

// sampleLimit bounds how many non-null values Detect inspects per column.
const sampleLimit = 100

// majorityThreshold: a class wins when at least half the sample matches it.
const majorityThreshold = 0.5

// Detect infers a target type from sampled column values. The heuristics
// run on the first 100 non-null values and are majority-voted at 50%:
// JSON-parseable strings win first, then ISO-date-like strings, then
// all-boolean (or all-0/1 numeric) samples, then all-integer numerics,
// then mixed numerics as decimal. Everything else is text.
func Detect(samples []any) Type {
	var (
		n        int
		jsonN    int
		dateN    int
		boolN    int
		numericN int
		integerN int
	)

	for _, v := range samples {
		if v == nil {
			continue
		}
		if n >= sampleLimit {
			break
		}
		n++

		switch s := v.(type) {
		case string:
			if looksLikeJSON(s) {
				jsonN++
			}
			if looksLikeDate(s) {
				dateN++
			}
		case bool:
			boolN++
		default:
			i, isInt := asInt(v)
			f, isFloat := asFloat(v)
			switch {
			case isInt:
				numericN++
				integerN++
				if i == 0 || i == 1 {
					boolN++
				}
			case isFloat:
				numericN++
				if f == float64(int64(f)) {
					integerN++
					if f == 0 || f == 1 {
						boolN++
					}
				}
			}
		}
	}

	if n == 0 {
		return Text
	}

	switch {
	case float64(jsonN)/float64(n) >= majorityThreshold:
		return JSON
	case float64(dateN)/float64(n) >= majorityThreshold:
		return Timestamp
	case boolN == n:
		return Boolean
	case numericN == n && integerN == n:
		return Integer
	case numericN == n:
		return Decimal
	default:
		return Text
	}
}

// looksLikeJSON reports whether s is a parseable JSON object or array.
// Bare scalars don't count: "42" as a string column stays text.
func looksLikeJSON(s string) bool {
	t := strings.TrimSpace(s)
	if len(t) < 2 {
		return false
	}
	if t[0] != '{' && t[0] != '[' {
		return false
	}
	return json.Valid([]byte(t))
}

// looksLikeDate reports whether s parses as an ISO-style date. Requires a
// leading 4-digit-year date shape to avoid false positives on free text.
func looksLikeDate(s string) bool {
	t := strings.TrimSpace(s)
	if len(t) < 10 || t[4] != '-' || t[7] != '-' {
		return false
	}
	_, err := cast.StringToDate(t)
	return err == nil
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
