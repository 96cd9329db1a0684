package typeconv

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// TimeFormat is the single canonical textual format for timestamps on the
// target side.
const TimeFormat = time.RFC3339

// Convert coerces value into the given target type class. nil passes
// through unchanged. A non-nil error means the value is not representable
// in the target type; callers record it as a row-level issue, they do not
// abort the table.
func Convert(value any, t Type) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch t {
	case Integer:
		return cast.ToInt64E(value)

	case Decimal:
		return cast.ToFloat64E(value)

	case Boolean:
		return toBool(value)

	case Timestamp:
		ts, err := ParseTimestamp(value)
		if err != nil {
			return nil, err
		}
		return ts.UTC().Format(TimeFormat), nil

	case Binary:
		return toHex(value)

	case JSON:
		return toJSON(value), nil

	case Text:
		return toText(value)

	default:
		// Permissive default for anything outside the closed set.
		return toText(value)
	}
}

// Validate reports whether value is representable in the given target type.
// nil is always valid; nullability is enforced by the validator, not here.
func Validate(value any, t Type) bool {
	_, err := Convert(value, t)
	return err == nil
}

// toBool accepts booleans, the integers 0/1, and case-insensitive
// "true"/"false" (plus "0"/"1") strings. Anything else is an error: silently
// truthifying arbitrary numbers would hide data corruption.
func toBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
		return false, fmt.Errorf("string %q is not a boolean", v)
	}

	n, err := cast.ToInt64E(value)
	if err != nil {
		return false, fmt.Errorf("%v (%T) is not a boolean", value, value)
	}
	switch n {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, fmt.Errorf("integer %d is not a boolean (expected 0 or 1)", n)
}

// toHex re-encodes binary payloads as a hex string with the PostgreSQL
// bytea input prefix.
func toHex(value any) (string, error) {
	switch v := value.(type) {
	case []byte:
		return `\x` + hex.EncodeToString(v), nil
	case string:
		if strings.HasPrefix(v, `\x`) {
			return v, nil
		}
		return `\x` + hex.EncodeToString([]byte(v)), nil
	default:
		return "", fmt.Errorf("%v (%T) is not binary data", value, value)
	}
}

// toJSON parses string payloads into structured values. Unparsable strings
// pass through unchanged; they will load as text.
func toJSON(value any) any {
	var raw []byte
	switch v := value.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		// Already structured (map, slice, number, bool).
		return value
	}

	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return string(raw)
	}
	return parsed
}

func toText(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("cannot serialize %T as text: %w", v, err)
		}
		return string(data), nil
	case time.Time:
		return v.UTC().Format(TimeFormat), nil
	}
	return cast.ToStringE(value)
}

// ParseTimestamp accepts time values, numeric epoch seconds, and date-like
// strings in the common interchange layouts.
func ParseTimestamp(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case float64:
		sec := int64(v)
		nsec := int64((v - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec), nil
	case float32:
		return time.Unix(int64(v), 0), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		n, err := cast.ToInt64E(v)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(n, 0), nil
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return time.Unix(n, 0), nil
		}
		if f, err := v.Float64(); err == nil {
			return time.Unix(int64(f), 0), nil
		}
		return time.Time{}, fmt.Errorf("number %q is not a timestamp", v)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, fmt.Errorf("empty string is not a timestamp")
		}
		if isDigits(s) {
			return ParseTimestamp(cast.ToInt64(s))
		}
		ts, err := cast.StringToDate(s)
		if err != nil {
			return time.Time{}, fmt.Errorf("string %q is not a timestamp", s)
		}
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("%v (%T) is not a timestamp", value, value)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 && (r == '-' || r == '+') && len(s) > 1 {
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
