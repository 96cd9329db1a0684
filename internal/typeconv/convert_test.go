package typeconv_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cms-migrate/internal/typeconv"
)

func TestConvert_NilPassesThrough(t *testing.T) {
	for _, target := range []typeconv.Type{
		typeconv.Integer, typeconv.Text, typeconv.Decimal,
		typeconv.Binary, typeconv.Timestamp, typeconv.Boolean, typeconv.JSON,
	} {
		out, err := typeconv.Convert(nil, target)
		require.NoError(t, err, "target %s", target)
		assert.Nil(t, out, "target %s", target)
	}
}

func TestConvert_Integer(t *testing.T) {
	out, err := typeconv.Convert("42", typeconv.Integer)
	require.NoError(t, err)
	assert.Equal(t, int64(42), out)

	out, err = typeconv.Convert(float64(7), typeconv.Integer)
	require.NoError(t, err)
	assert.Equal(t, int64(7), out)

	_, err = typeconv.Convert("not a number", typeconv.Integer)
	assert.Error(t, err)
}

func TestConvert_Boolean(t *testing.T) {
	cases := []struct {
		in   any
		want bool
	}{
		{true, true},
		{false, false},
		{int64(1), true},
		{int64(0), false},
		{"true", true},
		{"FALSE", false},
		{" 1 ", true},
		{"0", false},
	}
	for _, c := range cases {
		out, err := typeconv.Convert(c.in, typeconv.Boolean)
		require.NoError(t, err, "input %v", c.in)
		assert.Equal(t, c.want, out, "input %v", c.in)
	}

	// Arbitrary numbers and strings must not be silently truthified.
	_, err := typeconv.Convert(int64(2), typeconv.Boolean)
	assert.Error(t, err)
	_, err = typeconv.Convert("yes-ish", typeconv.Boolean)
	assert.Error(t, err)
}

func TestConvert_BinaryHexEncoding(t *testing.T) {
	out, err := typeconv.Convert([]byte{0xde, 0xad, 0xbe, 0xef}, typeconv.Binary)
	require.NoError(t, err)
	assert.Equal(t, `\xdeadbeef`, out)

	// Already-encoded payloads stay as they are.
	out, err = typeconv.Convert(`\xdeadbeef`, typeconv.Binary)
	require.NoError(t, err)
	assert.Equal(t, `\xdeadbeef`, out)

	_, err = typeconv.Convert(123, typeconv.Binary)
	assert.Error(t, err)
}

func TestConvert_Timestamp(t *testing.T) {
	out, err := typeconv.Convert("2023-06-15T10:30:00Z", typeconv.Timestamp)
	require.NoError(t, err)
	assert.Equal(t, "2023-06-15T10:30:00Z", out)

	// Epoch seconds, as SQLite often stores them.
	epoch := time.Date(2023, 6, 15, 10, 30, 0, 0, time.UTC).Unix()
	out, err = typeconv.Convert(epoch, typeconv.Timestamp)
	require.NoError(t, err)
	assert.Equal(t, "2023-06-15T10:30:00Z", out)

	// Digit strings are epochs too.
	out, err = typeconv.Convert("1686825000", typeconv.Timestamp)
	require.NoError(t, err)
	assert.Equal(t, "2023-06-15T10:30:00Z", out)

	_, err = typeconv.Convert("not a date", typeconv.Timestamp)
	assert.Error(t, err)
}

func TestConvert_JSON(t *testing.T) {
	out, err := typeconv.Convert(`{"a": 1}`, typeconv.JSON)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1)}, out)

	// Unparsable strings pass through and load as text.
	out, err = typeconv.Convert("not json", typeconv.JSON)
	require.NoError(t, err)
	assert.Equal(t, "not json", out)

	// Already-structured values are left alone.
	out, err = typeconv.Convert([]any{1.0, 2.0}, typeconv.JSON)
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 2.0}, out)
}

func TestConvert_TextSerializesStructures(t *testing.T) {
	out, err := typeconv.Convert(map[string]any{"k": "v"}, typeconv.Text)
	require.NoError(t, err)
	assert.Equal(t, `{"k":"v"}`, out)

	out, err = typeconv.Convert(int64(99), typeconv.Text)
	require.NoError(t, err)
	assert.Equal(t, "99", out)
}

func TestParseTimestamp_FloatEpochKeepsSubseconds(t *testing.T) {
	ts, err := typeconv.ParseTimestamp(float64(1686825000.5))
	require.NoError(t, err)
	assert.Equal(t, int64(1686825000), ts.Unix())
	assert.InDelta(t, 500*time.Millisecond, ts.Sub(time.Unix(1686825000, 0)), float64(time.Millisecond))
}

func TestValidate_MatchesConvert(t *testing.T) {
	assert.True(t, typeconv.Validate("5", typeconv.Integer))
	assert.False(t, typeconv.Validate("five", typeconv.Integer))
	assert.True(t, typeconv.Validate(nil, typeconv.Boolean))
}

func TestMapDeclaredType_AffinityRules(t *testing.T) {
	cases := []struct {
		decl string
		want typeconv.Type
	}{
		{"INTEGER", typeconv.Integer},
		{"int", typeconv.Integer},
		{"BIGINT", typeconv.Integer},
		{"VARCHAR(255)", typeconv.Text},
		{"TEXT", typeconv.Text},
		{"CLOB", typeconv.Text},
		{"BLOB", typeconv.Binary},
		{"REAL", typeconv.Decimal},
		{"DOUBLE PRECISION", typeconv.Decimal},
		{"NUMERIC(10,2)", typeconv.Decimal},
		{"DATETIME", typeconv.Timestamp},
		{"timestamp", typeconv.Timestamp},
		{"BOOLEAN", typeconv.Boolean},
		{"JSON", typeconv.JSON},
		{"", typeconv.Text},
		{"GEOMETRY", typeconv.Text}, // unknown types stay permissive
	}
	for _, c := range cases {
		assert.Equal(t, c.want, typeconv.MapDeclaredType(c.decl), "declared %q", c.decl)
	}
}
