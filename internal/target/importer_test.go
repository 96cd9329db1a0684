package target

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cms-migrate/internal/snapshot"
)

func TestBuildUpsert_SingleRow(t *testing.T) {
	query, args := buildUpsert(`"public"."articles"`, []string{"id", "title"}, []snapshot.Record{
		{"id": int64(1), "title": "hello"},
	})

	assert.Equal(t,
		`INSERT INTO "public"."articles" ("id", "title") VALUES ($1, $2)`+
			` ON CONFLICT ("id") DO UPDATE SET "title" = EXCLUDED."title"`,
		query)
	assert.Equal(t, []any{int64(1), "hello"}, args)
}

func TestBuildUpsert_MultiRowPlaceholderNumbering(t *testing.T) {
	query, args := buildUpsert(`"public"."teams"`, []string{"id", "name"}, []snapshot.Record{
		{"id": int64(1), "name": "alpha"},
		{"id": int64(2), "name": "beta"},
		{"id": int64(3), "name": "gamma"},
	})

	assert.Contains(t, query, "VALUES ($1, $2), ($3, $4), ($5, $6)")
	require.Len(t, args, 6)
	assert.Equal(t, int64(3), args[4])
	assert.Equal(t, "gamma", args[5])
}

func TestBuildUpsert_RerunsProduceIdenticalStatements(t *testing.T) {
	columns := []string{"id", "title", "meta"}
	batch := []snapshot.Record{
		{"id": int64(1), "title": "hello", "meta": map[string]any{"b": 2, "a": 1}},
		{"id": int64(2), "title": "world", "meta": []any{1, 2}},
	}

	first, argsFirst := buildUpsert(`"public"."articles"`, columns, batch)
	second, argsSecond := buildUpsert(`"public"."articles"`, columns, batch)

	// Re-running the same batch issues the exact same statement and
	// arguments; the conflict clause turns the repeat into an update.
	assert.Equal(t, first, second)
	assert.Equal(t, argsFirst, argsSecond)
	assert.Contains(t, first, `ON CONFLICT ("id") DO UPDATE SET`)

	// Structured values serialize with sorted keys, so the argument text is
	// stable across runs too.
	assert.Equal(t, `{"a":1,"b":2}`, argsFirst[2])
}

func TestBuildUpsert_IDOnlyTableDoesNothingOnConflict(t *testing.T) {
	query, _ := buildUpsert(`"public"."markers"`, []string{"id"}, []snapshot.Record{
		{"id": int64(1)},
	})
	assert.Contains(t, query, `ON CONFLICT ("id") DO NOTHING`)
}

func TestBuildUpsert_NoIDColumnOmitsConflictClause(t *testing.T) {
	query, _ := buildUpsert(`"public"."link_table"`, []string{"left_id", "right_id"}, []snapshot.Record{
		{"left_id": int64(1), "right_id": int64(2)},
	})
	assert.NotContains(t, query, "ON CONFLICT")
}

func TestBuildUpsert_MissingFieldsBecomeNull(t *testing.T) {
	_, args := buildUpsert(`"public"."articles"`, []string{"id", "title", "body"}, []snapshot.Record{
		{"id": int64(1), "title": "partial"},
	})
	require.Len(t, args, 3)
	assert.Nil(t, args[2])
}

func TestNormalizeArg_StructuredValuesSerialize(t *testing.T) {
	assert.Equal(t, `{"a":1}`, normalizeArg(map[string]any{"a": 1}))
	assert.Equal(t, `[1,2]`, normalizeArg([]any{1, 2}))

	// Scalars pass through untouched.
	assert.Equal(t, int64(5), normalizeArg(int64(5)))
	assert.Equal(t, "text", normalizeArg("text"))
	assert.Nil(t, normalizeArg(nil))
}
