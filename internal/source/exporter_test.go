package source_test

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cms-migrate/internal/snapshot"
	"cms-migrate/internal/source"
)

func seedDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "content.db")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	stmts := []string{
		`CREATE TABLE categories (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`CREATE TABLE articles (
			id INTEGER PRIMARY KEY,
			title TEXT NOT NULL,
			body TEXT,
			meta TEXT,
			cover BLOB,
			category_id INTEGER REFERENCES categories(id),
			created_at DATETIME
		)`,
		`CREATE TABLE strapi_core_store_settings (id INTEGER PRIMARY KEY, value TEXT)`,
		`INSERT INTO categories VALUES (1, 'news')`,
		`INSERT INTO strapi_core_store_settings VALUES (1, 'internal')`,
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err)
	}
	for i := 1; i <= 25; i++ {
		_, err := db.Exec(
			`INSERT INTO articles (id, title, body, meta, cover, category_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			i, fmt.Sprintf("title %d", i), "body", `{"tags":["x"]}`, []byte{0x01, 0x02}, 1, "2023-06-15T10:30:00Z")
		require.NoError(t, err)
	}
	return path
}

func TestOpen_MissingDatabaseFails(t *testing.T) {
	_, err := source.Open(filepath.Join(t.TempDir(), "nope.db"), source.Options{}, zerolog.Nop(), nil)
	assert.Error(t, err)
}

func TestStats_CountsWithoutExporting(t *testing.T) {
	exp, err := source.Open(seedDatabase(t), source.Options{}, zerolog.Nop(), nil)
	require.NoError(t, err)
	defer exp.Close()

	counts, err := exp.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"articles": 25, "categories": 1}, counts)
}

func TestExport_SchemaAndData(t *testing.T) {
	exp, err := source.Open(seedDatabase(t), source.Options{BatchSize: 10}, zerolog.Nop(), nil)
	require.NoError(t, err)
	defer exp.Close()

	result, err := exp.Export(context.Background())
	require.NoError(t, err)
	require.True(t, result.Success)

	// Internal bookkeeping tables are excluded by default.
	assert.NotContains(t, result.Data, "strapi_core_store_settings")
	require.Contains(t, result.Data, "articles")
	require.Contains(t, result.Data, "categories")

	articles := result.Data["articles"]
	assert.Len(t, articles.Rows, 25)
	assert.Equal(t, 25+1, result.Metadata.TotalRecords)
	assert.Equal(t, 2, result.Metadata.TotalTables)

	// Column metadata comes from PRAGMA table_info.
	byName := make(map[string]string)
	for _, col := range articles.Columns {
		byName[col.Name] = col.DeclaredType
	}
	assert.Equal(t, "INTEGER", byName["id"])
	assert.Equal(t, "BLOB", byName["cover"])
	assert.Equal(t, "DATETIME", byName["created_at"])

	// Foreign keys come from PRAGMA foreign_key_list.
	require.Len(t, articles.ForeignKeys, 1)
	assert.Equal(t, "category_id", articles.ForeignKeys[0].FromColumn)
	assert.Equal(t, "categories", articles.ForeignKeys[0].ToTable)
	assert.Equal(t, "id", articles.ForeignKeys[0].ToColumn)

	// Text-affinity columns holding JSON are re-hinted for the transform.
	assert.Equal(t, "JSON", byName["meta"])
}

func TestExport_BatchedReadsPreserveRowOrder(t *testing.T) {
	// BatchSize 7 forces four pages over the 25 articles; rows must come
	// back in rowid order with no duplicates across page boundaries.
	exp, err := source.Open(seedDatabase(t), source.Options{BatchSize: 7}, zerolog.Nop(), nil)
	require.NoError(t, err)
	defer exp.Close()

	result, err := exp.Export(context.Background())
	require.NoError(t, err)

	articles := result.Data["articles"]
	require.Len(t, articles.Rows, 25)
	for i, rec := range articles.Rows {
		assert.EqualValues(t, i+1, rec["id"])
	}
}

func TestExport_IncludeSystemTables(t *testing.T) {
	exp, err := source.Open(seedDatabase(t), source.Options{IncludeSystemTables: true}, zerolog.Nop(), nil)
	require.NoError(t, err)
	defer exp.Close()

	result, err := exp.Export(context.Background())
	require.NoError(t, err)
	assert.Contains(t, result.Data, "strapi_core_store_settings")
}

func TestExport_WritesSnapshotFile(t *testing.T) {
	out := t.TempDir()
	exp, err := source.Open(seedDatabase(t), source.Options{OutDir: out}, zerolog.Nop(), nil)
	require.NoError(t, err)
	defer exp.Close()

	result, err := exp.Export(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, result.OutputFile)

	roundTrip, err := snapshot.ReadExportFile(result.OutputFile)
	require.NoError(t, err)
	assert.Len(t, roundTrip.Data["articles"].Rows, 25)
}

func TestExport_CancelledContext(t *testing.T) {
	exp, err := source.Open(seedDatabase(t), source.Options{}, zerolog.Nop(), nil)
	require.NoError(t, err)
	defer exp.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = exp.Export(ctx)
	assert.Error(t, err)
}
