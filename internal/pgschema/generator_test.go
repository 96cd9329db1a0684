package pgschema_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cms-migrate/internal/pgschema"
	"cms-migrate/internal/snapshot"
)

func newGen() *pgschema.Generator {
	return pgschema.NewGenerator("public", zerolog.Nop())
}

func shapesResult(shapes map[string]snapshot.TableShape) *snapshot.TransformResult {
	return &snapshot.TransformResult{Shapes: shapes}
}

func TestGenerate_SystemColumnsComeFirst(t *testing.T) {
	schemas, issues := newGen().Generate(shapesResult(map[string]snapshot.TableShape{
		"articles": {
			Columns: []string{"title", "locale", "body", "id", "created_at"},
			Types: map[string]string{
				"title": "text", "locale": "text", "body": "text",
				"id": "integer", "created_at": "timestamp",
			},
		},
	}))

	require.Empty(t, issues)
	require.Len(t, schemas, 1)

	var names []string
	for _, col := range schemas[0].Columns {
		names = append(names, col.Name)
	}
	assert.Equal(t, []string{"id", "created_at", "locale", "title", "body"}, names)
	assert.Equal(t, "id", schemas[0].PrimaryKey)
}

func TestGenerate_TypeMapping(t *testing.T) {
	schemas, _ := newGen().Generate(shapesResult(map[string]snapshot.TableShape{
		"things": {
			Columns: []string{"id", "price", "active", "meta", "blob", "seen_at", "name"},
			Types: map[string]string{
				"id": "integer", "price": "decimal", "active": "boolean",
				"meta": "json", "blob": "binary", "seen_at": "timestamp", "name": "text",
			},
		},
	}))

	require.Len(t, schemas, 1)
	got := make(map[string]string)
	for _, col := range schemas[0].Columns {
		got[col.Name] = col.SQLType
	}
	assert.Equal(t, map[string]string{
		"id": "BIGINT", "price": "DECIMAL", "active": "BOOLEAN",
		"meta": "JSONB", "blob": "BYTEA", "seen_at": "TIMESTAMP", "name": "TEXT",
	}, got)
}

func TestGenerate_ForeignKeyByNamingConvention(t *testing.T) {
	schemas, issues := newGen().Generate(shapesResult(map[string]snapshot.TableShape{
		"players": {
			Columns: []string{"id", "team_id"},
			Types:   map[string]string{"id": "integer", "team_id": "integer"},
		},
		"teams": {
			Columns: []string{"id"},
			Types:   map[string]string{"id": "integer"},
		},
	}))

	require.Empty(t, issues)
	var players pgschema.TableSchema
	for _, ts := range schemas {
		if ts.Name == "players" {
			players = ts
		}
	}
	require.Len(t, players.ForeignKeys, 1)
	assert.Equal(t, "team_id", players.ForeignKeys[0].Column)
	assert.Equal(t, "teams", players.ForeignKeys[0].RefTable)
	assert.Equal(t, "id", players.ForeignKeys[0].RefColumn)
}

func TestGenerate_AliasAndSelfReference(t *testing.T) {
	schemas, issues := newGen().Generate(shapesResult(map[string]snapshot.TableShape{
		"articles": {
			Columns: []string{"id", "author_id", "parent_id"},
			Types:   map[string]string{"id": "integer", "author_id": "integer", "parent_id": "integer"},
		},
		"users": {
			Columns: []string{"id"},
			Types:   map[string]string{"id": "integer"},
		},
	}))

	require.Empty(t, issues)
	var articles pgschema.TableSchema
	for _, ts := range schemas {
		if ts.Name == "articles" {
			articles = ts
		}
	}
	refs := make(map[string]string)
	for _, fk := range articles.ForeignKeys {
		refs[fk.Column] = fk.RefTable
	}
	assert.Equal(t, "users", refs["author_id"])
	assert.Equal(t, "articles", refs["parent_id"])
}

func TestGenerate_UnresolvedForeignKeyIsWarning(t *testing.T) {
	schemas, issues := newGen().Generate(shapesResult(map[string]snapshot.TableShape{
		"articles": {
			Columns: []string{"id", "mystery_id"},
			Types:   map[string]string{"id": "integer", "mystery_id": "integer"},
		},
	}))

	require.Len(t, issues, 1)
	assert.Equal(t, snapshot.SeverityWarning, issues[0].Severity)
	assert.Equal(t, "mystery_id", issues[0].Field)
	assert.Empty(t, schemas[0].ForeignKeys)

	// The column itself is still created.
	var names []string
	for _, col := range schemas[0].Columns {
		names = append(names, col.Name)
	}
	assert.Contains(t, names, "mystery_id")
}

func TestGenerate_DeclaredForeignKeysWinOverConvention(t *testing.T) {
	schemas, issues := newGen().Generate(shapesResult(map[string]snapshot.TableShape{
		"players": {
			Columns: []string{"id", "team_id"},
			Types:   map[string]string{"id": "integer", "team_id": "integer"},
			ForeignKeys: []snapshot.ForeignKeyInfo{
				{FromColumn: "team_id", ToTable: "squads", ToColumn: "id", OnDelete: "CASCADE"},
			},
		},
		"squads": {
			Columns: []string{"id"},
			Types:   map[string]string{"id": "integer"},
		},
		"teams": {
			Columns: []string{"id"},
			Types:   map[string]string{"id": "integer"},
		},
	}))

	require.Empty(t, issues)
	for _, ts := range schemas {
		if ts.Name != "players" {
			continue
		}
		require.Len(t, ts.ForeignKeys, 1)
		assert.Equal(t, "squads", ts.ForeignKeys[0].RefTable)
		assert.Equal(t, "CASCADE", ts.ForeignKeys[0].OnDelete)
	}
}

func TestGenerate_LifecycleIndexes(t *testing.T) {
	schemas, _ := newGen().Generate(shapesResult(map[string]snapshot.TableShape{
		"articles": {
			Columns: []string{"id", "created_at", "published_at", "title"},
			Types: map[string]string{
				"id": "integer", "created_at": "timestamp",
				"published_at": "timestamp", "title": "text",
			},
		},
	}))

	require.Len(t, schemas, 1)
	require.Len(t, schemas[0].Indexes, 2)
	assert.Equal(t, "idx_articles_created_at", schemas[0].Indexes[0].Name)
	assert.Equal(t, "idx_articles_published_at", schemas[0].Indexes[1].Name)
}

func TestCreateTableSQL(t *testing.T) {
	g := newGen()
	sql := g.CreateTableSQL(pgschema.TableSchema{
		Name: "articles",
		Columns: []pgschema.Column{
			{Name: "id", SQLType: "BIGINT"},
			{Name: "title", SQLType: "TEXT", Nullable: true},
		},
		PrimaryKey: "id",
	})
	assert.Equal(t,
		`CREATE TABLE IF NOT EXISTS "public"."articles" ("id" BIGINT PRIMARY KEY, "title" TEXT)`,
		sql)
}

func TestForeignKeySQL(t *testing.T) {
	g := newGen()

	sql := g.ForeignKeySQL("players", pgschema.ForeignKey{
		Column: "team_id", RefTable: "teams", RefColumn: "id",
	})
	assert.Equal(t,
		`ALTER TABLE "public"."players" ADD CONSTRAINT "fk_players_team_id" FOREIGN KEY ("team_id") REFERENCES "public"."teams" ("id")`,
		sql)

	sql = g.ForeignKeySQL("players", pgschema.ForeignKey{
		Column: "team_id", RefTable: "teams", RefColumn: "id", OnDelete: "cascade",
	})
	assert.Contains(t, sql, " ON DELETE CASCADE")

	sql = g.ForeignKeySQL("players", pgschema.ForeignKey{
		Column: "team_id", RefTable: "teams", RefColumn: "id", OnDelete: "NO ACTION",
	})
	assert.NotContains(t, sql, "ON DELETE")
}

func TestQuoteIdent_EmbeddedQuotesAreDoubled(t *testing.T) {
	assert.Equal(t, `"articles"`, pgschema.QuoteIdent("articles"))
	assert.Equal(t, `"we""ird"`, pgschema.QuoteIdent(`we"ird`))

	g := newGen()
	assert.Equal(t, `"public"."we""ird"`, g.QualifiedName(`we"ird`))

	sql := g.CreateTableSQL(pgschema.TableSchema{
		Name: `we"ird`,
		Columns: []pgschema.Column{
			{Name: `col"umn`, SQLType: "TEXT", Nullable: true},
		},
	})
	assert.Equal(t,
		`CREATE TABLE IF NOT EXISTS "public"."we""ird" ("col""umn" TEXT)`,
		sql)
}

func TestDropAndIndexSQL(t *testing.T) {
	g := newGen()
	assert.Equal(t, `DROP TABLE IF EXISTS "public"."articles" CASCADE`, g.DropTableSQL("articles"))
	assert.Equal(t,
		`CREATE INDEX IF NOT EXISTS "idx_articles_created_at" ON "public"."articles" ("created_at")`,
		g.CreateIndexSQL(pgschema.Index{Name: "idx_articles_created_at", Table: "articles", Column: "created_at"}))
}
