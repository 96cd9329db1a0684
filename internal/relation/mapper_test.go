package relation_test

import (
	"fmt"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cms-migrate/internal/relation"
	"cms-migrate/internal/snapshot"
)

func TestImportOrder_ReferencedTablesLoadFirst(t *testing.T) {
	m := relation.NewMapper()
	m.AddRelationship("players", "team_id", "teams", "id")

	order := m.ImportOrder([]string{"players", "teams"})

	require.Equal(t, []string{"teams", "players"}, order)
	assert.Empty(t, m.CycleWarnings())
}

func TestImportOrder_Chain(t *testing.T) {
	m := relation.NewMapper()
	m.AddRelationship("order_items", "order_id", "orders", "id")
	m.AddRelationship("orders", "user_id", "users", "id")

	order := m.ImportOrder([]string{"order_items", "users", "orders"})

	require.Equal(t, []string{"users", "orders", "order_items"}, order)
}

func TestImportOrder_CycleIsWarnedNotFatal(t *testing.T) {
	m := relation.NewMapper()
	m.AddRelationship("a", "b_id", "b", "id")
	m.AddRelationship("b", "a_id", "a", "id")

	order := m.ImportOrder([]string{"a", "b"})

	assert.Len(t, order, 2)
	assert.ElementsMatch(t, []string{"a", "b"}, order)
	assert.NotEmpty(t, m.CycleWarnings())
}

func TestImportOrder_EdgesOutsideInputAreIgnored(t *testing.T) {
	m := relation.NewMapper()
	m.AddRelationship("articles", "author_id", "users", "id")

	// users is not part of this run; articles must still be ordered.
	order := m.ImportOrder([]string{"articles"})
	require.Equal(t, []string{"articles"}, order)
}

// TestImportOrder_RandomAcyclicGraphs generates random DAGs and checks the
// ordering property: every table appears after all tables it references.
func TestImportOrder_RandomAcyclicGraphs(t *testing.T) {
	faker := gofakeit.New(11)

	for trial := 0; trial < 20; trial++ {
		n := faker.Number(3, 12)
		tables := make([]string, n)
		for i := range tables {
			tables[i] = fmt.Sprintf("%s_%d", faker.Noun(), i)
		}

		// Edges only point from higher to lower index, so the graph is
		// acyclic by construction.
		m := relation.NewMapper()
		for i := 1; i < n; i++ {
			for j := 0; j < i; j++ {
				if faker.Bool() {
					m.AddRelationship(tables[i], tables[j]+"_id", tables[j], "id")
				}
			}
		}

		order := m.ImportOrder(tables)
		require.Len(t, order, n, "trial %d", trial)
		assert.Empty(t, m.CycleWarnings(), "trial %d", trial)

		pos := make(map[string]int, n)
		for i, name := range order {
			pos[name] = i
		}
		for _, table := range tables {
			for _, rel := range m.Relationships(table) {
				assert.Less(t, pos[rel.ToTable], pos[table],
					"trial %d: %s must load before %s", trial, rel.ToTable, table)
			}
		}
	}
}

func TestBuildFromForeignKeys_SkipsSelfReferences(t *testing.T) {
	m := relation.NewMapper()
	m.BuildFromForeignKeys(map[string]*snapshot.TableSnapshot{
		"categories": {
			Name: "categories",
			ForeignKeys: []snapshot.ForeignKeyInfo{
				{FromColumn: "parent_id", ToTable: "categories", ToColumn: "id"},
			},
		},
	})

	assert.Empty(t, m.Relationships("categories"))
	order := m.ImportOrder([]string{"categories"})
	assert.Equal(t, []string{"categories"}, order)
}

func TestValidateRelationships_MissingTargetIsOneError(t *testing.T) {
	m := relation.NewMapper()
	m.AddRelationship("players", "team_id", "teams", "id")

	data := map[string][]snapshot.Record{
		"teams": {
			{"id": int64(1), "name": "alpha"},
		},
		"players": {
			{"id": int64(10), "team_id": int64(1)},
			{"id": int64(11), "team_id": int64(99)},
		},
	}

	issues := m.ValidateRelationships(data)
	require.Len(t, issues, 1)
	assert.Equal(t, "players", issues[0].Table)
	assert.Equal(t, int64(11), issues[0].RecordID)
	assert.Equal(t, "team_id", issues[0].Field)
	assert.Equal(t, snapshot.SeverityError, issues[0].Severity)

	// Removing the offending row clears the dataset.
	data["players"] = data["players"][:1]
	assert.Empty(t, m.ValidateRelationships(data))
}

func TestValidateRelationships_NullForeignKeysAreFine(t *testing.T) {
	m := relation.NewMapper()
	m.AddRelationship("articles", "category_id", "categories", "id")

	data := map[string][]snapshot.Record{
		"categories": {},
		"articles": {
			{"id": int64(1), "category_id": nil},
		},
	}
	assert.Empty(t, m.ValidateRelationships(data))
}

func TestValidateRelationships_JSONRoundTripValueIdentity(t *testing.T) {
	m := relation.NewMapper()
	m.AddRelationship("players", "team_id", "teams", "id")

	// After a snapshot file round-trip the ids come back as float64.
	data := map[string][]snapshot.Record{
		"teams":   {{"id": float64(1)}},
		"players": {{"id": float64(10), "team_id": int64(1)}},
	}
	assert.Empty(t, m.ValidateRelationships(data))
}
