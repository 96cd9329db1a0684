// Package relation builds the directed graph of foreign-key dependencies
// between tables, produces a safe load order, and validates referential
// integrity of a transformed dataset.
package relation

import (
	"fmt"
	"sort"

	"cms-migrate/internal/snapshot"
)

// Relationship is one edge of the dependency graph: FromTable.FromColumn
// references ToTable.ToColumn.
type Relationship struct {
	FromTable  string `json:"fromTable"`
	FromColumn string `json:"fromColumn"`
	ToTable    string `json:"toTable"`
	ToColumn   string `json:"toColumn"`
}

// Mapper holds foreign-key relationships and answers ordering and
// integrity questions about them.
type Mapper struct {
	rels          map[string][]Relationship
	cycleWarnings []string
}

func NewMapper() *Mapper {
	return &Mapper{rels: make(map[string][]Relationship)}
}

// AddRelationship registers a foreign-key edge.
func (m *Mapper) AddRelationship(fromTable, fromColumn, toTable, toColumn string) {
	m.rels[fromTable] = append(m.rels[fromTable], Relationship{
		FromTable:  fromTable,
		FromColumn: fromColumn,
		ToTable:    toTable,
		ToColumn:   toColumn,
	})
}

// Relationships returns the outgoing foreign keys of one table.
func (m *Mapper) Relationships(table string) []Relationship {
	return m.rels[table]
}

// BuildFromForeignKeys loads every table's foreign keys from an export
// snapshot. Self-references are skipped: a table is never its own
// load-order dependency.
func (m *Mapper) BuildFromForeignKeys(data map[string]*snapshot.TableSnapshot) {
	for name, table := range data {
		for _, fk := range table.ForeignKeys {
			if fk.ToTable == name {
				continue
			}
			m.AddRelationship(name, fk.FromColumn, fk.ToTable, fk.ToColumn)
		}
	}
}

// ImportOrder returns a load order over tables where every table appears
// after the tables it references, computed by depth-first topological
// sort. A table already in progress marks a cycle: it is treated as
// resolved without recursing further and a warning is recorded, because
// the importer defers foreign-key constraints until after all data loads.
// The result is always a complete permutation of the input.
func (m *Mapper) ImportOrder(tables []string) []string {
	inSet := make(map[string]bool, len(tables))
	for _, t := range tables {
		inSet[t] = true
	}

	var (
		order      = make([]string, 0, len(tables))
		done       = make(map[string]bool, len(tables))
		inProgress = make(map[string]bool, len(tables))
	)

	var visit func(table string)
	visit = func(table string) {
		if done[table] {
			return
		}
		if inProgress[table] {
			m.cycleWarnings = append(m.cycleWarnings,
				fmt.Sprintf("circular dependency involving table %s; load order may transiently violate constraints", table))
			return
		}
		inProgress[table] = true

		deps := make([]string, 0, len(m.rels[table]))
		for _, rel := range m.rels[table] {
			if inSet[rel.ToTable] {
				deps = append(deps, rel.ToTable)
			}
		}
		sort.Strings(deps)
		for _, dep := range deps {
			visit(dep)
		}

		inProgress[table] = false
		done[table] = true
		order = append(order, table)
	}

	for _, t := range tables {
		visit(t)
	}
	return order
}

// CycleWarnings returns the cycles encountered by ImportOrder so far.
func (m *Mapper) CycleWarnings() []string {
	return m.cycleWarnings
}

// ValidateRelationships checks that every non-null foreign-key value in
// every row points at an existing row of the referenced table. Each miss
// is an error-severity issue naming the source table, record id, field,
// and the missing target.
func (m *Mapper) ValidateRelationships(data map[string][]snapshot.Record) []snapshot.ValidationIssue {
	// Index referenced column values once per (table, column) pair.
	type ref struct{ table, column string }
	index := make(map[ref]map[string]struct{})

	tables := make([]string, 0, len(data))
	for t := range data {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	for _, table := range tables {
		for _, rel := range m.rels[table] {
			key := ref{rel.ToTable, rel.ToColumn}
			if _, ok := index[key]; ok {
				continue
			}
			values := make(map[string]struct{})
			for _, row := range data[rel.ToTable] {
				if v, ok := row[rel.ToColumn]; ok && v != nil {
					values[valueKey(v)] = struct{}{}
				}
			}
			index[key] = values
		}
	}

	var issues []snapshot.ValidationIssue
	for _, table := range tables {
		for _, rel := range m.rels[table] {
			targets := index[ref{rel.ToTable, rel.ToColumn}]
			for _, row := range data[table] {
				v, ok := row[rel.FromColumn]
				if !ok || v == nil {
					continue
				}
				if _, found := targets[valueKey(v)]; !found {
					issues = append(issues, snapshot.ValidationIssue{
						Table:    table,
						RecordID: row["id"],
						Field:    rel.FromColumn,
						Message: fmt.Sprintf("references missing %s.%s = %v",
							rel.ToTable, rel.ToColumn, v),
						Severity: snapshot.SeverityError,
					})
				}
			}
		}
	}
	return issues
}

// valueKey normalizes a value for set membership so that int64(1),
// float64(1) and "1" compare equal, matching how values round-trip
// through JSON snapshot files.
func valueKey(v any) string {
	switch n := v.(type) {
	case float64:
		if n == float64(int64(n)) {
			return fmt.Sprintf("%d", int64(n))
		}
		return fmt.Sprintf("%v", n)
	case float32:
		return valueKey(float64(n))
	}
	return fmt.Sprintf("%v", v)
}
