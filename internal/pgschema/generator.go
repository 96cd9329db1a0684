// Package pgschema derives PostgreSQL table definitions from a
// transformed dataset and emits the DDL to create them. Schemas are
// always derived, never hand-authored.
package pgschema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/rs/zerolog"

	"cms-migrate/internal/snapshot"
	"cms-migrate/internal/typeconv"
)

// Column is one target column definition.
type Column struct {
	Name     string
	SQLType  string
	Nullable bool
}

// ForeignKey is one target foreign-key definition.
type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
	OnDelete  string
}

// Index is one target index definition.
type Index struct {
	Name   string
	Table  string
	Column string
}

// TableSchema is the full derived definition of one target table.
type TableSchema struct {
	Name        string
	Columns     []Column
	PrimaryKey  string
	ForeignKeys []ForeignKey
	Indexes     []Index
}

// defaultAliases resolves foreign-key columns whose naming convention does
// not match the referenced table name. Extendable via AddAlias.
var defaultAliases = map[string]string{
	"author_id":     "users",
	"created_by_id": "users",
	"updated_by_id": "users",
	"parent_id":     "", // self reference, resolved against the owning table
}

// Generator synthesizes target schemas for one PostgreSQL schema.
type Generator struct {
	schema  string
	aliases map[string]string
	log     zerolog.Logger
}

func NewGenerator(pgSchema string, log zerolog.Logger) *Generator {
	if pgSchema == "" {
		pgSchema = "public"
	}
	aliases := make(map[string]string, len(defaultAliases))
	for k, v := range defaultAliases {
		aliases[k] = v
	}
	return &Generator{
		schema:  pgSchema,
		aliases: aliases,
		log:     log.With().Str("component", "schema").Logger(),
	}
}

// AddAlias maps a foreign-key column name to its target table, overriding
// the naming-convention lookup.
func (g *Generator) AddAlias(column, table string) {
	g.aliases[column] = table
}

// Generate derives one TableSchema per table of the dataset. System
// columns come first in their fixed order when present; the remaining
// columns follow source iteration order. Foreign keys that cannot be
// resolved by convention are reported as warnings, not silently dropped.
func (g *Generator) Generate(tr *snapshot.TransformResult) ([]TableSchema, []snapshot.ValidationIssue) {
	names := make([]string, 0, len(tr.Shapes))
	for n := range tr.Shapes {
		names = append(names, n)
	}
	sort.Strings(names)

	var (
		schemas []TableSchema
		issues  []snapshot.ValidationIssue
	)
	for _, name := range names {
		ts, tsIssues := g.generateTable(name, tr.Shapes[name], names)
		schemas = append(schemas, ts)
		issues = append(issues, tsIssues...)
	}
	return schemas, issues
}

func (g *Generator) generateTable(name string, shape snapshot.TableShape, allTables []string) (TableSchema, []snapshot.ValidationIssue) {
	ts := TableSchema{Name: name}

	// System columns first, fixed order, then source order.
	present := make(map[string]bool, len(shape.Columns))
	for _, c := range shape.Columns {
		present[c] = true
	}
	ordered := make([]string, 0, len(shape.Columns))
	for _, sys := range snapshot.SystemColumns {
		if present[sys] {
			ordered = append(ordered, sys)
		}
	}
	for _, c := range shape.Columns {
		if !snapshot.IsSystemColumn(c) {
			ordered = append(ordered, c)
		}
	}

	for _, col := range ordered {
		ts.Columns = append(ts.Columns, Column{
			Name:     col,
			SQLType:  sqlType(typeconv.Type(shape.Types[col])),
			Nullable: col != "id",
		})
	}
	if present["id"] {
		ts.PrimaryKey = "id"
	}

	issues := g.resolveForeignKeys(&ts, shape, allTables)

	// Common list/sort queries filter on these; always index them.
	for _, col := range []string{"created_at", "published_at"} {
		if present[col] {
			ts.Indexes = append(ts.Indexes, Index{
				Name:   fmt.Sprintf("idx_%s_%s", name, col),
				Table:  name,
				Column: col,
			})
		}
	}
	return ts, issues
}

// resolveForeignKeys carries over source-declared foreign keys and adds
// convention-derived ones for remaining *_id columns: alias map first,
// then pluralization of the stripped base name.
func (g *Generator) resolveForeignKeys(ts *TableSchema, shape snapshot.TableShape, allTables []string) []snapshot.ValidationIssue {
	tableSet := make(map[string]bool, len(allTables))
	for _, t := range allTables {
		tableSet[t] = true
	}

	covered := make(map[string]bool)
	for _, fk := range shape.ForeignKeys {
		if !tableSet[fk.ToTable] {
			continue
		}
		ts.ForeignKeys = append(ts.ForeignKeys, ForeignKey{
			Column:    fk.FromColumn,
			RefTable:  fk.ToTable,
			RefColumn: fk.ToColumn,
			OnDelete:  fk.OnDelete,
		})
		covered[fk.FromColumn] = true
	}

	var issues []snapshot.ValidationIssue
	for _, col := range shape.Columns {
		if col == "id" || covered[col] || !strings.HasSuffix(col, "_id") {
			continue
		}
		target, ok := g.resolveTarget(ts.Name, col, tableSet)
		if !ok {
			issues = append(issues, snapshot.ValidationIssue{
				Table:    ts.Name,
				Field:    col,
				Message:  fmt.Sprintf("foreign key target for %s could not be resolved by naming convention", col),
				Severity: snapshot.SeverityWarning,
			})
			continue
		}
		ts.ForeignKeys = append(ts.ForeignKeys, ForeignKey{
			Column:    col,
			RefTable:  target,
			RefColumn: "id",
		})
	}
	return issues
}

func (g *Generator) resolveTarget(owner, column string, tables map[string]bool) (string, bool) {
	if alias, ok := g.aliases[column]; ok {
		if alias == "" {
			return owner, true
		}
		if tables[alias] {
			return alias, true
		}
		return "", false
	}

	base := strcase.ToSnake(strings.TrimSuffix(column, "_id"))
	for _, cand := range pluralCandidates(base) {
		if tables[cand] {
			return cand, true
		}
	}
	return "", false
}

// pluralCandidates lists lookup names for a stripped foreign-key base,
// most specific first: exact, regular plural, -es, and y -> ies.
func pluralCandidates(base string) []string {
	cands := []string{base, base + "s"}
	if strings.HasSuffix(base, "s") || strings.HasSuffix(base, "x") ||
		strings.HasSuffix(base, "ch") || strings.HasSuffix(base, "sh") {
		cands = append(cands, base+"es")
	}
	if strings.HasSuffix(base, "y") && len(base) > 1 {
		cands = append(cands, base[:len(base)-1]+"ies")
	}
	return cands
}

func sqlType(t typeconv.Type) string {
	switch t {
	case typeconv.Integer:
		return "BIGINT"
	case typeconv.Decimal:
		return "DECIMAL"
	case typeconv.Boolean:
		return "BOOLEAN"
	case typeconv.Timestamp:
		return "TIMESTAMP"
	case typeconv.JSON:
		return "JSONB"
	case typeconv.Binary:
		return "BYTEA"
	default:
		return "TEXT"
	}
}

// CreateTableSQL emits the schema-qualified CREATE TABLE statement.
func (g *Generator) CreateTableSQL(ts TableSchema) string {
	var defs []string
	for _, col := range ts.Columns {
		def := QuoteIdent(col.Name) + " " + col.SQLType
		if col.Name == ts.PrimaryKey {
			def += " PRIMARY KEY"
		} else if !col.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		g.QualifiedName(ts.Name), strings.Join(defs, ", "))
}

// CreateIndexSQL emits one non-unique index statement.
func (g *Generator) CreateIndexSQL(ix Index) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		QuoteIdent(ix.Name), g.QualifiedName(ix.Table), QuoteIdent(ix.Column))
}

// ForeignKeySQL emits one ALTER TABLE ... ADD CONSTRAINT statement.
func (g *Generator) ForeignKeySQL(table string, fk ForeignKey) string {
	sql := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		g.QualifiedName(table),
		QuoteIdent(fmt.Sprintf("fk_%s_%s", table, fk.Column)),
		QuoteIdent(fk.Column),
		g.QualifiedName(fk.RefTable),
		QuoteIdent(fk.RefColumn))
	if fk.OnDelete != "" && !strings.EqualFold(fk.OnDelete, "NO ACTION") {
		sql += " ON DELETE " + strings.ToUpper(fk.OnDelete)
	}
	return sql
}

// DropTableSQL emits the cascading drop used when recreating the schema.
func (g *Generator) DropTableSQL(table string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", g.QualifiedName(table))
}

// QualifiedName quotes and schema-qualifies a table name.
func (g *Generator) QualifiedName(table string) string {
	return QuoteIdent(g.schema) + "." + QuoteIdent(table)
}

// QuoteIdent quotes a SQL identifier, doubling any embedded quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
