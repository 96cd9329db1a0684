// Package target loads a transformed dataset into PostgreSQL: optional
// schema (re)creation, dependency-ordered batched upserts, and a final
// foreign-key constraint pass.
package target

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"cms-migrate/internal/pgschema"
	"cms-migrate/internal/progress"
	"cms-migrate/internal/snapshot"
	"cms-migrate/internal/validate"
)

const defaultBatchSize = 500

// Options configures the importer.
type Options struct {
	BatchSize      int
	MaxConnections int
	CreateSchema   bool
	DropExisting   bool
	Schema         string
}

// ImportMetadata summarizes one import run.
type ImportMetadata struct {
	ImportDate   time.Time     `json:"importDate"`
	TotalRecords int           `json:"totalRecords"`
	TotalTables  int           `json:"totalTables"`
	Duration     time.Duration `json:"duration"`
}

// ImportResult is the importer's structured outcome. Success is false when
// any table failed to load; constraint failures are warnings only.
type ImportResult struct {
	Success   bool           `json:"success"`
	Metadata  ImportMetadata `json:"metadata"`
	TableRows map[string]int `json:"tableRows"`
	Errors    []string       `json:"errors"`
	Warnings  []string       `json:"warnings"`
}

// Importer owns the pooled target connection.
type Importer struct {
	db       *sql.DB
	gen      *pgschema.Generator
	opts     Options
	log      zerolog.Logger
	reporter progress.Reporter
}

// Connect opens the target connection pool with bounded concurrency.
func Connect(dsn string, opts Options, log zerolog.Logger, reporter progress.Reporter) (*Importer, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = 10
	}
	if opts.Schema == "" {
		opts.Schema = "public"
	}
	if reporter == nil {
		reporter = progress.Nop{}
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open target database: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxConnections)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to target database: %w", err)
	}

	return &Importer{
		db:       db,
		gen:      pgschema.NewGenerator(opts.Schema, log),
		opts:     opts,
		log:      log.With().Str("component", "importer").Logger(),
		reporter: reporter,
	}, nil
}

// Close releases the connection pool.
func (i *Importer) Close() error {
	return i.db.Close()
}

// TestConnection is a connectivity probe: no data movement.
func (i *Importer) TestConnection(ctx context.Context) (string, error) {
	var version string
	if err := i.db.QueryRowContext(ctx, "SELECT version()").Scan(&version); err != nil {
		return "", fmt.Errorf("connectivity probe failed: %w", err)
	}
	return version, nil
}

// Import loads the dataset in the given dependency order. Schema creation
// (when requested) runs first in one transaction; data is then upserted in
// batches; foreign-key constraints are applied last so cyclic or
// transiently inconsistent data can still load.
func (i *Importer) Import(ctx context.Context, tr *snapshot.TransformResult, schemas []pgschema.TableSchema, order []string) *ImportResult {
	start := time.Now()
	result := &ImportResult{
		Success:   true,
		TableRows: make(map[string]int, len(order)),
	}

	if i.opts.CreateSchema {
		if err := i.createSchema(ctx, schemas); err != nil {
			result.Success = false
			result.Errors = append(result.Errors, fmt.Sprintf("schema creation: %v", err))
			return result
		}
	}

	total := 0
	for _, table := range order {
		if err := ctx.Err(); err != nil {
			result.Success = false
			result.Errors = append(result.Errors, fmt.Sprintf("import interrupted: %v", err))
			break
		}
		rows, ok := tr.Data[table]
		if !ok {
			continue
		}
		shape, ok := tr.Shapes[table]
		if !ok {
			continue
		}

		n, warnings, err := i.loadTable(ctx, table, shape, rows)
		result.Warnings = append(result.Warnings, warnings...)
		result.TableRows[table] = n
		total += n
		if err != nil {
			i.log.Error().Err(err).Str("table", table).Msg("table import failed")
			result.Success = false
			result.Errors = append(result.Errors, fmt.Sprintf("table %s: %v", table, err))
		}
	}

	// Constraints last, one statement per constraint. Failures here usually
	// indicate optional or denormalized references, so they downgrade to
	// warnings instead of failing the import.
	if ctx.Err() == nil {
		result.Warnings = append(result.Warnings, i.applyForeignKeys(ctx, schemas)...)
	}

	result.Metadata = ImportMetadata{
		ImportDate:   start,
		TotalRecords: total,
		TotalTables:  len(result.TableRows),
		Duration:     time.Since(start),
	}
	i.log.Info().
		Int("records", total).
		Int("tables", len(result.TableRows)).
		Dur("duration", result.Metadata.Duration).
		Bool("success", result.Success).
		Msg("import finished")
	return result
}

// createSchema drops (optionally) and creates all tables and indexes in a
// single transaction; any failure rolls the whole step back.
func (i *Importer) createSchema(ctx context.Context, schemas []pgschema.TableSchema) error {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer tx.Rollback()

	if i.opts.DropExisting {
		for _, ts := range schemas {
			if _, err := tx.ExecContext(ctx, i.gen.DropTableSQL(ts.Name)); err != nil {
				return fmt.Errorf("failed to drop table %s: %w", ts.Name, err)
			}
		}
	}
	for _, ts := range schemas {
		if _, err := tx.ExecContext(ctx, i.gen.CreateTableSQL(ts)); err != nil {
			return fmt.Errorf("failed to create table %s: %w", ts.Name, err)
		}
		for _, ix := range ts.Indexes {
			if _, err := tx.ExecContext(ctx, i.gen.CreateIndexSQL(ix)); err != nil {
				return fmt.Errorf("failed to create index %s: %w", ix.Name, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}
	i.log.Info().Int("tables", len(schemas)).Bool("dropExisting", i.opts.DropExisting).Msg("schema created")
	return nil
}

// loadTable upserts one table's rows in BatchSize groups. Each batch is a
// single multi-row statement (one implicit transaction), keeping lock and
// log growth bounded on large tables. Cancellation is honored between
// batches only; a statement once issued runs to completion.
func (i *Importer) loadTable(ctx context.Context, table string, shape snapshot.TableShape, rows []snapshot.Record) (int, []string, error) {
	i.reporter.TableStarted(table, len(rows))
	tracker := progress.NewTracker()

	var warnings []string
	inserted := 0
	for begin := 0; begin < len(rows); begin += i.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return inserted, warnings, err
		}
		end := begin + i.opts.BatchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[begin:end]

		// Final safety net: the same out-of-band-date policy the validator
		// applies, re-run immediately before the insert.
		for _, rec := range batch {
			for _, issue := range validate.SanitizeTimestamps(table, rec) {
				warnings = append(warnings, issue.Message)
			}
		}

		query, args := buildUpsert(i.gen.QualifiedName(table), shape.Columns, batch)
		if _, err := i.db.ExecContext(ctx, query, args...); err != nil {
			return inserted, warnings, fmt.Errorf("batch at row %d: %w", begin, err)
		}
		inserted += len(batch)
		i.reporter.BatchProcessed(table, inserted, len(rows), tracker.ETA(inserted, len(rows)))
	}

	i.reporter.TableCompleted(table, inserted)
	return inserted, warnings, nil
}

// applyForeignKeys adds constraints after all data is loaded. Each runs as
// its own statement so one failure cannot poison the rest.
func (i *Importer) applyForeignKeys(ctx context.Context, schemas []pgschema.TableSchema) []string {
	var warnings []string
	for _, ts := range schemas {
		for _, fk := range ts.ForeignKeys {
			if _, err := i.db.ExecContext(ctx, i.gen.ForeignKeySQL(ts.Name, fk)); err != nil {
				msg := fmt.Sprintf("constraint fk_%s_%s not applied: %v", ts.Name, fk.Column, err)
				i.log.Warn().Msg(msg)
				warnings = append(warnings, msg)
			}
		}
	}
	return warnings
}

// VerifyCounts compares target row counts against the expected per-table
// totals; used by the optional validation phase.
func (i *Importer) VerifyCounts(ctx context.Context, expected map[string]int) []snapshot.ValidationIssue {
	var issues []snapshot.ValidationIssue
	for table, want := range expected {
		var got int
		err := i.db.QueryRowContext(ctx,
			fmt.Sprintf("SELECT COUNT(*) FROM %s", i.gen.QualifiedName(table))).Scan(&got)
		if err != nil {
			issues = append(issues, snapshot.ValidationIssue{
				Table:    table,
				Message:  fmt.Sprintf("count verification failed: %v", err),
				Severity: snapshot.SeverityError,
			})
			continue
		}
		if got < want {
			issues = append(issues, snapshot.ValidationIssue{
				Table:    table,
				Message:  fmt.Sprintf("target has %d rows, expected at least %d", got, want),
				Severity: snapshot.SeverityError,
			})
		}
	}
	return issues
}

// buildUpsert renders one multi-row INSERT with an upsert-on-conflict
// clause keyed on the identity column, making re-runs idempotent.
func buildUpsert(qualifiedTable string, columns []string, batch []snapshot.Record) (string, []any) {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = pgschema.QuoteIdent(c)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", qualifiedTable, strings.Join(quoted, ", "))

	args := make([]any, 0, len(batch)*len(columns))
	for r, rec := range batch {
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for c, col := range columns {
			if c > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", len(args)+1)
			args = append(args, normalizeArg(rec[col]))
		}
		sb.WriteByte(')')
	}

	hasID := false
	for _, c := range columns {
		if c == "id" {
			hasID = true
			break
		}
	}
	if hasID {
		var updates []string
		for _, c := range columns {
			if c == "id" {
				continue
			}
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", pgschema.QuoteIdent(c), pgschema.QuoteIdent(c)))
		}
		if len(updates) == 0 {
			sb.WriteString(` ON CONFLICT ("id") DO NOTHING`)
		} else {
			fmt.Fprintf(&sb, ` ON CONFLICT ("id") DO UPDATE SET %s`, strings.Join(updates, ", "))
		}
	}
	return sb.String(), args
}

// normalizeArg turns structured JSON values into their textual form for
// the driver; scalars pass through.
func normalizeArg(v any) any {
	switch v.(type) {
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
	return v
}
