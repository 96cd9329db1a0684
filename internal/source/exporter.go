// Package source extracts schema and data from the embedded SQLite
// content database into an in-memory, then on-disk, snapshot.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"cms-migrate/internal/progress"
	"cms-migrate/internal/snapshot"
	"cms-migrate/internal/typeconv"
)

const defaultBatchSize = 500

// internalPrefixes mark CMS bookkeeping tables that are skipped unless
// IncludeSystemTables is set. sqlite_* tables are always skipped.
var internalPrefixes = []string{"strapi_", "core_store"}

// Options configures an export run.
type Options struct {
	BatchSize           int
	IncludeSystemTables bool
	// OutDir is where the timestamped snapshot JSON is written on success.
	// Empty disables the file side effect.
	OutDir string
}

// Exporter reads the source database read-only and produces TableSnapshots.
type Exporter struct {
	db       *sql.DB
	path     string
	opts     Options
	log      zerolog.Logger
	reporter progress.Reporter
}

// Open connects read-only to the SQLite database at path.
func Open(path string, opts Options, log zerolog.Logger, reporter progress.Reporter) (*Exporter, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if reporter == nil {
		reporter = progress.Nop{}
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open source database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to source database %s: %w", path, err)
	}

	return &Exporter{
		db:       db,
		path:     path,
		opts:     opts,
		log:      log.With().Str("component", "exporter").Logger(),
		reporter: reporter,
	}, nil
}

// Close releases the source connection.
func (e *Exporter) Close() error {
	return e.db.Close()
}

// Stats returns per-table row counts without moving any data.
func (e *Exporter) Stats(ctx context.Context) (map[string]int, error) {
	tables, err := e.listTables(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(tables))
	for _, t := range tables {
		n, err := e.countRows(ctx, t)
		if err != nil {
			return nil, err
		}
		counts[t] = n
	}
	return counts, nil
}

// Export enumerates user tables and streams each table's rows in bounded
// batches into a snapshot. Per-table failures are recorded and the export
// continues; partial success is Success=false with the unaffected tables
// retained.
func (e *Exporter) Export(ctx context.Context) (*snapshot.ExportResult, error) {
	start := time.Now()
	result := &snapshot.ExportResult{
		Success: true,
		Data:    make(map[string]*snapshot.TableSnapshot),
	}

	tables, err := e.listTables(ctx)
	if err != nil {
		return nil, err
	}
	e.log.Info().Int("tables", len(tables)).Msg("starting export")

	totalRecords := 0
	for _, name := range tables {
		ts, err := e.exportTable(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.log.Error().Err(err).Str("table", name).Msg("table export failed")
			result.Success = false
			result.Errors = append(result.Errors, fmt.Sprintf("table %s: %v", name, err))
			continue
		}
		result.Data[name] = ts
		totalRecords += len(ts.Rows)
	}

	result.Metadata = snapshot.ExportMetadata{
		ExportDate:   start,
		TotalRecords: totalRecords,
		TotalTables:  len(result.Data),
		Duration:     time.Since(start),
		DatabasePath: e.path,
		ContentTypes: tables,
	}

	if result.Success && e.opts.OutDir != "" {
		path, err := snapshot.WriteFile(e.opts.OutDir, "export", result)
		if err != nil {
			return nil, err
		}
		result.OutputFile = path
		e.log.Info().Str("file", path).Msg("snapshot written")
	}

	e.log.Info().
		Int("records", totalRecords).
		Dur("duration", result.Metadata.Duration).
		Bool("success", result.Success).
		Msg("export finished")
	return result, nil
}

// listTables enumerates user tables, excluding SQLite internals and,
// unless requested, CMS bookkeeping tables.
func (e *Exporter) listTables(ctx context.Context) ([]string, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		if !e.opts.IncludeSystemTables && isInternal(name) {
			continue
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func isInternal(name string) bool {
	for _, p := range internalPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func (e *Exporter) exportTable(ctx context.Context, name string) (*snapshot.TableSnapshot, error) {
	cols, err := e.tableColumns(ctx, name)
	if err != nil {
		return nil, err
	}
	fks, err := e.tableForeignKeys(ctx, name)
	if err != nil {
		return nil, err
	}
	total, err := e.countRows(ctx, name)
	if err != nil {
		return nil, err
	}

	e.reporter.TableStarted(name, total)
	tracker := progress.NewTracker()

	ts := &snapshot.TableSnapshot{
		Name:        name,
		Columns:     cols,
		ForeignKeys: fks,
		Rows:        make([]snapshot.Record, 0, total),
	}

	binary := make(map[string]bool, len(cols))
	for _, c := range cols {
		if typeconv.MapDeclaredType(c.DeclaredType) == typeconv.Binary {
			binary[c.Name] = true
		}
	}

	for offset := 0; offset < total; offset += e.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch, err := e.readBatch(ctx, name, binary, e.opts.BatchSize, offset)
		if err != nil {
			return nil, err
		}
		ts.Rows = append(ts.Rows, batch...)
		e.reporter.BatchProcessed(name, len(ts.Rows), total, tracker.ETA(len(ts.Rows), total))
	}

	enrichColumnHints(ts)
	e.reporter.TableCompleted(name, len(ts.Rows))
	return ts, nil
}

// quoteIdent doubles embedded quotes; SQLite identifiers use the same
// double-quote escaping as PostgreSQL.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (e *Exporter) tableColumns(ctx context.Context, table string) ([]snapshot.ColumnInfo, error) {
	rows, err := e.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	defer rows.Close()

	var cols []snapshot.ColumnInfo
	for rows.Next() {
		var (
			cid, notNull, isPK int
			name, declType     string
			dflt               sql.NullString
		)
		if err := rows.Scan(&cid, &name, &declType, &notNull, &dflt, &isPK); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		cols = append(cols, snapshot.ColumnInfo{
			Name:         name,
			DeclaredType: declType,
			Nullable:     notNull == 0 && isPK == 0,
		})
	}
	return cols, rows.Err()
}

func (e *Exporter) tableForeignKeys(ctx context.Context, table string) ([]snapshot.ForeignKeyInfo, error) {
	rows, err := e.db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("failed to query foreign keys: %w", err)
	}
	defer rows.Close()

	var fks []snapshot.ForeignKeyInfo
	for rows.Next() {
		var (
			id, seq                               int
			refTable, from, onUpdate, onDel, mtch string
			to                                    sql.NullString
		)
		if err := rows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDel, &mtch); err != nil {
			return nil, fmt.Errorf("failed to scan foreign key: %w", err)
		}
		toCol := to.String
		if toCol == "" {
			toCol = "id"
		}
		fks = append(fks, snapshot.ForeignKeyInfo{
			FromColumn: from,
			ToTable:    refTable,
			ToColumn:   toCol,
			OnDelete:   onDel,
		})
	}
	return fks, rows.Err()
}

func (e *Exporter) countRows(ctx context.Context, table string) (int, error) {
	var n int
	if err := e.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(table))).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return n, nil
}

// readBatch reads one offset-based page of rows to bound memory per read.
// The explicit rowid ordering keeps pagination deterministic across pages.
func (e *Exporter) readBatch(ctx context.Context, table string, binary map[string]bool, limit, offset int) ([]snapshot.Record, error) {
	rows, err := e.db.QueryContext(ctx,
		fmt.Sprintf("SELECT * FROM %s ORDER BY rowid LIMIT ? OFFSET ?", quoteIdent(table)), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows at offset %d: %w", offset, err)
	}
	defer rows.Close()

	colNames, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var batch []snapshot.Record
	values := make([]any, len(colNames))
	ptrs := make([]any, len(colNames))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row at offset %d: %w", offset, err)
		}
		rec := make(snapshot.Record, len(colNames))
		for i, name := range colNames {
			rec[name] = normalizeValue(values[i], binary[name])
		}
		batch = append(batch, rec)
	}
	return batch, rows.Err()
}

// normalizeValue keeps raw bytes only for declared binary columns; text
// stored as []byte by the driver becomes string so it survives the JSON
// snapshot round trip.
func normalizeValue(v any, isBinary bool) any {
	if b, ok := v.([]byte); ok && !isBinary {
		return string(b)
	}
	return v
}

// enrichColumnHints samples text columns for JSON payloads and date-like
// strings and upgrades the declared type hint accordingly. Advisory only:
// the transformer's inference treats it as one more input, not as truth.
func enrichColumnHints(ts *snapshot.TableSnapshot) {
	for i, col := range ts.Columns {
		if typeconv.MapDeclaredType(col.DeclaredType) != typeconv.Text {
			continue
		}
		samples := sampleColumn(ts.Rows, col.Name, 100)
		if len(samples) == 0 {
			continue
		}
		switch typeconv.Detect(samples) {
		case typeconv.JSON:
			ts.Columns[i].DeclaredType = "JSON"
		case typeconv.Timestamp:
			ts.Columns[i].DeclaredType = "DATETIME"
		}
	}
}

func sampleColumn(rows []snapshot.Record, col string, limit int) []any {
	var samples []any
	for _, rec := range rows {
		if len(samples) >= limit {
			break
		}
		if v := rec[col]; v != nil {
			samples = append(samples, v)
		}
	}
	return samples
}

// SortedTableNames is a small helper for deterministic reporting.
func SortedTableNames(data map[string]*snapshot.TableSnapshot) []string {
	names := make([]string, 0, len(data))
	for n := range data {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
