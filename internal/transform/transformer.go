// Package transform consumes an export snapshot and produces a
// target-ready dataset: values coerced to the closed target type set,
// records validated, timestamps sanitized, and referential integrity
// checked. Non-fatal issues are tagged, never thrown.
package transform

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"cms-migrate/internal/relation"
	"cms-migrate/internal/snapshot"
	"cms-migrate/internal/typeconv"
	"cms-migrate/internal/validate"
)

// Transformer applies type conversion, validation, and relationship
// checking to an export snapshot.
type Transformer struct {
	validator *validate.Validator
	mapper    *relation.Mapper
	log       zerolog.Logger
	// OutDir is where the timestamped transform JSON is written.
	// Empty disables the file side effect.
	OutDir string
}

func New(validator *validate.Validator, log zerolog.Logger) *Transformer {
	if validator == nil {
		validator = validate.New()
	}
	return &Transformer{
		validator: validator,
		mapper:    relation.NewMapper(),
		log:       log.With().Str("component", "transformer").Logger(),
	}
}

// Mapper exposes the relationship mapper built from the last Transform
// call, primarily for computing the import order.
func (t *Transformer) Mapper() *relation.Mapper {
	return t.mapper
}

// Transform converts every table of the snapshot. Rows that fail type
// conversion become error-severity issues and are dropped from the output;
// the run itself never aborts on per-row problems.
func (t *Transformer) Transform(export *snapshot.ExportResult) *snapshot.TransformResult {
	start := time.Now()
	result := &snapshot.TransformResult{
		Data:   make(map[string][]snapshot.Record, len(export.Data)),
		Shapes: make(map[string]snapshot.TableShape, len(export.Data)),
	}

	t.mapper = relation.NewMapper()
	t.mapper.BuildFromForeignKeys(export.Data)

	tables := make([]string, 0, len(export.Data))
	for name := range export.Data {
		tables = append(tables, name)
	}
	sort.Strings(tables)

	total := 0
	for _, name := range tables {
		ts := export.Data[name]
		shape := t.resolveShape(ts)
		result.Shapes[name] = shape

		out := make([]snapshot.Record, 0, len(ts.Rows))
		for _, row := range ts.Rows {
			converted, rowIssues := t.convertRow(name, shape, row)
			result.Issues = append(result.Issues, rowIssues...)
			if converted == nil {
				continue
			}
			out = append(out, converted)
		}
		result.Data[name] = out
		total += len(out)
		t.log.Debug().Str("table", name).Int("rows", len(out)).Msg("table transformed")
	}

	// Data-level validation on the converted records.
	result.Issues = append(result.Issues, t.validator.ValidateData(result.Data)...)
	result.Issues = append(result.Issues, t.validator.ValidateIntegrity(result.Data)...)
	result.Issues = append(result.Issues, t.mapper.ValidateRelationships(result.Data)...)

	// Surface circular dependencies at transform time already; the import
	// order itself is recomputed by whoever loads the dataset.
	t.mapper.ImportOrder(tables)
	for _, w := range t.mapper.CycleWarnings() {
		result.Issues = append(result.Issues, snapshot.ValidationIssue{
			Message:  w,
			Severity: snapshot.SeverityWarning,
		})
	}

	result.Success = !snapshot.HasErrors(result.Issues)
	result.Metadata = snapshot.TransformMetadata{
		TransformationDate: start,
		TotalRecords:       total,
		TotalTables:        len(result.Data),
		Duration:           time.Since(start),
	}

	if t.OutDir != "" {
		path, err := snapshot.WriteFile(t.OutDir, "transform", result)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
		} else {
			result.OutputFile = path
			t.log.Info().Str("file", path).Msg("transformed dataset written")
		}
	}

	warnings, errs := snapshot.CountBySeverity(result.Issues)
	t.log.Info().
		Int("records", total).
		Int("warnings", warnings).
		Int("errors", errs).
		Bool("success", result.Success).
		Msg("transform finished")
	return result
}

// resolveShape fixes each column's target type once per table: the
// declared type when present, otherwise inference over sampled values.
func (t *Transformer) resolveShape(ts *snapshot.TableSnapshot) snapshot.TableShape {
	shape := snapshot.TableShape{
		Columns:     make([]string, 0, len(ts.Columns)),
		Types:       make(map[string]string, len(ts.Columns)),
		ForeignKeys: ts.ForeignKeys,
	}
	for _, col := range ts.Columns {
		shape.Columns = append(shape.Columns, col.Name)

		var tt typeconv.Type
		if col.DeclaredType != "" {
			tt = typeconv.MapDeclaredType(col.DeclaredType)
		} else {
			tt = typeconv.Detect(sampleColumn(ts.Rows, col.Name))
		}
		shape.Types[col.Name] = string(tt)
	}
	return shape
}

// convertRow coerces every field of one row. Unparsable lifecycle
// timestamps are replaced with the current time and warned about, never
// dropped; any other failing field aborts only this row, reported as a
// validation error. A nil record means the row was dropped.
func (t *Transformer) convertRow(table string, shape snapshot.TableShape, row snapshot.Record) (snapshot.Record, []snapshot.ValidationIssue) {
	out := make(snapshot.Record, len(shape.Columns))
	var issues []snapshot.ValidationIssue
	for _, col := range shape.Columns {
		raw, ok := row[col]
		if !ok {
			continue
		}
		tt := typeconv.Type(shape.Types[col])
		converted, err := typeconv.Convert(raw, tt)
		if err != nil {
			if tt == typeconv.Timestamp && snapshot.IsTimestampColumn(col) {
				replacement := time.Now().UTC().Format(typeconv.TimeFormat)
				out[col] = replacement
				issues = append(issues, snapshot.ValidationIssue{
					Table:    table,
					RecordID: row["id"],
					Field:    col,
					Message:  fmt.Sprintf("unparsable timestamp %v; replaced with %s", raw, replacement),
					Severity: snapshot.SeverityWarning,
				})
				continue
			}
			cerr := &typeconv.ConversionError{
				Table:  table,
				Field:  col,
				Value:  raw,
				Target: tt,
				Err:    err,
			}
			issues = append(issues, snapshot.ValidationIssue{
				Table:    table,
				RecordID: row["id"],
				Field:    col,
				Message:  fmt.Sprintf("row dropped: %v", cerr),
				Severity: snapshot.SeverityError,
			})
			return nil, issues
		}
		out[col] = converted
	}
	return out, issues
}

func sampleColumn(rows []snapshot.Record, col string) []any {
	var samples []any
	for _, rec := range rows {
		if len(samples) >= 100 {
			break
		}
		if v := rec[col]; v != nil {
			samples = append(samples, v)
		}
	}
	return samples
}
