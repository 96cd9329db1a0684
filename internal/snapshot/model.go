package snapshot

import (
	"time"
)

// Record is one row of table data, keyed by column name. The authoritative
// column order and types live in the owning table's metadata, resolved once
// per table, never per row.
type Record = map[string]any

// ColumnInfo describes a single source column. DeclaredType may be empty for
// columns created without a type, in which case the transformer infers one
// from sampled values.
type ColumnInfo struct {
	Name         string `json:"name"`
	DeclaredType string `json:"declaredType,omitempty"`
	Nullable     bool   `json:"nullable"`
}

// ForeignKeyInfo describes one outgoing foreign key of a table.
type ForeignKeyInfo struct {
	FromColumn string `json:"fromColumn"`
	ToTable    string `json:"toTable"`
	ToColumn   string `json:"toColumn"`
	OnDelete   string `json:"onDelete,omitempty"`
}

// TableSnapshot is the full extracted contents and metadata of one source
// table. Immutable once the exporter hands it to the transform step.
type TableSnapshot struct {
	Name        string           `json:"name"`
	Columns     []ColumnInfo     `json:"columns"`
	ForeignKeys []ForeignKeyInfo `json:"foreignKeys"`
	Rows        []Record         `json:"rows"`
}

// Severity classifies migration issues.
// critical aborts the run, error fails it without aborting the phase,
// warning is advisory only.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// ValidationIssue is a structured problem report carrying enough context to
// be actionable without re-running in verbose mode.
type ValidationIssue struct {
	Table    string   `json:"table"`
	RecordID any      `json:"recordId,omitempty"`
	Field    string   `json:"field,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// ExportMetadata summarizes one export run.
type ExportMetadata struct {
	ExportDate   time.Time     `json:"exportDate"`
	TotalRecords int           `json:"totalRecords"`
	TotalTables  int           `json:"totalTables"`
	Duration     time.Duration `json:"duration"`
	DatabasePath string        `json:"databasePath"`
	ContentTypes []string      `json:"contentTypes"`
}

// ExportResult is the exporter's output and the sole contract between the
// export step and a transform run invoked later or separately.
type ExportResult struct {
	Success  bool                      `json:"success"`
	Data     map[string]*TableSnapshot `json:"data"`
	Metadata ExportMetadata            `json:"metadata"`
	Errors   []string                  `json:"errors"`
	// OutputFile is set in memory after the snapshot is written. It is not
	// part of the file format.
	OutputFile string `json:"-"`
}

// TableShape carries the resolved, target-ready structure of one table:
// ordered column names, the target type tag of every column, and the
// foreign keys carried over from the source.
type TableShape struct {
	Columns     []string          `json:"columns"`
	Types       map[string]string `json:"types"`
	ForeignKeys []ForeignKeyInfo  `json:"foreignKeys"`
}

// TransformMetadata summarizes one transform run.
type TransformMetadata struct {
	TransformationDate time.Time     `json:"transformationDate"`
	TotalRecords       int           `json:"totalRecords"`
	TotalTables        int           `json:"totalTables"`
	Duration           time.Duration `json:"duration"`
}

// TransformResult is the transformed dataset: target-typed records per
// table plus everything the schema generator and importer need.
// Success is false exactly when at least one error-severity issue exists;
// warnings alone never fail a transform.
type TransformResult struct {
	Success  bool                  `json:"success"`
	Data     map[string][]Record   `json:"transformedData"`
	Shapes   map[string]TableShape `json:"shapes"`
	Issues   []ValidationIssue     `json:"validationIssues"`
	Metadata TransformMetadata     `json:"metadata"`
	Errors   []string              `json:"errors"`
	// OutputFile mirrors ExportResult.OutputFile.
	OutputFile string `json:"-"`
}

// HasErrors reports whether any issue at error severity or above exists.
func HasErrors(issues []ValidationIssue) bool {
	for _, is := range issues {
		if is.Severity == SeverityError || is.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// CountBySeverity tallies issues per severity level.
func CountBySeverity(issues []ValidationIssue) (warnings, errors int) {
	for _, is := range issues {
		switch is.Severity {
		case SeverityWarning:
			warnings++
		case SeverityError, SeverityCritical:
			errors++
		}
	}
	return warnings, errors
}

// SystemColumns is the fixed set of content-management system columns,
// in the order they are emitted when present in source data.
var SystemColumns = []string{"id", "created_at", "updated_at", "published_at", "locale"}

// TimestampColumns are the lifecycle timestamp fields subject to
// sanitization.
var TimestampColumns = []string{"created_at", "updated_at", "published_at"}

// IsSystemColumn reports whether name is one of the fixed system columns.
func IsSystemColumn(name string) bool {
	for _, c := range SystemColumns {
		if c == name {
			return true
		}
	}
	return false
}

// IsTimestampColumn reports whether name is a lifecycle timestamp field.
func IsTimestampColumn(name string) bool {
	for _, c := range TimestampColumns {
		if c == name {
			return true
		}
	}
	return false
}
