// Package validate applies per-table data rules and timestamp
// sanitization to in-memory record sets.
package validate

import (
	"fmt"
	"sort"
	"time"

	"cms-migrate/internal/snapshot"
	"cms-migrate/internal/typeconv"
)

// Lifecycle timestamps outside this band are considered corrupt and are
// auto-corrected rather than rejected.
const (
	MinYear = 1900
	MaxYear = 2100
)

// Rule inspects one record and returns an issue, or nil when the record
// passes.
type Rule func(rec snapshot.Record) *snapshot.ValidationIssue

// Validator holds per-table rules on top of the defaults applied to every
// table. Unknown tables simply get no extra validation.
type Validator struct {
	rules map[string][]Rule
	now   func() time.Time
}

func New() *Validator {
	return &Validator{
		rules: make(map[string][]Rule),
		now:   time.Now,
	}
}

// AddRule registers an extra rule for one table. Rules are additive.
func (v *Validator) AddRule(table string, rule Rule) {
	v.rules[table] = append(v.rules[table], rule)
}

// ValidateData runs the default rules plus any registered per-table rules
// over the dataset. Lifecycle timestamps are sanitized in place; every
// substitution yields one warning.
func (v *Validator) ValidateData(data map[string][]snapshot.Record) []snapshot.ValidationIssue {
	var issues []snapshot.ValidationIssue

	for _, table := range sortedTables(data) {
		for _, rec := range data[table] {
			if issue := checkID(table, rec); issue != nil {
				issues = append(issues, *issue)
			}
			issues = append(issues, v.sanitizeTimestamps(table, rec)...)

			for _, rule := range v.rules[table] {
				if issue := rule(rec); issue != nil {
					issue.Table = table
					issues = append(issues, *issue)
				}
			}
		}
	}
	return issues
}

// ValidateIntegrity detects duplicate identity keys within each table.
func (v *Validator) ValidateIntegrity(data map[string][]snapshot.Record) []snapshot.ValidationIssue {
	var issues []snapshot.ValidationIssue

	for _, table := range sortedTables(data) {
		seen := make(map[string]bool)
		for _, rec := range data[table] {
			id, ok := rec["id"]
			if !ok || id == nil {
				continue
			}
			key := fmt.Sprintf("%v", id)
			if seen[key] {
				issues = append(issues, snapshot.ValidationIssue{
					Table:    table,
					RecordID: id,
					Field:    "id",
					Message:  fmt.Sprintf("duplicate id %v", id),
					Severity: snapshot.SeverityError,
				})
				continue
			}
			seen[key] = true
		}
	}
	return issues
}

// SanitizeTimestamps rewrites out-of-band or unparsable lifecycle
// timestamps of one record to the current time, returning one warning per
// substitution. In-range values are left untouched. The importer calls
// this again right before each batch insert as a final safety net;
// timestamp corruption must never abort a migration.
func SanitizeTimestamps(table string, rec snapshot.Record) []snapshot.ValidationIssue {
	return sanitizeTimestampsAt(table, rec, time.Now())
}

func (v *Validator) sanitizeTimestamps(table string, rec snapshot.Record) []snapshot.ValidationIssue {
	return sanitizeTimestampsAt(table, rec, v.now())
}

func sanitizeTimestampsAt(table string, rec snapshot.Record, now time.Time) []snapshot.ValidationIssue {
	var issues []snapshot.ValidationIssue

	for _, field := range snapshot.TimestampColumns {
		raw, ok := rec[field]
		if !ok || raw == nil {
			continue
		}

		ts, err := typeconv.ParseTimestamp(raw)
		if err == nil && ts.Year() >= MinYear && ts.Year() <= MaxYear {
			continue
		}

		replacement := now.UTC().Format(typeconv.TimeFormat)
		var reason string
		if err != nil {
			reason = fmt.Sprintf("unparsable timestamp %v", raw)
		} else {
			reason = fmt.Sprintf("timestamp %v outside %d-%d", raw, MinYear, MaxYear)
		}
		rec[field] = replacement

		issues = append(issues, snapshot.ValidationIssue{
			Table:    table,
			RecordID: rec["id"],
			Field:    field,
			Message:  fmt.Sprintf("%s; replaced with %s", reason, replacement),
			Severity: snapshot.SeverityWarning,
		})
	}
	return issues
}

// checkID enforces the default identity rule: every record needs a
// present, numeric id.
func checkID(table string, rec snapshot.Record) *snapshot.ValidationIssue {
	id, ok := rec["id"]
	if !ok || id == nil {
		return &snapshot.ValidationIssue{
			Table:    table,
			Field:    "id",
			Message:  "missing id",
			Severity: snapshot.SeverityError,
		}
	}
	switch id.(type) {
	case int, int32, int64, uint, uint32, uint64, float32, float64:
		return nil
	}
	return &snapshot.ValidationIssue{
		Table:    table,
		RecordID: id,
		Field:    "id",
		Message:  fmt.Sprintf("id %v (%T) is not numeric", id, id),
		Severity: snapshot.SeverityError,
	}
}

func sortedTables(data map[string][]snapshot.Record) []string {
	tables := make([]string, 0, len(data))
	for t := range data {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}
