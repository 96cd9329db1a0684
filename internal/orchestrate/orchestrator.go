// Package orchestrate sequences the migration phases, tracks cumulative
// statistics, classifies failures by severity, and exposes rollback
// instructions referencing the backup artifact.
package orchestrate

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"cms-migrate/internal/pgschema"
	"cms-migrate/internal/progress"
	"cms-migrate/internal/relation"
	"cms-migrate/internal/snapshot"
	"cms-migrate/internal/source"
	"cms-migrate/internal/target"
	"cms-migrate/internal/transform"
	"cms-migrate/internal/validate"
)

// Phase names one stage of the migration state machine.
type Phase string

const (
	PhaseInitialization Phase = "initialization"
	PhaseBackup         Phase = "backup"
	PhaseExport         Phase = "export"
	PhaseTransform      Phase = "transform"
	PhaseImport         Phase = "import"
	PhaseValidation     Phase = "validation"
	PhaseCleanup        Phase = "cleanup"
	PhaseCompleted      Phase = "completed"
	PhaseFailed         Phase = "failed"
	PhaseRolledBack     Phase = "rolled_back"
)

// phaseWeights drive the single 0-100 overall progress value. They sum to
// 100; each phase contributes weight * phaseProgress/100.
var phaseWeights = map[Phase]float64{
	PhaseInitialization: 5,
	PhaseBackup:         10,
	PhaseExport:         25,
	PhaseTransform:      20,
	PhaseImport:         30,
	PhaseValidation:     5,
	PhaseCleanup:        5,
}

// runOrder is the forward sequence of the state machine.
var runOrder = []Phase{
	PhaseInitialization, PhaseBackup, PhaseExport, PhaseTransform,
	PhaseImport, PhaseValidation, PhaseCleanup,
}

// Statistics are monotonically-updated counters owned exclusively by the
// orchestrator; phases report deltas and never decrement.
type Statistics struct {
	TotalTables        int `json:"totalTables"`
	ProcessedTables    int `json:"processedTables"`
	TotalRecords       int `json:"totalRecords"`
	ExportedRecords    int `json:"exportedRecords"`
	TransformedRecords int `json:"transformedRecords"`
	ImportedRecords    int `json:"importedRecords"`
	Errors             int `json:"errors"`
	Warnings           int `json:"warnings"`
}

// BackupArtifact describes the pre-migration copy of the source database.
// Its existence is the sole precondition for rollback.
type BackupArtifact struct {
	Path      string    `json:"path"`
	SizeBytes int64     `json:"sizeBytes"`
	Timestamp time.Time `json:"timestamp"`
}

// RollbackInfo is populated by a completed backup phase.
type RollbackInfo struct {
	Available    bool     `json:"available"`
	BackupPath   string   `json:"backupPath"`
	Instructions []string `json:"instructions"`
}

// PhaseError tags an error with the phase it escaped from. Phase-level
// failures are always critical: they halt the pipeline.
type PhaseError struct {
	Phase    Phase
	Severity snapshot.Severity
	Err      error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("phase %s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// PhaseResult records the outcome of one executed phase.
type PhaseResult struct {
	Phase    Phase         `json:"phase"`
	Status   string        `json:"status"` // completed, failed, skipped
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Config configures a migration run.
type Config struct {
	SourcePath string
	TargetDSN  string
	// OutDir receives the export and transform JSON artifacts.
	OutDir string
	// BackupDir receives the backup copy of the source database.
	BackupDir string
	Backup    bool
	Validate  bool

	Export source.Options
	Import target.Options

	// Reporter receives per-table progress from the export and import
	// phases; may be nil.
	Reporter progress.Reporter
	// OnProgress receives the weighted 0-100 overall progress after every
	// update; may be nil.
	OnProgress func(percent float64)

	Logger zerolog.Logger
}

// Result aggregates every phase's structured output. Success is true only
// when no critical or error-severity entries were recorded anywhere.
type Result struct {
	Success  bool                       `json:"success"`
	State    Phase                      `json:"state"`
	Phases   []PhaseResult              `json:"phases"`
	Stats    Statistics                 `json:"statistics"`
	Rollback RollbackInfo               `json:"rollback"`
	Backup   *BackupArtifact            `json:"backup,omitempty"`
	Issues   []snapshot.ValidationIssue `json:"issues"`
	Import   *target.ImportResult       `json:"importResult,omitempty"`
}

// Orchestrator is the only component aware of all phases.
type Orchestrator struct {
	cfg   Config
	log   zerolog.Logger
	state Phase

	stats         Statistics
	phases        []PhaseResult
	phaseProgress map[Phase]float64
	issues        []snapshot.ValidationIssue
	rollback      RollbackInfo
	backup        *BackupArtifact
	critical      bool

	exporter *source.Exporter
	importer *target.Importer
}

func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		cfg:           cfg,
		log:           cfg.Logger.With().Str("component", "orchestrator").Logger(),
		state:         PhaseInitialization,
		phaseProgress: make(map[Phase]float64, len(phaseWeights)),
	}
}

// State returns the current phase of the state machine.
func (o *Orchestrator) State() Phase { return o.state }

// Statistics returns a copy of the cumulative counters.
func (o *Orchestrator) Statistics() Statistics { return o.stats }

// Progress returns the weighted overall progress in percent.
func (o *Orchestrator) Progress() float64 {
	var p float64
	for phase, weight := range phaseWeights {
		p += weight * o.phaseProgress[phase] / 100
	}
	return p
}

// Run executes the migration pipeline. Phases run strictly sequentially;
// the first critical failure halts the run, and the returned result still
// covers everything completed so far. An interrupt via ctx stops new
// phases and tables but never triggers an automatic rollback.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	var (
		export *snapshot.ExportResult
		tr     *snapshot.TransformResult
		impRes *target.ImportResult
	)

	defer o.closeHandles()

	steps := []struct {
		phase   Phase
		enabled bool
		fn      func(context.Context) error
	}{
		{PhaseInitialization, true, o.runInitialization},
		{PhaseBackup, o.cfg.Backup, o.runBackup},
		{PhaseExport, true, func(ctx context.Context) error {
			var err error
			export, err = o.runExport(ctx)
			return err
		}},
		{PhaseTransform, true, func(ctx context.Context) error {
			tr = o.runTransform(export)
			return nil
		}},
		{PhaseImport, true, func(ctx context.Context) error {
			var err error
			impRes, err = o.runImport(ctx, tr)
			return err
		}},
		{PhaseValidation, o.cfg.Validate, func(ctx context.Context) error {
			return o.runValidation(ctx, tr)
		}},
		{PhaseCleanup, true, func(context.Context) error {
			o.closeHandles()
			return nil
		}},
	}

	var runErr error
	for _, step := range steps {
		if !step.enabled {
			o.phases = append(o.phases, PhaseResult{Phase: step.phase, Status: "skipped"})
			o.setPhaseProgress(step.phase, 100)
			continue
		}
		if err := o.runPhase(ctx, step.phase, step.fn); err != nil {
			runErr = err
			break
		}
	}

	if runErr == nil {
		o.state = PhaseCompleted
	}

	result := &Result{
		Success:  runErr == nil && !o.critical && o.stats.Errors == 0,
		State:    o.state,
		Phases:   o.phases,
		Stats:    o.stats,
		Rollback: o.rollback,
		Backup:   o.backup,
		Issues:   o.issues,
		Import:   impRes,
	}
	return result, runErr
}

// runPhase is the uniform wrapper every phase executes through: it times
// the phase, recovers panics, and tags any failure as critical with the
// phase name before halting the pipeline.
func (o *Orchestrator) runPhase(ctx context.Context, phase Phase, fn func(context.Context) error) (err error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		o.state = PhaseFailed
		o.phases = append(o.phases, PhaseResult{Phase: phase, Status: "skipped", Error: ctxErr.Error()})
		return &PhaseError{Phase: phase, Severity: snapshot.SeverityCritical, Err: ctxErr}
	}

	o.state = phase
	o.log.Info().Str("phase", string(phase)).Msg("phase started")
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		res := PhaseResult{Phase: phase, Duration: time.Since(start)}
		if err != nil {
			o.critical = true
			o.state = PhaseFailed
			err = &PhaseError{Phase: phase, Severity: snapshot.SeverityCritical, Err: err}
			res.Status = "failed"
			res.Error = err.Error()
			o.log.Error().Str("phase", string(phase)).Err(err).Msg("phase failed")
		} else {
			res.Status = "completed"
			o.setPhaseProgress(phase, 100)
			o.log.Info().Str("phase", string(phase)).Dur("duration", res.Duration).Msg("phase completed")
		}
		o.phases = append(o.phases, res)
	}()

	return fn(ctx)
}

func (o *Orchestrator) setPhaseProgress(phase Phase, pct float64) {
	if pct > 100 {
		pct = 100
	}
	if pct > o.phaseProgress[phase] { // monotonic, like the statistics
		o.phaseProgress[phase] = pct
	}
	if o.cfg.OnProgress != nil {
		o.cfg.OnProgress(o.Progress())
	}
}

// recordIssues appends issues and bumps the counters.
func (o *Orchestrator) recordIssues(issues []snapshot.ValidationIssue) {
	o.issues = append(o.issues, issues...)
	w, e := snapshot.CountBySeverity(issues)
	o.stats.Warnings += w
	o.stats.Errors += e
}

// runInitialization opens the source and populates the total counters so
// later phases can report meaningful progress fractions.
func (o *Orchestrator) runInitialization(ctx context.Context) error {
	exp, err := source.Open(o.cfg.SourcePath, withOutDir(o.cfg.Export, o.cfg.OutDir), o.cfg.Logger, o.phaseReporter(PhaseExport))
	if err != nil {
		return err
	}
	o.exporter = exp

	counts, err := exp.Stats(ctx)
	if err != nil {
		return err
	}
	o.stats.TotalTables += len(counts)
	for _, n := range counts {
		o.stats.TotalRecords += n
	}
	o.log.Info().Int("tables", o.stats.TotalTables).Int("records", o.stats.TotalRecords).Msg("source inspected")
	return nil
}

func (o *Orchestrator) runExport(ctx context.Context) (*snapshot.ExportResult, error) {
	res, err := o.exporter.Export(ctx)
	if err != nil {
		return nil, err
	}
	o.stats.ExportedRecords += res.Metadata.TotalRecords
	for _, msg := range res.Errors {
		o.recordIssues([]snapshot.ValidationIssue{{
			Message:  msg,
			Severity: snapshot.SeverityError,
		}})
	}
	return res, nil
}

func (o *Orchestrator) runTransform(export *snapshot.ExportResult) *snapshot.TransformResult {
	tf := transform.New(validate.New(), o.cfg.Logger)
	tf.OutDir = o.cfg.OutDir
	tr := tf.Transform(export)
	o.stats.TransformedRecords += tr.Metadata.TotalRecords
	o.recordIssues(tr.Issues)
	return tr
}

func (o *Orchestrator) runImport(ctx context.Context, tr *snapshot.TransformResult) (*target.ImportResult, error) {
	imp, err := target.Connect(o.cfg.TargetDSN, o.cfg.Import, o.cfg.Logger, o.phaseReporter(PhaseImport))
	if err != nil {
		return nil, err
	}
	o.importer = imp

	gen := pgschema.NewGenerator(o.cfg.Import.Schema, o.cfg.Logger)
	schemas, issues := gen.Generate(tr)
	o.recordIssues(issues)

	tables := make([]string, 0, len(schemas))
	for _, ts := range schemas {
		tables = append(tables, ts.Name)
	}
	mapper := relation.NewMapper()
	mapper.BuildFromForeignKeys(shapesToSnapshots(tr))
	order := mapper.ImportOrder(tables)

	res := imp.Import(ctx, tr, schemas, order)
	o.stats.ImportedRecords += res.Metadata.TotalRecords
	o.stats.ProcessedTables += res.Metadata.TotalTables
	for _, w := range res.Warnings {
		o.recordIssues([]snapshot.ValidationIssue{{Message: w, Severity: snapshot.SeverityWarning}})
	}
	for _, e := range res.Errors {
		o.recordIssues([]snapshot.ValidationIssue{{Message: e, Severity: snapshot.SeverityError}})
	}
	return res, nil
}

func (o *Orchestrator) runValidation(ctx context.Context, tr *snapshot.TransformResult) error {
	expected := make(map[string]int, len(tr.Data))
	for table, rows := range tr.Data {
		expected[table] = len(rows)
	}
	o.recordIssues(o.importer.VerifyCounts(ctx, expected))
	return nil
}

func (o *Orchestrator) closeHandles() {
	if o.exporter != nil {
		o.exporter.Close()
		o.exporter = nil
	}
	if o.importer != nil {
		o.importer.Close()
		o.importer = nil
	}
}

// shapesToSnapshots rebuilds just enough snapshot structure for the
// relationship mapper from a transformed dataset, so a standalone import
// run does not need the original export in memory.
func shapesToSnapshots(tr *snapshot.TransformResult) map[string]*snapshot.TableSnapshot {
	out := make(map[string]*snapshot.TableSnapshot, len(tr.Shapes))
	for name, shape := range tr.Shapes {
		out[name] = &snapshot.TableSnapshot{Name: name, ForeignKeys: shape.ForeignKeys}
	}
	return out
}

func withOutDir(opts source.Options, dir string) source.Options {
	opts.OutDir = dir
	return opts
}
