package orchestrate

import (
	"time"

	"cms-migrate/internal/progress"
)

// phaseReporter returns a Reporter that forwards events to the configured
// reporter and folds per-table batch progress into the owning phase's
// fraction of the overall progress value.
func (o *Orchestrator) phaseReporter(phase Phase) progress.Reporter {
	inner := o.cfg.Reporter
	if inner == nil {
		inner = progress.Nop{}
	}
	return &phaseFraction{o: o, phase: phase, inner: inner}
}

type phaseFraction struct {
	o     *Orchestrator
	phase Phase
	inner progress.Reporter
	done  int
}

func (r *phaseFraction) TableStarted(table string, total int) {
	r.inner.TableStarted(table, total)
}

func (r *phaseFraction) BatchProcessed(table string, processed, total int, eta time.Duration) {
	r.update(float64(processed) / float64(max(total, 1)))
	r.inner.BatchProcessed(table, processed, total, eta)
}

func (r *phaseFraction) TableCompleted(table string, rows int) {
	r.done++
	r.update(0)
	r.inner.TableCompleted(table, rows)
}

// update recomputes the phase fraction as completed tables plus the
// in-flight table's row fraction, over the total table count learned
// during initialization.
func (r *phaseFraction) update(rowFrac float64) {
	total := r.o.stats.TotalTables
	if total <= 0 {
		return
	}
	r.o.setPhaseProgress(r.phase, 100*(float64(r.done)+rowFrac)/float64(total))
}
