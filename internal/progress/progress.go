// Package progress defines the callback interface the pipeline phases
// report through. The ordering contract is table started, then batch
// events with strictly increasing processed counts, then table completed.
package progress

import "time"

// Reporter receives ordered progress events from a pipeline phase.
type Reporter interface {
	TableStarted(table string, totalRows int)
	BatchProcessed(table string, processed, total int, eta time.Duration)
	TableCompleted(table string, rows int)
}

// Nop discards all progress events.
type Nop struct{}

func (Nop) TableStarted(string, int)                       {}
func (Nop) BatchProcessed(string, int, int, time.Duration) {}
func (Nop) TableCompleted(string, int)                     {}

// Tracker computes a simple rate-based ETA: remaining / (processed / elapsed).
type Tracker struct {
	start time.Time
	clock func() time.Time
}

func NewTracker() *Tracker {
	t := &Tracker{clock: time.Now}
	t.start = t.clock()
	return t
}

// ETA estimates the remaining duration from the rows processed so far.
// Returns zero until at least one row has been processed.
func (t *Tracker) ETA(processed, total int) time.Duration {
	if processed <= 0 || total <= processed {
		return 0
	}
	elapsed := t.clock().Sub(t.start)
	if elapsed <= 0 {
		return 0
	}
	rate := float64(processed) / float64(elapsed.Milliseconds()+1)
	remaining := float64(total - processed)
	return time.Duration(remaining/rate) * time.Millisecond
}
