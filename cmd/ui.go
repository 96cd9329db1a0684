package cmd

import (
	"fmt"
	"sync"
	"time"

	"github.com/gosuri/uiprogress"

	"cms-migrate/internal/progress"
)

// barReporter renders one uiprogress bar per table.
type barReporter struct {
	mu   sync.Mutex
	bars map[string]*uiprogress.Bar
}

func newBarReporter() *barReporter {
	return &barReporter{bars: make(map[string]*uiprogress.Bar)}
}

func (r *barReporter) TableStarted(table string, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if total < 1 {
		total = 1
	}
	bar := uiprogress.AddBar(total).AppendCompleted().PrependElapsed()
	name := table
	bar.PrependFunc(func(b *uiprogress.Bar) string {
		return fmt.Sprintf("%-24s", name)
	})
	r.bars[table] = bar
}

func (r *barReporter) BatchProcessed(table string, processed, total int, eta time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bar, ok := r.bars[table]; ok {
		bar.Set(processed)
	}
}

func (r *barReporter) TableCompleted(table string, rows int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bar, ok := r.bars[table]; ok {
		bar.Set(bar.Total)
	}
}

var _ progress.Reporter = (*barReporter)(nil)

// printStats renders a stats-only table listing in name order.
func printStats(counts map[string]int, tables []string) {
	fmt.Println("\n📊 Table Statistics:")
	total := 0
	for i, name := range tables {
		fmt.Printf("[%02d] %-24s : %d rows\n", i+1, name, counts[name])
		total += counts[name]
	}
	fmt.Println("--------------------------------------------------")
	fmt.Printf("Total Records: %d\n", total)
}
