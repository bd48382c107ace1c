// Package pipeline orchestrates the fetch, aggregate, embed and load
// stages under independent concurrency budgets.
package pipeline

import (
	"fmt"
	"sync"
)

// Status classifies the outcome of one application.
type Status string

const (
	StatusIndexed Status = "indexed"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// AppOutcome is the terminal result of one application's processing.
// Failures carry enough identifying context to re-run just that unit.
type AppOutcome struct {
	AppID   string
	Status  Status
	Reason  string
	Stages  int
	Records int
}

// Report aggregates a run's outcomes. Per-application failures are
// recorded here and never affect the process exit code; only fatal
// errors do, and those abort Run itself.
type Report struct {
	SparkVersion string

	mu       sync.Mutex
	outcomes []AppOutcome
}

func (r *Report) add(o AppOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

// Outcomes returns all recorded outcomes.
func (r *Report) Outcomes() []AppOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AppOutcome, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}

// Counts returns the number of indexed, skipped and failed
// applications and the total records written.
func (r *Report) Counts() (indexed, skipped, failed, records int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.outcomes {
		switch o.Status {
		case StatusIndexed:
			indexed++
			records += o.Records
		case StatusSkipped:
			skipped++
		case StatusFailed:
			failed++
		}
	}
	return
}

// Summary renders a one-line human summary.
func (r *Report) Summary() string {
	indexed, skipped, failed, records := r.Counts()
	return fmt.Sprintf("indexed=%d skipped=%d failed=%d records=%d", indexed, skipped, failed, records)
}
