package backfill

import (
	"fmt"
	"strings"
	"time"

	"kite-backfill/internal/model"
)

// Report is the aggregate of one Update run. Outcomes are in chunk order
// (retried chunks first). Err is set when the update could not be
// scheduled at all; Outcomes is then empty.
type Report struct {
	Instrument string
	Token      int64
	Resume     time.Time
	Outcomes   []model.Outcome
	Err        error
	Elapsed    time.Duration
}

// Count returns the number of outcomes with status s.
func (r Report) Count(s model.Status) int {
	n := 0
	for i := range r.Outcomes {
		if r.Outcomes[i].Status == s {
			n++
		}
	}
	return n
}

// Counts returns outcome counts by status; every status is present.
func (r Report) Counts() map[model.Status]int {
	m := make(map[model.Status]int, len(model.Statuses))
	for _, s := range model.Statuses {
		m[s] = 0
	}
	for i := range r.Outcomes {
		m[r.Outcomes[i].Status]++
	}
	return m
}

// Rows returns the number of rows written.
func (r Report) Rows() int {
	n := 0
	for i := range r.Outcomes {
		if r.Outcomes[i].Status == model.StatusWritten {
			n += r.Outcomes[i].Rows
		}
	}
	return n
}

// HardFailure is true when the update failed or a chunk failed to write.
func (r Report) HardFailure() bool {
	return r.Err != nil || r.Count(model.StatusFailed) > 0
}

// Summary renders "written=2 skipped=1 ..." in status order.
func (r Report) Summary() string {
	if r.Err != nil {
		return "error: " + r.Err.Error()
	}
	c := r.Counts()
	parts := make([]string, 0, len(model.Statuses)+1)
	for _, s := range model.Statuses {
		parts = append(parts, fmt.Sprintf("%s=%d", s, c[s]))
	}
	parts = append(parts, fmt.Sprintf("rows=%d", r.Rows()))
	return strings.Join(parts, " ")
}

// Failed decides the process exit status over a set of reports: any hard
// failure fails the run, fetch failures only when strictFetch is set.
func Failed(reports []Report, strictFetch bool) bool {
	for i := range reports {
		if reports[i].HardFailure() {
			return true
		}
		if strictFetch && reports[i].Count(model.StatusFetchFailed) > 0 {
			return true
		}
	}
	return false
}

// Totals sums outcome counts over reports.
func Totals(reports []Report) map[model.Status]int {
	m := make(map[model.Status]int, len(model.Statuses))
	for _, s := range model.Statuses {
		m[s] = 0
	}
	for i := range reports {
		for s, n := range reports[i].Counts() {
			m[s] += n
		}
	}
	return m
}
