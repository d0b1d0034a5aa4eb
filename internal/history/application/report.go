package application

import (
	"time"

	"pvhistory/internal/history/domain/series"
)

// WindowReport summarizes the reconciliation of one window.
type WindowReport struct {
	Job         string
	Period      series.Period
	Start       time.Time
	Stop        time.Time
	Expected    int
	Merged      int
	Complete    bool
	Attempts    int
	Unavailable []string
	Issues      []*series.Issue
	Records     int
}

// JobReport summarizes one job of a run.
type JobReport struct {
	Name     string
	Windows  []WindowReport
	Records  int
	Started  time.Time
	Finished time.Time
	Err      error
}

// Incomplete returns the windows without a site aggregate.
func (j JobReport) Incomplete() []WindowReport {
	var out []WindowReport
	for _, w := range j.Windows {
		if !w.Complete {
			out = append(out, w)
		}
	}
	return out
}

// IssueCount returns the number of data-integrity issues over all windows.
func (j JobReport) IssueCount() int {
	n := 0
	for _, w := range j.Windows {
		n += len(w.Issues)
	}
	return n
}

// RunSummary is the outcome of one backfill run.
type RunSummary struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Jobs     []JobReport
}

// Failed tells if any job returned an error.
func (s RunSummary) Failed() bool {
	for _, j := range s.Jobs {
		if j.Err != nil {
			return true
		}
	}
	return false
}

// Incomplete returns every window without a site aggregate.
func (s RunSummary) Incomplete() []WindowReport {
	var out []WindowReport
	for _, j := range s.Jobs {
		out = append(out, j.Incomplete()...)
	}
	return out
}

// Records returns the number of records written by the run.
func (s RunSummary) Records() int {
	n := 0
	for _, j := range s.Jobs {
		n += j.Records
	}
	return n
}
