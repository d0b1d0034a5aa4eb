// Package notify alerts operators about failed or incomplete backfill runs.
package notify

import (
	"context"
	"time"

	"pvhistory/internal/history/application"
)

// AlertMessage represents a notification payload.
type AlertMessage struct {
	Site       string            `json:"site"`
	RunID      string            `json:"run_id"`
	Started    time.Time         `json:"started"`
	Finished   time.Time         `json:"finished"`
	Error      string            `json:"error,omitempty"`
	Records    int               `json:"records"`
	Incomplete []IncompleteEntry `json:"incomplete,omitempty"`
	Reports    []string          `json:"reports,omitempty"`
}

// IncompleteEntry describes a window whose site aggregate was withheld.
type IncompleteEntry struct {
	Job         string    `json:"job"`
	Period      string    `json:"period"`
	Start       time.Time `json:"start"`
	Merged      int       `json:"merged"`
	Expected    int       `json:"expected"`
	Unavailable []string  `json:"unavailable,omitempty"`
}

// Notifier sends notifications.
type Notifier interface {
	Notify(ctx context.Context, msg AlertMessage) error
}

// FromSummary builds an alert for a run. ok is false when every job
// succeeded with complete windows.
func FromSummary(site string, summary application.RunSummary, reports []string) (AlertMessage, bool) {
	msg := AlertMessage{
		Site:     site,
		RunID:    summary.RunID,
		Started:  summary.Started,
		Finished: summary.Finished,
		Records:  summary.Records(),
		Reports:  reports,
	}
	for _, job := range summary.Jobs {
		if job.Err != nil && msg.Error == "" {
			msg.Error = job.Name + ": " + job.Err.Error()
		}
	}
	for _, w := range summary.Incomplete() {
		msg.Incomplete = append(msg.Incomplete, IncompleteEntry{
			Job:         w.Job,
			Period:      string(w.Period),
			Start:       w.Start,
			Merged:      w.Merged,
			Expected:    w.Expected,
			Unavailable: w.Unavailable,
		})
	}
	return msg, msg.Error != "" || len(msg.Incomplete) > 0
}
