package series

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmptyDevice is returned when a series has no device name.
	ErrEmptyDevice = errors.New("series: empty device name")
	// ErrInvalidPeriod is returned when a period is unsupported.
	ErrInvalidPeriod = errors.New("series: invalid period")
	// ErrInvalidWindow is returned when a window is zero or inverted.
	ErrInvalidWindow = errors.New("series: invalid window")
	// ErrInvalidInterval is returned when a fine interval does not divide a day.
	ErrInvalidInterval = errors.New("series: invalid fine interval")
	// ErrNilLocation is returned when no time zone is configured.
	ErrNilLocation = errors.New("series: nil location")

	// ErrNoData is returned when a device has no real sample in a window.
	ErrNoData = errors.New("series: no data")
	// ErrNonMonotonicCounter is returned when a cumulative counter decreases.
	ErrNonMonotonicCounter = errors.New("series: non-monotonic counter")
	// ErrAlignmentAmbiguity is returned when a timestamp has no unique bucket.
	ErrAlignmentAmbiguity = errors.New("series: alignment ambiguity")
	// ErrPartialWindow is returned when a strict join is missing devices.
	ErrPartialWindow = errors.New("series: partial window")
)

// IssueKind classifies data-integrity problems found while reconciling.
type IssueKind string

const (
	IssueNoData              IssueKind = "no_data"
	IssueNonMonotonicCounter IssueKind = "non_monotonic_counter"
	IssueAlignmentAmbiguity  IssueKind = "alignment_ambiguity"
	IssuePartialWindow       IssueKind = "partial_window"
)

// Issue is a data-integrity problem scoped to one device (or the site).
// It wraps one of the sentinel errors above so callers can use errors.Is.
type Issue struct {
	Kind   IssueKind
	Device string
	At     time.Time
	Err    error
}

// Error implements error.
func (i *Issue) Error() string {
	if i.At.IsZero() {
		return fmt.Sprintf("%s: device=%s: %v", i.Kind, i.Device, i.Err)
	}
	return fmt.Sprintf("%s: device=%s at=%s: %v", i.Kind, i.Device, i.At.Format(time.RFC3339), i.Err)
}

// Unwrap exposes the sentinel error.
func (i *Issue) Unwrap() error { return i.Err }

func newIssue(kind IssueKind, device string, at time.Time, err error) *Issue {
	return &Issue{Kind: kind, Device: device, At: at, Err: err}
}
