package series

import (
	"fmt"
	"strings"
	"time"
)

// Period determines the canonical bucket width of a series.
type Period string

const (
	PeriodToday Period = "today"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
	PeriodFine  Period = "fine"
)

// DefaultFineInterval is the vendor's sub-day logging interval.
const DefaultFineInterval = 5 * time.Minute

// IsValid checks if the period is one of the supported values.
func (p Period) IsValid() bool {
	switch p {
	case PeriodToday, PeriodMonth, PeriodYear, PeriodFine:
		return true
	default:
		return false
	}
}

// ParsePeriod parses a configured period name.
func ParsePeriod(value string) (Period, error) {
	p := Period(strings.ToLower(strings.TrimSpace(value)))
	if !p.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, value)
	}
	return p, nil
}

func keyLayout(p Period) (string, error) {
	switch p {
	case PeriodToday:
		return "20060102", nil
	case PeriodMonth:
		return "200601", nil
	case PeriodYear:
		return "2006", nil
	case PeriodFine:
		return "20060102T1504", nil
	default:
		return "", ErrInvalidPeriod
	}
}

// Window is a half-open time range [Start, Stop).
type Window struct {
	Start time.Time
	Stop  time.Time
}

// NewWindow validates and builds a window.
func NewWindow(start, stop time.Time) (Window, error) {
	if start.IsZero() || stop.IsZero() || !start.Before(stop) {
		return Window{}, ErrInvalidWindow
	}
	return Window{Start: start, Stop: stop}, nil
}

// Contains tells if t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.Stop)
}

// String renders the window for logs.
func (w Window) String() string {
	return w.Start.Format(time.RFC3339) + "/" + w.Stop.Format(time.RFC3339)
}

// Bucketing maps instants onto the canonical boundaries of one period in one
// time zone.
type Bucketing struct {
	period   Period
	loc      *time.Location
	interval time.Duration
}

// NewBucketing constructs a Bucketing. interval is only used by PeriodFine and
// falls back to DefaultFineInterval when zero.
func NewBucketing(period Period, loc *time.Location, interval time.Duration) (Bucketing, error) {
	if !period.IsValid() {
		return Bucketing{}, ErrInvalidPeriod
	}
	if loc == nil {
		return Bucketing{}, ErrNilLocation
	}
	if period == PeriodFine {
		if interval == 0 {
			interval = DefaultFineInterval
		}
		if interval < time.Minute || interval%time.Second != 0 || (24*time.Hour)%interval != 0 {
			return Bucketing{}, ErrInvalidInterval
		}
	} else {
		interval = 0
	}
	return Bucketing{period: period, loc: loc, interval: interval}, nil
}

// Period returns the bucketing period.
func (b Bucketing) Period() Period { return b.period }

// Location returns the time zone used for boundaries.
func (b Bucketing) Location() *time.Location { return b.loc }

// Interval returns the fine interval, zero for calendar periods.
func (b Bucketing) Interval() time.Duration { return b.interval }

// Start returns the boundary of the bucket containing t.
func (b Bucketing) Start(t time.Time) (time.Time, error) {
	lt := t.In(b.loc)
	switch b.period {
	case PeriodToday:
		return b.dayStart(lt.Year(), lt.Month(), lt.Day()), nil
	case PeriodMonth:
		return b.dayStart(lt.Year(), lt.Month(), 1), nil
	case PeriodYear:
		return b.dayStart(lt.Year(), time.January, 1), nil
	case PeriodFine:
		return b.floorFine(lt)
	default:
		return time.Time{}, ErrInvalidPeriod
	}
}

// Next returns the boundary following the bucket that starts at start.
func (b Bucketing) Next(start time.Time) (time.Time, error) {
	lt := start.In(b.loc)
	switch b.period {
	case PeriodToday:
		return b.dayStart(lt.Year(), lt.Month(), lt.Day()+1), nil
	case PeriodMonth:
		return b.dayStart(lt.Year(), lt.Month()+1, 1), nil
	case PeriodYear:
		return b.dayStart(lt.Year()+1, time.January, 1), nil
	case PeriodFine:
		return lt.Add(b.interval), nil
	default:
		return time.Time{}, ErrInvalidPeriod
	}
}

// Buckets lists every bucket boundary that falls inside the window.
func (b Bucketing) Buckets(w Window) ([]time.Time, error) {
	cur, err := b.Start(w.Start)
	if err != nil {
		return nil, err
	}
	if cur.Before(w.Start) {
		if cur, err = b.Next(cur); err != nil {
			return nil, err
		}
	}
	var out []time.Time
	for cur.Before(w.Stop) {
		out = append(out, cur)
		if cur, err = b.Next(cur); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Key returns the storage-friendly key of the bucket starting at t.
func (b Bucketing) Key(t time.Time) (string, error) {
	layout, err := keyLayout(b.period)
	if err != nil {
		return "", err
	}
	return t.In(b.loc).Format(layout), nil
}

// midnight returns local midnight of the (normalized) date. It fails when the
// zone skips midnight that day or when midnight occurs twice.
func (b Bucketing) midnight(year int, month time.Month, day int) (time.Time, error) {
	noon := time.Date(year, month, day, 12, 0, 0, 0, b.loc)
	t := time.Date(year, month, day, 0, 0, 0, 0, b.loc)
	if t.Hour() != 0 || t.Minute() != 0 || t.Day() != noon.Day() || t.Month() != noon.Month() {
		return time.Time{}, fmt.Errorf("%w: no local midnight on %s", ErrAlignmentAmbiguity, noon.Format("2006-01-02"))
	}
	for _, near := range []time.Time{t.Add(-time.Hour), t.Add(time.Hour)} {
		nl := near.In(b.loc)
		if nl.Hour() == 0 && nl.Day() == t.Day() {
			return time.Time{}, fmt.Errorf("%w: repeated local midnight on %s", ErrAlignmentAmbiguity, noon.Format("2006-01-02"))
		}
	}
	return t, nil
}

// dayStart returns the first instant of the (normalized) local date. It is
// local midnight except where a DST change skips midnight, in which case the
// day starts at the end of the gap. A repeated midnight starts at its first
// occurrence.
func (b Bucketing) dayStart(year int, month time.Month, day int) time.Time {
	noon := time.Date(year, month, day, 12, 0, 0, 0, b.loc)
	t := time.Date(year, month, day, 0, 0, 0, 0, b.loc)
	if t.Hour() == 0 && t.Minute() == 0 && sameDate(t, noon) {
		if prev := t.Add(-time.Hour).In(b.loc); prev.Hour() == 0 && sameDate(prev, noon) {
			return prev
		}
		return t
	}
	cur := t.Add(-6 * time.Hour).Truncate(time.Minute)
	for !sameDate(cur.In(b.loc), noon) {
		cur = cur.Add(time.Minute)
	}
	return cur.In(b.loc)
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// floorFine truncates using the sample's own UTC offset, so the repeated hour
// at a DST fall-back maps onto the right instant.
func (b Bucketing) floorFine(lt time.Time) (time.Time, error) {
	_, offset := lt.Zone()
	secs := int64(b.interval / time.Second)
	local := lt.Unix() + int64(offset)
	floored := local - mod(local, secs)
	bucket := time.Unix(floored-int64(offset), 0).In(b.loc)
	if _, bucketOffset := bucket.Zone(); bucketOffset != offset {
		return time.Time{}, fmt.Errorf("%w: offset change inside interval at %s", ErrAlignmentAmbiguity, lt.Format(time.RFC3339))
	}
	return bucket, nil
}

func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
