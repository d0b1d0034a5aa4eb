package series

import (
	"fmt"
	"time"
)

// Aligner snaps sample timestamps onto canonical bucket boundaries.
//
// Day buckets follow the inverter's logging quirk: the end-of-day total is
// stamped either a few seconds after midnight or late in the evening of the
// day it closes. A reading whose local hour is greater than 12 therefore
// belongs to midnight of the next day, any other reading to midnight of its
// own day. The rule was reverse engineered from vendor data and is applied
// uniformly; it is not verified for every zone's DST rules.
type Aligner struct {
	bucketing Bucketing
}

// NewAligner constructs an Aligner for a bucketing.
func NewAligner(bucketing Bucketing) (Aligner, error) {
	if bucketing.loc == nil || !bucketing.period.IsValid() {
		return Aligner{}, ErrInvalidPeriod
	}
	return Aligner{bucketing: bucketing}, nil
}

// Bucketing returns the aligner's bucketing.
func (a Aligner) Bucketing() Bucketing { return a.bucketing }

// Align maps t to its bucket boundary.
func (a Aligner) Align(t time.Time) (time.Time, error) {
	b := a.bucketing
	switch b.period {
	case PeriodFine:
		return b.Start(t)
	case PeriodToday:
		return a.alignDay(t)
	case PeriodMonth, PeriodYear:
		day, err := a.alignDay(t)
		if err != nil {
			return time.Time{}, err
		}
		return b.Start(day)
	default:
		return time.Time{}, ErrInvalidPeriod
	}
}

func (a Aligner) alignDay(t time.Time) (time.Time, error) {
	lt := t.In(a.bucketing.loc)
	day := lt.Day()
	if lt.Hour() > 12 {
		day++
	}
	return a.bucketing.midnight(lt.Year(), lt.Month(), day)
}

// AlignSeries returns a new series with every sample on its bucket boundary,
// ordered by time. Samples that cannot be assigned a unique bucket are dropped
// and reported.
func (a Aligner) AlignSeries(s Series) (Series, []*Issue) {
	out := make([]Sample, 0, len(s.Samples))
	var issues []*Issue
	for _, sample := range s.Samples {
		at, err := a.Align(sample.At)
		if err != nil {
			issues = append(issues, newIssue(IssueAlignmentAmbiguity, s.Device, sample.At, err))
			continue
		}
		sample.At = at
		out = append(out, sample)
	}
	return s.withSamples(sortedCopy(out)), issues
}

// ApplyHistoryFix corrects a one-time discontinuity in vendor history: samples
// strictly before target move back one day bucket and the sample landing on
// target is dropped. The input must already be day aligned.
//
// The correction is stateless and not re-entrant safe; callers apply it at
// most once per raw fetch.
func (a Aligner) ApplyHistoryFix(s Series, target time.Time) (Series, []*Issue) {
	if target.IsZero() {
		return s.Clone(), nil
	}
	boundary, err := a.bucketing.Start(target)
	if err != nil {
		return s.Clone(), []*Issue{newIssue(IssueAlignmentAmbiguity, s.Device, target, err)}
	}
	target = boundary
	out := make([]Sample, 0, len(s.Samples))
	var issues []*Issue
	for _, sample := range s.Samples {
		switch {
		case sample.At.Equal(target):
			continue
		case sample.At.Before(target):
			lt := sample.At.In(a.bucketing.loc)
			shifted, err := a.bucketing.midnight(lt.Year(), lt.Month(), lt.Day()-1)
			if err != nil {
				issues = append(issues, newIssue(IssueAlignmentAmbiguity, s.Device, sample.At, fmt.Errorf("history fix: %w", err)))
				continue
			}
			sample.At = shifted
		}
		out = append(out, sample)
	}
	return s.withSamples(sortedCopy(out)), issues
}
