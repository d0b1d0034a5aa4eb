package series

import (
	"errors"
	"sort"
	"time"
)

// ErrUnresolvedEndpoint is returned when a period endpoint was not reported by
// the device (absent, baseline or forward filled).
var ErrUnresolvedEndpoint = errors.New("series: unresolved period endpoint")

// DeltaResult is the production of one device (or the site) over a period,
// derived from its cumulative counter. Produced is only meaningful when Valid.
type DeltaResult struct {
	Device     string
	StartValue float64
	EndValue   float64
	Produced   float64
	Valid      bool
	Issue      *Issue
}

// DeltaSet holds the per-device deltas of one period plus the site aggregate.
type DeltaSet struct {
	Start   time.Time
	End     time.Time
	Results []DeltaResult
	Site    DeltaResult
}

// Complete tells if the site aggregate could be computed.
func (d DeltaSet) Complete() bool { return d.Site.Valid }

// Merged returns the number of devices with a valid delta.
func (d DeltaSet) Merged() int {
	n := 0
	for _, r := range d.Results {
		if r.Valid {
			n++
		}
	}
	return n
}

// Issues collects every issue of the set, site last.
func (d DeltaSet) Issues() []*Issue {
	var out []*Issue
	for _, r := range d.Results {
		if r.Issue != nil {
			out = append(out, r.Issue)
		}
	}
	if d.Site.Issue != nil {
		out = append(out, d.Site.Issue)
	}
	return out
}

// Deltas computes end minus start for every device over the whole window of
// its series. A device whose first or last sample is not a reported value, or
// whose reported counter decreases inside the window, gets no delta. The site
// delta is the sum of device deltas only when every expected device has one.
func (m *Merger) Deltas(in []Series) DeltaSet {
	byDevice := make(map[string]Series, len(in))
	for _, s := range in {
		byDevice[s.Device] = s
	}

	set := DeltaSet{}
	for _, name := range m.deviceUnion(byDevice) {
		s, ok := byDevice[name]
		if !ok {
			set.Results = append(set.Results, DeltaResult{
				Device: name,
				Issue:  newIssue(IssueNoData, name, time.Time{}, ErrNoData),
			})
			continue
		}
		result := deviceDelta(s)
		if n := len(s.Samples); n > 0 {
			if set.Start.IsZero() || s.Samples[0].At.Before(set.Start) {
				set.Start = s.Samples[0].At
			}
			if s.Samples[n-1].At.After(set.End) {
				set.End = s.Samples[n-1].At
			}
		}
		set.Results = append(set.Results, result)
	}
	set.Site = m.siteDelta(set)
	return set
}

func deviceDelta(s Series) DeltaResult {
	result := DeltaResult{Device: s.Device}
	if len(s.Samples) < 2 {
		result.Issue = newIssue(IssueNoData, s.Device, time.Time{}, ErrNoData)
		return result
	}
	first, last := s.Samples[0], s.Samples[len(s.Samples)-1]
	result.StartValue, result.EndValue = first.Value, last.Value
	if !first.IsReported() {
		result.Issue = newIssue(IssueNoData, s.Device, first.At, ErrUnresolvedEndpoint)
		return result
	}
	if !last.IsReported() {
		result.Issue = newIssue(IssueNoData, s.Device, last.At, ErrUnresolvedEndpoint)
		return result
	}

	prev := first.Value
	for _, sample := range s.Samples[1:] {
		if !sample.IsReported() {
			continue
		}
		if sample.Value < prev {
			result.Issue = newIssue(IssueNonMonotonicCounter, s.Device, sample.At, ErrNonMonotonicCounter)
			return result
		}
		prev = sample.Value
	}

	result.Produced = last.Value - first.Value
	result.Valid = true
	return result
}

func (m *Merger) siteDelta(set DeltaSet) DeltaResult {
	site := DeltaResult{Device: SiteDevice}
	valid := make(map[string]DeltaResult, len(set.Results))
	for _, r := range set.Results {
		if r.Valid {
			valid[r.Device] = r
		}
	}
	for _, name := range m.devices {
		r, ok := valid[name]
		if !ok {
			return DeltaResult{Device: SiteDevice, Issue: newIssue(IssuePartialWindow, SiteDevice, set.Start, ErrPartialWindow)}
		}
		site.StartValue += r.StartValue
		site.EndValue += r.EndValue
		site.Produced += r.Produced
	}
	site.Valid = true
	return site
}

func (m *Merger) deviceUnion(byDevice map[string]Series) []string {
	names := append([]string(nil), m.devices...)
	for name := range byDevice {
		if !m.expects(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (m *Merger) expects(name string) bool {
	i := sort.SearchStrings(m.devices, name)
	return i < len(m.devices) && m.devices[i] == name
}
