package series

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// SiteDevice is the device name used for the combined multi-device series.
const SiteDevice = "site"

// MergedPoint is the combined view of every device at one bucket.
// SiteTotal is only meaningful when HasSite is true, which requires a value
// from every expected device at that bucket.
type MergedPoint struct {
	At        time.Time
	PerDevice map[string]float64
	SiteTotal float64
	HasSite   bool
}

// Merger combines aligned, gap-filled series sharing a window using a strict
// join: the site aggregate is never computed from a subset of devices.
type Merger struct {
	devices []string
}

// NewMerger constructs a Merger for the expected device names.
func NewMerger(devices []string) (*Merger, error) {
	if len(devices) == 0 {
		return nil, errors.New("series: merger needs at least one device")
	}
	seen := make(map[string]struct{}, len(devices))
	sorted := make([]string, 0, len(devices))
	for _, name := range devices {
		if name == "" {
			return nil, ErrEmptyDevice
		}
		if name == SiteDevice {
			return nil, fmt.Errorf("series: device name %q is reserved", SiteDevice)
		}
		if _, ok := seen[name]; ok {
			return nil, fmt.Errorf("series: duplicate device %q", name)
		}
		seen[name] = struct{}{}
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)
	return &Merger{devices: sorted}, nil
}

// Devices returns the expected device names in merge order.
func (m *Merger) Devices() []string {
	return append([]string(nil), m.devices...)
}

// MergePoints sums the series per bucket. Buckets where any expected device
// lacks a value, or only has the zero baseline inserted before its first
// reading, keep their per-device entries but carry no site total.
func (m *Merger) MergePoints(in []Series) []MergedPoint {
	byTime := make(map[int64]*MergedPoint)
	baseline := make(map[int64]bool)
	for _, s := range SortByDevice(in) {
		for _, sample := range s.Samples {
			if !sample.Valid {
				continue
			}
			key := sample.At.Unix()
			point, ok := byTime[key]
			if !ok {
				point = &MergedPoint{At: sample.At, PerDevice: make(map[string]float64, len(m.devices))}
				byTime[key] = point
			}
			point.PerDevice[s.Device] = sample.Value
			if sample.Origin == Baseline && m.expects(s.Device) {
				baseline[key] = true
			}
		}
	}

	keys := make([]int64, 0, len(byTime))
	for key := range byTime {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]MergedPoint, 0, len(keys))
	for _, key := range keys {
		point := byTime[key]
		if !baseline[key] {
			point.SiteTotal, point.HasSite = m.siteTotal(point.PerDevice)
		}
		out = append(out, *point)
	}
	return out
}

func (m *Merger) siteTotal(values map[string]float64) (float64, bool) {
	var total float64
	for _, name := range m.devices {
		v, ok := values[name]
		if !ok {
			return 0, false
		}
		total += v
	}
	return total, true
}
