package series

import (
	"sort"
	"time"
)

// Origin records where a sample value came from.
type Origin uint8

const (
	// Reported values were returned by the device.
	Reported Origin = iota
	// Baseline values are zeros inserted before a device's first real sample.
	Baseline
	// ForwardFilled values copy the nearest earlier reported value.
	ForwardFilled
)

// String returns the origin name.
func (o Origin) String() string {
	switch o {
	case Reported:
		return "reported"
	case Baseline:
		return "baseline"
	case ForwardFilled:
		return "forward_filled"
	default:
		return "unknown"
	}
}

// Kind is the numeric kind of a series.
type Kind uint8

const (
	// Counter series carry cumulative integer watt-hour totals.
	Counter Kind = iota
	// Gauge series carry floating point measurements such as irradiance.
	Gauge
)

// Sample is a single observation from one device.
// A sample with Valid=false records that the device answered with no reading
// for that moment, which is not the same as a reading of zero.
type Sample struct {
	At     time.Time
	Value  float64
	Valid  bool
	Origin Origin
}

// Reading builds a reported sample.
func Reading(at time.Time, value float64) Sample {
	return Sample{At: at, Value: value, Valid: true, Origin: Reported}
}

// Missing builds an absent sample.
func Missing(at time.Time) Sample {
	return Sample{At: at, Origin: Reported}
}

// IsReported tells if the sample holds a value the device actually returned.
func (s Sample) IsReported() bool { return s.Valid && s.Origin == Reported }

// Series is an ordered sequence of samples for one named device.
type Series struct {
	Device  string
	Kind    Kind
	Samples []Sample
}

// New builds a Series from samples, copying and sorting them by time.
// Samples with equal timestamps keep their original relative order.
func New(device string, kind Kind, samples []Sample) (Series, error) {
	if device == "" {
		return Series{}, ErrEmptyDevice
	}
	return Series{Device: device, Kind: kind, Samples: sortedCopy(samples)}, nil
}

// Len returns the number of samples.
func (s Series) Len() int { return len(s.Samples) }

// ValidCount returns the number of samples that hold a value.
func (s Series) ValidCount() int {
	n := 0
	for _, sample := range s.Samples {
		if sample.Valid {
			n++
		}
	}
	return n
}

// At returns the sample at the given bucket timestamp.
func (s Series) At(at time.Time) (Sample, bool) {
	i := sort.Search(len(s.Samples), func(i int) bool { return !s.Samples[i].At.Before(at) })
	if i < len(s.Samples) && s.Samples[i].At.Equal(at) {
		return s.Samples[i], true
	}
	return Sample{}, false
}

// Clone returns a deep copy.
func (s Series) Clone() Series {
	out := s
	out.Samples = append([]Sample(nil), s.Samples...)
	return out
}

func (s Series) withSamples(samples []Sample) Series {
	return Series{Device: s.Device, Kind: s.Kind, Samples: samples}
}

func sortedCopy(samples []Sample) []Sample {
	out := append([]Sample(nil), samples...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// SortByDevice returns series ordered by device name.
func SortByDevice(in []Series) []Series {
	out := append([]Series(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Device < out[j].Device })
	return out
}
