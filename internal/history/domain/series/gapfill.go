package series

import "time"

// Fill returns a series holding exactly one sample per bucket of the window.
//
// Buckets before the device's first real sample get a zero Baseline sample:
// the device had not reported yet, so there is no history to carry. Later
// buckets that are missing or explicitly absent are forward filled from the
// nearest earlier value. When two input samples land on the same bucket the
// later one in input order wins. A series without any real sample inside the
// window yields ErrNoData.
func Fill(s Series, w Window, b Bucketing) (Series, error) {
	if s.Device == "" {
		return Series{}, ErrEmptyDevice
	}
	buckets, err := b.Buckets(w)
	if err != nil {
		return Series{}, err
	}

	byBucket := make(map[int64]Sample, len(s.Samples))
	for _, sample := range s.Samples {
		if !w.Contains(sample.At) {
			continue
		}
		at, err := b.Start(sample.At)
		if err != nil {
			continue
		}
		sample.At = at
		byBucket[at.Unix()] = sample
	}

	first := -1
	for i, at := range buckets {
		if sample, ok := byBucket[at.Unix()]; ok && sample.Valid {
			first = i
			break
		}
	}
	if first < 0 {
		return Series{}, newIssue(IssueNoData, s.Device, time.Time{}, ErrNoData)
	}

	out := make([]Sample, 0, len(buckets))
	var last float64
	for i, at := range buckets {
		sample, ok := byBucket[at.Unix()]
		switch {
		case i < first:
			out = append(out, Sample{At: at, Value: 0, Valid: true, Origin: Baseline})
		case ok && sample.Valid:
			out = append(out, sample)
			last = sample.Value
		default:
			out = append(out, Sample{At: at, Value: last, Valid: true, Origin: ForwardFilled})
		}
	}
	return s.withSamples(out), nil
}

// DropBaseline removes the zero samples Fill inserts before a device's first
// real value.
func DropBaseline(s Series) Series {
	out := make([]Sample, 0, len(s.Samples))
	for _, sample := range s.Samples {
		if sample.Origin != Baseline {
			out = append(out, sample)
		}
	}
	return s.withSamples(out)
}
