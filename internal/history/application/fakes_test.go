package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"pvhistory/internal/history/domain/record"
	"pvhistory/internal/history/domain/series"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// fakeDevice serves canned samples, filtered to the requested range.
type fakeDevice struct {
	name     string
	daily    []series.Sample
	fine     []series.Sample
	failOpen int32 // number of Open calls that fail before succeeding
	noData   bool
	delay    time.Duration

	opens    atomic.Int32
	fetches  atomic.Int32
	closes   atomic.Int32
	observed *atomic.Int32 // shared fetch counter checked on Close
	minSeen  atomic.Int32
}

type fakeSession struct{ dev *fakeDevice }

func (d *fakeDevice) Name() string { return d.name }

func (d *fakeDevice) Open(ctx context.Context) (Session, error) {
	n := d.opens.Add(1)
	if n <= d.failOpen {
		return nil, ErrDeviceUnavailable
	}
	return fakeSession{dev: d}, nil
}

func (s fakeSession) History(ctx context.Context, period series.Period, start, stop time.Time) (series.Series, error) {
	d := s.dev
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	d.fetches.Add(1)
	if d.observed != nil {
		d.observed.Add(1)
	}
	if d.noData {
		return series.Series{}, series.ErrNoData
	}
	source := d.daily
	if period == series.PeriodFine {
		source = d.fine
	}
	var out []series.Sample
	for _, sample := range source {
		if !sample.At.Before(start) && sample.At.Before(stop) {
			out = append(out, sample)
		}
	}
	return series.Series{Device: d.name, Kind: series.Counter, Samples: out}, nil
}

func (s fakeSession) Close(ctx context.Context) error {
	d := s.dev
	d.closes.Add(1)
	if d.observed != nil {
		seen := d.observed.Load()
		if d.minSeen.Load() == 0 || seen < d.minSeen.Load() {
			d.minSeen.Store(seen)
		}
	}
	return nil
}

type failingStore struct {
	err   error
	calls int
	mu    sync.Mutex
}

func (s *failingStore) Write(ctx context.Context, records []record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.err
}

var errStoreDown = errors.New("store down")

type fakeSource struct{ series []series.Series }

func (f fakeSource) Read(ctx context.Context) ([]series.Series, error) { return f.series, nil }

func utcDay(d int) time.Time { return time.Date(2023, 1, d, 0, 0, 0, 0, time.UTC) }

func devices(devs ...*fakeDevice) []Device {
	out := make([]Device, 0, len(devs))
	for _, d := range devs {
		out = append(out, d)
	}
	return out
}
