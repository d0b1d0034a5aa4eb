package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"pvhistory/internal/history/domain/series"
)

const defaultConcurrency = 4

// RetryPolicy bounds how often unavailable devices are fetched again within
// one window.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// Collection is the outcome of fetching one window from every device.
type Collection struct {
	// Series holds one raw series per answering device, ordered by name.
	Series      []series.Series
	NoData      []string
	Unavailable []string
	Attempts    int
}

// Driver fans out one fetch per device for a window and waits for all of
// them before returning. Sessions are opened per attempt and closed once
// every fetch of the attempt has finished.
type Driver struct {
	devices     []Device
	names       []string
	concurrency int
	retry       RetryPolicy
	logger      logrus.FieldLogger
	sleep       func(ctx context.Context, d time.Duration) error
}

// DriverOption configures the driver.
type DriverOption func(*Driver)

// WithConcurrency limits the number of simultaneous device fetches.
func WithConcurrency(n int) DriverOption {
	return func(d *Driver) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// WithRetry sets the per-window retry policy.
func WithRetry(policy RetryPolicy) DriverOption {
	return func(d *Driver) {
		if policy.Attempts > 0 {
			d.retry.Attempts = policy.Attempts
		}
		if policy.Backoff >= 0 {
			d.retry.Backoff = policy.Backoff
		}
	}
}

// WithDriverLogger sets the driver logger.
func WithDriverLogger(logger logrus.FieldLogger) DriverOption {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDriver constructs a driver for the given devices.
func NewDriver(devices []Device, opts ...DriverOption) (*Driver, error) {
	if len(devices) == 0 {
		return nil, errors.New("history driver: no devices")
	}
	sorted := append([]Device(nil), devices...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name() < sorted[j].Name() })
	names := make([]string, 0, len(sorted))
	for i, dev := range sorted {
		if dev == nil || dev.Name() == "" {
			return nil, errors.New("history driver: unnamed device")
		}
		if i > 0 && names[i-1] == dev.Name() {
			return nil, fmt.Errorf("history driver: duplicate device %q", dev.Name())
		}
		names = append(names, dev.Name())
	}

	d := &Driver{
		devices:     sorted,
		names:       names,
		concurrency: defaultConcurrency,
		retry:       RetryPolicy{Attempts: 1},
		logger:      logrus.StandardLogger(),
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Names returns the device names in merge order.
func (d *Driver) Names() []string {
	return append([]string(nil), d.names...)
}

// Collect fetches [start, stop) from every device. Devices that report no
// data are skipped; unavailable devices are retried up to the policy limit
// and listed in the collection when they never answer.
func (d *Driver) Collect(ctx context.Context, period series.Period, start, stop time.Time) (Collection, error) {
	if d == nil {
		return Collection{}, errors.New("history driver: nil")
	}
	var col Collection
	pending := d.devices
	for attempt := 1; attempt <= d.retry.Attempts && len(pending) > 0; attempt++ {
		if attempt > 1 {
			if err := d.sleep(ctx, d.retry.Backoff); err != nil {
				return Collection{}, err
			}
		}
		col.Attempts = attempt

		outcomes := d.fetchAll(ctx, pending, period, start, stop)
		if err := ctx.Err(); err != nil {
			return Collection{}, err
		}

		var retry []Device
		for i, dev := range pending {
			o := outcomes[i]
			switch {
			case o.err == nil:
				col.Series = append(col.Series, o.series)
			case errors.Is(o.err, series.ErrNoData):
				col.NoData = append(col.NoData, dev.Name())
			default:
				d.logger.WithFields(logrus.Fields{
					"device":  dev.Name(),
					"attempt": attempt,
					"start":   start.Format(time.RFC3339),
				}).WithError(o.err).Warn("device fetch failed")
				retry = append(retry, dev)
			}
		}
		pending = retry
	}
	for _, dev := range pending {
		col.Unavailable = append(col.Unavailable, dev.Name())
	}
	col.Series = series.SortByDevice(col.Series)
	sort.Strings(col.NoData)
	return col, nil
}

type fetchOutcome struct {
	series  series.Series
	session Session
	err     error
}

func (d *Driver) fetchAll(ctx context.Context, devices []Device, period series.Period, start, stop time.Time) []fetchOutcome {
	out := make([]fetchOutcome, len(devices))
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, dev := range devices {
		g.Go(func() error {
			session, err := dev.Open(ctx)
			if err != nil {
				out[i].err = err
				return nil
			}
			out[i].session = session
			raw, err := session.History(ctx, period, start, stop)
			if err != nil {
				out[i].err = err
				return nil
			}
			s, err := series.New(dev.Name(), raw.Kind, raw.Samples)
			if err != nil {
				out[i].err = err
				return nil
			}
			if s.ValidCount() == 0 {
				out[i].err = series.ErrNoData
				return nil
			}
			out[i].series = s
			return nil
		})
	}
	_ = g.Wait()

	closeCtx := context.WithoutCancel(ctx)
	for i, dev := range devices {
		if out[i].session == nil {
			continue
		}
		if err := out[i].session.Close(closeCtx); err != nil {
			d.logger.WithField("device", dev.Name()).WithError(err).Warn("close session failed")
		}
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
