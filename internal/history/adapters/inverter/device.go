package inverter

import (
	"context"
	"errors"
	"fmt"
	"time"

	historyapp "pvhistory/internal/history/application"
	"pvhistory/internal/history/domain/series"
	"pvhistory/internal/smaadapter"
)

// Client is the part of the SMA client used by the device.
type Client interface {
	Login(ctx context.Context, group, password string) (string, error)
	Logout(ctx context.Context, sid string) error
	Logger(ctx context.Context, sid string, key int, start, end time.Time) ([]smaadapter.LogEntry, error)
}

// Device exposes one SMA inverter as a history device.
type Device struct {
	name     string
	group    string
	password string
	client   Client
}

// NewDevice constructs a device.
func NewDevice(name, group, password string, client Client) (*Device, error) {
	if name == "" {
		return nil, errors.New("inverter device: empty name")
	}
	if client == nil {
		return nil, errors.New("inverter device: nil client")
	}
	return &Device{name: name, group: group, password: password, client: client}, nil
}

// Name returns the configured inverter name.
func (d *Device) Name() string { return d.name }

// Open logs into the inverter.
func (d *Device) Open(ctx context.Context) (historyapp.Session, error) {
	sid, err := d.client.Login(ctx, d.group, d.password)
	if err != nil {
		return nil, unavailable(d.name, err)
	}
	return &session{device: d, sid: sid}, nil
}

type session struct {
	device *Device
	sid    string
}

// History reads daily totals, or five-minute totals for the fine period.
// The logger end is inclusive, so one second is taken off stop.
func (s *session) History(ctx context.Context, period series.Period, start, stop time.Time) (series.Series, error) {
	key := smaadapter.KeyDailyTotals
	if period == series.PeriodFine {
		key = smaadapter.KeyFiveMinuteTotal
	}
	entries, err := s.device.client.Logger(ctx, s.sid, key, start, stop.Add(-time.Second))
	if err != nil {
		return series.Series{}, unavailable(s.device.name, err)
	}
	if len(entries) == 0 {
		return series.Series{}, series.ErrNoData
	}
	samples := make([]series.Sample, 0, len(entries))
	for _, e := range entries {
		if e.V == nil {
			samples = append(samples, series.Missing(e.Time()))
			continue
		}
		samples = append(samples, series.Reading(e.Time(), *e.V))
	}
	return series.New(s.device.name, series.Counter, samples)
}

// Close logs out.
func (s *session) Close(ctx context.Context) error {
	return s.device.client.Logout(ctx, s.sid)
}

func unavailable(name string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", historyapp.ErrDeviceUnavailable, name, err)
}
