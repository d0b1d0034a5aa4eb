package application

import (
	"context"
	"errors"
	"time"

	"pvhistory/internal/history/domain/record"
	"pvhistory/internal/history/domain/series"
)

// ErrDeviceUnavailable is returned by device collaborators when the device
// cannot be reached or refuses the session. It is retried per window.
var ErrDeviceUnavailable = errors.New("history: device unavailable")

// ErrNoData aliases the domain error: the device answered but has nothing
// for the window. It is never retried.
var ErrNoData = series.ErrNoData

// Device opens sessions against one inverter.
type Device interface {
	Name() string
	Open(ctx context.Context) (Session, error)
}

// Session reads history from an opened device connection. History returns
// the raw cumulative counter samples for [start, stop) at the resolution of
// the period: five-minute samples for series.PeriodFine, daily totals
// otherwise.
type Session interface {
	History(ctx context.Context, period series.Period, start, stop time.Time) (series.Series, error)
	Close(ctx context.Context) error
}

// Store persists emitted records.
type Store interface {
	Write(ctx context.Context, records []record.Record) error
}

// IrradianceSource provides measured irradiance and temperature series.
// Series are named by their measurement type (measured, working, ambient).
type IrradianceSource interface {
	Read(ctx context.Context) ([]series.Series, error)
}

// Observer receives run metrics.
type Observer interface {
	ObserveWindow(job string, period series.Period, report WindowReport, duration time.Duration)
	ObserveWrite(store string, records int, err error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// SystemClock returns the wall clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }

type noopObserver struct{}

func (noopObserver) ObserveWindow(string, series.Period, WindowReport, time.Duration) {}
func (noopObserver) ObserveWrite(string, int, error) {}
