package seaward

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	historyapp "pvhistory/internal/history/application"
	"pvhistory/internal/history/domain/series"
)

// ErrMissingColumn is returned when a CSV header lacks a required column.
var ErrMissingColumn = errors.New("seaward: missing column")

var requiredColumns = []string{"Date", "Time", "Tpv", "Ta", "Irr"}

// Reading is one row of a meter export. Temperatures are nil when the meter
// logged an error.
type Reading struct {
	At         time.Time
	Irradiance float64
	Working    *float64
	Ambient    *float64
}

// Reader loads every CSV export in a directory.
type Reader struct {
	dir    string
	loc    *time.Location
	logger logrus.FieldLogger
}

// NewReader constructs a reader. Timestamps in the files are local to loc.
func NewReader(dir string, loc *time.Location, logger logrus.FieldLogger) (*Reader, error) {
	if dir == "" {
		return nil, errors.New("seaward: empty directory")
	}
	if loc == nil {
		return nil, series.ErrNilLocation
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reader{dir: dir, loc: loc, logger: logger}, nil
}

// Read parses the directory into measured irradiance, working temperature and
// ambient temperature gauge series.
func (r *Reader) Read(ctx context.Context) ([]series.Series, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.EqualFold(filepath.Ext(entry.Name()), ".csv") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var readings []Reading
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := r.readFile(filepath.Join(r.dir, name))
		if err != nil {
			return nil, fmt.Errorf("seaward: %s: %w", name, err)
		}
		r.logger.WithFields(logrus.Fields{"file": name, "rows": len(rows)}).Info("processed meter export")
		readings = append(readings, rows...)
	}
	return toSeries(readings)
}

func (r *Reader) readFile(path string) ([]Reading, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f, r.loc)
}

// Parse reads one export. The meter pads exports with rows of empty fields;
// parsing stops at the first one.
func Parse(in io.Reader, loc *time.Location) ([]Reading, error) {
	cr := csv.NewReader(in)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, err
	}
	idx := make(map[string]int, len(requiredColumns))
	for i, name := range header {
		idx[strings.TrimSpace(name)] = i
	}
	for _, name := range requiredColumns {
		if _, ok := idx[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}

	var out []Reading
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if isEmpty(row) {
			break
		}
		line, _ := cr.FieldPos(0)
		reading, err := parseRow(row, idx, loc)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, reading)
	}
	return out, nil
}

func parseRow(row []string, idx map[string]int, loc *time.Location) (Reading, error) {
	field := func(name string) (string, error) {
		i := idx[name]
		if i >= len(row) {
			return "", fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
		return strings.TrimSpace(row[i]), nil
	}

	date, err := field("Date")
	if err != nil {
		return Reading{}, err
	}
	clock, err := field("Time")
	if err != nil {
		return Reading{}, err
	}
	at, err := parseTimestamp(date, clock, loc)
	if err != nil {
		return Reading{}, err
	}

	irr, err := field("Irr")
	if err != nil {
		return Reading{}, err
	}
	reading := Reading{At: at}
	if !strings.HasPrefix(irr, "<") {
		if reading.Irradiance, err = strconv.ParseFloat(irr, 64); err != nil {
			return Reading{}, fmt.Errorf("irradiance %q: %w", irr, err)
		}
	}

	if reading.Working, err = temperature(field("Tpv")); err != nil {
		return Reading{}, err
	}
	if reading.Ambient, err = temperature(field("Ta")); err != nil {
		return Reading{}, err
	}
	return reading, nil
}

// parseTimestamp reads d.m.yy dates and H:MM[:SS] times.
func parseTimestamp(date, clock string, loc *time.Location) (time.Time, error) {
	dmy := strings.Split(date, ".")
	if len(dmy) != 3 {
		return time.Time{}, fmt.Errorf("date %q", date)
	}
	day, err1 := strconv.Atoi(dmy[0])
	month, err2 := strconv.Atoi(dmy[1])
	year, err3 := strconv.Atoi(dmy[2])
	if err := errors.Join(err1, err2, err3); err != nil {
		return time.Time{}, fmt.Errorf("date %q: %w", date, err)
	}
	if year < 100 {
		year += 2000
	}

	hms := strings.Split(clock, ":")
	if len(hms) < 2 {
		return time.Time{}, fmt.Errorf("time %q", clock)
	}
	hour, err1 := strconv.Atoi(hms[0])
	minute, err2 := strconv.Atoi(hms[1])
	if err := errors.Join(err1, err2); err != nil {
		return time.Time{}, fmt.Errorf("time %q: %w", clock, err)
	}
	return time.Date(year, time.Month(month), day, hour, minute, 0, 0, loc), nil
}

func temperature(raw string, err error) (*float64, error) {
	if err != nil {
		return nil, err
	}
	if raw == "" || strings.EqualFold(raw, "ERR") {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("temperature %q: %w", raw, err)
	}
	return &v, nil
}

func isEmpty(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func toSeries(readings []Reading) ([]series.Series, error) {
	measured := make([]series.Sample, 0, len(readings))
	working := make([]series.Sample, 0, len(readings))
	ambient := make([]series.Sample, 0, len(readings))
	for _, r := range readings {
		measured = append(measured, series.Reading(r.At, r.Irradiance))
		working = append(working, optional(r.At, r.Working))
		ambient = append(ambient, optional(r.At, r.Ambient))
	}

	out := make([]series.Series, 0, 3)
	for _, item := range []struct {
		name    string
		samples []series.Sample
	}{
		{historyapp.SunMeasured, measured},
		{historyapp.SunWorking, working},
		{historyapp.SunAmbient, ambient},
	} {
		s, err := series.New(item.name, series.Gauge, item.samples)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func optional(at time.Time, v *float64) series.Sample {
	if v == nil {
		return series.Missing(at)
	}
	return series.Reading(at, *v)
}
