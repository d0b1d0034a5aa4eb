package record

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pvhistory/internal/history/domain/series"
)

// Measurement, tag and field names shared by the jobs.
const (
	MeasurementProduction = "production"
	MeasurementSun        = "sun"

	TagInverter = "_inverter"
	TagType     = "_type"

	FieldMidnight    = "midnight"
	FieldTotalWh     = "total_wh"
	FieldIrradiance  = "irradiance"
	FieldTemperature = "temperature"
)

// EmitPoints converts merged points into one record per device and bucket,
// plus a site record where the strict join produced a total.
func EmitPoints(measurement, field string, kind series.Kind, points []series.MergedPoint) []Record {
	var out []Record
	for _, p := range points {
		devices := make([]string, 0, len(p.PerDevice))
		for name := range p.PerDevice {
			devices = append(devices, name)
		}
		sort.Strings(devices)
		for _, name := range devices {
			out = append(out, newRecord(measurement, inverterTags(name), field, kind, p.PerDevice[name], p.At))
		}
		if p.HasSite {
			out = append(out, newRecord(measurement, inverterTags(series.SiteDevice), field, kind, p.SiteTotal, p.At))
		}
	}
	return out
}

// EmitDeltas converts the valid deltas of a set into integer records stamped
// at the given time. Devices without a delta are skipped.
func EmitDeltas(measurement, field string, set series.DeltaSet, at time.Time) []Record {
	var out []Record
	for _, r := range set.Results {
		if r.Valid {
			out = append(out, newRecord(measurement, inverterTags(r.Device), field, series.Counter, r.Produced, at))
		}
	}
	if set.Site.Valid {
		out = append(out, newRecord(measurement, inverterTags(series.SiteDevice), field, series.Counter, set.Site.Produced, at))
	}
	return out
}

// EmitGauge converts every valid sample of a gauge series into a float
// record with the given tags.
func EmitGauge(measurement string, tags map[string]string, field string, s series.Series) []Record {
	out := make([]Record, 0, len(s.Samples))
	for _, sample := range s.Samples {
		if !sample.Valid {
			continue
		}
		out = append(out, newRecord(measurement, tags, field, series.Gauge, sample.Value, sample.At))
	}
	return out
}

// Patch builds a one-off record from a configured value. Values that parse
// as integers are stored as integers, anything else as floats.
func Patch(measurement string, tags map[string]string, field, value string, at time.Time) (Record, error) {
	rec := Record{Measurement: measurement, Tags: copyTags(tags), Field: field, At: at}
	value = strings.TrimSpace(value)
	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		rec.Value, rec.Kind = float64(i), Integer
	} else if f, err := strconv.ParseFloat(value, 64); err == nil {
		rec.Value, rec.Kind = f, Float
	} else {
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidValue, value)
	}
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func newRecord(measurement string, tags map[string]string, field string, kind series.Kind, value float64, at time.Time) Record {
	rec := Record{Measurement: measurement, Tags: copyTags(tags), Field: field, Value: value, At: at}
	if kind == series.Counter {
		rec.Kind = Integer
		return rec
	}
	rec.Kind = Float
	rec.Value = RoundTenth(value)
	return rec
}

// RoundTenth rounds half away from zero to one decimal place.
func RoundTenth(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(1).Float64()
	return f
}

func inverterTags(device string) map[string]string {
	return map[string]string{TagInverter: device}
}

func copyTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
