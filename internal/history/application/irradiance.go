package application

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"pvhistory/internal/history/domain/record"
)

// Irradiance measurement types, used as the `_type` tag.
const (
	SunMeasured = "measured"
	SunWorking  = "working"
	SunAmbient  = "ambient"
)

// Irradiance emits measured irradiance and panel/ambient temperatures from
// an external meter. Absent readings are skipped.
func (s *Service) Irradiance(ctx context.Context, source IrradianceSource) JobReport {
	report := JobReport{Name: JobIrradiance, Started: s.clock.Now()}
	if source == nil {
		report.Err = errors.New("history irradiance: nil source")
		report.Finished = s.clock.Now()
		return report
	}
	all, err := source.Read(ctx)
	if err != nil {
		report.Err = err
		report.Finished = s.clock.Now()
		return report
	}

	var records []record.Record
	for _, readings := range all {
		field := record.FieldTemperature
		if readings.Device == SunMeasured {
			field = record.FieldIrradiance
		}
		tags := map[string]string{record.TagType: readings.Device}
		records = append(records, record.EmitGauge(record.MeasurementSun, tags, field, readings)...)
	}
	s.logger.WithFields(logrus.Fields{"job": JobIrradiance, "series": len(all), "records": len(records)}).Info("irradiance readings parsed")
	s.finishJob(ctx, &report, records)
	return report
}

// Patch is a configured one-off correction.
type Patch struct {
	Measurement string
	Inverter    string
	Field       string
	Value       string
	At          time.Time
}

// Patches writes configured one-off records. Values that are neither an
// integer nor a float are logged and skipped.
func (s *Service) Patches(ctx context.Context, patches []Patch) JobReport {
	report := JobReport{Name: JobPatches, Started: s.clock.Now()}
	records := make([]record.Record, 0, len(patches))
	for _, p := range patches {
		tags := map[string]string{}
		if p.Inverter != "" {
			tags[record.TagInverter] = p.Inverter
		}
		rec, err := record.Patch(p.Measurement, tags, p.Field, p.Value, p.At)
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"job":         JobPatches,
				"measurement": p.Measurement,
				"field":       p.Field,
			}).WithError(err).Error("skipping patch")
			continue
		}
		records = append(records, rec)
	}
	s.finishJob(ctx, &report, records)
	return report
}
