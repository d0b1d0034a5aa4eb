package application

import (
	"context"
	"errors"
	"time"

	"pvhistory/internal/history/domain/record"
	"pvhistory/internal/history/domain/series"
)

// productionTail extends each fetch past the period end so the closing
// midnight total is included. Fetches also start dailyLead early to catch an
// opening total stamped late the evening before.
const productionTail = 2 * time.Hour

// ProductionJob derives per-period production from cumulative daily totals.
type ProductionJob struct {
	Start   time.Time
	Stop    time.Time
	Periods []series.Period
}

func (j ProductionJob) periods() []series.Period {
	if len(j.Periods) == 0 {
		return []series.Period{series.PeriodToday, series.PeriodMonth, series.PeriodYear}
	}
	return j.Periods
}

// Production emits `production,_inverter=<name> <period>=<Wh>i` for every
// day, month and year between Start and Stop inclusive, stamped at the
// period start. The site value is only written for complete windows.
func (s *Service) Production(ctx context.Context, job ProductionJob) JobReport {
	report := JobReport{Name: JobProduction, Started: s.clock.Now()}
	if s.driver == nil {
		report.Err = ErrNoDevices
		report.Finished = s.clock.Now()
		return report
	}
	if job.Start.IsZero() || job.Stop.Before(job.Start) {
		report.Err = errors.New("history production: invalid range")
		report.Finished = s.clock.Now()
		return report
	}

	dayAligner, err := s.aligner(series.PeriodToday)
	if err != nil {
		report.Err = err
		report.Finished = s.clock.Now()
		return report
	}

	var records []record.Record
	for _, period := range job.periods() {
		if period == series.PeriodFine || !period.IsValid() {
			report.Err = series.ErrInvalidPeriod
			break
		}
		windows, err := periodWindows(period, s.loc, job.Start, job.Stop)
		if err != nil {
			report.Err = err
			break
		}
		s.logger.WithField("period", string(period)).Infof("populating production for %d windows", len(windows))
		for _, w := range windows {
			recs, window, err := s.productionWindow(ctx, period, dayAligner, w)
			if err != nil {
				report.Err = err
				break
			}
			records = append(records, recs...)
			report.Windows = append(report.Windows, window)
		}
		if report.Err != nil {
			break
		}
	}
	s.finishJob(ctx, &report, records)
	return report
}

func (s *Service) productionWindow(ctx context.Context, period series.Period, aligner series.Aligner, w series.Window) ([]record.Record, WindowReport, error) {
	started := s.clock.Now()
	col, err := s.driver.Collect(ctx, series.PeriodToday, w.Start.Add(-dailyLead), w.Stop.Add(productionTail))
	if err != nil {
		return nil, WindowReport{}, err
	}
	report := s.newWindowReport(JobProduction, period, w, col)
	report.Issues = append(report.Issues, missingIssues(col, w.Start)...)

	// Buckets run from the period start through the closing midnight.
	fillWindow := series.Window{Start: w.Start, Stop: w.Stop.Add(time.Second)}
	prepared, issues := prepare(col.Series, aligner, fillWindow, time.Time{})
	report.Issues = appendDeviceIssues(report.Issues, issues)

	set := s.merger.Deltas(prepared)
	report.Issues = appendDeviceIssues(report.Issues, set.Issues())
	report.Merged = set.Merged()
	report.Complete = set.Complete()

	records := record.EmitDeltas(record.MeasurementProduction, string(period), set, w.Start)
	report.Records = len(records)
	s.finishWindow(JobProduction, report, started)
	return records, report, nil
}

// periodWindows lists [period start, next period start) for every period
// touching [start, stop], in ascending order.
func periodWindows(period series.Period, loc *time.Location, start, stop time.Time) ([]series.Window, error) {
	b, err := series.NewBucketing(period, loc, 0)
	if err != nil {
		return nil, err
	}
	first, err := b.Start(start)
	if err != nil {
		return nil, err
	}
	last, err := b.Start(stop)
	if err != nil {
		return nil, err
	}
	var out []series.Window
	for cur := first; !cur.After(last); {
		next, err := b.Next(cur)
		if err != nil {
			return nil, err
		}
		out = append(out, series.Window{Start: cur, Stop: next})
		cur = next
	}
	return out, nil
}
