package application

import (
	"context"
	"errors"
	"time"

	"pvhistory/internal/history/domain/record"
	"pvhistory/internal/history/domain/series"
)

const (
	dailyLead  = time.Hour
	recentSpan = 120 * time.Minute
)

// DailyHistoryJob backfills the midnight counter totals between Start and
// Stop inclusive. HistoryFix, when set, applies the one-day shift for
// devices whose history is offset before that date.
type DailyHistoryJob struct {
	Start      time.Time
	Stop       time.Time
	HistoryFix time.Time
}

// DailyHistory fetches the whole range in one window and emits
// `production,_inverter=<name> midnight=<Wh>i` per day plus the site total
// for days where every device reported.
func (s *Service) DailyHistory(ctx context.Context, job DailyHistoryJob) JobReport {
	report := JobReport{Name: JobDailyHistory, Started: s.clock.Now()}
	if s.driver == nil {
		report.Err = ErrNoDevices
		report.Finished = s.clock.Now()
		return report
	}
	start, stop := s.localDay(job.Start), s.nextDay(s.localDay(job.Stop))
	if job.Start.IsZero() || !start.Before(stop) {
		report.Err = errors.New("history daily: invalid range")
		report.Finished = s.clock.Now()
		return report
	}
	aligner, err := s.aligner(series.PeriodToday)
	if err != nil {
		report.Err = err
		report.Finished = s.clock.Now()
		return report
	}

	started := s.clock.Now()
	col, err := s.driver.Collect(ctx, series.PeriodToday, start.Add(-dailyLead), stop)
	if err != nil {
		report.Err = err
		report.Finished = s.clock.Now()
		return report
	}

	var records []record.Record
	w, err := series.NewWindow(start, s.clip(stop))
	if err != nil {
		report.Err = err
		report.Finished = s.clock.Now()
		return report
	}
	window := s.newWindowReport(JobDailyHistory, series.PeriodToday, w, col)
	window.Issues = append(window.Issues, missingIssues(col, w.Start)...)

	prepared, issues := prepare(col.Series, aligner, w, job.HistoryFix)
	window.Issues = append(window.Issues, issues...)
	points := s.merger.MergePoints(prepared)
	window.Merged = len(prepared)
	if issue := partialIssue(points, w.Start); issue != nil {
		window.Issues = append(window.Issues, issue)
	} else {
		window.Complete = window.Merged == window.Expected
	}
	records = record.EmitPoints(record.MeasurementProduction, record.FieldMidnight, series.Counter, points)
	window.Records = len(records)
	s.finishWindow(JobDailyHistory, window, started)
	report.Windows = append(report.Windows, window)

	s.finishJob(ctx, &report, records)
	return report
}

// FineHistoryJob backfills five-minute counter totals day by day from Start
// through today. Recent only refreshes the last two hours.
type FineHistoryJob struct {
	Start  time.Time
	Recent bool
}

// FineHistory emits `production,_inverter=<name> total_wh=<Wh>i` per fine
// bucket. Each day is fetched with one leading bucket so a missing first
// value can be forward filled, and runs up to the next local midnight.
func (s *Service) FineHistory(ctx context.Context, job FineHistoryJob) JobReport {
	report := JobReport{Name: JobFineHistory, Started: s.clock.Now()}
	if s.driver == nil {
		report.Err = ErrNoDevices
		report.Finished = s.clock.Now()
		return report
	}
	aligner, err := s.aligner(series.PeriodFine)
	if err != nil {
		report.Err = err
		report.Finished = s.clock.Now()
		return report
	}

	now := s.clock.Now()
	end := s.nextDay(s.localDay(now))
	day := s.localDay(job.Start)
	if job.Recent {
		day = s.localDay(now)
	} else if job.Start.IsZero() {
		report.Err = errors.New("history fine: missing start")
		report.Finished = s.clock.Now()
		return report
	}

	var records []record.Record
	for ; day.Before(end); day = s.nextDay(day) {
		emitFrom := day
		fetchStart := day.Add(-aligner.Bucketing().Interval())
		if job.Recent {
			fetchStart = now.Add(-recentSpan)
			if emitFrom, err = aligner.Align(fetchStart); err != nil {
				report.Err = err
				break
			}
		}
		fetchStop := s.nextDay(day)

		recs, window, err := s.fineWindow(ctx, aligner, fetchStart, fetchStop, emitFrom)
		if err != nil {
			report.Err = err
			break
		}
		records = append(records, recs...)
		report.Windows = append(report.Windows, window)
		if job.Recent {
			break
		}
	}
	s.finishJob(ctx, &report, records)
	return report
}

func (s *Service) fineWindow(ctx context.Context, aligner series.Aligner, fetchStart, fetchStop, emitFrom time.Time) ([]record.Record, WindowReport, error) {
	started := s.clock.Now()
	col, err := s.driver.Collect(ctx, series.PeriodFine, fetchStart, fetchStop)
	if err != nil {
		return nil, WindowReport{}, err
	}
	first, err := aligner.Align(fetchStart)
	if err != nil {
		return nil, WindowReport{}, err
	}
	w, err := series.NewWindow(first, s.clip(fetchStop))
	if err != nil {
		return nil, WindowReport{}, err
	}
	report := s.newWindowReport(JobFineHistory, series.PeriodFine, series.Window{Start: emitFrom, Stop: w.Stop}, col)
	report.Issues = append(report.Issues, missingIssues(col, emitFrom)...)

	filled, issues := prepare(col.Series, aligner, w, time.Time{})
	report.Issues = append(report.Issues, issues...)
	prepared := make([]series.Series, 0, len(filled))
	for _, f := range filled {
		prepared = append(prepared, series.DropBaseline(f))
	}

	var points []series.MergedPoint
	for _, p := range s.merger.MergePoints(prepared) {
		if !p.At.Before(emitFrom) {
			points = append(points, p)
		}
	}
	report.Merged = len(prepared)
	if issue := partialIssue(points, emitFrom); issue != nil {
		report.Issues = append(report.Issues, issue)
	} else {
		report.Complete = report.Merged == report.Expected
	}
	records := record.EmitPoints(record.MeasurementProduction, record.FieldTotalWh, series.Counter, points)
	report.Records = len(records)
	s.finishWindow(JobFineHistory, report, started)
	return records, report, nil
}

// partialIssue returns a partial-window issue for the first merged point
// without a site total, or nil when the strict join held everywhere.
func partialIssue(points []series.MergedPoint, at time.Time) *series.Issue {
	if len(points) == 0 {
		return &series.Issue{Kind: series.IssuePartialWindow, Device: series.SiteDevice, At: at, Err: series.ErrPartialWindow}
	}
	for _, p := range points {
		if !p.HasSite {
			return &series.Issue{Kind: series.IssuePartialWindow, Device: series.SiteDevice, At: p.At, Err: series.ErrPartialWindow}
		}
	}
	return nil
}
