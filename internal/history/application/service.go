package application

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"pvhistory/internal/history/domain/record"
	"pvhistory/internal/history/domain/series"
)

// Job names used in reports, logs and metrics.
const (
	JobProduction   = "production"
	JobDailyHistory = "daily_history"
	JobFineHistory  = "fine_history"
	JobIrradiance   = "irradiance"
	JobPatches      = "patches"
)

// ErrNoDevices is returned by jobs that need inverters when none are configured.
var ErrNoDevices = errors.New("history: no devices configured")

// Service runs the backfill jobs. Windows are processed one at a time in
// ascending order and each job writes its records to the store once.
type Service struct {
	driver       *Driver
	merger       *series.Merger
	store        Store
	storeName    string
	loc          *time.Location
	days         series.Bucketing
	fineInterval time.Duration
	clock        Clock
	logger       logrus.FieldLogger
	observer     Observer
}

// ServiceOption configures the service.
type ServiceOption func(*Service)

// WithClock overrides the clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger logrus.FieldLogger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver sets the metrics observer.
func WithObserver(observer Observer) ServiceOption {
	return func(s *Service) {
		if observer != nil {
			s.observer = observer
		}
	}
}

// WithFineInterval overrides the fine history bucket width.
func WithFineInterval(interval time.Duration) ServiceOption {
	return func(s *Service) {
		if interval > 0 {
			s.fineInterval = interval
		}
	}
}

// WithStoreName labels store writes in metrics and logs.
func WithStoreName(name string) ServiceOption {
	return func(s *Service) {
		if name != "" {
			s.storeName = name
		}
	}
}

// NewService constructs a Service. driver may be nil when only jobs without
// inverters (irradiance, patches) are run.
func NewService(driver *Driver, store Store, loc *time.Location, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("history service: nil store")
	}
	days, err := series.NewBucketing(series.PeriodToday, loc, 0)
	if err != nil {
		return nil, err
	}
	s := &Service{
		driver:       driver,
		store:        store,
		storeName:    "store",
		loc:          loc,
		days:         days,
		fineInterval: series.DefaultFineInterval,
		clock:        SystemClock{},
		logger:       logrus.StandardLogger(),
		observer:     noopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if driver != nil {
		merger, err := series.NewMerger(driver.Names())
		if err != nil {
			return nil, err
		}
		s.merger = merger
	}
	return s, nil
}

func (s *Service) aligner(period series.Period) (series.Aligner, error) {
	b, err := series.NewBucketing(period, s.loc, s.fineInterval)
	if err != nil {
		return series.Aligner{}, err
	}
	return series.NewAligner(b)
}

// prepare aligns, optionally patches and gap fills the raw series of one
// window. Devices that cannot be filled are left out and reported.
func prepare(raw []series.Series, aligner series.Aligner, w series.Window, historyFix time.Time) ([]series.Series, []*series.Issue) {
	var issues []*series.Issue
	out := make([]series.Series, 0, len(raw))
	for _, s := range raw {
		aligned, alignIssues := aligner.AlignSeries(s)
		issues = append(issues, alignIssues...)
		if !historyFix.IsZero() {
			fixed, fixIssues := aligner.ApplyHistoryFix(aligned, historyFix)
			issues = append(issues, fixIssues...)
			aligned = fixed
		}
		filled, err := series.Fill(aligned, w, aligner.Bucketing())
		if err != nil {
			var issue *series.Issue
			if errors.As(err, &issue) {
				issues = append(issues, issue)
			} else {
				issues = append(issues, &series.Issue{Kind: series.IssueNoData, Device: s.Device, Err: err})
			}
			continue
		}
		out = append(out, filled)
	}
	return out, issues
}

func (s *Service) newWindowReport(job string, period series.Period, w series.Window, col Collection) WindowReport {
	report := WindowReport{
		Job:         job,
		Period:      period,
		Start:       w.Start,
		Stop:        w.Stop,
		Expected:    len(s.driver.Names()),
		Attempts:    col.Attempts,
		Unavailable: col.Unavailable,
	}
	return report
}

// appendDeviceIssues appends src to dst, skipping no-data issues for devices
// dst already reports as missing.
func appendDeviceIssues(dst, src []*series.Issue) []*series.Issue {
	missing := make(map[string]bool, len(dst))
	for _, issue := range dst {
		if issue.Kind == series.IssueNoData {
			missing[issue.Device] = true
		}
	}
	for _, issue := range src {
		if issue.Kind == series.IssueNoData && missing[issue.Device] {
			continue
		}
		dst = append(dst, issue)
	}
	return dst
}

// missingIssues reports devices that did not contribute a series.
func missingIssues(col Collection, at time.Time) []*series.Issue {
	var out []*series.Issue
	for _, name := range col.NoData {
		out = append(out, &series.Issue{Kind: series.IssueNoData, Device: name, At: at, Err: series.ErrNoData})
	}
	for _, name := range col.Unavailable {
		out = append(out, &series.Issue{Kind: series.IssueNoData, Device: name, At: at, Err: ErrDeviceUnavailable})
	}
	return out
}

func (s *Service) finishWindow(job string, report WindowReport, started time.Time) {
	s.observer.ObserveWindow(job, report.Period, report, s.clock.Now().Sub(started))
	entry := s.logger.WithFields(logrus.Fields{
		"job":      job,
		"period":   string(report.Period),
		"start":    report.Start.Format(time.RFC3339),
		"merged":   report.Merged,
		"expected": report.Expected,
		"attempts": report.Attempts,
		"records":  report.Records,
	})
	for _, issue := range report.Issues {
		entry.WithField("kind", string(issue.Kind)).Warn(issue.Error())
	}
	if !report.Complete {
		entry.WithField("unavailable", report.Unavailable).Warn("window incomplete, site aggregate withheld")
		return
	}
	entry.Debug("window reconciled")
}

// write stores the job records in one call. Store errors are returned as is.
func (s *Service) write(ctx context.Context, job string, records []record.Record) error {
	if len(records) == 0 {
		s.logger.WithField("job", job).Info("nothing to write")
		return nil
	}
	record.Sort(records)
	err := s.store.Write(ctx, records)
	s.observer.ObserveWrite(s.storeName, len(records), err)
	if err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{"job": job, "store": s.storeName, "records": len(records)}).Info("records written")
	return nil
}

func (s *Service) finishJob(ctx context.Context, report *JobReport, records []record.Record) {
	if report.Err == nil {
		report.Err = s.write(ctx, report.Name, records)
		if report.Err == nil {
			report.Records = len(records)
		}
	}
	report.Finished = s.clock.Now()
}

// clip limits a window stop to the current time so no bucket in the future
// is filled.
func (s *Service) clip(stop time.Time) time.Time {
	now := s.clock.Now()
	if stop.After(now) {
		return now.Add(time.Nanosecond)
	}
	return stop
}

// localDay returns the first instant of t's local day. Day bucketing never
// fails, so the error is dropped.
func (s *Service) localDay(t time.Time) time.Time {
	day, _ := s.days.Start(t)
	return day
}

// nextDay returns the first instant of the local day after day.
func (s *Service) nextDay(day time.Time) time.Time {
	next, _ := s.days.Next(day)
	return next
}
