package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"pvhistory/internal/history/application"
	"pvhistory/internal/history/domain/series"
)

const (
	metricPrefix = "pvhistory_"

	resultComplete   = "complete"
	resultIncomplete = "incomplete"

	resultSuccess = "success"
	resultError   = "error"
)

// Metrics records backfill runs. It implements application.Observer.
type Metrics struct {
	registry *prometheus.Registry

	windowTotal     *prometheus.CounterVec
	windowLatency   *prometheus.HistogramVec
	devicesMerged   *prometheus.GaugeVec
	devicesExpected *prometheus.GaugeVec
	issuesTotal     *prometheus.CounterVec
	writeTotal      *prometheus.CounterVec
	recordsWritten  *prometheus.CounterVec

	jobsTotal      *prometheus.CounterVec
	runDuration    prometheus.Histogram
	lastRun        prometheus.Gauge
	lastRecords    prometheus.Gauge
	lastIncomplete prometheus.Gauge
}

var _ application.Observer = (*Metrics)(nil)

// New builds the metrics on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		windowTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "window_total",
				Help: "Total reconciled windows by job, period and result",
			},
			[]string{"job", "period", "result"},
		),
		windowLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "window_latency_seconds",
				Help:    "Window reconciliation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"job", "period"},
		),
		devicesMerged: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "window_devices_merged",
				Help: "Devices merged in the last window of a job",
			},
			[]string{"job"},
		),
		devicesExpected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "window_devices_expected",
				Help: "Devices expected in the last window of a job",
			},
			[]string{"job"},
		),
		issuesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "issues_total",
				Help: "Total data-integrity issues by job and kind",
			},
			[]string{"job", "kind"},
		),
		writeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "store_writes_total",
				Help: "Total store writes by store and result",
			},
			[]string{"store", "result"},
		),
		recordsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "records_written_total",
				Help: "Total records written by store",
			},
			[]string{"store"},
		),
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "jobs_total",
				Help: "Total jobs by name and status",
			},
			[]string{"job", "status"},
		),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "run_duration_seconds",
			Help:    "Backfill run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		}),
		lastRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "last_run_records",
			Help: "Records written by the last run",
		}),
		lastIncomplete: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "last_run_incomplete_windows",
			Help: "Incomplete windows in the last run",
		}),
	}
	m.registry.MustRegister(
		m.windowTotal,
		m.windowLatency,
		m.devicesMerged,
		m.devicesExpected,
		m.issuesTotal,
		m.writeTotal,
		m.recordsWritten,
		m.jobsTotal,
		m.runDuration,
		m.lastRun,
		m.lastRecords,
		m.lastIncomplete,
	)
	return m
}

// Gatherer exposes the registry.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.registry }

// ObserveWindow records one reconciled window.
func (m *Metrics) ObserveWindow(job string, period series.Period, report application.WindowReport, duration time.Duration) {
	result := resultComplete
	if !report.Complete {
		result = resultIncomplete
	}
	m.windowTotal.WithLabelValues(job, string(period), result).Inc()
	m.windowLatency.WithLabelValues(job, string(period)).Observe(duration.Seconds())
	m.devicesMerged.WithLabelValues(job).Set(float64(report.Merged))
	m.devicesExpected.WithLabelValues(job).Set(float64(report.Expected))
	for _, issue := range report.Issues {
		m.issuesTotal.WithLabelValues(job, string(issue.Kind)).Inc()
	}
}

// ObserveWrite records one store write.
func (m *Metrics) ObserveWrite(store string, records int, err error) {
	if store == "" {
		store = "unknown"
	}
	if err != nil {
		m.writeTotal.WithLabelValues(store, resultError).Inc()
		return
	}
	m.writeTotal.WithLabelValues(store, resultSuccess).Inc()
	m.recordsWritten.WithLabelValues(store).Add(float64(records))
}

// ObserveRun records the outcome of a whole run.
func (m *Metrics) ObserveRun(summary application.RunSummary) {
	for _, job := range summary.Jobs {
		status := resultSuccess
		switch {
		case job.Err != nil:
			status = resultError
		case len(job.Incomplete()) > 0:
			status = resultIncomplete
		}
		m.jobsTotal.WithLabelValues(job.Name, status).Inc()
	}
	if !summary.Finished.IsZero() {
		m.runDuration.Observe(summary.Finished.Sub(summary.Started).Seconds())
		m.lastRun.Set(float64(summary.Finished.Unix()))
	}
	m.lastRecords.Set(float64(summary.Records()))
	m.lastIncomplete.Set(float64(len(summary.Incomplete())))
}

// WriteTextfile writes the metrics in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

// Handler returns the /metrics handler, wrapped by guard when set.
func (m *Metrics) Handler(guard func(http.Handler) http.Handler) http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	if guard != nil {
		return guard(h)
	}
	return h
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, guard func(http.Handler) http.Handler, logger logrus.FieldLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler(guard))
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.WithField("addr", ln.Addr().String()).Info("metrics listening")
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
