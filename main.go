package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"

	"pvhistory/internal/auth"
	"pvhistory/internal/config"
	"pvhistory/internal/history/adapters/inverter"
	"pvhistory/internal/history/application"
	"pvhistory/internal/history/infrastructure/influx"
	"pvhistory/internal/history/infrastructure/memory"
	"pvhistory/internal/history/infrastructure/postgres"
	"pvhistory/internal/history/infrastructure/seaward"
	"pvhistory/internal/history/interfaces"
	"pvhistory/internal/logging"
	"pvhistory/internal/notify"
	"pvhistory/internal/observability/metrics"
	"pvhistory/internal/smaadapter"
)

const defaultGroup = "user"

func main() {
	configPath := flag.String("config", "", "Path to configuration file (default $PVHISTORY_CONFIG or pvhistory.yaml)")
	envPath := flag.String("env", ".env", "Path to dotenv file")
	flag.Parse()

	if err := config.LoadEnv(*envPath); err != nil {
		logrus.WithError(err).Warn("error loading .env file")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("config error")
	}

	logger, closer, err := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Console:    cfg.Logging.Console,
	})
	if err != nil {
		logrus.WithError(err).Fatal("logging error")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, cfg, logger)
	stop()
	_ = closer.Close()
	os.Exit(code)
}

func run(ctx context.Context, cfg config.Config, logger *logrus.Logger) int {
	loc, err := cfg.Location()
	if err != nil {
		logger.WithError(err).Error("config error")
		return 1
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.WithError(err).Error("store error")
		return 1
	}
	defer st.close()

	m := metrics.New()
	if cfg.Metrics.Listen != "" {
		var guard func(http.Handler) http.Handler
		if cfg.Metrics.JWTSecret != "" {
			guard = auth.NewMiddleware([]byte(cfg.Metrics.JWTSecret), auth.ScopeMetrics).Wrap
		}
		serveCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := m.Serve(serveCtx, cfg.Metrics.Listen, guard, logger); err != nil {
				logger.WithError(err).Error("metrics server error")
			}
		}()
	}

	var driver *application.Driver
	if cfg.NeedsInverters() {
		driver, err = newDriver(cfg, logger)
		if err != nil {
			logger.WithError(err).Error("inverter setup error")
			return 1
		}
	}

	svc, err := application.NewService(driver, st.store, loc,
		application.WithLogger(logger),
		application.WithObserver(m),
		application.WithStoreName(st.name),
		application.WithFineInterval(cfg.Jobs.FineHistory.Interval),
	)
	if err != nil {
		logger.WithError(err).Error("service setup error")
		return 1
	}

	plan, err := buildPlan(cfg, loc, time.Now(), logger)
	if err != nil {
		logger.WithError(err).Error("plan error")
		return 1
	}

	summary, runErr := svc.Run(ctx, plan)
	m.ObserveRun(summary)
	entry := logger.WithFields(logrus.Fields{
		"run_id":     summary.RunID,
		"records":    summary.Records(),
		"incomplete": len(summary.Incomplete()),
	})
	if runErr != nil {
		entry.WithError(runErr).Error("backfill failed")
	} else {
		entry.Info("backfill finished")
	}

	if st.runs != nil {
		if err := st.runs.Save(context.WithoutCancel(ctx), summary); err != nil {
			logger.WithError(err).Error("run ledger error")
		}
	}

	var reports []string
	if cfg.Report.Dir != "" {
		if reports, err = interfaces.WriteReports(cfg.Report.Dir, cfg.Site.Name, summary, cfg.Report.Formats); err != nil {
			logger.WithError(err).Error("report export error")
		}
	}
	if cfg.Metrics.Textfile != "" {
		if err := m.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logger.WithError(err).Error("metrics textfile error")
		}
	}
	if cfg.Notify.WebhookURL != "" {
		if msg, ok := notify.FromSummary(cfg.Site.Name, summary, reports); ok {
			notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Notify.Timeout)
			if err := notify.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.Timeout).Notify(notifyCtx, msg); err != nil {
				logger.WithError(err).Warn("notify error")
			}
			cancel()
		}
	}

	if runErr != nil {
		return 1
	}
	return 0
}

// storage bundles the record store with the optional run ledger.
type storage struct {
	store application.Store
	name  string
	runs  *postgres.RunRepository
	close func()
}

func openStore(ctx context.Context, cfg config.Config) (storage, error) {
	noop := func() {}
	switch cfg.Store.Kind {
	case config.StoreMemory:
		return storage{store: memory.NewRecordStore(), name: config.StoreMemory, close: noop}, nil
	case config.StorePostgres:
		db, err := sql.Open("pgx", cfg.Store.Postgres.DSN)
		if err != nil {
			return storage{}, fmt.Errorf("db open: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return storage{}, fmt.Errorf("db ping: %w", err)
		}
		store := postgres.NewRecordStore(db, postgres.WithTable(cfg.Store.Postgres.Table))
		if err := store.EnsureSchema(ctx); err != nil {
			db.Close()
			return storage{}, err
		}
		runs := postgres.NewRunRepository(db)
		if err := runs.EnsureSchema(ctx); err != nil {
			db.Close()
			return storage{}, err
		}
		return storage{store: store, name: config.StorePostgres, runs: runs, close: func() { db.Close() }}, nil
	default:
		var opts []influx.WriterOption
		if cfg.Store.Influx.BatchSize > 0 {
			opts = append(opts, influx.WithBatchSize(cfg.Store.Influx.BatchSize))
		}
		writer, err := influx.NewWriter(cfg.Store.Influx.URL, cfg.Store.Influx.Org, cfg.Store.Influx.Bucket, cfg.Store.Influx.Token, opts...)
		if err != nil {
			return storage{}, err
		}
		return storage{store: writer, name: config.StoreInflux, close: writer.Close}, nil
	}
}

func newDriver(cfg config.Config, logger logrus.FieldLogger) (*application.Driver, error) {
	devices := make([]application.Device, 0, len(cfg.Inverters))
	for _, inv := range cfg.Inverters {
		var opts []smaadapter.ClientOption
		if !inv.VerifyTLS {
			opts = append(opts, smaadapter.WithInsecureTLS())
		}
		if inv.RateLimit > 0 {
			opts = append(opts, smaadapter.WithRateLimit(inv.RateLimit, 1))
		}
		client, err := smaadapter.NewClient(inv.URL, opts...)
		if err != nil {
			return nil, fmt.Errorf("inverter %s: %w", inv.Name, err)
		}
		group := inv.Group
		if group == "" {
			group = defaultGroup
		}
		dev, err := inverter.NewDevice(inv.Name, group, inv.Password, client)
		if err != nil {
			return nil, fmt.Errorf("inverter %s: %w", inv.Name, err)
		}
		devices = append(devices, dev)
	}
	return application.NewDriver(devices,
		application.WithConcurrency(cfg.Concurrency),
		application.WithRetry(application.RetryPolicy{Attempts: cfg.Retry.Attempts, Backoff: cfg.Retry.Backoff}),
		application.WithDriverLogger(logger),
	)
}

func buildPlan(cfg config.Config, loc *time.Location, now time.Time, logger logrus.FieldLogger) (application.Plan, error) {
	var plan application.Plan
	jobs := cfg.Jobs

	if jobs.Production.Enable {
		start, stop, err := jobs.Production.Range(loc, now)
		if err != nil {
			return plan, fmt.Errorf("production: %w", err)
		}
		periods, err := jobs.Production.ParsePeriods()
		if err != nil {
			return plan, fmt.Errorf("production: %w", err)
		}
		plan.Production = &application.ProductionJob{Start: start, Stop: stop, Periods: periods}
	}
	if jobs.Seaward.Enable {
		reader, err := seaward.NewReader(jobs.Seaward.Path, loc, logger)
		if err != nil {
			return plan, fmt.Errorf("seaward: %w", err)
		}
		plan.Irradiance = reader
	}
	if jobs.DailyHistory.Enable {
		start, stop, err := jobs.DailyHistory.Range(loc, now)
		if err != nil {
			return plan, fmt.Errorf("daily_history: %w", err)
		}
		job := &application.DailyHistoryJob{Start: start, Stop: stop}
		if jobs.DailyHistory.HistoryFix != "" {
			if job.HistoryFix, err = config.ParseTime(jobs.DailyHistory.HistoryFix, loc); err != nil {
				return plan, fmt.Errorf("daily_history: %w", err)
			}
		}
		plan.DailyHistory = job
	}
	if jobs.FineHistory.Enable {
		job := &application.FineHistoryJob{Recent: jobs.FineHistory.Recent()}
		if !job.Recent {
			start, err := config.ParseTime(jobs.FineHistory.Start, loc)
			if err != nil {
				return plan, fmt.Errorf("fine_history: %w", err)
			}
			job.Start = start
		}
		plan.FineHistory = job
	}
	for _, p := range jobs.Patches {
		at, err := config.ParseTime(p.Time, loc)
		if err != nil {
			return plan, fmt.Errorf("patch: %w", err)
		}
		plan.Patches = append(plan.Patches, application.Patch{
			Measurement: p.Measurement,
			Inverter:    p.Inverter,
			Field:       p.Field,
			Value:       p.Value,
			At:          at,
		})
	}
	return plan, nil
}
