package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"pvhistory/internal/history/domain/series"
)

// DefaultPath is used when neither a flag nor PVHISTORY_CONFIG names a file.
const DefaultPath = "pvhistory.yaml"

// Store kinds.
const (
	StoreInflux   = "influx"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// FineStartRecent selects the short "last two hours" fine history refresh.
const FineStartRecent = "recent"

// Config defines the backfill configuration.
type Config struct {
	Site        SiteConfig       `yaml:"site"`
	Inverters   []InverterConfig `yaml:"inverters"`
	Store       StoreConfig      `yaml:"store"`
	Jobs        JobsConfig       `yaml:"jobs"`
	Retry       RetryConfig      `yaml:"retry"`
	Concurrency int              `yaml:"concurrency"`
	Logging     LoggingConfig    `yaml:"logging"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Report      ReportConfig     `yaml:"report"`
	Notify      NotifyConfig     `yaml:"notify"`
}

// SiteConfig describes the installation.
type SiteConfig struct {
	Name     string `yaml:"name"`
	Timezone string `yaml:"tz"`
}

// InverterConfig describes one inverter.
type InverterConfig struct {
	Name      string  `yaml:"name"`
	URL       string  `yaml:"url"`
	Group     string  `yaml:"user"`
	Password  string  `yaml:"password"`
	VerifyTLS bool    `yaml:"verify_tls"`
	RateLimit float64 `yaml:"rate_limit"`
}

// StoreConfig selects the record store.
type StoreConfig struct {
	Kind     string         `yaml:"kind"`
	Influx   InfluxConfig   `yaml:"influx"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// InfluxConfig configures the InfluxDB v2 writer.
type InfluxConfig struct {
	URL       string `yaml:"url"`
	Org       string `yaml:"org"`
	Bucket    string `yaml:"bucket"`
	Token     string `yaml:"token"`
	BatchSize int    `yaml:"batch_size"`
}

// PostgresConfig configures the Postgres store.
type PostgresConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// JobsConfig enables and scopes the jobs.
type JobsConfig struct {
	Production   ProductionConfig `yaml:"production"`
	DailyHistory DailyConfig      `yaml:"daily_history"`
	FineHistory  FineConfig       `yaml:"fine_history"`
	Seaward      SeawardConfig    `yaml:"seaward"`
	Patches      []PatchConfig    `yaml:"patches"`
}

// RangeConfig is a job over [start, stop] days. An empty stop means today.
type RangeConfig struct {
	Enable bool   `yaml:"enable"`
	Start  string `yaml:"start"`
	Stop   string `yaml:"stop"`
}

// ProductionConfig configures the production job. Empty periods means
// today, month and year.
type ProductionConfig struct {
	RangeConfig `yaml:",inline"`
	Periods     []string `yaml:"periods"`
}

// ParsePeriods returns the configured calendar periods in order.
func (p ProductionConfig) ParsePeriods() ([]series.Period, error) {
	out := make([]series.Period, 0, len(p.Periods))
	for _, value := range p.Periods {
		period, err := series.ParsePeriod(value)
		if err != nil {
			return nil, err
		}
		if period == series.PeriodFine {
			return nil, fmt.Errorf("%w: fine is not a production period", series.ErrInvalidPeriod)
		}
		out = append(out, period)
	}
	return out, nil
}

// DailyConfig configures the daily history job.
type DailyConfig struct {
	RangeConfig `yaml:",inline"`
	HistoryFix  string `yaml:"history_fix"`
}

// FineConfig configures the fine history job. Start is a date or "recent".
type FineConfig struct {
	Enable   bool          `yaml:"enable"`
	Start    string        `yaml:"start"`
	Interval time.Duration `yaml:"interval"`
}

// SeawardConfig points at a directory of irradiance meter exports.
type SeawardConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

// PatchConfig is a one-off record correction.
type PatchConfig struct {
	Time        string `yaml:"time"`
	Measurement string `yaml:"measurement"`
	Inverter    string `yaml:"inverter"`
	Field       string `yaml:"field"`
	Value       string `yaml:"value"`
}

// RetryConfig bounds per-window retries of unavailable devices.
type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	Backoff  time.Duration `yaml:"backoff"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Console    bool   `yaml:"console"`
}

// MetricsConfig configures run metrics.
type MetricsConfig struct {
	Textfile  string `yaml:"textfile"`
	Listen    string `yaml:"listen"`
	JWTSecret string `yaml:"jwt_secret"`
}

// ReportConfig configures the run report export.
type ReportConfig struct {
	Dir     string   `yaml:"dir"`
	Formats []string `yaml:"formats"`
}

// NotifyConfig configures the incomplete-run webhook.
type NotifyConfig struct {
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Default returns the configuration before the file and environment apply.
func Default() Config {
	return Config{
		Site:        SiteConfig{Timezone: "UTC"},
		Store:       StoreConfig{Kind: StoreInflux, Postgres: PostgresConfig{Table: "pv_history_records"}},
		Retry:       RetryConfig{Attempts: 3, Backoff: 5 * time.Second},
		Concurrency: 4,
		Logging:     LoggingConfig{Level: "info", Format: "text", Output: filepath.FromSlash("log/pvhistory.log"), MaxAgeDays: 30, Console: true},
		Report:      ReportConfig{Formats: []string{"xlsx"}},
		Notify:      NotifyConfig{Timeout: 5 * time.Second},
	}
}

// Load reads the YAML file at path, resolving !secret tags, then applies
// PVHISTORY_* environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = getenvDefault("PVHISTORY_CONFIG", DefaultPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := decode(data, path, &cfg); err != nil {
		return cfg, err
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadEnv loads KEY=value pairs from the given dotenv files (".env" when
// none) without overriding variables already set. Missing files are ignored.
func LoadEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func decode(data []byte, path string, cfg *Config) error {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if root.Kind == 0 {
		return nil
	}
	resolver, err := newSecretResolver(path)
	if err != nil {
		return err
	}
	if err := resolver.resolve(&root); err != nil {
		return err
	}
	if err := root.Decode(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Site.Timezone = getenvDefault("PVHISTORY_TZ", cfg.Site.Timezone)
	cfg.Store.Kind = getenvDefault("PVHISTORY_STORE", cfg.Store.Kind)
	cfg.Store.Influx.URL = getenvDefault("PVHISTORY_INFLUX_URL", cfg.Store.Influx.URL)
	cfg.Store.Influx.Token = getenvDefault("PVHISTORY_INFLUX_TOKEN", cfg.Store.Influx.Token)
	cfg.Store.Influx.Bucket = getenvDefault("PVHISTORY_INFLUX_BUCKET", cfg.Store.Influx.Bucket)
	cfg.Store.Postgres.DSN = getenvDefault("PVHISTORY_POSTGRES_DSN", getenvDefault("DATABASE_URL", cfg.Store.Postgres.DSN))
	cfg.Concurrency = getenvIntDefault("PVHISTORY_CONCURRENCY", cfg.Concurrency)
	cfg.Retry.Attempts = getenvIntDefault("PVHISTORY_RETRY_ATTEMPTS", cfg.Retry.Attempts)
	cfg.Retry.Backoff = getenvDuration("PVHISTORY_RETRY_BACKOFF", cfg.Retry.Backoff)
	cfg.Logging.Level = getenvDefault("PVHISTORY_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getenvDefault("PVHISTORY_LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.Output = getenvDefault("PVHISTORY_LOG_OUTPUT", cfg.Logging.Output)
	cfg.Metrics.Textfile = getenvDefault("PVHISTORY_METRICS_TEXTFILE", cfg.Metrics.Textfile)
	cfg.Metrics.Listen = getenvDefault("PVHISTORY_METRICS_LISTEN", cfg.Metrics.Listen)
	cfg.Metrics.JWTSecret = getenvDefault("PVHISTORY_METRICS_JWT_SECRET", cfg.Metrics.JWTSecret)
	cfg.Report.Dir = getenvDefault("PVHISTORY_REPORT_DIR", cfg.Report.Dir)
	if formats := splitCSV(os.Getenv("PVHISTORY_REPORT_FORMATS")); len(formats) > 0 {
		cfg.Report.Formats = formats
	}
	cfg.Notify.WebhookURL = getenvDefault("PVHISTORY_WEBHOOK_URL", cfg.Notify.WebhookURL)
}

// Validate checks required fields and cross-field rules.
func (c Config) Validate() error {
	loc, err := c.Location()
	if err != nil {
		return err
	}

	switch c.Store.Kind {
	case StoreInflux:
		if c.Store.Influx.URL == "" || c.Store.Influx.Bucket == "" {
			return errors.New("config: influx url and bucket required")
		}
	case StorePostgres:
		if c.Store.Postgres.DSN == "" {
			return errors.New("config: postgres dsn required")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("config: unknown store kind %q", c.Store.Kind)
	}

	seen := make(map[string]struct{}, len(c.Inverters))
	for _, inv := range c.Inverters {
		if inv.Name == "" || inv.URL == "" {
			return errors.New("config: inverter name and url required")
		}
		if inv.Name == "site" {
			return errors.New("config: inverter name 'site' is reserved")
		}
		if _, ok := seen[inv.Name]; ok {
			return fmt.Errorf("config: duplicate inverter %q", inv.Name)
		}
		seen[inv.Name] = struct{}{}
	}
	if c.NeedsInverters() && len(c.Inverters) == 0 {
		return errors.New("config: inverter jobs enabled without inverters")
	}

	if c.Jobs.Production.Enable {
		if _, _, err := c.Jobs.Production.Range(loc, time.Now()); err != nil {
			return fmt.Errorf("config: production: %w", err)
		}
		if _, err := c.Jobs.Production.ParsePeriods(); err != nil {
			return fmt.Errorf("config: production.periods: %w", err)
		}
	}
	if c.Jobs.DailyHistory.Enable {
		if _, _, err := c.Jobs.DailyHistory.Range(loc, time.Now()); err != nil {
			return fmt.Errorf("config: daily_history: %w", err)
		}
		if c.Jobs.DailyHistory.HistoryFix != "" {
			if _, err := ParseTime(c.Jobs.DailyHistory.HistoryFix, loc); err != nil {
				return fmt.Errorf("config: daily_history.history_fix: %w", err)
			}
		}
	}
	if c.Jobs.FineHistory.Enable && !c.Jobs.FineHistory.Recent() {
		if _, err := ParseTime(c.Jobs.FineHistory.Start, loc); err != nil {
			return fmt.Errorf("config: fine_history: %w", err)
		}
	}
	if c.Jobs.Seaward.Enable && c.Jobs.Seaward.Path == "" {
		return errors.New("config: seaward path required")
	}
	for i, p := range c.Jobs.Patches {
		if p.Measurement == "" || p.Field == "" || p.Value == "" {
			return fmt.Errorf("config: patch %d: measurement, field and value required", i)
		}
		if _, err := ParseTime(p.Time, loc); err != nil {
			return fmt.Errorf("config: patch %d: %w", i, err)
		}
	}

	if c.Retry.Attempts < 1 {
		return errors.New("config: retry attempts must be at least 1")
	}
	if c.Concurrency < 1 {
		return errors.New("config: concurrency must be at least 1")
	}
	for _, format := range c.Report.Formats {
		if format != "xlsx" && format != "pdf" {
			return fmt.Errorf("config: unknown report format %q", format)
		}
	}
	return nil
}

// Location loads the site time zone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Site.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: site tz: %w", err)
	}
	return loc, nil
}

// NeedsInverters tells if any enabled job reads from inverters.
func (c Config) NeedsInverters() bool {
	return c.Jobs.Production.Enable || c.Jobs.DailyHistory.Enable || c.Jobs.FineHistory.Enable
}

// Range parses the job range. An empty stop is today's local midnight.
func (r RangeConfig) Range(loc *time.Location, now time.Time) (time.Time, time.Time, error) {
	start, err := ParseTime(r.Start, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	stop := midnight(now.In(loc))
	if r.Stop != "" {
		if stop, err = ParseTime(r.Stop, loc); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if stop.Before(start) {
		return time.Time{}, time.Time{}, errors.New("stop before start")
	}
	return start, stop, nil
}

// Recent tells if the fine history job only refreshes the last hours.
func (f FineConfig) Recent() bool {
	return strings.EqualFold(strings.TrimSpace(f.Start), FineStartRecent)
}

var timeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02 15:04", "2006-01-02"}

// ParseTime parses a configured date or timestamp. Values without an offset
// are local to loc.
func ParseTime(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty time")
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", value)
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	var result []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
