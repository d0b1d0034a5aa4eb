package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pvhistory/internal/history/domain/series"
)

const sampleConfig = `
site:
  name: roof
  tz: Europe/Berlin
inverters:
  - name: sb3600
    url: https://192.168.1.20
    user: user
    password: !secret sb3600_password
  - name: sb5000
    url: https://192.168.1.21
    password: !secret shared_password
store:
  kind: influx
  influx:
    url: http://localhost:8086
    org: home
    bucket: solar
    token: !secret influx_token
jobs:
  production:
    enable: true
    start: 2023-01-01
    periods: [today, month]
  daily_history:
    enable: true
    start: 2022-06-01
    stop: 2022-12-31
    history_fix: 2022-09-01
  fine_history:
    enable: true
    start: recent
    interval: 5m
  patches:
    - time: 2023-02-01T00:00:00
      measurement: production
      inverter: sb3600
      field: midnight
      value: 1234567
retry:
  attempts: 2
  backoff: 1s
`

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"PVHISTORY_CONFIG", "PVHISTORY_STORE", "PVHISTORY_TZ", "PVHISTORY_INFLUX_TOKEN", "PVHISTORY_POSTGRES_DSN", "DATABASE_URL", "PVHISTORY_LOG_LEVEL", "PVHISTORY_REPORT_FORMATS", "PVHISTORY_RETRY_ATTEMPTS"} {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoad_ResolvesSecretsFromConfigDirAndParents(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, "solar", "site")
	path := filepath.Join(dir, "pvhistory.yaml")
	writeFile(t, path, sampleConfig)
	writeFile(t, filepath.Join(dir, "secrets.yaml"), "sb3600_password: local\ninflux_token: tok\n")
	writeFile(t, filepath.Join(home, "secrets.yaml"), "shared_password: shared\nsb3600_password: ignored\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "local", cfg.Inverters[0].Password)
	require.Equal(t, "shared", cfg.Inverters[1].Password)
	require.Equal(t, "tok", cfg.Store.Influx.Token)
	require.Equal(t, "user", cfg.Inverters[0].Group)
	require.Equal(t, 2, cfg.Retry.Attempts)
	require.Equal(t, time.Second, cfg.Retry.Backoff)
	require.Equal(t, 5*time.Minute, cfg.Jobs.FineHistory.Interval)
	require.True(t, cfg.Jobs.FineHistory.Recent())
	require.Equal(t, "1234567", cfg.Jobs.Patches[0].Value)
	periods, err := cfg.Jobs.Production.ParsePeriods()
	require.NoError(t, err)
	require.Equal(t, []series.Period{series.PeriodToday, series.PeriodMonth}, periods)
	require.Equal(t, 4, cfg.Concurrency, "defaults survive")

	loc, err := cfg.Location()
	require.NoError(t, err)
	start, stop, err := cfg.Jobs.DailyHistory.Range(loc, time.Now())
	require.NoError(t, err)
	require.True(t, start.Equal(time.Date(2022, 6, 1, 0, 0, 0, 0, loc)))
	require.True(t, stop.Equal(time.Date(2022, 12, 31, 0, 0, 0, 0, loc)))
}

func TestLoad_MissingSecret(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := filepath.Join(home, "pvhistory.yaml")
	writeFile(t, path, sampleConfig)

	_, err := Load(path)
	require.ErrorIs(t, err, ErrSecretNotFound)
}

func TestLoad_SecretInsideSecretsFails(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := filepath.Join(home, "pvhistory.yaml")
	writeFile(t, path, sampleConfig)
	writeFile(t, filepath.Join(home, "secrets.yaml"), "sb3600_password: !secret other\n")

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "secrets cannot reference secrets")
}

func TestLookupDirs_StopsAtHome(t *testing.T) {
	home := filepath.FromSlash("/home/pv")
	dirs := lookupDirs(filepath.FromSlash("/home/pv/a/b"), home)
	require.Equal(t, []string{
		filepath.FromSlash("/home/pv/a/b"),
		filepath.FromSlash("/home/pv/a"),
		home,
	}, dirs)

	require.Equal(t, []string{filepath.FromSlash("/etc/pv")}, lookupDirs(filepath.FromSlash("/etc/pv"), home))
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := filepath.Join(home, "pvhistory.yaml")
	writeFile(t, path, sampleConfig)
	writeFile(t, filepath.Join(home, "secrets.yaml"), "sb3600_password: a\nshared_password: b\ninflux_token: c\n")

	t.Setenv("PVHISTORY_STORE", "postgres")
	t.Setenv("PVHISTORY_POSTGRES_DSN", "postgres://localhost/pv")
	t.Setenv("PVHISTORY_REPORT_FORMATS", "xlsx, pdf")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, StorePostgres, cfg.Store.Kind)
	require.Equal(t, "postgres://localhost/pv", cfg.Store.Postgres.DSN)
	require.Equal(t, []string{"xlsx", "pdf"}, cfg.Report.Formats)
}

func TestLoadEnv_MissingFileIgnored(t *testing.T) {
	require.NoError(t, LoadEnv(filepath.Join(t.TempDir(), ".env")))

	path := filepath.Join(t.TempDir(), ".env")
	writeFile(t, path, "PVHISTORY_TEST_VALUE=from-dotenv\n")
	t.Setenv("PVHISTORY_TEST_VALUE", "")
	require.NoError(t, os.Unsetenv("PVHISTORY_TEST_VALUE"))
	require.NoError(t, LoadEnv(path))
	require.Equal(t, "from-dotenv", os.Getenv("PVHISTORY_TEST_VALUE"))
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.Store.Kind = StoreMemory
		cfg.Inverters = []InverterConfig{{Name: "a", URL: "https://a"}}
		cfg.Jobs.Production = ProductionConfig{RangeConfig: RangeConfig{Enable: true, Start: "2023-01-01"}}
		return cfg
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(*Config){
		"bad tz":            func(c *Config) { c.Site.Timezone = "Mars/Olympus" },
		"unknown store":     func(c *Config) { c.Store.Kind = "csv" },
		"influx no url":     func(c *Config) { c.Store.Kind = StoreInflux },
		"postgres no dsn":   func(c *Config) { c.Store.Kind = StorePostgres },
		"duplicate":         func(c *Config) { c.Inverters = append(c.Inverters, c.Inverters[0]) },
		"reserved site":     func(c *Config) { c.Inverters[0].Name = "site" },
		"no inverters":      func(c *Config) { c.Inverters = nil },
		"bad start":         func(c *Config) { c.Jobs.Production.Start = "yesterday" },
		"stop before start": func(c *Config) { c.Jobs.Production.Stop = "2022-01-01" },
		"unknown period":    func(c *Config) { c.Jobs.Production.Periods = []string{"week"} },
		"fine production":   func(c *Config) { c.Jobs.Production.Periods = []string{"fine"} },
		"fine bad start":    func(c *Config) { c.Jobs.FineHistory = FineConfig{Enable: true, Start: "soon"} },
		"seaward no path":   func(c *Config) { c.Jobs.Seaward.Enable = true },
		"patch no value":    func(c *Config) { c.Jobs.Patches = []PatchConfig{{Time: "2023-01-01", Measurement: "m", Field: "f"}} },
		"retry":             func(c *Config) { c.Retry.Attempts = 0 },
		"concurrency":       func(c *Config) { c.Concurrency = 0 },
		"report format":     func(c *Config) { c.Report.Formats = []string{"csv"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestParseTime(t *testing.T) {
	loc := time.UTC
	for _, value := range []string{"2023-01-02", "2023-01-02 00:00", "2023-01-02T00:00:00", "2023-01-02T00:00:00Z"} {
		got, err := ParseTime(value, loc)
		require.NoError(t, err, value)
		require.True(t, got.Equal(time.Date(2023, 1, 2, 0, 0, 0, 0, loc)), value)
	}
	_, err := ParseTime("", loc)
	require.Error(t, err)
}
