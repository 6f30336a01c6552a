package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, []string{NotifierLog}, cfg.Notifier.Drivers)
	assert.Equal(t, 5*24*time.Hour, cfg.Worker.ReminderAfter)
	assert.Equal(t, 50, cfg.Worker.BatchSize)
	assert.Empty(t, cfg.Report.ArchiveDir)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
database:
  driver: postgres
  dsn: postgres://file@localhost/expenses
notifier:
  drivers: [log, nats]
  nats:
    url: nats://bus:4222
    subject_prefix: acme.expense
currency:
  base: USD
  rates:
    EUR: 1.08
worker:
  reminder_after: 72h
report:
  archive_dir: /var/lib/expense/reports
`)
	t.Setenv("DATABASE_URL", "postgres://env@localhost/expenses")
	t.Setenv("EXPENSE_SERVER_PORT", "9191")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "postgres://env@localhost/expenses", cfg.Database.DSN)
	assert.Equal(t, []string{NotifierLog, NotifierNATS}, cfg.Notifier.Drivers)
	assert.Equal(t, "acme.expense", cfg.Notifier.NATS.SubjectPrefix)
	assert.InDelta(t, 1.08, cfg.Currency.Rates["eur"]+cfg.Currency.Rates["EUR"], 1e-9)
	assert.Equal(t, 72*time.Hour, cfg.Worker.ReminderAfter)
	assert.Equal(t, "/var/lib/expense/reports", cfg.Report.ArchiveDir)
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: 8080},
			Database: DatabaseConfig{Driver: DriverSQLite, Path: "x.db"},
			Notifier: NotifierConfig{Drivers: []string{NotifierLog}},
			Currency: CurrencyConfig{Base: "USD"},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = DriverPostgres }, "database.dsn"},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"lark without secret", func(c *Config) {
			c.Notifier.Drivers = []string{NotifierLark}
			c.Notifier.Lark.AppID = "cli_1"
		}, "app_secret"},
		{"nats without url", func(c *Config) { c.Notifier.Drivers = []string{NotifierNATS} }, "notifier.nats.url"},
		{"unknown notifier", func(c *Config) { c.Notifier.Drivers = []string{"smtp"} }, "smtp"},
		{"bad base", func(c *Config) { c.Currency.Base = "DOLLAR" }, "currency.base"},
		{"bad rate", func(c *Config) { c.Currency.Rates = map[string]float64{"EUR": -1} }, "currency.rates.EUR"},
		{"reminders without durations", func(c *Config) { c.Worker.ReminderEnabled = true }, "worker"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}
}
