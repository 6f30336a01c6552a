package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Database drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Notifier drivers
const (
	NotifierLog  = "log"
	NotifierNATS = "nats"
	NotifierLark = "lark"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Notifier NotifierConfig `mapstructure:"notifier"`
	Currency CurrencyConfig `mapstructure:"currency"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Report   ReportConfig   `mapstructure:"report"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig selects and configures the store
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// NotifierConfig lists the delivery channels to fan out to
type NotifierConfig struct {
	Drivers []string   `mapstructure:"drivers"`
	NATS    NATSConfig `mapstructure:"nats"`
	Lark    LarkConfig `mapstructure:"lark"`
}

// NATSConfig holds NATS connection settings
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// LarkConfig holds Lark app credentials
type LarkConfig struct {
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
}

// CurrencyConfig holds the static exchange table. Each rate is the value
// of one unit in Base.
type CurrencyConfig struct {
	Base  string             `mapstructure:"base"`
	Rates map[string]float64 `mapstructure:"rates"`
}

// WorkerConfig controls approval reminders
type WorkerConfig struct {
	ReminderEnabled  bool          `mapstructure:"reminder_enabled"`
	ReminderInterval time.Duration `mapstructure:"reminder_interval"`
	ReminderAfter    time.Duration `mapstructure:"reminder_after"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	BatchSize        int           `mapstructure:"batch_size"`
}

// ReportConfig controls export archiving. An empty ArchiveDir disables it.
type ReportConfig struct {
	ArchiveDir string `mapstructure:"archive_dir"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads an optional .env file, then configPath (skipped when empty
// or missing), then EXPENSE_* environment overrides
func Load(configPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("EXPENSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// a comma separated env value arrives as one element
	if len(cfg.Notifier.Drivers) == 1 && strings.Contains(cfg.Notifier.Drivers[0], ",") {
		cfg.Notifier.Drivers = strings.Split(cfg.Notifier.Drivers[0], ",")
	}
	for i, d := range cfg.Notifier.Drivers {
		cfg.Notifier.Drivers[i] = strings.ToLower(strings.TrimSpace(d))
	}
	cfg.Database.Driver = strings.ToLower(cfg.Database.Driver)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "data/expenses.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("notifier.drivers", []string{NotifierLog})
	v.SetDefault("notifier.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("notifier.nats.subject_prefix", "notifications.expense")

	v.SetDefault("currency.base", "USD")
	v.SetDefault("currency.rates", map[string]float64{})

	v.SetDefault("worker.reminder_enabled", true)
	v.SetDefault("worker.reminder_interval", 24*time.Hour)
	v.SetDefault("worker.reminder_after", 5*24*time.Hour)
	v.SetDefault("worker.poll_interval", time.Hour)
	v.SetDefault("worker.batch_size", 50)

	v.SetDefault("report.archive_dir", "")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds secrets to their conventional unprefixed names
func bindEnvVars(v *viper.Viper) error {
	bindings := map[string][]string{
		"database.dsn":             {"EXPENSE_DATABASE_DSN", "DATABASE_URL"},
		"notifier.nats.url":        {"EXPENSE_NOTIFIER_NATS_URL", "NATS_URL"},
		"notifier.lark.app_id":     {"EXPENSE_NOTIFIER_LARK_APP_ID", "LARK_APP_ID"},
		"notifier.lark.app_secret": {"EXPENSE_NOTIFIER_LARK_APP_SECRET", "LARK_APP_SECRET"},
		"notifier.drivers":         {"EXPENSE_NOTIFIER_DRIVERS"},
		"worker.reminder_enabled":  {"EXPENSE_WORKER_REMINDER_ENABLED"},
		"report.archive_dir":       {"EXPENSE_REPORT_ARCHIVE_DIR"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return nil
}

// Validate checks driver-specific requirements
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Database.Driver)
	}

	for _, d := range c.Notifier.Drivers {
		switch d {
		case NotifierLog:
		case NotifierNATS:
			if c.Notifier.NATS.URL == "" {
				return fmt.Errorf("notifier.nats.url is required for the nats notifier")
			}
		case NotifierLark:
			if c.Notifier.Lark.AppID == "" || c.Notifier.Lark.AppSecret == "" {
				return fmt.Errorf("notifier.lark.app_id and app_secret are required for the lark notifier")
			}
		default:
			return fmt.Errorf("unknown notifier driver %q", d)
		}
	}

	if len(strings.TrimSpace(c.Currency.Base)) != 3 {
		return fmt.Errorf("currency.base must be a 3-letter code")
	}
	for code, rate := range c.Currency.Rates {
		if rate <= 0 {
			return fmt.Errorf("currency.rates.%s must be positive", code)
		}
	}

	if c.Worker.ReminderEnabled {
		if c.Worker.ReminderAfter <= 0 || c.Worker.ReminderInterval <= 0 || c.Worker.PollInterval <= 0 {
			return fmt.Errorf("worker reminder durations must be positive")
		}
	}
	return nil
}
