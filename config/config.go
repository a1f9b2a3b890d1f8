// Package config loads server configuration from an optional YAML file,
// TOIL_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/warp/toil-ledger/toil"
)

// EnvPrefix prefixes every environment variable, e.g. TOIL_SERVER_PORT.
const EnvPrefix = "TOIL"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	TOIL      TOILConfig      `mapstructure:"toil"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"` // sqlite, postgres or memory
	DSN    string `mapstructure:"dsn"`
}

type TOILConfig struct {
	LockTimeout       time.Duration `mapstructure:"lock_timeout"`
	QueueDelay        time.Duration `mapstructure:"queue_delay"`
	RecencyWindow     time.Duration `mapstructure:"recency_window"` // 0 disables suppression
	RecencySize       int           `mapstructure:"recency_size"`
	RetryAttempts     int           `mapstructure:"retry_attempts"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
	FallbackHours     float64       `mapstructure:"fallback_hours"`
	LunchBreakHours   float64       `mapstructure:"lunch_break_hours"`
	ShortBreakHours   float64       `mapstructure:"short_break_hours"`
	RoundingIncrement float64       `mapstructure:"rounding_increment"`
	MinHours          float64       `mapstructure:"min_hours"`
	JobCode           string        `mapstructure:"job_code"`
	ExpiryMonths      int           `mapstructure:"expiry_months"`
	EventDebounce     time.Duration `mapstructure:"event_debounce"`
}

type SchedulerConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ExpiryCron string `mapstructure:"expiry_cron"`
	RepairCron string `mapstructure:"repair_cron"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

// SetDefaults registers every key's default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173", "http://localhost:8080"})

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "toil.db")

	v.SetDefault("toil.lock_timeout", toil.DefaultLockTimeout)
	v.SetDefault("toil.queue_delay", 100*time.Millisecond)
	v.SetDefault("toil.recency_window", 2*time.Second)
	v.SetDefault("toil.recency_size", 1024)
	v.SetDefault("toil.retry_attempts", 3)
	v.SetDefault("toil.retry_backoff", 50*time.Millisecond)
	v.SetDefault("toil.fallback_hours", 7.6)
	v.SetDefault("toil.lunch_break_hours", 0.5)
	v.SetDefault("toil.short_break_hours", 0.25)
	v.SetDefault("toil.rounding_increment", 0.25)
	v.SetDefault("toil.min_hours", 0.01)
	v.SetDefault("toil.job_code", toil.DefaultJobCode)
	v.SetDefault("toil.expiry_months", 12)
	v.SetDefault("toil.event_debounce", time.Duration(0))

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.expiry_cron", "@daily")
	v.SetDefault("scheduler.repair_cron", "@every 1h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// New returns a viper instance with defaults and environment binding set.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds flags to config keys, e.g. {"server.port": "port"}.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for key, name := range keys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Load reads configPath (if non-empty) into v and returns the validated Config.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	for key, d := range map[string]time.Duration{
		"server.read_timeout":  c.Server.ReadTimeout,
		"server.write_timeout": c.Server.WriteTimeout,
		"server.idle_timeout":  c.Server.IdleTimeout,
		"toil.lock_timeout":    c.TOIL.LockTimeout,
		"toil.queue_delay":     c.TOIL.QueueDelay,
		"toil.retry_backoff":   c.TOIL.RetryBackoff,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", key))
		}
	}
	if c.TOIL.RetryAttempts <= 0 {
		errs = append(errs, errors.New("toil.retry_attempts must be positive"))
	}
	if c.TOIL.RecencyWindow < 0 {
		errs = append(errs, errors.New("toil.recency_window must not be negative"))
	}
	if c.TOIL.RecencySize <= 0 {
		errs = append(errs, errors.New("toil.recency_size must be positive"))
	}
	if c.TOIL.RoundingIncrement <= 0 {
		errs = append(errs, errors.New("toil.rounding_increment must be positive"))
	}
	switch c.Store.Driver {
	case "sqlite", "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not sqlite, postgres or memory", c.Store.Driver))
	}
	if c.Store.Driver != "memory" && c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is required"))
	}
	return errors.Join(errs...)
}

// Calculator builds the accrual rule set from the toil section.
func (c TOILConfig) Calculator() toil.Calculator {
	return toil.Calculator{
		FallbackHours: decimal.NewFromFloat(c.FallbackHours),
		LunchBreak:    decimal.NewFromFloat(c.LunchBreakHours),
		ShortBreak:    decimal.NewFromFloat(c.ShortBreakHours),
		Increment:     decimal.NewFromFloat(c.RoundingIncrement),
		Threshold:     decimal.NewFromFloat(c.MinHours),
		JobCode:       c.JobCode,
	}
}

// ServiceOptions converts the toil section into toil.Options. A zero
// recency_window becomes toil.RecencyDisabled.
func (c TOILConfig) ServiceOptions() toil.Options {
	recency := c.RecencyWindow
	if recency == 0 {
		recency = toil.RecencyDisabled
	}
	return toil.Options{
		Calculator:    c.Calculator(),
		LockTimeout:   c.LockTimeout,
		QueueDelay:    c.QueueDelay,
		RecencyWindow: recency,
		RecencySize:   c.RecencySize,
		RetryAttempts: c.RetryAttempts,
		RetryBackoff:  c.RetryBackoff,
		EventDebounce: c.EventDebounce,
		ExpiryMonths:  c.ExpiryMonths,
	}
}
