// Package config loads the storefront configuration. Values come from
// defaults, then an optional YAML file, then STOREFRONT_* environment
// variables (a .env file in the working directory is read first).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"storefront/internal/notify"
)

const envPrefix = "STOREFRONT_"

type Config struct {
	Env       string          `yaml:"env"`
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Session   SessionConfig   `yaml:"session"`
	Feed      FeedConfig      `yaml:"feed"`
	Files     FilesConfig     `yaml:"files"`
	Email     EmailConfig     `yaml:"email"`
	Checkout  CheckoutConfig  `yaml:"checkout"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// CookieSecure marks the session cookie Secure.
	CookieSecure bool `yaml:"cookie_secure"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // memory or postgres
	DSN    string `yaml:"dsn"`
}

type SessionConfig struct {
	Secret   string        `yaml:"secret"`
	TTL      time.Duration `yaml:"ttl"`
	Path     string        `yaml:"path"`
	InMemory bool          `yaml:"in_memory"`
}

type FeedConfig struct {
	Driver    string `yaml:"driver"` // memory or redis
	RedisURL  string `yaml:"redis_url"`
	KeyPrefix string `yaml:"key_prefix"`
}

type FilesConfig struct {
	Driver          string `yaml:"driver"` // local or gcs
	Root            string `yaml:"root"`
	BaseURL         string `yaml:"base_url"`
	Bucket          string `yaml:"bucket"`
	CredentialsFile string `yaml:"credentials_file"`
}

type EmailConfig struct {
	Driver    string            `yaml:"driver"` // log or smtp
	SMTP      notify.SMTPConfig `yaml:"smtp"`
	PerSecond float64           `yaml:"per_second"`
	Burst     int               `yaml:"burst"`
}

type CheckoutConfig struct {
	CallTimeout   time.Duration `yaml:"call_timeout"`
	RedirectDelay time.Duration `yaml:"redirect_delay"`
}

type AnalyticsConfig struct {
	Timezone string `yaml:"timezone"`
}

type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

func Default() Config {
	return Config{
		Env:      "dev",
		HTTP:     HTTPConfig{Addr: ":9091", ShutdownTimeout: 5 * time.Second},
		Log:      LogConfig{Level: "info", Format: "text"},
		Database: DatabaseConfig{Driver: "memory"},
		Session:  SessionConfig{TTL: 30 * 24 * time.Hour, Path: "data/sessions"},
		Feed:     FeedConfig{Driver: "memory", KeyPrefix: "storefront"},
		Files:    FilesConfig{Driver: "local", Root: "data/uploads", BaseURL: "http://localhost:9091/uploads"},
		Email: EmailConfig{
			Driver:    "log",
			SMTP:      notify.SMTPConfig{Port: 587, From: "no-reply@hanad.shop"},
			PerSecond: 1,
			Burst:     5,
		},
		Checkout:  CheckoutConfig{CallTimeout: 5 * time.Second, RedirectDelay: 2 * time.Second},
		Analytics: AnalyticsConfig{Timezone: "UTC"},
		Telemetry: TelemetryConfig{Endpoint: "localhost:4317", ServiceName: "storefront", SampleRatio: 1},
	}
}

// Load reads path (if not empty) over the defaults, applies the environment
// and validates the result.
func Load(path string) (Config, error) {
	_ = godotenv.Load()
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(envPrefix + key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(envPrefix + key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(envPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = n
		}
	}

	str("ENV", &cfg.Env)
	str("HTTP_ADDR", &cfg.HTTP.Addr)
	dur("HTTP_SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout)
	boolean("HTTP_COOKIE_SECURE", &cfg.HTTP.CookieSecure)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("DB_DRIVER", &cfg.Database.Driver)
	str("DB_DSN", &cfg.Database.DSN)
	str("SESSION_SECRET", &cfg.Session.Secret)
	dur("SESSION_TTL", &cfg.Session.TTL)
	str("SESSION_PATH", &cfg.Session.Path)
	boolean("SESSION_IN_MEMORY", &cfg.Session.InMemory)
	str("FEED_DRIVER", &cfg.Feed.Driver)
	str("REDIS_URL", &cfg.Feed.RedisURL)
	str("FILES_DRIVER", &cfg.Files.Driver)
	str("FILES_ROOT", &cfg.Files.Root)
	str("FILES_BASE_URL", &cfg.Files.BaseURL)
	str("FILES_BUCKET", &cfg.Files.Bucket)
	str("GCS_CREDENTIALS_FILE", &cfg.Files.CredentialsFile)
	str("EMAIL_DRIVER", &cfg.Email.Driver)
	str("SMTP_HOST", &cfg.Email.SMTP.Host)
	integer("SMTP_PORT", &cfg.Email.SMTP.Port)
	str("SMTP_FROM", &cfg.Email.SMTP.From)
	str("SMTP_USERNAME", &cfg.Email.SMTP.Username)
	str("SMTP_PASSWORD", &cfg.Email.SMTP.Password)
	dur("CHECKOUT_CALL_TIMEOUT", &cfg.Checkout.CallTimeout)
	str("ANALYTICS_TIMEZONE", &cfg.Analytics.Timezone)
	boolean("OTEL_ENABLED", &cfg.Telemetry.Enabled)
	str("OTEL_ENDPOINT", &cfg.Telemetry.Endpoint)
	boolean("OTEL_INSECURE", &cfg.Telemetry.Insecure)
	return errors.Join(errs...)
}

func oneOf(field, v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("%s: %q is not one of %s", field, v, strings.Join(allowed, ", "))
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	errs := []error{
		oneOf("log.format", c.Log.Format, "text", "json"),
		oneOf("database.driver", c.Database.Driver, "memory", "postgres"),
		oneOf("feed.driver", c.Feed.Driver, "memory", "redis"),
		oneOf("files.driver", c.Files.Driver, "local", "gcs"),
		oneOf("email.driver", c.Email.Driver, "log", "smtp"),
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required for postgres"))
	}
	if c.Feed.Driver == "redis" && c.Feed.RedisURL == "" {
		errs = append(errs, errors.New("feed.redis_url is required for redis"))
	}
	if c.Files.Driver == "gcs" && c.Files.Bucket == "" {
		errs = append(errs, errors.New("files.bucket is required for gcs"))
	}
	if c.Email.Driver == "smtp" && c.Email.SMTP.Host == "" {
		errs = append(errs, errors.New("email.smtp.host is required for smtp"))
	}
	if c.Env != "dev" && len(c.Session.Secret) < 32 {
		errs = append(errs, errors.New("session.secret must be at least 32 bytes outside dev"))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("session.ttl must be positive"))
	}
	if c.Checkout.CallTimeout <= 0 {
		errs = append(errs, errors.New("checkout.call_timeout must be positive"))
	}
	if _, err := time.LoadLocation(c.Analytics.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("analytics.timezone: %w", err))
	}
	return errors.Join(errs...)
}

// Location is the analytics time zone. Call after Validate.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Analytics.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SessionSecret falls back to a fixed development key in dev.
func (c Config) SessionSecret() []byte {
	if c.Session.Secret == "" && c.Env == "dev" {
		return []byte("storefront-dev-secret-do-not-use-in-prod")
	}
	return []byte(c.Session.Secret)
}
