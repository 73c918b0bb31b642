// Package config loads service settings from an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Registry backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type HTTPConfig struct {
	Port           string        `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // json|text
	Source bool   `yaml:"source"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type RegistryConfig struct {
	Backend string `yaml:"backend"` // memory|redis

	// BlockDuplicates makes /register reject a model/variant that already has
	// an active job with 409 instead of tracking both.
	BlockDuplicates bool `yaml:"block_duplicates"`
	// PendingTTL fails active jobs the worker has not reported once they are
	// this old; 0 keeps them until the worker reports them.
	PendingTTL time.Duration `yaml:"pending_ttl"`
}

type WorkerConfig struct {
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

type SessionConfig struct {
	Secret     string `yaml:"secret"`
	CookieName string `yaml:"cookie_name"`
}

type ViewConfig struct {
	TrackedActiveLimit int `yaml:"tracked_active_limit"`
	FinishedLimit      int `yaml:"finished_limit"`
}

type ReconcileConfig struct {
	Interval time.Duration `yaml:"interval"` // 0 disables the background sync
}

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Registry  RegistryConfig  `yaml:"registry"`
	Worker    WorkerConfig    `yaml:"worker"`
	Session   SessionConfig   `yaml:"session"`
	View      ViewConfig      `yaml:"view"`
	Reconcile ReconcileConfig `yaml:"reconcile"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the settings used when neither file nor environment sets a value.
func Default() Config {
	return Config{
		HTTP:     HTTPConfig{Port: "8080", RequestTimeout: 30 * time.Second},
		Log:      LogConfig{Level: "info", Format: "json"},
		Registry: RegistryConfig{Backend: BackendMemory, PendingTTL: 15 * time.Minute},
		Worker:   WorkerConfig{Timeout: 15 * time.Second},
		Session:  SessionConfig{CookieName: "session"},
		View:     ViewConfig{TrackedActiveLimit: 10, FinishedLimit: 10},

		ShutdownTimeout: 30 * time.Second,
	}
}

// Load reads CONFIG_FILE when set, then applies environment overrides and validates.
func Load() (*Config, error) {
	cfg := Default()

	if path := env("CONFIG_FILE"); path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) readFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.HTTP.Port, "HTTP_PORT")
	if v := env("CORS_ALLOWED_ORIGINS"); v != "" {
		c.HTTP.AllowedOrigins = splitList(v)
	}

	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")

	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Registry.Backend, "REGISTRY_BACKEND")

	setString(&c.Worker.URL, "RENDER_PREP_WORKER_URL")
	setString(&c.Worker.Token, "RENDER_WORKER_API_TOKEN")

	setString(&c.Session.Secret, "SESSION_JWT_SECRET")
	setString(&c.Session.CookieName, "SESSION_COOKIE_NAME")

	var errs []error
	errs = append(errs,
		setBool(&c.Log.Source, "LOG_SOURCE"),
		setBool(&c.Registry.BlockDuplicates, "REGISTRY_BLOCK_DUPLICATES"),
		setInt(&c.Redis.DB, "REDIS_DB"),
		setInt(&c.View.TrackedActiveLimit, "TRACKED_ACTIVE_LIMIT"),
		setInt(&c.View.FinishedLimit, "FINISHED_LIMIT"),
		setDuration(&c.HTTP.RequestTimeout, "HTTP_REQUEST_TIMEOUT"),
		setDuration(&c.Worker.Timeout, "RENDER_WORKER_TIMEOUT"),
		setDuration(&c.Reconcile.Interval, "RECONCILE_INTERVAL"),
		setDuration(&c.Registry.PendingTTL, "REGISTRY_PENDING_TTL"),
		setDuration(&c.ShutdownTimeout, "SHUTDOWN_TIMEOUT"),
	)
	return errors.Join(errs...)
}

// Validate rejects settings the service cannot start with. A missing worker
// URL or token is allowed; the list endpoint reports it per request.
func (c *Config) Validate() error {
	var errs []error

	c.Registry.Backend = strings.ToLower(strings.TrimSpace(c.Registry.Backend))
	switch c.Registry.Backend {
	case "":
		c.Registry.Backend = BackendMemory
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required when REGISTRY_BACKEND=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown REGISTRY_BACKEND %q", c.Registry.Backend))
	}

	if c.Registry.PendingTTL < 0 {
		errs = append(errs, errors.New("REGISTRY_PENDING_TTL must not be negative"))
	}
	// Without expiry a job whose dispatch failed would hold its slot forever.
	if c.Registry.BlockDuplicates && c.Registry.PendingTTL == 0 {
		errs = append(errs, errors.New("REGISTRY_PENDING_TTL must be positive when REGISTRY_BLOCK_DUPLICATES is set"))
	}

	if c.Session.Secret == "" {
		errs = append(errs, errors.New("SESSION_JWT_SECRET is required"))
	}
	if c.View.TrackedActiveLimit <= 0 {
		errs = append(errs, errors.New("TRACKED_ACTIVE_LIMIT must be positive"))
	}
	if c.View.FinishedLimit <= 0 {
		errs = append(errs, errors.New("FINISHED_LIMIT must be positive"))
	}
	if c.Reconcile.Interval < 0 {
		errs = append(errs, errors.New("RECONCILE_INTERVAL must not be negative"))
	}
	if c.HTTP.Port == "" {
		errs = append(errs, errors.New("HTTP_PORT must not be empty"))
	}

	return errors.Join(errs...)
}

// WorkerConfigured reports whether the list endpoint can reach the render worker.
func (c *Config) WorkerConfigured() bool {
	return c.Worker.URL != "" && c.Worker.Token != ""
}

// ExpiryTTL is how long an unreported active job may hold its slot. Expiry
// only runs when duplicates are blocked; otherwise nothing is held.
func (c *Config) ExpiryTTL() time.Duration {
	if !c.Registry.BlockDuplicates {
		return 0
	}
	return c.Registry.PendingTTL
}

// NeedsRedis reports whether any component wants a Redis connection.
func (c *Config) NeedsRedis() bool {
	return c.Registry.Backend == BackendRedis || c.Redis.Addr != ""
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func setString(dst *string, key string) {
	if v := env(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := env(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v := env(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

// setDuration accepts Go durations ("15s") or a bare number of seconds.
func setDuration(dst *time.Duration, key string) error {
	v := env(key)
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
