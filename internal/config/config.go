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
)

// Queue backends
const (
	QueueBackendRedis = "redis"
	QueueBackendLocal = "local"
)

// Lease backends
const (
	LeaseBackendRedis    = "redis"
	LeaseBackendPostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Queue      QueueConfig      `yaml:"queue"`
	API        APIConfig        `yaml:"api"`
	Worker     WorkerConfig     `yaml:"worker"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Auth       AuthConfig       `yaml:"auth"`
	Scheduling SchedulingConfig `yaml:"scheduling"`
	LogLevel   string           `yaml:"log_level"`
	DevMode    bool             `yaml:"dev_mode"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
}

// QueueConfig holds delay-queue configuration
type QueueConfig struct {
	Backend   string        `yaml:"backend"`
	RedisURL  string        `yaml:"redis_url"`
	QueueName string        `yaml:"queue_name"`
	Retries   int           `yaml:"retries"`
	MaxSkew   time.Duration `yaml:"max_skew"`
}

// APIConfig holds API server configuration
type APIConfig struct {
	Port           int      `yaml:"port"`
	PublicBaseURL  string   `yaml:"public_base_url"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WorkerConfig holds worker process configuration
type WorkerConfig struct {
	Concurrency       int           `yaml:"concurrency"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	MetricsPort       int           `yaml:"metrics_port"`
}

// GatewayConfig holds the WhatsApp gateway connection
type GatewayConfig struct {
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxRetries    int           `yaml:"max_retries"`
	DryRun        bool          `yaml:"dry_run"`
	DryRunSuccess float64       `yaml:"dry_run_success"`
}

// AuthConfig holds shared secrets
type AuthConfig struct {
	JWTSecret      string `yaml:"jwt_secret"`
	InternalSecret string `yaml:"internal_secret"`
	QueueSecret    string `yaml:"queue_secret"`
}

// SchedulingConfig holds dispatch pacing and locale settings
type SchedulingConfig struct {
	Timezone           string        `yaml:"timezone"`
	DefaultCountryCode string        `yaml:"default_country_code"`
	LeaseBackend       string        `yaml:"lease_backend"`
	LeaseTTL           time.Duration `yaml:"lease_ttl"`
	BatchSize          int           `yaml:"batch_size"`
}

// Defaults returns the configuration used when nothing overrides it
func Defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "campaign_manager",
			Password: "campaign_manager",
			DBName:   "campaign_manager",
			SSLMode:  "disable",
			MaxConns: 25,
		},
		Queue: QueueConfig{
			Backend:   QueueBackendRedis,
			RedisURL:  "redis://localhost:6379/0",
			QueueName: "wa_dispatch",
			Retries:   3,
			MaxSkew:   5 * time.Minute,
		},
		API: APIConfig{
			Port:          8080,
			PublicBaseURL: "http://localhost:8080",
		},
		Worker: WorkerConfig{
			Concurrency:       5,
			PollInterval:      time.Second,
			VisibilityTimeout: 2 * time.Minute,
			SweepInterval:     time.Minute,
			MetricsPort:       9090,
		},
		Gateway: GatewayConfig{
			BaseURL:       "http://localhost:3000",
			Timeout:       30 * time.Second,
			MaxRetries:    3,
			DryRunSuccess: 1,
		},
		Scheduling: SchedulingConfig{
			Timezone:           "Asia/Jerusalem",
			DefaultCountryCode: "972",
			LeaseBackend:       LeaseBackendRedis,
			LeaseTTL:           3 * time.Hour,
			BatchSize:          5,
		},
		LogLevel: "info",
	}
}

// Load reads .env, then the optional CONFIG_FILE YAML overlay, then
// environment variables, and validates the result.
func Load() (*Config, error) {
	// A missing .env is fine
	_ = godotenv.Load()

	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var err error

	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	if c.Database.Port, err = getEnvInt("DB_PORT", c.Database.Port); err != nil {
		return err
	}
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.DBName = getEnv("DB_NAME", c.Database.DBName)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)
	if c.Database.MaxConns, err = getEnvInt("DB_MAX_CONNS", c.Database.MaxConns); err != nil {
		return err
	}

	c.Queue.Backend = getEnv("QUEUE_BACKEND", c.Queue.Backend)
	c.Queue.RedisURL = getEnv("REDIS_URL", c.Queue.RedisURL)
	c.Queue.QueueName = getEnv("QUEUE_NAME", c.Queue.QueueName)
	if c.Queue.Retries, err = getEnvInt("QUEUE_RETRIES", c.Queue.Retries); err != nil {
		return err
	}

	if c.API.Port, err = getEnvInt("API_PORT", c.API.Port); err != nil {
		return err
	}
	c.API.PublicBaseURL = strings.TrimRight(getEnv("PUBLIC_BASE_URL", c.API.PublicBaseURL), "/")
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		c.API.AllowedOrigins = splitList(origins)
	}

	if c.Worker.Concurrency, err = getEnvInt("WORKER_CONCURRENCY", c.Worker.Concurrency); err != nil {
		return err
	}
	if c.Worker.PollInterval, err = getEnvDuration("WORKER_POLL_INTERVAL", c.Worker.PollInterval); err != nil {
		return err
	}
	if c.Worker.SweepInterval, err = getEnvDuration("SWEEP_INTERVAL", c.Worker.SweepInterval); err != nil {
		return err
	}
	if c.Worker.MetricsPort, err = getEnvInt("WORKER_METRICS_PORT", c.Worker.MetricsPort); err != nil {
		return err
	}

	c.Gateway.BaseURL = getEnv("WAHA_BASE_URL", c.Gateway.BaseURL)
	c.Gateway.APIKey = getEnv("WAHA_API_KEY", c.Gateway.APIKey)
	if c.Gateway.MaxRetries, err = getEnvInt("WAHA_MAX_RETRIES", c.Gateway.MaxRetries); err != nil {
		return err
	}
	if c.Gateway.DryRun, err = getEnvBool("GATEWAY_DRY_RUN", c.Gateway.DryRun); err != nil {
		return err
	}

	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.InternalSecret = getEnv("INTERNAL_SECRET", c.Auth.InternalSecret)
	c.Auth.QueueSecret = getEnv("QUEUE_SIGNING_SECRET", c.Auth.QueueSecret)

	c.Scheduling.Timezone = getEnv("TIMEZONE", c.Scheduling.Timezone)
	c.Scheduling.DefaultCountryCode = getEnv("DEFAULT_COUNTRY_CODE", c.Scheduling.DefaultCountryCode)
	c.Scheduling.LeaseBackend = getEnv("LEASE_BACKEND", c.Scheduling.LeaseBackend)
	if c.Scheduling.LeaseTTL, err = getEnvDuration("LEASE_TTL", c.Scheduling.LeaseTTL); err != nil {
		return err
	}
	if c.Scheduling.BatchSize, err = getEnvInt("BATCH_SIZE", c.Scheduling.BatchSize); err != nil {
		return err
	}

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	if c.DevMode, err = getEnvBool("DEV_MODE", c.DevMode); err != nil {
		return err
	}
	return nil
}

// Validate rejects unusable combinations
func (c *Config) Validate() error {
	var errs []error

	switch c.Queue.Backend {
	case QueueBackendRedis:
	case QueueBackendLocal:
		if !c.DevMode {
			errs = append(errs, errors.New("QUEUE_BACKEND=local requires DEV_MODE=true"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown QUEUE_BACKEND %q", c.Queue.Backend))
	}

	switch c.Scheduling.LeaseBackend {
	case LeaseBackendRedis, LeaseBackendPostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown LEASE_BACKEND %q", c.Scheduling.LeaseBackend))
	}

	if _, err := time.LoadLocation(c.Scheduling.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid TIMEZONE: %w", err))
	}
	if c.Scheduling.LeaseTTL <= 0 {
		errs = append(errs, errors.New("LEASE_TTL must be positive"))
	}
	if c.Scheduling.BatchSize <= 0 {
		errs = append(errs, errors.New("BATCH_SIZE must be positive"))
	}

	if !c.DevMode {
		if c.Auth.JWTSecret == "" {
			errs = append(errs, errors.New("JWT_SECRET is required"))
		}
		if c.Auth.QueueSecret == "" {
			errs = append(errs, errors.New("QUEUE_SIGNING_SECRET is required"))
		}
	}

	return errors.Join(errs...)
}

// Location returns the configured scheduling time zone
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduling.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DSN returns the database connection string
func (d *DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
