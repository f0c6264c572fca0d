package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "runledger.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "RUNLEDGER_PORT")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "RUNLEDGER_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "RUNLEDGER_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "RUNLEDGER_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "RUNLEDGER_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "RUNLEDGER_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "RUNLEDGER_NATS_STREAM")
	setString(&cfg.NATS.IdempotencyBucket, "RUNLEDGER_IDEMPOTENCY_BUCKET")
	setDuration(&cfg.NATS.IdempotencyTTL, "RUNLEDGER_IDEMPOTENCY_TTL")
	setString(&cfg.NATS.CatalogBucket, "RUNLEDGER_CATALOG_BUCKET")

	setString(&cfg.Logging.Level, "RUNLEDGER_LOG_LEVEL")
	setString(&cfg.Logging.Service, "RUNLEDGER_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "RUNLEDGER_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "RUNLEDGER_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "RUNLEDGER_BREAKER_TIMEOUT")

	// Ledger
	setInt(&cfg.Ledger.MaxBatchSize, "RUNLEDGER_MAX_BATCH_SIZE")
	setString(&cfg.Ledger.URL, "RUNLEDGER_URL")
	setDuration(&cfg.Ledger.ClientTimeout, "RUNLEDGER_CLIENT_TIMEOUT")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "RUNLEDGER_CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.L2TTL, "RUNLEDGER_CACHE_L2_TTL")
	setDuration(&cfg.Cache.CatalogTTL, "RUNLEDGER_CACHE_CATALOG_TTL")

	// Scheduler
	setBool(&cfg.Scheduler.Enabled, "RUNLEDGER_SCHEDULER_ENABLED")
	setDuration(&cfg.Scheduler.Interval, "RUNLEDGER_SCHEDULER_INTERVAL")
	setInt(&cfg.Scheduler.MaxConcurrency, "RUNLEDGER_SCHEDULER_MAX_CONCURRENCY")
	setString(&cfg.Scheduler.Timezone, "RUNLEDGER_SCHEDULER_TIMEZONE")
	setString(&cfg.Scheduler.ServiceName, "RUNLEDGER_SCHEDULER_SERVICE_NAME")

	// OpenTelemetry
	setBool(&cfg.OTEL.Enabled, "RUNLEDGER_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "RUNLEDGER_OTEL_INSECURE")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Ledger.MaxBatchSize < 1 {
		return errors.New("ledger.max_batch_size must be >= 1")
	}
	if cfg.Scheduler.Interval <= 0 {
		return errors.New("scheduler.interval must be > 0")
	}
	if cfg.Scheduler.MaxConcurrency < 1 {
		return errors.New("scheduler.max_concurrency must be >= 1")
	}
	if cfg.Scheduler.ServiceName == "" {
		return errors.New("scheduler.service_name is required")
	}
	if _, err := time.LoadLocation(cfg.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone %q is invalid", cfg.Scheduler.Timezone)
	}
	return nil
}

// Location returns the scheduler's calendar location. validate guarantees the
// name resolves; an unresolvable name falls back to UTC.
func (s Scheduler) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
