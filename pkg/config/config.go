package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/scribe/pkg/authz"
	"github.com/platinummonkey/scribe/pkg/observability"
	"github.com/platinummonkey/scribe/pkg/storage"
	"gopkg.in/yaml.v3"
)

// Cache backends accepted in CacheConfig.Backend
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheLRU    = "lru"
	CacheRedis  = "redis"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Store         storage.Config      `yaml:"store"`
	Cache         CacheConfig         `yaml:"cache"`
	Audit         AuditConfig         `yaml:"audit"`
	Authz         AuthzConfig         `yaml:"authz"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`

	// AdminRateLimit bounds admin scan requests per principal per minute.
	// Zero disables the limit.
	AdminRateLimit int `yaml:"admin_rate_limit"`
	AdminRateBurst int `yaml:"admin_rate_burst"`
}

// CacheConfig selects the permission cache
type CacheConfig struct {
	Backend    string        `yaml:"backend"`
	DefaultTTL time.Duration `yaml:"default_ttl"`

	// MaxEntries bounds the lru backend
	MaxEntries int `yaml:"max_entries"`

	// SweepSchedule is a cron spec for expiring memory and lru entries.
	// Empty disables the sweeper.
	SweepSchedule string `yaml:"sweep_schedule"`

	RedisURL        string `yaml:"redis_url"`
	RedisPassword   string `yaml:"redis_password"`
	RedisDB         int    `yaml:"redis_db"`
	RedisPoolSize   int    `yaml:"redis_pool_size"`
	RedisMaxRetries int    `yaml:"redis_max_retries"`
	RedisKeyPrefix  string `yaml:"redis_key_prefix"`
}

// AuditConfig enables audit sinks. Every enabled sink receives every event.
type AuditConfig struct {
	// Database writes events to the audit_events table of the postgres store
	// and backs the permission change queries.
	Database bool `yaml:"database"`

	FilePath     string `yaml:"file_path"`
	FileRotate   bool   `yaml:"file_rotate"`
	FileSync     bool   `yaml:"file_sync"`
	FileMaxSize  int64  `yaml:"file_max_size"`
	FileMaxFiles int    `yaml:"file_max_files"`

	AMQPURL      string `yaml:"amqp_url"`
	AMQPExchange string `yaml:"amqp_exchange"`

	// Async writes every sink after the first in the background
	Async   bool          `yaml:"async"`
	Timeout time.Duration `yaml:"timeout"`
}

// AuthzConfig tunes the authorization service and its HTTP surface
type AuthzConfig struct {
	ShareRetryAttempts    int           `yaml:"share_retry_attempts"`
	RetryInitialInterval  time.Duration `yaml:"retry_initial_interval"`
	RetryMaxInterval      time.Duration `yaml:"retry_max_interval"`
	PageSize              int           `yaml:"page_size"`
	MaxScanResults        int           `yaml:"max_scan_results"`
	MaxRecentDays         int           `yaml:"max_recent_days"`
	MaxShareMessageLength int           `yaml:"max_share_message_length"`

	// ConcealResourceExistence answers 404 instead of 403 on resource routes
	ConcealResourceExistence bool `yaml:"conceal_resource_existence"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	svc := authz.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
			AdminRateLimit:  60,
			AdminRateBurst:  10,
		},
		Store: storage.DefaultConfig(),
		Cache: CacheConfig{
			Backend:         CacheMemory,
			DefaultTTL:      svc.DefaultTTL,
			MaxEntries:      100_000,
			SweepSchedule:   "@every 1m",
			RedisPoolSize:   10,
			RedisMaxRetries: 3,
			RedisKeyPrefix:  "scribe:authz:",
		},
		Audit: AuditConfig{
			FileRotate:   true,
			FileMaxSize:  100 * 1024 * 1024,
			FileMaxFiles: 10,
			AMQPExchange: "scribe.audit",
			Timeout:      svc.AuditTimeout,
		},
		Authz: AuthzConfig{
			ShareRetryAttempts:       svc.ShareRetryAttempts,
			RetryInitialInterval:     svc.RetryInitialInterval,
			RetryMaxInterval:         svc.RetryMaxInterval,
			PageSize:                 svc.PageSize,
			MaxScanResults:           svc.MaxScanResults,
			MaxRecentDays:            svc.MaxRecentDays,
			MaxShareMessageLength:    svc.MaxShareMessageLength,
			ConcealResourceExistence: true,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			LogFormat:          "json",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "scribe-authz",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig builds the configuration from defaults, then the YAML file named
// by SCRIBE_CONFIG_FILE when set, then environment variables.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := getEnv("SCRIBE_CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	loadServerConfig(&cfg.Server)
	loadStorageConfig(&cfg.Store)
	loadCacheConfig(&cfg.Cache)
	loadAuditConfig(&cfg.Audit)
	loadAuthzConfig(&cfg.Authz)
	loadObservabilityConfig(&cfg.Observability)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile overlays the YAML document at path. Keys absent from the file
// keep their current values.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func loadServerConfig(cfg *ServerConfig) {
	cfg.Host = getEnv("SCRIBE_HOST", cfg.Host)
	cfg.Port = getEnv("SCRIBE_PORT", cfg.Port)
	cfg.ReadTimeout = getEnvDuration("SCRIBE_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = getEnvDuration("SCRIBE_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.IdleTimeout = getEnvDuration("SCRIBE_IDLE_TIMEOUT", cfg.IdleTimeout)
	cfg.ShutdownTimeout = getEnvDuration("SCRIBE_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	cfg.HealthPort = getEnv("SCRIBE_HEALTH_PORT", cfg.HealthPort)
	cfg.AdminRateLimit = getEnvInt("SCRIBE_ADMIN_RATE_LIMIT", cfg.AdminRateLimit)
	cfg.AdminRateBurst = getEnvInt("SCRIBE_ADMIN_RATE_BURST", cfg.AdminRateBurst)
}

func loadStorageConfig(cfg *storage.Config) {
	cfg.Type = getEnv("SCRIBE_STORE_TYPE", cfg.Type)

	cfg.PostgresURL = getEnv("SCRIBE_POSTGRES_URL", cfg.PostgresURL)
	if replicaURLs := getEnv("SCRIBE_POSTGRES_REPLICA_URLS", ""); replicaURLs != "" {
		cfg.ReplicaURLs = storage.ParseReplicaURLs(replicaURLs)
	}
	cfg.SQLitePath = getEnv("SCRIBE_SQLITE_PATH", cfg.SQLitePath)
	if maxConns := getEnvInt("SCRIBE_DB_MAX_CONNS", 0); maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns := getEnvInt("SCRIBE_DB_MIN_CONNS", 0); minConns > 0 {
		cfg.MinConns = minConns
	}
	cfg.Timeout = getEnvDuration("SCRIBE_DB_TIMEOUT", cfg.Timeout)

	cfg.MongoURI = getEnv("SCRIBE_MONGO_URI", cfg.MongoURI)
	cfg.MongoDatabase = getEnv("SCRIBE_MONGO_DATABASE", cfg.MongoDatabase)

	cfg.WorkerLimit = getEnvInt64("SCRIBE_STORE_WORKER_LIMIT", cfg.WorkerLimit)
}

func loadCacheConfig(cfg *CacheConfig) {
	cfg.Backend = strings.ToLower(getEnv("SCRIBE_CACHE_BACKEND", cfg.Backend))
	cfg.DefaultTTL = getEnvDuration("SCRIBE_CACHE_TTL", cfg.DefaultTTL)
	cfg.MaxEntries = getEnvInt("SCRIBE_CACHE_MAX_ENTRIES", cfg.MaxEntries)
	if schedule, ok := os.LookupEnv("SCRIBE_CACHE_SWEEP_SCHEDULE"); ok {
		cfg.SweepSchedule = schedule
	}

	cfg.RedisURL = getEnv("SCRIBE_REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv("SCRIBE_REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getEnvInt("SCRIBE_REDIS_DB", cfg.RedisDB)
	cfg.RedisPoolSize = getEnvInt("SCRIBE_REDIS_POOL_SIZE", cfg.RedisPoolSize)
	cfg.RedisMaxRetries = getEnvInt("SCRIBE_REDIS_MAX_RETRIES", cfg.RedisMaxRetries)
	cfg.RedisKeyPrefix = getEnv("SCRIBE_REDIS_KEY_PREFIX", cfg.RedisKeyPrefix)
}

func loadAuditConfig(cfg *AuditConfig) {
	cfg.Database = getEnvBool("SCRIBE_AUDIT_DATABASE", cfg.Database)
	cfg.FilePath = getEnv("SCRIBE_AUDIT_FILE_PATH", cfg.FilePath)
	cfg.FileRotate = getEnvBool("SCRIBE_AUDIT_FILE_ROTATE", cfg.FileRotate)
	cfg.FileSync = getEnvBool("SCRIBE_AUDIT_FILE_SYNC", cfg.FileSync)
	cfg.FileMaxSize = getEnvInt64("SCRIBE_AUDIT_FILE_MAX_SIZE", cfg.FileMaxSize)
	cfg.FileMaxFiles = getEnvInt("SCRIBE_AUDIT_FILE_MAX_FILES", cfg.FileMaxFiles)
	cfg.AMQPURL = getEnv("SCRIBE_AUDIT_AMQP_URL", cfg.AMQPURL)
	cfg.AMQPExchange = getEnv("SCRIBE_AUDIT_AMQP_EXCHANGE", cfg.AMQPExchange)
	cfg.Async = getEnvBool("SCRIBE_AUDIT_ASYNC", cfg.Async)
	cfg.Timeout = getEnvDuration("SCRIBE_AUDIT_TIMEOUT", cfg.Timeout)
}

func loadAuthzConfig(cfg *AuthzConfig) {
	cfg.ShareRetryAttempts = getEnvInt("SCRIBE_SHARE_RETRY_ATTEMPTS", cfg.ShareRetryAttempts)
	cfg.RetryInitialInterval = getEnvDuration("SCRIBE_RETRY_INITIAL_INTERVAL", cfg.RetryInitialInterval)
	cfg.RetryMaxInterval = getEnvDuration("SCRIBE_RETRY_MAX_INTERVAL", cfg.RetryMaxInterval)
	cfg.PageSize = getEnvInt("SCRIBE_PAGE_SIZE", cfg.PageSize)
	cfg.MaxScanResults = getEnvInt("SCRIBE_MAX_SCAN_RESULTS", cfg.MaxScanResults)
	cfg.MaxRecentDays = getEnvInt("SCRIBE_MAX_RECENT_DAYS", cfg.MaxRecentDays)
	cfg.MaxShareMessageLength = getEnvInt("SCRIBE_MAX_SHARE_MESSAGE_LENGTH", cfg.MaxShareMessageLength)
	cfg.ConcealResourceExistence = getEnvBool("SCRIBE_CONCEAL_RESOURCE_EXISTENCE", cfg.ConcealResourceExistence)
}

func loadObservabilityConfig(cfg *ObservabilityConfig) {
	cfg.LogLevel = getEnv("SCRIBE_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(getEnv("SCRIBE_LOG_FORMAT", cfg.LogFormat))
	cfg.MetricsEnabled = getEnvBool("SCRIBE_METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.OTelEnabled = getEnvBool("SCRIBE_OTEL_ENABLED", cfg.OTelEnabled)
	cfg.OTelEndpoint = getEnv("SCRIBE_OTEL_ENDPOINT", cfg.OTelEndpoint)
	cfg.OTelServiceName = getEnv("SCRIBE_OTEL_SERVICE_NAME", cfg.OTelServiceName)
	cfg.OTelServiceVersion = getEnv("SCRIBE_OTEL_SERVICE_VERSION", cfg.OTelServiceVersion)
	cfg.OTelInsecure = getEnvBool("SCRIBE_OTEL_INSECURE", cfg.OTelInsecure)
	cfg.OTelSampleRatio = getEnvFloat("SCRIBE_OTEL_SAMPLE_RATIO", cfg.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.AdminRateLimit < 0 || c.Server.AdminRateBurst < 0 {
		return fmt.Errorf("admin rate limit must not be negative")
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	switch c.Cache.Backend {
	case CacheNone, CacheMemory:
	case CacheLRU:
		if c.Cache.MaxEntries <= 0 {
			return fmt.Errorf("lru cache requires a positive max entries")
		}
	case CacheRedis:
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis cache")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be none, memory, lru, or redis)", c.Cache.Backend)
	}
	if c.Cache.Backend != CacheNone && c.Cache.DefaultTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}

	if c.Audit.Database && c.Store.Type != storage.BackendPostgres {
		return fmt.Errorf("database audit sink requires the postgres store")
	}
	if c.Audit.AMQPURL != "" && c.Audit.AMQPExchange == "" {
		return fmt.Errorf("AMQP exchange is required when an AMQP URL is set")
	}

	if c.Authz.ShareRetryAttempts < 1 {
		return fmt.Errorf("share retry attempts must be at least 1")
	}
	if c.Authz.PageSize < 1 || c.Authz.PageSize > storage.MaxPageSize {
		return fmt.Errorf("page size must be between 1 and %d", storage.MaxPageSize)
	}
	if c.Authz.MaxScanResults < c.Authz.PageSize {
		return fmt.Errorf("max scan results must not be smaller than the page size")
	}
	if c.Authz.MaxRecentDays < 1 {
		return fmt.Errorf("max recent days must be at least 1")
	}

	switch c.Observability.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Observability.LogFormat)
	}
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// ServiceConfig returns the authz.Service settings
func (c *Config) ServiceConfig() authz.Config {
	return authz.Config{
		DefaultTTL:            c.Cache.DefaultTTL,
		ShareRetryAttempts:    c.Authz.ShareRetryAttempts,
		RetryInitialInterval:  c.Authz.RetryInitialInterval,
		RetryMaxInterval:      c.Authz.RetryMaxInterval,
		PageSize:              c.Authz.PageSize,
		MaxScanResults:        c.Authz.MaxScanResults,
		MaxRecentDays:         c.Authz.MaxRecentDays,
		MaxShareMessageLength: c.Authz.MaxShareMessageLength,
		AuditTimeout:          c.Audit.Timeout,
	}
}

// OTelConfig returns the OpenTelemetry settings
func (c *Config) OTelConfig() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.Observability.OTelEnabled,
		Endpoint:       c.Observability.OTelEndpoint,
		ServiceName:    c.Observability.OTelServiceName,
		ServiceVersion: c.Observability.OTelServiceVersion,
		Insecure:       c.Observability.OTelInsecure,
		SampleRatio:    c.Observability.OTelSampleRatio,
	}
}

// Level returns the parsed log level
func (c ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(c.LogLevel)
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
