package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	Tokens    TokensConfig    `yaml:"tokens"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	API       APIConfig       `yaml:"api"`
	AWS       AWSConfig       `yaml:"aws"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port                   int    `yaml:"port"`
	Host                   string `yaml:"host"`
	ReadTimeoutSeconds     int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds    int    `yaml:"write_timeout_seconds"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port for http.Server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

func (c ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

func (c ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// StorageConfig selects where events, states and analytics rows live.
type StorageConfig struct {
	Backend string `yaml:"backend"` // "postgres" or "memory"
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL                    string `yaml:"url"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	AutoMigrate            bool   `yaml:"auto_migrate"`
}

func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute
}

// RedisConfig holds Redis settings. An empty URL disables every Redis
// feature (token cache, shared dirty set, Redis locks).
type RedisConfig struct {
	URL string `yaml:"url"`
}

// Enabled reports whether a Redis URL is configured.
func (c RedisConfig) Enabled() bool { return c.URL != "" }

// TrackingConfig holds tracking edge settings
type TrackingConfig struct {
	RecordTimeoutMs int    `yaml:"record_timeout_ms"`
	Dispatch        string `yaml:"dispatch"` // "direct" or "sqs"
	MaxInflight     int    `yaml:"max_inflight"`
	SQSQueueURL     string `yaml:"sqs_queue_url"`
	// TrustedProxies lists CIDRs or addresses allowed to set X-Forwarded-For.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// RecordTimeout bounds a single capture's record or publish.
func (c TrackingConfig) RecordTimeout() time.Duration {
	return time.Duration(c.RecordTimeoutMs) * time.Millisecond
}

// TokensConfig selects the token resolver backend.
type TokensConfig struct {
	Backend                 string `yaml:"backend"` // "postgres", "dynamodb" or "memory"
	DynamoDBTable           string `yaml:"dynamodb_table"`
	CacheTTLSeconds         int    `yaml:"cache_ttl_seconds"`
	NegativeCacheTTLSeconds int    `yaml:"negative_cache_ttl_seconds"`
}

func (c TokensConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func (c TokensConfig) NegativeCacheTTL() time.Duration {
	return time.Duration(c.NegativeCacheTTLSeconds) * time.Second
}

// AnalyticsConfig holds aggregator and refresher settings
type AnalyticsConfig struct {
	RefreshIntervalSeconds int    `yaml:"refresh_interval_seconds"`
	BatchSize              int    `yaml:"batch_size"`
	LockTTLSeconds         int    `yaml:"lock_ttl_seconds"`
	SweepIntervalMinutes   int    `yaml:"sweep_interval_minutes"` // 0 disables the full sweep
	DirtyKey               string `yaml:"dirty_key"`
	S3Bucket               string `yaml:"s3_bucket"`
	S3Prefix               string `yaml:"s3_prefix"`
	ArchiveLocalPath       string `yaml:"archive_local_path"`
}

func (c AnalyticsConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSeconds) * time.Second
}

func (c AnalyticsConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

func (c AnalyticsConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

// APIConfig holds settings for the non-tracking HTTP endpoints
type APIConfig struct {
	APIKey         string   `yaml:"api_key"`
	RateLimit      float64  `yaml:"rate_limit"` // requests per second per client IP
	Burst          int      `yaml:"burst"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// AWSConfig holds region and credentials shared by SQS, S3 and DynamoDB
type AWSConfig struct {
	Region          string `yaml:"region"`
	Profile         string `yaml:"profile"` // Empty string uses default credential chain (IAM role on ECS)
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Endpoint        string `yaml:"endpoint"`
}

// GetProfile returns the AWS profile, with environment variable override
func (c AWSConfig) GetProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return "" // Use default credential chain (IAM role)
		}
		return envProfile
	}
	// On ECS/Lambda, don't use a profile - use IAM role
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.Profile
}

// LoggingConfig holds log settings
type LoggingConfig struct {
	Level   string `yaml:"level"`
	ShowPII bool   `yaml:"show_pii"`
}

// Load reads and parses the configuration file. An empty path yields the
// defaults, for deployments configured purely through the environment.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.ReadTimeoutSeconds == 0 {
		cfg.Server.ReadTimeoutSeconds = 10
	}
	if cfg.Server.WriteTimeoutSeconds == 0 {
		cfg.Server.WriteTimeoutSeconds = 15
	}
	if cfg.Server.ShutdownTimeoutSeconds == 0 {
		cfg.Server.ShutdownTimeoutSeconds = 15
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "postgres"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMinutes == 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 5
	}
	if cfg.Tracking.RecordTimeoutMs == 0 {
		cfg.Tracking.RecordTimeoutMs = 2000
	}
	if cfg.Tracking.Dispatch == "" {
		cfg.Tracking.Dispatch = "direct"
	}
	if cfg.Tracking.MaxInflight == 0 {
		cfg.Tracking.MaxInflight = 1024
	}
	if cfg.Tokens.Backend == "" {
		cfg.Tokens.Backend = cfg.Storage.Backend
	}
	if cfg.Tokens.CacheTTLSeconds == 0 {
		cfg.Tokens.CacheTTLSeconds = 3600
	}
	if cfg.Tokens.NegativeCacheTTLSeconds == 0 {
		cfg.Tokens.NegativeCacheTTLSeconds = 60
	}
	if cfg.Analytics.RefreshIntervalSeconds == 0 {
		cfg.Analytics.RefreshIntervalSeconds = 10
	}
	if cfg.Analytics.BatchSize == 0 {
		cfg.Analytics.BatchSize = 100
	}
	if cfg.Analytics.LockTTLSeconds == 0 {
		cfg.Analytics.LockTTLSeconds = 60
	}
	if cfg.Analytics.DirtyKey == "" {
		cfg.Analytics.DirtyKey = "analytics:dirty"
	}
	if cfg.Analytics.S3Prefix == "" {
		cfg.Analytics.S3Prefix = "campaign-analytics"
	}
	if cfg.API.RateLimit == 0 {
		cfg.API.RateLimit = 20
	}
	if cfg.API.Burst == 0 {
		cfg.API.Burst = 40
	}
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-west-2"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		// Tokens follow storage unless configured separately.
		if cfg.Tokens.Backend == cfg.Storage.Backend {
			cfg.Tokens.Backend = v
		}
		cfg.Storage.Backend = v
	}
	// Database override (critical for ECS deployment where config.yaml has local defaults)
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("SQS_TRACKING_QUEUE_URL"); v != "" {
		cfg.Tracking.SQSQueueURL = v
		cfg.Tracking.Dispatch = "sqs"
	}
	if v := os.Getenv("TRACKING_TRUSTED_PROXIES"); v != "" {
		cfg.Tracking.TrustedProxies = strings.Split(v, ",")
	}
	if v := os.Getenv("TRACKING_DISPATCH"); v != "" {
		cfg.Tracking.Dispatch = v
	}
	if v := os.Getenv("TOKENS_BACKEND"); v != "" {
		cfg.Tokens.Backend = v
	}
	if v := os.Getenv("TOKENS_DYNAMODB_TABLE"); v != "" {
		cfg.Tokens.DynamoDBTable = v
	}
	if v := os.Getenv("ANALYTICS_S3_BUCKET"); v != "" {
		cfg.Analytics.S3Bucket = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		cfg.API.APIKey = v
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.API.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.AWS.Region = v
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		cfg.AWS.AccessKeyID = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.AWS.SecretAccessKey = v
	}
	if v := os.Getenv("AWS_ENDPOINT_URL"); v != "" {
		cfg.AWS.Endpoint = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return cfg, nil
}

// Validate checks that every selected backend has what it needs.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for the postgres backend"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q must be postgres or memory", c.Storage.Backend))
	}

	switch c.Tokens.Backend {
	case "postgres":
		if c.Storage.Backend != "postgres" {
			errs = append(errs, errors.New("tokens.backend postgres requires storage.backend postgres"))
		}
	case "memory":
		if c.Storage.Backend != "memory" {
			errs = append(errs, errors.New("tokens.backend memory requires storage.backend memory"))
		}
	case "dynamodb":
		if c.Tokens.DynamoDBTable == "" {
			errs = append(errs, errors.New("tokens.dynamodb_table is required for the dynamodb backend"))
		}
		// The memory store only learns campaigns from the tokens it holds.
		if c.Storage.Backend == "memory" {
			errs = append(errs, errors.New("tokens.backend dynamodb requires storage.backend postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("tokens.backend %q must be postgres, dynamodb or memory", c.Tokens.Backend))
	}

	switch c.Tracking.Dispatch {
	case "direct":
	case "sqs":
		if c.Tracking.SQSQueueURL == "" {
			errs = append(errs, errors.New("tracking.sqs_queue_url is required for sqs dispatch"))
		}
	default:
		errs = append(errs, fmt.Errorf("tracking.dispatch %q must be direct or sqs", c.Tracking.Dispatch))
	}

	for _, p := range c.Tracking.TrustedProxies {
		p = strings.TrimSpace(p)
		if _, err := netip.ParsePrefix(p); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(p); err != nil && p != "" {
			errs = append(errs, fmt.Errorf("tracking.trusted_proxies entry %q is not a CIDR or IP address", p))
		}
	}

	if c.Tracking.MaxInflight < 0 {
		errs = append(errs, errors.New("tracking.max_inflight must be positive"))
	}
	return errors.Join(errs...)
}
