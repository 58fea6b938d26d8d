package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "0.0.0.0"

storage:
  backend: postgres

database:
  url: "postgres://localhost/engagement?sslmode=disable"
  max_open_conns: 40

tracking:
  record_timeout_ms: 1500
  dispatch: sqs
  max_inflight: 256
  sqs_queue_url: "https://sqs.us-east-1.amazonaws.com/123/tracking"

tokens:
  backend: dynamodb
  dynamodb_table: tracking-tokens
  cache_ttl_seconds: 600

analytics:
  refresh_interval_seconds: 30
  s3_bucket: analytics-archive

api:
  api_key: secret
  allowed_origins: ["https://dash.example.com"]
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 40, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5, cfg.Database.MaxIdleConns)
	assert.Equal(t, 1500*time.Millisecond, cfg.Tracking.RecordTimeout())
	assert.Equal(t, "sqs", cfg.Tracking.Dispatch)
	assert.Equal(t, 256, cfg.Tracking.MaxInflight)
	assert.Equal(t, "dynamodb", cfg.Tokens.Backend)
	assert.Equal(t, 10*time.Minute, cfg.Tokens.CacheTTL())
	assert.Equal(t, time.Minute, cfg.Tokens.NegativeCacheTTL())
	assert.Equal(t, 30*time.Second, cfg.Analytics.RefreshInterval())
	assert.Equal(t, "campaign-analytics", cfg.Analytics.S3Prefix)
	assert.Equal(t, []string{"https://dash.example.com"}, cfg.API.AllowedOrigins)
	assert.NoError(t, cfg.Validate())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "postgres", cfg.Storage.Backend)
	assert.Equal(t, "postgres", cfg.Tokens.Backend)
	assert.Equal(t, "direct", cfg.Tracking.Dispatch)
	assert.Equal(t, 2*time.Second, cfg.Tracking.RecordTimeout())
	assert.Equal(t, 1024, cfg.Tracking.MaxInflight)
	assert.Equal(t, 10*time.Second, cfg.Analytics.RefreshInterval())
	assert.Equal(t, time.Minute, cfg.Analytics.LockTTL())
	assert.Equal(t, "analytics:dirty", cfg.Analytics.DirtyKey)
	assert.Equal(t, "us-west-2", cfg.AWS.Region)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoadNonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("invalid: yaml: content: ["), 0644))

	_, err := Load(configPath)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("SQS_TRACKING_QUEUE_URL", "https://sqs.local/q")
	t.Setenv("API_KEY", "from-env")
	t.Setenv("ANALYTICS_S3_BUCKET", "env-bucket")
	t.Setenv("TOKENS_DYNAMODB_TABLE", "env-table")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")
	t.Setenv("TRACKING_TRUSTED_PROXIES", "10.0.0.0/8,172.16.0.1")

	cfg, err := LoadFromEnv("")
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "postgres://env/db", cfg.Database.URL)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, "sqs", cfg.Tracking.Dispatch)
	assert.Equal(t, "https://sqs.local/q", cfg.Tracking.SQSQueueURL)
	assert.Equal(t, "from-env", cfg.API.APIKey)
	assert.Equal(t, "env-bucket", cfg.Analytics.S3Bucket)
	assert.Equal(t, "env-table", cfg.Tokens.DynamoDBTable)
	assert.Len(t, cfg.API.AllowedOrigins, 2)
	assert.Equal(t, []string{"10.0.0.0/8", "172.16.0.1"}, cfg.Tracking.TrustedProxies)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), "database.url")

	cfg.Storage.Backend = "memory"
	cfg.Tokens.Backend = "memory"
	assert.NoError(t, cfg.Validate())

	cfg.Tracking.Dispatch = "sqs"
	assert.ErrorContains(t, cfg.Validate(), "sqs_queue_url")

	cfg.Tracking.Dispatch = "kafka"
	assert.ErrorContains(t, cfg.Validate(), "tracking.dispatch")

	cfg.Tracking.Dispatch = "direct"
	cfg.Tracking.TrustedProxies = []string{"10.0.0.0/8", "192.168.1.5", "lb.internal"}
	assert.ErrorContains(t, cfg.Validate(), `"lb.internal"`)
	cfg.Tracking.TrustedProxies = []string{"10.0.0.0/8", "192.168.1.5"}
	assert.NoError(t, cfg.Validate())

	cfg.Tokens.Backend = "dynamodb"
	assert.ErrorContains(t, cfg.Validate(), "dynamodb_table")

	cfg.Tokens.DynamoDBTable = "tracking-tokens"
	assert.ErrorContains(t, cfg.Validate(), "tokens.backend dynamodb requires storage.backend postgres")

	cfg.Storage.Backend = "postgres"
	cfg.Database.URL = "postgres://localhost/tracking"
	assert.NoError(t, cfg.Validate())
}

func TestServerConfig_GetHostFromEnv(t *testing.T) {
	t.Setenv("SERVER_HOST", "127.0.0.2")
	c := ServerConfig{Host: "localhost", Port: 81}
	assert.Equal(t, "127.0.0.2:81", c.Addr())
}

func TestAWSConfig_GetProfile(t *testing.T) {
	c := AWSConfig{Profile: "dev"}
	assert.Equal(t, "dev", c.GetProfile())

	t.Setenv("AWS_PROFILE_OVERRIDE", "iam")
	assert.Equal(t, "", c.GetProfile())
}
