package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ignite/conversion-sync/internal/adplatform"
	"github.com/ignite/conversion-sync/internal/conversions"
	"github.com/ignite/conversion-sync/internal/pkg/logger"
	"github.com/ignite/conversion-sync/internal/service/pipeline"
	"github.com/ignite/conversion-sync/internal/snowflake"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all configuration for the application
type Config struct {
	Environment string            `yaml:"environment"`
	LogLevel    string            `yaml:"log_level"`
	Server      ServerConfig      `yaml:"server"`
	Snowflake   snowflake.Config  `yaml:"snowflake"`
	AdPlatform  adplatform.Config `yaml:"adplatform"`
	Secrets     SecretsConfig     `yaml:"secrets"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Redis       RedisConfig       `yaml:"redis"`
	Database    DatabaseConfig    `yaml:"database"`
	RunStore    RunStoreConfig    `yaml:"run_store"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Notify      NotifyConfig      `yaml:"notify"`
	AWS         AWSConfig         `yaml:"aws"`
	Worker      WorkerConfig      `yaml:"worker"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// WriteTimeoutSeconds must cover a full synchronous run.
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr is host:port.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

func (c ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// SecretsConfig selects where ad-platform credentials come from.
type SecretsConfig struct {
	Provider string `yaml:"provider"` // "env" or "aws"
	SecretID string `yaml:"secret_id"`
	EnvFile  string `yaml:"env_file"`
}

// PipelineConfig tunes chunking, concurrency and the retry loop.
type PipelineConfig struct {
	ChunkSize     int `yaml:"chunk_size"`
	MaxRounds     int `yaml:"max_rounds"`
	MapWorkers    int `yaml:"map_workers"`
	UploadWorkers int `yaml:"upload_workers"`
	RoundDelayMS  int `yaml:"round_delay_ms"`
}

// RoundDelay returns the pause between upload rounds.
func (c PipelineConfig) RoundDelay() time.Duration {
	return time.Duration(c.RoundDelayMS) * time.Millisecond
}

// ServiceConfig converts to the pipeline service settings.
func (c PipelineConfig) ServiceConfig() pipeline.Config {
	return pipeline.Config{
		ChunkSize:     c.ChunkSize,
		MapWorkers:    c.MapWorkers,
		UploadWorkers: c.UploadWorkers,
		Uploader: conversions.UploaderConfig{
			MaxRounds:  c.MaxRounds,
			RoundDelay: c.RoundDelay(),
		},
	}
}

// RedisConfig holds the run lock backend. Empty Addr disables Redis and
// falls back to Postgres advisory locks.
type RedisConfig struct {
	Addr           string `yaml:"addr"`
	Password       string `yaml:"password"`
	DB             int    `yaml:"db"`
	LockTTLSeconds int    `yaml:"lock_ttl_seconds"`
}

func (c RedisConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// DatabaseConfig holds the Postgres connection used for run history and
// advisory locks.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// RunStoreConfig selects the run history backend.
type RunStoreConfig struct {
	Type  string `yaml:"type"` // "postgres", "dynamodb" or "none"
	Table string `yaml:"table"`
}

// ArchiveConfig holds the S3 destination for chunk files. Empty Bucket
// disables archiving.
type ArchiveConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

// NotifyConfig holds the SQS queue for run events. Empty QueueURL
// disables notifications.
type NotifyConfig struct {
	QueueURL string `yaml:"queue_url"`
}

// AWSConfig is shared by every AWS client.
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
			return ""
		}
		return envProfile
	}
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.Profile
}

// WorkerConfig drives cmd/worker.
type WorkerConfig struct {
	IntervalSeconds int            `yaml:"interval_seconds"`
	Targets         []TargetConfig `yaml:"targets"`
}

// Interval returns the scheduling interval as a duration
func (c WorkerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// TargetConfig is one scheduled table sync.
type TargetConfig struct {
	ProjectID string `yaml:"project_id"`
	DatasetID string `yaml:"dataset_id"`
	TableName string `yaml:"table_name"`
	Target    string `yaml:"target"`
}

// RunRequest converts the target to a pipeline request.
func (t TargetConfig) RunRequest() pipeline.RunRequest {
	return pipeline.RunRequest{ProjectID: t.ProjectID, DatasetID: t.DatasetID, TableName: t.TableName, Target: t.Target}
}

// Level maps LogLevel to a logger level; unknown values are INFO.
func (c *Config) Level() logger.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return logger.DEBUG
	case "warn", "warning":
		return logger.WARN
	case "error":
		return logger.ERROR
	}
	return logger.INFO
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.WriteTimeoutSeconds == 0 {
		c.Server.WriteTimeoutSeconds = 900
	}
	if c.AdPlatform.BaseURL == "" {
		c.AdPlatform.BaseURL = "https://googleads.googleapis.com"
	}
	if c.AdPlatform.APIVersion == "" {
		c.AdPlatform.APIVersion = "v17"
	}
	if c.AdPlatform.TokenURL == "" {
		c.AdPlatform.TokenURL = "https://oauth2.googleapis.com/token"
	}
	if c.AdPlatform.TimeoutSeconds == 0 {
		c.AdPlatform.TimeoutSeconds = 60
	}
	if c.AdPlatform.MaxRetries == 0 {
		c.AdPlatform.MaxRetries = 3
	}
	if c.Secrets.Provider == "" {
		c.Secrets.Provider = "env"
	}
	if c.Pipeline.ChunkSize == 0 {
		c.Pipeline.ChunkSize = conversions.DefaultChunkSize
	}
	if c.Pipeline.MaxRounds == 0 {
		c.Pipeline.MaxRounds = conversions.DefaultMaxRounds
	}
	if c.Pipeline.MapWorkers == 0 {
		c.Pipeline.MapWorkers = 8
	}
	if c.Pipeline.UploadWorkers == 0 {
		c.Pipeline.UploadWorkers = 4
	}
	if c.Redis.LockTTLSeconds == 0 {
		c.Redis.LockTTLSeconds = 3600
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.RunStore.Type == "" {
		c.RunStore.Type = "postgres"
	}
	if c.RunStore.Table == "" {
		c.RunStore.Table = "conversion-sync-runs"
	}
	if c.Archive.Prefix == "" {
		c.Archive.Prefix = "conversion-uploads"
	}
	if c.AWS.Region == "" {
		c.AWS.Region = "us-west-2"
	}
	if c.Worker.IntervalSeconds == 0 {
		c.Worker.IntervalSeconds = 3600
	}
}

// Validate rejects settings the services cannot start with.
func (c *Config) Validate() error {
	var problems []string
	if c.Pipeline.ChunkSize < 1 {
		problems = append(problems, "pipeline.chunk_size must be positive")
	}
	if c.Pipeline.MaxRounds < 1 {
		problems = append(problems, "pipeline.max_rounds must be positive")
	}
	switch c.Secrets.Provider {
	case "env":
	case "aws":
		if c.Secrets.SecretID == "" {
			problems = append(problems, "secrets.secret_id is required for the aws provider")
		}
	default:
		problems = append(problems, fmt.Sprintf("secrets.provider %q is not env or aws", c.Secrets.Provider))
	}
	switch c.RunStore.Type {
	case "none", "postgres":
	case "dynamodb":
		if c.RunStore.Table == "" {
			problems = append(problems, "run_store.table is required for dynamodb")
		}
	default:
		problems = append(problems, fmt.Sprintf("run_store.type %q is not postgres, dynamodb or none", c.RunStore.Type))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	// Snowflake: a full connection string wins over individual keys.
	if v := os.Getenv("SNOWFLAKE_CONNECTION_STRING"); v != "" {
		parsed := snowflake.ParseConnectionString(v)
		parsed.Enabled = true
		cfg.Snowflake = parsed
	}
	if v := os.Getenv("SNOWFLAKE_ACCOUNT"); v != "" {
		cfg.Snowflake.Account = v
	}
	if v := os.Getenv("SNOWFLAKE_USER"); v != "" {
		cfg.Snowflake.User = v
	}
	if v := os.Getenv("SNOWFLAKE_PASSWORD"); v != "" {
		cfg.Snowflake.Password = v
	}
	if v := os.Getenv("SNOWFLAKE_WAREHOUSE"); v != "" {
		cfg.Snowflake.Warehouse = v
	}
	if v := os.Getenv("SNOWFLAKE_ROLE"); v != "" {
		cfg.Snowflake.Role = v
	}

	if v := os.Getenv("ADS_API_VERSION"); v != "" {
		cfg.AdPlatform.APIVersion = v
	}
	if v := os.Getenv("ADS_LOGIN_CUSTOMER_ID"); v != "" {
		cfg.AdPlatform.LoginCustomerID = v
	}
	if v := os.Getenv("SECRETS_PROVIDER"); v != "" {
		cfg.Secrets.Provider = v
	}
	if v := os.Getenv("ADS_SECRET_ID"); v != "" {
		cfg.Secrets.SecretID = v
	}

	// Database override (critical for ECS deployment where config.yaml has local defaults)
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("RUN_STORE_TYPE"); v != "" {
		cfg.RunStore.Type = v
	}
	if v := os.Getenv("RUN_STORE_TABLE"); v != "" {
		cfg.RunStore.Table = v
	}
	if v := os.Getenv("ARCHIVE_BUCKET"); v != "" {
		cfg.Archive.Bucket = v
	}
	if v := os.Getenv("NOTIFY_QUEUE_URL"); v != "" {
		cfg.Notify.QueueURL = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.AWS.Region = v
	}
	if v := os.Getenv("AWS_ENDPOINT_URL"); v != "" {
		cfg.AWS.Endpoint = v
	}

	return cfg, nil
}
