// Package config loads and validates importer configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// Backend names.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Importer ImporterConfig `mapstructure:"importer"`
	Progress ProgressConfig `mapstructure:"progress"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Webhooks WebhooksConfig `mapstructure:"webhooks"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	CORS     CORSConfig     `mapstructure:"cors"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig toggles zap development features and the level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// UploadConfig bounds accepted uploads.
type UploadConfig struct {
	MaxBytes int64 `mapstructure:"max_bytes"`
}

// ImporterConfig sizes the worker pool and the import loop.
type ImporterConfig struct {
	Workers      int           `mapstructure:"workers"`
	QueueDepth   int           `mapstructure:"queue_depth"`
	BatchSize    int           `mapstructure:"batch_size"`
	TickRows     int           `mapstructure:"tick_rows"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
	Strict       bool          `mapstructure:"strict"`
	CountFirst   bool          `mapstructure:"count_first"`
}

// ProgressConfig selects the progress store backend.
type ProgressConfig struct {
	Backend          string        `mapstructure:"backend"`
	RedisURL         string        `mapstructure:"redis_url"`
	TTL              time.Duration `mapstructure:"ttl"`
	SubscriberBuffer int           `mapstructure:"subscriber_buffer"`
}

// GatewayConfig tunes the progress stream.
type GatewayConfig struct {
	Heartbeat time.Duration `mapstructure:"heartbeat"`
}

// DatabaseConfig controls access to Postgres. An empty DSN keeps the catalog
// and webhook registry in memory.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// StorageConfig sets where uploads are staged.
type StorageConfig struct {
	Backend   string             `mapstructure:"backend"`
	Prefix    string             `mapstructure:"prefix"`
	Local     LocalStorageConfig `mapstructure:"local"`
	GCSBucket string             `mapstructure:"gcs_bucket"`
}

// LocalStorageConfig configures the filesystem backend.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// WebhooksConfig tunes outbound delivery.
type WebhooksConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	BufferSize    int           `mapstructure:"buffer_size"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	RatePerHost   float64       `mapstructure:"rate_per_host"`
	BurstPerHost  int           `mapstructure:"burst_per_host"`
	Retry         RetryConfig   `mapstructure:"retry"`
}

// RetryConfig controls webhook fan-out retries.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// PubSubConfig holds the topic events are mirrored to. An empty topic
// disables mirroring.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// CORSConfig lists the origins browsers may call from.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("IMPORTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Every key gets a default, even an empty one, so AutomaticEnv can override
// it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("upload.max_bytes", 200<<20)
	v.SetDefault("importer.workers", 2)
	v.SetDefault("importer.queue_depth", 64)
	v.SetDefault("importer.batch_size", 1000)
	v.SetDefault("importer.tick_rows", 1000)
	v.SetDefault("importer.tick_interval", 500*time.Millisecond)
	v.SetDefault("importer.strict", false)
	v.SetDefault("importer.count_first", true)
	v.SetDefault("progress.backend", BackendMemory)
	v.SetDefault("progress.redis_url", "")
	v.SetDefault("progress.ttl", time.Hour)
	v.SetDefault("progress.subscriber_buffer", 16)
	v.SetDefault("gateway.heartbeat", 15*time.Second)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("database.migrate", true)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.prefix", "uploads")
	v.SetDefault("storage.local.base_dir", "")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("webhooks.timeout", 10*time.Second)
	v.SetDefault("webhooks.buffer_size", 1024)
	v.SetDefault("webhooks.max_concurrent", 8)
	v.SetDefault("webhooks.rate_per_host", 0)
	v.SetDefault("webhooks.burst_per_host", 0)
	v.SetDefault("webhooks.retry.max_attempts", 1)
	v.SetDefault("webhooks.retry.base_delay", 500*time.Millisecond)
	v.SetDefault("webhooks.retry.max_delay", 30*time.Second)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("cors.allowed_origins", []string{"*"})
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Logging.Level != "" {
		if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
			return fmt.Errorf("logging.level: %w", err)
		}
	}
	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload.max_bytes must be > 0")
	}
	if c.Importer.Workers <= 0 {
		return fmt.Errorf("importer.workers must be > 0")
	}
	if c.Importer.QueueDepth <= 0 {
		return fmt.Errorf("importer.queue_depth must be > 0")
	}
	if c.Importer.BatchSize <= 0 {
		return fmt.Errorf("importer.batch_size must be > 0")
	}
	switch c.Progress.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Progress.RedisURL == "" {
			return fmt.Errorf("progress.redis_url must be set for the redis backend")
		}
	default:
		return fmt.Errorf("progress.backend must be %q or %q, got %q", BackendMemory, BackendRedis, c.Progress.Backend)
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendLocal:
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory, local, gcs; got %q", c.Storage.Backend)
	}
	if c.Webhooks.Retry.MaxAttempts < 1 {
		return fmt.Errorf("webhooks.retry.max_attempts must be >= 1")
	}
	if c.Webhooks.RatePerHost < 0 || c.Webhooks.BurstPerHost < 0 {
		return fmt.Errorf("webhooks.rate_per_host and burst_per_host must be >= 0")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is")
	}
	return nil
}
