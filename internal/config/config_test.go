package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Fatalf("expected default port 8000, got %d", cfg.Server.Port)
	}
	if cfg.Upload.MaxBytes != 200<<20 {
		t.Fatalf("unexpected upload limit %d", cfg.Upload.MaxBytes)
	}
	if cfg.Importer.TickRows != 1000 || cfg.Importer.TickInterval != 500*time.Millisecond {
		t.Fatalf("unexpected tick defaults %+v", cfg.Importer)
	}
	if cfg.Progress.Backend != BackendMemory || cfg.Progress.TTL != time.Hour {
		t.Fatalf("unexpected progress defaults %+v", cfg.Progress)
	}
	if cfg.Gateway.Heartbeat != 15*time.Second {
		t.Fatalf("unexpected heartbeat %v", cfg.Gateway.Heartbeat)
	}
	if cfg.Webhooks.Timeout != 10*time.Second || cfg.Webhooks.Retry.MaxAttempts != 1 {
		t.Fatalf("unexpected webhook defaults %+v", cfg.Webhooks)
	}
	if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != "*" {
		t.Fatalf("unexpected cors defaults %v", cfg.CORS.AllowedOrigins)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
logging:
  development: false
  level: warn
upload:
  max_bytes: 1048576
importer:
  workers: 4
  batch_size: 250
  tick_rows: 100
  tick_interval: 2s
  strict: true
progress:
  backend: redis
  redis_url: redis://localhost:6379/0
  ttl: 30m
database:
  dsn: postgres://u:p@localhost:5432/catalog
  max_conns: 20
storage:
  backend: local
  local:
    base_dir: /tmp/uploads
webhooks:
  rate_per_host: 5
  burst_per_host: 10
  retry:
    max_attempts: 3
    base_delay: 250ms
pubsub:
  project_id: demo
  topic_name: catalog-events
cors:
  allowed_origins: ["https://ui.example.com"]
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "warn" {
		t.Fatalf("unexpected logging %+v", cfg.Logging)
	}
	if cfg.Importer.Workers != 4 || cfg.Importer.BatchSize != 250 || !cfg.Importer.Strict {
		t.Fatalf("unexpected importer %+v", cfg.Importer)
	}
	if cfg.Importer.TickInterval != 2*time.Second {
		t.Fatalf("expected 2s tick interval, got %v", cfg.Importer.TickInterval)
	}
	if cfg.Progress.Backend != BackendRedis || cfg.Progress.TTL != 30*time.Minute {
		t.Fatalf("unexpected progress %+v", cfg.Progress)
	}
	if cfg.Database.MaxConns != 20 || !cfg.Database.Migrate {
		t.Fatalf("unexpected database %+v", cfg.Database)
	}
	if cfg.Storage.Backend != BackendLocal || cfg.Storage.Local.BaseDir != "/tmp/uploads" {
		t.Fatalf("unexpected storage %+v", cfg.Storage)
	}
	if cfg.Webhooks.RatePerHost != 5 || cfg.Webhooks.BurstPerHost != 10 {
		t.Fatalf("unexpected webhook throttling %+v", cfg.Webhooks)
	}
	if cfg.Webhooks.Retry.MaxAttempts != 3 || cfg.Webhooks.Retry.BaseDelay != 250*time.Millisecond {
		t.Fatalf("unexpected retry %+v", cfg.Webhooks.Retry)
	}
	if cfg.PubSub.TopicName != "catalog-events" {
		t.Fatalf("unexpected pubsub %+v", cfg.PubSub)
	}
	if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != "https://ui.example.com" {
		t.Fatalf("unexpected cors %v", cfg.CORS.AllowedOrigins)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("IMPORTER_SERVER_PORT", "7070")
	t.Setenv("IMPORTER_PROGRESS_BACKEND", "redis")
	t.Setenv("IMPORTER_PROGRESS_REDIS_URL", "redis://cache:6379")
	t.Setenv("IMPORTER_WEBHOOKS_TIMEOUT", "3s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected env port 7070, got %d", cfg.Server.Port)
	}
	if cfg.Progress.RedisURL != "redis://cache:6379" {
		t.Fatalf("unexpected redis url %q", cfg.Progress.RedisURL)
	}
	if cfg.Webhooks.Timeout != 3*time.Second {
		t.Fatalf("unexpected webhook timeout %v", cfg.Webhooks.Timeout)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config") {
		t.Fatalf("expected read config error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		return Config{
			Server:   ServerConfig{Port: 8000},
			Upload:   UploadConfig{MaxBytes: 1},
			Importer: ImporterConfig{Workers: 1, QueueDepth: 1, BatchSize: 1},
			Progress: ProgressConfig{Backend: BackendMemory},
			Storage:  StorageConfig{Backend: BackendMemory},
			Webhooks: WebhooksConfig{Retry: RetryConfig{MaxAttempts: 1}},
		}
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"upload", func(c *Config) { c.Upload.MaxBytes = 0 }, "upload.max_bytes"},
		{"workers", func(c *Config) { c.Importer.Workers = 0 }, "importer.workers"},
		{"queue", func(c *Config) { c.Importer.QueueDepth = 0 }, "importer.queue_depth"},
		{"batch", func(c *Config) { c.Importer.BatchSize = 0 }, "importer.batch_size"},
		{"progress backend", func(c *Config) { c.Progress.Backend = "etcd" }, "progress.backend"},
		{"redis url", func(c *Config) { c.Progress.Backend = BackendRedis }, "progress.redis_url"},
		{"storage backend", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"local dir", func(c *Config) { c.Storage.Backend = BackendLocal }, "storage.local.base_dir"},
		{"gcs bucket", func(c *Config) { c.Storage.Backend = BackendGCS }, "storage.gcs_bucket"},
		{"retry", func(c *Config) { c.Webhooks.Retry.MaxAttempts = 0 }, "max_attempts"},
		{"rate", func(c *Config) { c.Webhooks.RatePerHost = -1 }, "rate_per_host"},
		{"pubsub", func(c *Config) { c.PubSub.TopicName = "t" }, "pubsub.project_id"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
