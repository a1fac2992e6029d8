package common

import (
	"errors"
	"io/fs"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all application configuration
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Storage StorageConfig `koanf:"storage"`
	Worker  WorkerConfig  `koanf:"worker"`
	Cleanup CleanupConfig `koanf:"cleanup"`
}

// ServerConfig holds HTTP listener configuration.
type ServerConfig struct {
	HTTPAddr    string `koanf:"http_addr"`
	MetricsAddr string `koanf:"metrics_addr"`
	MaxUploadMB int64  `koanf:"max_upload_mb"`
}

// StorageConfig holds job store and blob store configuration.
type StorageConfig struct {
	DBPath  string `koanf:"db_path"`
	BlobDir string `koanf:"blob_dir"`
}

// WorkerConfig holds the worker pool and retry policy configuration.
type WorkerConfig struct {
	Count             int           `koanf:"count"`
	QueueSize         int           `koanf:"queue_size"`
	ProcessTimeout    time.Duration `koanf:"process_timeout"`
	LeaseTTL          time.Duration `koanf:"lease_ttl"`
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	MaxAttempts       int           `koanf:"max_attempts"`
	RetryDelay        time.Duration `koanf:"retry_delay"`
}

// CleanupConfig controls retention of failed jobs.
type CleanupConfig struct {
	Retention time.Duration `koanf:"retention"`
	Interval  time.Duration `koanf:"interval"`
}

// LoadConfig merges YAML (if present) with env vars
// (prefix `TABMEND_`, delimiter `__`).
func LoadConfig(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	_ = k.Load(env.Provider("TABMEND_", "__", nil), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(c *Config) {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Server.MetricsAddr == "" {
		c.Server.MetricsAddr = ":9091"
	}
	if c.Server.MaxUploadMB == 0 {
		c.Server.MaxUploadMB = 10
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = "./tabmend.db"
	}
	if c.Storage.BlobDir == "" {
		c.Storage.BlobDir = "./blobs"
	}
	if c.Worker.Count == 0 {
		c.Worker.Count = 4
	}
	if c.Worker.QueueSize == 0 {
		c.Worker.QueueSize = 256
	}
	if c.Worker.ProcessTimeout == 0 {
		c.Worker.ProcessTimeout = 3 * time.Minute
	}
	if c.Worker.LeaseTTL == 0 {
		c.Worker.LeaseTTL = 30 * time.Second
	}
	if c.Worker.HeartbeatInterval == 0 {
		c.Worker.HeartbeatInterval = 10 * time.Second
	}
	if c.Worker.MaxAttempts == 0 {
		c.Worker.MaxAttempts = 3
	}
	if c.Worker.RetryDelay == 0 {
		c.Worker.RetryDelay = time.Minute
	}
	if c.Cleanup.Retention == 0 {
		c.Cleanup.Retention = 7 * 24 * time.Hour
	}
	if c.Cleanup.Interval == 0 {
		c.Cleanup.Interval = time.Hour
	}
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Storage.DBPath == "" {
		return NewAppError("CONFIG_ERROR", "storage.db_path is required", ErrInternal)
	}
	if c.Storage.BlobDir == "" {
		return NewAppError("CONFIG_ERROR", "storage.blob_dir is required", ErrInternal)
	}
	if c.Worker.LeaseTTL <= c.Worker.HeartbeatInterval {
		return NewAppError("CONFIG_ERROR", "worker.lease_ttl must exceed worker.heartbeat_interval", ErrInternal)
	}
	return nil
}
