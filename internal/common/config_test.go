package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.HTTPAddr != ":8080" {
		t.Errorf("http_addr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Worker.Count != 4 || cfg.Worker.QueueSize != 256 {
		t.Errorf("worker = %+v", cfg.Worker)
	}
	if cfg.Worker.LeaseTTL != 30*time.Second || cfg.Worker.HeartbeatInterval != 10*time.Second {
		t.Errorf("lease/heartbeat = %v/%v", cfg.Worker.LeaseTTL, cfg.Worker.HeartbeatInterval)
	}
	if cfg.Cleanup.Retention != 7*24*time.Hour {
		t.Errorf("retention = %v", cfg.Cleanup.Retention)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadConfig_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	raw := `
server:
  http_addr: ":9000"
  max_upload_mb: 25
worker:
  count: 2
  max_attempts: 5
storage:
  db_path: /tmp/x.db
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.HTTPAddr != ":9000" || cfg.Server.MaxUploadMB != 25 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Worker.Count != 2 || cfg.Worker.MaxAttempts != 5 {
		t.Errorf("worker = %+v", cfg.Worker)
	}
	if cfg.Storage.DBPath != "/tmp/x.db" {
		t.Errorf("db_path = %q", cfg.Storage.DBPath)
	}
	// Unset fields still get defaults.
	if cfg.Worker.QueueSize != 256 {
		t.Errorf("queue_size = %d, want default 256", cfg.Worker.QueueSize)
	}
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg.Server.HTTPAddr != ":8080" {
		t.Errorf("http_addr = %q", cfg.Server.HTTPAddr)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("TABMEND_SERVER__HTTP_ADDR", ":7070")
	t.Setenv("TABMEND_WORKER__MAX_ATTEMPTS", "9")
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.HTTPAddr != ":7070" {
		t.Errorf("http_addr = %q, env override lost", cfg.Server.HTTPAddr)
	}
	if cfg.Worker.MaxAttempts != 9 {
		t.Errorf("max_attempts = %d, env override lost", cfg.Worker.MaxAttempts)
	}
}

func TestValidate(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Worker.LeaseTTL = 5 * time.Second
	cfg.Worker.HeartbeatInterval = 10 * time.Second
	if err := cfg.Validate(); err == nil {
		t.Fatal("lease_ttl <= heartbeat_interval should not validate")
	}
}
