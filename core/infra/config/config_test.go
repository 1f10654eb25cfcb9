package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"NATS_URL", "REDIS_URL", "HTTP_ADDR", "METRICS_ADDR",
		"JOB_POLL_INTERVAL", "JOB_PROGRESS_SUBJECT", "DISABLE_BROKER", "EXPORT_WORKERS",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.NatsURL != "nats://localhost:4222" || cfg.RedisURL != "redis://localhost:6379" {
		t.Fatalf("urls %+v", cfg)
	}
	if cfg.HTTPAddr != ":8080" || cfg.MetricsAddr != ":9092" {
		t.Fatalf("addrs %+v", cfg)
	}
	if cfg.PollInterval != 5*time.Second || cfg.ExportWorkers != 4 {
		t.Fatalf("tuning %+v", cfg)
	}
	if cfg.BrokerDisabled {
		t.Fatal("broker disabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("NATS_URL", "nats://broker:4222")
	t.Setenv("JOB_POLL_INTERVAL", "250ms")
	t.Setenv("DISABLE_BROKER", "true")
	t.Setenv("EXPORT_WORKERS", "8")

	cfg := Load()
	if cfg.NatsURL != "nats://broker:4222" {
		t.Fatalf("nats %q", cfg.NatsURL)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Fatalf("poll %v", cfg.PollInterval)
	}
	if !cfg.BrokerDisabled || cfg.ExportWorkers != 8 {
		t.Fatalf("cfg %+v", cfg)
	}
}

func TestLoadQueueFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queues.yaml")
	content := `queues:
  - queue: graph-extraction
    poll_interval: 2s
    max_attempts: 3
  - queue: collection-export
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	settings, err := LoadQueueFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	extraction := settings["graph-extraction"]
	if extraction.PollInterval != 2*time.Second || extraction.MaxAttempts != 3 {
		t.Fatalf("extraction %+v", extraction)
	}
	export := settings["collection-export"]
	if export.PollInterval != 0 || export.MaxAttempts != 1 {
		t.Fatalf("export %+v", export)
	}
}

func TestLoadQueueFileMissing(t *testing.T) {
	settings, err := LoadQueueFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(settings) != 0 {
		t.Fatalf("settings %+v", settings)
	}
}

func TestLoadQueueFileBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queues.yaml")
	if err := os.WriteFile(path, []byte("queues:\n  - queue: a\n    poll_interval: soon\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadQueueFile(path); err == nil {
		t.Fatal("expected duration parse error")
	}
}
