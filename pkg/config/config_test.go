package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Pipeline.ChunkLength != 600*time.Second {
		t.Errorf("chunk length = %v, want 600s", cfg.Pipeline.ChunkLength)
	}
	if cfg.Pipeline.Workers != 5 {
		t.Errorf("workers = %d, want 5", cfg.Pipeline.Workers)
	}
	if cfg.Pipeline.Deadline != 14*time.Minute {
		t.Errorf("deadline = %v, want 14m", cfg.Pipeline.Deadline)
	}
	if cfg.Pipeline.LeaseTTL <= cfg.Pipeline.Deadline {
		t.Errorf("default lease TTL %v does not exceed deadline %v", cfg.Pipeline.LeaseTTL, cfg.Pipeline.Deadline)
	}
	if cfg.Kafka.MaxReceives != 3 {
		t.Errorf("max receives = %d, want 3", cfg.Kafka.MaxReceives)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
pipeline:
  chunkLength: 5m
  workers: 2
kafka:
  topic: custom-uploads
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Pipeline.ChunkLength != 5*time.Minute {
		t.Errorf("chunk length = %v, want 5m", cfg.Pipeline.ChunkLength)
	}
	if cfg.Pipeline.Workers != 2 {
		t.Errorf("workers = %d, want 2", cfg.Pipeline.Workers)
	}
	if cfg.Kafka.Topic != "custom-uploads" {
		t.Errorf("topic = %q, want custom-uploads", cfg.Kafka.Topic)
	}
	// Untouched fields keep their defaults.
	if cfg.Pipeline.Deadline != 14*time.Minute {
		t.Errorf("deadline = %v, want default 14m", cfg.Pipeline.Deadline)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MW_POSTGRES_HOST", "db.internal")
	t.Setenv("MW_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("MW_TRANSCRIBER_API_KEY", "sekrit")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Postgres.Host != "db.internal" {
		t.Errorf("postgres host = %q, want db.internal", cfg.Postgres.Host)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("brokers = %v, want [k1:9092 k2:9092]", cfg.Kafka.Brokers)
	}
	if cfg.Transcriber.APIKey != "sekrit" {
		t.Errorf("transcriber api key not taken from environment")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Load() succeeded for missing file, want error")
	}
}

func TestValidateRejectsLeaseNotExceedingDeadline(t *testing.T) {
	path := writeConfigFile(t, `
pipeline:
  deadline: 14m
  leaseTtl: 14m
`)
	if _, err := Load(path); err == nil {
		t.Error("Load() accepted leaseTtl equal to deadline, want error")
	}
}

func TestValidateRejectsNegativeReceiveBackoff(t *testing.T) {
	path := writeConfigFile(t, `
kafka:
  receiveBackoff: -1s
`)
	if _, err := Load(path); err == nil {
		t.Error("Load() accepted negative receiveBackoff, want error")
	}
}

func TestValidateRejectsBadChunking(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"zero chunk length", "pipeline:\n  chunkLength: 0s\n"},
		{"overlap at chunk length", "pipeline:\n  chunkLength: 10m\n  chunkOverlap: 10m\n"},
		{"negative overlap", "pipeline:\n  chunkOverlap: -1s\n"},
		{"zero workers", "pipeline:\n  workers: 0\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfigFile(t, tc.yaml)
			if _, err := Load(path); err == nil {
				t.Error("Load() succeeded, want validation error")
			}
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{
		Host: "localhost", Port: 5432, User: "u", Password: "p",
		Database: "meetmind", SSLMode: "disable",
	}
	want := "host=localhost port=5432 user=u password=p dbname=meetmind sslmode=disable"
	if got := p.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
