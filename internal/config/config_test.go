package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Classifier.Timeout() != 5*time.Second {
		t.Errorf("Classifier.Timeout() = %v, expected 5s", cfg.Classifier.Timeout())
	}
	if cfg.Classifier.Temperature != 0.2 {
		t.Errorf("Classifier.Temperature = %v, expected 0.2", cfg.Classifier.Temperature)
	}
	if cfg.Analytics.CacheTTL() != 60*time.Second {
		t.Errorf("Analytics.CacheTTL() = %v, expected 60s", cfg.Analytics.CacheTTL())
	}
	if cfg.Sync.Schedule != "0 */6 * * *" {
		t.Errorf("Sync.Schedule = %q, expected %q", cfg.Sync.Schedule, "0 */6 * * *")
	}
}

func TestLoad_FileMergesWithDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("server:\n  port: \"9090\"\nclassifier:\n  provider: ollama\n")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %q, expected %q", cfg.Server.Port, "9090")
	}
	if cfg.Classifier.Provider != "ollama" {
		t.Errorf("Classifier.Provider = %q, expected %q", cfg.Classifier.Provider, "ollama")
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, expected default %q", cfg.Server.Host, "0.0.0.0")
	}
}

func TestOverrideFromEnv(t *testing.T) {
	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("NOTIFY_URLS", "generic://a.example, ,generic://b.example")
	t.Setenv("REDIS_URL", "redis://:pw@cache:6380/2")

	cfg := DefaultConfig()
	cfg.overrideFromEnv()

	if cfg.Database.Driver != "memory" {
		t.Errorf("Database.Driver = %q, expected %q", cfg.Database.Driver, "memory")
	}
	if len(cfg.Notification.URLs) != 2 {
		t.Errorf("Notification.URLs = %v, expected 2 entries", cfg.Notification.URLs)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "cache:6380" || cfg.Redis.Password != "pw" || cfg.Redis.DB != 2 {
		t.Errorf("Redis = %+v, expected enabled cache:6380 pw db 2", cfg.Redis)
	}
}

func TestLoad_BranchSeedsAndOrigins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`branches:
  - id: b1
    name: Downtown
    place_id: places/abc
    alert_url: generic://alerts.example
server:
  cors_origins: ["https://dash.example.com"]
`)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Branches) != 1 || cfg.Branches[0].PlaceID != "places/abc" || cfg.Branches[0].AlertURL != "generic://alerts.example" {
		t.Errorf("Branches = %+v, expected one seeded branch", cfg.Branches)
	}
	if len(cfg.Server.CORSOrigins) != 1 {
		t.Errorf("Server.CORSOrigins = %v, expected 1 origin", cfg.Server.CORSOrigins)
	}
	if cfg.Server.IntakeBurst != 10 {
		t.Errorf("Server.IntakeBurst = %d, expected default 10", cfg.Server.IntakeBurst)
	}
}
