package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Alert.LocationTimeout != 30*time.Second {
		t.Fatalf("expected 30s location timeout, got %v", cfg.Alert.LocationTimeout)
	}
	if cfg.Alert.CallDelay != 10*time.Second {
		t.Fatalf("expected 10s call delay, got %v", cfg.Alert.CallDelay)
	}
	if cfg.Alert.KeyCooldown != time.Second {
		t.Fatalf("expected 1s key cooldown, got %v", cfg.Alert.KeyCooldown)
	}
	if cfg.Scheduler.Backend != BackendLocal {
		t.Fatalf("expected local backend, got %q", cfg.Scheduler.Backend)
	}
	if len(cfg.Geofences) != 2 {
		t.Fatalf("expected 2 default geofences, got %d", len(cfg.Geofences))
	}
	if cfg.Geofences[0].ID != "geofence_1" || cfg.Geofences[0].RadiusM != 500 {
		t.Fatalf("unexpected first geofence: %+v", cfg.Geofences[0])
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  port: ":9090"
alert:
  call_delay: 3s
scheduler:
  backend: asynq
geofences:
  - id: home
    latitude: 1.5
    longitude: 2.5
    radius_m: 100
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SAFEALERT_SERVER_API_KEY", "secret")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.Port != ":9090" {
		t.Fatalf("expected port :9090, got %q", cfg.Server.Port)
	}
	if cfg.Server.APIKey != "secret" {
		t.Fatalf("expected api key from env, got %q", cfg.Server.APIKey)
	}
	if cfg.Alert.CallDelay != 3*time.Second {
		t.Fatalf("expected 3s call delay, got %v", cfg.Alert.CallDelay)
	}
	if cfg.Alert.LocationTimeout != 30*time.Second {
		t.Fatalf("expected default location timeout, got %v", cfg.Alert.LocationTimeout)
	}
	if cfg.Scheduler.Backend != BackendAsynq {
		t.Fatalf("expected asynq backend, got %q", cfg.Scheduler.Backend)
	}
	if len(cfg.Geofences) != 1 || cfg.Geofences[0].ID != "home" {
		t.Fatalf("expected single home geofence, got %+v", cfg.Geofences)
	}
}

func TestLoadConfigRejectsUnknownBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("scheduler:\n  backend: cron\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
