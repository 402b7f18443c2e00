package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/ringwatch/internal/domain"
)

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Server.Port != 8080 {
			t.Errorf("expected port 8080, got %d", cfg.Server.Port)
		}
		if cfg.Detection.Cycle.MaxResults != 200 {
			t.Errorf("expected cycle cap 200, got %d", cfg.Detection.Cycle.MaxResults)
		}
		if cfg.Detection.Smurf.Window != 72*time.Hour {
			t.Errorf("expected 72h window, got %v", cfg.Detection.Smurf.Window)
		}
		if cfg.Rings.OverlapPolicy != domain.OverlapLastWriter {
			t.Errorf("expected last_writer policy, got %s", cfg.Rings.OverlapPolicy)
		}
	})

	t.Run("FileOverrides", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ringwatch.yaml")
		yaml := `
server:
  port: 9090
detection:
  smurf:
    threshold: 12
    window: 48h
rings:
  overlap_policy: highest_risk
`
		if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Server.Port != 9090 {
			t.Errorf("expected port 9090, got %d", cfg.Server.Port)
		}
		if cfg.Detection.Smurf.Threshold != 12 {
			t.Errorf("expected threshold 12, got %d", cfg.Detection.Smurf.Threshold)
		}
		if cfg.Detection.Smurf.Window != 48*time.Hour {
			t.Errorf("expected 48h window, got %v", cfg.Detection.Smurf.Window)
		}
		if cfg.Rings.OverlapPolicy != domain.OverlapHighestRisk {
			t.Errorf("expected highest_risk, got %s", cfg.Rings.OverlapPolicy)
		}
		if cfg.Detection.Cycle.MaxLength != 5 {
			t.Errorf("expected untouched default max_length 5, got %d", cfg.Detection.Cycle.MaxLength)
		}
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		t.Setenv("RINGWATCH_DETECTION__CYCLE__MAX_RESULTS", "50")
		t.Setenv("RINGWATCH_REPOSITORY__DRIVER", "postgres")

		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Detection.Cycle.MaxResults != 50 {
			t.Errorf("expected cycle cap 50, got %d", cfg.Detection.Cycle.MaxResults)
		}
		if cfg.Repository.Driver != "postgres" {
			t.Errorf("expected postgres driver, got %s", cfg.Repository.Driver)
		}
	})

	t.Run("WorkerTenants", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ringwatch.yaml")
		yaml := `
worker:
  enabled: false
  tenants:
    - bank-a
    - bank-b
triage:
  seed_defaults: false
`
		if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Worker.Enabled {
			t.Error("expected worker disabled")
		}
		if len(cfg.Worker.Tenants) != 2 || cfg.Worker.Tenants[1] != "bank-b" {
			t.Errorf("unexpected tenants %v", cfg.Worker.Tenants)
		}
		if cfg.Triage.SeedDefaults {
			t.Error("expected seed_defaults false")
		}
		if cfg.Triage.MaxWorkers != 16 {
			t.Errorf("expected default max_workers 16, got %d", cfg.Triage.MaxWorkers)
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
			t.Error("expected error for missing config file")
		}
	})

	t.Run("InvalidValues", func(t *testing.T) {
		t.Setenv("RINGWATCH_DETECTION__CYCLE__MIN_LENGTH", "2")
		_, err := Load("")
		if !errors.Is(err, domain.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"RINGWATCH_LOGGING__LEVEL":              "logging.level",
		"RINGWATCH_CACHE__REDIS_ADDR":           "cache.redis_addr",
		"RINGWATCH_DETECTION__SHELL__MAX_DEPTH": "detection.shell.max_depth",
	}
	for in, want := range tests {
		if got := envKey(in); got != want {
			t.Errorf("envKey(%s): expected %s, got %s", in, want, got)
		}
	}
}
