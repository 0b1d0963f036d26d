package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/flowstate/flowstate/internal/model"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.ConfidenceThreshold != 0.6 {
		t.Errorf("ConfidenceThreshold = %v, want 0.6", cfg.ConfidenceThreshold)
	}
	if cfg.UrgentThreshold != 0.75 || cfg.NormalThreshold != 0.40 {
		t.Errorf("priority thresholds = %v/%v", cfg.UrgentThreshold, cfg.NormalThreshold)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Defaults().Validate() error: %v", err)
	}
	for _, platform := range model.Platforms() {
		cc, ok := cfg.Connectors[platform]
		if !ok {
			t.Errorf("no default connector config for %s", platform)
			continue
		}
		if !cc.Enabled || cc.SyncInterval <= 0 {
			t.Errorf("%s connector default = %+v", platform, cc)
		}
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	t.Setenv("FLOWSTATE_CONFIG", "")
	t.Setenv("FLOWSTATE_DB", filepath.Join(t.TempDir(), "test.db"))

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ConfidenceThreshold != 0.6 {
		t.Errorf("ConfidenceThreshold = %v, want default", cfg.ConfidenceThreshold)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FLOWSTATE_CONFIG", "")
	t.Setenv("FLOWSTATE_DB", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
db_path: ` + filepath.Join(dir, "custom.db") + `
timezone: America/New_York
confidence_threshold: 0.7
connectors:
  mail:
    enabled: false
  chat:
    enabled: true
    sync_interval: 30s
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ConfidenceThreshold != 0.7 {
		t.Errorf("ConfidenceThreshold = %v, want 0.7", cfg.ConfidenceThreshold)
	}
	if cfg.Timezone != "America/New_York" {
		t.Errorf("Timezone = %q", cfg.Timezone)
	}
	if cfg.Connectors[model.PlatformMail].Enabled {
		t.Error("mail connector should be disabled")
	}
	if got := cfg.Connectors[model.PlatformChat].SyncInterval.Std(); got != 30*time.Second {
		t.Errorf("chat sync_interval = %v, want 30s", got)
	}
}

func TestLoadEnvDBOverride(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "env.db")
	t.Setenv("FLOWSTATE_CONFIG", "")
	t.Setenv("FLOWSTATE_DB", dbPath)

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.DBPath != dbPath {
		t.Errorf("DBPath = %q, want env override %q", cfg.DBPath, dbPath)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold above one", func(c *Config) { c.ConfidenceThreshold = 1.5 }},
		{"negative threshold", func(c *Config) { c.ConfidenceThreshold = -0.1 }},
		{"bad deadline hour", func(c *Config) { c.DefaultDeadlineHour = 24 }},
		{"urgent below normal", func(c *Config) { c.UrgentThreshold = 0.3 }},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }},
		{"zero batch timeout", func(c *Config) { c.BatchTimeout = 0 }},
		{"zero attempts", func(c *Config) { c.MaxAttempts = 0 }},
		{"unknown platform", func(c *Config) {
			c.Connectors[model.Platform("fax")] = ConnectorConfig{Enabled: true, SyncInterval: Duration(time.Minute)}
		}},
		{"sub-second interval", func(c *Config) {
			c.Connectors[model.PlatformMail] = ConnectorConfig{Enabled: true, SyncInterval: Duration(100 * time.Millisecond)}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestLocation(t *testing.T) {
	cfg := Defaults()
	cfg.Timezone = "America/New_York"
	if cfg.Location().String() != "America/New_York" {
		t.Errorf("Location() = %v", cfg.Location())
	}
}
