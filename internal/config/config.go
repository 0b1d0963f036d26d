package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flowstate/flowstate/internal/model"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var ns int64
	if err := node.Decode(&ns); err != nil {
		return fmt.Errorf("invalid duration %q", node.Value)
	}
	*d = Duration(ns)
	return nil
}

// ConnectorConfig holds the per-platform sync settings.
type ConnectorConfig struct {
	Enabled      bool     `yaml:"enabled"`
	SyncInterval Duration `yaml:"sync_interval"`
}

// Config holds all engine configuration.
type Config struct {
	DBPath   string `yaml:"db_path"`
	HTTPAddr string `yaml:"http_addr"`
	Timezone string `yaml:"timezone"`
	LogLevel string `yaml:"log_level"`

	// Extraction policy. Deadlines below the confidence threshold are
	// discarded rather than guessed.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	// Hour of day assigned to date-only deadlines ("Thursday", "March 3").
	DefaultDeadlineHour int `yaml:"default_deadline_hour"`

	// Priority label thresholds on the [0,1] score.
	UrgentThreshold float64 `yaml:"urgent_threshold"`
	NormalThreshold float64 `yaml:"normal_threshold"`

	// Scheduler behavior.
	BatchTimeout Duration `yaml:"batch_timeout"`
	BackoffBase  Duration `yaml:"backoff_base"`
	BackoffMax   Duration `yaml:"backoff_max"`
	MaxAttempts  int      `yaml:"max_attempts"`

	Connectors map[model.Platform]ConnectorConfig `yaml:"connectors"`
}

// Defaults returns a Config with all default values set.
func Defaults() Config {
	return Config{
		DBPath:              "",
		HTTPAddr:            "127.0.0.1:8173",
		Timezone:            "UTC",
		LogLevel:            "info",
		ConfidenceThreshold: 0.6,
		DefaultDeadlineHour: 0,
		UrgentThreshold:     0.75,
		NormalThreshold:     0.40,
		BatchTimeout:        Duration(30 * time.Second),
		BackoffBase:         Duration(5 * time.Second),
		BackoffMax:          Duration(10 * time.Minute),
		MaxAttempts:         6,
		Connectors: map[model.Platform]ConnectorConfig{
			model.PlatformMail:     {Enabled: true, SyncInterval: Duration(2 * time.Minute)},
			model.PlatformChat:     {Enabled: true, SyncInterval: Duration(1 * time.Minute)},
			model.PlatformCalendar: {Enabled: true, SyncInterval: Duration(5 * time.Minute)},
		},
	}
}

// Load reads a YAML config file and returns a validated Config. A missing
// file yields the defaults. FLOWSTATE_CONFIG and FLOWSTATE_DB override the
// config path and db path.
func Load(path string) (Config, error) {
	if envPath := os.Getenv("FLOWSTATE_CONFIG"); envPath != "" {
		path = envPath
	}

	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file: %w", err)
	}

	if envDB := os.Getenv("FLOWSTATE_DB"); envDB != "" {
		cfg.DBPath = envDB
	}
	if cfg.DBPath == "" {
		dataDir, err := DataDir()
		if err != nil {
			return Config{}, err
		}
		cfg.DBPath = filepath.Join(dataDir, "flowstate.db")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that values are usable.
func (c *Config) Validate() error {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be in [0,1], got %v", c.ConfidenceThreshold)
	}
	if c.DefaultDeadlineHour < 0 || c.DefaultDeadlineHour > 23 {
		return fmt.Errorf("default_deadline_hour must be 0-23, got %d", c.DefaultDeadlineHour)
	}
	if c.UrgentThreshold <= c.NormalThreshold {
		return fmt.Errorf("urgent_threshold (%v) must exceed normal_threshold (%v)", c.UrgentThreshold, c.NormalThreshold)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	if c.BatchTimeout <= 0 {
		return fmt.Errorf("batch_timeout must be positive")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	for platform, cc := range c.Connectors {
		if _, err := model.ParsePlatform(string(platform)); err != nil {
			return err
		}
		if cc.Enabled && cc.SyncInterval.Std() < time.Second {
			return fmt.Errorf("connector %s: sync_interval must be at least 1s", platform)
		}
	}
	return nil
}

// Location resolves the configured timezone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ConfigDir returns the directory holding the config file.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "flowstate"), nil
}

// DataDir returns the directory holding the database.
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "flowstate"), nil
}

// DefaultPath returns the default config file path.
func DefaultPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}
