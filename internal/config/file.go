package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config on disk. Durations are Go duration strings
// and unset fields leave the defaults alone.
type fileConfig struct {
	Database struct {
		Path string `yaml:"path" toml:"path"`
	} `yaml:"database" toml:"database"`

	Tracker struct {
		PollInterval string `yaml:"poll_interval" toml:"poll_interval"`
		Window       string `yaml:"window" toml:"window"`
		QueryWindow  string `yaml:"query_window" toml:"query_window"`
	} `yaml:"tracker" toml:"tracker"`

	Lock struct {
		AllowDismiss *bool  `yaml:"allow_dismiss" toml:"allow_dismiss"`
		Message      string `yaml:"message" toml:"message"`
	} `yaml:"lock" toml:"lock"`

	Policy struct {
		BreakDuration string `yaml:"break_duration" toml:"break_duration"`
		TrackedApps   []struct {
			ID        string `yaml:"id" toml:"id"`
			Allowance string `yaml:"allowance" toml:"allowance"`
		} `yaml:"tracked_apps" toml:"tracked_apps"`
	} `yaml:"policy" toml:"policy"`

	Daemon struct {
		PIDFile string `yaml:"pid_file" toml:"pid_file"`
	} `yaml:"daemon" toml:"daemon"`

	Report struct {
		TimeZone string `yaml:"timezone" toml:"timezone"`
	} `yaml:"report" toml:"report"`

	Web struct {
		Host string `yaml:"host" toml:"host"`
		Port int    `yaml:"port" toml:"port"`
	} `yaml:"web" toml:"web"`

	Logging struct {
		Level  string `yaml:"level" toml:"level"`
		Format string `yaml:"format" toml:"format"`
		File   string `yaml:"file" toml:"file"`
	} `yaml:"logging" toml:"logging"`
}

// Load builds a Config from defaults, the file at path (if any) and the
// environment, in that order, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := ApplyFile(cfg, path); err != nil {
			return nil, err
		}
	}
	LoadFromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyFile overlays a YAML or TOML file onto cfg.
func ApplyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), &fc); err != nil {
			return fmt.Errorf("failed to parse TOML config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format: %s", ext)
	}

	return fc.apply(cfg)
}

func (fc *fileConfig) apply(cfg *Config) error {
	if fc.Database.Path != "" {
		cfg.Database.Path = fc.Database.Path
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"tracker.poll_interval", fc.Tracker.PollInterval, &cfg.Tracker.PollInterval},
		{"tracker.window", fc.Tracker.Window, &cfg.Tracker.Window},
		{"tracker.query_window", fc.Tracker.QueryWindow, &cfg.Tracker.QueryWindow},
		{"policy.break_duration", fc.Policy.BreakDuration, &cfg.Policy.BreakDuration},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}

	if fc.Lock.AllowDismiss != nil {
		cfg.Lock.AllowDismiss = *fc.Lock.AllowDismiss
	}
	if fc.Lock.Message != "" {
		cfg.Lock.Message = fc.Lock.Message
	}

	if fc.Policy.TrackedApps != nil {
		apps := make([]TrackedApp, 0, len(fc.Policy.TrackedApps))
		for _, a := range fc.Policy.TrackedApps {
			d, err := time.ParseDuration(a.Allowance)
			if err != nil {
				return fmt.Errorf("policy.tracked_apps %q: %w", a.ID, err)
			}
			apps = append(apps, TrackedApp{ID: a.ID, Allowance: d})
		}
		cfg.Policy.TrackedApps = apps
	}

	if fc.Daemon.PIDFile != "" {
		cfg.Daemon.PIDFile = fc.Daemon.PIDFile
	}
	if fc.Report.TimeZone != "" {
		cfg.Report.TimeZone = fc.Report.TimeZone
	}
	if fc.Web.Host != "" {
		cfg.Web.Host = fc.Web.Host
	}
	if fc.Web.Port != 0 {
		cfg.Web.Port = fc.Web.Port
	}
	if fc.Logging.Level != "" {
		cfg.Logging.Level = fc.Logging.Level
	}
	if fc.Logging.Format != "" {
		cfg.Logging.Format = fc.Logging.Format
	}
	if fc.Logging.File != "" {
		cfg.Logging.File = fc.Logging.File
	}
	return nil
}
