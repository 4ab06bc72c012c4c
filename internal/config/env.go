package config

import (
	"os"
	"strconv"
	"time"
)

// LoadFromEnv loads configuration from environment variables
// Environment variables override default values
func LoadFromEnv(cfg *Config) {
	// Database configuration
	if dbPath := os.Getenv("SESSIONLOCK_DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	// Tracker configuration
	if pollInterval := os.Getenv("SESSIONLOCK_POLL_INTERVAL_MS"); pollInterval != "" {
		if ms, err := strconv.Atoi(pollInterval); err == nil && ms > 0 {
			interval := time.Duration(ms) * time.Millisecond
			if interval >= cfg.Tracker.MinPollInterval && interval <= cfg.Tracker.MaxPollInterval {
				cfg.Tracker.PollInterval = interval
			}
		}
	}

	if window := os.Getenv("SESSIONLOCK_WINDOW_MS"); window != "" {
		if ms, err := strconv.Atoi(window); err == nil && ms > 0 {
			cfg.Tracker.Window = time.Duration(ms) * time.Millisecond
		}
	}

	if window := os.Getenv("SESSIONLOCK_QUERY_WINDOW_MS"); window != "" {
		if ms, err := strconv.Atoi(window); err == nil && ms > 0 {
			cfg.Tracker.QueryWindow = time.Duration(ms) * time.Millisecond
		}
	}

	// Lock configuration
	if allow := os.Getenv("SESSIONLOCK_ALLOW_DISMISS"); allow != "" {
		if val, err := strconv.ParseBool(allow); err == nil {
			cfg.Lock.AllowDismiss = val
		}
	}

	if msg := os.Getenv("SESSIONLOCK_LOCK_MESSAGE"); msg != "" {
		cfg.Lock.Message = msg
	}

	// Policy configuration
	if apps := os.Getenv("SESSIONLOCK_TRACKED_APPS"); apps != "" {
		if parsed, err := ParseTrackedApps(apps); err == nil {
			cfg.Policy.TrackedApps = parsed
		}
	}

	if breakDur := os.Getenv("SESSIONLOCK_BREAK_DURATION"); breakDur != "" {
		if d, err := time.ParseDuration(breakDur); err == nil && d > 0 {
			cfg.Policy.BreakDuration = d
		}
	}

	// Daemon configuration
	if pidFile := os.Getenv("SESSIONLOCK_PID_FILE"); pidFile != "" {
		cfg.Daemon.PIDFile = pidFile
	}

	// Report configuration
	if timeZone := os.Getenv("SESSIONLOCK_TIMEZONE"); timeZone != "" {
		cfg.Report.TimeZone = timeZone
	}

	// Web configuration
	if webHost := os.Getenv("SESSIONLOCK_WEB_HOST"); webHost != "" {
		cfg.Web.Host = webHost
	}

	if webPort := os.Getenv("SESSIONLOCK_WEB_PORT"); webPort != "" {
		if port, err := strconv.Atoi(webPort); err == nil && port > 0 && port <= 65535 {
			cfg.Web.Port = port
		}
	}

	// Logging configuration
	if level := os.Getenv("SESSIONLOCK_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	if format := os.Getenv("SESSIONLOCK_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	if file := os.Getenv("SESSIONLOCK_LOG_FILE"); file != "" {
		cfg.Logging.File = file
	}
}

// New creates a new Config with default values and loads from environment
func New() *Config {
	cfg := Default()
	LoadFromEnv(cfg)
	return cfg
}
