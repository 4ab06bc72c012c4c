package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Tracker configuration
	Tracker TrackerConfig

	// Lock screen configuration
	Lock LockConfig

	// Usage policy configuration
	Policy PolicyConfig

	// Daemon configuration
	Daemon DaemonConfig

	// Report configuration
	Report ReportConfig

	// Web server configuration
	Web WebConfig

	Logging LoggingConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Path string // Path to SQLite database file
}

// TrackerConfig holds foreground polling configuration
type TrackerConfig struct {
	PollInterval    time.Duration // How often to sample the foreground app
	MinPollInterval time.Duration // Minimum allowed poll interval
	MaxPollInterval time.Duration // Maximum allowed poll interval
	Window          time.Duration // Usage lookback per watcher sample
	QueryWindow     time.Duration // Usage lookback for one-shot queries
}

// LockConfig holds lock overlay configuration
type LockConfig struct {
	AllowDismiss bool   // Whether the user may close the overlay early
	Message      string // Banner shown above the countdown
}

// TrackedApp is a foreground allowance for one app
type TrackedApp struct {
	ID        string
	Allowance time.Duration
}

// PolicyConfig holds the usage allowances that trigger breaks
type PolicyConfig struct {
	TrackedApps   []TrackedApp
	BreakDuration time.Duration
}

// DaemonConfig holds daemon process configuration
type DaemonConfig struct {
	PIDFile string // Path to PID file for daemon management
}

// ReportConfig holds report generation configuration
type ReportConfig struct {
	TimeZone string
}

// WebConfig holds web server configuration
type WebConfig struct {
	Host string // Host to bind web server to
	Port int    // Port for web server
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // text or json
	File   string // optional log file
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: "", // Empty means use default ~/.config/sessionlock/sessionlock.db
		},
		Tracker: TrackerConfig{
			PollInterval:    500 * time.Millisecond,
			MinPollInterval: 100 * time.Millisecond,
			MaxPollInterval: 60 * time.Second,
			Window:          2 * time.Second,
			QueryWindow:     10 * time.Second,
		},
		Lock: LockConfig{
			AllowDismiss: true,
			Message:      "Break in progress",
		},
		Policy: PolicyConfig{
			BreakDuration: 5 * time.Minute,
		},
		Daemon: DaemonConfig{
			PIDFile: fmt.Sprintf("/tmp/sessionlock-%d.pid", os.Getuid()),
		},
		Report: ReportConfig{
			TimeZone: "Local",
		},
		Web: WebConfig{
			Host: "localhost",
			Port: 10000 + os.Getuid(), // Default port based on user ID
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate tracker intervals
	if c.Tracker.PollInterval < c.Tracker.MinPollInterval {
		return fmt.Errorf("poll interval (%v) cannot be less than minimum (%v)",
			c.Tracker.PollInterval, c.Tracker.MinPollInterval)
	}

	if c.Tracker.PollInterval > c.Tracker.MaxPollInterval {
		return fmt.Errorf("poll interval (%v) cannot be greater than maximum (%v)",
			c.Tracker.PollInterval, c.Tracker.MaxPollInterval)
	}

	if c.Tracker.Window <= 0 {
		return fmt.Errorf("usage window must be positive, got %v", c.Tracker.Window)
	}

	if c.Tracker.QueryWindow <= 0 {
		return fmt.Errorf("query window must be positive, got %v", c.Tracker.QueryWindow)
	}

	// Validate policy
	if c.Policy.BreakDuration <= 0 {
		return fmt.Errorf("break duration must be positive, got %v", c.Policy.BreakDuration)
	}

	seen := make(map[string]bool, len(c.Policy.TrackedApps))
	for _, app := range c.Policy.TrackedApps {
		if app.ID == "" {
			return fmt.Errorf("tracked app id cannot be empty")
		}
		if seen[app.ID] {
			return fmt.Errorf("tracked app %q listed twice", app.ID)
		}
		seen[app.ID] = true
		if app.Allowance <= 0 {
			return fmt.Errorf("allowance for %q must be positive, got %v", app.ID, app.Allowance)
		}
	}

	if _, err := c.Location(); err != nil {
		return err
	}

	// Validate web config
	if c.Web.Port < 1 || c.Web.Port > 65535 {
		return fmt.Errorf("web port must be between 1 and 65535, got %d", c.Web.Port)
	}

	if c.Web.Host == "" {
		return fmt.Errorf("web host cannot be empty")
	}

	// Validate daemon config
	if c.Daemon.PIDFile == "" {
		return fmt.Errorf("PID file path cannot be empty")
	}

	return nil
}

// SetPollInterval sets the poll interval with validation
func (c *Config) SetPollInterval(interval time.Duration) error {
	if interval < c.Tracker.MinPollInterval {
		return fmt.Errorf("poll interval cannot be less than %v", c.Tracker.MinPollInterval)
	}
	if interval > c.Tracker.MaxPollInterval {
		return fmt.Errorf("poll interval cannot be greater than %v", c.Tracker.MaxPollInterval)
	}
	c.Tracker.PollInterval = interval
	return nil
}

// SetWebPort sets the web server port with validation
func (c *Config) SetWebPort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	c.Web.Port = port
	return nil
}

// Location resolves the report time zone
func (c *Config) Location() (*time.Location, error) {
	if c.Report.TimeZone == "" || c.Report.TimeZone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Report.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid time zone %q: %w", c.Report.TimeZone, err)
	}
	return loc, nil
}

// ParseTrackedApps parses "id=30m,other=1h" into allowances
func ParseTrackedApps(s string) ([]TrackedApp, error) {
	var apps []TrackedApp
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		id, allowance, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("tracked app %q: expected id=duration", item)
		}
		d, err := time.ParseDuration(strings.TrimSpace(allowance))
		if err != nil {
			return nil, fmt.Errorf("tracked app %q: %w", item, err)
		}
		apps = append(apps, TrackedApp{ID: strings.TrimSpace(id), Allowance: d})
	}
	return apps, nil
}

// String returns a string representation of the config
func (c *Config) String() string {
	apps := make([]string, 0, len(c.Policy.TrackedApps))
	for _, app := range c.Policy.TrackedApps {
		apps = append(apps, fmt.Sprintf("%s=%v", app.ID, app.Allowance))
	}

	return fmt.Sprintf(`Configuration:
  Database:
    Path: %s
  Tracker:
    Poll Interval: %v
    Min Interval: %v
    Max Interval: %v
    Window: %v
    Query Window: %v
  Lock:
    Allow Dismiss: %v
    Message: %s
  Policy:
    Tracked Apps: %s
    Break Duration: %v
  Daemon:
    PID File: %s
  Report:
    Time Zone: %s
  Web:
    Host: %s
    Port: %d
  Logging:
    Level: %s
    Format: %s
    File: %s`,
		c.Database.Path,
		c.Tracker.PollInterval,
		c.Tracker.MinPollInterval,
		c.Tracker.MaxPollInterval,
		c.Tracker.Window,
		c.Tracker.QueryWindow,
		c.Lock.AllowDismiss,
		c.Lock.Message,
		strings.Join(apps, ", "),
		c.Policy.BreakDuration,
		c.Daemon.PIDFile,
		c.Report.TimeZone,
		c.Web.Host,
		c.Web.Port,
		c.Logging.Level,
		c.Logging.Format,
		c.Logging.File,
	)
}
