package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/utils/clock"

	"sessionlock/internal/config"
	"sessionlock/internal/daemon"
	"sessionlock/internal/database"
	"sessionlock/internal/reporter"
	"sessionlock/pkg/detector"
	"sessionlock/pkg/integrations/hybrid"
	"sessionlock/pkg/usage"
	"sessionlock/pkg/utils"
)

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("failed to locate executable: %w", err)
			}

			childArgs := []string{"serve"}
			if configPath != "" {
				childArgs = append(childArgs, "--config", configPath)
			}

			pid, err := daemon.New(cfg.Daemon.PIDFile).Spawn(exe, childArgs, "")
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Daemon started successfully (PID: %d)\n", pid)
			fmt.Fprintf(out, "Web API available at: http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
			logFile := cfg.Logging.File
			if logFile == "" {
				logFile = defaultLogFile()
			}
			fmt.Fprintf(out, "Logs: %s\n", logFile)
			return nil
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the background daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			err = daemon.New(cfg.Daemon.PIDFile).Stop(10 * time.Second)
			if err == daemon.ErrNotRunning {
				fmt.Fprintln(cmd.OutOrStdout(), "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Daemon stopped successfully")
			return nil
		},
	}
}

// screenLocker is implemented by providers that can tell whether the
// desktop screensaver is active.
type screenLocker interface {
	ScreenLocked(ctx context.Context) (bool, error)
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, watcher and lock status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			running, pid, err := daemon.New(cfg.Daemon.PIDFile).IsRunning()
			if err != nil {
				return err
			}
			if !running {
				fmt.Fprintln(out, "Status: Not running")
				return nil
			}
			fmt.Fprintf(out, "Status: Running (PID: %d)\n", pid)

			var status struct {
				Watcher struct {
					Running    bool   `json:"running"`
					IntervalMs int64  `json:"interval_ms"`
					WindowMs   int64  `json:"window_ms"`
					Current    string `json:"current"`
				} `json:"watcher"`
				Lock *struct {
					Status      string `json:"status"`
					RemainingMs int64  `json:"remaining_ms"`
					Text        string `json:"text"`
				} `json:"lock"`
			}
			if err := callAPI(cfg, http.MethodGet, "/api/status", &status); err != nil {
				fmt.Fprintf(out, "Could not reach HTTP API: %v\n", err)
				return nil
			}

			fmt.Fprintf(out, "Watcher: running=%v interval=%dms window=%dms\n",
				status.Watcher.Running, status.Watcher.IntervalMs, status.Watcher.WindowMs)
			if status.Watcher.Current != "" {
				fmt.Fprintf(out, "Foreground: %s\n", status.Watcher.Current)
			} else {
				fmt.Fprintln(out, "Foreground: unknown")
			}
			if status.Lock != nil && status.Lock.Status == "running" {
				fmt.Fprintf(out, "Lock: %s remaining\n", status.Lock.Text)
			} else {
				fmt.Fprintln(out, "Lock: none")
			}
			return nil
		},
	}
}

func newSampleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sample",
		Short: "Sample the foreground application once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			provider, err := detector.New()
			if err != nil {
				return err
			}
			defer provider.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			out := cmd.OutOrStdout()
			id, ok, err := usage.NewSampler(provider, clock.RealClock{}).Sample(ctx, cfg.Tracker.QueryWindow)
			if err != nil {
				return err
			}
			if ok {
				fmt.Fprintf(out, "Foreground: %s (via %s)\n", id, provider.Name())
			} else {
				fmt.Fprintf(out, "Foreground: unknown (via %s)\n", provider.Name())
			}

			if hp, isHybrid := provider.(*hybrid.Provider); isHybrid {
				for _, p := range hp.Providers() {
					sl, ok := p.(screenLocker)
					if !ok {
						continue
					}
					if locked, err := sl.ScreenLocked(ctx); err == nil {
						fmt.Fprintf(out, "Screen locked: %v\n", locked)
					}
				}
			}
			return nil
		},
	}
}

func newLockCmd() *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Show the lock screen on the running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("duration") {
				duration = cfg.Policy.BreakDuration
			}

			var snap struct {
				ID   string `json:"id"`
				Text string `json:"text"`
			}
			path := fmt.Sprintf("/api/lock?ms=%d", duration.Milliseconds())
			if err := callAPI(cfg, http.MethodPost, path, &snap); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Lock started for %s (session %s)\n",
				utils.FormatRoundedUnit(int64(duration/time.Second)), snap.ID)
			return nil
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 0, "lock length (default: policy break duration)")
	return cmd
}

func newUnlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Hide the lock screen on the running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var resp struct {
				Hidden bool `json:"hidden"`
			}
			if err := callAPI(cfg, http.MethodDelete, "/api/lock", &resp); err != nil {
				return err
			}
			if resp.Hidden {
				fmt.Fprintln(cmd.OutOrStdout(), "Lock hidden")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "No lock was showing")
			}
			return nil
		},
	}
}

func newReportCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:       "report [day|week|month]",
		Short:     "Generate a foreground time report",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"day", "week", "month"},
		RunE: func(cmd *cobra.Command, args []string) error {
			periodType := "day"
			if len(args) > 0 {
				periodType = args[0]
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}

			db, err := database.Connect(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()
			if err := db.Initialize(); err != nil {
				return err
			}

			rep := reporter.New(database.NewRepository(db), loc, clock.RealClock{})
			report, err := rep.GenerateReport(periodType)
			if err != nil {
				return err
			}

			if jsonOutput {
				out, err := rep.FormatReportJSON(report)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), rep.FormatReportText(report))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the report as JSON")
	return cmd
}

func newClearCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all journaled changes, locks and errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if !yes {
				fmt.Fprint(cmd.OutOrStdout(), "This will delete all journal data. Are you sure? (yes/no): ")
				response, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				response = strings.TrimSpace(response)
				if response != "yes" && response != "y" {
					fmt.Fprintln(cmd.OutOrStdout(), "Operation cancelled")
					return nil
				}
			}

			db, err := database.Connect(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()
			if err := db.Initialize(); err != nil {
				return err
			}

			if err := database.NewRepository(db).Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Database cleared successfully")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

// callAPI sends a request to the running daemon and decodes the JSON reply
// into out.
func callAPI(cfg *config.Config, method, path string, out interface{}) error {
	url := fmt.Sprintf("http://%s:%d%s", cfg.Web.Host, cfg.Web.Port, path)
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: %s", method, path, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}
