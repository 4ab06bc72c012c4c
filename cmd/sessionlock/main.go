package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"sessionlock/internal/config"
)

var (
	version = "0.1.0"
	commit  = "unknown"
	date    = "unknown"
)

const appName = "sessionlock"

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "Foreground app watcher with countdown break locks",
		Long: `sessionlock watches which application is in the foreground and shows a
full-screen countdown lock when a tracked application has used up its
allowance.

Environment Variables:
  SESSIONLOCK_DB_PATH           Database file path
  SESSIONLOCK_POLL_INTERVAL_MS  Poll interval in milliseconds (100-60000)
  SESSIONLOCK_WINDOW_MS         Usage lookback per poll in milliseconds
  SESSIONLOCK_TRACKED_APPS      Allowances, e.g. "org.example.game=30m,browser=1h"
  SESSIONLOCK_BREAK_DURATION    Lock length, e.g. "5m"
  SESSIONLOCK_ALLOW_DISMISS     Allow closing the lock early (true/false)
  SESSIONLOCK_PID_FILE          PID file path
  SESSIONLOCK_WEB_PORT          HTTP API port
  SESSIONLOCK_LOG_LEVEL         debug, info, warn, error`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (.yaml, .yml or .toml)")

	root.AddCommand(
		newServeCmd(),
		newStartCmd(),
		newStopCmd(),
		newStatusCmd(),
		newSampleCmd(),
		newLockCmd(),
		newUnlockCmd(),
		newReportCmd(),
		newClearCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads the --config file, the environment and defaults.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logrus.WithField("config", configPath).Debug("Configuration loaded")
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s version %s\n", appName, version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
		},
	}
}
