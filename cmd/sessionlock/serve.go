package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"k8s.io/utils/clock"

	"sessionlock/internal/config"
	"sessionlock/internal/control"
	"sessionlock/internal/daemon"
	"sessionlock/internal/database"
	"sessionlock/internal/events"
	"sessionlock/internal/lock"
	"sessionlock/internal/obs"
	"sessionlock/internal/policy"
	"sessionlock/internal/reporter"
	"sessionlock/internal/tracker"
	"sessionlock/internal/web"
	"sessionlock/pkg/detector"
	"sessionlock/pkg/presentation"
	"sessionlock/pkg/usage"
)

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the watcher, lock controller and HTTP API in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runDaemon(cfg, port)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "HTTP API port (overrides config)")
	return cmd
}

func defaultLogFile() string {
	return fmt.Sprintf("/tmp/sessionlock-%d.log", os.Getuid())
}

func rulesFrom(cfg *config.Config) []policy.Rule {
	rules := make([]policy.Rule, 0, len(cfg.Policy.TrackedApps))
	for _, app := range cfg.Policy.TrackedApps {
		rules = append(rules, policy.Rule{AppID: app.ID, Allowance: app.Allowance})
	}
	return rules
}

// applyReload pushes the hot-reloadable settings of next into the running
// daemon. Poll and web settings need a restart.
func applyReload(next *config.Config, enforcer *policy.Enforcer, overlay *presentation.Overlay) {
	enforcer.UpdateRules(rulesFrom(next), next.Policy.BreakDuration)
	overlay.SetMessage(next.Lock.Message)
}

func runDaemon(cfg *config.Config, port int) error {
	logOpts := obs.LogOptions{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	}
	if daemon.IsChild() && logOpts.File == "" {
		logOpts.File = defaultLogFile()
	}
	closer, err := obs.SetupLogging(logOpts)
	if err != nil {
		return err
	}
	defer closer.Close()

	log := obs.Component(nil, "daemon")

	dm := daemon.New(cfg.Daemon.PIDFile)
	if err := dm.WritePID(); err != nil {
		return err
	}
	defer dm.RemovePID()

	db, err := database.Connect(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := db.Initialize(); err != nil {
		return err
	}

	provider, err := detector.New()
	if err != nil {
		return fmt.Errorf("failed to initialize usage provider: %w", err)
	}
	defer provider.Close()
	log.WithField("provider", provider.Name()).Info("Usage provider initialized")

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	clk := clock.RealClock{}
	metrics := obs.NewMetrics()
	repo := database.NewRepository(db)
	journal := database.NewJournal(repo)

	overlay := presentation.NewOverlay(cfg.Lock.Message)
	var presenter lock.Presentation = overlay
	if !daemon.IsChild() {
		presenter = presentation.Multi{overlay, presentation.NewConsole(os.Stdout)}
	}

	sampler := usage.NewSampler(provider, clk)
	channel := events.NewChannel()
	watcher := tracker.NewWatcher(sampler, channel, clk,
		tracker.WithLogger(obs.Component(nil, "tracker")),
		tracker.WithMetrics(metrics),
		tracker.WithJournal(journal),
	)
	controller := lock.NewController(clk, presenter,
		lock.WithLogger(obs.Component(nil, "lock")),
		lock.WithMetrics(metrics),
		lock.WithJournal(journal),
		lock.WithAllowDismiss(cfg.Lock.AllowDismiss),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	surface := control.New(ctx, sampler, channel, watcher, controller, cfg.Tracker.QueryWindow)
	enforcer := policy.NewEnforcer(clk, surface, rulesFrom(cfg), cfg.Policy.BreakDuration, obs.Component(nil, "policy"))
	defer enforcer.Stop()

	handler := web.NewHandler(cfg, surface, reporter.New(repo, loc, clk), overlay, metrics)
	surface.SubscribeChanges(func(ev events.ChangeEvent) {
		enforcer.Handle(ev)
		handler.Forward(ev)
	})
	defer surface.UnsubscribeChanges()

	if configPath != "" {
		err := config.Watch(ctx, configPath, func(next *config.Config) {
			applyReload(next, enforcer, overlay)
		})
		if err != nil {
			log.WithError(err).Warn("Config hot reload disabled")
		}
	}

	if err := surface.StartWatcher(cfg.Tracker.PollInterval, cfg.Tracker.Window); err != nil {
		return err
	}
	defer surface.StopWatcher()

	webServer := web.NewServer(cfg, handler, port)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- webServer.Start()
	}()

	log.WithFields(logrus.Fields{
		"pid":  os.Getpid(),
		"addr": webServer.GetAddress(),
	}).Info("sessionlock daemon started")
	log.Debugf("Configuration:\n%s", cfg.String())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		log.WithField("signal", sig.String()).Info("Received shutdown signal")
	case err := <-serveErr:
		if err != nil {
			log.WithError(err).Error("Web server failed")
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := webServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Error shutting down web server")
	}
	controller.HideLock()

	log.Info("Daemon stopped successfully")
	return nil
}
