package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/goodtune/breakwatch/internal/config"
	"github.com/goodtune/breakwatch/internal/metrics"
	"github.com/goodtune/breakwatch/internal/overlay"
	"github.com/goodtune/breakwatch/internal/overlay/browser"
	"github.com/goodtune/breakwatch/internal/policy"
	"github.com/goodtune/breakwatch/internal/scheduler"
	"github.com/goodtune/breakwatch/internal/storage"
	"github.com/goodtune/breakwatch/internal/storage/bolt"
	"github.com/goodtune/breakwatch/internal/storage/memory"
	"github.com/goodtune/breakwatch/internal/storage/redis"
	"github.com/goodtune/breakwatch/internal/systemd"
	"github.com/goodtune/breakwatch/internal/usage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the monitored browser session",
	Long:  `Launch the browser, track time spent on the monitored sites and enforce breaks.`,
	RunE:  runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting Breakwatch")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	backend, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Msg("Storage initialized")

	clock := policy.RealClock{}
	counters := storage.NewCounters(backend, logger)
	state := usage.Load(context.Background(), counters, clock.Now())

	tracker := usage.NewTracker(state, logger)

	sites, err := usage.NewSites(cfg.Tracking.Sites)
	if err != nil {
		return fmt.Errorf("failed to compile site patterns: %w", err)
	}
	logger.Info().Strs("sites", sites.Patterns()).Msg("Tracking sites")

	shorts, err := usage.NewShortsTracker(state, cfg.Tracking.ShortsCacheSize, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize shorts tracker: %w", err)
	}

	dailyReset, err := usage.NewDailyReset(state, cfg.Tracking.DailyResetHour, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize daily reset: %w", err)
	}
	dailyReset.OnReset(shorts.Reset)

	// Launch the monitored browser page
	session, err := browser.Launch(cfg.Browser, logger)
	if err != nil {
		return fmt.Errorf("failed to start browser session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close browser session")
		}
	}()

	controller := overlay.NewController(
		session.Host(),
		session.Navigator(),
		overlay.Labels{
			Accept:  cfg.Overlay.AcceptLabel,
			Decline: cfg.Overlay.DeclineLabel,
		},
		logger,
	)
	session.SetResolver(controller.Resolve)

	// Initialize break policy
	policyConfig := policyConfigFrom(cfg.Tracking, cfg.Policy)
	engine, err := policy.NewEngine(state, controller, policyConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize break policy: %w", err)
	}

	// Initialize scheduler
	interval := config.Duration(cfg.Tracking.CheckInterval, 10*time.Second)
	sched, err := scheduler.New(interval, clock, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	var latest atomic.Pointer[statusReport]

	resets := newResetQueue(sched.Trigger)
	sched.AddStep("reset-requests", resets.step(state, shorts.Reset, logger))
	sched.AddStep("accumulate", func(ctx context.Context, now time.Time) error {
		if sites.Match(session.URL()) {
			tracker.AddElapsed(ctx, now)
		} else {
			tracker.Advance(ctx, now)
		}
		return nil
	})
	sched.AddStep("shorts", func(ctx context.Context, now time.Time) error {
		shorts.Observe(ctx, session.URL())
		return nil
	})
	sched.AddStep("evaluate", func(ctx context.Context, now time.Time) error {
		decision, err := engine.Evaluate(ctx, now)
		if err != nil {
			return err
		}
		logger.Debug().
			Str("phase", string(decision.Phase)).
			Str("outcome", string(decision.Outcome)).
			Msg("Policy evaluated")
		return nil
	})
	sched.AddStep("daily-reset", func(ctx context.Context, now time.Time) error {
		dailyReset.Check(ctx, now)
		return nil
	})
	sched.AddStep("snapshot", func(ctx context.Context, now time.Time) error {
		report := buildReport(state, engine, dailyReset, policyConfig, now, controller.Active(), sourceDaemon)
		latest.Store(&report)
		return nil
	})

	watchdog, err := systemd.WatchdogInterval()
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to read systemd watchdog settings")
	}
	if watchdog > 0 {
		if watchdog/2 < interval {
			logger.Warn().
				Dur("watchdog", watchdog).
				Dur("interval", interval).
				Msg("Check interval is longer than half the watchdog timeout")
		}
		sched.AddStep("watchdog", func(ctx context.Context, now time.Time) error {
			return systemd.NotifyWatchdog()
		})
	}

	// Initialize Metrics Server
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Metrics.BindAddress, cfg.Metrics.Port)
		metricsServer = metrics.NewServer(metricsAddr, logger)
		metricsServer.Handle("/status", statusHandler(&latest))
		metricsServer.Handle(resetPath, resets.handler())
		if sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}

		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}

		logger.Info().
			Str("addr", metricsServer.Addr()).
			Msg("Metrics Server started")
	}

	sched.Start()

	logger.Info().
		Dur("max_session_time", policyConfig.MaxSessionTime).
		Dur("break_time", policyConfig.BreakTime).
		Time("next_reset", dailyReset.NextReset(clock.Now())).
		Msg("Breakwatch startup complete")

	// Notify systemd that we're ready
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	// Wait for a shutdown signal or the page going away
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received, gracefully stopping...")
	case <-session.Done():
		logger.Info().Msg("Browser session ended, stopping...")
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	sched.Stop()

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping Metrics Server")
		}
	}

	logger.Info().Msg("Breakwatch stopped")

	return nil
}

func policyConfigFrom(cfg config.TrackingConfig, rules config.PolicyConfig) policy.Config {
	return policy.Config{
		MaxSessionTime: config.Duration(cfg.MaxSessionTime, 12*time.Minute),
		BreakTime:      config.Duration(cfg.BreakTime, 15*time.Minute),
		AlertFrequency: cfg.AlertFrequency,
		PolicyDir:      rules.Dir,
	}
}

func statusHandler(latest *atomic.Pointer[statusReport]) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := latest.Load()
		if report == nil {
			http.Error(w, "no status yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(report); err != nil {
			log.Error().Err(err).Msg("Failed to encode status")
		}
	})
}

func openStorage(cfg config.StorageConfig) (storage.Backend, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = storage.TypeBolt
	}

	switch storageType {
	case storage.TypeBolt:
		return bolt.Open(cfg.Path)
	case storage.TypeRedis:
		return redis.Open(cfg.Redis)
	case storage.TypeMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
