package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Usage metrics
	SessionUsageSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "breakwatch_session_usage_seconds",
			Help: "Usage accumulated in the current session",
		},
	)

	TotalUsageSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "breakwatch_total_usage_seconds",
			Help: "Usage accumulated since the last daily reset",
		},
	)

	ShortsWatched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "breakwatch_shorts_watched_total",
			Help: "Distinct shorts observed in the monitored page",
		},
	)

	// Policy metrics
	BreaksStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "breakwatch_breaks_started_total",
			Help: "Total enforced breaks started",
		},
	)

	BreaksCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "breakwatch_breaks_completed_total",
			Help: "Total enforced breaks that ran their full duration",
		},
	)

	MilestonesNotified = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakwatch_milestones_notified_total",
			Help: "Milestone notices shown, by milestone identifier",
		},
		[]string{"milestone"},
	)

	DailyResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "breakwatch_daily_resets_total",
			Help: "Total daily usage resets",
		},
	)

	// Overlay metrics
	OverlaysShown = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakwatch_overlays_shown_total",
			Help: "Overlays mounted, by how they were resolved",
		},
		[]string{"resolution"},
	)

	OverlayActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "breakwatch_overlay_active",
			Help: "1 while an overlay is mounted",
		},
	)

	// Storage metrics
	StorageErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakwatch_storage_errors_total",
			Help: "Counter store operations that failed and fell back to defaults",
		},
		[]string{"op"},
	)

	// Scheduler metrics
	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "breakwatch_tick_duration_seconds",
			Help:    "Scheduler tick duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	StepFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakwatch_step_failures_total",
			Help: "Scheduler steps that returned an error or panicked",
		},
		[]string{"step"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		SessionUsageSeconds,
		TotalUsageSeconds,
		ShortsWatched,
		BreaksStarted,
		BreaksCompleted,
		MilestonesNotified,
		DailyResets,
		OverlaysShown,
		OverlayActive,
		StorageErrors,
		TickDuration,
		StepFailures,
	)
}

// Server serves /metrics, /health and any extra handlers registered with Handle.
type Server struct {
	server   *http.Server
	mux      *http.ServeMux
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
	bound    net.Addr
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		mux:    mux,
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handle registers an additional handler. It must be called before Start.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start binds the listener (unless one was supplied) and serves in the background.
func (s *Server) Start() error {
	ln := s.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", s.server.Addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
		}
	} else {
		s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
	}

	s.bound = ln.Addr()
	s.logger.Info().Str("addr", s.bound.String()).Msg("Starting metrics server")
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	if s.bound == nil {
		return s.server.Addr
	}
	return s.bound.String()
}

// Stop gracefully stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
