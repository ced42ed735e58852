package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/breakwatch/internal/config"
	"github.com/goodtune/breakwatch/internal/scheduler"
	"github.com/goodtune/breakwatch/internal/storage"
	"github.com/goodtune/breakwatch/internal/usage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	scopeSession = "session"
	scopeAll     = "all"

	resetPath = "/reset"
)

var errDaemonUnreachable = errors.New("daemon unreachable")

var resetScope string

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset usage counters",
	Long: `Reset the usage counters. The session scope ends the current session
and any break in progress; the all scope also clears the daily total and the
shorts count. The running daemon applies the reset on its next step; when it
cannot be reached the persisted counters are reset directly.`,
	Example: `  breakwatch reset
  breakwatch -c config.yaml reset --scope all`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().StringVar(&resetScope, "scope", scopeSession, "What to reset: session or all")
	rootCmd.AddCommand(resetCmd)
}

func validScope(scope string) error {
	if scope != scopeSession && scope != scopeAll {
		return fmt.Errorf("unsupported reset scope: %s", scope)
	}
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	if err := validScope(resetScope); err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	green := color.New(color.FgGreen)

	applied, err := requestReset(cfg.Metrics, resetScope)
	if err == nil {
		if applied {
			_, _ = green.Fprintf(os.Stdout, "✅ Reset %s counters (daemon)\n", resetScope)
		} else {
			_, _ = color.New(color.FgYellow).Fprintf(os.Stdout, "⏳ Reset of %s counters queued, the daemon applies it on its next check\n", resetScope)
		}
		return nil
	}
	if !errors.Is(err, errDaemonUnreachable) {
		return err
	}

	logger.Debug().Err(err).Msg("Daemon not reachable, resetting storage directly")
	if err := resetStorage(cfg.Storage, resetScope, time.Now(), logger); err != nil {
		return err
	}

	logger.Info().Str("scope", resetScope).Msg("Counters reset")
	_, _ = green.Fprintf(os.Stdout, "✅ Reset %s counters (storage)\n", resetScope)
	return nil
}

// requestReset asks the running daemon to reset. It reports false when the
// request was queued but not yet applied.
func requestReset(cfg config.MetricsConfig, scope string) (bool, error) {
	if !cfg.Enabled {
		return false, fmt.Errorf("%w: metrics listener disabled", errDaemonUnreachable)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	endpoint := fmt.Sprintf("http://%s:%d%s?scope=%s", cfg.BindAddress, cfg.Port, resetPath, url.QueryEscape(scope))
	resp, err := client.Post(endpoint, "", nil)
	if err != nil {
		return false, fmt.Errorf("%w: %v", errDaemonUnreachable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusAccepted:
		return false, nil
	case http.StatusNotFound:
		// Something else owns the port.
		return false, fmt.Errorf("%w: %s has no reset endpoint", errDaemonUnreachable, endpoint)
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return false, fmt.Errorf("daemon rejected reset: %s: %s", resp.Status, strings.TrimSpace(string(body)))
}

// resetStorage resets the persisted counters with no daemon running.
func resetStorage(cfg config.StorageConfig, scope string, now time.Time, logger zerolog.Logger) error {
	if cfg.Type == storage.TypeMemory {
		return fmt.Errorf("memory storage only exists inside the running daemon, which could not be reached")
	}

	backend, err := openStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer backend.Close()

	ctx := context.Background()
	state := usage.Load(ctx, storage.NewCounters(backend, logger), now)
	applyReset(ctx, state, scope, now)
	return nil
}

func applyReset(ctx context.Context, state *usage.State, scope string, now time.Time) {
	if scope == scopeAll {
		state.ResetAll(ctx, now)
		return
	}
	state.ResetSession(ctx)
}

type resetRequest struct {
	scope string
	done  chan struct{}
}

// resetQueue carries reset requests from the metrics listener to the
// scheduler goroutine, which owns the usage state.
type resetQueue struct {
	requests chan resetRequest
	wake     func()
	wait     time.Duration
}

func newResetQueue(wake func()) *resetQueue {
	return &resetQueue{
		requests: make(chan resetRequest, 4),
		wake:     wake,
		wait:     5 * time.Second,
	}
}

// handler serves POST /reset?scope=session|all. It answers 200 once the
// reset is applied and 202 if the scheduler has not reached it in time.
func (q *resetQueue) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		scope := r.URL.Query().Get("scope")
		if scope == "" {
			scope = scopeSession
		}
		if err := validScope(scope); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		req := resetRequest{scope: scope, done: make(chan struct{})}
		select {
		case q.requests <- req:
		default:
			http.Error(w, "too many pending resets", http.StatusServiceUnavailable)
			return
		}
		if q.wake != nil {
			q.wake()
		}

		status := http.StatusOK
		timer := time.NewTimer(q.wait)
		defer timer.Stop()
		select {
		case <-req.done:
		case <-timer.C:
			status = http.StatusAccepted
		case <-r.Context().Done():
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(map[string]interface{}{
			"scope":   scope,
			"applied": status == http.StatusOK,
		}); err != nil {
			log.Error().Err(err).Msg("Failed to encode reset response")
		}
	})
}

// step applies every queued request. onResetAll runs after an all-scope reset.
func (q *resetQueue) step(state *usage.State, onResetAll func(), logger zerolog.Logger) scheduler.StepFunc {
	return func(ctx context.Context, now time.Time) error {
		for {
			select {
			case req := <-q.requests:
				applyReset(ctx, state, req.scope, now)
				if req.scope == scopeAll && onResetAll != nil {
					onResetAll()
				}
				logger.Info().Str("scope", req.scope).Msg("Counters reset on request")
				close(req.done)
			default:
				return nil
			}
		}
	}
}
