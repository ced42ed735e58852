package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/breakwatch/internal/config"
	"github.com/goodtune/breakwatch/internal/policy"
	"github.com/goodtune/breakwatch/internal/storage"
	"github.com/goodtune/breakwatch/internal/usage"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	sourceDaemon  = "daemon"
	sourceStorage = "storage"
)

var statusOutput string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current usage and break state",
	Long: `Show session and daily usage, the break phase and the next daily reset.
The running daemon is queried over its metrics listener; when it cannot be
reached the counters are read from storage directly.`,
	Example: `  breakwatch status
  breakwatch -c config.yaml status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "text", "Output format: text, json or yaml")
	rootCmd.AddCommand(statusCmd)
}

// statusReport is the state shown by the status command and served on /status
type statusReport struct {
	Source         string         `json:"source" yaml:"source"`
	Phase          policy.Phase   `json:"phase" yaml:"phase"`
	Usage          usage.Snapshot `json:"usage" yaml:"usage"`
	MaxSessionTime string         `json:"max_session_time" yaml:"max_session_time"`
	BreakTime      string         `json:"break_time" yaml:"break_time"`
	BreakRemaining string         `json:"break_remaining,omitempty" yaml:"break_remaining,omitempty"`
	OverlayActive  bool           `json:"overlay_active" yaml:"overlay_active"`
	NextReset      time.Time      `json:"next_reset" yaml:"next_reset"`
}

func buildReport(state *usage.State, engine *policy.Engine, reset *usage.DailyReset, cfg policy.Config, now time.Time, overlayActive bool, source string) statusReport {
	report := statusReport{
		Source:         source,
		Phase:          engine.Phase(),
		Usage:          state.Snapshot(),
		MaxSessionTime: cfg.MaxSessionTime.String(),
		BreakTime:      cfg.BreakTime.String(),
		OverlayActive:  overlayActive,
		NextReset:      reset.NextReset(now),
	}

	if state.BreakStart != 0 {
		remaining := cfg.BreakTime - state.BreakElapsed(now)
		if remaining < 0 {
			remaining = 0
		}
		report.BreakRemaining = remaining.Truncate(time.Second).String()
	}

	return report
}

func runStatus(cmd *cobra.Command, args []string) error {
	switch statusOutput {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("unsupported output format: %s", statusOutput)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	report, err := fetchStatus(cfg.Metrics)
	if err != nil {
		report, err = readStatus(cfg)
		if err != nil {
			return err
		}
	}

	return renderStatus(os.Stdout, report, statusOutput)
}

// fetchStatus asks the running daemon for its latest report.
func fetchStatus(cfg config.MetricsConfig) (statusReport, error) {
	var report statusReport
	if !cfg.Enabled {
		return report, fmt.Errorf("metrics listener disabled")
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s:%d/status", cfg.BindAddress, cfg.Port))
	if err != nil {
		return report, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return report, fmt.Errorf("status endpoint returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return report, fmt.Errorf("failed to decode status: %w", err)
	}
	return report, nil
}

// readStatus builds the report from persisted counters.
func readStatus(cfg *config.Config) (statusReport, error) {
	backend, err := openStorage(cfg.Storage)
	if err != nil {
		return statusReport{}, fmt.Errorf("failed to open storage: %w", err)
	}
	defer backend.Close()

	now := time.Now()
	state := usage.Peek(context.Background(), storage.NewCounters(backend, zerolog.Nop()))

	policyConfig := policyConfigFrom(cfg.Tracking, cfg.Policy)
	engine, err := policy.NewEngine(state, nil, policyConfig, zerolog.Nop())
	if err != nil {
		return statusReport{}, err
	}
	reset, err := usage.NewDailyReset(state, cfg.Tracking.DailyResetHour, zerolog.Nop())
	if err != nil {
		return statusReport{}, err
	}

	return buildReport(state, engine, reset, policyConfig, now, false, sourceStorage), nil
}

func renderStatus(w io.Writer, report statusReport, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	}

	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	phaseColor := green
	switch report.Phase {
	case policy.PhaseBreakPendingStart:
		phaseColor = yellow
	case policy.PhaseBreakActive:
		phaseColor = red
	}

	_, _ = cyan.Fprintf(w, "Breakwatch status (%s)\n", report.Source)
	_, _ = fmt.Fprintf(w, "  phase:           ")
	_, _ = phaseColor.Fprintln(w, report.Phase)
	_, _ = fmt.Fprintf(w, "  session usage:   %s of %s\n", seconds(report.Usage.SessionUsage), report.MaxSessionTime)
	_, _ = fmt.Fprintf(w, "  total today:     %s\n", seconds(report.Usage.TotalUsage))
	_, _ = fmt.Fprintf(w, "  shorts watched:  %d\n", report.Usage.ShortsCount)
	_, _ = fmt.Fprintf(w, "  milestones:      %v\n", report.Usage.Milestones)
	if report.BreakRemaining != "" {
		_, _ = red.Fprintf(w, "  break remaining: %s (of %s)\n", report.BreakRemaining, report.BreakTime)
	}
	if report.OverlayActive {
		_, _ = yellow.Fprintln(w, "  overlay:         shown")
	}
	_, _ = fmt.Fprintf(w, "  next reset:      %s\n", report.NextReset.Format(time.RFC1123))

	return nil
}

func seconds(s float64) string {
	return (time.Duration(s * float64(time.Second))).Truncate(time.Second).String()
}
