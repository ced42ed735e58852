package policy

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/goodtune/breakwatch/internal/metrics"
	"github.com/goodtune/breakwatch/internal/policy/opa"
	"github.com/goodtune/breakwatch/internal/usage"
	"github.com/rs/zerolog"
)

// Engine decides from accumulated usage whether to show a milestone notice
// or enforce a break.
type Engine struct {
	state      *usage.State
	overlay    Overlay
	config     Config
	milestones []Milestone
	rules      *opa.Engine
	logger     zerolog.Logger
}

// NewEngine creates a new break policy engine
func NewEngine(state *usage.State, overlay Overlay, config Config, logger zerolog.Logger) (*Engine, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	rules, err := opa.NewEngine(config.PolicyDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize break rules: %w", err)
	}

	e := &Engine{
		state:      state,
		overlay:    overlay,
		config:     config,
		milestones: buildMilestones(config),
		rules:      rules,
		logger:     logger.With().Str("component", "policy").Logger(),
	}

	e.logger.Info().
		Dur("max_session_time", config.MaxSessionTime).
		Dur("break_time", config.BreakTime).
		Int("alert_frequency", config.AlertFrequency).
		Msg("Break policy initialized")

	return e, nil
}

func (c Config) validate() error {
	if c.MaxSessionTime <= 0 {
		return fmt.Errorf("%w: max session time must be positive, got %s", ErrInvalidConfig, c.MaxSessionTime)
	}
	if c.BreakTime <= 0 {
		return fmt.Errorf("%w: break time must be positive, got %s", ErrInvalidConfig, c.BreakTime)
	}
	if c.AlertFrequency < 0 {
		return fmt.Errorf("%w: alert frequency must not be negative, got %d", ErrInvalidConfig, c.AlertFrequency)
	}
	return nil
}

// buildMilestones spaces AlertFrequency checkpoints evenly below the threshold.
func buildMilestones(c Config) []Milestone {
	n := c.AlertFrequency
	limit := c.MaxSessionTime.Seconds()
	milestones := make([]Milestone, 0, n)
	for i := 1; i <= n; i++ {
		milestones = append(milestones, Milestone{
			ID:      i,
			Seconds: float64(i) * limit / float64(n+1),
			Percent: int(math.Round(float64(i) / float64(n+1) * 100)),
		})
	}
	return milestones
}

// Milestones returns the configured checkpoints in ascending order.
func (e *Engine) Milestones() []Milestone {
	out := make([]Milestone, len(e.milestones))
	copy(out, e.milestones)
	return out
}

// Phase reports the current phase without side effects.
func (e *Engine) Phase() Phase {
	if e.state.BreakStart != 0 {
		return PhaseBreakActive
	}
	if e.overLimit() {
		return PhaseBreakPendingStart
	}
	return PhaseNormal
}

// Evaluate runs one policy step at now: the break rules pick an action and
// the engine applies its state change and overlay request.
func (e *Engine) Evaluate(ctx context.Context, now time.Time) (Decision, error) {
	decision, err := e.rules.Decide(ctx, e.input(now))
	if err != nil {
		return Decision{Phase: e.Phase(), Outcome: OutcomeNone}, err
	}

	switch decision.Action {
	case opa.ActionBreakStart:
		return e.startBreak(ctx, now), nil
	case opa.ActionBreakEnforce:
		return e.enforceBreak(now), nil
	case opa.ActionBreakComplete:
		return e.completeBreak(ctx, now), nil
	case opa.ActionMilestone:
		m, ok := e.milestone(decision.MilestoneID)
		if !ok {
			return Decision{Phase: e.Phase(), Outcome: OutcomeNone}, fmt.Errorf("rules selected unknown milestone %d", decision.MilestoneID)
		}
		return e.notifyMilestone(ctx, m), nil
	}

	return Decision{Phase: e.Phase(), Outcome: OutcomeNone}, nil
}

func (e *Engine) input(now time.Time) opa.Input {
	milestones := make([]opa.Milestone, len(e.milestones))
	for i, m := range e.milestones {
		milestones[i] = opa.Milestone{ID: m.ID, Seconds: m.Seconds}
	}

	return opa.Input{
		SessionUsage:   e.state.SessionUsage,
		BreakStart:     e.state.BreakStart,
		Now:            now.UnixMilli(),
		BreakTime:      e.config.BreakTime.Seconds(),
		MaxSessionTime: e.config.MaxSessionTime.Seconds(),
		Milestones:     milestones,
		Notified:       e.state.Milestones.IDs(),
	}
}

func (e *Engine) milestone(id int) (Milestone, bool) {
	for _, m := range e.milestones {
		if m.ID == id {
			return m, true
		}
	}
	return Milestone{}, false
}

func (e *Engine) overLimit() bool {
	return e.state.SessionUsage > e.config.MaxSessionTime.Seconds()
}

func (e *Engine) startBreak(ctx context.Context, now time.Time) Decision {
	s := e.state
	s.StartBreak(ctx, now)
	metrics.BreaksStarted.Inc()

	e.logger.Info().
		Float64("session_minutes", s.SessionUsage/60).
		Float64("total_minutes", s.TotalUsage/60).
		Dur("break_time", e.config.BreakTime).
		Msg("Session limit exceeded, starting break")

	shown := e.overlay.Show(breakStartMessage(s.SessionUsage, s.TotalUsage, e.config.BreakTime), nil, nil)
	return Decision{Phase: PhaseBreakPendingStart, Outcome: OutcomeBreakStarted, Shown: shown}
}

func (e *Engine) enforceBreak(now time.Time) Decision {
	elapsed := e.state.BreakElapsed(now)
	shown := e.overlay.Show(breakActiveMessage(e.config.BreakTime-elapsed), nil, nil)
	return Decision{Phase: PhaseBreakActive, Outcome: OutcomeBreakEnforced, Shown: shown}
}

func (e *Engine) completeBreak(ctx context.Context, now time.Time) Decision {
	elapsed := e.state.BreakElapsed(now)
	e.state.ResetSession(ctx)
	metrics.BreaksCompleted.Inc()

	e.logger.Info().
		Dur("break_elapsed", elapsed).
		Msg("Break complete, starting new session")

	return Decision{Phase: PhaseNormal, Outcome: OutcomeBreakCompleted}
}

func (e *Engine) notifyMilestone(ctx context.Context, m Milestone) Decision {
	s := e.state
	s.MarkMilestone(ctx, m.ID)
	metrics.MilestonesNotified.WithLabelValues(strconv.Itoa(m.ID)).Inc()

	e.logger.Info().
		Int("milestone", m.ID).
		Int("percent", m.Percent).
		Float64("session_minutes", s.SessionUsage/60).
		Msg("Session milestone reached")

	// Accept keeps watching; Decline falls back to ending the session.
	shown := e.overlay.Show(milestoneMessage(s.SessionUsage, m.Percent), func() {}, nil)
	return Decision{Phase: PhaseNormal, Outcome: OutcomeMilestone, Milestone: m.ID, Shown: shown}
}
