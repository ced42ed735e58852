package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/breakwatch/internal/metrics"
	"github.com/rs/zerolog"
)

// DailyReset zeroes all usage once per calendar day at a fixed local hour.
type DailyReset struct {
	state   *State
	hour    int
	onReset []func()
	logger  zerolog.Logger
}

// NewDailyReset creates a daily reset for the given hour (0-23).
func NewDailyReset(state *State, hour int, logger zerolog.Logger) (*DailyReset, error) {
	if hour < 0 || hour > 23 {
		return nil, fmt.Errorf("daily reset hour must be 0-23, got %d", hour)
	}

	return &DailyReset{
		state:  state,
		hour:   hour,
		logger: logger.With().Str("component", "daily-reset").Logger(),
	}, nil
}

// OnReset registers fn to run after every reset.
func (r *DailyReset) OnReset(fn func()) {
	r.onReset = append(r.onReset, fn)
}

// Due reports whether now falls in the reset hour and no reset has happened
// yet on now's calendar date.
func (r *DailyReset) Due(now time.Time) bool {
	if now.Hour() != r.hour {
		return false
	}
	if r.state.LastReset == 0 {
		return true
	}
	last := time.UnixMilli(r.state.LastReset).In(now.Location())
	return !sameDate(last, now)
}

// Check performs the reset if it is due and reports whether it did.
func (r *DailyReset) Check(ctx context.Context, now time.Time) bool {
	if !r.Due(now) {
		return false
	}

	r.logger.Info().
		Float64("total_minutes", r.state.TotalUsage/60).
		Int("shorts", r.state.ShortsCount).
		Msg("Performing daily usage reset")

	r.state.ResetAll(ctx, now)
	metrics.DailyResets.Inc()
	for _, fn := range r.onReset {
		fn()
	}

	r.logger.Info().
		Time("next_reset", r.NextReset(now)).
		Msg("Daily usage reset complete")
	return true
}

// NextReset calculates the next reset boundary after now
func (r *DailyReset) NextReset(now time.Time) time.Time {
	todayReset := time.Date(
		now.Year(), now.Month(), now.Day(),
		r.hour, 0, 0, 0,
		now.Location(),
	)

	// If we've already passed today's reset time, schedule for tomorrow
	if !now.Before(todayReset) {
		return todayReset.AddDate(0, 0, 1)
	}

	return todayReset
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
