package usage

import (
	"context"
	"time"

	"github.com/goodtune/breakwatch/internal/storage"
	"github.com/rs/zerolog"
)

// Tracker converts wall-clock time between ticks into session and total usage.
type Tracker struct {
	state  *State
	logger zerolog.Logger
}

// NewTracker creates a new usage tracker over state.
func NewTracker(state *State, logger zerolog.Logger) *Tracker {
	return &Tracker{
		state:  state,
		logger: logger.With().Str("component", "usage-tracker").Logger(),
	}
}

// AddElapsed adds the time since the last check to both usage counters and
// advances the last-checked timestamp. A negative delta (clock skew) accrues
// nothing but still advances the timestamp.
func (t *Tracker) AddElapsed(ctx context.Context, now time.Time) {
	s := t.state
	nowMS := now.UnixMilli()
	delta := nowMS - s.LastChecked

	if delta > 0 {
		seconds := float64(delta) / 1000
		s.TotalUsage += seconds
		s.SessionUsage += seconds
		s.counters.Set(ctx, storage.KeyTotalUsage, s.TotalUsage)
		s.counters.Set(ctx, storage.KeySessionUsage, s.SessionUsage)
		s.publish()
	} else if delta < 0 {
		t.logger.Warn().
			Int64("delta_ms", delta).
			Msg("Clock moved backwards, skipping accumulation")
	}

	t.advance(ctx, nowMS)

	t.logger.Debug().
		Float64("session_minutes", s.SessionUsage/60).
		Float64("total_minutes", s.TotalUsage/60).
		Msg("Usage updated")
}

// Advance moves the last-checked timestamp to now without accruing usage.
// It is used for ticks where the monitored site is not in view.
func (t *Tracker) Advance(ctx context.Context, now time.Time) {
	t.advance(ctx, now.UnixMilli())
}

func (t *Tracker) advance(ctx context.Context, nowMS int64) {
	t.state.LastChecked = nowMS
	t.state.counters.Set(ctx, storage.KeyLastChecked, float64(nowMS))
}
