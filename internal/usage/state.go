package usage

import (
	"context"
	"time"

	"github.com/goodtune/breakwatch/internal/metrics"
	"github.com/goodtune/breakwatch/internal/storage"
)

// Load reads State from the counter store. Missing or unreadable values
// default to zero; a zero last-checked timestamp defaults to now and is
// written back so the first tick accrues nothing.
func Load(ctx context.Context, counters *storage.Counters, now time.Time) *State {
	s := read(ctx, counters)

	if s.LastChecked == 0 {
		s.LastChecked = now.UnixMilli()
		counters.Set(ctx, storage.KeyLastChecked, float64(s.LastChecked))
	}

	s.publish()
	return s
}

// Peek reads State without writing anything back or touching the usage
// gauges. A zero last-checked timestamp stays zero. The result is for
// reporting only and must not be mutated.
func Peek(ctx context.Context, counters *storage.Counters) *State {
	return read(ctx, counters)
}

func read(ctx context.Context, counters *storage.Counters) *State {
	return &State{
		TotalUsage:   counters.Get(ctx, storage.KeyTotalUsage),
		SessionUsage: counters.Get(ctx, storage.KeySessionUsage),
		BreakStart:   int64(counters.Get(ctx, storage.KeyBreakStart)),
		ShortsCount:  int(counters.Get(ctx, storage.KeyShortsCount)),
		LastReset:    int64(counters.Get(ctx, storage.KeyLastReset)),
		LastChecked:  int64(counters.Get(ctx, storage.KeyLastChecked)),
		Milestones:   ParseMilestones(counters.GetList(ctx, storage.KeyMilestonesAlerted)),
		counters:     counters,
	}
}

// Snapshot returns a copy of the state for reporting.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		TotalUsage:   s.TotalUsage,
		SessionUsage: s.SessionUsage,
		BreakStart:   fromMillis(s.BreakStart),
		ShortsCount:  s.ShortsCount,
		LastChecked:  fromMillis(s.LastChecked),
		LastReset:    fromMillis(s.LastReset),
		Milestones:   s.Milestones.IDs(),
	}
}

// StartBreak records the start of an enforced break.
func (s *State) StartBreak(ctx context.Context, now time.Time) {
	s.BreakStart = now.UnixMilli()
	s.counters.Set(ctx, storage.KeyBreakStart, float64(s.BreakStart))
}

// BreakElapsed reports how long the current break has run; zero when none is recorded.
func (s *State) BreakElapsed(now time.Time) time.Duration {
	if s.BreakStart == 0 {
		return 0
	}
	return time.Duration(now.UnixMilli()-s.BreakStart) * time.Millisecond
}

// ResetSession ends the session after a completed break: the break marker,
// session usage, and notified milestones are cleared.
func (s *State) ResetSession(ctx context.Context) {
	s.BreakStart = 0
	s.SessionUsage = 0
	s.Milestones.Clear()

	s.counters.Set(ctx, storage.KeyBreakStart, 0)
	s.counters.Set(ctx, storage.KeySessionUsage, 0)
	s.counters.SetList(ctx, storage.KeyMilestonesAlerted, nil)
	s.publish()
}

// ResetAll zeroes every counter and stamps both timestamps with now.
func (s *State) ResetAll(ctx context.Context, now time.Time) {
	ms := now.UnixMilli()
	s.TotalUsage = 0
	s.SessionUsage = 0
	s.BreakStart = 0
	s.ShortsCount = 0
	s.LastReset = ms
	s.LastChecked = ms
	s.Milestones.Clear()

	s.counters.Set(ctx, storage.KeyTotalUsage, 0)
	s.counters.Set(ctx, storage.KeySessionUsage, 0)
	s.counters.Set(ctx, storage.KeyBreakStart, 0)
	s.counters.Set(ctx, storage.KeyShortsCount, 0)
	s.counters.Set(ctx, storage.KeyLastReset, float64(ms))
	s.counters.Set(ctx, storage.KeyLastChecked, float64(ms))
	s.counters.SetList(ctx, storage.KeyMilestonesAlerted, nil)
	s.publish()
}

// MarkMilestone records id as notified and persists the set.
// It returns false if id was already present.
func (s *State) MarkMilestone(ctx context.Context, id int) bool {
	if !s.Milestones.Add(id) {
		return false
	}
	s.counters.SetList(ctx, storage.KeyMilestonesAlerted, s.Milestones.Keys())
	return true
}

func (s *State) incrementShorts(ctx context.Context) {
	s.ShortsCount++
	s.counters.Set(ctx, storage.KeyShortsCount, float64(s.ShortsCount))
}

func (s *State) publish() {
	metrics.SessionUsageSeconds.Set(s.SessionUsage)
	metrics.TotalUsageSeconds.Set(s.TotalUsage)
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
