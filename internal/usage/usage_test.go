package usage

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/goodtune/breakwatch/internal/storage"
	"github.com/goodtune/breakwatch/internal/storage/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 10, 14, 0, 0, 0, time.Local)

func newTestState(t *testing.T, now time.Time) (*State, *memory.Store) {
	t.Helper()
	backend := memory.New()
	counters := storage.NewCounters(backend, zerolog.Nop())
	return Load(context.Background(), counters, now), backend
}

func TestLoadDefaultsLastChecked(t *testing.T) {
	state, backend := newTestState(t, t0)

	assert.Zero(t, state.TotalUsage)
	assert.Zero(t, state.SessionUsage)
	assert.Zero(t, state.BreakStart)
	assert.Equal(t, t0.UnixMilli(), state.LastChecked)

	raw, ok := backend.Raw(storage.KeyLastChecked)
	require.True(t, ok)
	assert.Equal(t, strconv.FormatInt(t0.UnixMilli(), 10), raw)
}

func TestLoadReadsPersistedValues(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	require.NoError(t, backend.Set(ctx, storage.KeyTotalUsage, "1200.5"))
	require.NoError(t, backend.Set(ctx, storage.KeySessionUsage, "300"))
	require.NoError(t, backend.Set(ctx, storage.KeyBreakStart, "1710079000000"))
	require.NoError(t, backend.Set(ctx, storage.KeyShortsCount, "4"))
	require.NoError(t, backend.Set(ctx, storage.KeyLastChecked, "1710079100000"))
	require.NoError(t, backend.Set(ctx, storage.KeyMilestonesAlerted, `["milestone_1","2","bogus"]`))

	state := Load(ctx, storage.NewCounters(backend, zerolog.Nop()), t0)

	assert.Equal(t, 1200.5, state.TotalUsage)
	assert.Equal(t, 300.0, state.SessionUsage)
	assert.Equal(t, int64(1710079000000), state.BreakStart)
	assert.Equal(t, 4, state.ShortsCount)
	assert.Equal(t, int64(1710079100000), state.LastChecked)
	assert.Equal(t, []int{1, 2}, state.Milestones.IDs())
}

func TestPeekDoesNotWriteBack(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	require.NoError(t, backend.Set(ctx, storage.KeySessionUsage, "300"))

	state := Peek(ctx, storage.NewCounters(backend, zerolog.Nop()))

	assert.Equal(t, 300.0, state.SessionUsage)
	assert.Zero(t, state.LastChecked)

	_, ok := backend.Raw(storage.KeyLastChecked)
	assert.False(t, ok, "a read-only load must leave the last-checked key absent")
}

func TestTrackerAccumulatesPositiveDeltas(t *testing.T) {
	ctx := context.Background()
	state, backend := newTestState(t, t0)
	tracker := NewTracker(state, zerolog.Nop())

	steps := []time.Duration{10 * time.Second, 10 * time.Second, 0, 2500 * time.Millisecond, 45 * time.Second}
	now := t0
	var want float64
	prevTotal := 0.0
	for _, step := range steps {
		now = now.Add(step)
		want += step.Seconds()
		tracker.AddElapsed(ctx, now)

		assert.GreaterOrEqual(t, state.TotalUsage, prevTotal, "total usage must not decrease")
		prevTotal = state.TotalUsage
	}

	assert.InDelta(t, want, state.TotalUsage, 1e-9)
	assert.InDelta(t, want, state.SessionUsage, 1e-9)
	assert.Equal(t, now.UnixMilli(), state.LastChecked)

	raw, ok := backend.Raw(storage.KeyTotalUsage)
	require.True(t, ok)
	assert.Equal(t, "67.5", raw)
}

func TestTrackerClockSkew(t *testing.T) {
	ctx := context.Background()
	state, _ := newTestState(t, t0)
	tracker := NewTracker(state, zerolog.Nop())

	tracker.AddElapsed(ctx, t0.Add(30*time.Second))
	tracker.AddElapsed(ctx, t0.Add(10*time.Second))

	assert.Equal(t, 30.0, state.TotalUsage)
	assert.Equal(t, 30.0, state.SessionUsage)
	assert.Equal(t, t0.Add(10*time.Second).UnixMilli(), state.LastChecked)

	tracker.AddElapsed(ctx, t0.Add(20*time.Second))
	assert.Equal(t, 40.0, state.TotalUsage)
}

func TestTrackerAdvanceAccruesNothing(t *testing.T) {
	ctx := context.Background()
	state, _ := newTestState(t, t0)
	tracker := NewTracker(state, zerolog.Nop())

	tracker.Advance(ctx, t0.Add(time.Hour))
	tracker.AddElapsed(ctx, t0.Add(time.Hour+10*time.Second))

	assert.Equal(t, 10.0, state.TotalUsage)
}

func TestStorageFailureNeverEscapes(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	backend.Err = errors.New("SecurityError: the operation is insecure")
	counters := storage.NewCounters(backend, zerolog.Nop())

	var state *State
	require.NotPanics(t, func() {
		state = Load(ctx, counters, t0)
	})
	assert.Zero(t, state.TotalUsage)
	assert.Zero(t, state.SessionUsage)
	assert.Zero(t, state.BreakStart)
	assert.Zero(t, state.Milestones.Len())

	tracker := NewTracker(state, zerolog.Nop())
	require.NotPanics(t, func() {
		tracker.AddElapsed(ctx, t0.Add(10*time.Second))
		state.MarkMilestone(ctx, 1)
		state.StartBreak(ctx, t0)
		state.ResetSession(ctx)
		state.ResetAll(ctx, t0)
	})

	// In-memory state keeps working even though nothing was persisted.
	tracker.AddElapsed(ctx, t0.Add(20*time.Second))
	assert.Equal(t, 20.0, state.TotalUsage)

	reloaded := Load(ctx, counters, t0)
	assert.Zero(t, reloaded.TotalUsage)
}

func TestResetSessionKeepsTotal(t *testing.T) {
	ctx := context.Background()
	state, backend := newTestState(t, t0)
	tracker := NewTracker(state, zerolog.Nop())

	tracker.AddElapsed(ctx, t0.Add(400*time.Second))
	state.MarkMilestone(ctx, 1)
	state.StartBreak(ctx, t0.Add(400*time.Second))

	state.ResetSession(ctx)

	assert.Zero(t, state.SessionUsage)
	assert.Zero(t, state.BreakStart)
	assert.Zero(t, state.Milestones.Len())
	assert.Equal(t, 400.0, state.TotalUsage)

	raw, _ := backend.Raw(storage.KeyMilestonesAlerted)
	assert.Equal(t, "[]", raw)
	raw, _ = backend.Raw(storage.KeyBreakStart)
	assert.Equal(t, "0", raw)
}

func TestMarkMilestoneOnce(t *testing.T) {
	ctx := context.Background()
	state, backend := newTestState(t, t0)

	assert.True(t, state.MarkMilestone(ctx, 1))
	assert.False(t, state.MarkMilestone(ctx, 1))
	assert.True(t, state.MarkMilestone(ctx, 2))

	raw, _ := backend.Raw(storage.KeyMilestonesAlerted)
	assert.Equal(t, `["milestone_1","milestone_2"]`, raw)
}

func TestBreakElapsed(t *testing.T) {
	state, _ := newTestState(t, t0)
	assert.Zero(t, state.BreakElapsed(t0))

	state.StartBreak(context.Background(), t0)
	assert.Equal(t, 901*time.Second, state.BreakElapsed(t0.Add(901*time.Second)))
}
