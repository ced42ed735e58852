package usage

import (
	"context"
	"testing"

	"github.com/goodtune/breakwatch/internal/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShortID(t *testing.T) {
	tests := map[string]string{
		"https://www.youtube.com/shorts/abc123":          "abc123",
		"https://www.youtube.com/shorts/abc123?feature=x": "abc123",
		"https://www.youtube.com/shorts/abc123/":         "abc123",
		"https://www.youtube.com/watch?v=abc123":         "",
		"https://www.youtube.com/shorts/":                "",
		"::not a url":                                    "",
	}
	for in, want := range tests {
		assert.Equal(t, want, ShortID(in), in)
	}
}

func TestShortsTrackerCountsDistinct(t *testing.T) {
	ctx := context.Background()
	state, backend := newTestState(t, t0)
	tracker, err := NewShortsTracker(state, 16, zerolog.Nop())
	require.NoError(t, err)

	urls := []string{
		"https://www.youtube.com/shorts/a",
		"https://www.youtube.com/shorts/a",
		"https://www.youtube.com/shorts/b",
		"https://www.youtube.com/feed/subscriptions",
		"https://www.youtube.com/shorts/a",
		"https://www.youtube.com/shorts/c",
	}
	for _, u := range urls {
		tracker.Observe(ctx, u)
	}

	assert.Equal(t, 3, state.ShortsCount)
	raw, _ := backend.Raw(storage.KeyShortsCount)
	assert.Equal(t, "3", raw)

	tracker.Reset()
	assert.True(t, tracker.Observe(ctx, "https://www.youtube.com/shorts/a"))
	assert.Equal(t, 4, state.ShortsCount)
}

func TestNewShortsTrackerRejectsSize(t *testing.T) {
	state, _ := newTestState(t, t0)
	_, err := NewShortsTracker(state, 0, zerolog.Nop())
	assert.Error(t, err)
}
