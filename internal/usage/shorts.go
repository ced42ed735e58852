package usage

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goodtune/breakwatch/internal/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

const shortsPathPrefix = "/shorts/"

// ShortsTracker counts distinct shorts opened in the monitored page.
type ShortsTracker struct {
	state  *State
	seen   *lru.Cache[string, struct{}]
	last   string
	logger zerolog.Logger
}

// NewShortsTracker creates a tracker remembering up to size recently seen ids.
func NewShortsTracker(state *State, size int, logger zerolog.Logger) (*ShortsTracker, error) {
	seen, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("create shorts cache: %w", err)
	}

	return &ShortsTracker{
		state:  state,
		seen:   seen,
		logger: logger.With().Str("component", "shorts-tracker").Logger(),
	}, nil
}

// Observe inspects the current page URL and counts a new short when the
// page moved to one not seen recently. It reports whether the count changed.
func (t *ShortsTracker) Observe(ctx context.Context, pageURL string) bool {
	id := ShortID(pageURL)
	if id == "" || id == t.last {
		return false
	}
	t.last = id

	if t.seen.Contains(id) {
		return false
	}
	t.seen.Add(id, struct{}{})
	t.state.incrementShorts(ctx)
	metrics.ShortsWatched.Inc()

	t.logger.Debug().
		Str("short_id", id).
		Int("shorts_count", t.state.ShortsCount).
		Msg("New short observed")
	return true
}

// Reset forgets every remembered id.
func (t *ShortsTracker) Reset() {
	t.seen.Purge()
	t.last = ""
}

// ShortID extracts the id from a /shorts/<id> URL, or returns "".
func ShortID(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	rest, ok := strings.CutPrefix(u.Path, shortsPathPrefix)
	if !ok {
		return ""
	}
	id, _, _ := strings.Cut(rest, "/")
	return id
}
