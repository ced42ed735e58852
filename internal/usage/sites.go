package usage

import (
	"fmt"

	"github.com/gobwas/glob"
)

// Sites matches page URLs against the monitored-site patterns
type Sites struct {
	patterns []string
	globs    []glob.Glob
}

// NewSites compiles URL glob patterns such as "https://www.youtube.com/*".
func NewSites(patterns []string) (*Sites, error) {
	s := &Sites{patterns: patterns}
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid site pattern %q: %w", p, err)
		}
		s.globs = append(s.globs, g)
	}
	return s, nil
}

// Match reports whether pageURL belongs to a monitored site.
// With no patterns every URL matches.
func (s *Sites) Match(pageURL string) bool {
	if len(s.globs) == 0 {
		return true
	}
	for _, g := range s.globs {
		if g.Match(pageURL) {
			return true
		}
	}
	return false
}

// Patterns returns the configured patterns.
func (s *Sites) Patterns() []string {
	return s.patterns
}
