package usage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSitesMatch(t *testing.T) {
	sites, err := NewSites([]string{"https://www.youtube.com/*", "https://m.youtube.com/*"})
	require.NoError(t, err)

	tests := []struct {
		url  string
		want bool
	}{
		{"https://www.youtube.com/watch?v=abc", true},
		{"https://www.youtube.com/shorts/xyz", true},
		{"https://m.youtube.com/", true},
		{"https://example.com/", false},
		{"about:blank", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, sites.Match(tt.url))
		})
	}
}

func TestSitesEmptyMatchesEverything(t *testing.T) {
	sites, err := NewSites(nil)
	require.NoError(t, err)
	assert.True(t, sites.Match("about:blank"))
}
