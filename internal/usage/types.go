package usage

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/goodtune/breakwatch/internal/storage"
)

// State is the persisted usage, break, and milestone state of the monitored site.
// It is owned by a single goroutine; mutations write through to the counter store.
type State struct {
	TotalUsage   float64 // seconds since the last daily reset
	SessionUsage float64 // seconds since the last completed break
	BreakStart   int64   // epoch-ms, 0 when no break is in progress
	ShortsCount  int
	LastChecked  int64 // epoch-ms
	LastReset    int64 // epoch-ms
	Milestones   MilestoneSet

	counters *storage.Counters
}

// Snapshot is a read-only copy of State for reporting.
type Snapshot struct {
	TotalUsage   float64   `json:"total_usage_seconds" yaml:"total_usage_seconds"`
	SessionUsage float64   `json:"session_usage_seconds" yaml:"session_usage_seconds"`
	BreakStart   time.Time `json:"break_start,omitzero" yaml:"break_start,omitempty"`
	ShortsCount  int       `json:"shorts_count" yaml:"shorts_count"`
	LastChecked  time.Time `json:"last_checked" yaml:"last_checked"`
	LastReset    time.Time `json:"last_reset,omitzero" yaml:"last_reset,omitempty"`
	Milestones   []int     `json:"milestones_notified" yaml:"milestones_notified"`
}

// MilestoneSet is the ordered set of milestone identifiers notified in the
// current session. Identifiers are 1-based.
type MilestoneSet struct {
	ids []int
}

const milestoneKeyPrefix = "milestone_"

// Contains reports whether id was already notified.
func (m *MilestoneSet) Contains(id int) bool {
	return slices.Contains(m.ids, id)
}

// Add appends id and reports whether it was new.
func (m *MilestoneSet) Add(id int) bool {
	if m.Contains(id) {
		return false
	}
	m.ids = append(m.ids, id)
	return true
}

// Clear empties the set.
func (m *MilestoneSet) Clear() {
	m.ids = nil
}

// Len returns the number of notified milestones.
func (m *MilestoneSet) Len() int {
	return len(m.ids)
}

// IDs returns the identifiers in notification order.
func (m *MilestoneSet) IDs() []int {
	return slices.Clone(m.ids)
}

// Keys returns the persisted form of the set.
func (m *MilestoneSet) Keys() []string {
	keys := make([]string, 0, len(m.ids))
	for _, id := range m.ids {
		keys = append(keys, MilestoneKey(id))
	}
	return keys
}

// MilestoneKey is the persisted identifier for milestone id.
func MilestoneKey(id int) string {
	return fmt.Sprintf("%s%d", milestoneKeyPrefix, id)
}

// ParseMilestones rebuilds a set from its persisted keys. Both "milestone_<n>"
// and bare "<n>" are accepted; anything else is dropped.
func ParseMilestones(keys []string) MilestoneSet {
	var set MilestoneSet
	for _, key := range keys {
		id, err := strconv.Atoi(strings.TrimPrefix(key, milestoneKeyPrefix))
		if err != nil || id <= 0 {
			continue
		}
		set.Add(id)
	}
	return set
}
