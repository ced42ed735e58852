package policy

import (
	"errors"
	"time"
)

// ErrInvalidConfig is returned for out-of-range policy settings.
var ErrInvalidConfig = errors.New("policy: invalid config")

// Phase is the break-enforcement state
type Phase string

const (
	PhaseNormal            Phase = "NORMAL"
	PhaseBreakPendingStart Phase = "BREAK_PENDING_START" // Threshold exceeded, break recorded this evaluation
	PhaseBreakActive       Phase = "BREAK_ACTIVE"        // Break in progress, site blocked
)

// Outcome describes what an evaluation did
type Outcome string

const (
	OutcomeNone           Outcome = "none"
	OutcomeMilestone      Outcome = "milestone"
	OutcomeBreakStarted   Outcome = "break_started"
	OutcomeBreakEnforced  Outcome = "break_enforced"
	OutcomeBreakCompleted Outcome = "break_completed"
)

// Decision is the result of one policy evaluation
type Decision struct {
	Phase     Phase
	Outcome   Outcome
	Milestone int  // Identifier of the milestone notified, 0 if none
	Shown     bool // Whether the overlay request mounted a new overlay
}

// Config holds the session threshold settings
type Config struct {
	MaxSessionTime time.Duration // Session usage that triggers a break
	BreakTime      time.Duration // Required break length
	AlertFrequency int           // Number of milestone notices within a session
	PolicyDir      string        // Directory of Rego rules; empty uses the built-in rules
}

// Milestone is a checkpoint inside a session
type Milestone struct {
	ID      int
	Seconds float64
	Percent int
}

// Overlay shows a modal over the monitored page.
// Show ignores the call and returns false if an overlay is already mounted.
// A nil callback ends the browsing session.
type Overlay interface {
	Show(message string, onAccept, onDecline func()) bool
}
