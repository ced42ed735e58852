// Package scheduler runs the periodic monitoring steps.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/breakwatch/internal/metrics"
	"github.com/goodtune/breakwatch/internal/policy"
	"github.com/rs/zerolog"
)

// StepFunc is one unit of work executed on every tick
type StepFunc func(ctx context.Context, now time.Time) error

type step struct {
	name string
	fn   StepFunc
}

// Scheduler runs an ordered list of steps at a fixed period
type Scheduler struct {
	interval time.Duration
	clock    policy.Clock
	steps    []step
	logger   zerolog.Logger

	kick     chan struct{}
	stopChan chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  bool
}

// New creates a scheduler ticking every interval
func New(interval time.Duration, clock policy.Clock, logger zerolog.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("scheduler interval must be positive, got %s", interval)
	}
	if clock == nil {
		clock = policy.RealClock{}
	}

	return &Scheduler{
		interval: interval,
		clock:    clock,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		kick:     make(chan struct{}, 1),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// AddStep appends a step. Steps run in the order they were added.
// It must be called before Start.
func (s *Scheduler) AddStep(name string, fn StepFunc) {
	s.steps = append(s.steps, step{name: name, fn: fn})
}

// Start runs the steps once immediately and then on every tick
func (s *Scheduler) Start() {
	s.started = true
	go s.run()
	s.logger.Info().
		Dur("interval", s.interval).
		Int("steps", len(s.steps)).
		Msg("Scheduler started")
}

// Stop halts the loop and waits for an in-flight tick to finish
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		if s.started {
			<-s.done
		}
		s.logger.Info().Msg("Scheduler stopped")
	})
}

// Trigger asks the loop for an extra tick as soon as the current one ends.
// Requests made while one is already pending are merged.
func (s *Scheduler) Trigger() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick()
	for {
		select {
		case <-ticker.C:
			s.Tick()
		case <-s.kick:
			s.Tick()
		case <-s.stopChan:
			return
		}
	}
}

// Tick runs every step once. A failing step does not prevent the
// following steps from running.
func (s *Scheduler) Tick() {
	start := time.Now()
	defer func() {
		metrics.TickDuration.Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	now := s.clock.Now()
	for _, st := range s.steps {
		if err := s.runStep(ctx, st, now); err != nil {
			metrics.StepFailures.WithLabelValues(st.name).Inc()
			s.logger.Error().
				Err(err).
				Str("step", st.name).
				Msg("Scheduler step failed")
		}
	}
}

func (s *Scheduler) runStep(ctx context.Context, st step, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in step %s: %v", st.name, r)
		}
	}()
	return st.fn(ctx, now)
}
