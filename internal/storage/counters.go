package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/goodtune/breakwatch/internal/metrics"
	"github.com/rs/zerolog"
)

// Counters provides numeric and list-valued counters on top of a Backend.
//
// Every failure is absorbed: reads fall back to 0 or an empty list and
// writes become no-ops. Failures are logged and counted so degraded
// persistence is visible without ever halting the caller.
type Counters struct {
	backend Backend
	logger  zerolog.Logger
}

// NewCounters wraps a backend.
func NewCounters(backend Backend, logger zerolog.Logger) *Counters {
	return &Counters{
		backend: backend,
		logger:  logger.With().Str("component", "counters").Logger(),
	}
}

// Get returns the numeric value stored at key, or 0 when the key is absent,
// malformed, or the backend is unreachable.
func (c *Counters) Get(ctx context.Context, key string) float64 {
	value, err := c.lookup(ctx, key)
	if err != nil {
		c.fail("get", key, err)
		return 0
	}
	if value == "" {
		return 0
	}

	n, err := parseNumber(value)
	if err != nil {
		c.fail("get", key, err)
		return 0
	}
	return n
}

// Set stores a numeric value as decimal text.
func (c *Counters) Set(ctx context.Context, key string, value float64) {
	if err := c.backend.Set(ctx, key, formatNumber(value)); err != nil {
		c.fail("set", key, err)
	}
}

// GetList returns the string sequence stored at key, or an empty slice.
func (c *Counters) GetList(ctx context.Context, key string) []string {
	value, err := c.lookup(ctx, key)
	if err != nil {
		c.fail("get_list", key, err)
		return []string{}
	}
	if value == "" {
		return []string{}
	}

	var items []string
	if err := json.Unmarshal([]byte(value), &items); err != nil {
		c.fail("get_list", key, fmt.Errorf("%w: %v", ErrMalformed, err))
		return []string{}
	}
	if items == nil {
		return []string{}
	}
	return items
}

// SetList stores a string sequence as a JSON array.
func (c *Counters) SetList(ctx context.Context, key string, items []string) {
	if items == nil {
		items = []string{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		c.fail("set_list", key, err)
		return
	}
	if err := c.backend.Set(ctx, key, string(data)); err != nil {
		c.fail("set_list", key, err)
	}
}

// lookup maps ErrNotFound to an empty value.
func (c *Counters) lookup(ctx context.Context, key string) (string, error) {
	value, err := c.backend.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return value, err
}

func (c *Counters) fail(op, key string, err error) {
	metrics.StorageErrors.WithLabelValues(op).Inc()
	c.logger.Error().
		Err(err).
		Str("op", op).
		Str("key", key).
		Msg("Counter storage failed, continuing without persistence")
}

func parseNumber(value string) (float64, error) {
	n, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrMalformed, value)
	}
	return n, nil
}

func formatNumber(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
