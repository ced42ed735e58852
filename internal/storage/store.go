package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a key is missing from storage.
	ErrNotFound = errors.New("storage: record not found")

	// ErrUnavailable is returned when the backend refuses a read or write.
	ErrUnavailable = errors.New("storage: backend unavailable")

	// ErrMalformed is returned when a stored value cannot be decoded.
	ErrMalformed = errors.New("storage: malformed value")
)

// Backend is a durable string key/value store.
// Implementations return ErrNotFound for absent keys and wrap access
// failures with ErrUnavailable.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}
