package bolt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goodtune/breakwatch/internal/storage"
	"go.etcd.io/bbolt"
)

const bucketCounters = "counters"

// Store implements storage.Backend using bbolt.
type Store struct {
	db *bbolt.DB
}

// Open opens a BoltDB-backed store.
func Open(path string) (*Store, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketCounters)); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucketCounters, err)
		}
		return nil
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the value stored at key.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketCounters))
		if b == nil {
			return fmt.Errorf("%w: counters bucket missing", storage.ErrUnavailable)
		}
		raw := b.Get([]byte(key))
		if raw == nil {
			return storage.ErrNotFound
		}
		value = string(raw)
		return nil
	})
	if err != nil {
		return "", wrapErr(err)
	}
	return value, nil
}

// Set stores value at key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketCounters))
		if b == nil {
			return fmt.Errorf("%w: counters bucket missing", storage.ErrUnavailable)
		}
		return b.Put([]byte(key), []byte(value))
	})
	return wrapErr(err)
}

// wrapErr tags transaction failures as ErrUnavailable, leaving ErrNotFound intact.
func wrapErr(err error) error {
	if err == nil || errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
}
