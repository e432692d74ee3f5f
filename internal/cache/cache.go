// Package cache provides the shared key/value cache used for photo listings,
// encoding results, and encoding status records. The cache is an availability
// optimization only: every operation is fallible and callers must treat a
// failure as a miss or a no-op, never as a reason to fail the mutation they
// are performing.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMiss is returned by Get when the key is absent.
var ErrMiss = errors.New("cache miss")

// TTLs for the cached artifact classes.
const (
	// TTLEncodings bounds the per-album encoding-result cache.
	TTLEncodings = 24 * time.Hour

	// TTLStatus bounds encoding status records in the primary store.
	TTLStatus = 5 * time.Minute

	// TTLPhotos bounds the per-album photo listing cache.
	TTLPhotos = time.Hour
)

// Store is the cache interface. Implementations must be safe for concurrent
// use. All methods honor context deadlines.
type Store interface {
	// Get returns the value for key, or ErrMiss when absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// SetEx stores value under key with the given TTL.
	SetEx(ctx context.Context, key string, ttl time.Duration, value []byte) error

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// DeletePattern removes every key matching the glob pattern.
	DeletePattern(ctx context.Context, pattern string) error

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}

// PhotosKey is the per-album photo listing cache key.
func PhotosKey(albumID int64) string {
	return fmt.Sprintf("photos:album:%d", albumID)
}

// EncodingsKey is the per-album encoding-result cache key.
func EncodingsKey(albumID int64) string {
	return fmt.Sprintf("encodings:album:%d", albumID)
}

// StatusKey is the per-album encoding status key.
func StatusKey(albumID int64) string {
	return fmt.Sprintf("encoding:status:%d", albumID)
}

// GetJSON fetches key and unmarshals it into dest. Returns ErrMiss when the
// key is absent.
func GetJSON(ctx context.Context, s Store, key string, dest any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to decode cached value for %s: %w", key, err)
	}
	return nil
}

// SetJSON marshals value and stores it under key with the given TTL.
func SetJSON(ctx context.Context, s Store, key string, ttl time.Duration, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %s: %w", key, err)
	}
	return s.SetEx(ctx, key, ttl, data)
}
