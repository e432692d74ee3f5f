package status

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanvq/facegallery/internal/cache"
)

// memCache is an in-memory cache.Store with a switchable failure mode
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	down bool
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, errors.New("connection refused")
	}
	data, ok := m.data[key]
	if !ok {
		return nil, cache.ErrMiss
	}
	return data, nil
}

func (m *memCache) SetEx(_ context.Context, key string, _ time.Duration, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return errors.New("connection refused")
	}
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func (*memCache) DeletePattern(context.Context, string) error { return nil }
func (*memCache) Ping(context.Context) error                  { return nil }

func (m *memCache) setDown(down bool) {
	m.mu.Lock()
	m.down = down
	m.mu.Unlock()
}

func TestTrackerSetAndGet(t *testing.T) {
	t.Parallel()

	primary := newMemCache()
	tracker := NewTracker(primary, NewFallback())

	tracker.Set(context.Background(), 7, StateQueued, Fields{TotalPhotos: 12, JobID: "encoding-7-1"})

	rec := tracker.Get(context.Background(), 7)
	assert.Equal(t, int64(7), rec.AlbumID)
	assert.Equal(t, StateQueued, rec.State)
	assert.Equal(t, 12, rec.TotalPhotos)
	assert.Equal(t, "encoding-7-1", rec.JobID)
	assert.False(t, rec.UpdatedAt.IsZero())
}

func TestTrackerDefaultsToNotStarted(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(newMemCache(), NewFallback())

	rec := tracker.Get(context.Background(), 42)
	assert.Equal(t, int64(42), rec.AlbumID)
	assert.Equal(t, StateNotStarted, rec.State)
	assert.Zero(t, rec.TotalFaces)
}

func TestTrackerFallsBackWhenPrimaryDown(t *testing.T) {
	t.Parallel()

	primary := newMemCache()
	primary.setDown(true)
	tracker := NewTracker(primary, NewFallback())

	tracker.Set(context.Background(), 3, StateEncoding, Fields{TotalPhotos: 5})

	rec := tracker.Get(context.Background(), 3)
	assert.Equal(t, StateEncoding, rec.State)
	assert.Equal(t, 5, rec.TotalPhotos)
}

func TestTrackerPrimaryRecoveryDropsFallback(t *testing.T) {
	t.Parallel()

	primary := newMemCache()
	fallback := NewFallback()
	tracker := NewTracker(primary, fallback)

	// First write lands in the fallback while the primary is down
	primary.setDown(true)
	tracker.Set(context.Background(), 3, StateEncoding, Fields{})
	_, held := fallback.Get(3)
	require.True(t, held)

	// Once the primary recovers, the record moves there and the stale
	// fallback entry is dropped
	primary.setDown(false)
	tracker.Set(context.Background(), 3, StateCompleted, Fields{TotalFaces: 9})

	_, held = fallback.Get(3)
	assert.False(t, held)

	rec := tracker.Get(context.Background(), 3)
	assert.Equal(t, StateCompleted, rec.State)
	assert.Equal(t, 9, rec.TotalFaces)
}

func TestTrackerRecordJSONShape(t *testing.T) {
	t.Parallel()

	primary := newMemCache()
	tracker := NewTracker(primary, NewFallback())
	tracker.Set(context.Background(), 5, StateError, Fields{Error: "boom"})

	raw, ok := primary.data[cache.StatusKey(5)]
	require.True(t, ok)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "error", decoded["status"])
	assert.Equal(t, "boom", decoded["error"])
	assert.Contains(t, decoded, "total_faces")
}
