package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanvq/facegallery/internal/cache"
	"github.com/hanvq/facegallery/internal/encoder"
	"github.com/hanvq/facegallery/internal/invalidation"
	"github.com/hanvq/facegallery/internal/status"
	"github.com/hanvq/facegallery/internal/store"
)

// scriptedEncoder fails a configurable number of leading calls per path,
// then succeeds
type scriptedEncoder struct {
	fullCalls        int
	incrementalCalls int
	fullFailures     int
	incrementalErr   error
	lastFullRefs     []encoder.PhotoRef
	encodings        []byte
	result           *encoder.EncodeResult
}

func (s *scriptedEncoder) EncodeAlbum(_ context.Context, _ int64, photos []encoder.PhotoRef) (*encoder.EncodeResult, error) {
	s.fullCalls++
	s.lastFullRefs = photos
	if s.fullCalls <= s.fullFailures {
		return nil, errors.New("service down")
	}
	return s.result, nil
}

func (s *scriptedEncoder) EncodeIncremental(context.Context, int64, []encoder.PhotoRef) (*encoder.EncodeResult, error) {
	s.incrementalCalls++
	if s.incrementalErr != nil {
		return nil, s.incrementalErr
	}
	return s.result, nil
}

func (*scriptedEncoder) RemovePhotos(context.Context, int64, []int64) error { return nil }

func (s *scriptedEncoder) GetEncodings(context.Context, int64) ([]byte, error) {
	if s.encodings == nil {
		return nil, errors.New("no encodings")
	}
	return s.encodings, nil
}

func (*scriptedEncoder) Status(context.Context, int64) ([]byte, error) { return nil, nil }
func (*scriptedEncoder) Search(context.Context, int64, string, float64) (*encoder.SearchResult, error) {
	return nil, nil
}

// photoCatalog serves a fixed photo list; the worker touches nothing else
// on the store.
type photoCatalog struct {
	store.Store
	photos []store.Photo
}

func (p *photoCatalog) ListPhotos(context.Context, int64) ([]store.Photo, error) {
	return p.photos, nil
}

type workerFixture struct {
	queue   *Queue
	worker  *Worker
	cache   cache.Store
	tracker *status.Tracker
	rdb     *redis.Client
}

func newWorkerFixture(t *testing.T, enc encoder.Client, photos []store.Photo) *workerFixture {
	t.Helper()
	q, rdb := newTestQueue(t)
	cacheStore := cache.NewRedisStore(rdb)
	tracker := status.NewTracker(cacheStore, status.NewFallback())
	inv := invalidation.NewCoordinator(cacheStore)
	w := NewWorker(q, enc, &photoCatalog{photos: photos}, tracker, cacheStore, inv)
	return &workerFixture{queue: q, worker: w, cache: cacheStore, tracker: tracker, rdb: rdb}
}

// runNext dequeues the next ready job and processes it
func (f *workerFixture) runNext(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	job, err := f.queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	f.worker.process(ctx, job)
}

func TestWorkerProcessCompletesJob(t *testing.T) {
	t.Parallel()

	enc := &scriptedEncoder{
		result:    &encoder.EncodeResult{Success: true, Processed: 2, TotalFaces: 6},
		encodings: []byte(`{"faces":[]}`),
	}
	f := newWorkerFixture(t, enc, nil)
	ctx := context.Background()

	require.NoError(t, f.queue.Enqueue(ctx, testJob("job-1", 7)))
	f.runNext(t)

	jobStatus, err := f.rdb.HGet(ctx, jobKey("job-1"), "status").Result()
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, jobStatus)

	rec := f.tracker.Get(ctx, 7)
	assert.Equal(t, status.StateCompleted, rec.State)
	assert.Equal(t, 6, rec.TotalFaces)
	assert.Equal(t, "job-1", rec.JobID)

	// The encodings cache was warmed from the service
	cached, err := f.cache.Get(ctx, cache.EncodingsKey(7))
	require.NoError(t, err)
	assert.Equal(t, enc.encodings, cached)
}

func TestWorkerRetriesWithBackoffThenSucceeds(t *testing.T) {
	t.Parallel()

	enc := &scriptedEncoder{
		fullFailures: 2,
		result:       &encoder.EncodeResult{Success: true, Processed: 2, TotalFaces: 3},
	}
	f := newWorkerFixture(t, enc, nil)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	f.queue.now = func() time.Time { return now }

	job := testJob("job-1", 7)
	job.BackoffBase = time.Second
	require.NoError(t, f.queue.Enqueue(ctx, job))

	// First attempt fails and lands in the delayed set.
	f.runNext(t)
	delayed, err := f.rdb.ZCard(ctx, delayedKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), delayed)
	_, err = f.queue.Dequeue(ctx, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrEmpty)

	// Second attempt after the 1s backoff fails again; the next delay doubles.
	now = now.Add(2 * time.Second)
	promoted, err := f.queue.PromoteDelayed(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, promoted)
	f.runNext(t)

	// Third attempt succeeds.
	now = now.Add(3 * time.Second)
	promoted, err = f.queue.PromoteDelayed(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, promoted)
	f.runNext(t)

	assert.Equal(t, 3, enc.fullCalls)

	attempts, err := f.rdb.HGet(ctx, jobKey("job-1"), "attempts").Int()
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	jobStatus, err := f.rdb.HGet(ctx, jobKey("job-1"), "status").Result()
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, jobStatus)
	assert.Equal(t, status.StateCompleted, f.tracker.Get(ctx, 7).State)
}

func TestWorkerFailsPermanentlyAtAttemptLimit(t *testing.T) {
	t.Parallel()

	enc := &scriptedEncoder{fullFailures: 10}
	f := newWorkerFixture(t, enc, nil)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	f.queue.now = func() time.Time { return now }

	job := testJob("job-1", 7)
	job.MaxAttempts = 2
	require.NoError(t, f.queue.Enqueue(ctx, job))

	f.runNext(t)
	now = now.Add(time.Hour)
	promoted, err := f.queue.PromoteDelayed(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, promoted)
	f.runNext(t)

	assert.Equal(t, 2, enc.fullCalls)

	jobStatus, err := f.rdb.HGet(ctx, jobKey("job-1"), "status").Result()
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, jobStatus)

	cause, err := f.rdb.HGet(ctx, jobKey("job-1"), "error").Result()
	require.NoError(t, err)
	assert.Contains(t, cause, "service down")

	rec := f.tracker.Get(ctx, 7)
	assert.Equal(t, status.StateError, rec.State)
	assert.Contains(t, rec.Error, "service down")

	// Nothing left to retry
	delayed, err := f.rdb.ZCard(ctx, delayedKey).Result()
	require.NoError(t, err)
	assert.Zero(t, delayed)
}

func TestWorkerIncrementalFallsBackToFullOnce(t *testing.T) {
	t.Parallel()

	catalog := []store.Photo{
		{ID: 10, ThumbnailURL: "https://cdn/10=s220"},
		{ID: 11, ThumbnailURL: "https://cdn/11=s220"},
		{ID: 12, ThumbnailURL: "https://cdn/12=s220"},
	}
	enc := &scriptedEncoder{
		incrementalErr: errors.New("incremental unsupported"),
		result:         &encoder.EncodeResult{Success: true, Processed: 3, TotalFaces: 4},
	}
	f := newWorkerFixture(t, enc, catalog)
	ctx := context.Background()

	job := testJob("job-1", 7)
	job.Incremental = true
	require.NoError(t, f.queue.Enqueue(ctx, job))
	f.runNext(t)

	assert.Equal(t, 1, enc.incrementalCalls)
	// The fallback re-encoded the whole catalog in a single full call
	assert.Equal(t, 1, enc.fullCalls)
	require.Len(t, enc.lastFullRefs, 3)
	assert.Equal(t, int64(10), enc.lastFullRefs[0].ID)

	jobStatus, err := f.rdb.HGet(ctx, jobKey("job-1"), "status").Result()
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, jobStatus)
	assert.Equal(t, status.StateCompleted, f.tracker.Get(ctx, 7).State)
}
