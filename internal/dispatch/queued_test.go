package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanvq/facegallery/internal/invalidation"
	"github.com/hanvq/facegallery/internal/queue"
	"github.com/hanvq/facegallery/internal/status"
)

func newQueuedFixture(t *testing.T, enc *fakeEncoder) (Dispatcher, *queue.Queue, *status.Tracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	q := queue.New(rdb)
	c := &memCache{data: make(map[string][]byte)}
	tracker := status.NewTracker(c, status.NewFallback())
	inv := invalidation.NewCoordinator(c)
	return NewQueued(q, enc, tracker, inv), q, tracker, mr
}

func TestQueuedDispatchEnqueuesJob(t *testing.T) {
	t.Parallel()

	enc := &fakeEncoder{}
	d, q, tracker, _ := newQueuedFixture(t, enc)
	ctx := context.Background()

	result := d.Dispatch(ctx, 7, refs(10, 11))

	require.NoError(t, result.Err)
	assert.True(t, result.Queued)
	assert.NotEmpty(t, result.JobID)
	// The work went to the queue, not the encoding service
	assert.Zero(t, enc.fullCalls)

	rec := tracker.Get(ctx, 7)
	assert.Equal(t, status.StateQueued, rec.State)
	assert.Equal(t, 2, rec.TotalPhotos)
	assert.Equal(t, result.JobID, rec.JobID)

	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, result.JobID, job.ID)
	assert.Equal(t, int64(7), job.AlbumID)
	assert.False(t, job.Incremental)
	require.Len(t, job.Photos, 2)
	assert.Equal(t, int64(10), job.Photos[0].ID)
}

func TestQueuedDispatchIncrementalMarksJob(t *testing.T) {
	t.Parallel()

	d, q, _, _ := newQueuedFixture(t, &fakeEncoder{})
	ctx := context.Background()

	result := d.DispatchIncremental(ctx, 7, refs(12))
	require.NoError(t, result.Err)
	assert.True(t, result.Queued)

	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.True(t, job.Incremental)
}

func TestQueuedDispatchEmptyIsNoop(t *testing.T) {
	t.Parallel()

	d, q, _, _ := newQueuedFixture(t, &fakeEncoder{})
	ctx := context.Background()

	result := d.Dispatch(ctx, 7, nil)
	require.NoError(t, result.Err)
	assert.False(t, result.Queued)

	_, err := q.Dequeue(ctx, 10*time.Millisecond)
	assert.ErrorIs(t, err, queue.ErrEmpty)
}

func TestQueuedDispatchEnqueueFailureIsReported(t *testing.T) {
	t.Parallel()

	d, _, tracker, mr := newQueuedFixture(t, &fakeEncoder{})
	ctx := context.Background()

	mr.Close()

	result := d.Dispatch(ctx, 7, refs(10))
	require.Error(t, result.Err)
	assert.False(t, result.Queued)

	rec := tracker.Get(ctx, 7)
	assert.Equal(t, status.StateError, rec.State)
	assert.NotEmpty(t, rec.Error)
}

func TestQueuedRemovePhotosStaysInline(t *testing.T) {
	t.Parallel()

	enc := &fakeEncoder{}
	d, q, _, _ := newQueuedFixture(t, enc)
	ctx := context.Background()

	result := d.RemovePhotos(ctx, 7, []int64{10, 11})
	require.NoError(t, result.Err)
	assert.Equal(t, 1, enc.removeCalls)

	// Removal never produces a queue job
	_, err := q.Dequeue(ctx, 10*time.Millisecond)
	assert.ErrorIs(t, err, queue.ErrEmpty)
}
