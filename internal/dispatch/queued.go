package dispatch

import (
	"context"
	"time"

	"github.com/hanvq/facegallery/internal/encoder"
	"github.com/hanvq/facegallery/internal/invalidation"
	"github.com/hanvq/facegallery/internal/logger"
	"github.com/hanvq/facegallery/internal/queue"
	"github.com/hanvq/facegallery/internal/status"
)

// queuedDispatcher hands encoding work to the durable job queue. Descriptor
// removal stays inline: it is cheap and ordering-sensitive relative to the
// catalog change that triggered it.
type queuedDispatcher struct {
	queue       *queue.Queue
	encoder     encoder.Client
	tracker     *status.Tracker
	invalidator *invalidation.Coordinator
	now         func() time.Time
}

// NewQueued creates a Dispatcher that enqueues encoding jobs
func NewQueued(
	q *queue.Queue,
	enc encoder.Client,
	tracker *status.Tracker,
	inv *invalidation.Coordinator,
) Dispatcher {
	return &queuedDispatcher{
		queue:       q,
		encoder:     enc,
		tracker:     tracker,
		invalidator: inv,
		now:         time.Now,
	}
}

func (d *queuedDispatcher) Dispatch(ctx context.Context, albumID int64, photos []encoder.PhotoRef) Result {
	return d.enqueue(ctx, albumID, photos, false)
}

func (d *queuedDispatcher) DispatchIncremental(ctx context.Context, albumID int64, added []encoder.PhotoRef) Result {
	return d.enqueue(ctx, albumID, added, true)
}

func (d *queuedDispatcher) enqueue(ctx context.Context, albumID int64, photos []encoder.PhotoRef, incremental bool) Result {
	if len(photos) == 0 {
		return Result{}
	}

	job := &queue.Job{
		ID:          queue.NewJobID(albumID, d.now()),
		AlbumID:     albumID,
		Photos:      photos,
		Incremental: incremental,
	}
	if err := d.queue.Enqueue(ctx, job); err != nil {
		logger.Errorf("Failed to enqueue encoding job for album %d: %v", albumID, err)
		d.tracker.Set(ctx, albumID, status.StateError, status.Fields{
			Error: err.Error(),
		})
		return Result{Err: err}
	}

	d.tracker.Set(ctx, albumID, status.StateQueued, status.Fields{
		TotalPhotos: len(photos),
		JobID:       job.ID,
	})
	logger.Infof("Enqueued job %s for album %d (%d photos, incremental=%t)",
		job.ID, albumID, len(photos), incremental)
	return Result{Queued: true, JobID: job.ID}
}

func (d *queuedDispatcher) RemovePhotos(ctx context.Context, albumID int64, photoIDs []int64) Result {
	if len(photoIDs) == 0 {
		return Result{}
	}
	if err := d.encoder.RemovePhotos(ctx, albumID, photoIDs); err != nil {
		logger.Warnf("Failed to remove %d descriptors for album %d: %v",
			len(photoIDs), albumID, err)
		return Result{Err: err}
	}
	d.invalidator.EncodingCompleted(ctx, albumID)
	return Result{}
}
