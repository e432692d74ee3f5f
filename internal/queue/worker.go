package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hanvq/facegallery/internal/cache"
	"github.com/hanvq/facegallery/internal/encoder"
	"github.com/hanvq/facegallery/internal/invalidation"
	"github.com/hanvq/facegallery/internal/logger"
	"github.com/hanvq/facegallery/internal/status"
	"github.com/hanvq/facegallery/internal/store"
)

const (
	dequeueWait     = 5 * time.Second
	promoteInterval = 5 * time.Second
	cleanInterval   = time.Hour
)

// Worker consumes encoding jobs and runs them against the face-encoding
// service, updating album status and caches as jobs progress.
type Worker struct {
	// id distinguishes this consumer in logs when several workers share
	// the queue
	id          string
	queue       *Queue
	encoder     encoder.Client
	store       store.Store
	tracker     *status.Tracker
	cache       cache.Store
	invalidator *invalidation.Coordinator
}

// NewWorker creates a Worker with a fresh consumer id
func NewWorker(
	q *Queue,
	enc encoder.Client,
	st store.Store,
	tracker *status.Tracker,
	c cache.Store,
	inv *invalidation.Coordinator,
) *Worker {
	return &Worker{
		id:          uuid.NewString(),
		queue:       q,
		encoder:     enc,
		store:       st,
		tracker:     tracker,
		cache:       c,
		invalidator: inv,
	}
}

// ID returns the worker's consumer id
func (w *Worker) ID() string {
	return w.id
}

// Run consumes jobs until the context is cancelled. It also promotes
// delayed retries back onto the waiting list and prunes terminal jobs
// past retention.
func (w *Worker) Run(ctx context.Context) error {
	logger.Infof("Encoding worker %s started", w.id)

	promote := time.NewTicker(promoteInterval)
	defer promote.Stop()
	clean := time.NewTicker(cleanInterval)
	defer clean.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Infof("Encoding worker %s stopping", w.id)
			return ctx.Err()
		case <-promote.C:
			if n, err := w.queue.PromoteDelayed(ctx); err != nil {
				logger.Warnf("Failed to promote delayed jobs: %v", err)
			} else if n > 0 {
				logger.Debugf("Promoted %d delayed jobs", n)
			}
			continue
		case <-clean.C:
			if n, err := w.queue.Clean(ctx); err != nil {
				logger.Warnf("Failed to clean finished jobs: %v", err)
			} else if n > 0 {
				logger.Infof("Pruned %d finished jobs", n)
			}
			continue
		default:
		}

		job, err := w.queue.Dequeue(ctx, dequeueWait)
		if err != nil {
			if errors.Is(err, ErrEmpty) || errors.Is(err, context.Canceled) {
				continue
			}
			logger.Errorf("Failed to dequeue job: %v", err)
			continue
		}
		w.process(ctx, job)
	}
}

// process runs a single job, retrying on failure until the attempt limit
func (w *Worker) process(ctx context.Context, job *Job) {
	attempt, err := w.queue.IncrAttempts(ctx, job.ID)
	if err != nil {
		logger.Warnf("Failed to record attempt for job %s: %v", job.ID, err)
		attempt = 1
	}
	logger.Infof("Processing job %s for album %d (attempt %d/%d, %d photos)",
		job.ID, job.AlbumID, attempt, job.RetryLimit(), len(job.Photos))

	w.tracker.Set(ctx, job.AlbumID, status.StateEncoding, status.Fields{
		TotalPhotos: len(job.Photos),
		JobID:       job.ID,
	})

	result, err := w.encode(ctx, job)
	if err != nil {
		w.handleFailure(ctx, job, attempt, err)
		return
	}

	if err := w.queue.MarkCompleted(ctx, job.ID); err != nil {
		logger.Warnf("Failed to mark job %s completed: %v", job.ID, err)
	}
	w.tracker.Set(ctx, job.AlbumID, status.StateCompleted, status.Fields{
		TotalPhotos:     len(job.Photos),
		ProcessedPhotos: result.Processed,
		TotalFaces:      result.TotalFaces,
		JobID:           job.ID,
	})
	w.invalidator.EncodingCompleted(ctx, job.AlbumID)
	w.warmEncodings(ctx, job.AlbumID)

	logger.Infof("Job %s completed: %d photos encoded, %d faces found",
		job.ID, result.Processed, result.TotalFaces)
}

// encode runs the job's encode call. Incremental jobs that fail fall back
// to a full re-encode of the album's entire catalog, once.
func (w *Worker) encode(ctx context.Context, job *Job) (*encoder.EncodeResult, error) {
	if !job.Incremental {
		return w.encoder.EncodeAlbum(ctx, job.AlbumID, job.Photos)
	}

	result, err := w.encoder.EncodeIncremental(ctx, job.AlbumID, job.Photos)
	if err == nil {
		return result, nil
	}
	logger.Warnf("Incremental encode failed for album %d, falling back to full encode: %v",
		job.AlbumID, err)

	photos, serr := w.store.ListPhotos(ctx, job.AlbumID)
	if serr != nil {
		return nil, errors.Join(err, serr)
	}
	refs := make([]encoder.PhotoRef, 0, len(photos))
	for _, p := range photos {
		refs = append(refs, encoder.PhotoRef{
			ID:  p.ID,
			URL: encoder.BestResolutionURL(p.ThumbnailURL, p.FullURL),
		})
	}
	return w.encoder.EncodeAlbum(ctx, job.AlbumID, refs)
}

func (w *Worker) handleFailure(ctx context.Context, job *Job, attempt int, cause error) {
	if attempt < job.RetryLimit() {
		delay := job.NextDelay(attempt)
		logger.Warnf("Job %s failed on attempt %d, retrying in %s: %v",
			job.ID, attempt, delay, cause)
		if err := w.queue.Retry(ctx, job, delay); err != nil {
			logger.Errorf("Failed to schedule retry for job %s: %v", job.ID, err)
		}
		return
	}

	logger.Errorf("Job %s failed permanently after %d attempts: %v", job.ID, attempt, cause)
	if err := w.queue.MarkFailed(ctx, job.ID, cause.Error()); err != nil {
		logger.Warnf("Failed to mark job %s failed: %v", job.ID, err)
	}
	w.tracker.Set(ctx, job.AlbumID, status.StateError, status.Fields{
		JobID: job.ID,
		Error: cause.Error(),
	})
}

// warmEncodings refreshes the cached encodings for an album after a
// successful encode. Best effort.
func (w *Worker) warmEncodings(ctx context.Context, albumID int64) {
	encodings, err := w.encoder.GetEncodings(ctx, albumID)
	if err != nil {
		logger.Debugf("Skipping encodings cache refresh for album %d: %v", albumID, err)
		return
	}
	if err := w.cache.SetEx(ctx, cache.EncodingsKey(albumID), cache.TTLEncodings, encodings); err != nil {
		logger.Warnf("Failed to cache encodings for album %d: %v", albumID, err)
	}
}
