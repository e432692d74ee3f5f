package dispatch

import (
	"context"
	"errors"

	"github.com/hanvq/facegallery/internal/encoder"
	"github.com/hanvq/facegallery/internal/invalidation"
	"github.com/hanvq/facegallery/internal/logger"
	"github.com/hanvq/facegallery/internal/status"
	"github.com/hanvq/facegallery/internal/store"
)

// directDispatcher runs encoding calls inline against the service
type directDispatcher struct {
	encoder     encoder.Client
	store       store.Store
	tracker     *status.Tracker
	invalidator *invalidation.Coordinator
}

// NewDirect creates a Dispatcher that calls the encoding service inline
func NewDirect(
	enc encoder.Client,
	st store.Store,
	tracker *status.Tracker,
	inv *invalidation.Coordinator,
) Dispatcher {
	return &directDispatcher{
		encoder:     enc,
		store:       st,
		tracker:     tracker,
		invalidator: inv,
	}
}

func (d *directDispatcher) Dispatch(ctx context.Context, albumID int64, photos []encoder.PhotoRef) Result {
	return d.run(ctx, albumID, photos, func(ctx context.Context) (*encoder.EncodeResult, error) {
		return d.encoder.EncodeAlbum(ctx, albumID, photos)
	})
}

func (d *directDispatcher) DispatchIncremental(ctx context.Context, albumID int64, added []encoder.PhotoRef) Result {
	return d.run(ctx, albumID, added, func(ctx context.Context) (*encoder.EncodeResult, error) {
		result, err := d.encoder.EncodeIncremental(ctx, albumID, added)
		if err == nil {
			return result, nil
		}
		logger.Warnf("Incremental encode failed for album %d, falling back to full encode: %v",
			albumID, err)

		photos, serr := d.store.ListPhotos(ctx, albumID)
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
		return d.encoder.EncodeAlbum(ctx, albumID, refs)
	})
}

func (d *directDispatcher) run(
	ctx context.Context,
	albumID int64,
	photos []encoder.PhotoRef,
	encode func(context.Context) (*encoder.EncodeResult, error),
) Result {
	if len(photos) == 0 {
		return Result{}
	}

	d.tracker.Set(ctx, albumID, status.StateEncoding, status.Fields{
		TotalPhotos: len(photos),
	})

	result, err := encode(ctx)
	if err != nil {
		if errors.Is(err, encoder.ErrTimeout) {
			logger.Errorf("Encoding timed out for album %d: %v", albumID, err)
		} else {
			logger.Errorf("Encoding failed for album %d: %v", albumID, err)
		}
		d.tracker.Set(ctx, albumID, status.StateError, status.Fields{
			Error: err.Error(),
		})
		return Result{Err: err}
	}

	d.tracker.Set(ctx, albumID, status.StateCompleted, status.Fields{
		TotalPhotos:     len(photos),
		ProcessedPhotos: result.Processed,
		TotalFaces:      result.TotalFaces,
	})
	d.invalidator.EncodingCompleted(ctx, albumID)

	logger.Infof("Encoded %d photos for album %d, %d faces found",
		result.Processed, albumID, result.TotalFaces)
	return Result{Faces: result.TotalFaces}
}

func (d *directDispatcher) RemovePhotos(ctx context.Context, albumID int64, photoIDs []int64) Result {
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
