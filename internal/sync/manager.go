// Package sync reconciles an album's catalog with its remote folder. A sync
// lists the remote tree, diffs it against the stored catalog on the
// provider's file id, applies the delta to the database, refreshes caches,
// and hands only the changed photos to the encoding dispatcher.
package sync

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/hanvq/facegallery/internal/dispatch"
	"github.com/hanvq/facegallery/internal/encoder"
	"github.com/hanvq/facegallery/internal/invalidation"
	"github.com/hanvq/facegallery/internal/listing"
	"github.com/hanvq/facegallery/internal/logger"
	"github.com/hanvq/facegallery/internal/store"
	"github.com/hanvq/facegallery/internal/tasks"
	"github.com/hanvq/facegallery/internal/telemetry"
)

// Result summarizes what a sync changed
type Result struct {
	// Added is the number of photos newly inserted into the catalog
	Added int `json:"added"`

	// Removed is the number of photos deleted from the catalog
	Removed int `json:"removed"`

	// Unchanged is the number of photos present both remotely and locally
	Unchanged int `json:"unchanged"`

	// TotalItems is the number of distinct image entries in the remote listing
	TotalItems int `json:"total_items"`
}

// Lister drains the full remote listing of a folder tree
type Lister interface {
	Walk(ctx context.Context, folderID string) ([]listing.Entry, error)
}

// Manager runs album syncs
type Manager struct {
	lister      Lister
	store       store.Store
	dispatcher  dispatch.Dispatcher
	invalidator *invalidation.Coordinator
	runner      *tasks.Runner
	metrics     *telemetry.SyncMetrics
	tracer      trace.Tracer
	batchSize   int
}

// NewManager creates a sync Manager. batchSize bounds each catalog insert
// statement. Both metrics and tracer may be nil, which disables the
// corresponding instrumentation.
func NewManager(
	lister Lister,
	st store.Store,
	dispatcher dispatch.Dispatcher,
	inv *invalidation.Coordinator,
	runner *tasks.Runner,
	metrics *telemetry.SyncMetrics,
	tracer trace.Tracer,
	batchSize int,
) *Manager {
	return &Manager{
		lister:      lister,
		store:       st,
		dispatcher:  dispatcher,
		invalidator: inv,
		runner:      runner,
		metrics:     metrics,
		tracer:      tracer,
		batchSize:   batchSize,
	}
}

// Sync reconciles the album's catalog with its remote folder. When forceFull
// is set the stored catalog is discarded and rebuilt from the listing, and
// the whole catalog is re-encoded; otherwise only the delta is applied and
// dispatched. Listing and catalog failures abort the sync; dispatch and
// cache failures never do.
func (m *Manager) Sync(ctx context.Context, album *store.Album, forceFull bool) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, m.tracer, "sync.album",
		trace.WithAttributes(
			telemetry.AttrAlbumID.Int64(album.ID),
			telemetry.AttrSyncForceFull.Bool(forceFull),
		),
	)
	defer span.End()
	done := m.metrics.SyncStarted(album.ID)

	entries, err := m.lister.Walk(ctx, album.FolderID)
	if err != nil {
		lerr := &ListingError{Err: err}
		telemetry.RecordError(span, lerr)
		done(ctx, false)
		return nil, lerr
	}
	logger.Infof("Listed %d remote items for album %d (force_full=%t)",
		len(entries), album.ID, forceFull)

	var result *Result
	var d *delta
	if forceFull {
		result, d, err = m.rebuild(ctx, album, entries)
	} else {
		result, d, err = m.applyDelta(ctx, album, entries)
	}
	if err != nil {
		telemetry.RecordError(span, err)
		done(ctx, false)
		return nil, err
	}

	if err := m.updateThumbnail(ctx, album, entries); err != nil {
		telemetry.RecordError(span, err)
		done(ctx, false)
		return nil, err
	}

	// Stale cached views must be gone before the encode starts
	m.invalidator.SyncCompleted(ctx, album.ID)
	m.dispatchDelta(album.ID, d)
	span.SetAttributes(
		telemetry.AttrSyncAdded.Int(result.Added),
		telemetry.AttrSyncRemoved.Int(result.Removed),
		telemetry.AttrSyncUnchanged.Int(result.Unchanged),
	)
	done(ctx, true)
	m.metrics.RecordCatalogSize(ctx, album.ID, result.TotalItems)

	logger.Infof("Sync finished for album %d: %d added, %d removed, %d unchanged",
		album.ID, result.Added, result.Removed, result.Unchanged)
	return result, nil
}

// delta is the catalog change a sync produced, awaiting dispatch
type delta struct {
	inserted   []store.Photo
	removedIDs []int64
	full       bool
}

// applyDelta diffs the listing against the stored catalog and applies only
// the difference. Photos present on both sides are never touched and never
// re-encoded.
func (m *Manager) applyDelta(ctx context.Context, album *store.Album, entries []listing.Entry) (*Result, *delta, error) {
	existing, err := m.store.ListPhotoFileIDs(ctx, album.ID)
	if err != nil {
		return nil, nil, &StoreError{Op: "read", Err: err}
	}
	existingSet := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		existingSet[id] = struct{}{}
	}

	remoteSet := make(map[string]struct{}, len(entries))
	var added []listing.Entry
	unchanged := 0
	for _, e := range entries {
		if _, dup := remoteSet[e.FileID]; dup {
			continue
		}
		remoteSet[e.FileID] = struct{}{}
		if _, ok := existingSet[e.FileID]; ok {
			unchanged++
		} else {
			added = append(added, e)
		}
	}

	var removed []string
	for _, id := range existing {
		if _, ok := remoteSet[id]; !ok {
			removed = append(removed, id)
		}
	}

	var removedCatalogIDs []int64
	if len(removed) > 0 {
		removedCatalogIDs, err = m.store.DeletePhotosByFileID(ctx, album.ID, removed)
		if err != nil {
			return nil, nil, &StoreError{Op: "delete", Err: err}
		}
	}

	inserted, err := m.store.InsertPhotos(ctx, album.ID, toNewPhotos(added), m.batchSize)
	if err != nil {
		return nil, nil, &StoreError{Op: "insert", Err: err}
	}

	return &Result{
		Added:      len(inserted),
		Removed:    len(removedCatalogIDs),
		Unchanged:  unchanged,
		TotalItems: len(remoteSet),
	}, &delta{inserted: inserted, removedIDs: removedCatalogIDs}, nil
}

// rebuild discards the stored catalog and reinserts it from the listing
func (m *Manager) rebuild(ctx context.Context, album *store.Album, entries []listing.Entry) (*Result, *delta, error) {
	removed, err := m.store.DeleteAllPhotos(ctx, album.ID)
	if err != nil {
		return nil, nil, &StoreError{Op: "delete", Err: err}
	}

	inserted, err := m.store.InsertPhotos(ctx, album.ID, toNewPhotos(dedupe(entries)), m.batchSize)
	if err != nil {
		return nil, nil, &StoreError{Op: "insert", Err: err}
	}

	return &Result{
		Added:      len(inserted),
		Removed:    int(removed),
		Unchanged:  0,
		TotalItems: len(inserted),
	}, &delta{inserted: inserted, full: true}, nil
}

// dispatchDelta hands the changed photos to the encoding dispatcher in the
// background, after the caller has purged cached views. Removal runs before
// the encode so stale descriptors are gone by the time new ones land.
func (m *Manager) dispatchDelta(albumID int64, d *delta) {
	if d == nil || (len(d.inserted) == 0 && len(d.removedIDs) == 0) {
		return
	}
	inserted, removedIDs, full := d.inserted, d.removedIDs, d.full

	refs := make([]encoder.PhotoRef, 0, len(inserted))
	for _, p := range inserted {
		refs = append(refs, encoder.PhotoRef{
			ID:  p.ID,
			URL: encoder.BestResolutionURL(p.ThumbnailURL, p.FullURL),
		})
	}

	m.runner.Go(fmt.Sprintf("encode-album-%d", albumID), func(ctx context.Context) {
		if len(removedIDs) > 0 {
			if res := m.dispatcher.RemovePhotos(ctx, albumID, removedIDs); res.Err != nil {
				logger.Warnf("Descriptor removal dispatch failed for album %d: %v", albumID, res.Err)
			}
		}
		if len(refs) == 0 {
			return
		}

		var res dispatch.Result
		if full {
			res = m.dispatcher.Dispatch(ctx, albumID, refs)
		} else {
			res = m.dispatcher.DispatchIncremental(ctx, albumID, refs)
		}
		if res.Err != nil {
			logger.Warnf("Encoding dispatch failed for album %d: %v", albumID, res.Err)
		}
		m.metrics.RecordDispatch(ctx, res.Err == nil)
	})
}

// updateThumbnail sets the album thumbnail from the first entry of the
// traversal when it changed
func (m *Manager) updateThumbnail(ctx context.Context, album *store.Album, entries []listing.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	thumb := entries[0].ThumbnailURL
	if thumb == "" || thumb == album.Thumbnail {
		return nil
	}
	if err := m.store.UpdateAlbumThumbnail(ctx, album.ID, thumb); err != nil {
		return &StoreError{Op: "thumbnail update", Err: err}
	}
	album.Thumbnail = thumb
	return nil
}

func toNewPhotos(entries []listing.Entry) []store.NewPhoto {
	photos := make([]store.NewPhoto, 0, len(entries))
	for _, e := range entries {
		photos = append(photos, store.NewPhoto{
			FileID:       e.FileID,
			Name:         e.Name,
			ThumbnailURL: e.ThumbnailURL,
			FullURL:      e.ContentURL,
		})
	}
	return photos
}

// dedupe drops later duplicates of a file id, preserving traversal order
func dedupe(entries []listing.Entry) []listing.Entry {
	seen := make(map[string]struct{}, len(entries))
	out := make([]listing.Entry, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.FileID]; ok {
			continue
		}
		seen[e.FileID] = struct{}{}
		out = append(out, e)
	}
	return out
}
