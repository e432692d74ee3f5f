// Package invalidation centralizes the cache-purge rules that must hold
// after each catalog mutation. Purges are fire-and-forget: a cache failure
// is logged and never fails the mutation that triggered it.
package invalidation

import (
	"context"

	"github.com/hanvq/facegallery/internal/cache"
	"github.com/hanvq/facegallery/internal/logger"
)

// Coordinator purges derived caches after catalog mutations
type Coordinator struct {
	cache cache.Store
}

// NewCoordinator creates a Coordinator over the given cache
func NewCoordinator(c cache.Store) *Coordinator {
	return &Coordinator{cache: c}
}

// AlbumCreated purges the photo-listing cache after an album is created
// with initial items
func (c *Coordinator) AlbumCreated(ctx context.Context, albumID int64) {
	c.purge(ctx, albumID, cache.PhotosKey(albumID))
}

// AlbumDeleted purges the photo-listing and encoding-result caches after an
// album is deleted
func (c *Coordinator) AlbumDeleted(ctx context.Context, albumID int64) {
	c.purge(ctx, albumID, cache.PhotosKey(albumID), cache.EncodingsKey(albumID))
}

// SyncCompleted purges the photo-listing cache after an incremental or full
// sync completes
func (c *Coordinator) SyncCompleted(ctx context.Context, albumID int64) {
	c.purge(ctx, albumID, cache.PhotosKey(albumID))
}

// EncodingCompleted purges the encoding-result cache after a full,
// incremental, or removal encoding operation completes
func (c *Coordinator) EncodingCompleted(ctx context.Context, albumID int64) {
	c.purge(ctx, albumID, cache.EncodingsKey(albumID))
}

func (c *Coordinator) purge(ctx context.Context, albumID int64, keys ...string) {
	if err := c.cache.Delete(ctx, keys...); err != nil {
		logger.Warnf("Cache purge failed for album %d (keys %v): %v", albumID, keys, err)
	}
}
