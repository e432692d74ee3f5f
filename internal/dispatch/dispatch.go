// Package dispatch hands encoding work to the face-encoding service, either
// synchronously or through the durable job queue. Dispatchers never return
// an error: every outcome is folded into a Result so callers that treat
// encoding as best-effort can log and move on.
package dispatch

import (
	"context"

	"github.com/hanvq/facegallery/internal/encoder"
)

// Result reports the outcome of a dispatch
type Result struct {
	// Queued is true when the work was handed to the job queue rather
	// than run inline
	Queued bool `json:"queued"`

	// JobID is the queue job id when Queued is true
	JobID string `json:"job_id,omitempty"`

	// Faces is the number of faces found, for inline dispatches that ran
	// to completion
	Faces int `json:"faces,omitempty"`

	// Err holds the failure, if any. A non-nil Err never aborts the
	// caller's own operation.
	Err error `json:"-"`
}

// Dispatcher routes encoding work for albums
type Dispatcher interface {
	// Dispatch requests a full-catalog encode of the given photos
	Dispatch(ctx context.Context, albumID int64, photos []encoder.PhotoRef) Result

	// DispatchIncremental requests an encode of only the given photos,
	// merged into the album's existing descriptors. Implementations fall
	// back to a full encode when the incremental path fails.
	DispatchIncremental(ctx context.Context, albumID int64, added []encoder.PhotoRef) Result

	// RemovePhotos deletes descriptors for photos that left the album
	RemovePhotos(ctx context.Context, albumID int64, photoIDs []int64) Result
}
