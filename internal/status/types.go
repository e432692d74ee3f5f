// Package status tracks face-encoding progress per album. Records live in
// the shared cache with a short TTL; when the cache is unreachable they are
// held in a process-local fallback map instead, trading durability for
// availability.
package status

import "time"

// State represents the current phase of an album's encoding run
type State string

const (
	// StateNotStarted means no encoding has been requested for the album
	StateNotStarted State = "not_started"

	// StateQueued means an encoding job has been enqueued
	StateQueued State = "queued"

	// StateProcessing means a worker has picked up the job
	StateProcessing State = "processing"

	// StateEncoding means the encoding service is processing the album
	StateEncoding State = "encoding"

	// StateCompleted means encoding finished successfully
	StateCompleted State = "completed"

	// StateError means encoding failed terminally
	StateError State = "error"
)

// Record is a snapshot of an album's encoding progress
type Record struct {
	// AlbumID identifies the album this record belongs to
	AlbumID int64 `json:"album_id"`

	// State is the current encoding phase
	State State `json:"status"`

	// TotalPhotos is the number of photos in the encoding run
	TotalPhotos int `json:"total_photos,omitempty"`

	// ProcessedPhotos is the number of photos processed so far
	ProcessedPhotos int `json:"processed_photos,omitempty"`

	// TotalFaces is the number of faces found so far
	TotalFaces int `json:"total_faces"`

	// JobID is the queue job id when the run is queue-backed
	JobID string `json:"job_id,omitempty"`

	// Error holds the failure message when State is StateError
	Error string `json:"error,omitempty"`

	// UpdatedAt is the time of the last state transition
	UpdatedAt time.Time `json:"updated_at"`
}

// Fields carries the optional counters and metadata for a state transition
type Fields struct {
	TotalPhotos     int
	ProcessedPhotos int
	TotalFaces      int
	JobID           string
	Error           string
}
