package status

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hanvq/facegallery/internal/cache"
	"github.com/hanvq/facegallery/internal/logger"
)

// Fallback is an in-process store for status records, used when the primary
// cache is unavailable. Entries have no TTL and are lost on restart.
type Fallback struct {
	mu      sync.RWMutex
	records map[int64]Record
}

// NewFallback creates an empty fallback store.
func NewFallback() *Fallback {
	return &Fallback{records: make(map[int64]Record)}
}

// Put stores a record, replacing any previous one for the album.
func (f *Fallback) Put(rec Record) {
	f.mu.Lock()
	f.records[rec.AlbumID] = rec
	f.mu.Unlock()
}

// Get returns the record for the album, if present.
func (f *Fallback) Get(albumID int64) (Record, bool) {
	f.mu.RLock()
	rec, ok := f.records[albumID]
	f.mu.RUnlock()
	return rec, ok
}

// Remove drops the record for the album.
func (f *Fallback) Remove(albumID int64) {
	f.mu.Lock()
	delete(f.records, albumID)
	f.mu.Unlock()
}

// Tracker records and reports encoding progress per album.
type Tracker struct {
	primary  cache.Store
	fallback *Fallback
	now      func() time.Time
}

// NewTracker creates a Tracker writing to the given primary cache with the
// given in-process fallback.
func NewTracker(primary cache.Store, fallback *Fallback) *Tracker {
	return &Tracker{
		primary:  primary,
		fallback: fallback,
		now:      time.Now,
	}
}

// Set records a state transition for the album. The record is stamped with
// the current time and written to the primary store; if that write fails the
// record is held in the in-process fallback instead, so exactly one of the
// two stores holds the latest value.
func (t *Tracker) Set(ctx context.Context, albumID int64, state State, fields Fields) {
	rec := Record{
		AlbumID:         albumID,
		State:           state,
		TotalPhotos:     fields.TotalPhotos,
		ProcessedPhotos: fields.ProcessedPhotos,
		TotalFaces:      fields.TotalFaces,
		JobID:           fields.JobID,
		Error:           fields.Error,
		UpdatedAt:       t.now(),
	}

	err := cache.SetJSON(ctx, t.primary, cache.StatusKey(albumID), cache.TTLStatus, rec)
	if err != nil {
		logger.Warnf("Status store unavailable, keeping record for album %d in memory: %v", albumID, err)
		t.fallback.Put(rec)
		return
	}
	t.fallback.Remove(albumID)
}

// Get returns the latest status record for the album, checking the primary
// store first and the in-process fallback second. Albums with no record
// report StateNotStarted.
func (t *Tracker) Get(ctx context.Context, albumID int64) Record {
	var rec Record
	err := cache.GetJSON(ctx, t.primary, cache.StatusKey(albumID), &rec)
	if err == nil {
		return rec
	}
	if !errors.Is(err, cache.ErrMiss) {
		logger.Warnf("Status store read failed for album %d: %v", albumID, err)
	}

	if rec, ok := t.fallback.Get(albumID); ok {
		return rec
	}

	return Record{
		AlbumID:    albumID,
		State:      StateNotStarted,
		TotalFaces: 0,
	}
}
