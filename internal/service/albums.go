// Package service implements the album-facing operations: creating and
// managing albums, serving cached photo listings, running syncs, and
// proxying face search and encoding status.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/hanvq/facegallery/internal/cache"
	"github.com/hanvq/facegallery/internal/encoder"
	"github.com/hanvq/facegallery/internal/invalidation"
	"github.com/hanvq/facegallery/internal/listing"
	"github.com/hanvq/facegallery/internal/logger"
	"github.com/hanvq/facegallery/internal/status"
	"github.com/hanvq/facegallery/internal/store"
	syncer "github.com/hanvq/facegallery/internal/sync"
)

// Service errors surfaced to the API layer
var (
	// ErrInvalidShareLink means no folder id could be extracted from the
	// provided share link
	ErrInvalidShareLink = errors.New("invalid share link: no folder id found")

	// ErrPasswordRequired means the album is private and no password was given
	ErrPasswordRequired = errors.New("password required")

	// ErrInvalidPassword means the given password did not match
	ErrInvalidPassword = errors.New("invalid password")
)

// CreateAlbumRequest carries the fields for creating an album
type CreateAlbumRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ShareLink   string `json:"share_link"`
	IsPrivate   bool   `json:"is_private,omitempty"`
	Password    string `json:"password,omitempty"`
}

// UpdateAlbumRequest carries the mutable album fields
type UpdateAlbumRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsPrivate   *bool  `json:"is_private,omitempty"`
	Password    string `json:"password,omitempty"`
}

// Albums is the album service
type Albums struct {
	store       store.Store
	cache       cache.Store
	syncer      *syncer.Manager
	encoder     encoder.Client
	tracker     *status.Tracker
	invalidator *invalidation.Coordinator
}

// NewAlbums creates the album service
func NewAlbums(
	st store.Store,
	c cache.Store,
	sm *syncer.Manager,
	enc encoder.Client,
	tracker *status.Tracker,
	inv *invalidation.Coordinator,
) *Albums {
	return &Albums{
		store:       st,
		cache:       c,
		syncer:      sm,
		encoder:     enc,
		tracker:     tracker,
		invalidator: inv,
	}
}

// Create registers a new album from a share link and runs its initial sync.
// The initial sync fills the catalog and dispatches the first encode.
func (a *Albums) Create(ctx context.Context, req CreateAlbumRequest) (*store.Album, *syncer.Result, error) {
	folderID := listing.ExtractFolderID(req.ShareLink)
	if folderID == "" {
		return nil, nil, ErrInvalidShareLink
	}

	album := &store.Album{
		Name:        req.Name,
		Description: req.Description,
		FolderID:    folderID,
		ShareLink:   req.ShareLink,
		IsPrivate:   req.IsPrivate,
	}
	if req.IsPrivate {
		hash, err := hashPassword(req.Password)
		if err != nil {
			return nil, nil, err
		}
		album.PasswordHash = hash
	}

	album, err := a.store.CreateAlbum(ctx, album)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create album: %w", err)
	}
	a.invalidator.AlbumCreated(ctx, album.ID)

	result, err := a.syncer.Sync(ctx, album, false)
	if err != nil {
		// The album exists; the catalog fills on the next sync
		logger.Warnf("Initial sync failed for album %d: %v", album.ID, err)
		return album, nil, nil
	}
	return album, result, nil
}

// List returns all albums with their photo counts
func (a *Albums) List(ctx context.Context) ([]store.AlbumSummary, error) {
	return a.store.ListAlbums(ctx)
}

// Get returns the album, enforcing the password on private albums
func (a *Albums) Get(ctx context.Context, id int64, password string) (*store.Album, error) {
	album, err := a.store.GetAlbum(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := a.authorize(album, password); err != nil {
		return nil, err
	}
	return album, nil
}

// VerifyPassword checks a candidate password against the album so clients
// can validate before requesting photos. Public albums accept anything.
func (a *Albums) VerifyPassword(ctx context.Context, id int64, password string) error {
	album, err := a.store.GetAlbum(ctx, id)
	if err != nil {
		return err
	}
	return a.authorize(album, password)
}

// Update modifies the album's mutable fields
func (a *Albums) Update(ctx context.Context, id int64, req UpdateAlbumRequest) (*store.Album, error) {
	album, err := a.store.GetAlbum(ctx, id)
	if err != nil {
		return nil, err
	}

	album.Name = req.Name
	album.Description = req.Description
	if req.IsPrivate != nil {
		album.IsPrivate = *req.IsPrivate
		if !album.IsPrivate {
			album.PasswordHash = ""
		}
	}
	if album.IsPrivate && req.Password != "" {
		hash, err := hashPassword(req.Password)
		if err != nil {
			return nil, err
		}
		album.PasswordHash = hash
	}

	if err := a.store.UpdateAlbum(ctx, album); err != nil {
		return nil, fmt.Errorf("failed to update album %d: %w", id, err)
	}
	return album, nil
}

// Delete removes the album, its photos, and its cached views
func (a *Albums) Delete(ctx context.Context, id int64) error {
	if err := a.store.DeleteAlbum(ctx, id); err != nil {
		return err
	}
	a.invalidator.AlbumDeleted(ctx, id)
	return nil
}

// Photos returns the album's photo listing, served from cache when fresh
func (a *Albums) Photos(ctx context.Context, albumID int64, password string) ([]store.Photo, error) {
	album, err := a.store.GetAlbum(ctx, albumID)
	if err != nil {
		return nil, err
	}
	if err := a.authorize(album, password); err != nil {
		return nil, err
	}

	key := cache.PhotosKey(albumID)
	var photos []store.Photo
	if err := cache.GetJSON(ctx, a.cache, key, &photos); err == nil {
		return photos, nil
	} else if !errors.Is(err, cache.ErrMiss) {
		logger.Warnf("Photo listing cache read failed for album %d: %v", albumID, err)
	}

	photos, err = a.store.ListPhotos(ctx, albumID)
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, a.cache, key, cache.TTLPhotos, photos); err != nil {
		logger.Warnf("Photo listing cache write failed for album %d: %v", albumID, err)
	}
	return photos, nil
}

// Sync reconciles the album with its remote folder
func (a *Albums) Sync(ctx context.Context, albumID int64, forceFull bool) (*syncer.Result, error) {
	album, err := a.store.GetAlbum(ctx, albumID)
	if err != nil {
		return nil, err
	}
	return a.syncer.Sync(ctx, album, forceFull)
}

// EncodingStatus returns the album's current encoding progress. When no
// local record exists the encoding service's own status endpoint is
// consulted, so direct-dispatch deployments still report progress.
func (a *Albums) EncodingStatus(ctx context.Context, albumID int64) status.Record {
	record := a.tracker.Get(ctx, albumID)
	if record.State != status.StateNotStarted {
		return record
	}

	raw, err := a.encoder.Status(ctx, albumID)
	if err != nil {
		logger.Debugf("Encoding service status unavailable for album %d: %v", albumID, err)
		return record
	}
	remote := status.Record{AlbumID: albumID}
	if err := json.Unmarshal(raw, &remote); err != nil || remote.State == "" {
		return record
	}
	return remote
}

// Search finds the album's photos matching the face in the given base64
// image
func (a *Albums) Search(ctx context.Context, albumID int64, imageBase64 string, tolerance float64) ([]store.Photo, error) {
	if _, err := a.store.GetAlbum(ctx, albumID); err != nil {
		return nil, err
	}

	result, err := a.encoder.Search(ctx, albumID, imageBase64, tolerance)
	if err != nil {
		return nil, fmt.Errorf("face search failed for album %d: %w", albumID, err)
	}
	if len(result.MatchedPhotoIDs) == 0 {
		return []store.Photo{}, nil
	}
	return a.store.GetPhotosByIDs(ctx, result.MatchedPhotoIDs)
}

// authorize enforces the album password on private albums
func (*Albums) authorize(album *store.Album, password string) error {
	if !album.IsPrivate {
		return nil
	}
	if password == "" {
		return ErrPasswordRequired
	}
	if bcrypt.CompareHashAndPassword([]byte(album.PasswordHash), []byte(password)) != nil {
		return ErrInvalidPassword
	}
	return nil
}

func hashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("private albums require a password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
