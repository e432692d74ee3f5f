// Package store is the authoritative catalog of albums and their mirrored
// photos. The database is the single source of truth for item existence;
// every cached view derives from it.
package store

import "time"

// Album is a named collection of photos mirrored from a remote folder
type Album struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	FolderID    string    `json:"folder_id"`
	ShareLink   string    `json:"share_link"`
	Thumbnail   string    `json:"thumbnail,omitempty"`
	IsPrivate   bool      `json:"is_private"`
	// PasswordHash is the bcrypt hash guarding private albums. Never
	// serialized to API responses.
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AlbumSummary is an album with its photo count, for listings
type AlbumSummary struct {
	Album
	PhotoCount int `json:"photo_count"`
}

// Photo is a single mirrored file reference
type Photo struct {
	ID      int64 `json:"id"`
	AlbumID int64 `json:"album_id"`

	// FileID is the provider's stable file identifier, unique within the album
	FileID string `json:"file_id"`

	Name         string `json:"name"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	FullURL      string `json:"full_url,omitempty"`

	SyncedAt time.Time `json:"synced_at"`
}

// NewPhoto is the insertable form of a photo, before the catalog assigns an id
type NewPhoto struct {
	FileID       string
	Name         string
	ThumbnailURL string
	FullURL      string
}
