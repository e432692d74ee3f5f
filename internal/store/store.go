package store

import "context"

// Store is the catalog persistence interface
type Store interface {
	// CreateAlbum inserts a new album and returns it with its assigned id
	CreateAlbum(ctx context.Context, album *Album) (*Album, error)

	// GetAlbum returns the album with the given id, or ErrNotFound
	GetAlbum(ctx context.Context, id int64) (*Album, error)

	// ListAlbums returns all albums with their photo counts, newest first
	ListAlbums(ctx context.Context) ([]AlbumSummary, error)

	// UpdateAlbum updates the mutable album fields and bumps updated_at
	UpdateAlbum(ctx context.Context, album *Album) error

	// UpdateAlbumThumbnail sets the album thumbnail and bumps updated_at
	UpdateAlbumThumbnail(ctx context.Context, id int64, thumbnail string) error

	// DeleteAlbum removes the album and, via cascade, its photos
	DeleteAlbum(ctx context.Context, id int64) error

	// ListPhotos returns all photos in the album
	ListPhotos(ctx context.Context, albumID int64) ([]Photo, error)

	// ListPhotoFileIDs returns the set of provider file ids currently in
	// the album
	ListPhotoFileIDs(ctx context.Context, albumID int64) ([]string, error)

	// InsertPhotos bulk-inserts photos in batches of batchSize and returns
	// the rows actually inserted with their assigned ids. Rows whose
	// (album, file id) pair already exists are skipped, which makes a
	// retried sync a no-op for already-applied inserts.
	InsertPhotos(ctx context.Context, albumID int64, photos []NewPhoto, batchSize int) ([]Photo, error)

	// DeletePhotosByFileID removes the photos with the given provider file
	// ids and returns the catalog ids of the removed rows
	DeletePhotosByFileID(ctx context.Context, albumID int64, fileIDs []string) ([]int64, error)

	// DeleteAllPhotos removes every photo in the album and returns the
	// number removed
	DeleteAllPhotos(ctx context.Context, albumID int64) (int64, error)

	// GetPhotosByIDs returns the photos with the given catalog ids
	GetPhotosByIDs(ctx context.Context, ids []int64) ([]Photo, error)
}
