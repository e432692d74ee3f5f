package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// pgStore is the Postgres-backed Store implementation
type pgStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Store over the given database handle
func NewPostgresStore(db *sql.DB) Store {
	return &pgStore{db: db}
}

func (s *pgStore) CreateAlbum(ctx context.Context, album *Album) (*Album, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO albums (name, description, folder_id, share_link, is_private, password_hash)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		RETURNING id, created_at, updated_at`,
		album.Name, album.Description, album.FolderID, album.ShareLink,
		album.IsPrivate, album.PasswordHash,
	)

	created := *album
	if err := row.Scan(&created.ID, &created.CreatedAt, &created.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert album: %w", err)
	}
	return &created, nil
}

func (s *pgStore) GetAlbum(ctx context.Context, id int64) (*Album, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, folder_id, share_link,
		       COALESCE(thumbnail, ''), is_private, COALESCE(password_hash, ''),
		       created_at, updated_at
		FROM albums WHERE id = $1`, id)

	var a Album
	err := row.Scan(&a.ID, &a.Name, &a.Description, &a.FolderID, &a.ShareLink,
		&a.Thumbnail, &a.IsPrivate, &a.PasswordHash, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get album %d: %w", id, err)
	}
	return &a, nil
}

func (s *pgStore) ListAlbums(ctx context.Context) ([]AlbumSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.name, a.description, a.folder_id, a.share_link,
		       COALESCE(a.thumbnail, ''), a.is_private, COALESCE(a.password_hash, ''),
		       a.created_at, a.updated_at, COUNT(p.id)
		FROM albums a
		LEFT JOIN photos p ON a.id = p.album_id
		GROUP BY a.id
		ORDER BY a.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list albums: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var albums []AlbumSummary
	for rows.Next() {
		var a AlbumSummary
		err := rows.Scan(&a.ID, &a.Name, &a.Description, &a.FolderID, &a.ShareLink,
			&a.Thumbnail, &a.IsPrivate, &a.PasswordHash, &a.CreatedAt, &a.UpdatedAt,
			&a.PhotoCount)
		if err != nil {
			return nil, fmt.Errorf("failed to scan album row: %w", err)
		}
		albums = append(albums, a)
	}
	return albums, rows.Err()
}

func (s *pgStore) UpdateAlbum(ctx context.Context, album *Album) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE albums
		SET name = $1, description = $2, is_private = $3,
		    password_hash = NULLIF($4, ''), updated_at = now()
		WHERE id = $5`,
		album.Name, album.Description, album.IsPrivate, album.PasswordHash, album.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update album %d: %w", album.ID, err)
	}
	return requireRow(result, album.ID)
}

func (s *pgStore) UpdateAlbumThumbnail(ctx context.Context, id int64, thumbnail string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE albums SET thumbnail = $1, updated_at = now() WHERE id = $2`,
		thumbnail, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update album %d thumbnail: %w", id, err)
	}
	return requireRow(result, id)
}

func (s *pgStore) DeleteAlbum(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM albums WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete album %d: %w", id, err)
	}
	return requireRow(result, id)
}

func (s *pgStore) ListPhotos(ctx context.Context, albumID int64) ([]Photo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, album_id, file_id, name,
		       COALESCE(thumbnail_url, ''), COALESCE(full_url, ''), synced_at
		FROM photos WHERE album_id = $1 ORDER BY id`, albumID)
	if err != nil {
		return nil, fmt.Errorf("failed to list photos for album %d: %w", albumID, err)
	}
	defer func() { _ = rows.Close() }()

	return scanPhotos(rows)
}

func (s *pgStore) ListPhotoFileIDs(ctx context.Context, albumID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT file_id FROM photos WHERE album_id = $1`, albumID)
	if err != nil {
		return nil, fmt.Errorf("failed to list photo file ids for album %d: %w", albumID, err)
	}
	defer func() { _ = rows.Close() }()

	var fileIDs []string
	for rows.Next() {
		var fileID string
		if err := rows.Scan(&fileID); err != nil {
			return nil, fmt.Errorf("failed to scan file id: %w", err)
		}
		fileIDs = append(fileIDs, fileID)
	}
	return fileIDs, rows.Err()
}

func (s *pgStore) InsertPhotos(ctx context.Context, albumID int64, photos []NewPhoto, batchSize int) ([]Photo, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	var inserted []Photo
	for _, batch := range Batches(photos, batchSize) {
		batchRows, err := s.insertBatch(ctx, albumID, batch)
		if err != nil {
			// Prior batches remain applied; a retried sync skips them via
			// the (album_id, file_id) conflict clause.
			return inserted, err
		}
		inserted = append(inserted, batchRows...)
	}
	return inserted, nil
}

func (s *pgStore) insertBatch(ctx context.Context, albumID int64, batch []NewPhoto) ([]Photo, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString("INSERT INTO photos (album_id, file_id, name, thumbnail_url, full_url) VALUES ")
	for i, p := range batch {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 5
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5)
		args = append(args, albumID, p.FileID, p.Name, p.ThumbnailURL, p.FullURL)
	}
	sb.WriteString(" ON CONFLICT (album_id, file_id) DO NOTHING")
	sb.WriteString(" RETURNING id, album_id, file_id, name, COALESCE(thumbnail_url, ''), COALESCE(full_url, ''), synced_at")

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to insert photo batch: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanPhotos(rows)
}

func (s *pgStore) DeletePhotosByFileID(ctx context.Context, albumID int64, fileIDs []string) ([]int64, error) {
	if len(fileIDs) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		DELETE FROM photos
		WHERE album_id = $1 AND file_id = ANY($2)
		RETURNING id`, albumID, fileIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to delete photos for album %d: %w", albumID, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan deleted photo id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *pgStore) DeleteAllPhotos(ctx context.Context, albumID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM photos WHERE album_id = $1`, albumID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete photos for album %d: %w", albumID, err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted photos: %w", err)
	}
	return count, nil
}

func (s *pgStore) GetPhotosByIDs(ctx context.Context, ids []int64) ([]Photo, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, album_id, file_id, name,
		       COALESCE(thumbnail_url, ''), COALESCE(full_url, ''), synced_at
		FROM photos WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get photos by ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanPhotos(rows)
}

func scanPhotos(rows *sql.Rows) ([]Photo, error) {
	var photos []Photo
	for rows.Next() {
		var p Photo
		err := rows.Scan(&p.ID, &p.AlbumID, &p.FileID, &p.Name,
			&p.ThumbnailURL, &p.FullURL, &p.SyncedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan photo row: %w", err)
		}
		photos = append(photos, p)
	}
	return photos, rows.Err()
}

func requireRow(result sql.Result, id int64) error {
	count, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("album %d: %w", id, ErrNotFound)
	}
	return nil
}

// Batches splits items into consecutive chunks of at most size elements.
func Batches[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) == 0 {
		if len(items) == 0 {
			return nil
		}
		return [][]T{items}
	}
	var batches [][]T
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batches = append(batches, items[start:end])
	}
	return batches
}
