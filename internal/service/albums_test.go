package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanvq/facegallery/internal/cache"
	"github.com/hanvq/facegallery/internal/dispatch"
	"github.com/hanvq/facegallery/internal/encoder"
	"github.com/hanvq/facegallery/internal/invalidation"
	"github.com/hanvq/facegallery/internal/listing"
	"github.com/hanvq/facegallery/internal/status"
	"github.com/hanvq/facegallery/internal/store"
	syncer "github.com/hanvq/facegallery/internal/sync"
	"github.com/hanvq/facegallery/internal/tasks"
)

// memStore is an in-memory store.Store
type memStore struct {
	mu     sync.Mutex
	nextID int64
	albums map[int64]*store.Album
	photos map[int64][]store.Photo
}

func newMemStore() *memStore {
	return &memStore{
		nextID: 1,
		albums: make(map[int64]*store.Album),
		photos: make(map[int64][]store.Photo),
	}
}

func (m *memStore) CreateAlbum(_ context.Context, album *store.Album) (*store.Album, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	album.ID = m.nextID
	m.nextID++
	album.CreatedAt = time.Now()
	album.UpdatedAt = album.CreatedAt
	m.albums[album.ID] = album
	return album, nil
}

func (m *memStore) GetAlbum(_ context.Context, id int64) (*store.Album, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	album, ok := m.albums[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *album
	return &copied, nil
}

func (m *memStore) ListAlbums(context.Context) ([]store.AlbumSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.AlbumSummary
	for _, a := range m.albums {
		out = append(out, store.AlbumSummary{Album: *a, PhotoCount: len(m.photos[a.ID])})
	}
	return out, nil
}

func (m *memStore) UpdateAlbum(_ context.Context, album *store.Album) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.albums[album.ID]; !ok {
		return store.ErrNotFound
	}
	copied := *album
	m.albums[album.ID] = &copied
	return nil
}

func (m *memStore) UpdateAlbumThumbnail(_ context.Context, id int64, thumbnail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if album, ok := m.albums[id]; ok {
		album.Thumbnail = thumbnail
	}
	return nil
}

func (m *memStore) DeleteAlbum(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.albums[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.albums, id)
	delete(m.photos, id)
	return nil
}

func (m *memStore) ListPhotos(_ context.Context, albumID int64) ([]store.Photo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Photo(nil), m.photos[albumID]...), nil
}

func (m *memStore) ListPhotoFileIDs(_ context.Context, albumID int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, p := range m.photos[albumID] {
		ids = append(ids, p.FileID)
	}
	return ids, nil
}

func (m *memStore) InsertPhotos(_ context.Context, albumID int64, photos []store.NewPhoto, _ int) ([]store.Photo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var inserted []store.Photo
	for _, np := range photos {
		p := store.Photo{
			ID:           m.nextID,
			AlbumID:      albumID,
			FileID:       np.FileID,
			Name:         np.Name,
			ThumbnailURL: np.ThumbnailURL,
			FullURL:      np.FullURL,
			SyncedAt:     time.Now(),
		}
		m.nextID++
		m.photos[albumID] = append(m.photos[albumID], p)
		inserted = append(inserted, p)
	}
	return inserted, nil
}

func (m *memStore) DeletePhotosByFileID(_ context.Context, albumID int64, fileIDs []string) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doomed := make(map[string]struct{}, len(fileIDs))
	for _, id := range fileIDs {
		doomed[id] = struct{}{}
	}
	var removed []int64
	var kept []store.Photo
	for _, p := range m.photos[albumID] {
		if _, ok := doomed[p.FileID]; ok {
			removed = append(removed, p.ID)
		} else {
			kept = append(kept, p)
		}
	}
	m.photos[albumID] = kept
	return removed, nil
}

func (m *memStore) DeleteAllPhotos(_ context.Context, albumID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.photos[albumID]))
	m.photos[albumID] = nil
	return n, nil
}

func (m *memStore) GetPhotosByIDs(_ context.Context, ids []int64) ([]store.Photo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var out []store.Photo
	for _, photos := range m.photos {
		for _, p := range photos {
			if _, ok := want[p.ID]; ok {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

// memCache is an in-memory cache.Store
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	if !ok {
		return nil, cache.ErrMiss
	}
	return data, nil
}

func (m *memCache) SetEx(_ context.Context, key string, _ time.Duration, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func (*memCache) DeletePattern(context.Context, string) error { return nil }
func (*memCache) Ping(context.Context) error                  { return nil }

// stubLister serves a fixed listing
type stubLister struct {
	entries []listing.Entry
}

func (s *stubLister) Walk(context.Context, string) ([]listing.Entry, error) {
	return s.entries, nil
}

// stubEncoder answers face searches and status reads with fixed responses
type stubEncoder struct {
	encoder.Client
	matches   []int64
	searchErr error
	status    []byte
	statusErr error
}

func (s *stubEncoder) Search(context.Context, int64, string, float64) (*encoder.SearchResult, error) {
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return &encoder.SearchResult{MatchedPhotoIDs: s.matches}, nil
}

func (s *stubEncoder) Status(context.Context, int64) ([]byte, error) {
	return s.status, s.statusErr
}

// nopDispatcher ignores all dispatches
type nopDispatcher struct{}

func (nopDispatcher) Dispatch(context.Context, int64, []encoder.PhotoRef) dispatch.Result {
	return dispatch.Result{}
}
func (nopDispatcher) DispatchIncremental(context.Context, int64, []encoder.PhotoRef) dispatch.Result {
	return dispatch.Result{}
}
func (nopDispatcher) RemovePhotos(context.Context, int64, []int64) dispatch.Result {
	return dispatch.Result{}
}

type serviceFixture struct {
	albums *Albums
	store  *memStore
	cache  *memCache
	runner *tasks.Runner
	enc    *stubEncoder
}

func newServiceFixture(entries []listing.Entry) *serviceFixture {
	st := newMemStore()
	c := newMemCache()
	runner := tasks.NewRunner(time.Minute)
	inv := invalidation.NewCoordinator(c)
	manager := syncer.NewManager(&stubLister{entries: entries}, st, nopDispatcher{}, inv, runner, nil, nil, 100)
	enc := &stubEncoder{}
	tracker := status.NewTracker(c, status.NewFallback())

	return &serviceFixture{
		albums: NewAlbums(st, c, manager, enc, tracker, inv),
		store:  st,
		cache:  c,
		runner: runner,
		enc:    enc,
	}
}

func listingEntry(fileID string) listing.Entry {
	return listing.Entry{
		FileID:       fileID,
		Name:         fileID + ".jpg",
		ThumbnailURL: "https://cdn/" + fileID + "=s220",
		ContentURL:   "https://files/" + fileID,
	}
}

func TestCreateAlbumRunsInitialSync(t *testing.T) {
	t.Parallel()

	f := newServiceFixture([]listing.Entry{listingEntry("a"), listingEntry("b")})

	album, result, err := f.albums.Create(context.Background(), CreateAlbumRequest{
		Name:      "holiday",
		ShareLink: "https://drive.google.com/drive/folders/1AbCdEf?usp=sharing",
	})
	require.NoError(t, err)
	f.runner.Wait()

	assert.Equal(t, "1AbCdEf", album.FolderID)
	require.NotNil(t, result)
	assert.Equal(t, 2, result.Added)

	photos, err := f.store.ListPhotos(context.Background(), album.ID)
	require.NoError(t, err)
	assert.Len(t, photos, 2)
}

func TestCreateAlbumRejectsBadShareLink(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(nil)
	_, _, err := f.albums.Create(context.Background(), CreateAlbumRequest{
		Name:      "holiday",
		ShareLink: "https://example.com/nothing?here=true",
	})
	assert.ErrorIs(t, err, ErrInvalidShareLink)
}

func TestPrivateAlbumPasswordFlow(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(nil)
	album, _, err := f.albums.Create(context.Background(), CreateAlbumRequest{
		Name:      "private",
		ShareLink: "1AbCdEf",
		IsPrivate: true,
		Password:  "hunter2",
	})
	require.NoError(t, err)
	f.runner.Wait()

	_, err = f.albums.Get(context.Background(), album.ID, "")
	assert.ErrorIs(t, err, ErrPasswordRequired)

	_, err = f.albums.Get(context.Background(), album.ID, "wrong")
	assert.ErrorIs(t, err, ErrInvalidPassword)

	got, err := f.albums.Get(context.Background(), album.ID, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, album.ID, got.ID)
}

func TestVerifyPassword(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(nil)
	private, _, err := f.albums.Create(context.Background(), CreateAlbumRequest{
		Name:      "private",
		ShareLink: "1AbCdEf",
		IsPrivate: true,
		Password:  "hunter2",
	})
	require.NoError(t, err)
	public, _, err := f.albums.Create(context.Background(), CreateAlbumRequest{
		Name:      "public",
		ShareLink: "1AbCdEf",
	})
	require.NoError(t, err)
	f.runner.Wait()

	assert.NoError(t, f.albums.VerifyPassword(context.Background(), private.ID, "hunter2"))
	assert.ErrorIs(t, f.albums.VerifyPassword(context.Background(), private.ID, "wrong"), ErrInvalidPassword)

	// Public albums accept any candidate
	assert.NoError(t, f.albums.VerifyPassword(context.Background(), public.ID, "anything"))

	assert.ErrorIs(t, f.albums.VerifyPassword(context.Background(), 999, "hunter2"), store.ErrNotFound)
}

func TestCreatePrivateAlbumRequiresPassword(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(nil)
	_, _, err := f.albums.Create(context.Background(), CreateAlbumRequest{
		Name:      "private",
		ShareLink: "1AbCdEf",
		IsPrivate: true,
	})
	assert.Error(t, err)
}

func TestPhotosServedFromCache(t *testing.T) {
	t.Parallel()

	f := newServiceFixture([]listing.Entry{listingEntry("a")})
	album, _, err := f.albums.Create(context.Background(), CreateAlbumRequest{
		Name:      "holiday",
		ShareLink: "1AbCdEf",
	})
	require.NoError(t, err)
	f.runner.Wait()

	// Sync purged the listing key; the first read fills the cache
	photos, err := f.albums.Photos(context.Background(), album.ID, "")
	require.NoError(t, err)
	require.Len(t, photos, 1)

	cached := []store.Photo{{ID: 999, AlbumID: album.ID, FileID: "cached"}}
	data, err := json.Marshal(cached)
	require.NoError(t, err)
	require.NoError(t, f.cache.SetEx(context.Background(), cache.PhotosKey(album.ID), cache.TTLPhotos, data))

	// The poisoned cache entry proves the second read never hit the store
	photos, err = f.albums.Photos(context.Background(), album.ID, "")
	require.NoError(t, err)
	require.Len(t, photos, 1)
	assert.Equal(t, "cached", photos[0].FileID)
}

func TestSearchResolvesMatchedPhotos(t *testing.T) {
	t.Parallel()

	f := newServiceFixture([]listing.Entry{listingEntry("a"), listingEntry("b")})
	album, _, err := f.albums.Create(context.Background(), CreateAlbumRequest{
		Name:      "holiday",
		ShareLink: "1AbCdEf",
	})
	require.NoError(t, err)
	f.runner.Wait()

	photos, err := f.store.ListPhotos(context.Background(), album.ID)
	require.NoError(t, err)
	require.Len(t, photos, 2)
	f.enc.matches = []int64{photos[1].ID}

	got, err := f.albums.Search(context.Background(), album.ID, "aW1n", 0.6)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, photos[1].FileID, got[0].FileID)
}

func TestSearchNoMatches(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(nil)
	album, _, err := f.albums.Create(context.Background(), CreateAlbumRequest{
		Name:      "holiday",
		ShareLink: "1AbCdEf",
	})
	require.NoError(t, err)
	f.runner.Wait()

	got, err := f.albums.Search(context.Background(), album.ID, "aW1n", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearchServiceFailure(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(nil)
	album, _, err := f.albums.Create(context.Background(), CreateAlbumRequest{
		Name:      "holiday",
		ShareLink: "1AbCdEf",
	})
	require.NoError(t, err)
	f.runner.Wait()
	f.enc.searchErr = errors.New("encoder down")

	_, err = f.albums.Search(context.Background(), album.ID, "aW1n", 0)
	assert.Error(t, err)
}

func TestEncodingStatusFallsThroughToService(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(nil)
	f.enc.status = []byte(`{"status":"encoding","total_photos":12,"total_faces":3}`)

	record := f.albums.EncodingStatus(context.Background(), 1)
	assert.Equal(t, status.StateEncoding, record.State)
	assert.Equal(t, 12, record.TotalPhotos)
	assert.Equal(t, 3, record.TotalFaces)
}

func TestEncodingStatusPrefersLocalRecord(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(nil)
	f.enc.status = []byte(`{"status":"encoding"}`)

	tracker := status.NewTracker(f.cache, status.NewFallback())
	tracker.Set(context.Background(), 1, status.StateCompleted, status.Fields{TotalFaces: 9})

	record := f.albums.EncodingStatus(context.Background(), 1)
	assert.Equal(t, status.StateCompleted, record.State)
	assert.Equal(t, 9, record.TotalFaces)
}

func TestEncodingStatusServiceDown(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(nil)
	f.enc.statusErr = errors.New("encoder down")

	record := f.albums.EncodingStatus(context.Background(), 1)
	assert.Equal(t, status.StateNotStarted, record.State)
}

func TestDeleteAlbumPurgesCaches(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(nil)
	album, _, err := f.albums.Create(context.Background(), CreateAlbumRequest{
		Name:      "holiday",
		ShareLink: "1AbCdEf",
	})
	require.NoError(t, err)
	f.runner.Wait()

	require.NoError(t, f.cache.SetEx(context.Background(), cache.PhotosKey(album.ID), time.Minute, []byte("[]")))
	require.NoError(t, f.cache.SetEx(context.Background(), cache.EncodingsKey(album.ID), time.Minute, []byte("{}")))

	require.NoError(t, f.albums.Delete(context.Background(), album.ID))

	_, err = f.cache.Get(context.Background(), cache.PhotosKey(album.ID))
	assert.ErrorIs(t, err, cache.ErrMiss)
	_, err = f.cache.Get(context.Background(), cache.EncodingsKey(album.ID))
	assert.ErrorIs(t, err, cache.ErrMiss)

	_, err = f.albums.Get(context.Background(), album.ID, "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateAlbumTogglesPrivacy(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(nil)
	album, _, err := f.albums.Create(context.Background(), CreateAlbumRequest{
		Name:      "holiday",
		ShareLink: "1AbCdEf",
	})
	require.NoError(t, err)
	f.runner.Wait()

	private := true
	_, err = f.albums.Update(context.Background(), album.ID, UpdateAlbumRequest{
		Name:      "holiday",
		IsPrivate: &private,
		Password:  "hunter2",
	})
	require.NoError(t, err)

	_, err = f.albums.Get(context.Background(), album.ID, "")
	assert.ErrorIs(t, err, ErrPasswordRequired)

	public := false
	_, err = f.albums.Update(context.Background(), album.ID, UpdateAlbumRequest{
		Name:      "holiday",
		IsPrivate: &public,
	})
	require.NoError(t, err)

	_, err = f.albums.Get(context.Background(), album.ID, "")
	assert.NoError(t, err)
}
