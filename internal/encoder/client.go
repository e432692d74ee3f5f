// Package encoder is the HTTP client for the external face-encoding service.
// All calls carry bounded timeouts; an expired deadline surfaces as
// ErrTimeout so callers can distinguish a slow service from a broken one.
package encoder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hanvq/facegallery/internal/httpclient"
)

// ErrTimeout is returned when an encoding-service call exceeds its deadline.
var ErrTimeout = errors.New("encoding service call timed out")

const (
	// DefaultEncodeTimeout bounds full and incremental album encode calls
	DefaultEncodeTimeout = 300 * time.Second

	// DefaultRemoveTimeout bounds descriptor removal calls
	DefaultRemoveTimeout = 60 * time.Second

	// DefaultStatusTimeout bounds status and encoding-fetch calls
	DefaultStatusTimeout = 60 * time.Second
)

// PhotoRef is one photo handed to the encoding service
type PhotoRef struct {
	ID  int64  `json:"id"`
	URL string `json:"url"`
}

// EncodeResult is the encoding service's batch response
type EncodeResult struct {
	Success    bool `json:"success"`
	Processed  int  `json:"processed"`
	Failed     int  `json:"failed"`
	TotalFaces int  `json:"total_faces"`
}

// SearchResult is the encoding service's face search response
type SearchResult struct {
	MatchedPhotoIDs []int64 `json:"matched_photo_ids"`
}

// Client talks to the face-encoding service
type Client interface {
	// EncodeAlbum runs the full-catalog batch encode for an album
	EncodeAlbum(ctx context.Context, albumID int64, photos []PhotoRef) (*EncodeResult, error)

	// EncodeIncremental encodes only the given photos and merges their
	// descriptors into the album's existing set
	EncodeIncremental(ctx context.Context, albumID int64, photos []PhotoRef) (*EncodeResult, error)

	// RemovePhotos deletes descriptors for the given photo ids
	RemovePhotos(ctx context.Context, albumID int64, photoIDs []int64) error

	// GetEncodings fetches the album's raw descriptor payload
	GetEncodings(ctx context.Context, albumID int64) ([]byte, error)

	// Status fetches the service's own view of the album's encoding status
	Status(ctx context.Context, albumID int64) ([]byte, error)

	// Search finds photos matching the face in the given base64 image
	Search(ctx context.Context, albumID int64, imageBase64 string, tolerance float64) (*SearchResult, error)
}

// Timeouts carries the per-operation deadlines for a client
type Timeouts struct {
	Encode time.Duration
	Remove time.Duration
	Status time.Duration
}

type client struct {
	http     httpclient.Client
	baseURL  string
	timeouts Timeouts
}

// NewClient creates a Client against the given encoding service base URL.
// Zero timeout fields take the package defaults.
func NewClient(baseURL string, timeouts Timeouts, httpClient httpclient.Client) Client {
	if timeouts.Encode == 0 {
		timeouts.Encode = DefaultEncodeTimeout
	}
	if timeouts.Remove == 0 {
		timeouts.Remove = DefaultRemoveTimeout
	}
	if timeouts.Status == 0 {
		timeouts.Status = DefaultStatusTimeout
	}
	if httpClient == nil {
		httpClient = httpclient.NewDefaultClient(timeouts.Encode)
	}
	return &client{
		http:     httpClient,
		baseURL:  strings.TrimRight(baseURL, "/"),
		timeouts: timeouts,
	}
}

func (c *client) EncodeAlbum(ctx context.Context, albumID int64, photos []PhotoRef) (*EncodeResult, error) {
	return c.encode(ctx, "/encode-album", albumID, photos)
}

func (c *client) EncodeIncremental(ctx context.Context, albumID int64, photos []PhotoRef) (*EncodeResult, error) {
	return c.encode(ctx, "/encode-incremental", albumID, photos)
}

func (c *client) encode(ctx context.Context, path string, albumID int64, photos []PhotoRef) (*EncodeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Encode)
	defer cancel()

	payload := map[string]any{
		"album_id": albumID,
		"photos":   photos,
	}
	body, err := c.http.PostJSON(ctx, c.baseURL+path, payload)
	if err != nil {
		return nil, c.wrap(ctx, path, err)
	}

	var result EncodeResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("malformed response from %s: %w", path, err)
	}
	return &result, nil
}

func (c *client) RemovePhotos(ctx context.Context, albumID int64, photoIDs []int64) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Remove)
	defer cancel()

	payload := map[string]any{
		"album_id":  albumID,
		"photo_ids": photoIDs,
	}
	if _, err := c.http.PostJSON(ctx, c.baseURL+"/remove-photos", payload); err != nil {
		return c.wrap(ctx, "/remove-photos", err)
	}
	return nil
}

func (c *client) GetEncodings(ctx context.Context, albumID int64) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Status)
	defer cancel()

	body, err := c.http.Get(ctx, fmt.Sprintf("%s/get-encodings/%d", c.baseURL, albumID))
	if err != nil {
		return nil, c.wrap(ctx, "/get-encodings", err)
	}
	return body, nil
}

func (c *client) Status(ctx context.Context, albumID int64) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Status)
	defer cancel()

	body, err := c.http.Get(ctx, fmt.Sprintf("%s/encoding-status/%d", c.baseURL, albumID))
	if err != nil {
		return nil, c.wrap(ctx, "/encoding-status", err)
	}
	return body, nil
}

func (c *client) Search(ctx context.Context, albumID int64, imageBase64 string, tolerance float64) (*SearchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Status)
	defer cancel()

	payload := map[string]any{
		"album_id":  albumID,
		"image":     imageBase64,
		"tolerance": tolerance,
	}
	body, err := c.http.PostJSON(ctx, c.baseURL+"/search", payload)
	if err != nil {
		return nil, c.wrap(ctx, "/search", err)
	}

	var result SearchResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("malformed response from /search: %w", err)
	}
	return &result, nil
}

// wrap converts a deadline expiry into ErrTimeout and annotates everything
// else with the endpoint that failed.
func (*client) wrap(ctx context.Context, path string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", path, ErrTimeout)
	}
	return fmt.Errorf("%s: %w", path, err)
}

// BestResolutionURL picks the encode URL for a photo: the higher-resolution
// thumbnail variant when a thumbnail exists, otherwise the full-size
// reference. Thumbnails bound the payload the encoding service downloads
// while keeping enough pixels for recognition.
func BestResolutionURL(thumbnailURL, fullURL string) string {
	if thumbnailURL != "" {
		return strings.Replace(thumbnailURL, "=s220", "=s800", 1)
	}
	return fullURL
}
