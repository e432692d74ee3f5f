package listing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"

	"github.com/hanvq/facegallery/internal/httpclient"
)

const (
	// maxFilePageSize is the provider's stated maximum page size for file listings
	maxFilePageSize = 1000

	// maxFolderPageSize is the provider's stated maximum page size for folder listings
	maxFolderPageSize = 100
)

var folderLinkPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/folders/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`id=([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`^([a-zA-Z0-9_-]+)$`),
}

// ExtractFolderID parses a folder share link into the provider folder id.
// Accepts the /folders/<id> path form, the id=<id> query form, and a bare id.
// Returns an empty string when the link matches none of them.
func ExtractFolderID(link string) string {
	for _, pattern := range folderLinkPatterns {
		if m := pattern.FindStringSubmatch(link); m != nil {
			return m[1]
		}
	}
	return ""
}

// DriveProvider lists files from a Drive-compatible HTTP listing API.
type DriveProvider struct {
	client   httpclient.Client
	baseURL  string
	apiKey   string
	pageSize int
}

// DriveOption configures a DriveProvider
type DriveOption func(*DriveProvider)

// WithPageSize overrides the file listing page size. Values above the
// provider maximum are clamped.
func WithPageSize(size int) DriveOption {
	return func(p *DriveProvider) {
		if size > 0 {
			p.pageSize = min(size, maxFilePageSize)
		}
	}
}

// WithHTTPClient overrides the HTTP client used for listing calls
func WithHTTPClient(c httpclient.Client) DriveOption {
	return func(p *DriveProvider) {
		p.client = c
	}
}

// NewDriveProvider creates a Provider against the given listing API base URL
func NewDriveProvider(baseURL, apiKey string, opts ...DriveOption) *DriveProvider {
	p := &DriveProvider{
		client:   httpclient.NewDefaultClient(0),
		baseURL:  trimTrailingSlash(baseURL),
		apiKey:   apiKey,
		pageSize: maxFilePageSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// driveFile mirrors the provider's file resource shape
type driveFile struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ThumbnailLink string `json:"thumbnailLink"`
}

// driveFileList mirrors the provider's list response shape
type driveFileList struct {
	Files         []driveFile `json:"files"`
	NextPageToken string      `json:"nextPageToken"`
}

// ListImages returns one page of non-trashed image files in the folder
func (p *DriveProvider) ListImages(ctx context.Context, folderID, cursor string) (*Page, error) {
	query := fmt.Sprintf("'%s' in parents and mimeType contains 'image/' and trashed = false", folderID)
	listURL := p.listURL(query, "files(id, name, thumbnailLink)", p.pageSize, cursor)

	var list driveFileList
	if err := p.fetch(ctx, listURL, &list); err != nil {
		return nil, err
	}

	page := &Page{NextCursor: list.NextPageToken}
	for _, f := range list.Files {
		page.Entries = append(page.Entries, Entry{
			FileID:       f.ID,
			Name:         f.Name,
			ThumbnailURL: f.ThumbnailLink,
			ContentURL:   p.contentURL(f.ID),
		})
	}
	return page, nil
}

// ListFolders returns one page of non-trashed child folders
func (p *DriveProvider) ListFolders(ctx context.Context, folderID, cursor string) (*FolderPage, error) {
	query := fmt.Sprintf("'%s' in parents and mimeType = 'application/vnd.google-apps.folder' and trashed = false", folderID)
	listURL := p.listURL(query, "files(id, name)", maxFolderPageSize, cursor)

	var list driveFileList
	if err := p.fetch(ctx, listURL, &list); err != nil {
		return nil, err
	}

	page := &FolderPage{NextCursor: list.NextPageToken}
	for _, f := range list.Files {
		page.Folders = append(page.Folders, Folder{ID: f.ID, Name: f.Name})
	}
	return page, nil
}

func (p *DriveProvider) listURL(query, fields string, pageSize int, cursor string) string {
	params := url.Values{}
	params.Set("q", query)
	params.Set("fields", fields)
	params.Set("pageSize", strconv.Itoa(pageSize))
	if cursor != "" {
		params.Set("pageToken", cursor)
	}
	if p.apiKey != "" {
		params.Set("key", p.apiKey)
	}
	return p.baseURL + "/files?" + params.Encode()
}

func (p *DriveProvider) fetch(ctx context.Context, listURL string, dest *driveFileList) error {
	body, err := p.client.Get(ctx, listURL)
	if err != nil {
		return fmt.Errorf("listing request failed: %w", err)
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("malformed listing response: %w", err)
	}
	return nil
}

// contentURL builds the full-resolution download reference for a file
func (p *DriveProvider) contentURL(fileID string) string {
	return fmt.Sprintf("%s/uc?export=view&id=%s", p.baseURL, fileID)
}

func trimTrailingSlash(s string) string {
	if len(s) > 0 && s[len(s)-1] == '/' {
		return s[:len(s)-1]
	}
	return s
}
