// Package listing fetches the remote folder tree from the file-storage
// provider. A Provider returns one page of entries at a time; the Walker
// drains all pages of every folder in the tree and merges them in traversal
// order.
package listing

import "context"

// Entry is a single image file in the remote folder tree
type Entry struct {
	// FileID is the provider's stable identifier for the file. It is the
	// reconciliation key: unique within an album and immutable for the
	// lifetime of the remote file.
	FileID string

	// Name is the display name of the file
	Name string

	// ThumbnailURL is the provider-served thumbnail reference
	ThumbnailURL string

	// ContentURL is the full-resolution reference
	ContentURL string
}

// Folder is a child folder in the remote tree
type Folder struct {
	ID   string
	Name string
}

// Page is one page of image entries. An empty NextCursor means the listing
// is exhausted.
type Page struct {
	Entries    []Entry
	NextCursor string
}

// FolderPage is one page of child folders
type FolderPage struct {
	Folders    []Folder
	NextCursor string
}

// Provider lists non-trashed image files and child folders of a remote
// folder, one page per call.
type Provider interface {
	// ListImages returns one page of image entries in the folder. Pass an
	// empty cursor for the first page.
	ListImages(ctx context.Context, folderID, cursor string) (*Page, error)

	// ListFolders returns one page of child folders. Pass an empty cursor
	// for the first page.
	ListFolders(ctx context.Context, folderID, cursor string) (*FolderPage, error)
}
