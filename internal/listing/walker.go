package listing

import (
	"context"
	"fmt"

	"github.com/hanvq/facegallery/internal/logger"
)

// Walker drains the full remote listing of a folder tree. Folders are visited
// depth-first via an explicit worklist, so arbitrarily deep trees cannot
// exhaust the call stack, and entries are merged in traversal order: the
// first entry of the result is the first entry discovered, which makes
// thumbnail selection deterministic.
type Walker struct {
	provider          Provider
	includeSubfolders bool
}

// NewWalker creates a Walker over the given provider. When includeSubfolders
// is false only the root folder's own entries are listed.
func NewWalker(provider Provider, includeSubfolders bool) *Walker {
	return &Walker{
		provider:          provider,
		includeSubfolders: includeSubfolders,
	}
}

// Walk lists every non-trashed image entry under folderID, following page
// cursors until each folder is exhausted. Any provider failure aborts the
// walk and is returned to the caller.
func (w *Walker) Walk(ctx context.Context, folderID string) ([]Entry, error) {
	var entries []Entry

	// LIFO worklist of folders still to visit
	stack := []Folder{{ID: folderID, Name: "root"}}

	for len(stack) > 0 {
		folder := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		folderEntries, err := w.drainImages(ctx, folder)
		if err != nil {
			return nil, err
		}
		entries = append(entries, folderEntries...)

		if !w.includeSubfolders {
			continue
		}

		children, err := w.drainFolders(ctx, folder)
		if err != nil {
			return nil, err
		}

		// Push in reverse so children pop in listed order
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}

	logger.Debugf("Remote listing walk finished: %d entries under folder %s", len(entries), folderID)
	return entries, nil
}

func (w *Walker) drainImages(ctx context.Context, folder Folder) ([]Entry, error) {
	var entries []Entry
	cursor := ""
	for {
		page, err := w.provider.ListImages(ctx, folder.ID, cursor)
		if err != nil {
			return nil, fmt.Errorf("listing images in folder %s (%s): %w", folder.Name, folder.ID, err)
		}
		entries = append(entries, page.Entries...)
		if page.NextCursor == "" {
			return entries, nil
		}
		cursor = page.NextCursor
	}
}

func (w *Walker) drainFolders(ctx context.Context, folder Folder) ([]Folder, error) {
	var folders []Folder
	cursor := ""
	for {
		page, err := w.provider.ListFolders(ctx, folder.ID, cursor)
		if err != nil {
			return nil, fmt.Errorf("listing subfolders of %s (%s): %w", folder.Name, folder.ID, err)
		}
		folders = append(folders, page.Folders...)
		if page.NextCursor == "" {
			return folders, nil
		}
		cursor = page.NextCursor
	}
}
