package sync

import "fmt"

// ListingError marks a sync failure caused by the remote listing provider.
// The catalog was not modified.
type ListingError struct {
	Err error
}

func (e *ListingError) Error() string {
	return fmt.Sprintf("remote listing failed: %v", e.Err)
}

func (e *ListingError) Unwrap() error { return e.Err }

// StoreError marks a sync failure caused by the catalog database. The
// catalog may have been partially modified; a retried sync converges
// because applied inserts and deletes are idempotent.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("catalog %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
