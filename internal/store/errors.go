package store

import "errors"

// Domain errors for the store package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, store.ErrNotFound) {
//	    // handle missing device
//	}
var (
	// ErrNotFound is returned when a device ID does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrExists is returned when creating a device whose address is
	// already registered.
	ErrExists = errors.New("store: already exists")
)
