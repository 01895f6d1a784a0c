package room

import "errors"

var (
	ErrNotFound = errors.New("room not found")
	ErrFull     = errors.New("room full")
	// ErrNoFreeIDs is returned when every code in the namespace is in use.
	// In practice the registry never gets anywhere near that; the check only
	// guarantees the allocation loop terminates.
	ErrNoFreeIDs = errors.New("no free room ids")
)
