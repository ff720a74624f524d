package compose

import "errors"

// Store errors that can be checked with errors.Is()
var (
	// ErrDuplicateName is returned when a service or profile name, port or
	// control port collides with an existing entry
	ErrDuplicateName = errors.New("already exists")

	// ErrNotFound is returned when a service or profile does not exist
	ErrNotFound = errors.New("not found")

	// ErrDocumentFormat is returned when the compose document cannot be
	// parsed into the expected sections
	ErrDocumentFormat = errors.New("invalid compose document")
)
