package runs

import "errors"

// Domain errors for the runs package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, runs.ErrRunNotFound) {
//	    // handle not found case
//	}
var (
	// ErrRunNotFound is returned when a run ID does not exist.
	ErrRunNotFound = errors.New("run: not found")

	// ErrRunExists is returned when creating a run with an ID that already exists.
	ErrRunExists = errors.New("run: already exists")

	// ErrInvalidRun is returned when a run is missing required fields.
	ErrInvalidRun = errors.New("run: invalid")
)
