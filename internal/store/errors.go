package store

import "errors"

var (
	// ErrInvalidInput rejects a malformed mutation (e.g. empty segment
	// list) before any state is created.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStateConflict means a compare-and-set lost a race: the chunk's
	// state no longer matched the expected value. Callers resolve it
	// into a benign outcome, never surface it as a failure.
	ErrStateConflict = errors.New("state conflict")

	// ErrNotFound means the requested job or chunk does not exist.
	ErrNotFound = errors.New("not found")
)
