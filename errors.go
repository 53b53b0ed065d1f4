package splice

import "errors"

var (
	// ErrNotFound is returned when an object, session or blob does not exist
	ErrNotFound = errors.New("not found")
	// ErrInternal is returned when an internal error occurs
	ErrInternal = errors.New("internal error")
	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidRange is returned for chunk indices or totals outside their bounds
	ErrInvalidRange = errors.New("invalid range")
	// ErrPathUnsafe is returned when an object name could escape its namespace
	ErrPathUnsafe = errors.New("unsafe object name")
	// ErrStorageUnavailable wraps failures of the underlying blob store
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrRaceLost is returned when a finalize finds its inputs taken by another finalize
	ErrRaceLost = errors.New("finalize race lost")
	// ErrIncomplete is returned when finalize is requested before every chunk is present
	ErrIncomplete = errors.New("upload incomplete")
	// ErrExists is returned by conditional writes when the key is already present
	ErrExists = errors.New("already exists")
	// ErrLeaseHeld is returned when another finalizer holds an unexpired lease
	ErrLeaseHeld = errors.New("lease held")
)
