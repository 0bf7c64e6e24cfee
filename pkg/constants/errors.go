package constants

import "errors"

// Errors
var (
	// ErrNoRows is returned by a single-row read that matched zero rows.
	// The core treats it as a successful read of nothing, never as a failure.
	ErrNoRows = errors.New("no rows for single-row query")
	// ErrMultipleRows is returned by a single-row read that matched more than one row.
	ErrMultipleRows = errors.New("multiple rows for single-row query")
	// ErrInvalidQuery is returned for malformed select/update/delete requests.
	ErrInvalidQuery     = errors.New("invalid query")
	ErrUnknownProcedure = errors.New("unknown procedure")
	ErrNotAuthenticated = errors.New("user not authenticated")
)

var (
	ErrIDInUse       = errors.New("id already in use")
	ErrTimeout       = errors.New("timeout")
	ErrClosed        = errors.New("closed")
	ErrChannelClosed = errors.New("live channel closed")
	ErrNotWatched    = errors.New("filter is not watched")
	ErrNoBaseURL     = errors.New("base url not set")
	ErrNoMarshaler   = errors.New("marshaler is not set")
	ErrNoUnmarshaler = errors.New("unmarshaler is not set")
)
