package whyfail

import "github.com/whyfailclub/whyfail.go/pkg/constants"

// Errors callers commonly test for, re-exported from pkg/constants.
var (
	ErrNoRows           = constants.ErrNoRows
	ErrMultipleRows     = constants.ErrMultipleRows
	ErrInvalidQuery     = constants.ErrInvalidQuery
	ErrNotAuthenticated = constants.ErrNotAuthenticated
	ErrClosed           = constants.ErrClosed
	ErrNotWatched       = constants.ErrNotWatched
)
