package state

import "errors"

// ErrUnavailable wraps any store failure not otherwise classified.
var ErrUnavailable = errors.New("STATE_UNAVAILABLE")

// ErrNotFound is returned when a lookup by key finds no row.
var ErrNotFound = errors.New("STATE_NOT_FOUND")

// ErrIllegalTransition is returned when updateState or
// updateResultAndState is asked to move a row to a state its current
// state cannot legally reach (domain.CanTransition).
var ErrIllegalTransition = errors.New("STATE_ILLEGAL_TRANSITION")
