package experiment

import "errors"

// Domain errors for the experiment package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, experiment.ErrInvalidBudget) {
//	    // reject the request
//	}
var (
	// ErrInvalidID is returned when an experiment ID is empty, too long or
	// contains characters that cannot appear in a URL path segment.
	ErrInvalidID = errors.New("experiment: invalid id")

	// ErrInvalidTarget is returned when a target channel lies outside [0,255].
	ErrInvalidTarget = errors.New("experiment: invalid target")

	// ErrInvalidBudget is returned when the iteration budget is not positive
	// or would run past the last well on the plate.
	ErrInvalidBudget = errors.New("experiment: invalid budget")

	// ErrInvalidBounds is returned when candidate bounds are empty or negative.
	ErrInvalidBounds = errors.New("experiment: invalid bounds")

	// ErrInvalidTransition is returned when a status change would move
	// backwards or leave a terminal state.
	ErrInvalidTransition = errors.New("experiment: invalid status transition")

	// ErrWellOutOfRange is returned for a well index beyond the plate.
	ErrWellOutOfRange = errors.New("experiment: well out of range")

	// ErrInvalidColour is returned when a colour string is not #rrggbb.
	ErrInvalidColour = errors.New("experiment: invalid colour")
)
