package lab

import "errors"

// Domain errors for the lab package.
var (
	// ErrUnavailable is returned when the Lab cannot be reached, times out,
	// or refuses a dispense.
	ErrUnavailable = errors.New("lab: unavailable")

	// ErrMeasurement is returned when the Lab responded but the colour
	// could not be read.
	ErrMeasurement = errors.New("lab: measurement error")

	// ErrNoDrops is returned by the simulator for a dispense of zero drops.
	ErrNoDrops = errors.New("lab: must add at least one drop of dye")

	// ErrInvalidWell is returned for a well that is not on the plate.
	ErrInvalidWell = errors.New("lab: invalid well")
)
