package experiment

import (
	"fmt"
	"strings"
)

// MaxIDLength bounds experiment IDs so they stay usable as path segments
// and MQTT topic levels.
const MaxIDLength = 100

// ValidateID checks an externally supplied experiment ID.
func ValidateID(id string) error {
	if id == "" || len(id) > MaxIDLength {
		return fmt.Errorf("%w: length must be 1-%d", ErrInvalidID, MaxIDLength)
	}
	if strings.ContainsAny(id, "/#+ \t\r\n") {
		return fmt.Errorf("%w: %q contains reserved characters", ErrInvalidID, id)
	}
	return nil
}

// ValidateTarget checks that every target channel lies in [0,255].
func ValidateTarget(target RGB) error {
	if !target.Valid() {
		return fmt.Errorf("%w: %v", ErrInvalidTarget, [3]int(target))
	}
	return nil
}

// ValidateBudget checks that the budget is positive and fits on one plate.
func ValidateBudget(budget int) error {
	if budget <= 0 {
		return fmt.Errorf("%w: %d must be positive", ErrInvalidBudget, budget)
	}
	if budget > PlateCapacity {
		return fmt.Errorf("%w: %d exceeds plate capacity %d", ErrInvalidBudget, budget, PlateCapacity)
	}
	return nil
}
