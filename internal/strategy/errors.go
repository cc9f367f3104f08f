package strategy

import "errors"

// Domain errors for the strategy package.
var (
	// ErrInvalidCandidate is returned when a proposal cannot be parsed or
	// falls outside the configured bounds.
	ErrInvalidCandidate = errors.New("strategy: invalid candidate")

	// ErrUnknownStrategy is returned by the registry for an unknown kind.
	ErrUnknownStrategy = errors.New("strategy: unknown strategy")

	// ErrAdvisorUnavailable is returned when the advisory strategy is
	// requested without a configured completion backend.
	ErrAdvisorUnavailable = errors.New("strategy: advisor unavailable")
)
