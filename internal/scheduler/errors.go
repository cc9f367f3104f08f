package scheduler

import "errors"

// Domain errors for the scheduler package.
var (
	// ErrExperimentNotFound is returned for an ID that was never started.
	ErrExperimentNotFound = errors.New("experiment: not found")

	// ErrExperimentExists is returned when starting an ID already in the registry.
	ErrExperimentExists = errors.New("experiment: already exists")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("scheduler: closed")

	// ErrStrategyPanic wraps a panic recovered from a strategy or lab.
	ErrStrategyPanic = errors.New("scheduler: strategy panicked")
)
