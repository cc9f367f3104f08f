package strategy

import (
	"context"
	"fmt"

	"github.com/nerrad567/colourlab-core/internal/experiment"
)

// Kind names a strategy variant.
type Kind string

// Strategy kinds.
const (
	KindSurrogate Kind = "surrogate"
	KindAdvisory  Kind = "advisory"
)

// Observation is one evaluated candidate.
type Observation struct {
	Candidate experiment.Candidate `json:"candidate"`
	Observed  experiment.RGB       `json:"observed"`
	Loss      float64              `json:"loss"`
}

// Proposer returns the next candidate given everything observed so far.
// Implementations are used by a single goroutine and need not be safe for
// concurrent use.
type Proposer interface {
	Propose(ctx context.Context, history []Observation) (experiment.Candidate, error)
}

// Params configure one strategy instance for one experiment.
type Params struct {
	Target        experiment.RGB
	Budget        int
	Bounds        experiment.Bounds
	Seed          uint64
	InitialPoints int
}

// Validate checks the parameters shared by every strategy.
func (p Params) Validate() error {
	if err := experiment.ValidateTarget(p.Target); err != nil {
		return err
	}
	if err := experiment.ValidateBudget(p.Budget); err != nil {
		return err
	}
	return p.Bounds.Validate()
}

// CheckCandidate reports ErrInvalidCandidate for a candidate outside
// bounds or one that dispenses no drops at all. The Lab refuses an empty
// dispense.
func CheckCandidate(c experiment.Candidate, bounds experiment.Bounds) error {
	if !bounds.Contains(c) {
		return fmt.Errorf("%w: %v outside [%d,%d]", ErrInvalidCandidate, [3]int(c), bounds.Min, bounds.Max)
	}
	if c.Sum() == 0 {
		return fmt.Errorf("%w: %v dispenses no drops", ErrInvalidCandidate, [3]int(c))
	}
	return nil
}

// Factory builds a fresh Proposer for one experiment run.
type Factory func(p Params) (Proposer, error)

// Registry maps strategy kinds to factories.
type Registry struct {
	factories map[Kind]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[Kind]Factory)}
}

// Register adds or replaces the factory for kind.
func (r *Registry) Register(kind Kind, f Factory) {
	r.factories[kind] = f
}

// Has reports whether kind is registered.
func (r *Registry) Has(kind Kind) bool {
	_, ok := r.factories[kind]
	return ok
}

// Factory returns the factory for kind.
func (r *Registry) Factory(kind Kind) (Factory, error) {
	f, ok := r.factories[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, kind)
	}
	return f, nil
}
