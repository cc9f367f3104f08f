package strategy

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nerrad567/colourlab-core/internal/experiment"
)

// Completer returns a short text completion for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Advisory asks a generative model for each next candidate.
type Advisory struct {
	completer Completer
	target    experiment.RGB
	budget    int
	bounds    experiment.Bounds
}

// NewAdvisoryFactory returns a Factory that builds advisory strategies
// backed by completer.
func NewAdvisoryFactory(completer Completer) Factory {
	return func(p Params) (Proposer, error) {
		if completer == nil {
			return nil, ErrAdvisorUnavailable
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		return &Advisory{
			completer: completer,
			target:    p.Target,
			budget:    p.Budget,
			bounds:    p.Bounds,
		}, nil
	}
}

// Propose implements Proposer. An answer that is not three in-bounds
// integers fails with ErrInvalidCandidate.
func (a *Advisory) Propose(ctx context.Context, history []Observation) (experiment.Candidate, error) {
	reply, err := a.completer.Complete(ctx, a.prompt(history))
	if err != nil {
		return experiment.Candidate{}, fmt.Errorf("advisory completion: %w", err)
	}
	return ParseCandidate(reply, a.bounds)
}

func (a *Advisory) prompt(history []Observation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are tuning a dye-mixing robot to reproduce the colour %s (RGB %d, %d, %d).\n",
		a.target.Hex(), a.target[0], a.target[1], a.target[2])
	fmt.Fprintf(&b, "Each attempt dispenses a number of drops of red, green and blue dye into a fresh well. ")
	fmt.Fprintf(&b, "Each drop count must be an integer from %d to %d. ", a.bounds.Min, a.bounds.Max)
	fmt.Fprintf(&b, "At least one count must be above zero. ")
	fmt.Fprintf(&b, "Only the ratio between the counts affects the colour.\n")
	fmt.Fprintf(&b, "Loss is the mean squared per-channel difference from the target; lower is better.\n")
	fmt.Fprintf(&b, "Attempt %d of %d.\n", len(history)+1, a.budget)

	if len(history) == 0 {
		b.WriteString("No attempts have been made yet.\n")
	} else {
		b.WriteString("Previous attempts:\n")
		for i, h := range history {
			fmt.Fprintf(&b, "%d. drops [%d, %d, %d] -> colour %s, loss %.2f\n",
				i+1, h.Candidate[0], h.Candidate[1], h.Candidate[2], h.Observed.Hex(), h.Loss)
		}
		last := history[len(history)-1]
		fmt.Fprintf(&b, "The most recent well measured %s.\n", last.Observed.Hex())
	}

	b.WriteString("Reply with only the next drop counts as a JSON array of three integers, for example [1, 2, 3].")
	return b.String()
}

var (
	arrayPattern   = regexp.MustCompile(`\[\s*(-?\d+)\s*,\s*(-?\d+)\s*,\s*(-?\d+)\s*\]`)
	integerPattern = regexp.MustCompile(`-?\d+`)
)

// ParseCandidate extracts three drop counts from a model reply. A
// bracketed triple anywhere in the text wins; otherwise the reply must
// contain exactly three integers.
func ParseCandidate(reply string, bounds experiment.Bounds) (experiment.Candidate, error) {
	var fields []string
	if m := arrayPattern.FindStringSubmatch(reply); m != nil {
		fields = m[1:]
	} else {
		fields = integerPattern.FindAllString(reply, -1)
		if len(fields) != 3 {
			return experiment.Candidate{}, fmt.Errorf("%w: expected 3 integers in %q", ErrInvalidCandidate, truncate(reply, 80))
		}
	}

	var c experiment.Candidate
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return experiment.Candidate{}, fmt.Errorf("%w: %q", ErrInvalidCandidate, f)
		}
		if v < 0 {
			return experiment.Candidate{}, fmt.Errorf("%w: negative drop count %d", ErrInvalidCandidate, v)
		}
		c[i] = v
	}
	if err := CheckCandidate(c, bounds); err != nil {
		return experiment.Candidate{}, err
	}
	return c, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
