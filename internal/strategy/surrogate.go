package strategy

import (
	"context"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/nerrad567/colourlab-core/internal/experiment"
)

// Surrogate model settings. Coordinates are scaled to [0,1] per channel
// and losses are standardised before fitting, so these are unitless.
const (
	rbfLengthScale = 0.35
	noiseVariance  = 1e-4
	eiExploration  = 0.01

	// maxLatticeScan is the largest candidate set scored exhaustively.
	// Bigger cubes are sampled at this size.
	maxLatticeScan = 4096

	// DefaultInitialPoints is the number of random candidates evaluated
	// before the model is fitted.
	DefaultInitialPoints = 10
)

// Surrogate proposes candidates by fitting a Gaussian process to the
// losses seen so far and maximising expected improvement.
type Surrogate struct {
	bounds  experiment.Bounds
	rng     *rand.Rand
	initial []experiment.Candidate
}

// NewSurrogate builds a surrogate strategy. The first InitialPoints
// candidates (capped at the budget) are drawn up front from the seed so
// the sequence does not depend on how often Propose is called.
func NewSurrogate(p Params) (Proposer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	n := p.InitialPoints
	if n <= 0 {
		n = DefaultInitialPoints
	}
	n = min(n, p.Budget)

	s := &Surrogate{
		bounds: p.Bounds,
		rng:    rand.New(rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15)),
	}
	s.initial = make([]experiment.Candidate, n)
	for i := range s.initial {
		s.initial[i] = s.randomCandidate()
	}
	return s, nil
}

// Propose implements Proposer.
func (s *Surrogate) Propose(ctx context.Context, history []Observation) (experiment.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return experiment.Candidate{}, err
	}
	if len(history) < len(s.initial) {
		return s.initial[len(history)], nil
	}

	model, ok := fitGP(s.scaledInputs(history), standardise(history))
	if !ok {
		return s.randomCandidate(), nil
	}

	seen := make(map[experiment.Candidate]bool, len(history))
	for _, h := range history {
		seen[h.Candidate] = true
	}

	pool := s.candidatePool()
	unseen := pool[:0:0]
	for _, c := range pool {
		if !seen[c] {
			unseen = append(unseen, c)
		}
	}
	if len(unseen) > 0 {
		pool = unseen
	}

	best := pool[0]
	bestEI := math.Inf(-1)
	for _, c := range pool {
		ei := model.expectedImprovement(s.scale(c))
		if ei > bestEI {
			best, bestEI = c, ei
		}
	}
	return best, nil
}

// randomCandidate draws uniformly from the cube, redrawing the all-zero
// point. Validated bounds always contain a non-zero candidate.
func (s *Surrogate) randomCandidate() experiment.Candidate {
	for {
		var c experiment.Candidate
		for i := range c {
			c[i] = s.bounds.Min + s.rng.IntN(s.bounds.Width())
		}
		if c.Sum() > 0 {
			return c
		}
	}
}

// candidatePool is every dispensable lattice point in index order, or a
// seeded sample when the cube is too large to scan.
func (s *Surrogate) candidatePool() []experiment.Candidate {
	w := s.bounds.Width()
	total := w * w * w
	if total > maxLatticeScan {
		pool := make([]experiment.Candidate, maxLatticeScan)
		for i := range pool {
			pool[i] = s.randomCandidate()
		}
		return pool
	}

	pool := make([]experiment.Candidate, 0, total)
	for a := s.bounds.Min; a <= s.bounds.Max; a++ {
		for b := s.bounds.Min; b <= s.bounds.Max; b++ {
			for c := s.bounds.Min; c <= s.bounds.Max; c++ {
				if a+b+c == 0 {
					continue
				}
				pool = append(pool, experiment.Candidate{a, b, c})
			}
		}
	}
	return pool
}

func (s *Surrogate) scale(c experiment.Candidate) [3]float64 {
	span := float64(s.bounds.Max - s.bounds.Min)
	var x [3]float64
	for i, v := range c {
		if span > 0 {
			x[i] = float64(v-s.bounds.Min) / span
		}
	}
	return x
}

func (s *Surrogate) scaledInputs(history []Observation) [][3]float64 {
	xs := make([][3]float64, len(history))
	for i, h := range history {
		xs[i] = s.scale(h.Candidate)
	}
	return xs
}

// standardise returns zero-mean, unit-variance losses.
func standardise(history []Observation) []float64 {
	n := float64(len(history))
	var mean float64
	for _, h := range history {
		mean += h.Loss
	}
	mean /= n

	var variance float64
	for _, h := range history {
		d := h.Loss - mean
		variance += d * d
	}
	std := math.Sqrt(variance / n)
	if std == 0 {
		std = 1
	}

	ys := make([]float64, len(history))
	for i, h := range history {
		ys[i] = (h.Loss - mean) / std
	}
	return ys
}

type gaussianProcess struct {
	xs    [][3]float64
	chol  mat.Cholesky
	alpha *mat.VecDense
	bestY float64
}

func rbf(a, b [3]float64) float64 {
	var d2 float64
	for i := range a {
		d := a[i] - b[i]
		d2 += d * d
	}
	return math.Exp(-d2 / (2 * rbfLengthScale * rbfLengthScale))
}

// fitGP factorises the kernel matrix, adding jitter until it is positive
// definite. It reports false if no factorisation succeeds.
func fitGP(xs [][3]float64, ys []float64) (*gaussianProcess, bool) {
	n := len(xs)
	gp := &gaussianProcess{xs: xs, bestY: math.Inf(1)}
	for _, y := range ys {
		gp.bestY = math.Min(gp.bestY, y)
	}

	jitter := noiseVariance
	for range 6 {
		k := mat.NewSymDense(n, nil)
		for i := range n {
			for j := i; j < n; j++ {
				v := rbf(xs[i], xs[j])
				if i == j {
					v += jitter
				}
				k.SetSym(i, j, v)
			}
		}
		if gp.chol.Factorize(k) {
			gp.alpha = mat.NewVecDense(n, nil)
			if err := gp.chol.SolveVecTo(gp.alpha, mat.NewVecDense(n, ys)); err == nil {
				return gp, true
			}
		}
		jitter *= 10
	}
	return nil, false
}

func (gp *gaussianProcess) predict(x [3]float64) (mu, sigma float64) {
	n := len(gp.xs)
	kstar := mat.NewVecDense(n, nil)
	for i, xi := range gp.xs {
		kstar.SetVec(i, rbf(x, xi))
	}
	mu = mat.Dot(kstar, gp.alpha)

	w := mat.NewVecDense(n, nil)
	if err := gp.chol.SolveVecTo(w, kstar); err != nil {
		return mu, 0
	}
	variance := 1 - mat.Dot(kstar, w)
	if variance < 1e-12 {
		variance = 1e-12
	}
	return mu, math.Sqrt(variance)
}

// expectedImprovement over the best standardised loss, for minimisation.
func (gp *gaussianProcess) expectedImprovement(x [3]float64) float64 {
	mu, sigma := gp.predict(x)
	improvement := gp.bestY - mu - eiExploration
	z := improvement / sigma
	return improvement*distuv.UnitNormal.CDF(z) + sigma*distuv.UnitNormal.Prob(z)
}
