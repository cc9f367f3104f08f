// Package strategy proposes the next drop-count candidate for an experiment.
//
// A Proposer sees the full history of (candidate, observed colour, loss)
// triples and returns the next candidate to evaluate. The evaluate/log
// loop itself lives in the scheduler, so every strategy shares it.
//
// Two strategies are provided:
//
//   - Surrogate: Gaussian-process regression over the integer candidate
//     cube with expected-improvement acquisition. Deterministic for a
//     fixed seed.
//   - Advisory: asks a generative text model for the next guess and
//     rejects any answer that is not three in-bounds integers.
package strategy
