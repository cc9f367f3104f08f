// Package experiment holds the data model for colour-matching experiments.
//
// An Experiment is one bounded search for the dye mixture that reproduces a
// target colour. Each iteration places drops into a fresh well of the plate,
// reads the resulting colour back and scores it against the target. Every
// placement, reading and scoring step is appended to the experiment's
// ActionLog.
//
// # Key Types
//
//   - Experiment: lifecycle record (status, timestamps, progress, result)
//   - ActionLog: append-only ordered record of place/read/step actions
//   - RGB, Candidate, Bounds, Well: value types shared with the lab and
//     strategy packages
//
// # Lifecycle
//
//	pending ──start──▶ running ──budget spent──▶ completed
//	                      │
//	                      ├──cancel observed──▶ cancelled
//	                      └──lab/strategy fault──▶ failed
//
// Terminal states are never left, and EndedAt is stamped exactly once.
//
// # Thread Safety
//
// Experiment and ActionLog are safe for concurrent use. ActionLog readers
// never block the single appending goroutine.
package experiment
