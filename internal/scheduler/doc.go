// Package scheduler runs colour-matching experiments one at a time.
//
// The Scheduler owns a registry of every experiment started during the
// process lifetime and a single "current" run. Starting a new experiment
// supersedes the current one: it is asked to stop, given a grace period to
// finish its in-flight well, and abandoned if it does not stop in time.
//
// Architecture:
//
//	┌───────────────────────────────────────────────────────┐
//	│               Scheduler (scheduler.go)                │
//	│  registry: id → run{Experiment, ActionLog, done}      │
//	│  current:  at most one running run                    │
//	│        │                                              │
//	│        ▼ one goroutine per run                        │
//	│  ┌──────────────────────────────────────────────┐     │
//	│  │  Evaluate loop (loop.go)                     │     │
//	│  │  1. check cancellation                       │     │
//	│  │  2. Proposer.Propose(history)                │     │
//	│  │  3. log place → Lab.ApplyDrops               │     │
//	│  │  4. Lab.ReadColor → log read                 │     │
//	│  │  5. loss → log step → update best/progress   │     │
//	│  └──────────────────────────────────────────────┘     │
//	└───────────────────────────────────────────────────────┘
//
// Cancellation is cooperative. Lab calls run on a context that is detached
// from cancellation so that a dispensed well is always read back; the
// cancel flag is observed between iterations.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use.
package scheduler
