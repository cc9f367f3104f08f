package experiment

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Experiment is one search for the mixture that reproduces a target colour.
//
// Identity fields are immutable after New. Lifecycle fields are guarded by
// mu; the cancellation flag is atomic so the running loop can poll it
// without contending with status readers.
type Experiment struct {
	id       string
	target   RGB
	budget   int
	strategy string

	mu        sync.RWMutex
	status    Status
	startedAt *time.Time
	endedAt   *time.Time
	result    *Result
	failure   string
	completed int
	abandoned bool

	cancelRequested atomic.Bool
}

// New creates a pending experiment. Callers validate the inputs first.
func New(id string, target RGB, budget int, strategy string) *Experiment {
	return &Experiment{
		id:       id,
		target:   target,
		budget:   budget,
		strategy: strategy,
		status:   StatusPending,
	}
}

// ID returns the experiment ID.
func (e *Experiment) ID() string { return e.id }

// Target returns the target colour.
func (e *Experiment) Target() RGB { return e.target }

// Budget returns the iteration budget.
func (e *Experiment) Budget() int { return e.budget }

// Status returns the current status.
func (e *Experiment) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// Start moves a pending experiment to running and stamps StartedAt.
func (e *Experiment) Start(now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.status, StatusRunning)
	}
	e.status = StatusRunning
	e.startedAt = &now
	return nil
}

// Complete records a successful run.
func (e *Experiment) Complete(now time.Time, result Result) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.finishLocked(StatusCompleted, now); err != nil {
		return err
	}
	e.result = &result
	return nil
}

// Fail records a run aborted by a lab or strategy fault.
func (e *Experiment) Fail(now time.Time, cause error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.finishLocked(StatusFailed, now); err != nil {
		return err
	}
	if cause != nil {
		e.failure = cause.Error()
	}
	return nil
}

// Cancel records a run stopped by cancellation.
func (e *Experiment) Cancel(now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finishLocked(StatusCancelled, now)
}

// Abandon cancels a run whose background loop did not stop within the
// grace period. The loop may still be alive; its later transitions are
// rejected because the experiment is already terminal.
func (e *Experiment) Abandon(now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.finishLocked(StatusCancelled, now); err != nil {
		return err
	}
	e.abandoned = true
	return nil
}

func (e *Experiment) finishLocked(to Status, now time.Time) error {
	if e.status != StatusRunning {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.status, to)
	}
	e.status = to
	e.endedAt = &now
	return nil
}

// RequestCancel raises the cancellation flag if the experiment is running.
// It reports whether a running experiment was found.
func (e *Experiment) RequestCancel() bool {
	e.mu.RLock()
	running := e.status == StatusRunning
	e.mu.RUnlock()
	if running {
		e.cancelRequested.Store(true)
	}
	return running
}

// CancelRequested reports whether cancellation has been requested.
func (e *Experiment) CancelRequested() bool {
	return e.cancelRequested.Load()
}

// RecordIteration notes that n iterations have finished. Progress never
// moves backwards and is ignored once the experiment is terminal.
func (e *Experiment) RecordIteration(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusRunning || n <= e.completed {
		return
	}
	if n > e.budget {
		n = e.budget
	}
	e.completed = n
}

// Snapshot is a consistent point-in-time copy of an experiment.
type Snapshot struct {
	ID                  string     `json:"experiment_id"`
	Status              Status     `json:"status"`
	Target              RGB        `json:"target"`
	Budget              int        `json:"n_calls"`
	Strategy            string     `json:"strategy"`
	StartedAt           *time.Time `json:"started_at"`
	EndedAt             *time.Time `json:"ended_at"`
	Progress            float64    `json:"progress"`
	IterationsCompleted int        `json:"iterations_completed"`
	Result              *Result    `json:"result"`
	Error               string     `json:"error,omitempty"`
	CancelRequested     bool       `json:"cancel_requested"`
	Abandoned           bool       `json:"abandoned,omitempty"`
}

// Snapshot returns a copy of the experiment's current state.
func (e *Experiment) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := Snapshot{
		ID:                  e.id,
		Status:              e.status,
		Target:              e.target,
		Budget:              e.budget,
		Strategy:            e.strategy,
		IterationsCompleted: e.completed,
		Error:               e.failure,
		CancelRequested:     e.cancelRequested.Load(),
		Abandoned:           e.abandoned,
	}
	if e.budget > 0 {
		s.Progress = float64(e.completed) / float64(e.budget)
	}
	if e.startedAt != nil {
		t := *e.startedAt
		s.StartedAt = &t
	}
	if e.endedAt != nil {
		t := *e.endedAt
		s.EndedAt = &t
	}
	if e.result != nil {
		r := *e.result
		s.Result = &r
	}
	return s
}
