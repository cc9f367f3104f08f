package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/colourlab-core/internal/events"
	"github.com/nerrad567/colourlab-core/internal/experiment"
	"github.com/nerrad567/colourlab-core/internal/lab"
	"github.com/nerrad567/colourlab-core/internal/strategy"
)

// Logger defines the logging interface used by the Scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EventPublisher receives experiment events. Publish must not block.
type EventPublisher interface {
	Publish(ev events.Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(events.Event) {}

// Default option values.
const (
	DefaultGracePeriod = 5 * time.Second
	DefaultLabTimeout  = lab.DefaultTimeout
)

// Options tune experiment execution.
type Options struct {
	// Bounds is the per-channel candidate range handed to strategies and
	// enforced on every proposal.
	Bounds experiment.Bounds

	// Seed and InitialPoints are passed to strategies.
	Seed          uint64
	InitialPoints int

	// GracePeriod bounds how long Start waits for a superseded run.
	GracePeriod time.Duration

	// IterationDelay pauses between iterations.
	IterationDelay time.Duration

	// LabTimeout bounds each Lab call.
	LabTimeout time.Duration

	// ClearPlateOnStart clears the plate before the first iteration when
	// the Lab supports it.
	ClearPlateOnStart bool
}

func (o Options) withDefaults() Options {
	if o.Bounds == (experiment.Bounds{}) {
		o.Bounds = experiment.DefaultBounds()
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = DefaultGracePeriod
	}
	if o.LabTimeout <= 0 {
		o.LabTimeout = DefaultLabTimeout
	}
	return o
}

// Request describes an experiment to start.
type Request struct {
	ID       string
	Target   experiment.RGB
	Budget   int
	Strategy strategy.Kind
}

// run is one experiment and the goroutine executing it.
type run struct {
	exp    *experiment.Experiment
	log    *experiment.ActionLog
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler owns experiment lifecycle and enforces that at most one
// experiment runs at a time.
type Scheduler struct {
	lab        lab.Lab
	strategies *strategy.Registry
	opts       Options
	events     EventPublisher
	logger     Logger
	now        func() time.Time

	// startMu serialises Start so that supersession and creation of the
	// next run happen as one step.
	startMu sync.Mutex

	mu      sync.RWMutex
	runs    map[string]*run
	current *run
	closed  bool
}

// New creates a Scheduler.
//
// Parameters:
//   - l: Lab the experiments drive
//   - strategies: registry of strategy factories
//   - opts: execution options (zero values select defaults)
//   - publisher: event sink (may be nil)
//   - logger: Logger instance (may be nil)
func New(l lab.Lab, strategies *strategy.Registry, opts Options, publisher EventPublisher, logger Logger) *Scheduler {
	if logger == nil {
		logger = noopLogger{}
	}
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &Scheduler{
		lab:        l,
		strategies: strategies,
		opts:       opts.withDefaults(),
		events:     publisher,
		logger:     logger,
		now:        time.Now,
		runs:       make(map[string]*run),
	}
}

// Bounds returns the candidate bounds in force.
func (s *Scheduler) Bounds() experiment.Bounds {
	return s.opts.Bounds
}

// Start validates req, supersedes any running experiment and launches the
// new one in the background. It returns once the new experiment is
// running; it does not wait for completion.
//
// Invalid input is rejected before any experiment or log is created.
func (s *Scheduler) Start(req Request) (experiment.Snapshot, error) {
	if err := experiment.ValidateID(req.ID); err != nil {
		return experiment.Snapshot{}, err
	}
	factory, err := s.strategies.Factory(req.Strategy)
	if err != nil {
		return experiment.Snapshot{}, err
	}
	proposer, err := factory(strategy.Params{
		Target:        req.Target,
		Budget:        req.Budget,
		Bounds:        s.opts.Bounds,
		Seed:          s.opts.Seed,
		InitialPoints: s.opts.InitialPoints,
	})
	if err != nil {
		return experiment.Snapshot{}, err
	}

	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.RLock()
	closed := s.closed
	_, exists := s.runs[req.ID]
	prev := s.current
	s.mu.RUnlock()

	if closed {
		return experiment.Snapshot{}, ErrClosed
	}
	if exists {
		return experiment.Snapshot{}, fmt.Errorf("%w: %s", ErrExperimentExists, req.ID)
	}

	if prev != nil {
		s.supersede(prev, req.ID)
	}

	exp := experiment.New(req.ID, req.Target, req.Budget, string(req.Strategy))
	if err := exp.Start(s.now().UTC()); err != nil {
		return experiment.Snapshot{}, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		exp:    exp,
		log:    experiment.NewActionLog(req.ID),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	// Close may have run while supersession was waiting.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return experiment.Snapshot{}, ErrClosed
	}
	s.runs[req.ID] = r
	s.current = r
	s.mu.Unlock()

	snap := exp.Snapshot()
	s.logger.Info("experiment started",
		"experiment_id", req.ID,
		"strategy", req.Strategy,
		"target", exp.Target().Hex(),
		"n_calls", req.Budget,
	)
	s.events.Publish(events.New(events.TypeExperimentStarted, req.ID, snap))

	go s.execute(ctx, r, proposer)
	return snap, nil
}

// supersede stops prev before a new experiment starts. It waits up to the
// grace period for the run to finish its current well, then abandons it.
// Called with startMu held.
func (s *Scheduler) supersede(prev *run, nextID string) {
	if prev.exp.Status().IsTerminal() {
		return
	}

	id := prev.exp.ID()
	prev.exp.RequestCancel()
	prev.cancel()
	s.logger.Info("superseding running experiment", "experiment_id", id, "next_experiment_id", nextID)

	timer := time.NewTimer(s.opts.GracePeriod)
	defer timer.Stop()

	select {
	case <-prev.done:
		return
	case <-timer.C:
	}

	// The run did not stop in time. Mark it cancelled now and tag anything
	// it logs from here on as late.
	prev.log.Seal()
	if err := prev.exp.Abandon(s.now().UTC()); err != nil {
		// It reached a terminal state between the timeout and now.
		return
	}
	s.logger.Warn("abandoned experiment after grace period",
		"experiment_id", id,
		"grace_period", s.opts.GracePeriod,
		"iteration", prev.exp.Snapshot().IterationsCompleted,
	)
	s.events.Publish(events.New(events.TypeExperimentFinished, id, prev.exp.Snapshot()))
}

// Cancel requests cancellation of the named experiment. It reports whether
// the experiment was running. The run stops at its next iteration boundary.
func (s *Scheduler) Cancel(id string) (bool, error) {
	s.mu.RLock()
	r, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrExperimentNotFound, id)
	}
	return s.cancelRun(r), nil
}

// CancelCurrent requests cancellation of the current experiment. It returns
// the experiment ID and whether it was running.
func (s *Scheduler) CancelCurrent() (string, bool) {
	s.mu.RLock()
	r := s.current
	s.mu.RUnlock()
	if r == nil {
		return "", false
	}
	return r.exp.ID(), s.cancelRun(r)
}

func (s *Scheduler) cancelRun(r *run) bool {
	if !r.exp.RequestCancel() {
		return false
	}
	r.cancel()
	s.logger.Info("experiment cancellation requested", "experiment_id", r.exp.ID())
	return true
}

// Status returns a snapshot of the named experiment.
func (s *Scheduler) Status(id string) (experiment.Snapshot, error) {
	r, err := s.lookup(id)
	if err != nil {
		return experiment.Snapshot{}, err
	}
	return r.exp.Snapshot(), nil
}

// ActionLog returns the ordered action records of the named experiment.
// A known experiment with no actions yields an empty, non-nil slice.
func (s *Scheduler) ActionLog(id string) ([]experiment.ActionRecord, error) {
	r, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return r.log.Snapshot(), nil
}

// Current returns the most recently started experiment, running or not.
func (s *Scheduler) Current() (experiment.Snapshot, bool) {
	s.mu.RLock()
	r := s.current
	s.mu.RUnlock()
	if r == nil {
		return experiment.Snapshot{}, false
	}
	return r.exp.Snapshot(), true
}

// List returns every experiment ever started, oldest first.
func (s *Scheduler) List() []experiment.Snapshot {
	s.mu.RLock()
	out := make([]experiment.Snapshot, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r.exp.Snapshot())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].StartedAt, out[j].StartedAt
		if a == nil || b == nil || a.Equal(*b) {
			return out[i].ID < out[j].ID
		}
		return a.Before(*b)
	})
	return out
}

// Wait blocks until the background run of the named experiment has exited
// or ctx is done.
func (s *Scheduler) Wait(ctx context.Context, id string) error {
	r, err := s.lookup(id)
	if err != nil {
		return err
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats counts experiments by status.
type Stats struct {
	Total     int                       `json:"total"`
	ByStatus  map[experiment.Status]int `json:"by_status"`
	Abandoned int                       `json:"abandoned"`
	CurrentID string                    `json:"current_id,omitempty"`
}

// Stats returns registry counters.
func (s *Scheduler) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Total: len(s.runs), ByStatus: make(map[experiment.Status]int)}
	for _, r := range s.runs {
		snap := r.exp.Snapshot()
		st.ByStatus[snap.Status]++
		if snap.Abandoned {
			st.Abandoned++
		}
	}
	if s.current != nil {
		st.CurrentID = s.current.exp.ID()
	}
	return st
}

// Close rejects further starts, cancels the current experiment and waits
// for it to exit, bounded by ctx.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	r := s.current
	s.mu.Unlock()

	if r == nil {
		return nil
	}
	s.cancelRun(r)
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for experiment %s: %w", r.exp.ID(), ctx.Err())
	}
}

func (s *Scheduler) lookup(id string) (*run, error) {
	s.mu.RLock()
	r, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExperimentNotFound, id)
	}
	return r, nil
}

// execute runs one experiment to a terminal state.
func (s *Scheduler) execute(ctx context.Context, r *run, p strategy.Proposer) {
	defer close(r.done)
	defer r.cancel()
	defer func() {
		if rec := recover(); rec != nil {
			s.finish(r, outcome{status: experiment.StatusFailed, err: fmt.Errorf("%w: %v", ErrStrategyPanic, rec)})
		}
	}()

	s.finish(r, s.loop(ctx, r, p))
}

// finish applies the loop outcome. A transition is rejected if the run was
// abandoned meanwhile; the experiment then stays cancelled.
func (s *Scheduler) finish(r *run, out outcome) {
	now := s.now().UTC()
	exp := r.exp

	var err error
	switch out.status {
	case experiment.StatusCompleted:
		err = exp.Complete(now, out.result)
	case experiment.StatusCancelled:
		err = exp.Cancel(now)
	default:
		err = exp.Fail(now, out.err)
	}
	if errors.Is(err, experiment.ErrInvalidTransition) {
		s.logger.Debug("late outcome ignored",
			"experiment_id", exp.ID(),
			"outcome", out.status,
			"status", exp.Status(),
		)
		return
	}

	snap := exp.Snapshot()
	args := []any{
		"experiment_id", exp.ID(),
		"status", snap.Status,
		"iteration", out.iteration,
	}
	switch snap.Status {
	case experiment.StatusCompleted:
		s.logger.Info("experiment completed", append(args,
			"optimal_params", [3]int(out.result.OptimalParams),
			"best_loss", out.result.BestLoss)...)
	case experiment.StatusFailed:
		s.logger.Error("experiment failed", append(args, "error", out.err)...)
	default:
		s.logger.Info("experiment cancelled", args...)
	}
	s.events.Publish(events.New(events.TypeExperimentFinished, exp.ID(), snap))
}
