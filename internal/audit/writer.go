package audit

import (
	"context"
	"sync"
)

// writerBufferSize bounds the queue of unwritten entries.
const writerBufferSize = 256

// Logger is the logging surface the Writer needs.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Writer queues entries and writes them serially from Run.
// A nil *Writer discards every entry.
type Writer struct {
	repo   Repository
	logger Logger
	ch     chan *Entry

	mu      sync.Mutex
	dropped uint64
}

// NewWriter creates a Writer for repo.
func NewWriter(repo Repository, logger Logger) *Writer {
	return &Writer{
		repo:   repo,
		logger: logger,
		ch:     make(chan *Entry, writerBufferSize),
	}
}

// Repository returns the underlying store, for queries.
func (w *Writer) Repository() Repository {
	if w == nil {
		return nil
	}
	return w.repo
}

// Record queues e without blocking.
func (w *Writer) Record(e Entry) {
	if w == nil {
		return
	}
	select {
	case w.ch <- &e:
	default:
		w.mu.Lock()
		w.dropped++
		n := w.dropped
		w.mu.Unlock()
		w.logger.Warn("audit buffer full, dropping entry",
			"action", e.Action,
			"experiment_id", e.ExperimentID,
			"dropped", n,
		)
	}
}

// Dropped returns the number of entries lost to a full buffer.
func (w *Writer) Dropped() uint64 {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

// Run writes queued entries until ctx is cancelled, then writes whatever
// is still queued and returns.
func (w *Writer) Run(ctx context.Context) {
	for {
		select {
		case e := <-w.ch:
			w.write(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-w.ch:
					w.write(e)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) write(e *Entry) {
	// The caller's context may already be gone; the entry is still written.
	if err := w.repo.Create(context.Background(), e); err != nil {
		w.logger.Error("audit write failed",
			"action", e.Action,
			"experiment_id", e.ExperimentID,
			"error", err,
		)
	}
}

// Canceller is the scheduler surface remote cancel commands use.
type Canceller interface {
	Cancel(id string) (bool, error)
	CancelCurrent() (string, bool)
}

// AuditedCanceller records every cancel made through it.
type AuditedCanceller struct {
	Canceller
	Writer *Writer
	Source string
}

// Cancel implements Canceller.
func (c AuditedCanceller) Cancel(id string) (bool, error) {
	ok, err := c.Canceller.Cancel(id)
	details := map[string]any{"cancelled": ok}
	if err != nil {
		details["error"] = err.Error()
	}
	c.Writer.Record(Entry{Action: ActionCancel, ExperimentID: id, Source: c.Source, Details: details})
	return ok, err
}

// CancelCurrent implements Canceller.
func (c AuditedCanceller) CancelCurrent() (string, bool) {
	id, ok := c.Canceller.CancelCurrent()
	c.Writer.Record(Entry{Action: ActionCancel, ExperimentID: id, Source: c.Source, Details: map[string]any{"cancelled": ok}})
	return id, ok
}
