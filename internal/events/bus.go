package events

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the number of events the bus holds before it
// starts dropping.
const DefaultBufferSize = 1024

// Sink receives every event published on a Bus, one at a time, on the
// dispatcher goroutine. A slow sink delays the others but never the
// publisher.
type Sink interface {
	Name() string
	Handle(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc struct {
	SinkName string
	Fn       func(ctx context.Context, e Event) error
}

// Name implements Sink.
func (f SinkFunc) Name() string { return f.SinkName }

// Handle implements Sink.
func (f SinkFunc) Handle(ctx context.Context, e Event) error { return f.Fn(ctx, e) }

// Logger is the logging surface the bus needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Stats counts bus traffic.
type Stats struct {
	Published uint64 `json:"published"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	SinkErrs  uint64 `json:"sink_errors"`
	Sinks     int    `json:"sinks"`
	Queued    int    `json:"queued"`
}

// Bus fans events out to sinks from a single dispatcher goroutine.
//
// Publish never blocks: when the buffer is full the event is dropped and
// counted. Events from one publisher reach each sink in publish order.
type Bus struct {
	queue  chan Event
	logger Logger

	mu    sync.RWMutex
	sinks []Sink

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	sinkErrs  atomic.Uint64

	running atomic.Bool
	done    chan struct{}
}

// NewBus creates a bus with the given buffer size. A size below one uses
// DefaultBufferSize. logger may be nil.
func NewBus(size int, logger Logger) *Bus {
	if size < 1 {
		size = DefaultBufferSize
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Bus{
		queue:  make(chan Event, size),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Subscribe adds a sink. Sinks added while the bus is running receive
// events dispatched after the call.
func (b *Bus) Subscribe(s Sink) {
	b.mu.Lock()
	b.sinks = append(b.sinks, s)
	b.mu.Unlock()
	b.logger.Debug("event sink subscribed", "sink", s.Name())
}

// Publish queues e for delivery. It is safe to call from any goroutine,
// before Run starts and after it returns.
func (b *Bus) Publish(e Event) {
	b.published.Add(1)
	select {
	case b.queue <- e:
	default:
		if n := b.dropped.Add(1); n == 1 || n%100 == 0 {
			b.logger.Warn("event bus full, dropping events", "type", e.Type, "experiment_id", e.ExperimentID, "dropped", n)
		}
	}
}

// Run dispatches events until ctx is done, then delivers whatever is
// already queued and returns. Run must be called at most once.
func (b *Bus) Run(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return nil
	}
	defer close(b.done)

	for {
		select {
		case e := <-b.queue:
			b.dispatch(ctx, e)
		case <-ctx.Done():
			b.drain()
			return nil
		}
	}
}

// Done is closed when Run has returned.
func (b *Bus) Done() <-chan struct{} {
	return b.done
}

// drain delivers queued events with a fresh context so sinks can still
// complete their writes during shutdown.
func (b *Bus) drain() {
	ctx := context.Background()
	for {
		select {
		case e := <-b.queue:
			b.dispatch(ctx, e)
		default:
			return
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, e Event) {
	b.mu.RLock()
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()

	for _, s := range sinks {
		b.deliver(ctx, s, e)
	}
	b.delivered.Add(1)
}

// deliver calls one sink, recovering panics so one sink cannot stop the
// others.
func (b *Bus) deliver(ctx context.Context, s Sink, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.sinkErrs.Add(1)
			b.logger.Error("event sink panicked",
				"sink", s.Name(), "type", e.Type, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	if err := s.Handle(ctx, e); err != nil {
		b.sinkErrs.Add(1)
		b.logger.Warn("event sink failed",
			"sink", s.Name(), "type", e.Type, "experiment_id", e.ExperimentID, "error", err)
	}
}

// Stats returns traffic counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	n := len(b.sinks)
	b.mu.RUnlock()
	return Stats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Dropped:   b.dropped.Load(),
		SinkErrs:  b.sinkErrs.Load(),
		Sinks:     n,
		Queued:    len(b.queue),
	}
}
