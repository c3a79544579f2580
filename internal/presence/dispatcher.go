package presence

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/pipresencemon/internal/supervisor"
)

// DefaultQueueSize is the dispatcher buffer when none is given.
const DefaultQueueSize = 256

// Sink consumes daemon events. Sinks run on the dispatcher goroutine, one
// event at a time, so they need no locking of their own but must not block
// for long: a slow sink delays every other sink.
type Sink interface {
	Name() string
	OccupancyChanged(ctx context.Context, t Transition) error
	CommandEvent(ctx context.Context, ev supervisor.Event) error
	Sampled(ctx context.Context, s Sample) error
}

type messageKind int

const (
	msgTransition messageKind = iota
	msgCommand
	msgSample
)

type message struct {
	kind       messageKind
	transition Transition
	event      supervisor.Event
	sample     Sample
}

// Dispatcher fans events out to sinks on its own goroutine.
//
// The enqueue methods never block: the orchestrator and supervisor call
// them inline, and a stalled broker or disk must not delay process
// supervision. When the buffer is full the event is dropped and counted.
type Dispatcher struct {
	sinks  []Sink
	logger Logger
	queue  chan message

	dropped atomic.Uint64

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewDispatcher creates a dispatcher. size <= 0 selects DefaultQueueSize.
func NewDispatcher(logger Logger, size int, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Dispatcher{
		sinks:  sinks,
		logger: logger,
		queue:  make(chan message, size),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the delivery goroutine. ctx is passed to every sink call.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		go d.run(ctx)
	})
}

// Stop delivers what is already queued and waits for the goroutine to
// exit. Events enqueued after Stop are dropped. Safe to call more than
// once; after Stop, Start does nothing.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
	// A dispatcher that never started has no goroutine to wait for.
	d.startOnce.Do(func() { close(d.done) })
	<-d.done
}

// Dropped returns the number of events discarded because the queue was full
// or the dispatcher was stopped.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// OccupancyChanged queues a transition.
func (d *Dispatcher) OccupancyChanged(t Transition) {
	d.enqueue(message{kind: msgTransition, transition: t})
}

// CommandEvent queues a supervisor event. Its signature matches
// supervisor.Deps.OnEvent.
func (d *Dispatcher) CommandEvent(ev supervisor.Event) {
	d.enqueue(message{kind: msgCommand, event: ev})
}

// Sampled queues a sample.
func (d *Dispatcher) Sampled(s Sample) {
	d.enqueue(message{kind: msgSample, sample: s})
}

func (d *Dispatcher) enqueue(m message) {
	select {
	case <-d.stop:
		d.dropped.Add(1)
		return
	default:
	}

	select {
	case d.queue <- m:
	default:
		n := d.dropped.Add(1)
		// Samples arrive every interval; only the first drop and every
		// hundredth after that are worth a warning.
		if m.kind != msgSample || n%100 == 1 {
			d.logger.Warn("event queue full, dropping event", "kind", m.kindName(), "dropped_total", n)
		}
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			d.drain(ctx)
			return
		case m := <-d.queue:
			d.deliver(ctx, m)
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case m := <-d.queue:
			d.deliver(ctx, m)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, m message) {
	for _, s := range d.sinks {
		var err error
		switch m.kind {
		case msgTransition:
			err = s.OccupancyChanged(ctx, m.transition)
		case msgCommand:
			err = s.CommandEvent(ctx, m.event)
		case msgSample:
			err = s.Sampled(ctx, m.sample)
		}
		if err != nil {
			level := d.logger.Warn
			if m.kind == msgSample {
				level = d.logger.Debug
			}
			level("sink failed", "sink", s.Name(), "kind", m.kindName(), "error", err)
		}
	}
}

func (m message) kindName() string {
	switch m.kind {
	case msgTransition:
		return "occupancy"
	case msgCommand:
		return "command"
	default:
		return "sample"
	}
}
