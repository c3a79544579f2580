package reaper

import (
	"sync"
	"syscall"
)

// Fake is an in-memory Source for tests. Any number may coexist.
type Fake struct {
	events chan ExitEvent

	mu     sync.Mutex
	closed bool
}

// NewFake creates a Fake with room for eventBuffer pending events.
func NewFake() *Fake {
	return &Fake{events: make(chan ExitEvent, eventBuffer)}
}

// Events returns the event channel.
func (f *Fake) Events() <-chan ExitEvent {
	return f.events
}

// Exit queues a normal exit with the given status.
func (f *Fake) Exit(pid, code int) {
	f.Emit(ExitEvent{PID: pid, ExitCode: code})
}

// Kill queues a death by signal.
func (f *Fake) Kill(pid int, sig syscall.Signal) {
	f.Emit(ExitEvent{PID: pid, ExitCode: -1, Signal: sig})
}

// Emit queues ev. It blocks if the buffer is full.
func (f *Fake) Emit(ev ExitEvent) {
	f.events <- ev
}

// Close marks the fake closed. Events stay readable.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
