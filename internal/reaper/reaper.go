package reaper

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"
)

// eventBuffer bounds how many exits can queue up between orchestrator ticks.
const eventBuffer = 64

// ErrAlreadyInstalled is returned by Install while another SignalSource is live.
var ErrAlreadyInstalled = errors.New("reaper: child exit handler already installed")

// ExitEvent reports that a child process terminated.
type ExitEvent struct {
	PID int

	// ExitCode is the status passed to exit(2), or -1 if the child was killed by a signal.
	ExitCode int

	// Signal is the terminating signal, or 0 for a normal exit.
	Signal syscall.Signal
}

// Success reports a normal exit with status zero.
func (e ExitEvent) Success() bool {
	return e.Signal == 0 && e.ExitCode == 0
}

// String formats the event for logs.
func (e ExitEvent) String() string {
	if e.Signal != 0 {
		return fmt.Sprintf("pid %d killed by %s", e.PID, e.Signal)
	}
	return fmt.Sprintf("pid %d exited with status %d", e.PID, e.ExitCode)
}

// Source delivers child exit events.
type Source interface {
	Events() <-chan ExitEvent
	Close() error
}

// Logger defines the logging interface for the reaper.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// installed guards the process-wide SIGCHLD registration.
var installed atomic.Bool

// SignalSource reaps real children on SIGCHLD.
//
// It is the only code in the process that calls wait4, so no other package
// may call exec.Cmd.Wait on children while it is installed.
type SignalSource struct {
	logger  Logger
	sigs    chan os.Signal
	events  chan ExitEvent
	done    chan struct{}
	wg      sync.WaitGroup
	closing sync.Once
}

// Install registers the process-wide child exit handler.
//
// At most one SignalSource may be live at a time; a second Install before
// Close returns ErrAlreadyInstalled.
func Install(logger Logger) (*SignalSource, error) {
	if !installed.CompareAndSwap(false, true) {
		return nil, ErrAlreadyInstalled
	}
	if logger == nil {
		logger = noopLogger{}
	}

	s := &SignalSource{
		logger: logger,
		sigs:   make(chan os.Signal, 1),
		events: make(chan ExitEvent, eventBuffer),
		done:   make(chan struct{}),
	}
	signal.Notify(s.sigs, syscall.SIGCHLD)

	s.wg.Add(1)
	go s.loop()

	return s, nil
}

// Events returns the exit event channel. It is never closed.
func (s *SignalSource) Events() <-chan ExitEvent {
	return s.events
}

// Close stops SIGCHLD delivery and releases the registration.
func (s *SignalSource) Close() error {
	s.closing.Do(func() {
		signal.Stop(s.sigs)
		close(s.done)
		s.wg.Wait()
		installed.Store(false)
	})
	return nil
}

func (s *SignalSource) loop() {
	defer s.wg.Done()

	// A child may have exited between fork and Notify.
	if !s.reapAll() {
		return
	}

	for {
		select {
		case <-s.done:
			return
		case <-s.sigs:
			if !s.reapAll() {
				return
			}
		}
	}
}

// reapAll collects every exited child. SIGCHLD coalesces, so one
// notification may stand for several exits. It returns false once Close
// has been called.
func (s *SignalSource) reapAll() bool {
	for {
		var status unix.WaitStatus
		pid, err := unix.Wait4(-1, &status, unix.WNOHANG, nil)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.ECHILD):
			return true
		case err != nil:
			s.logger.Warn("wait4 failed", "error", err)
			return true
		case pid <= 0:
			return true
		}

		ev := eventFromStatus(pid, status)
		s.logger.Debug("child reaped", "pid", pid, "status", ev.String())

		select {
		case s.events <- ev:
		case <-s.done:
			return false
		}
	}
}

func eventFromStatus(pid int, status unix.WaitStatus) ExitEvent {
	if status.Signaled() {
		return ExitEvent{PID: pid, ExitCode: -1, Signal: status.Signal()}
	}
	return ExitEvent{PID: pid, ExitCode: status.ExitStatus()}
}
