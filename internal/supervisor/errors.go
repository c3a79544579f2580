package supervisor

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrOrdering is returned by OnOccupancy/OnVacancy when the supervisor is
	// already in the requested state. Nothing is changed.
	ErrOrdering = errors.New("supervisor: transition ordering error")

	// ErrSpawnFailed wraps a failure to start a command. The command is
	// retried by Tick after a backoff.
	ErrSpawnFailed = errors.New("supervisor: spawn failed")

	// ErrAlreadyRunning is returned by Launch for a command whose previous
	// instance is still tracked.
	ErrAlreadyRunning = errors.New("supervisor: command already running")

	// ErrUntrackedExit is logged when an exit event matches no command.
	ErrUntrackedExit = errors.New("supervisor: exit of untracked process")

	// ErrEmptyCommand is returned by New for a command with no argv.
	ErrEmptyCommand = errors.New("supervisor: command has no argv")

	// ErrClosed is returned by operations on a closed supervisor.
	ErrClosed = errors.New("supervisor: closed")
)

// CrashLoopError is returned by Tick when a command has been relaunched
// after crashing more times than the configured threshold. The daemon treats
// it as fatal.
type CrashLoopError struct {
	Set          string
	Index        int
	Command      string
	RestartCount int
	Threshold    int
}

func (e *CrashLoopError) Error() string {
	return fmt.Sprintf("command %q (%s[%d]) restarted %d times, more than the limit of %d",
		e.Command, e.Set, e.Index, e.RestartCount, e.Threshold)
}

// StopError is returned by Stop when neither SIGINT nor SIGKILL could be
// delivered. The command is left abandoned: still tracked, never relaunched,
// until its exit is observed.
type StopError struct {
	Command string
	PID     int
	Err     error
}

func (e *StopError) Error() string {
	return fmt.Sprintf("unable to stop %q (pid %d), abandoning it: %v", e.Command, e.PID, e.Err)
}

func (e *StopError) Unwrap() error {
	return e.Err
}
