package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// Sentinel errors.
var (
	// ErrEmptyCommand is returned when argv has no program name.
	ErrEmptyCommand = errors.New("process: empty command")

	// ErrNoSuchProcess is returned when the process group no longer exists.
	ErrNoSuchProcess = errors.New("process: no such process")
)

// Spawner starts and signals child process groups.
//
// Spawn must not wait for the child; exit status is collected elsewhere
// (see package reaper).
type Spawner interface {
	Spawn(argv []string) (pid int, err error)
	Signal(pid int, sig syscall.Signal) error
}

// ExecSpawner starts commands with os/exec.
//
// Each child is made the leader of a new process group so that signals
// reach anything it forks, e.g. a shell wrapper and its player.
type ExecSpawner struct {
	// Env are additional environment variables (key=value format).
	// If nil, inherits from parent process.
	Env []string

	// WorkDir is the working directory for the process.
	// If empty, inherits from parent process.
	WorkDir string
}

// Spawn starts argv and returns its pid. The child shares the daemon's
// stdout and stderr.
func (s *ExecSpawner) Spawn(argv []string) (int, error) {
	if len(argv) == 0 || argv[0] == "" {
		return 0, ErrEmptyCommand
	}

	cmd := exec.Command(argv[0], argv[1:]...) //nolint:gosec // argv comes from the operator's config file

	// Create a new process group so we can signal all children on shutdown
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if s.Env != nil {
		cmd.Env = append(os.Environ(), s.Env...)
	}
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}

	cmd.Stdin = nil
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("starting %s: %w", argv[0], err)
	}

	pid := cmd.Process.Pid

	// The reaper owns wait4 for every child; drop our handle without waiting.
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("releasing %s (pid %d): %w", argv[0], pid, err)
	}

	return pid, nil
}

// Signal sends sig to the process group led by pid.
func (s *ExecSpawner) Signal(pid int, sig syscall.Signal) error {
	return SignalGroup(pid, sig)
}

// SignalGroup sends sig to the process group led by pid.
// Use negative PID to signal the process group (created via Setpgid).
func SignalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("%w: pid %d", ErrNoSuchProcess, pid)
	}
	if err := unix.Kill(-pid, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return fmt.Errorf("%w: pid %d", ErrNoSuchProcess, pid)
		}
		return fmt.Errorf("sending %s to process group %d: %w", sig, pid, err)
	}
	return nil
}

// ParseCommandLine splits a command string on whitespace. There is no
// quoting; use an argv list in the config for arguments containing spaces.
func ParseCommandLine(line string) []string {
	return strings.Fields(line)
}

// FormatCommandLine joins argv for logs.
func FormatCommandLine(argv []string) string {
	return strings.Join(argv, " ")
}
