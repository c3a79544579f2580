package supervisor

import (
	"time"

	"github.com/nerrad567/pipresencemon/internal/process"
	"github.com/nerrad567/pipresencemon/internal/reaper"
)

// Command set names.
const (
	SetOccupancy = "occupancy"
	SetVacancy   = "vacancy"
)

// CommandSpec is the configured form of a managed command.
type CommandSpec struct {
	Argv                 []string
	ShouldRestartOnCrash bool

	// MaxRestarts caps crash relaunches for this command. 0 means no cap.
	MaxRestarts int
}

// ManagedCommand is a command together with its runtime tracking state.
//
// The supervisor owns every ManagedCommand; callers may read it through the
// accessors but must not retain it across Close.
type ManagedCommand struct {
	Argv                 []string
	ShouldRestartOnCrash bool
	MaxRestarts          int

	set   string
	index int

	pid               int
	desiredRunning    bool
	restartCount      int
	cooldownRemaining int
	abandoned         bool
	launchPending     bool
	gaveUp            bool
	startedAt         time.Time
	lastExit          *reaper.ExitEvent
}

func newManagedCommand(spec CommandSpec, set string, index int) *ManagedCommand {
	argv := make([]string, len(spec.Argv))
	copy(argv, spec.Argv)
	return &ManagedCommand{
		Argv:                 argv,
		ShouldRestartOnCrash: spec.ShouldRestartOnCrash,
		MaxRestarts:          spec.MaxRestarts,
		set:                  set,
		index:                index,
	}
}

// String returns the command line.
func (c *ManagedCommand) String() string {
	return process.FormatCommandLine(c.Argv)
}

// Set returns the name of the command set the command belongs to.
func (c *ManagedCommand) Set() string { return c.set }

// Index returns the command's position in its set.
func (c *ManagedCommand) Index() int { return c.index }

// PID returns the tracked process id, or 0.
func (c *ManagedCommand) PID() int { return c.pid }

// Running reports whether a process is tracked for the command.
func (c *ManagedCommand) Running() bool { return c.pid != 0 }

// DesiredRunning reports whether the command should be running.
func (c *ManagedCommand) DesiredRunning() bool { return c.desiredRunning }

// RestartCount returns the number of crash relaunches. It is never reset.
func (c *ManagedCommand) RestartCount() int { return c.restartCount }

// CooldownRemaining returns the ticks left before a crash relaunch.
func (c *ManagedCommand) CooldownRemaining() int { return c.cooldownRemaining }

// Abandoned reports whether the command could not be killed.
func (c *ManagedCommand) Abandoned() bool { return c.abandoned }

// LaunchPending reports whether the command is waiting for an abandoned
// instance to exit before it is launched again.
func (c *ManagedCommand) LaunchPending() bool { return c.launchPending }

// GaveUp reports whether the command exhausted its MaxRestarts budget.
func (c *ManagedCommand) GaveUp() bool { return c.gaveUp }

// CommandStats is a point-in-time view of a ManagedCommand.
type CommandStats struct {
	Set                  string    `json:"set"`
	Index                int       `json:"index"`
	Command              string    `json:"command"`
	PID                  int       `json:"pid,omitempty"`
	Running              bool      `json:"running"`
	DesiredRunning       bool      `json:"desired_running"`
	ShouldRestartOnCrash bool      `json:"should_restart_on_crash"`
	MaxRestarts          int       `json:"max_restarts"`
	RestartCount         int       `json:"restart_count"`
	CooldownRemaining    int       `json:"cooldown_remaining"`
	Abandoned            bool      `json:"abandoned,omitempty"`
	LaunchPending        bool      `json:"launch_pending,omitempty"`
	GaveUp               bool      `json:"gave_up,omitempty"`
	StartedAt            time.Time `json:"started_at,omitzero"`
	LastExit             string    `json:"last_exit,omitempty"`
}

func (c *ManagedCommand) stats() CommandStats {
	st := CommandStats{
		Set:                  c.set,
		Index:                c.index,
		Command:              c.String(),
		PID:                  c.pid,
		Running:              c.pid != 0,
		DesiredRunning:       c.desiredRunning,
		ShouldRestartOnCrash: c.ShouldRestartOnCrash,
		MaxRestarts:          c.MaxRestarts,
		RestartCount:         c.restartCount,
		CooldownRemaining:    c.cooldownRemaining,
		Abandoned:            c.abandoned,
		LaunchPending:        c.launchPending,
		GaveUp:               c.gaveUp,
	}
	if c.pid != 0 {
		st.StartedAt = c.startedAt
	}
	if c.lastExit != nil {
		st.LastExit = c.lastExit.String()
	}
	return st
}
