package supervisor

import (
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/nerrad567/pipresencemon/internal/process"
	"github.com/nerrad567/pipresencemon/internal/reaper"
)

// defaultGracefulStopTimeout applies when Config.GracefulStopTimeout is zero.
const defaultGracefulStopTimeout = 10 * time.Second

// State is the supervisor's occupancy state.
type State int

// Supervisor states.
const (
	StateUnstarted State = iota
	StateOccupied
	StateVacant
)

func (s State) String() string {
	switch s {
	case StateOccupied:
		return "occupied"
	case StateVacant:
		return "vacant"
	default:
		return "unstarted"
	}
}

// Config holds the command sets and the restart policy.
type Config struct {
	OnOccupancy []CommandSpec
	OnVacancy   []CommandSpec

	// RestartCooldown is the number of ticks to wait after a crash before
	// relaunching. It is armed on every successful launch.
	RestartCooldown int

	// CrashLoopThreshold makes Tick fail with *CrashLoopError once a
	// command's restart count exceeds it. 0 disables the breaker.
	CrashLoopThreshold int

	// GracefulStopTimeout is how long Stop waits after SIGINT before SIGKILL.
	GracefulStopTimeout time.Duration
}

// Logger defines the logging interface for the supervisor.
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

// Deps holds the supervisor's collaborators. All fields are optional.
type Deps struct {
	Logger Logger

	// Spawner starts commands. Defaults to process.ExecSpawner.
	Spawner process.Spawner

	// Exits delivers child exits. Defaults to the process-wide SIGCHLD
	// reaper, which only one live supervisor may hold. The supervisor
	// closes it on Close.
	Exits reaper.Source

	// OnEvent is called synchronously for every Event. It must not block.
	OnEvent func(Event)

	// Now defaults to time.Now.
	Now func() time.Time
}

// Supervisor launches, stops and respawns two sets of commands in response
// to occupancy transitions.
//
// Thread Safety:
//   - Not safe for concurrent use. Every method must be called from the same
//     goroutine (the orchestrator loop). Exit notifications arrive as events
//     on a channel and are consumed on that goroutine, so no command state
//     is shared with the reaper.
type Supervisor struct {
	cfg     Config
	logger  Logger
	spawner process.Spawner
	exits   reaper.Source
	onEvent func(Event)
	now     func() time.Time

	occupancy []*ManagedCommand
	vacancy   []*ManagedCommand

	state  State
	closed bool
}

// New builds a supervisor from cfg. Without Deps.Exits it installs the
// process-wide child exit handler and fails if another supervisor holds it.
func New(cfg Config, deps Deps) (*Supervisor, error) {
	if cfg.GracefulStopTimeout <= 0 {
		cfg.GracefulStopTimeout = defaultGracefulStopTimeout
	}
	if cfg.RestartCooldown < 0 {
		cfg.RestartCooldown = 0
	}

	s := &Supervisor{
		cfg:     cfg,
		logger:  deps.Logger,
		spawner: deps.Spawner,
		exits:   deps.Exits,
		onEvent: deps.OnEvent,
		now:     deps.Now,
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	if s.spawner == nil {
		s.spawner = &process.ExecSpawner{}
	}
	if s.now == nil {
		s.now = time.Now
	}

	var err error
	if s.occupancy, err = buildSet(SetOccupancy, cfg.OnOccupancy); err != nil {
		return nil, err
	}
	if s.vacancy, err = buildSet(SetVacancy, cfg.OnVacancy); err != nil {
		return nil, err
	}

	if s.exits == nil {
		src, err := reaper.Install(s.logger)
		if err != nil {
			return nil, fmt.Errorf("installing child exit handler: %w", err)
		}
		s.exits = src
	}

	return s, nil
}

func buildSet(name string, specs []CommandSpec) ([]*ManagedCommand, error) {
	set := make([]*ManagedCommand, 0, len(specs))
	for i, spec := range specs {
		if len(spec.Argv) == 0 || spec.Argv[0] == "" {
			return nil, fmt.Errorf("%w: %s[%d]", ErrEmptyCommand, name, i)
		}
		set = append(set, newManagedCommand(spec, name, i))
	}
	return set, nil
}

// State returns the current occupancy state.
func (s *Supervisor) State() State {
	return s.state
}

// OccupancyCommands returns the commands run while the space is occupied.
func (s *Supervisor) OccupancyCommands() []*ManagedCommand {
	return s.occupancy
}

// VacancyCommands returns the commands run while the space is vacant.
func (s *Supervisor) VacancyCommands() []*ManagedCommand {
	return s.vacancy
}

// OnOccupancy stops the vacancy commands and launches the occupancy ones.
//
// Calling it while already occupied changes nothing and returns ErrOrdering.
// A returned *StopError means a vacancy command was abandoned; the
// occupancy commands are launched regardless.
func (s *Supervisor) OnOccupancy() error {
	return s.transition(StateOccupied)
}

// OnVacancy stops the occupancy commands and launches the vacancy ones.
func (s *Supervisor) OnVacancy() error {
	return s.transition(StateVacant)
}

func (s *Supervisor) transition(to State) error {
	if s.closed {
		return ErrClosed
	}

	s.ReapPending()

	if s.state == to {
		err := fmt.Errorf("%w: already %s", ErrOrdering, to)
		s.logger.Error("ignoring repeated transition", "state", to, "error", err)
		return err
	}

	s.logger.Info("occupancy transition", "from", s.state, "to", to)
	s.state = to

	stopping, starting := s.vacancy, s.occupancy
	if to == StateVacant {
		stopping, starting = s.occupancy, s.vacancy
	}

	errs := s.stopSet(stopping)

	for _, cmd := range starting {
		cmd.gaveUp = false
		if cmd.abandoned {
			// Tick launches it once the old instance has been reaped.
			cmd.launchPending = true
			s.logger.Warn("abandoned instance still running, launch deferred until it exits",
				"set", cmd.set, "index", cmd.index, "cmd", cmd.String(), "pid", cmd.pid)
			continue
		}
		// Spawn failures are logged and retried by Tick.
		_ = s.launch(cmd, EventLaunched)
	}

	return errors.Join(errs...)
}

// Tick drives crash restarts for the active command set. Call it once per
// time unit. It returns a *CrashLoopError when the crash-loop breaker trips.
func (s *Supervisor) Tick() error {
	if s.closed {
		return ErrClosed
	}

	s.ReapPending()

	for _, cmd := range s.activeSet() {
		if cmd.launchPending {
			if cmd.pid == 0 {
				cmd.launchPending = false
				s.logger.Info("launching command whose abandoned instance has exited",
					"set", cmd.set, "index", cmd.index, "cmd", cmd.String())
				_ = s.launch(cmd, EventLaunched)
			}
			continue
		}

		if cmd.pid != 0 || !cmd.desiredRunning || !cmd.ShouldRestartOnCrash {
			continue
		}

		if cmd.cooldownRemaining > 0 {
			cmd.cooldownRemaining--
			s.logger.Debug("command in restart cooldown",
				"set", cmd.set, "index", cmd.index, "cmd", cmd.String(),
				"ticks_remaining", cmd.cooldownRemaining,
			)
			continue
		}

		if cmd.MaxRestarts > 0 && cmd.restartCount >= cmd.MaxRestarts {
			cmd.desiredRunning = false
			cmd.gaveUp = true
			s.logger.Error("command exhausted its restarts, giving up",
				"set", cmd.set, "index", cmd.index, "cmd", cmd.String(),
				"restart_count", cmd.restartCount, "max_restarts", cmd.MaxRestarts,
			)
			s.emit(EventGaveUp, cmd, 0, nil, nil)
			continue
		}

		cmd.restartCount++

		if s.cfg.CrashLoopThreshold > 0 && cmd.restartCount > s.cfg.CrashLoopThreshold {
			err := &CrashLoopError{
				Set:          cmd.set,
				Index:        cmd.index,
				Command:      cmd.String(),
				RestartCount: cmd.restartCount,
				Threshold:    s.cfg.CrashLoopThreshold,
			}
			s.logger.Error("command is crash looping", "error", err)
			s.emit(EventCrashLoop, cmd, 0, nil, err)
			return err
		}

		s.logger.Info("restarting crashed command",
			"set", cmd.set, "index", cmd.index, "cmd", cmd.String(),
			"restart_count", cmd.restartCount,
		)
		_ = s.launch(cmd, EventRestarted)
	}

	return nil
}

func (s *Supervisor) activeSet() []*ManagedCommand {
	switch s.state {
	case StateOccupied:
		return s.occupancy
	case StateVacant:
		return s.vacancy
	default:
		return nil
	}
}

// Launch starts cmd. On spawn failure the command stays desired and Tick
// retries it after at least one tick of backoff.
func (s *Supervisor) Launch(cmd *ManagedCommand) error {
	if s.closed {
		return ErrClosed
	}
	return s.launch(cmd, EventLaunched)
}

func (s *Supervisor) launch(cmd *ManagedCommand, kind EventKind) error {
	if cmd.pid != 0 {
		err := fmt.Errorf("%w: %s (pid %d)", ErrAlreadyRunning, cmd.String(), cmd.pid)
		s.logger.Error("not launching command, previous instance still tracked",
			"set", cmd.set, "index", cmd.index, "pid", cmd.pid, "abandoned", cmd.abandoned, "error", err)
		return err
	}

	cmd.desiredRunning = true

	pid, err := s.spawner.Spawn(cmd.Argv)
	if err != nil && pid <= 0 {
		cmd.cooldownRemaining = max(1, s.cfg.RestartCooldown)
		s.logger.Error("failed to launch command",
			"set", cmd.set, "index", cmd.index, "cmd", cmd.String(),
			"retry_in_ticks", cmd.cooldownRemaining, "error", err,
		)
		s.emit(EventSpawnFailed, cmd, 0, nil, err)
		return fmt.Errorf("%w: %s: %w", ErrSpawnFailed, cmd.String(), err)
	}
	if err != nil {
		s.logger.Warn("command started with errors", "cmd", cmd.String(), "pid", pid, "error", err)
	}

	cmd.pid = pid
	cmd.startedAt = s.now()
	cmd.cooldownRemaining = s.cfg.RestartCooldown

	s.logger.Info("launched command",
		"set", cmd.set, "index", cmd.index, "cmd", cmd.String(), "pid", pid,
	)
	s.emit(kind, cmd, pid, nil, nil)
	return nil
}

// Stop terminates cmd's process group and waits for it to exit.
//
// SIGINT is sent first; if it cannot be delivered, or the command has not
// exited after GracefulStopTimeout, SIGKILL follows. If neither signal can be
// delivered the command is abandoned and a *StopError is returned. Stop on a
// command that is not running only logs a warning.
func (s *Supervisor) Stop(cmd *ManagedCommand) error {
	if cmd.pid == 0 {
		s.logger.Warn("stop requested for command that is not running",
			"set", cmd.set, "index", cmd.index, "cmd", cmd.String())
		return nil
	}

	pid := cmd.pid
	cmd.desiredRunning = false

	s.logger.Info("stopping command", "set", cmd.set, "index", cmd.index, "cmd", cmd.String(), "pid", pid)

	if err := s.signal(pid, syscall.SIGINT); err != nil {
		s.logger.Warn("failed to interrupt command, killing it",
			"cmd", cmd.String(), "pid", pid, "error", err)
		if err := s.signal(pid, syscall.SIGKILL); err != nil {
			return s.abandon(cmd, pid, err)
		}
	}

	exit, ok := s.awaitExit(pid, s.cfg.GracefulStopTimeout)
	if !ok {
		s.logger.Warn("graceful stop timeout, sending SIGKILL",
			"cmd", cmd.String(), "pid", pid, "timeout", s.cfg.GracefulStopTimeout)
		if err := s.signal(pid, syscall.SIGKILL); err != nil {
			return s.abandon(cmd, pid, err)
		}
		exit, _ = s.awaitExit(pid, 0)
	}

	if !stoppedCleanly(exit) {
		s.logger.Error("stopped command exited with error",
			"cmd", cmd.String(), "pid", pid, "status", exit.String())
	} else {
		s.logger.Info("stopped command", "cmd", cmd.String(), "pid", pid, "status", exit.String())
	}
	s.emit(EventStopped, cmd, pid, &exit, nil)

	return nil
}

// stoppedCleanly reports whether a stopped command exited with status zero
// or died from one of the signals Stop sends.
func stoppedCleanly(exit reaper.ExitEvent) bool {
	switch exit.Signal {
	case 0:
		return exit.ExitCode == 0
	case syscall.SIGINT, syscall.SIGKILL:
		return true
	default:
		return false
	}
}

// signal treats a vanished process group as delivered; its exit event is
// already queued or handled.
func (s *Supervisor) signal(pid int, sig syscall.Signal) error {
	err := s.spawner.Signal(pid, sig)
	if errors.Is(err, process.ErrNoSuchProcess) {
		s.logger.Debug("process group already gone", "pid", pid, "signal", sig)
		return nil
	}
	return err
}

func (s *Supervisor) abandon(cmd *ManagedCommand, pid int, err error) error {
	cmd.abandoned = true
	stopErr := &StopError{Command: cmd.String(), PID: pid, Err: err}
	s.logger.Error("unable to kill command, it will not be relaunched until it exits",
		"set", cmd.set, "index", cmd.index, "pid", pid, "error", stopErr)
	s.emit(EventAbandoned, cmd, pid, nil, stopErr)
	return stopErr
}

// awaitExit blocks until pid exits, handling every other exit event that
// arrives meanwhile. A zero timeout waits forever. If pid was already
// reaped, it returns its recorded exit immediately.
func (s *Supervisor) awaitExit(pid int, timeout time.Duration) (reaper.ExitEvent, bool) {
	if cmd := s.find(pid); cmd == nil {
		return reaper.ExitEvent{PID: pid}, true
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case ev := <-s.exits.Events():
			s.handleExit(ev)
			if ev.PID == pid {
				return ev, true
			}
		case <-deadline:
			return reaper.ExitEvent{}, false
		}
	}
}

// ReapPending handles every exit event queued so far without blocking.
func (s *Supervisor) ReapPending() {
	for {
		select {
		case ev := <-s.exits.Events():
			s.handleExit(ev)
		default:
			return
		}
	}
}

func (s *Supervisor) find(pid int) *ManagedCommand {
	if pid <= 0 {
		return nil
	}
	for _, set := range [][]*ManagedCommand{s.occupancy, s.vacancy} {
		for _, cmd := range set {
			if cmd.pid == pid {
				return cmd
			}
		}
	}
	return nil
}

func (s *Supervisor) handleExit(ev reaper.ExitEvent) {
	cmd := s.find(ev.PID)
	if cmd == nil {
		s.logger.Error("reaped a process no command is tracking",
			"pid", ev.PID, "status", ev.String(), "error", ErrUntrackedExit)
		s.emit(EventUntrackedExit, nil, ev.PID, &ev, ErrUntrackedExit)
		return
	}

	cmd.pid = 0
	cmd.lastExit = &ev
	wasAbandoned := cmd.abandoned
	cmd.abandoned = false

	attrs := []any{"set", cmd.set, "index", cmd.index, "cmd", cmd.String(), "pid", ev.PID, "status", ev.String()}

	switch {
	case wasAbandoned:
		s.logger.Info("abandoned command has exited", attrs...)
		s.emit(EventExited, cmd, ev.PID, &ev, nil)

	case cmd.desiredRunning && ev.Success():
		cmd.desiredRunning = false
		s.logger.Info("command completed", attrs...)
		s.emit(EventExited, cmd, ev.PID, &ev, nil)

	case cmd.desiredRunning:
		if cmd.ShouldRestartOnCrash {
			s.logger.Warn("command crashed, will restart", append(attrs,
				"in_ticks", cmd.cooldownRemaining, "restart_count", cmd.restartCount)...)
		} else {
			s.logger.Warn("command crashed, won't restart", attrs...)
		}
		s.emit(EventCrashed, cmd, ev.PID, &ev, nil)

	default:
		s.logger.Debug("command exited after stop", attrs...)
	}
}

// stopSet stops every running command in set and collects stop errors.
func (s *Supervisor) stopSet(set []*ManagedCommand) []error {
	var errs []error
	for _, cmd := range set {
		cmd.launchPending = false
		if cmd.pid == 0 {
			cmd.desiredRunning = false
			continue
		}
		if cmd.abandoned {
			continue
		}
		if err := s.Stop(cmd); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Close stops every running command and releases the exit source.
// It is idempotent.
func (s *Supervisor) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	s.ReapPending()

	var errs []error
	errs = append(errs, s.stopSet(s.occupancy)...)
	errs = append(errs, s.stopSet(s.vacancy)...)

	if err := s.exits.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing exit source: %w", err))
	}

	s.logger.Info("supervisor closed", "state", s.state)
	return errors.Join(errs...)
}

// Stats returns a snapshot of every command, occupancy set first.
func (s *Supervisor) Stats() []CommandStats {
	out := make([]CommandStats, 0, len(s.occupancy)+len(s.vacancy))
	for _, cmd := range s.occupancy {
		out = append(out, cmd.stats())
	}
	for _, cmd := range s.vacancy {
		out = append(out, cmd.stats())
	}
	return out
}
