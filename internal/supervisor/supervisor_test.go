package supervisor

import (
	"errors"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/nerrad567/pipresencemon/internal/reaper"
)

type sentSignal struct {
	pid int
	sig syscall.Signal
}

// fakeSpawner hands out increasing pids. A delivered signal makes the fake
// reaper report the child killed by it, unless the signal is ignored.
type fakeSpawner struct {
	exits   *reaper.Fake
	nextPID int

	spawned   [][]string
	spawnErrs []error

	signals      []sentSignal
	failPIDs     map[int]bool
	failSignals  map[syscall.Signal]bool
	ignore       map[syscall.Signal]bool
	beforeSignal func(pid int, sig syscall.Signal)
}

func newFakeSpawner(exits *reaper.Fake) *fakeSpawner {
	return &fakeSpawner{
		exits:       exits,
		nextPID:     100,
		failPIDs:    map[int]bool{},
		failSignals: map[syscall.Signal]bool{},
		ignore:      map[syscall.Signal]bool{},
	}
}

func (f *fakeSpawner) Spawn(argv []string) (int, error) {
	if len(f.spawnErrs) > 0 {
		err := f.spawnErrs[0]
		f.spawnErrs = f.spawnErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	f.nextPID++
	f.spawned = append(f.spawned, argv)
	return f.nextPID, nil
}

func (f *fakeSpawner) Signal(pid int, sig syscall.Signal) error {
	f.signals = append(f.signals, sentSignal{pid: pid, sig: sig})
	if f.beforeSignal != nil {
		f.beforeSignal(pid, sig)
	}
	if f.failPIDs[pid] || f.failSignals[sig] {
		return syscall.EPERM
	}
	if f.ignore[sig] {
		return nil
	}
	f.exits.Kill(pid, sig)
	return nil
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *recordingLogger) log(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, level+": "+msg)
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.log("DEBUG", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.log("INFO", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.log("WARN", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.log("ERROR", msg) }

func (l *recordingLogger) count(prefix string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

type harness struct {
	sup     *Supervisor
	spawner *fakeSpawner
	exits   *reaper.Fake
	logger  *recordingLogger
	events  []Event
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		exits:  reaper.NewFake(),
		logger: &recordingLogger{},
	}
	h.spawner = newFakeSpawner(h.exits)

	sup, err := New(cfg, Deps{
		Logger:  h.logger,
		Spawner: h.spawner,
		Exits:   h.exits,
		OnEvent: func(ev Event) { h.events = append(h.events, ev) },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.sup = sup
	return h
}

func (h *harness) kinds() []EventKind {
	out := make([]EventKind, len(h.events))
	for i, ev := range h.events {
		out[i] = ev.Kind
	}
	return out
}

func (h *harness) hasEvent(kind EventKind) bool {
	for _, ev := range h.events {
		if ev.Kind == kind {
			return true
		}
	}
	return false
}

func player(restart bool) CommandSpec {
	return CommandSpec{Argv: []string{"mpg123", "playlist.mp3"}, ShouldRestartOnCrash: restart}
}

func displayOff() CommandSpec {
	return CommandSpec{Argv: []string{"vcgencmd", "display_power", "0"}}
}

func basicConfig() Config {
	return Config{
		OnOccupancy:         []CommandSpec{player(true)},
		OnVacancy:           []CommandSpec{displayOff()},
		GracefulStopTimeout: time.Second,
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateUnstarted, "unstarted"},
		{StateOccupied, "occupied"},
		{StateVacant, "vacant"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestNew_RejectsEmptyCommand(t *testing.T) {
	cfg := basicConfig()
	cfg.OnVacancy = append(cfg.OnVacancy, CommandSpec{})

	_, err := New(cfg, Deps{Exits: reaper.NewFake()})
	if !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("New() error = %v, want %v", err, ErrEmptyCommand)
	}
}

func TestNew_SingleLiveReaper(t *testing.T) {
	first, err := New(basicConfig(), Deps{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := New(basicConfig(), Deps{}); !errors.Is(err, reaper.ErrAlreadyInstalled) {
		t.Errorf("second New() error = %v, want %v", err, reaper.ErrAlreadyInstalled)
	}

	// Supervisors with their own exit source are unaffected.
	if _, err := New(basicConfig(), Deps{Exits: reaper.NewFake()}); err != nil {
		t.Errorf("New() with fake source error = %v", err)
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	again, err := New(basicConfig(), Deps{})
	if err != nil {
		t.Fatalf("New() after Close error = %v", err)
	}
	again.Close()
}

func TestSupervisor_Transitions(t *testing.T) {
	h := newHarness(t, basicConfig())

	if h.sup.State() != StateUnstarted {
		t.Fatalf("State() = %v, want unstarted", h.sup.State())
	}

	if err := h.sup.OnOccupancy(); err != nil {
		t.Fatalf("OnOccupancy() error = %v", err)
	}
	occ := h.sup.OccupancyCommands()[0]
	vac := h.sup.VacancyCommands()[0]
	if h.sup.State() != StateOccupied || occ.PID() != 101 || !occ.DesiredRunning() {
		t.Fatalf("after OnOccupancy: state %v, occ pid %d desired %v", h.sup.State(), occ.PID(), occ.DesiredRunning())
	}
	if vac.Running() {
		t.Error("vacancy command running while occupied")
	}

	if err := h.sup.OnVacancy(); err != nil {
		t.Fatalf("OnVacancy() error = %v", err)
	}
	if occ.Running() || occ.DesiredRunning() {
		t.Errorf("occupancy command still running=%v desired=%v after vacancy", occ.Running(), occ.DesiredRunning())
	}
	if vac.PID() != 102 {
		t.Errorf("vacancy pid = %d, want 102", vac.PID())
	}
	if len(h.spawner.signals) != 1 || h.spawner.signals[0] != (sentSignal{pid: 101, sig: syscall.SIGINT}) {
		t.Errorf("signals = %v, want one SIGINT to 101", h.spawner.signals)
	}

	want := []EventKind{EventLaunched, EventStopped, EventLaunched}
	if got := h.kinds(); !equalKinds(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestSupervisor_UnstartedToVacant(t *testing.T) {
	h := newHarness(t, basicConfig())

	if err := h.sup.OnVacancy(); err != nil {
		t.Fatalf("OnVacancy() error = %v", err)
	}
	if h.sup.State() != StateVacant {
		t.Errorf("State() = %v, want vacant", h.sup.State())
	}
	if !h.sup.VacancyCommands()[0].Running() {
		t.Error("vacancy command not launched")
	}
	if len(h.spawner.signals) != 0 {
		t.Errorf("signals = %v, want none", h.spawner.signals)
	}
}

func TestSupervisor_RepeatedOccupancyIsOrderingError(t *testing.T) {
	h := newHarness(t, basicConfig())

	if err := h.sup.OnOccupancy(); err != nil {
		t.Fatalf("OnOccupancy() error = %v", err)
	}
	occ := h.sup.OccupancyCommands()[0]
	pid := occ.PID()

	err := h.sup.OnOccupancy()
	if !errors.Is(err, ErrOrdering) {
		t.Fatalf("second OnOccupancy() error = %v, want %v", err, ErrOrdering)
	}

	if len(h.spawner.spawned) != 1 {
		t.Errorf("spawned %d times, want 1", len(h.spawner.spawned))
	}
	if occ.PID() != pid || occ.RestartCount() != 0 {
		t.Errorf("occupancy command changed: pid %d -> %d, restarts %d", pid, occ.PID(), occ.RestartCount())
	}
	if h.sup.State() != StateOccupied {
		t.Errorf("State() = %v, want occupied", h.sup.State())
	}
	if h.logger.count("ERROR: ignoring repeated transition") != 1 {
		t.Error("ordering error was not logged")
	}
}

func TestSupervisor_CrashRestartAfterCooldown(t *testing.T) {
	cfg := basicConfig()
	cfg.RestartCooldown = 3
	h := newHarness(t, cfg)

	if err := h.sup.OnOccupancy(); err != nil {
		t.Fatalf("OnOccupancy() error = %v", err)
	}
	occ := h.sup.OccupancyCommands()[0]

	h.exits.Exit(occ.PID(), 1)

	for tick := 1; tick <= 3; tick++ {
		if err := h.sup.Tick(); err != nil {
			t.Fatalf("Tick() %d error = %v", tick, err)
		}
		if occ.Running() {
			t.Fatalf("relaunched on tick %d, want tick 4", tick)
		}
		if got, want := occ.CooldownRemaining(), 3-tick; got != want {
			t.Errorf("tick %d: CooldownRemaining() = %d, want %d", tick, got, want)
		}
	}

	if err := h.sup.Tick(); err != nil {
		t.Fatalf("Tick() 4 error = %v", err)
	}
	if !occ.Running() {
		t.Fatal("not relaunched on tick 4")
	}
	if occ.RestartCount() != 1 {
		t.Errorf("RestartCount() = %d, want 1", occ.RestartCount())
	}
	if occ.CooldownRemaining() != 3 {
		t.Errorf("CooldownRemaining() = %d after relaunch, want 3", occ.CooldownRemaining())
	}
	if !h.hasEvent(EventCrashed) || !h.hasEvent(EventRestarted) {
		t.Errorf("events = %v, want crashed and restarted", h.kinds())
	}
}

func TestSupervisor_CrashLoopBreaker(t *testing.T) {
	cfg := basicConfig()
	cfg.CrashLoopThreshold = 2
	h := newHarness(t, cfg)

	if err := h.sup.OnOccupancy(); err != nil {
		t.Fatalf("OnOccupancy() error = %v", err)
	}
	occ := h.sup.OccupancyCommands()[0]

	for cycle := 1; cycle <= 3; cycle++ {
		h.exits.Exit(occ.PID(), 1)
		err := h.sup.Tick()

		if cycle < 3 {
			if err != nil {
				t.Fatalf("cycle %d: Tick() error = %v", cycle, err)
			}
			if !occ.Running() {
				t.Fatalf("cycle %d: not relaunched", cycle)
			}
			continue
		}

		var loopErr *CrashLoopError
		if !errors.As(err, &loopErr) {
			t.Fatalf("cycle 3: Tick() error = %v, want *CrashLoopError", err)
		}
		if loopErr.RestartCount != 3 || loopErr.Threshold != 2 || loopErr.Set != SetOccupancy {
			t.Errorf("CrashLoopError = %+v", loopErr)
		}
	}

	if len(h.spawner.spawned) != 3 {
		t.Errorf("spawned %d times, want 3 (launch + two relaunches)", len(h.spawner.spawned))
	}
	if !h.hasEvent(EventCrashLoop) {
		t.Errorf("events = %v, want crash_loop", h.kinds())
	}
}

func TestSupervisor_MaxRestartsGivesUp(t *testing.T) {
	cfg := basicConfig()
	cfg.OnOccupancy[0].MaxRestarts = 2
	h := newHarness(t, cfg)

	if err := h.sup.OnOccupancy(); err != nil {
		t.Fatalf("OnOccupancy() error = %v", err)
	}
	occ := h.sup.OccupancyCommands()[0]

	for i := 0; i < 3; i++ {
		h.exits.Exit(occ.PID(), 2)
		if err := h.sup.Tick(); err != nil {
			t.Fatalf("Tick() error = %v", err)
		}
	}

	if !occ.GaveUp() || occ.DesiredRunning() || occ.Running() {
		t.Errorf("GaveUp() = %v DesiredRunning() = %v Running() = %v, want gave up and stopped",
			occ.GaveUp(), occ.DesiredRunning(), occ.Running())
	}
	if occ.RestartCount() != 2 {
		t.Errorf("RestartCount() = %d, want 2", occ.RestartCount())
	}

	// A fresh occupancy launches it again.
	if err := h.sup.OnVacancy(); err != nil {
		t.Fatalf("OnVacancy() error = %v", err)
	}
	if err := h.sup.OnOccupancy(); err != nil {
		t.Fatalf("OnOccupancy() error = %v", err)
	}
	if !occ.Running() || occ.GaveUp() {
		t.Errorf("after new occupancy: Running() = %v GaveUp() = %v", occ.Running(), occ.GaveUp())
	}
}

func TestSupervisor_SpawnFailureBackoff(t *testing.T) {
	h := newHarness(t, basicConfig())
	h.spawner.spawnErrs = []error{errors.New("exec format error")}

	if err := h.sup.OnOccupancy(); err != nil {
		t.Fatalf("OnOccupancy() error = %v", err)
	}
	occ := h.sup.OccupancyCommands()[0]

	if occ.Running() || !occ.DesiredRunning() {
		t.Fatalf("after failed spawn: Running() = %v DesiredRunning() = %v", occ.Running(), occ.DesiredRunning())
	}
	if occ.CooldownRemaining() != 1 {
		t.Errorf("CooldownRemaining() = %d, want minimal backoff of 1", occ.CooldownRemaining())
	}

	if err := h.sup.Tick(); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if len(h.spawner.spawned) != 0 {
		t.Fatal("retried spawn without backoff")
	}

	if err := h.sup.Tick(); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if !occ.Running() || occ.RestartCount() != 1 {
		t.Errorf("after backoff: Running() = %v RestartCount() = %d, want running with 1", occ.Running(), occ.RestartCount())
	}

	want := []EventKind{EventSpawnFailed, EventRestarted}
	if got := h.kinds(); !equalKinds(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestSupervisor_LaunchReportsSpawnFailure(t *testing.T) {
	h := newHarness(t, basicConfig())
	h.spawner.spawnErrs = []error{errors.New("no such file")}

	err := h.sup.Launch(h.sup.VacancyCommands()[0])
	if !errors.Is(err, ErrSpawnFailed) {
		t.Errorf("Launch() error = %v, want %v", err, ErrSpawnFailed)
	}
	if h.logger.count("ERROR: failed to launch command") != 1 {
		t.Error("spawn failure was not logged")
	}
}

func TestSupervisor_CleanExitIsNotRestarted(t *testing.T) {
	h := newHarness(t, basicConfig())

	if err := h.sup.OnOccupancy(); err != nil {
		t.Fatalf("OnOccupancy() error = %v", err)
	}
	occ := h.sup.OccupancyCommands()[0]
	h.exits.Exit(occ.PID(), 0)

	for i := 0; i < 3; i++ {
		if err := h.sup.Tick(); err != nil {
			t.Fatalf("Tick() error = %v", err)
		}
	}

	if len(h.spawner.spawned) != 1 || occ.DesiredRunning() || occ.RestartCount() != 0 {
		t.Errorf("spawned %d, DesiredRunning() = %v, RestartCount() = %d; want completed command left alone",
			len(h.spawner.spawned), occ.DesiredRunning(), occ.RestartCount())
	}
	if h.logger.count("INFO: command completed") != 1 {
		t.Error("completion was not logged")
	}
}

func TestSupervisor_CrashWithoutRestartPolicy(t *testing.T) {
	cfg := basicConfig()
	cfg.OnOccupancy = []CommandSpec{player(false)}
	h := newHarness(t, cfg)

	if err := h.sup.OnOccupancy(); err != nil {
		t.Fatalf("OnOccupancy() error = %v", err)
	}
	h.exits.Kill(h.sup.OccupancyCommands()[0].PID(), syscall.SIGSEGV)

	for i := 0; i < 3; i++ {
		if err := h.sup.Tick(); err != nil {
			t.Fatalf("Tick() error = %v", err)
		}
	}

	if len(h.spawner.spawned) != 1 {
		t.Errorf("spawned %d times, want 1", len(h.spawner.spawned))
	}
	if h.logger.count("WARN: command crashed, won't restart") != 1 {
		t.Error("crash without restart was not logged")
	}
}

func TestSupervisor_UntrackedExitIsLogged(t *testing.T) {
	h := newHarness(t, basicConfig())

	h.exits.Exit(9999, 0)
	if err := h.sup.Tick(); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	if h.logger.count("ERROR: reaped a process no command is tracking") != 1 {
		t.Error("untracked exit was not logged as an error")
	}
	if !h.hasEvent(EventUntrackedExit) {
		t.Errorf("events = %v, want untracked_exit", h.kinds())
	}
}

func TestSupervisor_StopWithoutPIDWarns(t *testing.T) {
	h := newHarness(t, basicConfig())
	if err := h.sup.OnOccupancy(); err != nil {
		t.Fatalf("OnOccupancy() error = %v", err)
	}
	vac := h.sup.VacancyCommands()[0]

	if err := h.sup.Stop(vac); err != nil {
		t.Errorf("Stop() error = %v, want nil", err)
	}
	if h.logger.count("WARN: stop requested for command that is not running") != 1 {
		t.Error("Stop() without pid did not warn")
	}
	if h.sup.State() != StateOccupied || len(h.spawner.signals) != 0 {
		t.Errorf("state %v, signals %v; want unchanged", h.sup.State(), h.spawner.signals)
	}
	if !h.sup.OccupancyCommands()[0].Running() {
		t.Error("occupancy command disturbed")
	}
}

func TestSupervisor_StopEscalatesAfterTimeout(t *testing.T) {
	cfg := basicConfig()
	cfg.GracefulStopTimeout = 20 * time.Millisecond
	h := newHarness(t, cfg)
	h.spawner.ignore[syscall.SIGINT] = true

	if err := h.sup.OnOccupancy(); err != nil {
		t.Fatalf("OnOccupancy() error = %v", err)
	}
	occ := h.sup.OccupancyCommands()[0]
	pid := occ.PID()

	if err := h.sup.Stop(occ); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	want := []sentSignal{{pid, syscall.SIGINT}, {pid, syscall.SIGKILL}}
	if len(h.spawner.signals) != 2 || h.spawner.signals[0] != want[0] || h.spawner.signals[1] != want[1] {
		t.Errorf("signals = %v, want %v", h.spawner.signals, want)
	}
	if occ.Running() {
		t.Error("command still tracked after kill")
	}
}

func TestSupervisor_StopEscalatesWhenInterruptFails(t *testing.T) {
	h := newHarness(t, basicConfig())
	h.spawner.failSignals[syscall.SIGINT] = true

	if err := h.sup.OnOccupancy(); err != nil {
		t.Fatalf("OnOccupancy() error = %v", err)
	}
	occ := h.sup.OccupancyCommands()[0]

	if err := h.sup.Stop(occ); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if n := len(h.spawner.signals); n != 2 || h.spawner.signals[1].sig != syscall.SIGKILL {
		t.Errorf("signals = %v, want SIGINT then SIGKILL", h.spawner.signals)
	}
	if occ.Running() {
		t.Error("command still tracked after kill")
	}
}

func TestSupervisor_UnkillableCommandIsAbandoned(t *testing.T) {
	h := newHarness(t, basicConfig())

	if err := h.sup.OnOccupancy(); err != nil {
		t.Fatalf("OnOccupancy() error = %v", err)
	}
	occ := h.sup.OccupancyCommands()[0]
	pid := occ.PID()
	h.spawner.failPIDs[pid] = true

	err := h.sup.OnVacancy()
	var stopErr *StopError
	if !errors.As(err, &stopErr) {
		t.Fatalf("OnVacancy() error = %v, want *StopError", err)
	}
	if stopErr.PID != pid || !errors.Is(err, syscall.EPERM) {
		t.Errorf("StopError = %+v", stopErr)
	}
	if !occ.Abandoned() || occ.PID() != pid {
		t.Errorf("Abandoned() = %v PID() = %d, want abandoned and still tracked", occ.Abandoned(), occ.PID())
	}
	if !h.sup.VacancyCommands()[0].Running() {
		t.Error("vacancy commands not launched after abandoning")
	}

	// Coming back to occupied must not start a second instance.
	spawns := len(h.spawner.spawned)
	if err := h.sup.OnOccupancy(); err != nil {
		t.Fatalf("OnOccupancy() error = %v", err)
	}
	if len(h.spawner.spawned) != spawns {
		t.Fatalf("spawned a duplicate of an abandoned command")
	}

	if !occ.LaunchPending() {
		t.Error("LaunchPending() = false while the abandoned instance runs")
	}
	for i := 0; i < 3; i++ {
		if err := h.sup.Tick(); err != nil {
			t.Fatalf("Tick() error = %v", err)
		}
	}
	if len(h.spawner.spawned) != spawns {
		t.Fatalf("launched while the abandoned instance is still alive")
	}

	// Once it finally dies a fresh instance is launched on the next tick.
	h.exits.Exit(pid, 0)
	if err := h.sup.Tick(); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if occ.Abandoned() || occ.LaunchPending() {
		t.Errorf("Abandoned() = %v LaunchPending() = %v after exit", occ.Abandoned(), occ.LaunchPending())
	}
	if !occ.Running() || occ.PID() == pid || !occ.DesiredRunning() {
		t.Errorf("Running() = %v PID() = %d DesiredRunning() = %v, want a new instance",
			occ.Running(), occ.PID(), occ.DesiredRunning())
	}
	if len(h.spawner.spawned) != spawns+1 {
		t.Errorf("spawned %d after exit, want 1", len(h.spawner.spawned)-spawns)
	}
	if occ.RestartCount() != 0 {
		t.Errorf("RestartCount() = %d, a deferred launch is not a crash restart", occ.RestartCount())
	}
	if !h.hasEvent(EventAbandoned) {
		t.Errorf("events = %v, want abandoned", h.kinds())
	}
}

func TestSupervisor_AbandonedCommandNotLaunchedOutsideItsSet(t *testing.T) {
	h := newHarness(t, basicConfig())

	if err := h.sup.OnOccupancy(); err != nil {
		t.Fatalf("OnOccupancy() error = %v", err)
	}
	occ := h.sup.OccupancyCommands()[0]
	pid := occ.PID()
	h.spawner.failPIDs[pid] = true

	var stopErr *StopError
	if err := h.sup.OnVacancy(); !errors.As(err, &stopErr) {
		t.Fatalf("OnVacancy() error = %v, want *StopError", err)
	}
	if err := h.sup.OnOccupancy(); err != nil {
		t.Fatalf("OnOccupancy() error = %v", err)
	}
	if err := h.sup.OnVacancy(); err != nil {
		t.Fatalf("second OnVacancy() error = %v", err)
	}
	if occ.LaunchPending() {
		t.Error("LaunchPending() = true after leaving the occupancy set")
	}

	spawns := len(h.spawner.spawned)
	h.exits.Exit(pid, 0)
	if err := h.sup.Tick(); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if occ.Running() || len(h.spawner.spawned) != spawns {
		t.Errorf("occupancy command launched while vacant: running=%v spawned=%d",
			occ.Running(), len(h.spawner.spawned)-spawns)
	}
}

func TestSupervisor_StopLogsUnexpectedExitStatus(t *testing.T) {
	tests := []struct {
		name      string
		exit      func(h *harness, pid int)
		wantError bool
	}{
		{"interrupted", nil, false},
		{"clean exit", func(h *harness, pid int) { h.exits.Exit(pid, 0) }, false},
		{"exit status", func(h *harness, pid int) { h.exits.Exit(pid, 3) }, true},
		{"other signal", func(h *harness, pid int) { h.exits.Kill(pid, syscall.SIGSEGV) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, basicConfig())
			if tt.exit != nil {
				h.spawner.ignore[syscall.SIGINT] = true
				h.spawner.beforeSignal = func(pid int, sig syscall.Signal) {
					if sig == syscall.SIGINT {
						tt.exit(h, pid)
					}
				}
			}

			if err := h.sup.OnOccupancy(); err != nil {
				t.Fatalf("OnOccupancy() error = %v", err)
			}
			if err := h.sup.Stop(h.sup.OccupancyCommands()[0]); err != nil {
				t.Fatalf("Stop() error = %v", err)
			}

			gotError := h.logger.count("ERROR: stopped command exited with error") == 1
			if gotError != tt.wantError {
				t.Errorf("logged error = %v, want %v", gotError, tt.wantError)
			}
			if !gotError && h.logger.count("INFO: stopped command") != 1 {
				t.Error("clean stop not logged at Info")
			}
		})
	}
}

func TestSupervisor_StopHandlesOtherExitsWhileWaiting(t *testing.T) {
	cfg := basicConfig()
	cfg.OnOccupancy = []CommandSpec{player(true), {Argv: []string{"feh", "/srv/photos"}, ShouldRestartOnCrash: true}}
	h := newHarness(t, cfg)

	if err := h.sup.OnOccupancy(); err != nil {
		t.Fatalf("OnOccupancy() error = %v", err)
	}
	first, second := h.sup.OccupancyCommands()[0], h.sup.OccupancyCommands()[1]

	// The second command crashes while the first is being stopped.
	secondPID := second.PID()
	h.spawner.beforeSignal = func(pid int, _ syscall.Signal) {
		if pid == first.PID() {
			h.exits.Exit(secondPID, 1)
		}
	}

	if err := h.sup.Stop(first); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if second.Running() {
		t.Error("crash of second command was not handled during Stop")
	}
	if !second.DesiredRunning() {
		t.Error("second command should still be desired after crashing")
	}
}

func TestSupervisor_TickBeforeStartIsNoop(t *testing.T) {
	h := newHarness(t, basicConfig())
	if err := h.sup.Tick(); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if len(h.spawner.spawned) != 0 {
		t.Errorf("spawned %d commands before any transition", len(h.spawner.spawned))
	}
}

func TestSupervisor_Close(t *testing.T) {
	h := newHarness(t, basicConfig())
	if err := h.sup.OnOccupancy(); err != nil {
		t.Fatalf("OnOccupancy() error = %v", err)
	}

	if err := h.sup.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if h.sup.OccupancyCommands()[0].Running() {
		t.Error("occupancy command still running after Close")
	}
	if !h.exits.Closed() {
		t.Error("exit source not closed")
	}
	if err := h.sup.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := h.sup.Tick(); !errors.Is(err, ErrClosed) {
		t.Errorf("Tick() after Close error = %v, want %v", err, ErrClosed)
	}
	if err := h.sup.OnVacancy(); !errors.Is(err, ErrClosed) {
		t.Errorf("OnVacancy() after Close error = %v, want %v", err, ErrClosed)
	}
}

func TestSupervisor_Stats(t *testing.T) {
	cfg := basicConfig()
	cfg.RestartCooldown = 2
	h := newHarness(t, cfg)
	if err := h.sup.OnOccupancy(); err != nil {
		t.Fatalf("OnOccupancy() error = %v", err)
	}

	stats := h.sup.Stats()
	if len(stats) != 2 {
		t.Fatalf("len(Stats()) = %d, want 2", len(stats))
	}

	occ, vac := stats[0], stats[1]
	if occ.Set != SetOccupancy || occ.Command != "mpg123 playlist.mp3" || occ.PID != 101 || !occ.Running {
		t.Errorf("occupancy stats = %+v", occ)
	}
	if occ.CooldownRemaining != 2 || occ.StartedAt.IsZero() {
		t.Errorf("occupancy stats = %+v, want cooldown 2 and a start time", occ)
	}
	if vac.Set != SetVacancy || vac.Running || vac.Index != 0 {
		t.Errorf("vacancy stats = %+v", vac)
	}

	h.exits.Exit(101, 3)
	h.sup.ReapPending()
	if got := h.sup.Stats()[0].LastExit; got != "pid 101 exited with status 3" {
		t.Errorf("LastExit = %q", got)
	}
}

func TestCrashLoopError_Message(t *testing.T) {
	err := &CrashLoopError{Set: SetVacancy, Index: 1, Command: "feh", RestartCount: 6, Threshold: 5}
	if got := err.Error(); !strings.Contains(got, "restarted 6 times") || !strings.Contains(got, "limit of 5") {
		t.Errorf("Error() = %q", got)
	}
}

func equalKinds(a, b []EventKind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
