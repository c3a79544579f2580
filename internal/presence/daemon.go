package presence

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/pipresencemon/internal/supervisor"
)

// DefaultInterval is the orchestrator's time unit. Supervisor cooldowns are
// counted in these.
const DefaultInterval = time.Second

// ErrAlreadyStarted is returned by Start and Run on a started daemon.
var ErrAlreadyStarted = errors.New("presence: daemon already started")

// Monitor is the read side of the activity monitor.
type Monitor interface {
	IsOccupied() bool
	IsActive() bool
	ActivePercent() int
}

// Supervisor is the part of *supervisor.Supervisor the daemon drives.
type Supervisor interface {
	OnOccupancy() error
	OnVacancy() error
	Tick() error
	State() supervisor.State
	Stats() []supervisor.CommandStats
}

// Logger defines the logging interface for the daemon.
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

// Deps holds the daemon's collaborators. Monitor and Supervisor are required.
type Deps struct {
	Monitor    Monitor
	Supervisor Supervisor

	// Events receives transitions and samples. Optional.
	Events *Dispatcher

	Logger Logger

	// Interval defaults to DefaultInterval.
	Interval time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// Transition is an occupancy edge.
type Transition struct {
	Occupied  bool      `json:"occupied"`
	ActivePct int       `json:"active_pct"`
	Time      time.Time `json:"time"`
}

// Sample is the monitor state seen on one orchestrator cycle.
type Sample struct {
	ActivePct int       `json:"active_pct"`
	Active    bool      `json:"active"`
	Occupied  bool      `json:"occupied"`
	Time      time.Time `json:"time"`
}

// Snapshot is the daemon state published after every cycle.
type Snapshot struct {
	State          string                    `json:"state"`
	Occupied       bool                      `json:"occupied"`
	Active         bool                      `json:"active"`
	ActivePct      int                       `json:"active_pct"`
	Transitions    int                       `json:"transitions"`
	LastTransition *Transition               `json:"last_transition,omitempty"`
	Commands       []supervisor.CommandStats `json:"commands"`
	StartedAt      time.Time                 `json:"started_at,omitzero"`
	UpdatedAt      time.Time                 `json:"updated_at,omitzero"`
}

// Daemon connects the activity monitor to the process supervisor.
//
// Every interval it reads IsOccupied, fires the supervisor transition on an
// edge, and ticks the supervisor. All supervisor calls happen on the
// goroutine running Run (or calling Start and Step), which is what lets the
// supervisor go without locks.
type Daemon struct {
	mon      Monitor
	sup      Supervisor
	events   *Dispatcher
	logger   Logger
	interval time.Duration
	now      func() time.Time

	// Orchestrator-owned.
	mu          sync.Mutex
	started     bool
	occupied    bool
	transitions int
	last        *Transition
	startedAt   time.Time

	snapshot atomic.Pointer[Snapshot]
}

// New creates a daemon. It panics if Monitor or Supervisor is nil.
func New(deps Deps) *Daemon {
	if deps.Monitor == nil || deps.Supervisor == nil {
		panic("presence: Monitor and Supervisor are required")
	}

	d := &Daemon{
		mon:      deps.Monitor,
		sup:      deps.Supervisor,
		events:   deps.Events,
		logger:   deps.Logger,
		interval: deps.Interval,
		now:      deps.Now,
	}
	if d.logger == nil {
		d.logger = noopLogger{}
	}
	if d.interval <= 0 {
		d.interval = DefaultInterval
	}
	if d.now == nil {
		d.now = time.Now
	}

	d.snapshot.Store(&Snapshot{State: supervisor.StateUnstarted.String(), Commands: []supervisor.CommandStats{}})
	return d
}

// Start performs the initial dispatch: OnOccupancy if the monitor reports
// occupied, otherwise OnVacancy.
func (d *Daemon) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return ErrAlreadyStarted
	}
	d.started = true
	d.startedAt = d.now()

	occupied := d.mon.IsOccupied()
	d.logger.Info("presence daemon starting",
		"occupied", occupied, "active_pct", d.mon.ActivePercent(), "interval", d.interval)
	d.transition(occupied)
	d.publish()
	return nil
}

// Step runs one orchestrator cycle. It returns the supervisor's
// *supervisor.CrashLoopError, or supervisor.ErrClosed, both of which end
// the daemon.
func (d *Daemon) Step() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if occupied := d.mon.IsOccupied(); occupied != d.occupied {
		d.transition(occupied)
	}

	err := d.sup.Tick()

	now := d.now()
	if d.events != nil {
		d.events.Sampled(Sample{
			ActivePct: d.mon.ActivePercent(),
			Active:    d.mon.IsActive(),
			Occupied:  d.occupied,
			Time:      now,
		})
	}
	d.publish()

	return err
}

// Run calls Start and then Step every interval until ctx is cancelled
// (returning nil) or Step fails (returning its error).
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(); err != nil {
		return err
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("presence daemon stopping", "state", d.sup.State())
			return nil
		case <-ticker.C:
			if err := d.Step(); err != nil {
				return err
			}
		}
	}
}

// Status returns the most recently published snapshot. Safe from any
// goroutine.
func (d *Daemon) Status() Snapshot {
	return *d.snapshot.Load()
}

// transition must be called with mu held.
func (d *Daemon) transition(occupied bool) {
	d.occupied = occupied
	t := Transition{Occupied: occupied, ActivePct: d.mon.ActivePercent(), Time: d.now()}
	d.transitions++
	d.last = &t

	var err error
	if occupied {
		d.logger.Info("space occupied", "active_pct", t.ActivePct)
		err = d.sup.OnOccupancy()
	} else {
		d.logger.Info("space vacant", "active_pct", t.ActivePct)
		err = d.sup.OnVacancy()
	}
	if err != nil {
		// Ordering errors and stop failures are logged by the supervisor
		// too; neither stops the daemon.
		d.logger.Error("occupancy transition reported errors", "occupied", occupied, "error", err)
	}

	if d.events != nil {
		d.events.OccupancyChanged(t)
	}
}

// publish must be called with mu held.
func (d *Daemon) publish() {
	snap := &Snapshot{
		State:       d.sup.State().String(),
		Occupied:    d.occupied,
		Active:      d.mon.IsActive(),
		ActivePct:   d.mon.ActivePercent(),
		Transitions: d.transitions,
		Commands:    d.sup.Stats(),
		StartedAt:   d.startedAt,
		UpdatedAt:   d.now(),
	}
	if d.last != nil {
		last := *d.last
		snap.LastTransition = &last
	}
	d.snapshot.Store(snap)
}
