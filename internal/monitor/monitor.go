package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/pipresencemon/internal/sensor"
)

// Sentinel errors returned by New.
var (
	ErrUnstableThresholds = errors.New("monitor: falling threshold above rising threshold")
	ErrInvalidThreshold   = errors.New("monitor: threshold outside 0..100")
	ErrInvalidPin         = errors.New("monitor: invalid sensor pin")
	ErrInvalidWindow      = errors.New("monitor: window shorter than one poll period")
	ErrNilReader          = errors.New("monitor: sensor reader is required")
	ErrAlreadyStarted     = errors.New("monitor: already started")
)

// Config holds the sampling and hysteresis parameters.
type Config struct {
	// Pin is the GPIO input the motion sensor is wired to.
	Pin int

	// PollPeriod is the time between sensor reads.
	PollPeriod time.Duration

	// WindowSeconds is how much history feeds the active percentage.
	// The window holds WindowSeconds/PollPeriod samples.
	WindowSeconds int

	// RisingThresholdPct must be strictly exceeded to become active.
	RisingThresholdPct int

	// FallingThresholdPct must be strictly undercut to become inactive.
	FallingThresholdPct int

	// InitialActive pre-fills the window with presence.
	InitialActive bool

	// VacancyHoldOff delays the occupied to vacant edge after the window
	// becomes inactive. Zero makes IsOccupied identical to IsActive.
	VacancyHoldOff time.Duration

	// Debug logs every reading.
	Debug bool
}

// Logger defines the logging interface for the monitor.
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

// Reading is the outcome of one sampling cycle.
type Reading struct {
	Value     bool
	Err       error
	ActivePct int
	Active    bool
	Occupied  bool

	// Changed is set when Active flipped on this reading.
	Changed bool
}

// Monitor samples a motion sensor into a sliding window and derives a
// hysteretic activity signal from it.
//
// Thread Safety:
//   - ActivePercent, IsActive and IsOccupied are single atomic loads and may
//     be called from any goroutine while sampling runs. There is no
//     cross-field atomicity between them.
//   - Sampling is serialised internally.
type Monitor struct {
	cfg    Config
	reader sensor.Reader
	logger Logger

	// Sampler-owned state.
	sampleMu     sync.Mutex
	window       *SampleWindow
	holdCycles   int
	holdLeft     int
	readFailing  bool
	lastReadErr  string
	samplesTaken uint64

	// Reader-visible state.
	activePct atomic.Int32
	active    atomic.Bool
	occupied  atomic.Bool

	runMu   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// New validates cfg and creates a Monitor. Sampling does not begin until Start.
func New(cfg Config, reader sensor.Reader, logger Logger) (*Monitor, error) {
	if reader == nil {
		return nil, ErrNilReader
	}
	if logger == nil {
		logger = noopLogger{}
	}
	if !sensor.ValidPin(cfg.Pin) {
		return nil, fmt.Errorf("%w: %d (expected 0..%d)", ErrInvalidPin, cfg.Pin, sensor.PinCount-1)
	}
	for _, pct := range []int{cfg.RisingThresholdPct, cfg.FallingThresholdPct} {
		if pct < 0 || pct > 100 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidThreshold, pct)
		}
	}
	if cfg.FallingThresholdPct > cfg.RisingThresholdPct {
		return nil, fmt.Errorf("%w: falling %d%% > rising %d%%",
			ErrUnstableThresholds, cfg.FallingThresholdPct, cfg.RisingThresholdPct)
	}
	if cfg.PollPeriod <= 0 {
		return nil, fmt.Errorf("%w: poll period %v", ErrInvalidWindow, cfg.PollPeriod)
	}

	size := int(time.Duration(cfg.WindowSeconds) * time.Second / cfg.PollPeriod)
	if size < 1 {
		return nil, fmt.Errorf("%w: %ds window, %v poll period", ErrInvalidWindow, cfg.WindowSeconds, cfg.PollPeriod)
	}

	m := &Monitor{
		cfg:        cfg,
		reader:     reader,
		logger:     logger,
		window:     NewSampleWindow(size, cfg.InitialActive),
		holdCycles: int((cfg.VacancyHoldOff + cfg.PollPeriod - 1) / cfg.PollPeriod),
	}
	m.activePct.Store(int32(m.window.Percent()))
	m.active.Store(cfg.InitialActive)
	m.occupied.Store(cfg.InitialActive)
	if cfg.InitialActive {
		m.holdLeft = m.holdCycles
	}

	return m, nil
}

// Start launches the sampling goroutine. It runs until ctx is cancelled or
// Stop is called. A stop request is honoured within one poll period.
func (m *Monitor) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.started {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.started = true

	m.logger.Info("activity monitor started",
		"pin", m.cfg.Pin,
		"poll_period", m.cfg.PollPeriod,
		"window_len", m.window.Len(),
		"rising_pct", m.cfg.RisingThresholdPct,
		"falling_pct", m.cfg.FallingThresholdPct,
		"hold_off_cycles", m.holdCycles,
	)

	go m.run(ctx, m.done)
	return nil
}

// Stop cancels sampling and waits for the goroutine to exit.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	cancel, done := m.cancel, m.done
	m.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.PollPeriod)
	defer ticker.Stop()

	for {
		m.SampleOnce()

		select {
		case <-ctx.Done():
			m.logger.Debug("activity monitor stopped", "samples", m.samples())
			return
		case <-ticker.C:
		}
	}
}

// SampleOnce performs a single sampling cycle: read the sensor, push the
// reading into the window, recompute the percentage and apply hysteresis.
//
// Start calls it on every tick. It is exported so callers can drive the
// monitor by hand, e.g. from a test or a replayed trace.
func (m *Monitor) SampleOnce() Reading {
	m.sampleMu.Lock()
	defer m.sampleMu.Unlock()

	value, err := m.reader.ReadPin(m.cfg.Pin)
	if err != nil {
		value = false
		m.noteReadFailure(err)
	} else if m.readFailing {
		m.readFailing = false
		m.lastReadErr = ""
		m.logger.Info("sensor reads recovered", "pin", m.cfg.Pin)
	}

	m.window.Push(value)
	m.samplesTaken++
	pct := m.window.Percent()

	wasActive := m.active.Load()
	active := wasActive
	switch {
	case !wasActive && pct > m.cfg.RisingThresholdPct:
		active = true
	case wasActive && pct < m.cfg.FallingThresholdPct:
		active = false
	}

	occupied := m.occupied.Load()
	if active {
		occupied = true
		m.holdLeft = m.holdCycles
	} else if occupied {
		if m.holdLeft == 0 {
			occupied = false
		} else {
			m.holdLeft--
		}
	}

	m.activePct.Store(int32(pct))
	m.active.Store(active)
	if occupied != m.occupied.Swap(occupied) && m.holdCycles > 0 {
		m.logger.Info("occupancy changed", "occupied", occupied, "active_pct", pct)
	}

	if m.cfg.Debug {
		m.logger.Debug("sensor reading", "pin", m.cfg.Pin, "value", value, "active_pct", pct, "active", active)
	}
	if active != wasActive {
		m.logger.Info("activity changed",
			"active", active,
			"active_pct", pct,
			"rising_pct", m.cfg.RisingThresholdPct,
			"falling_pct", m.cfg.FallingThresholdPct,
		)
	}

	return Reading{
		Value:     value,
		Err:       err,
		ActivePct: pct,
		Active:    active,
		Occupied:  occupied,
		Changed:   active != wasActive,
	}
}

// noteReadFailure logs the first failure of a run loudly and repeats quietly.
func (m *Monitor) noteReadFailure(err error) {
	if !m.readFailing || err.Error() != m.lastReadErr {
		m.logger.Warn("sensor read failed, treating as no motion", "pin", m.cfg.Pin, "error", err)
	} else {
		m.logger.Debug("sensor read still failing", "pin", m.cfg.Pin, "error", err)
	}
	m.readFailing = true
	m.lastReadErr = err.Error()
}

func (m *Monitor) samples() uint64 {
	m.sampleMu.Lock()
	defer m.sampleMu.Unlock()
	return m.samplesTaken
}

// ActivePercent returns the share of recent samples that saw motion, 0..100.
func (m *Monitor) ActivePercent() int {
	return int(m.activePct.Load())
}

// IsActive reports the hysteretic activity state.
func (m *Monitor) IsActive() bool {
	return m.active.Load()
}

// IsOccupied reports IsActive with the vacancy hold-off applied.
func (m *Monitor) IsOccupied() bool {
	return m.occupied.Load()
}

// WindowLen returns the number of samples in the window.
func (m *Monitor) WindowLen() int {
	return m.window.Len()
}

// Config returns the configuration the monitor was built with.
func (m *Monitor) Config() Config {
	return m.cfg
}
