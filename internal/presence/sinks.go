package presence

import (
	"context"
	"time"

	"github.com/nerrad567/pipresencemon/internal/history"
	"github.com/nerrad567/pipresencemon/internal/infrastructure/mqtt"
	"github.com/nerrad567/pipresencemon/internal/supervisor"
)

// pruneEvery is how often the history sink applies its retention.
const pruneEvery = 24 * time.Hour

// HistorySink records transitions and command events in the history store
// and prunes entries older than Retention.
type HistorySink struct {
	repo      history.Repository
	retention time.Duration
	logger    Logger

	lastPrune time.Time
}

// NewHistorySink creates a history sink. retention <= 0 keeps everything.
func NewHistorySink(repo history.Repository, retention time.Duration, logger Logger) *HistorySink {
	if logger == nil {
		logger = noopLogger{}
	}
	return &HistorySink{repo: repo, retention: retention, logger: logger}
}

// Name implements Sink.
func (h *HistorySink) Name() string { return "history" }

// OccupancyChanged implements Sink.
func (h *HistorySink) OccupancyChanged(ctx context.Context, t Transition) error {
	event := history.EventVacant
	if t.Occupied {
		event = history.EventOccupied
	}
	return h.repo.Create(ctx, &history.Entry{
		Kind:      history.KindOccupancy,
		Event:     event,
		ActivePct: float64(t.ActivePct),
		CreatedAt: t.Time,
	})
}

// CommandEvent implements Sink.
func (h *HistorySink) CommandEvent(ctx context.Context, ev supervisor.Event) error {
	e := &history.Entry{
		Kind:         history.KindCommand,
		Event:        string(ev.Kind),
		Set:          ev.Set,
		Command:      ev.Command,
		PID:          ev.PID,
		Signal:       ev.Signal,
		RestartCount: ev.RestartCount,
		Error:        ev.Error,
		CreatedAt:    ev.Time,
	}
	if ev.Index >= 0 {
		e.Index = history.IntPtr(ev.Index)
	}
	if ev.HasExit() {
		e.ExitCode = history.IntPtr(ev.ExitCode)
	}
	return h.repo.Create(ctx, e)
}

// Sampled applies retention at most once per day. Samples themselves are
// not stored; InfluxDB holds the time series.
func (h *HistorySink) Sampled(ctx context.Context, s Sample) error {
	if h.retention <= 0 || s.Time.Sub(h.lastPrune) < pruneEvery {
		return nil
	}
	h.lastPrune = s.Time

	n, err := h.repo.Prune(ctx, s.Time.Add(-h.retention))
	if err != nil {
		return err
	}
	if n > 0 {
		h.logger.Info("pruned presence history", "entries", n, "retention", h.retention)
	}
	return nil
}

// Publisher is the part of the MQTT client the MQTT sink needs.
type Publisher interface {
	PublishJSON(topic string, v any, qos byte, retained bool) error
	QoS() byte
	Topics() mqtt.Topics
}

// MQTTSink publishes to the site's topics. Occupancy is retained so new
// subscribers see the current state; samples go out at QoS 0.
type MQTTSink struct {
	pub Publisher
}

// NewMQTTSink creates an MQTT sink.
func NewMQTTSink(pub Publisher) *MQTTSink {
	return &MQTTSink{pub: pub}
}

// Name implements Sink.
func (m *MQTTSink) Name() string { return "mqtt" }

// OccupancyChanged implements Sink.
func (m *MQTTSink) OccupancyChanged(_ context.Context, t Transition) error {
	return m.pub.PublishJSON(m.pub.Topics().Occupancy(), t, m.pub.QoS(), true)
}

// CommandEvent implements Sink. Exits of untracked processes have no
// command topic and are left to the log and history.
func (m *MQTTSink) CommandEvent(_ context.Context, ev supervisor.Event) error {
	if ev.Set == "" || ev.Index < 0 {
		return nil
	}
	return m.pub.PublishJSON(m.pub.Topics().CommandEvent(ev.Set, ev.Index), ev, m.pub.QoS(), false)
}

// Sampled implements Sink.
func (m *MQTTSink) Sampled(_ context.Context, s Sample) error {
	return m.pub.PublishJSON(m.pub.Topics().Activity(), s, 0, false)
}

// MetricsWriter is the part of the InfluxDB client the metrics sink needs.
type MetricsWriter interface {
	WriteActivity(activePct float64, active, occupied bool, ts time.Time)
	WriteOccupancy(occupied bool, activePct float64, ts time.Time)
	WriteCommandEvent(set string, index int, kind string, exitCode, restartCount int, ts time.Time)
}

// MetricsSink writes every event as an InfluxDB point. Writes are batched by
// the client and failures arrive through its error callback, so the sink
// itself never fails.
type MetricsSink struct {
	w MetricsWriter
}

// NewMetricsSink creates a metrics sink.
func NewMetricsSink(w MetricsWriter) *MetricsSink {
	return &MetricsSink{w: w}
}

// Name implements Sink.
func (m *MetricsSink) Name() string { return "influxdb" }

// OccupancyChanged implements Sink.
func (m *MetricsSink) OccupancyChanged(_ context.Context, t Transition) error {
	m.w.WriteOccupancy(t.Occupied, float64(t.ActivePct), t.Time)
	return nil
}

// CommandEvent implements Sink.
func (m *MetricsSink) CommandEvent(_ context.Context, ev supervisor.Event) error {
	set := ev.Set
	if set == "" {
		set = "untracked"
	}
	m.w.WriteCommandEvent(set, ev.Index, string(ev.Kind), ev.ExitCode, ev.RestartCount, ev.Time)
	return nil
}

// Sampled implements Sink.
func (m *MetricsSink) Sampled(_ context.Context, s Sample) error {
	m.w.WriteActivity(float64(s.ActivePct), s.Active, s.Occupied, s.Time)
	return nil
}

// LogSink logs every transition and command event at Debug. It is always
// installed so the dispatcher is exercised even with no outputs enabled.
type LogSink struct {
	logger Logger
}

// NewLogSink creates a log sink.
func NewLogSink(logger Logger) *LogSink {
	if logger == nil {
		logger = noopLogger{}
	}
	return &LogSink{logger: logger}
}

// Name implements Sink.
func (l *LogSink) Name() string { return "log" }

// OccupancyChanged implements Sink.
func (l *LogSink) OccupancyChanged(_ context.Context, t Transition) error {
	l.logger.Debug("occupancy event", "occupied", t.Occupied, "active_pct", t.ActivePct)
	return nil
}

// CommandEvent implements Sink.
func (l *LogSink) CommandEvent(_ context.Context, ev supervisor.Event) error {
	l.logger.Debug("command event", "kind", ev.Kind, "set", ev.Set, "index", ev.Index, "pid", ev.PID)
	return nil
}

// Sampled implements Sink.
func (l *LogSink) Sampled(context.Context, Sample) error { return nil }

// Compile-time checks.
var (
	_ Sink = (*HistorySink)(nil)
	_ Sink = (*MQTTSink)(nil)
	_ Sink = (*MetricsSink)(nil)
	_ Sink = (*LogSink)(nil)
)
