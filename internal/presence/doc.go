// Package presence runs the daemon loop that joins the activity monitor to
// the process supervisor.
//
// The Daemon samples the monitor once per interval, turns occupancy edges
// into supervisor transitions and ticks the supervisor. A Dispatcher fans
// transitions, command events and samples out to sinks (history, MQTT,
// InfluxDB, WebSocket) on a separate goroutine so outputs never stall
// supervision.
package presence
