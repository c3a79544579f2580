package supervisor

import (
	"time"

	"github.com/nerrad567/pipresencemon/internal/reaper"
)

// EventKind classifies supervisor events.
type EventKind string

// Event kinds.
const (
	EventLaunched      EventKind = "launched"
	EventRestarted     EventKind = "restarted"
	EventSpawnFailed   EventKind = "spawn_failed"
	EventStopped       EventKind = "stopped"
	EventCrashed       EventKind = "crashed"
	EventExited        EventKind = "exited"
	EventAbandoned     EventKind = "abandoned"
	EventGaveUp        EventKind = "gave_up"
	EventUntrackedExit EventKind = "untracked_exit"
	EventCrashLoop     EventKind = "crash_loop"
)

// Event describes something that happened to a managed command.
type Event struct {
	Kind         EventKind `json:"kind"`
	Set          string    `json:"set,omitempty"`
	Index        int       `json:"index"`
	Command      string    `json:"command,omitempty"`
	PID          int       `json:"pid,omitempty"`
	ExitCode     int       `json:"exit_code"`
	Signal       string    `json:"signal,omitempty"`
	RestartCount int       `json:"restart_count"`
	Error        string    `json:"error,omitempty"`
	Time         time.Time `json:"time"`
}

func (s *Supervisor) emit(kind EventKind, cmd *ManagedCommand, pid int, exit *reaper.ExitEvent, err error) {
	if s.onEvent == nil {
		return
	}

	ev := Event{
		Kind:  kind,
		Index: -1,
		PID:   pid,
		Time:  s.now(),
	}
	if cmd != nil {
		ev.Set = cmd.set
		ev.Index = cmd.index
		ev.Command = cmd.String()
		ev.RestartCount = cmd.restartCount
	}
	if exit != nil {
		ev.ExitCode = exit.ExitCode
		if exit.Signal != 0 {
			ev.Signal = exit.Signal.String()
		}
	}
	if err != nil {
		ev.Error = err.Error()
	}

	s.onEvent(ev)
}

// HasExit reports whether the event carries an exit status.
func (e Event) HasExit() bool {
	switch e.Kind {
	case EventStopped, EventExited, EventCrashed, EventUntrackedExit:
		return true
	}
	return false
}
