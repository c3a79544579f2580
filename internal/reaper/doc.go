// Package reaper turns child process exits into events.
//
// SignalSource listens for SIGCHLD, collects every exited child with
// wait4(-1, WNOHANG) and pushes an ExitEvent per child onto a buffered
// channel. Nothing else happens on notification: the supervisor consumes the
// channel on its own goroutine and owns all command state.
//
// The SIGCHLD registration is process-wide, so Install refuses a second live
// instance. Tests use Fake instead, which has no such limit.
package reaper
