// Package supervisor runs commands in response to occupancy changes.
//
// Two command sets are configured: one launched when the space becomes
// occupied and one when it becomes vacant. Each transition stops the
// opposing set first, synchronously, so the two never contend for a shared
// resource such as the display.
//
// State machine:
//
//	Unstarted --OnOccupancy--> Occupied --OnVacancy--> Vacant --OnOccupancy--> ...
//	Unstarted --OnVacancy----> Vacant
//
// Crash handling is driven by Tick, called once per time unit:
//
//   - a command that exits non-zero while desired is a crash
//   - a crashed command with should_restart_on_crash waits RestartCooldown
//     ticks, then is relaunched and its restart count incremented
//   - a command exiting zero while desired has completed and is left alone
//   - MaxRestarts (per command) gives up on one command, non-fatally
//   - CrashLoopThreshold (global) makes Tick return *CrashLoopError, which
//     the daemon treats as fatal
//
// Exit status arrives as reaper.ExitEvent values on a channel and is
// processed on the caller's goroutine, so the supervisor needs no locks.
package supervisor
