// Package process starts and signals the commands pipresencemon manages.
//
// This package only knows how to create a child in its own process group and
// how to signal that group. Restart policy, cooldowns and crash detection live
// in package supervisor; exit status collection lives in package reaper.
//
// Features:
//   - New process group per child (Setpgid) so shell wrappers and their
//     children are signalled together
//   - Children inherit the daemon's stdout and stderr
//   - ESRCH is surfaced as ErrNoSuchProcess
//
// Example usage:
//
//	sp := &process.ExecSpawner{}
//	pid, err := sp.Spawn([]string{"mpg123", "/srv/music/playlist.mp3"})
//	if err != nil {
//	    return err
//	}
//	// later
//	_ = sp.Signal(pid, syscall.SIGINT)
package process
