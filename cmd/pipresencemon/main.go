// pipresencemon turns a PIR motion sensor into an occupancy signal and runs
// one set of commands while the space is occupied and another while it is
// vacant, restarting crashed commands and giving up on crash loops.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/pipresencemon/internal/supervisor"
)

// Version information, set at build time via ldflags:
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Process exit codes.
const (
	exitOK        = 0
	exitError     = 1
	exitCrashLoop = 70 // EX_SOFTWARE
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := NewRootCmd().ExecuteContext(ctx)
	code := exitCode(err)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	cancel()
	os.Exit(code)
}

// exitCode maps the error returned by a command to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var loop *supervisor.CrashLoopError
	if errors.As(err, &loop) {
		return exitCrashLoop
	}
	return exitError
}
