package reaper

import (
	"errors"
	"os/exec"
	"syscall"
	"testing"
	"time"
)

func TestExitEvent_Success(t *testing.T) {
	tests := []struct {
		name string
		ev   ExitEvent
		want bool
	}{
		{name: "clean exit", ev: ExitEvent{PID: 10, ExitCode: 0}, want: true},
		{name: "non-zero exit", ev: ExitEvent{PID: 10, ExitCode: 2}, want: false},
		{name: "killed", ev: ExitEvent{PID: 10, ExitCode: -1, Signal: syscall.SIGKILL}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ev.Success(); got != tt.want {
				t.Errorf("Success() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExitEvent_String(t *testing.T) {
	if got, want := (ExitEvent{PID: 7, ExitCode: 3}).String(), "pid 7 exited with status 3"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got, want := (ExitEvent{PID: 7, ExitCode: -1, Signal: syscall.SIGTERM}).String(), "pid 7 killed by terminated"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestFake(t *testing.T) {
	f := NewFake()
	f.Exit(100, 1)
	f.Kill(101, syscall.SIGSEGV)

	got := []ExitEvent{<-f.Events(), <-f.Events()}
	want := []ExitEvent{
		{PID: 100, ExitCode: 1},
		{PID: 101, ExitCode: -1, Signal: syscall.SIGSEGV},
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	if f.Closed() {
		t.Error("Closed() = true before Close")
	}
	if err := f.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if !f.Closed() {
		t.Error("Closed() = false after Close")
	}
}

func TestInstall_Exclusive(t *testing.T) {
	s, err := Install(nil)
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	if _, err := Install(nil); !errors.Is(err, ErrAlreadyInstalled) {
		t.Errorf("second Install() error = %v, want %v", err, ErrAlreadyInstalled)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	s2, err := Install(nil)
	if err != nil {
		t.Fatalf("Install() after Close error = %v", err)
	}
	s2.Close()
}

func TestSignalSource_ReapsChildren(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	s, err := Install(nil)
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	defer s.Close()

	tests := []struct {
		name     string
		script   string
		wantCode int
		wantSig  syscall.Signal
	}{
		{name: "exit status", script: "exit 3", wantCode: 3},
		{name: "clean exit", script: "exit 0", wantCode: 0},
		{name: "killed", script: "kill -KILL $$", wantCode: -1, wantSig: syscall.SIGKILL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := exec.Command("sh", "-c", tt.script)
			if err := cmd.Start(); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			pid := cmd.Process.Pid
			cmd.Process.Release()

			ev := waitFor(t, s, pid)
			if ev.ExitCode != tt.wantCode || ev.Signal != tt.wantSig {
				t.Errorf("event = %+v, want code %d signal %v", ev, tt.wantCode, tt.wantSig)
			}
		})
	}
}

func waitFor(t *testing.T, s Source, pid int) ExitEvent {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.PID == pid {
				return ev
			}
		case <-timeout:
			t.Fatalf("no exit event for pid %d", pid)
		}
	}
}
