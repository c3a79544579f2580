package sensor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeLevel(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestValidPin(t *testing.T) {
	tests := []struct {
		pin  int
		want bool
	}{
		{-1, false},
		{0, true},
		{17, true},
		{31, true},
		{32, false},
		{40, false},
	}

	for _, tt := range tests {
		if got := ValidPin(tt.pin); got != tt.want {
			t.Errorf("ValidPin(%d) = %v, want %v", tt.pin, got, tt.want)
		}
	}
}

func TestFileReader_ReadPin(t *testing.T) {
	dir := t.TempDir()
	r := NewFileReader(filepath.Join(dir, "gpio%d"))

	writeLevel(t, filepath.Join(dir, "gpio4"), "1\n")
	writeLevel(t, filepath.Join(dir, "gpio5"), "0\n")
	writeLevel(t, filepath.Join(dir, "gpio6"), "")

	tests := []struct {
		name    string
		pin     int
		want    bool
		wantErr error
	}{
		{name: "high", pin: 4, want: true},
		{name: "low", pin: 5, want: false},
		{name: "empty file", pin: 6, wantErr: ErrEmptyReading},
		{name: "invalid pin", pin: 32, wantErr: ErrInvalidPin},
		{name: "missing file", pin: 7, wantErr: os.ErrNotExist},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.ReadPin(tt.pin)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ReadPin(%d) error = %v, want %v", tt.pin, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadPin(%d) error = %v", tt.pin, err)
			}
			if got != tt.want {
				t.Errorf("ReadPin(%d) = %v, want %v", tt.pin, got, tt.want)
			}
		})
	}
}

func TestReadAll(t *testing.T) {
	r := ReaderFunc(func(pin int) (bool, error) {
		switch pin {
		case 0, 4:
			return true, nil
		case 5:
			return false, errors.New("unreadable")
		}
		return false, nil
	})

	if got, want := ReadAll(r), uint32(1<<0|1<<4); got != want {
		t.Errorf("ReadAll() = %032b, want %032b", got, want)
	}
}

func TestWatchedFile_FollowsWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gpio_mock")
	writeLevel(t, path, "0\n")

	w, err := NewWatchedFile(path, nil)
	if err != nil {
		t.Fatalf("NewWatchedFile() error = %v", err)
	}
	defer w.Close()

	if got, err := w.ReadPin(4); err != nil || got {
		t.Fatalf("ReadPin() = %v, %v, want false, nil", got, err)
	}

	writeLevel(t, path, "1\n")
	waitForLevel(t, w, true)

	writeLevel(t, path, "0\n")
	waitForLevel(t, w, false)
}

func TestWatchedFile_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gpio_mock")

	w, err := NewWatchedFile(path, nil)
	if err != nil {
		t.Fatalf("NewWatchedFile() error = %v", err)
	}
	defer w.Close()

	if _, err := w.ReadPin(0); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("ReadPin() error = %v, want not exist", err)
	}

	writeLevel(t, path, "1")
	waitForLevel(t, w, true)
}

func TestWatchedFile_InvalidPin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gpio_mock")
	writeLevel(t, path, "1")

	w, err := NewWatchedFile(path, nil)
	if err != nil {
		t.Fatalf("NewWatchedFile() error = %v", err)
	}
	defer w.Close()

	if _, err := w.ReadPin(-1); !errors.Is(err, ErrInvalidPin) {
		t.Errorf("ReadPin(-1) error = %v, want %v", err, ErrInvalidPin)
	}
}

func TestWatchedFile_CloseIdempotent(t *testing.T) {
	w, err := NewWatchedFile(filepath.Join(t.TempDir(), "gpio_mock"), nil)
	if err != nil {
		t.Fatalf("NewWatchedFile() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("first Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func waitForLevel(t *testing.T, w *WatchedFile, want bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got, err := w.ReadPin(0); err == nil && got == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	got, err := w.ReadPin(0)
	t.Fatalf("ReadPin() = %v, %v after 3s, want %v", got, err, want)
}
