package sensor

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// WatchedFile is a mock sensor driven by a single file on disk.
//
// Every pin reads the same level: the first byte of the file, '1' meaning
// presence. The file is re-read whenever fsnotify reports a change, so
// ReadPin never touches the disk. Use it for bench testing:
//
//	echo 1 > gpio_mock   # someone walks in
//	echo 0 > gpio_mock   # room empties
type WatchedFile struct {
	path    string
	logger  Logger
	watcher *fsnotify.Watcher

	level   atomic.Bool
	lastErr atomic.Pointer[error]

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewWatchedFile starts watching path and returns the driver.
//
// The parent directory is watched rather than the file itself so that
// editors which replace the file on save are still picked up. A missing
// file reads as an error until it is created.
func NewWatchedFile(path string, logger Logger) (*WatchedFile, error) {
	if logger == nil {
		logger = noopLogger{}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving mock sensor path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	w := &WatchedFile{
		path:    abs,
		logger:  logger,
		watcher: watcher,
		done:    make(chan struct{}),
	}
	w.reload()

	w.wg.Add(1)
	go w.watch()

	return w, nil
}

// ReadPin returns the cached file level. The pin must still be valid.
func (w *WatchedFile) ReadPin(pin int) (bool, error) {
	if !ValidPin(pin) {
		return false, fmt.Errorf("%w: %d", ErrInvalidPin, pin)
	}
	if errp := w.lastErr.Load(); errp != nil {
		return false, *errp
	}
	return w.level.Load(), nil
}

// Close stops the watcher goroutine.
func (w *WatchedFile) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}

func (w *WatchedFile) watch() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) ||
				ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("mock sensor watch error", "path", w.path, "error", err)
		}
	}
}

func (w *WatchedFile) reload() {
	level, err := readLevel(w.path)
	if err != nil {
		// A truncate-then-write shows up as an empty read first; keep the old level.
		if errors.Is(err, ErrEmptyReading) {
			return
		}
		w.lastErr.Store(&err)
		return
	}
	w.lastErr.Store(nil)
	if old := w.level.Swap(level); old != level {
		w.logger.Debug("mock sensor level changed", "path", w.path, "high", level)
	}
}
