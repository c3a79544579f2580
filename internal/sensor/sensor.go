package sensor

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// PinCount is the number of pins in the GPIO input register.
const PinCount = 32

// Sentinel errors.
var (
	// ErrInvalidPin is returned for a pin outside [0, PinCount).
	ErrInvalidPin = errors.New("invalid sensor pin")

	// ErrEmptyReading is returned when the value file has no content.
	ErrEmptyReading = errors.New("empty sensor reading")
)

// Reader reads the current level of a single GPIO input pin.
//
// Implementations must be safe for use from the monitor's sampling goroutine
// while other goroutines call ReadPin for diagnostics.
type Reader interface {
	ReadPin(pin int) (bool, error)
}

// ReaderFunc adapts a plain function to the Reader interface.
type ReaderFunc func(pin int) (bool, error)

// ReadPin calls f(pin).
func (f ReaderFunc) ReadPin(pin int) (bool, error) {
	return f(pin)
}

// Logger defines the logging interface for sensor drivers.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ValidPin reports whether pin addresses a bit of the input register.
func ValidPin(pin int) bool {
	return pin >= 0 && pin < PinCount
}

// FileReader reads pins from per-pin value files, such as the sysfs GPIO
// interface at /sys/class/gpio/gpio<N>/value.
type FileReader struct {
	// PathTemplate is formatted with the pin number.
	PathTemplate string
}

// NewFileReader creates a FileReader for the given path template.
func NewFileReader(pathTemplate string) *FileReader {
	return &FileReader{PathTemplate: pathTemplate}
}

// ReadPin returns true when the pin's value file starts with '1'.
func (r *FileReader) ReadPin(pin int) (bool, error) {
	if !ValidPin(pin) {
		return false, fmt.Errorf("%w: %d", ErrInvalidPin, pin)
	}
	return readLevel(fmt.Sprintf(r.PathTemplate, pin))
}

// readLevel reads the first byte of path; '1' is high, anything else low.
func readLevel(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var b [1]byte
	n, err := f.Read(b[:])
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return false, fmt.Errorf("reading %s: %w", path, ErrEmptyReading)
		}
		return false, fmt.Errorf("reading %s: %w", path, err)
	}
	return b[0] == '1', nil
}

// ReadAll reads every pin in [0, PinCount) and returns them as a bitmask.
// Pins whose value file cannot be read are reported low.
func ReadAll(r Reader) uint32 {
	var mask uint32
	for pin := 0; pin < PinCount; pin++ {
		if high, err := r.ReadPin(pin); err == nil && high {
			mask |= 1 << uint(pin)
		}
	}
	return mask
}
