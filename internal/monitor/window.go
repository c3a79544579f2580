package monitor

// SampleWindow is a fixed-capacity ring buffer of boolean samples that keeps
// a running count of true entries, so the active percentage is O(1).
//
// Invariant: count equals the number of true entries currently resident.
//
// SampleWindow is not safe for concurrent use.
type SampleWindow struct {
	slots  []bool
	cursor int
	count  int
}

// NewSampleWindow creates a window of size slots, every slot set to fill.
// A size below one is treated as one.
func NewSampleWindow(size int, fill bool) *SampleWindow {
	if size < 1 {
		size = 1
	}
	w := &SampleWindow{slots: make([]bool, size)}
	if fill {
		for i := range w.slots {
			w.slots[i] = true
		}
		w.count = size
	}
	return w
}

// Push evicts the oldest sample and inserts v in its place.
func (w *SampleWindow) Push(v bool) {
	if w.slots[w.cursor] {
		w.count--
	}
	w.slots[w.cursor] = v
	if v {
		w.count++
	}
	w.cursor = (w.cursor + 1) % len(w.slots)
}

// Count returns the number of true samples in the window.
func (w *SampleWindow) Count() int {
	return w.count
}

// Len returns the window capacity.
func (w *SampleWindow) Len() int {
	return len(w.slots)
}

// Percent returns 100*Count/Len, truncated.
func (w *SampleWindow) Percent() int {
	return 100 * w.count / len(w.slots)
}
