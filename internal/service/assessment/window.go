package assessment

// DefaultWindowSize is the number of frames averaged into the displayed damage value.
const DefaultWindowSize = 20

// Window is a fixed-capacity ring buffer of per-frame damage percentages.
// Once full, each Push overwrites the oldest value.
type Window struct {
	values []float64
	next   int
	full   bool
}

// NewWindow creates an empty window. Non-positive sizes fall back to DefaultWindowSize.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Window{values: make([]float64, size)}
}

// Push appends v, evicting the oldest value when the window is full.
func (w *Window) Push(v float64) {
	w.values[w.next] = v
	w.next++
	if w.next == len(w.values) {
		w.next = 0
		w.full = true
	}
}

// Len is the number of values currently held.
func (w *Window) Len() int {
	if w.full {
		return len(w.values)
	}
	return w.next
}

// Cap is the window capacity.
func (w *Window) Cap() int {
	return len(w.values)
}

// Mean is the arithmetic mean of the held values, or 0 when empty.
func (w *Window) Mean() float64 {
	n := w.Len()
	if n == 0 {
		return 0
	}
	var sum float64
	for _, v := range w.Values() {
		sum += v
	}
	return sum / float64(n)
}

// Values returns the held values, oldest first.
func (w *Window) Values() []float64 {
	if !w.full {
		out := make([]float64, w.next)
		copy(out, w.values[:w.next])
		return out
	}
	out := make([]float64, 0, len(w.values))
	out = append(out, w.values[w.next:]...)
	return append(out, w.values[:w.next]...)
}

// Reset empties the window without changing its capacity.
func (w *Window) Reset() {
	for i := range w.values {
		w.values[i] = 0
	}
	w.next = 0
	w.full = false
}
