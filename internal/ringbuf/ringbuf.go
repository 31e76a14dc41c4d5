// Package ringbuf provides a fixed-size float64 ring buffer used as the
// rolling window behind simple moving averages and rolling standard
// deviations. Every Push is O(1): the running mean and the sum of squared
// deviations are updated incrementally, and recomputed from the held values
// once per window length so rounding error cannot build up.
package ringbuf

import "math"

// Window is a rolling window over the last Size() values.
// It is not safe for concurrent use; each indicator owns its window.
type Window struct {
	buf   []float64
	idx   int // next write position
	count int // values currently held, <= len(buf)

	nonzero   int // held values != 0
	sinceSync int // evictions since the last exact recompute

	mean float64
	m2   float64 // sum of squared deviations from mean (Welford)
}

// New creates a window of the given size. Minimum size is 1.
func New(size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{buf: make([]float64, size)}
}

// Push adds v to the window, evicting the oldest value once full.
// Returns the evicted value and whether an eviction happened.
func (w *Window) Push(v float64) (float64, bool) {
	if w.count < len(w.buf) {
		w.buf[w.idx] = v
		w.idx = (w.idx + 1) % len(w.buf)
		w.count++
		if v != 0 {
			w.nonzero++
		}

		// Welford add
		delta := v - w.mean
		w.mean += delta / float64(w.count)
		w.m2 += delta * (v - w.mean)
		return 0, false
	}

	old := w.buf[w.idx]
	w.buf[w.idx] = v
	w.idx = (w.idx + 1) % len(w.buf)
	if old != 0 {
		w.nonzero--
	}
	if v != 0 {
		w.nonzero++
	}

	w.sinceSync++
	switch {
	case w.nonzero == 0:
		w.mean, w.m2 = 0, 0
	case w.sinceSync >= len(w.buf):
		w.resync()
	default:
		// Replace old with v at fixed n
		n := float64(w.count)
		oldMean := w.mean
		w.mean += (v - old) / n
		w.m2 += (v - old) * (v - w.mean + old - oldMean)
		if w.m2 < 0 {
			// rounding on near-constant windows
			w.m2 = 0
		}
	}
	return old, true
}

// resync recomputes mean and m2 with a fresh Welford pass over the held
// values. Only called on a full window.
func (w *Window) resync() {
	w.sinceSync = 0
	w.mean, w.m2 = 0, 0
	for i, x := range w.buf {
		delta := x - w.mean
		w.mean += delta / float64(i+1)
		w.m2 += delta * (x - w.mean)
	}
}

// Full returns true once Size() values have been pushed.
func (w *Window) Full() bool { return w.count == len(w.buf) }

// Len returns the number of values currently held.
func (w *Window) Len() int { return w.count }

// Size returns the window capacity.
func (w *Window) Size() int { return len(w.buf) }

// Mean returns the mean of the held values, NaN when empty.
func (w *Window) Mean() float64 {
	if w.count == 0 {
		return math.NaN()
	}
	return w.mean
}

// SampleStdDev returns the sample (n-1) standard deviation of the held
// values, NaN with fewer than two values.
func (w *Window) SampleStdDev() float64 {
	if w.count < 2 {
		return math.NaN()
	}
	return math.Sqrt(w.m2 / float64(w.count-1))
}

// Reset clears the window for reuse.
func (w *Window) Reset() {
	w.idx = 0
	w.count = 0
	w.nonzero = 0
	w.sinceSync = 0
	w.mean = 0
	w.m2 = 0
	for i := range w.buf {
		w.buf[i] = 0
	}
}
