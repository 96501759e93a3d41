// Package counters implements the two rolling-window telemetry counters
// that sit in the admission scheduler's completion path: a mean of the last
// N service-time samples, and an events-per-second rate over the last N
// completions.
package counters

import (
	"errors"
	"sync"
	"time"
)

// ErrInvalidSampleSize is returned by NewRollingAverage/NewRollingRate when
// asked for a non-positive capacity.
var ErrInvalidSampleSize = errors.New("counters: sample size must be >= 1")

// RollingAverage is a fixed-capacity ring buffer of integer samples plus a
// running sum.
type RollingAverage struct {
	mu      sync.Mutex
	samples []int64
	sum     int64
	write   int
	read    int
	count   int // number of valid samples, caps at len(samples)
}

// NewRollingAverage creates a RollingAverage with capacity size. size must
// be >= 1.
func NewRollingAverage(size int) (*RollingAverage, error) {
	if size < 1 {
		return nil, ErrInvalidSampleSize
	}
	return &RollingAverage{samples: make([]int64, size)}, nil
}

// Record adds a new sample, evicting the oldest once the buffer is full.
func (r *RollingAverage) Record(v int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	full := r.count == len(r.samples)
	if full {
		r.sum -= r.samples[r.write]
	}
	r.samples[r.write] = v
	r.sum += v
	r.write = (r.write + 1) % len(r.samples)
	if full {
		r.read = (r.read + 1) % len(r.samples)
	} else {
		r.count++
	}
}

// Value returns the mean of the samples currently held, or 0 when empty.
func (r *RollingAverage) Value() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return 0
	}
	return float64(r.sum) / float64(r.count)
}

// Count returns the number of samples currently held.
func (r *RollingAverage) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// RollingRate is a fixed-capacity ring buffer of wall-clock timestamps used
// to compute an events-per-second rate.
type RollingRate struct {
	mu    sync.Mutex
	times []time.Time
	write int
	read  int
	count int
	now   func() time.Time
}

// NewRollingRate creates a RollingRate with capacity size. size must be >= 1.
func NewRollingRate(size int) (*RollingRate, error) {
	if size < 1 {
		return nil, ErrInvalidSampleSize
	}
	return &RollingRate{times: make([]time.Time, size), now: time.Now}, nil
}

// Record stores the current time as a new event.
func (r *RollingRate) Record() {
	r.mu.Lock()
	defer r.mu.Unlock()

	full := r.count == len(r.times)
	r.times[r.write] = r.now()
	r.write = (r.write + 1) % len(r.times)
	if full {
		r.read = (r.read + 1) % len(r.times)
	} else {
		r.count++
	}
}

// Value returns events per second over the window of samples currently
// held: count / (newest - oldest) * 1000, in events/sec. Returns 0 when the
// window holds fewer than two distinct timestamps.
func (r *RollingRate) Value() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return 0
	}
	oldest := r.times[r.read]
	newestIdx := (r.write - 1 + len(r.times)) % len(r.times)
	newest := r.times[newestIdx]

	elapsed := newest.Sub(oldest)
	if elapsed <= 0 {
		return 0
	}
	return float64(r.count) / float64(elapsed.Milliseconds()) * 1000
}

// Count returns the number of samples currently held.
func (r *RollingRate) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
