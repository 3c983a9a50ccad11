package imu

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
)

// DefaultBufferCapacity holds 20s of samples at 200Hz.
const DefaultBufferCapacity = 4000

// minWindowSamples is the smallest window that can be integrated: one raw
// sample plus the interpolated upper border.
const minWindowSamples = 2

var (
	// ErrOutOfOrder is returned when a sample is not newer than the newest
	// sample already in the buffer.
	ErrOutOfOrder = errors.New("imu sample out of order")
	// ErrBufferShutdown is returned when inserting into a shut down buffer.
	ErrBufferShutdown = errors.New("imu buffer is shut down")
)

// Buffer is a bounded, thread-safe ring of IMU samples. A single producer
// inserts samples while consumers query interpolated windows; queries that
// cannot be satisfied yet block until a newer sample arrives or the buffer is
// shut down.
type Buffer struct {
	mu   sync.Mutex
	cond *sync.Cond

	ring []Sample
	head int // index of the oldest sample
	size int

	// inserted counts every accepted sample so waiters can tell whether the
	// buffer changed while they slept.
	inserted uint64
	shutdown bool
}

// NewBuffer creates a Buffer retaining at most capacity samples. A
// non-positive capacity selects DefaultBufferCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	b := &Buffer{ring: make([]Sample, capacity)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Capacity returns the maximum number of retained samples.
func (b *Buffer) Capacity() int {
	return len(b.ring)
}

// Len returns the number of retained samples.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Insert appends a sample, evicting the oldest one when the ring is full.
func (b *Buffer) Insert(s Sample) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.shutdown {
		return ErrBufferShutdown
	}
	if b.size > 0 {
		if newest := b.at(b.size - 1); s.Timestamp <= newest.Timestamp {
			return fmt.Errorf("%w: newest %d, got %d", ErrOutOfOrder, newest.Timestamp, s.Timestamp)
		}
	}

	if b.size == len(b.ring) {
		b.ring[b.head] = s
		b.head = (b.head + 1) % len(b.ring)
	} else {
		b.ring[(b.head+b.size)%len(b.ring)] = s
		b.size++
	}
	b.inserted++
	b.cond.Broadcast()
	return nil
}

// Newest returns the most recently inserted sample.
func (b *Buffer) Newest() (Sample, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size == 0 {
		return Sample{}, false
	}
	return b.at(b.size - 1), true
}

// Oldest returns the oldest retained sample.
func (b *Buffer) Oldest() (Sample, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size == 0 {
		return Sample{}, false
	}
	return b.at(0), true
}

// QueryInterpolatedRange returns the samples with start <= t < end followed
// by a sample at exactly end, linearly interpolated from its neighbours.
//
// When the buffer does not reach end yet the call blocks until one more
// sample is inserted or the buffer is shut down, then evaluates the query
// again. Callers are expected to loop on DataNotYetAvailable.
func (b *Buffer) QueryInterpolatedRange(start, end Timestamp) (Window, QueryResult) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.shutdown {
		return nil, QueueShutdown
	}
	w, res := b.queryLocked(start, end)
	if res != DataNotYetAvailable {
		return w, res
	}

	seen := b.inserted
	for !b.shutdown && b.inserted == seen {
		b.cond.Wait()
	}
	if b.shutdown {
		return nil, QueueShutdown
	}
	return b.queryLocked(start, end)
}

// Shutdown wakes every blocked query and makes all further queries return
// QueueShutdown. It is safe to call more than once.
func (b *Buffer) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shutdown = true
	b.cond.Broadcast()
}

// IsShutdown reports whether Shutdown has been called.
func (b *Buffer) IsShutdown() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shutdown
}

// Reset drops all retained samples. The shutdown state is kept.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.size = 0
}

// at returns the i-th retained sample counted from the oldest.
// Caller must hold mu.
func (b *Buffer) at(i int) Sample {
	return b.ring[(b.head+i)%len(b.ring)]
}

func (b *Buffer) queryLocked(start, end Timestamp) (Window, QueryResult) {
	if b.size == 0 {
		return nil, DataNotYetAvailable
	}
	oldest, newest := b.at(0), b.at(b.size-1)
	if newest.Timestamp < end {
		return nil, DataNotYetAvailable
	}
	if end < oldest.Timestamp {
		return nil, DataNeverAvailable
	}

	first := sort.Search(b.size, func(i int) bool { return b.at(i).Timestamp >= start })
	upper := sort.Search(b.size, func(i int) bool { return b.at(i).Timestamp >= end })

	n := upper - first
	if n < 0 {
		n = 0
	}
	if n+1 < minWindowSamples {
		return nil, TooFewSamples
	}

	w := make(Window, 0, n+1)
	for i := first; i < upper; i++ {
		w = append(w, b.at(i))
	}

	// newest >= end guarantees upper < size, and n > 0 guarantees upper > 0.
	hi := b.at(upper)
	if hi.Timestamp == end {
		w = append(w, Sample{Timestamp: end, AccGyr: hi.AccGyr})
	} else {
		w = append(w, interpolate(b.at(upper-1), hi, end))
	}
	return w, DataAvailable
}

// interpolate linearly blends a and b at time t, with a.Timestamp <= t <= b.Timestamp.
func interpolate(a, b Sample, t Timestamp) Sample {
	alpha := float64(t-a.Timestamp) / float64(b.Timestamp-a.Timestamp)
	out := make([]float64, len(a.AccGyr))
	floats.ScaleTo(out, 1-alpha, a.AccGyr[:])
	floats.AddScaled(out, alpha, b.AccGyr[:])

	s := Sample{Timestamp: t}
	copy(s.AccGyr[:], out)
	return s
}
