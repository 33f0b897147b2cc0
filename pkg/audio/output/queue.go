// ABOUTME: Thread-safe stereo FIFO between a producer and the device pump
// ABOUTME: All-or-nothing drain with optional drop-oldest bound on pending frames
package output

import (
	"sync"

	"github.com/Sendspin/pcmpump/pkg/audio"
)

const minQueueFrames = 1024

// QueueConfig configures a SampleQueue
type QueueConfig struct {
	// MaxFrames bounds the pending frames; 0 means unbounded.
	// When a write would exceed the bound, the oldest pending frames are dropped.
	MaxFrames int

	// InitialFrames pre-sizes the backing storage
	InitialFrames int
}

// QueueStats contains queue counters (all in frames)
type QueueStats struct {
	Pending int
	Written uint64
	Drained uint64
	Dropped uint64
}

// SampleQueue holds pending left/right samples under one lock.
// Both channels share read position and count, so they always hold the same
// number of frames while the lock is free.
type SampleQueue struct {
	mu        sync.Mutex
	left      []audio.Sample
	right     []audio.Sample
	readPos   int
	count     int
	maxFrames int

	written uint64
	drained uint64
	dropped uint64
}

// NewSampleQueue creates a queue
func NewSampleQueue(cfg QueueConfig) *SampleQueue {
	size := cfg.InitialFrames
	if size < minQueueFrames {
		size = minQueueFrames
	}
	if cfg.MaxFrames > 0 && size > cfg.MaxFrames {
		size = cfg.MaxFrames
	}

	return &SampleQueue{
		left:      make([]audio.Sample, size),
		right:     make([]audio.Sample, size),
		maxFrames: cfg.MaxFrames,
	}
}

// Write appends left and right to the tail. It never waits on the consumer.
// Callers pass equal-length buffers; any excess on the longer one is ignored.
func (q *SampleQueue) Write(left, right audio.SampleBuffer) {
	n := len(left)
	if len(right) < n {
		n = len(right)
	}
	if n == 0 {
		return
	}
	left, right = left[:n], right[:n]

	q.mu.Lock()
	defer q.mu.Unlock()

	q.written += uint64(n)

	if q.maxFrames > 0 {
		// A single write larger than the bound keeps only its newest frames
		if n > q.maxFrames {
			skip := n - q.maxFrames
			left, right = left[skip:], right[skip:]
			q.dropped += uint64(skip)
			n = q.maxFrames
		}
		if over := q.count + n - q.maxFrames; over > 0 {
			q.discard(over)
			q.dropped += uint64(over)
		}
	}

	if q.count+n > len(q.left) {
		q.grow(q.count + n)
	}

	size := len(q.left)
	w := (q.readPos + q.count) % size
	first := copy(q.left[w:], left)
	copy(q.right[w:], right[:first])
	if first < n {
		copy(q.left, left[first:])
		copy(q.right, right[first:])
	}
	q.count += n
}

// Drain removes and returns exactly count frames from the head. If fewer than
// count frames are pending it returns ok=false and leaves the queue untouched.
func (q *SampleQueue) Drain(count int) (left, right audio.SampleBuffer, ok bool) {
	left = make(audio.SampleBuffer, count)
	right = make(audio.SampleBuffer, count)
	if !q.DrainInto(left, right) {
		return nil, nil, false
	}
	return left, right, true
}

// DrainInto fills left and right (equal length) from the head, all-or-nothing
func (q *SampleQueue) DrainInto(left, right audio.SampleBuffer) bool {
	n := len(left)
	if len(right) < n {
		n = len(right)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count < n {
		return false
	}
	if n == 0 {
		return true
	}

	size := len(q.left)
	first := copy(left[:n], q.left[q.readPos:])
	copy(right[:first], q.right[q.readPos:])
	if first < n {
		copy(left[first:n], q.left)
		copy(right[first:n], q.right)
	}

	q.readPos = (q.readPos + n) % size
	q.count -= n
	q.drained += uint64(n)
	return true
}

// Len returns the number of pending frames
func (q *SampleQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Reset drops every pending frame without counting them as dropped
func (q *SampleQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.readPos = 0
	q.count = 0
}

// Stats returns queue counters
func (q *SampleQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Pending: q.count,
		Written: q.written,
		Drained: q.drained,
		Dropped: q.dropped,
	}
}

// discard drops n frames from the head (must hold q.mu)
func (q *SampleQueue) discard(n int) {
	if n > q.count {
		n = q.count
	}
	q.readPos = (q.readPos + n) % len(q.left)
	q.count -= n
}

// grow resizes storage to hold at least need frames, unwrapping pending data (must hold q.mu)
func (q *SampleQueue) grow(need int) {
	size := len(q.left) * 2
	if size < need {
		size = need
	}
	if q.maxFrames > 0 && size > q.maxFrames {
		size = q.maxFrames
	}

	left := make([]audio.Sample, size)
	right := make([]audio.Sample, size)

	old := len(q.left)
	first := copy(left[:q.count], q.left[q.readPos:])
	copy(right[:first], q.right[q.readPos:])
	if first < q.count {
		copy(left[first:q.count], q.left[:old])
		copy(right[first:q.count], q.right[:old])
	}

	q.left, q.right = left, right
	q.readPos = 0
}
