// ABOUTME: Ordered filter pipeline with sample-rate propagation
// ABOUTME: Runs filters in place and keeps rolling timing and buffer-size statistics
package dsp

import (
	"time"

	"github.com/Sendspin/pcmpump/pkg/audio"
)

// DefaultSampleRate is the rate a new chain applies to filters until SetSampleRate is called
const DefaultSampleRate = 44100

// statsWeight is the exponential smoothing weight given to each new measurement (1/16)
const statsWeight = 16

// Filter transforms a channel buffer in place
type Filter interface {
	// SetSampleRate prepares the filter for buffers at rate Hz
	SetSampleRate(rate int)

	// ProcessSamples transforms buf in place
	ProcessSamples(buf audio.SampleBuffer)
}

// FilterFunc adapts a stateless function to the Filter interface
type FilterFunc func(buf audio.SampleBuffer)

// SetSampleRate is a no-op for stateless filters
func (f FilterFunc) SetSampleRate(int) {}

// ProcessSamples calls f(buf)
func (f FilterFunc) ProcessSamples(buf audio.SampleBuffer) { f(buf) }

// ChainStats is a snapshot of chain telemetry
type ChainStats struct {
	SampleRate    int
	Filters       int
	Passes        int64
	AvgProcTime   time.Duration
	MaxProcTime   time.Duration
	AvgBufferSize int
}

// SignalChain owns an append-only ordered list of filters.
//
// ProcessSamples is not reentrant, and the statistics accessors are only safe
// without extra synchronization when called from the goroutine that processes.
type SignalChain struct {
	filters    []Filter
	sampleRate int

	passes        int64
	avgProcTime   time.Duration
	maxProcTime   time.Duration
	avgBufferSize int

	now func() time.Time
}

// NewSignalChain creates an empty chain at DefaultSampleRate
func NewSignalChain() *SignalChain {
	return &SignalChain{
		sampleRate: DefaultSampleRate,
		now:        time.Now,
	}
}

// AddFilter appends f to the end of the chain and initializes it at the chain's current rate
func (c *SignalChain) AddFilter(f Filter) {
	c.filters = append(c.filters, f)
	f.SetSampleRate(c.sampleRate)
}

// SetSampleRate stores rate and applies it to every filter in pipeline order
func (c *SignalChain) SetSampleRate(rate int) {
	c.sampleRate = rate

	for _, f := range c.filters {
		f.SetSampleRate(rate)
	}
}

// SampleRate returns the active sample rate
func (c *SignalChain) SampleRate() int {
	return c.sampleRate
}

// Len returns the number of filters in the chain
func (c *SignalChain) Len() int {
	return len(c.filters)
}

// ProcessSamples runs every filter over buf in order; filter i's output is filter i+1's input
func (c *SignalChain) ProcessSamples(buf audio.SampleBuffer) {
	start := c.now()

	for _, f := range c.filters {
		f.ProcessSamples(buf)
	}

	c.record(c.now().Sub(start), len(buf))
}

// record folds one pass into the rolling statistics
func (c *SignalChain) record(elapsed time.Duration, size int) {
	if c.passes == 0 {
		c.avgProcTime = elapsed
		c.avgBufferSize = size
	} else {
		c.avgProcTime += (elapsed - c.avgProcTime) / statsWeight
		c.avgBufferSize += roundDiv(size-c.avgBufferSize, statsWeight)
	}

	if elapsed > c.maxProcTime {
		c.maxProcTime = elapsed
	}
	c.passes++
}

// AvgProcTime returns the running average time of one full pass
func (c *SignalChain) AvgProcTime() time.Duration {
	return c.avgProcTime
}

// MaxProcTime returns the longest pass observed
func (c *SignalChain) MaxProcTime() time.Duration {
	return c.maxProcTime
}

// AvgBufferSize returns the running average buffer length in samples
func (c *SignalChain) AvgBufferSize() int {
	return c.avgBufferSize
}

// Stats returns a snapshot of the chain telemetry
func (c *SignalChain) Stats() ChainStats {
	return ChainStats{
		SampleRate:    c.sampleRate,
		Filters:       len(c.filters),
		Passes:        c.passes,
		AvgProcTime:   c.avgProcTime,
		MaxProcTime:   c.maxProcTime,
		AvgBufferSize: c.avgBufferSize,
	}
}

// roundDiv divides rounding away from zero so the average still moves on small differences
func roundDiv(n, d int) int {
	if n > 0 {
		return (n + d - 1) / d
	}
	return (n - d + 1) / d
}
