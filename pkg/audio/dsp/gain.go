// ABOUTME: Software volume filter
// ABOUTME: Scales samples by a 0-100 volume with mute and 16-bit clipping protection
package dsp

import (
	"sync/atomic"

	"github.com/Sendspin/pcmpump/pkg/audio"
)

// Gain applies volume and mute to a channel.
// Volume and mute may be changed from any goroutine while ProcessSamples runs.
type Gain struct {
	volume atomic.Int32
	muted  atomic.Bool
}

// NewGain creates a gain stage at the given volume (0-100)
func NewGain(volume int) *Gain {
	g := &Gain{}
	g.SetVolume(volume)
	return g
}

// SetSampleRate is a no-op; gain does not depend on rate
func (g *Gain) SetSampleRate(int) {}

// SetVolume sets the volume (0-100)
func (g *Gain) SetVolume(volume int) {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	g.volume.Store(int32(volume))
}

// SetMuted sets mute state
func (g *Gain) SetMuted(muted bool) {
	g.muted.Store(muted)
}

// Volume returns current volume
func (g *Gain) Volume() int {
	return int(g.volume.Load())
}

// IsMuted returns mute state
func (g *Gain) IsMuted() bool {
	return g.muted.Load()
}

// ProcessSamples scales buf in place
func (g *Gain) ProcessSamples(buf audio.SampleBuffer) {
	multiplier := getVolumeMultiplier(g.Volume(), g.IsMuted())
	if multiplier == 1.0 {
		return
	}

	for i, sample := range buf {
		scaled := int32(float64(sample) * multiplier)

		if scaled > 32767 {
			scaled = 32767
		} else if scaled < -32768 {
			scaled = -32768
		}

		buf[i] = audio.Sample(scaled)
	}
}

// getVolumeMultiplier calculates volume multiplier
func getVolumeMultiplier(volume int, muted bool) float64 {
	if muted {
		return 0.0
	}
	return float64(volume) / 100.0
}
