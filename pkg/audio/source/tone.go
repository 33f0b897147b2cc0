// ABOUTME: Test tone generator
// ABOUTME: Generates a sine wave on both channels at half scale
package source

import (
	"math"
	"sync"

	"github.com/Sendspin/pcmpump/pkg/audio"
)

// ToneConfig configures a TestTone
type ToneConfig struct {
	Frequency  float64 // default 440Hz
	SampleRate int     // default 48kHz
	Amplitude  float64 // 0-1, default 0.5
}

// TestTone generates an endless sine wave
type TestTone struct {
	mu          sync.Mutex
	cfg         ToneConfig
	sampleIndex uint64
}

// NewTestTone creates a new test tone generator
func NewTestTone(cfg ToneConfig) *TestTone {
	if cfg.Frequency <= 0 {
		cfg.Frequency = 440.0 // A4 note
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	if cfg.Amplitude <= 0 || cfg.Amplitude > 1 {
		cfg.Amplitude = 0.5
	}
	return &TestTone{cfg: cfg}
}

func (s *TestTone) ReadFrames(left, right audio.SampleBuffer) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := min(len(left), len(right))
	for i := 0; i < n; i++ {
		t := float64(s.sampleIndex+uint64(i)) / float64(s.cfg.SampleRate)
		v := audio.Sample(math.Sin(2*math.Pi*s.cfg.Frequency*t) * 32767.0 * s.cfg.Amplitude)
		left[i] = v
		right[i] = v
	}
	s.sampleIndex += uint64(n)

	return n, nil
}

// Rewind restarts the tone at phase zero
func (s *TestTone) Rewind() error {
	s.mu.Lock()
	s.sampleIndex = 0
	s.mu.Unlock()
	return nil
}

func (s *TestTone) SampleRate() int { return s.cfg.SampleRate }
func (s *TestTone) Channels() int   { return 2 }
func (s *TestTone) Metadata() (string, string, string) {
	return "Test Tone", "pcmpump", ""
}
func (s *TestTone) Close() error { return nil }
