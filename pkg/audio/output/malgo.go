// ABOUTME: Hardware output device backed by miniaudio via malgo
// ABOUTME: The miniaudio data callback pulls one period and raises need-data
package output

import (
	"fmt"
	"log"
	"sync"

	"github.com/Sendspin/pcmpump/pkg/audio"
	"github.com/gen2brain/malgo"
)

// MalgoConfig configures a MalgoDevice
type MalgoConfig struct {
	SampleRate   int
	PeriodFrames int
	Periods      int
}

// MalgoDevice plays through miniaudio's default playback device
type MalgoDevice struct {
	cfg MalgoConfig

	mu       sync.Mutex
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	buf      *pullBuffer
}

// NewMalgoDevice creates a miniaudio-backed device. Defaults: 48kHz, 10ms period, 4 periods.
func NewMalgoDevice(cfg MalgoConfig) *MalgoDevice {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	if cfg.PeriodFrames <= 0 {
		cfg.PeriodFrames = cfg.SampleRate / 100
	}
	if cfg.Periods <= 0 {
		cfg.Periods = 4
	}
	return &MalgoDevice{cfg: cfg}
}

// Name implements Device
func (m *MalgoDevice) Name() string {
	return "malgo"
}

// Negotiate implements Device
func (m *MalgoDevice) Negotiate() (audio.Format, error) {
	return audio.Format{
		Codec:      "pcm",
		SampleRate: m.cfg.SampleRate,
		Channels:   2,
		BitDepth:   16,
	}, nil
}

// Open implements Device
func (m *MalgoDevice) Open(format audio.Format) (Geometry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return Geometry{}, fmt.Errorf("failed to initialize malgo context: %w", err)
	}

	bufferFrames := m.cfg.PeriodFrames * m.cfg.Periods
	buf := newPullBuffer(bufferFrames)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 2
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(m.cfg.PeriodFrames)
	deviceConfig.Periods = uint32(m.cfg.Periods)
	deviceConfig.Alsa.NoMMap = 1

	onSamples := func(pOutputSample, pInputSamples []byte, frameCount uint32) {
		buf.pull(pOutputSample[:int(frameCount)*audio.BytesPerFrame])
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onSamples,
	})
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return Geometry{}, fmt.Errorf("failed to initialize playback device: %w", err)
	}

	m.malgoCtx = ctx
	m.device = device
	m.buf = buf

	log.Printf("Audio output initialized: %dHz, 2 channels, 16-bit (malgo, period=%d frames x %d)",
		format.SampleRate, m.cfg.PeriodFrames, m.cfg.Periods)

	return Geometry{
		BufferFrames: bufferFrames,
		PeriodFrames: m.cfg.PeriodFrames,
	}, nil
}

// Padding implements Device
func (m *MalgoDevice) Padding() (int, error) {
	buf := m.buffer()
	if buf == nil {
		return 0, ErrNotOpen
	}
	return buf.padding(), nil
}

// Submit implements Device
func (m *MalgoDevice) Submit(data []byte, frames int, silent bool) error {
	buf := m.buffer()
	if buf == nil {
		return ErrNotOpen
	}
	return buf.submit(data, frames, silent)
}

// Start implements Device
func (m *MalgoDevice) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return ErrNotOpen
	}
	if err := m.device.Start(); err != nil {
		return fmt.Errorf("failed to start device: %w", err)
	}
	return nil
}

// Stop implements Device
func (m *MalgoDevice) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return ErrNotOpen
	}
	return m.device.Stop()
}

// Close implements Device
func (m *MalgoDevice) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		m.device.Uninit()
		m.device = nil
	}
	m.buf = nil

	if m.malgoCtx != nil {
		if err := m.malgoCtx.Uninit(); err != nil {
			log.Printf("Warning: malgo context uninit error: %v", err)
		}
		m.malgoCtx.Free()
		m.malgoCtx = nil
	}

	return nil
}

// NeedData implements Device
func (m *MalgoDevice) NeedData() <-chan struct{} {
	buf := m.buffer()
	if buf == nil {
		return nil
	}
	return buf.needData
}

func (m *MalgoDevice) buffer() *pullBuffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf
}
