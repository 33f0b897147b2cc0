// ABOUTME: Hardware output device backed by the oto library
// ABOUTME: oto pulls from the device buffer and every pull raises need-data
package output

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Sendspin/pcmpump/pkg/audio"
	"github.com/ebitengine/oto/v3"
)

// oto allows a single context per process, shared by every OtoDevice
var (
	otoMu      sync.Mutex
	otoCtx     *oto.Context
	otoRate    int
	otoPlayers int
)

// OtoConfig configures an OtoDevice
type OtoConfig struct {
	SampleRate   int
	PeriodFrames int
	BufferFrames int
}

// OtoDevice plays through the system audio output
type OtoDevice struct {
	cfg    OtoConfig
	mu     sync.Mutex
	buf    *pullBuffer
	player *oto.Player
}

// NewOtoDevice creates an oto-backed device. Defaults: 48kHz, 10ms period, 4 periods.
func NewOtoDevice(cfg OtoConfig) *OtoDevice {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	if cfg.PeriodFrames <= 0 {
		cfg.PeriodFrames = cfg.SampleRate / 100
	}
	if cfg.BufferFrames < cfg.PeriodFrames {
		cfg.BufferFrames = cfg.PeriodFrames * 4
	}
	return &OtoDevice{cfg: cfg}
}

// Name implements Device
func (d *OtoDevice) Name() string {
	return "oto"
}

// Negotiate implements Device
func (d *OtoDevice) Negotiate() (audio.Format, error) {
	return audio.Format{
		Codec:      "pcm",
		SampleRate: d.cfg.SampleRate,
		Channels:   2,
		BitDepth:   16,
	}, nil
}

// Open implements Device
func (d *OtoDevice) Open(format audio.Format) (Geometry, error) {
	ctx, err := acquireOtoContext(format.SampleRate, d.cfg.PeriodFrames)
	if err != nil {
		return Geometry{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.buf = newPullBuffer(d.cfg.BufferFrames)
	d.player = ctx.NewPlayer(&otoReader{buf: d.buf})
	d.player.SetBufferSize(d.cfg.PeriodFrames * audio.BytesPerFrame)

	log.Printf("Audio output initialized: %dHz, 2 channels, 16-bit (oto, period=%d frames)",
		format.SampleRate, d.cfg.PeriodFrames)

	return Geometry{
		BufferFrames: d.cfg.BufferFrames,
		PeriodFrames: d.cfg.PeriodFrames,
	}, nil
}

// Padding implements Device
func (d *OtoDevice) Padding() (int, error) {
	buf := d.buffer()
	if buf == nil {
		return 0, ErrNotOpen
	}
	return buf.padding(), nil
}

// Submit implements Device
func (d *OtoDevice) Submit(data []byte, frames int, silent bool) error {
	buf := d.buffer()
	if buf == nil {
		return ErrNotOpen
	}
	return buf.submit(data, frames, silent)
}

// Start implements Device
func (d *OtoDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.player == nil {
		return ErrNotOpen
	}
	d.player.Play()
	return nil
}

// Stop implements Device
func (d *OtoDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.player == nil {
		return ErrNotOpen
	}
	d.player.Pause()
	return d.player.Err()
}

// Close implements Device
func (d *OtoDevice) Close() error {
	d.mu.Lock()
	player := d.player
	d.player = nil
	d.buf = nil
	d.mu.Unlock()

	if player == nil {
		return nil
	}
	err := player.Close()
	releaseOtoContext()
	return err
}

// NeedData implements Device
func (d *OtoDevice) NeedData() <-chan struct{} {
	buf := d.buffer()
	if buf == nil {
		return nil
	}
	return buf.needData
}

func (d *OtoDevice) buffer() *pullBuffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buf
}

// otoReader feeds the oto player; it never reports EOF so the player keeps pulling
type otoReader struct {
	buf *pullBuffer
}

func (r *otoReader) Read(p []byte) (int, error) {
	// Keep reads frame aligned
	n := len(p) - len(p)%audio.BytesPerFrame
	if n == 0 {
		return 0, nil
	}
	r.buf.pull(p[:n])
	return n, nil
}

func acquireOtoContext(sampleRate, periodFrames int) (*oto.Context, error) {
	otoMu.Lock()
	defer otoMu.Unlock()

	if otoCtx == nil {
		op := &oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: 2,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   time.Duration(periodFrames) * time.Second / time.Duration(sampleRate),
		}

		ctx, readyChan, err := oto.NewContext(op)
		if err != nil {
			return nil, fmt.Errorf("failed to create oto context: %w", err)
		}
		<-readyChan

		otoCtx = ctx
		otoRate = sampleRate
	} else if otoRate != sampleRate {
		return nil, fmt.Errorf("%w: oto context already running at %dHz, requested %dHz",
			ErrUnsupportedFormat, otoRate, sampleRate)
	}

	if otoPlayers == 0 {
		if err := otoCtx.Resume(); err != nil {
			return nil, fmt.Errorf("failed to resume oto context: %w", err)
		}
	}
	otoPlayers++

	return otoCtx, nil
}

func releaseOtoContext() {
	otoMu.Lock()
	defer otoMu.Unlock()

	otoPlayers--
	if otoPlayers == 0 && otoCtx != nil {
		if err := otoCtx.Suspend(); err != nil {
			log.Printf("Warning: oto context suspend error: %v", err)
		}
	}
}
