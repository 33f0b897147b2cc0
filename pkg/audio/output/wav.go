// ABOUTME: Clocked capture device that renders pumped audio into a WAV file
// ABOUTME: A ticker stands in for the hardware period so the pump runs without a sound card
package output

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/Sendspin/pcmpump/pkg/audio"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVConfig configures a WAVDevice
type WAVConfig struct {
	// Path is created on Open. Ignored when Writer is set.
	Path string

	// Writer receives the WAV stream; it is not closed by the device
	Writer io.WriteSeeker

	SampleRate int
	Channels   int
	BitDepth   int

	PeriodFrames int
	BufferFrames int

	// Tick overrides the period clock; by default one period of real time
	Tick time.Duration
}

// WAVDevice consumes one period per tick and appends it to a WAV file
type WAVDevice struct {
	cfg WAVConfig

	mu       sync.Mutex
	file     *os.File
	enc      *wav.Encoder
	buf      *pullBuffer
	err      error
	written  uint64
	stopTick chan struct{}
	tickDone chan struct{}
}

// NewWAVDevice creates a WAV capture device. Defaults: 48kHz stereo 16-bit, 10ms period, 4 periods.
func NewWAVDevice(cfg WAVConfig) *WAVDevice {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 2
	}
	if cfg.BitDepth <= 0 {
		cfg.BitDepth = 16
	}
	if cfg.PeriodFrames <= 0 {
		cfg.PeriodFrames = cfg.SampleRate / 100
	}
	if cfg.BufferFrames < cfg.PeriodFrames {
		cfg.BufferFrames = cfg.PeriodFrames * 4
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Duration(cfg.PeriodFrames) * time.Second / time.Duration(cfg.SampleRate)
	}
	return &WAVDevice{cfg: cfg}
}

// Name implements Device
func (w *WAVDevice) Name() string {
	if w.cfg.Path != "" && w.cfg.Writer == nil {
		return "wav:" + w.cfg.Path
	}
	return "wav"
}

// Negotiate implements Device
func (w *WAVDevice) Negotiate() (audio.Format, error) {
	return audio.Format{
		Codec:      "pcm",
		SampleRate: w.cfg.SampleRate,
		Channels:   w.cfg.Channels,
		BitDepth:   w.cfg.BitDepth,
	}, nil
}

// Open implements Device
func (w *WAVDevice) Open(format audio.Format) (Geometry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ws := w.cfg.Writer
	if ws == nil {
		if w.cfg.Path == "" {
			return Geometry{}, errors.New("wav device requires a path or writer")
		}
		f, err := os.Create(w.cfg.Path)
		if err != nil {
			return Geometry{}, fmt.Errorf("failed to create wav file: %w", err)
		}
		w.file = f
		ws = f
	}

	w.enc = wav.NewEncoder(ws, format.SampleRate, format.BitDepth, format.Channels, 1)
	w.buf = newPullBuffer(w.cfg.BufferFrames)

	log.Printf("WAV output initialized: %s, %dHz, %d channels, %d-bit", w.Name(),
		format.SampleRate, format.Channels, format.BitDepth)

	return Geometry{
		BufferFrames: w.cfg.BufferFrames,
		PeriodFrames: w.cfg.PeriodFrames,
	}, nil
}

// Padding implements Device
func (w *WAVDevice) Padding() (int, error) {
	w.mu.Lock()
	buf, err := w.buf, w.err
	w.mu.Unlock()

	if err != nil {
		return 0, err
	}
	if buf == nil {
		return 0, ErrNotOpen
	}
	return buf.padding(), nil
}

// Submit implements Device
func (w *WAVDevice) Submit(data []byte, frames int, silent bool) error {
	w.mu.Lock()
	buf, err := w.buf, w.err
	w.mu.Unlock()

	if err != nil {
		return err
	}
	if buf == nil {
		return ErrNotOpen
	}
	return buf.submit(data, frames, silent)
}

// Start implements Device
func (w *WAVDevice) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf == nil {
		return ErrNotOpen
	}
	if w.stopTick != nil {
		return nil
	}

	w.stopTick = make(chan struct{})
	w.tickDone = make(chan struct{})
	go w.clock(w.buf, w.stopTick, w.tickDone)

	return nil
}

// Stop implements Device
func (w *WAVDevice) Stop() error {
	w.mu.Lock()
	stop, done := w.stopTick, w.tickDone
	w.stopTick, w.tickDone = nil, nil
	w.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}

// Close implements Device. It finalizes the WAV header.
func (w *WAVDevice) Close() error {
	if err := w.Stop(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error
	if w.enc != nil {
		if err := w.enc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to finalize wav: %w", err))
		}
		w.enc = nil
	}
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			errs = append(errs, err)
		}
		w.file = nil
	}
	w.buf = nil

	return errors.Join(errs...)
}

// NeedData implements Device
func (w *WAVDevice) NeedData() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf == nil {
		return nil
	}
	return w.buf.needData
}

// FramesWritten returns the number of frames rendered to the file
func (w *WAVDevice) FramesWritten() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// clock pulls one period per tick until stopped
func (w *WAVDevice) clock(buf *pullBuffer, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.cfg.Tick)
	defer ticker.Stop()

	period := make([]byte, w.cfg.PeriodFrames*audio.BytesPerFrame)
	out := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: w.cfg.Channels,
			SampleRate:  w.cfg.SampleRate,
		},
		Data:           make([]int, w.cfg.PeriodFrames*w.cfg.Channels),
		SourceBitDepth: w.cfg.BitDepth,
	}

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		buf.pull(period)
		wireToInts(out.Data, period)

		w.mu.Lock()
		if w.enc != nil && w.err == nil {
			if err := w.enc.Write(out); err != nil {
				w.err = fmt.Errorf("failed to write wav: %w", err)
				log.Printf("WAV output error: %v", w.err)
			} else {
				w.written += uint64(w.cfg.PeriodFrames)
			}
		}
		w.mu.Unlock()
	}
}

// wireToInts converts right-first wire frames into left-first WAV frames
func wireToInts(dst []int, wire []byte) {
	frames := len(wire) / audio.BytesPerFrame
	for i := 0; i < frames && 2*i+1 < len(dst); i++ {
		f := wire[i*audio.BytesPerFrame:]
		right := int16(uint16(f[0]) | uint16(f[1])<<8)
		left := int16(uint16(f[2]) | uint16(f[3])<<8)
		dst[2*i] = int(left)
		dst[2*i+1] = int(right)
	}
}
