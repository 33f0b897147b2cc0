// ABOUTME: Manager wiring producers through per-channel signal chains into the device pump
// ABOUTME: Provides volume and mute, sample-rate changes, statistics and ordered shutdown
package pcmpump

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Sendspin/pcmpump/pkg/audio"
	"github.com/Sendspin/pcmpump/pkg/audio/dsp"
	"github.com/Sendspin/pcmpump/pkg/audio/output"
)

// Config holds manager configuration
type Config struct {
	// Device is the playback device driven by the pump
	Device output.Device

	// SampleRate is the initial signal chain rate (default: 48000)
	SampleRate int

	// Volume is the initial volume (1-100). Zero selects the default of 100;
	// set Muted to start silent.
	Volume int

	// Muted starts the manager muted
	Muted bool

	// MaxQueueFrames bounds the sample queue; 0 means unbounded
	MaxQueueFrames int

	// OnEvent receives pump events; it must not block
	OnEvent func(output.Event)
}

// Stats is a snapshot of the whole output path
type Stats struct {
	Pump   output.PumpStats
	Queue  output.QueueStats
	Left   dsp.ChainStats
	Right  dsp.ChainStats
	Volume int
	Muted  bool
}

// Manager owns one device pump and the chains that feed it
type Manager struct {
	config Config

	// chainMu serializes producers and guards the chains
	chainMu   sync.Mutex
	left      *dsp.SignalChain
	right     *dsp.SignalChain
	leftGain  *dsp.Gain
	rightGain *dsp.Gain

	queue *output.SampleQueue

	mu     sync.Mutex
	pump   *output.Pump
	sinks  []audio.Sink
	closed bool
}

// NewManager creates a manager. The pump is not started until Start.
func NewManager(config Config) (*Manager, error) {
	if config.Device == nil {
		return nil, errors.New("manager requires a device")
	}
	if config.SampleRate == 0 {
		config.SampleRate = 48000
	}
	if config.Volume == 0 {
		config.Volume = 100
	}

	m := &Manager{
		config:    config,
		left:      dsp.NewSignalChain(),
		right:     dsp.NewSignalChain(),
		leftGain:  dsp.NewGain(config.Volume),
		rightGain: dsp.NewGain(config.Volume),
		queue: output.NewSampleQueue(output.QueueConfig{
			MaxFrames:     config.MaxQueueFrames,
			InitialFrames: config.SampleRate / 2,
		}),
	}

	m.left.SetSampleRate(config.SampleRate)
	m.right.SetSampleRate(config.SampleRate)
	m.leftGain.SetMuted(config.Muted)
	m.rightGain.SetMuted(config.Muted)
	m.left.AddFilter(m.leftGain)
	m.right.AddFilter(m.rightGain)

	return m, nil
}

// AddFilters appends one filter per channel. Call before Start.
func (m *Manager) AddFilters(left, right dsp.Filter) {
	m.chainMu.Lock()
	defer m.chainMu.Unlock()
	m.left.AddFilter(left)
	m.right.AddFilter(right)
}

// SetSampleRate re-initializes every filter for a new stream rate
func (m *Manager) SetSampleRate(rate int) {
	m.chainMu.Lock()
	defer m.chainMu.Unlock()

	if rate == m.left.SampleRate() {
		return
	}
	m.left.SetSampleRate(rate)
	m.right.SetSampleRate(rate)
	log.Printf("Signal chain sample rate set to %d", rate)
}

// Write runs left and right through their chains in place and queues the result.
// It is the callback registered with attached sinks; concurrent producers are serialized.
func (m *Manager) Write(left, right audio.SampleBuffer) {
	m.chainMu.Lock()
	m.left.ProcessSamples(left)
	m.right.ProcessSamples(right)
	m.chainMu.Unlock()

	m.queue.Write(left, right)
}

// Attach registers the manager as the sink's consumer. Attached sinks are
// started by Start and stopped by Close.
func (m *Manager) Attach(sink audio.Sink) {
	sink.RegisterCallback(m.Write)

	m.mu.Lock()
	m.sinks = append(m.sinks, sink)
	m.mu.Unlock()
}

// Start brings up the device pump, then the attached sinks
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return output.ErrPumpStopped
	}
	if m.pump != nil {
		return nil
	}

	pump, err := output.StartPump(output.PumpConfig{
		Device:  m.config.Device,
		Queue:   m.queue,
		OnEvent: m.config.OnEvent,
	})
	if err != nil {
		return fmt.Errorf("failed to start output: %w", err)
	}
	m.pump = pump

	for i, sink := range m.sinks {
		if err := sink.Start(); err != nil {
			for _, started := range m.sinks[:i] {
				if serr := started.Stop(); serr != nil {
					err = errors.Join(err, serr)
				}
			}
			m.pump = nil
			if perr := pump.Stop(); perr != nil {
				err = errors.Join(err, perr)
			}
			return fmt.Errorf("failed to start sink: %w", err)
		}
	}

	return nil
}

// drainPoll is how often Drain checks the queue
const drainPoll = 5 * time.Millisecond

// Drain blocks until the audio queued so far has reached the device and been
// consumed by it. The queue only releases whole device requests, so one buffer
// of silence is queued behind the tail first. Call it after producers have
// stopped writing.
func (m *Manager) Drain(ctx context.Context) error {
	m.mu.Lock()
	pump := m.pump
	m.mu.Unlock()
	if pump == nil {
		return nil
	}

	geometry := pump.Geometry()
	pad := geometry.BufferFrames
	m.queue.Write(make(audio.SampleBuffer, pad), make(audio.SampleBuffer, pad))

	wait := func(cond func() bool) error {
		ticker := time.NewTicker(drainPoll)
		defer ticker.Stop()
		for !cond() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-pump.Done():
				return output.ErrPumpStopped
			case <-ticker.C:
			}
		}
		return nil
	}

	// Only the silence is left in the queue once the tail has been submitted
	if err := wait(func() bool { return m.queue.Len() <= pad }); err != nil {
		return err
	}

	// The submit counter may lag the queue by one pass and the device holds at
	// most one buffer, so two more buffers of submissions mean the tail was played
	target := pump.Stats().FramesSubmitted + uint64(2*geometry.BufferFrames)
	return wait(func() bool { return pump.Stats().FramesSubmitted >= target })
}

// Flush drops queued audio that has not reached the device
func (m *Manager) Flush() {
	m.queue.Reset()
}

// SetVolume sets the volume (0-100)
func (m *Manager) SetVolume(volume int) {
	m.leftGain.SetVolume(volume)
	m.rightGain.SetVolume(volume)
	log.Printf("Volume set to %d", m.leftGain.Volume())
}

// Mute sets the mute state
func (m *Manager) Mute(muted bool) {
	m.leftGain.SetMuted(muted)
	m.rightGain.SetMuted(muted)
	log.Printf("Muted: %v", muted)
}

// Volume returns the current volume
func (m *Manager) Volume() int {
	return m.leftGain.Volume()
}

// IsMuted returns the mute state
func (m *Manager) IsMuted() bool {
	return m.leftGain.IsMuted()
}

// Done is closed when the pump exits, either on Close or a fatal device error.
// Returns nil before Start.
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pump == nil {
		return nil
	}
	return m.pump.Done()
}

// Err blocks until the pump exits and returns why it stopped; nil before Start
func (m *Manager) Err() error {
	m.mu.Lock()
	pump := m.pump
	m.mu.Unlock()
	if pump == nil {
		return nil
	}
	return pump.Wait()
}

// Stats returns a snapshot of pump, queue and chain statistics
func (m *Manager) Stats() Stats {
	m.chainMu.Lock()
	left, right := m.left.Stats(), m.right.Stats()
	m.chainMu.Unlock()

	m.mu.Lock()
	pump := m.pump
	m.mu.Unlock()

	stats := Stats{
		Queue:  m.queue.Stats(),
		Left:   left,
		Right:  right,
		Volume: m.Volume(),
		Muted:  m.IsMuted(),
	}
	if pump != nil {
		stats.Pump = pump.Stats()
	}
	return stats
}

// Close stops the sinks, then stops and joins the pump
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sinks := m.sinks
	pump := m.pump
	m.mu.Unlock()

	var errs []error
	for _, sink := range sinks {
		if err := sink.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if pump != nil {
		if err := pump.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
