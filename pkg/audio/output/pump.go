// ABOUTME: Per-device pump goroutine that feeds queued audio to the device each period
// ABOUTME: Handles startup, underrun silence, fatal device errors and stop-then-join teardown
package output

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sendspin/pcmpump/pkg/audio"
	"github.com/google/uuid"
)

// ErrPumpStopped is returned when using a pump that has already terminated
var ErrPumpStopped = errors.New("pump stopped")

// underrunLogInterval limits how often underruns are logged
const underrunLogInterval = time.Second

// State is the pump lifecycle state
type State int32

const (
	StateInitializing State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// EventKind identifies a pump event
type EventKind int

const (
	EventStarted EventKind = iota
	EventUnderrun
	EventAnomaly
	EventFatal
	EventStopped
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventUnderrun:
		return "underrun"
	case EventAnomaly:
		return "anomaly"
	case EventFatal:
		return "fatal"
	case EventStopped:
		return "stopped"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is an observable pump occurrence
type Event struct {
	PumpID string
	Kind   EventKind
	Frames int    // frames requested by the device, for underruns
	Pass   uint64 // service pass that produced the event
	Err    error  // set for EventFatal
	Time   time.Time
}

// PumpConfig configures a pump
type PumpConfig struct {
	Device Device
	Queue  *SampleQueue

	// OnEvent is called from the pump goroutine; it must not block
	OnEvent func(Event)
}

// PumpStats contains pump counters
type PumpStats struct {
	ID              string
	State           State
	Passes          uint64
	Underruns       uint64
	Anomalies       uint64
	FramesSubmitted uint64
	SilentFrames    uint64
	QueuePending    int
	BufferFrames    int
	PeriodFrames    int
}

// Pump moves frames from a SampleQueue to a Device on every need-data signal
type Pump struct {
	id       string
	dev      Device
	queue    *SampleQueue
	onEvent  func(Event)
	geometry Geometry
	releases releaseStack

	// scratch buffers sized to the device buffer
	left  audio.SampleBuffer
	right audio.SampleBuffer
	wire  []byte

	state    atomic.Int32
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	err      error

	passes          atomic.Uint64
	underruns       atomic.Uint64
	anomalies       atomic.Uint64
	framesSubmitted atomic.Uint64
	silentFrames    atomic.Uint64

	lastUnderrunLog time.Time
}

func newPump(cfg PumpConfig) *Pump {
	p := &Pump{
		id:      uuid.NewString(),
		dev:     cfg.Device,
		queue:   cfg.Queue,
		onEvent: cfg.OnEvent,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	p.state.Store(int32(StateInitializing))
	return p
}

// StartPump brings the device up and starts the pump goroutine.
// On failure every acquired resource is released in reverse order and
// the goroutine is never started.
func StartPump(cfg PumpConfig) (*Pump, error) {
	if cfg.Device == nil {
		return nil, errors.New("pump requires a device")
	}
	if cfg.Queue == nil {
		return nil, errors.New("pump requires a queue")
	}

	p := newPump(cfg)
	if err := p.initialize(); err != nil {
		if rerr := p.releases.unwind(); rerr != nil {
			err = errors.Join(err, rerr)
		}
		p.state.Store(int32(StateStopped))
		close(p.done)
		return nil, err
	}

	p.state.Store(int32(StateRunning))
	p.emit(Event{Kind: EventStarted})
	log.Printf("Pump %s started on %s: buffer=%d frames, period=%d frames",
		p.id, p.dev.Name(), p.geometry.BufferFrames, p.geometry.PeriodFrames)

	go p.run()

	return p, nil
}

// initialize negotiates, opens, pre-fills and starts the device
func (p *Pump) initialize() error {
	format, err := p.dev.Negotiate()
	if err != nil {
		return fmt.Errorf("negotiate %s: %w", p.dev.Name(), err)
	}
	if format.Channels != 2 || format.BitDepth != 16 {
		return fmt.Errorf("%w: %d channels, %d bits", ErrUnsupportedFormat, format.Channels, format.BitDepth)
	}

	geometry, err := p.dev.Open(format)
	if err != nil {
		return fmt.Errorf("open %s: %w", p.dev.Name(), err)
	}
	p.releases.push("close", p.dev.Close)

	if geometry.BufferFrames <= 0 {
		return fmt.Errorf("open %s: invalid buffer size %d frames", p.dev.Name(), geometry.BufferFrames)
	}
	if geometry.PeriodFrames <= 0 || geometry.PeriodFrames > geometry.BufferFrames {
		geometry.PeriodFrames = geometry.BufferFrames
	}
	p.geometry = geometry

	p.left = make(audio.SampleBuffer, geometry.BufferFrames)
	p.right = make(audio.SampleBuffer, geometry.BufferFrames)
	p.wire = make([]byte, geometry.BufferFrames*audio.BytesPerFrame)

	// One period of silence so the first real pull has something behind it
	if err := p.dev.Submit(p.wire[:geometry.PeriodFrames*audio.BytesPerFrame], geometry.PeriodFrames, true); err != nil {
		return fmt.Errorf("prefill %s: %w", p.dev.Name(), err)
	}
	p.silentFrames.Add(uint64(geometry.PeriodFrames))

	if err := p.dev.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.dev.Name(), err)
	}
	p.releases.push("stop", p.dev.Stop)

	return nil
}

// run is the pump goroutine
func (p *Pump) run() {
	defer close(p.done)

	err := p.loop()

	p.state.Store(int32(StateDraining))
	if rerr := p.releases.unwind(); rerr != nil {
		err = errors.Join(err, rerr)
	}
	p.err = err
	p.state.Store(int32(StateStopped))

	if err != nil {
		log.Printf("Pump %s stopped with error: %v", p.id, err)
		p.emit(Event{Kind: EventFatal, Err: err, Pass: p.passes.Load()})
	} else {
		log.Printf("Pump %s stopped", p.id)
	}
	p.emit(Event{Kind: EventStopped, Pass: p.passes.Load()})
}

// loop waits for stop or need-data and services one period per wake-up.
// Stop always wins over a pending need-data.
func (p *Pump) loop() error {
	needData := p.dev.NeedData()

	for {
		select {
		case <-p.stop:
			return nil
		default:
		}

		select {
		case <-p.stop:
			return nil
		case _, ok := <-needData:
			if !ok {
				return ErrDeviceClosed
			}
			select {
			case <-p.stop:
				return nil
			default:
			}
			if err := p.service(); err != nil {
				return err
			}
		}
	}
}

// service fills the free part of the device buffer with queued audio or silence
func (p *Pump) service() error {
	pass := p.passes.Add(1)

	padding, err := p.dev.Padding()
	if err != nil {
		return fmt.Errorf("padding %s: %w", p.dev.Name(), err)
	}

	if padding < 0 || padding > p.geometry.BufferFrames {
		return fmt.Errorf("padding %s: %w %d (capacity %d)", p.dev.Name(), ErrInvalidPadding, padding, p.geometry.BufferFrames)
	}

	framesNeeded := p.geometry.BufferFrames - padding
	if framesNeeded <= 0 {
		p.anomalies.Add(1)
		log.Printf("Pump %s: need-data with full buffer (padding=%d, capacity=%d)",
			p.id, padding, p.geometry.BufferFrames)
		p.emit(Event{Kind: EventAnomaly, Pass: pass})
		return nil
	}

	size := framesNeeded * audio.BytesPerFrame
	silent := !p.queue.DrainInto(p.left[:framesNeeded], p.right[:framesNeeded])
	if silent {
		audio.Silence(p.wire[:size], framesNeeded)
		p.underrun(pass, framesNeeded)
	} else {
		audio.PackFrames(p.wire[:size], p.left[:framesNeeded], p.right[:framesNeeded])
	}

	if err := p.dev.Submit(p.wire[:size], framesNeeded, silent); err != nil {
		return fmt.Errorf("submit %s: %w", p.dev.Name(), err)
	}

	p.framesSubmitted.Add(uint64(framesNeeded))
	if silent {
		p.silentFrames.Add(uint64(framesNeeded))
	}

	return nil
}

func (p *Pump) underrun(pass uint64, frames int) {
	n := p.underruns.Add(1)
	p.emit(Event{Kind: EventUnderrun, Frames: frames, Pass: pass})

	now := time.Now()
	if now.Sub(p.lastUnderrunLog) >= underrunLogInterval {
		log.Printf("Pump %s: underrun, %d frames of silence (%d underruns total)", p.id, frames, n)
		p.lastUnderrunLog = now
	}
}

func (p *Pump) emit(e Event) {
	if p.onEvent == nil {
		return
	}
	e.PumpID = p.id
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	p.onEvent(e)
}

// Stop requests shutdown and waits for the pump to release the device.
// It is safe to call more than once.
func (p *Pump) Stop() error {
	p.stopOnce.Do(func() { close(p.stop) })
	return p.Wait()
}

// Wait blocks until the pump goroutine has exited and returns its error
func (p *Pump) Wait() error {
	<-p.done
	return p.err
}

// Done is closed when the pump goroutine has exited
func (p *Pump) Done() <-chan struct{} {
	return p.done
}

// ID returns the pump identifier
func (p *Pump) ID() string {
	return p.id
}

// State returns the current lifecycle state
func (p *Pump) State() State {
	return State(p.state.Load())
}

// Geometry returns the device geometry agreed at startup
func (p *Pump) Geometry() Geometry {
	return p.geometry
}

// Stats returns pump counters
func (p *Pump) Stats() PumpStats {
	return PumpStats{
		ID:              p.id,
		State:           p.State(),
		Passes:          p.passes.Load(),
		Underruns:       p.underruns.Load(),
		Anomalies:       p.anomalies.Load(),
		FramesSubmitted: p.framesSubmitted.Load(),
		SilentFrames:    p.silentFrames.Load(),
		QueuePending:    p.queue.Len(),
		BufferFrames:    p.geometry.BufferFrames,
		PeriodFrames:    p.geometry.PeriodFrames,
	}
}
