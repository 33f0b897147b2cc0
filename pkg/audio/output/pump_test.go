// ABOUTME: Tests for the device pump
// ABOUTME: Drives the pump with a scripted device to check packing, underruns, anomalies, stop and teardown
package output

import (
	"bytes"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/Sendspin/pcmpump/pkg/audio"
)

const testTimeout = 2 * time.Second

var errBoom = errors.New("boom")

type submission struct {
	data   []byte
	frames int
	silent bool
}

// fakeDevice is a scripted Device; tests raise need-data by hand
type fakeDevice struct {
	mu       sync.Mutex
	format   audio.Format
	geometry Geometry
	padding  int
	calls    []string

	negotiateErr error
	openErr      error
	startErr     error
	submitErr    error
	paddingErr   error

	needData    chan struct{}
	submissions chan submission
}

func newFakeDevice(bufferFrames, periodFrames int) *fakeDevice {
	return &fakeDevice{
		format:      audio.Format{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 16},
		geometry:    Geometry{BufferFrames: bufferFrames, PeriodFrames: periodFrames},
		needData:    make(chan struct{}, 1),
		submissions: make(chan submission, 64),
	}
}

func (d *fakeDevice) record(call string) {
	d.mu.Lock()
	d.calls = append(d.calls, call)
	d.mu.Unlock()
}

func (d *fakeDevice) callLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.calls)
}

func (d *fakeDevice) set(fn func(d *fakeDevice)) {
	d.mu.Lock()
	fn(d)
	d.mu.Unlock()
}

func (d *fakeDevice) Name() string { return "fake" }

func (d *fakeDevice) Negotiate() (audio.Format, error) {
	d.record("negotiate")
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.format, d.negotiateErr
}

func (d *fakeDevice) Open(audio.Format) (Geometry, error) {
	d.record("open")
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.geometry, d.openErr
}

func (d *fakeDevice) Padding() (int, error) {
	d.record("padding")
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.padding, d.paddingErr
}

func (d *fakeDevice) Submit(data []byte, frames int, silent bool) error {
	d.record("submit")
	d.mu.Lock()
	err := d.submitErr
	d.mu.Unlock()
	if err != nil {
		return err
	}
	d.submissions <- submission{data: bytes.Clone(data), frames: frames, silent: silent}
	return nil
}

func (d *fakeDevice) Start() error {
	d.record("start")
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.startErr
}

func (d *fakeDevice) Stop() error {
	d.record("stop")
	return nil
}

func (d *fakeDevice) Close() error {
	d.record("close")
	return nil
}

func (d *fakeDevice) NeedData() <-chan struct{} {
	return d.needData
}

func (d *fakeDevice) signal() {
	d.needData <- struct{}{}
}

func (d *fakeDevice) nextSubmission(t *testing.T) submission {
	t.Helper()
	select {
	case s := <-d.submissions:
		return s
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for a submission")
		return submission{}
	}
}

// eventLog collects pump events
type eventLog struct {
	ch chan Event
}

func newEventLog() *eventLog {
	return &eventLog{ch: make(chan Event, 64)}
}

func (l *eventLog) handle(e Event) {
	l.ch <- e
}

func (l *eventLog) waitFor(t *testing.T, kind EventKind) Event {
	t.Helper()
	deadline := time.After(testTimeout)
	for {
		select {
		case e := <-l.ch:
			if e.Kind == kind {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
			return Event{}
		}
	}
}

// drain returns every event emitted so far
func (l *eventLog) drain() []Event {
	var events []Event
	for {
		select {
		case e := <-l.ch:
			events = append(events, e)
		default:
			return events
		}
	}
}

func countKind(events []Event, kind EventKind) int {
	n := 0
	for _, e := range events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// eventually polls cond until it holds or the test times out
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(time.Millisecond)
	}
}

func startTestPump(t *testing.T, dev *fakeDevice, queue *SampleQueue) (*Pump, *eventLog) {
	t.Helper()
	events := newEventLog()
	p, err := StartPump(PumpConfig{Device: dev, Queue: queue, OnEvent: events.handle})
	if err != nil {
		t.Fatalf("StartPump failed: %v", err)
	}
	t.Cleanup(func() { _ = p.Stop() })
	return p, events
}

func TestPumpPrefillsOnePeriodOfSilence(t *testing.T) {
	dev := newFakeDevice(40, 10)
	p, events := startTestPump(t, dev, NewSampleQueue(QueueConfig{}))

	prefill := dev.nextSubmission(t)
	if prefill.frames != 10 || !prefill.silent {
		t.Errorf("expected 10 silent prefill frames, got %d silent=%v", prefill.frames, prefill.silent)
	}
	if len(prefill.data) != 10*audio.BytesPerFrame {
		t.Errorf("expected %d prefill bytes, got %d", 10*audio.BytesPerFrame, len(prefill.data))
	}

	want := []string{"negotiate", "open", "submit", "start"}
	if got := dev.callLog(); !slices.Equal(got[:4], want) {
		t.Errorf("expected startup order %v, got %v", want, got)
	}

	if p.State() != StateRunning {
		t.Errorf("expected running state, got %s", p.State())
	}
	if e := events.waitFor(t, EventStarted); e.PumpID != p.ID() {
		t.Errorf("expected event for pump %s, got %s", p.ID(), e.PumpID)
	}
}

func TestPumpPeriodClampedToBuffer(t *testing.T) {
	dev := newFakeDevice(8, 0)
	p, _ := startTestPump(t, dev, NewSampleQueue(QueueConfig{}))

	if g := p.Geometry(); g.PeriodFrames != 8 {
		t.Errorf("expected period clamped to buffer size 8, got %d", g.PeriodFrames)
	}
	if prefill := dev.nextSubmission(t); prefill.frames != 8 {
		t.Errorf("expected 8 prefill frames, got %d", prefill.frames)
	}
}

func TestPumpPacksQueuedFrames(t *testing.T) {
	dev := newFakeDevice(2, 2)
	queue := NewSampleQueue(QueueConfig{})
	startTestPump(t, dev, queue)
	dev.nextSubmission(t) // prefill

	queue.Write(audio.SampleBuffer{0x0102, 0x0304}, audio.SampleBuffer{0x0A0B, -2})
	dev.signal()

	s := dev.nextSubmission(t)
	if s.silent || s.frames != 2 {
		t.Fatalf("expected 2 real frames, got %d silent=%v", s.frames, s.silent)
	}

	want := []byte{0x0B, 0x0A, 0x02, 0x01, 0xFE, 0xFF, 0x04, 0x03}
	if !bytes.Equal(s.data, want) {
		t.Errorf("expected packed bytes % X, got % X", want, s.data)
	}
	if queue.Len() != 0 {
		t.Errorf("expected queue drained, got %d pending", queue.Len())
	}
}

func TestPumpRequestsCapacityMinusPadding(t *testing.T) {
	dev := newFakeDevice(16, 4)
	queue := NewSampleQueue(QueueConfig{})
	p, _ := startTestPump(t, dev, queue)
	dev.nextSubmission(t)

	queue.Write(ramp(1, 20), ramp(1, 20))
	dev.set(func(d *fakeDevice) { d.padding = 12 })
	dev.signal()

	s := dev.nextSubmission(t)
	if s.frames != 4 || s.silent {
		t.Errorf("expected 4 real frames, got %d silent=%v", s.frames, s.silent)
	}
	if queue.Len() != 16 {
		t.Errorf("expected 16 frames left, got %d", queue.Len())
	}

	eventually(t, func() bool { return p.Stats().FramesSubmitted == 4 }, "expected 4 frames submitted")
	if stats := p.Stats(); stats.Passes != 1 {
		t.Errorf("expected 1 pass, got %d", stats.Passes)
	}
}

func TestPumpUnderrunSubmitsSilence(t *testing.T) {
	dev := newFakeDevice(10, 10)
	queue := NewSampleQueue(QueueConfig{})
	p, events := startTestPump(t, dev, queue)
	dev.nextSubmission(t)

	queue.Write(ramp(1, 5), ramp(1, 5))
	dev.signal()

	s := dev.nextSubmission(t)
	if !s.silent || s.frames != 10 {
		t.Fatalf("expected 10 silent frames, got %d silent=%v", s.frames, s.silent)
	}
	if !bytes.Equal(s.data, make([]byte, 10*audio.BytesPerFrame)) {
		t.Errorf("expected zeroed period, got % X", s.data)
	}

	// The underrun event is emitted before the submit completes
	if n := countKind(events.drain(), EventUnderrun); n != 1 {
		t.Errorf("expected exactly one underrun event, got %d", n)
	}
	if queue.Len() != 5 {
		t.Errorf("expected the 5 pending frames to remain, got %d", queue.Len())
	}

	if n := p.Stats().Underruns; n != 1 {
		t.Errorf("expected 1 underrun, got %d", n)
	}
	eventually(t, func() bool { return p.Stats().SilentFrames == 20 },
		"expected 20 silent frames (prefill + underrun)")
}

func TestPumpFullBufferIsAnomaly(t *testing.T) {
	dev := newFakeDevice(10, 10)
	queue := NewSampleQueue(QueueConfig{})
	p, events := startTestPump(t, dev, queue)
	dev.nextSubmission(t)

	dev.set(func(d *fakeDevice) { d.padding = 10 })
	dev.signal()
	events.waitFor(t, EventAnomaly)

	// The pump keeps running and serves the next period
	queue.Write(ramp(1, 10), ramp(1, 10))
	dev.set(func(d *fakeDevice) { d.padding = 0 })
	dev.signal()

	s := dev.nextSubmission(t)
	if s.silent || s.frames != 10 {
		t.Errorf("expected 10 real frames after the anomaly, got %d silent=%v", s.frames, s.silent)
	}
	if p.Stats().Anomalies != 1 {
		t.Errorf("expected 1 anomaly, got %d", p.Stats().Anomalies)
	}
}

func TestPumpStopWhileParked(t *testing.T) {
	dev := newFakeDevice(10, 10)
	events := newEventLog()
	p, err := StartPump(PumpConfig{Device: dev, Queue: NewSampleQueue(QueueConfig{}), OnEvent: events.handle})
	if err != nil {
		t.Fatalf("StartPump failed: %v", err)
	}
	dev.nextSubmission(t)

	result := make(chan error, 1)
	go func() { result <- p.Stop() }()

	select {
	case err := <-result:
		if err != nil {
			t.Errorf("expected clean stop, got %v", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("Stop did not return while the pump was parked")
	}

	if p.State() != StateStopped {
		t.Errorf("expected stopped state, got %s", p.State())
	}

	calls := dev.callLog()
	if !slices.Equal(calls[len(calls)-2:], []string{"stop", "close"}) {
		t.Errorf("expected teardown [stop close], got %v", calls)
	}
	if slices.Contains(calls, "padding") {
		t.Errorf("stopped pump must not pull, got %v", calls)
	}

	events.waitFor(t, EventStopped)

	// Stop and Wait are idempotent once joined
	if err := p.Stop(); err != nil {
		t.Errorf("second Stop returned %v", err)
	}
	if err := p.Wait(); err != nil {
		t.Errorf("Wait returned %v", err)
	}
}

func TestPumpFatalSubmitTearsDown(t *testing.T) {
	dev := newFakeDevice(10, 10)
	events := newEventLog()
	p, err := StartPump(PumpConfig{Device: dev, Queue: NewSampleQueue(QueueConfig{}), OnEvent: events.handle})
	if err != nil {
		t.Fatalf("StartPump failed: %v", err)
	}
	dev.nextSubmission(t)

	dev.set(func(d *fakeDevice) { d.submitErr = errBoom })
	dev.signal()

	done := make(chan error, 1)
	go func() { done <- p.Wait() }()

	select {
	case err := <-done:
		if !errors.Is(err, errBoom) {
			t.Errorf("expected submit error, got %v", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("pump did not exit after a fatal submit")
	}

	fatal := events.waitFor(t, EventFatal)
	if !errors.Is(fatal.Err, errBoom) {
		t.Errorf("expected fatal event to carry the submit error, got %v", fatal.Err)
	}
	events.waitFor(t, EventStopped)

	calls := dev.callLog()
	want := []string{"negotiate", "open", "submit", "start", "padding", "submit", "stop", "close"}
	if !slices.Equal(calls, want) {
		t.Errorf("expected calls %v, got %v", want, calls)
	}
}

func TestPumpFatalPadding(t *testing.T) {
	dev := newFakeDevice(10, 10)
	p, err := StartPump(PumpConfig{Device: dev, Queue: NewSampleQueue(QueueConfig{})})
	if err != nil {
		t.Fatalf("StartPump failed: %v", err)
	}
	dev.nextSubmission(t)

	dev.set(func(d *fakeDevice) { d.paddingErr = errBoom })
	dev.signal()

	if err := p.Wait(); !errors.Is(err, errBoom) {
		t.Errorf("expected padding error, got %v", err)
	}
}

func TestPumpInvalidPaddingIsFatal(t *testing.T) {
	tests := []struct {
		name    string
		padding int
	}{
		{"negative", -5},
		{"beyond capacity", 11},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newFakeDevice(10, 10)
			events := newEventLog()
			p, err := StartPump(PumpConfig{Device: dev, Queue: NewSampleQueue(QueueConfig{}), OnEvent: events.handle})
			if err != nil {
				t.Fatalf("StartPump failed: %v", err)
			}
			dev.nextSubmission(t)

			dev.set(func(d *fakeDevice) { d.padding = tt.padding })
			dev.signal()

			if err := p.Wait(); !errors.Is(err, ErrInvalidPadding) {
				t.Errorf("expected invalid padding error, got %v", err)
			}
			events.waitFor(t, EventFatal)

			calls := dev.callLog()
			if got := calls[len(calls)-2:]; !slices.Equal(got, []string{"stop", "close"}) {
				t.Errorf("expected stop then close after the fatal pass, got %v", calls)
			}
		})
	}
}

func TestPumpDeviceClosedSignal(t *testing.T) {
	dev := newFakeDevice(10, 10)
	p, err := StartPump(PumpConfig{Device: dev, Queue: NewSampleQueue(QueueConfig{})})
	if err != nil {
		t.Fatalf("StartPump failed: %v", err)
	}
	close(dev.needData)

	if err := p.Wait(); !errors.Is(err, ErrDeviceClosed) {
		t.Errorf("expected ErrDeviceClosed, got %v", err)
	}
}

func TestPumpStartupFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(d *fakeDevice)
		wantErr error
		want    []string
	}{
		{
			name:    "mono format",
			setup:   func(d *fakeDevice) { d.format.Channels = 1 },
			wantErr: ErrUnsupportedFormat,
			want:    []string{"negotiate"},
		},
		{
			name:    "24-bit format",
			setup:   func(d *fakeDevice) { d.format.BitDepth = 24 },
			wantErr: ErrUnsupportedFormat,
			want:    []string{"negotiate"},
		},
		{
			name:    "negotiate error",
			setup:   func(d *fakeDevice) { d.negotiateErr = errBoom },
			wantErr: errBoom,
			want:    []string{"negotiate"},
		},
		{
			name:    "open error",
			setup:   func(d *fakeDevice) { d.openErr = errBoom },
			wantErr: errBoom,
			want:    []string{"negotiate", "open"},
		},
		{
			name:    "prefill error",
			setup:   func(d *fakeDevice) { d.submitErr = errBoom },
			wantErr: errBoom,
			want:    []string{"negotiate", "open", "submit", "close"},
		},
		{
			name:    "start error",
			setup:   func(d *fakeDevice) { d.startErr = errBoom },
			wantErr: errBoom,
			want:    []string{"negotiate", "open", "submit", "start", "close"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newFakeDevice(10, 10)
			dev.set(tt.setup)

			p, err := StartPump(PumpConfig{Device: dev, Queue: NewSampleQueue(QueueConfig{})})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if p != nil {
				t.Error("expected no pump on startup failure")
			}
			if got := dev.callLog(); !slices.Equal(got, tt.want) {
				t.Errorf("expected calls %v, got %v", tt.want, got)
			}
		})
	}
}

func TestPumpStopWinsOverPendingNeedData(t *testing.T) {
	dev := newFakeDevice(10, 10)
	p := newPump(PumpConfig{Device: dev, Queue: NewSampleQueue(QueueConfig{})})
	p.geometry = Geometry{BufferFrames: 10, PeriodFrames: 10}

	// Both signals pending before the loop looks at either
	dev.signal()
	close(p.stop)

	for i := 0; i < 100; i++ {
		if err := p.loop(); err != nil {
			t.Fatalf("loop returned %v", err)
		}
	}

	if slices.Contains(dev.callLog(), "padding") {
		t.Error("need-data was serviced although stop was pending")
	}
}

func TestPumpRequiresDeviceAndQueue(t *testing.T) {
	if _, err := StartPump(PumpConfig{Queue: NewSampleQueue(QueueConfig{})}); err == nil {
		t.Error("expected error without a device")
	}
	if _, err := StartPump(PumpConfig{Device: newFakeDevice(1, 1)}); err == nil {
		t.Error("expected error without a queue")
	}
}

func TestReleaseStackUnwindsInReverse(t *testing.T) {
	var order []string
	var s releaseStack
	s.push("a", func() error { order = append(order, "a"); return nil })
	s.push("b", func() error { order = append(order, "b"); return errBoom })
	s.push("c", func() error { order = append(order, "c"); return nil })

	err := s.unwind()
	if !slices.Equal(order, []string{"c", "b", "a"}) {
		t.Errorf("expected reverse order [c b a], got %v", order)
	}
	if !errors.Is(err, errBoom) {
		t.Errorf("expected joined error to include the failure, got %v", err)
	}

	// A second unwind has nothing left to release
	if err := s.unwind(); err != nil {
		t.Errorf("expected empty unwind, got %v", err)
	}
}
