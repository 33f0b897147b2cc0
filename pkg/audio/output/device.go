// ABOUTME: Output device contract consumed by the pump
// ABOUTME: Defines Device, Geometry, sentinel errors and the shared pull buffer for callback backends
package output

import (
	"errors"
	"sync"

	"github.com/Sendspin/pcmpump/pkg/audio"
)

var (
	// ErrUnsupportedFormat is returned when the device format cannot be driven by the pump
	ErrUnsupportedFormat = errors.New("unsupported device format")

	// ErrBufferOverflow is returned when more frames are submitted than the device has room for
	ErrBufferOverflow = errors.New("device buffer overflow")

	// ErrNotOpen is returned by device operations before Open or after Close
	ErrNotOpen = errors.New("device not open")

	// ErrInvalidPadding is returned when a device reports padding outside its buffer
	ErrInvalidPadding = errors.New("invalid padding")

	// ErrDeviceClosed is returned when the device stops signalling
	ErrDeviceClosed = errors.New("device closed its need-data signal")
)

// Geometry is the buffer layout agreed when a device is opened
type Geometry struct {
	// BufferFrames is the device buffer capacity in frames
	BufferFrames int

	// PeriodFrames is the number of frames the device consumes per period
	PeriodFrames int
}

// Device is a playback endpoint driven by a Pump.
//
// The pump calls Negotiate, Open, Submit (pre-fill) and Start in that order,
// then Padding/Submit once per NeedData signal from its own goroutine, and
// finally Stop and Close in reverse order.
type Device interface {
	// Name identifies the device in logs
	Name() string

	// Negotiate reports the frame format the device will accept
	Negotiate() (audio.Format, error)

	// Open acquires the device for format and reports its buffer geometry
	Open(format audio.Format) (Geometry, error)

	// Padding returns the frames queued in the device and not yet played
	Padding() (int, error)

	// Submit hands frames packed frames to the device. When silent is true the
	// device may ignore data and play silence.
	Submit(data []byte, frames int, silent bool) error

	// Start begins playback
	Start() error

	// Stop halts playback
	Stop() error

	// Close releases the device
	Close() error

	// NeedData is signalled once per device period when buffer space frees up
	NeedData() <-chan struct{}
}

// pullBuffer is the device-side FIFO that pull-driven backends (oto, malgo,
// the WAV clock) read from. Every pull frees space and raises need-data.
type pullBuffer struct {
	mu       sync.Mutex
	data     []byte
	readPos  int
	count    int // bytes currently buffered
	needData chan struct{}

	underflows uint64
}

// newPullBuffer creates a buffer holding capacityFrames stereo 16-bit frames
func newPullBuffer(capacityFrames int) *pullBuffer {
	return &pullBuffer{
		data:     make([]byte, capacityFrames*audio.BytesPerFrame),
		needData: make(chan struct{}, 1),
	}
}

// padding returns the frames waiting to be played
func (b *pullBuffer) padding() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count / audio.BytesPerFrame
}

// submit appends frames packed frames; silent writes zeros instead of data
func (b *pullBuffer) submit(data []byte, frames int, silent bool) error {
	n := frames * audio.BytesPerFrame

	b.mu.Lock()
	defer b.mu.Unlock()

	if n > len(b.data)-b.count {
		return ErrBufferOverflow
	}
	if !silent && len(data) < n {
		return errors.New("short submit buffer")
	}

	size := len(b.data)
	w := (b.readPos + b.count) % size
	for written := 0; written < n; {
		end := size
		if end-w > n-written {
			end = w + n - written
		}
		if silent {
			clear(b.data[w:end])
		} else {
			copy(b.data[w:end], data[written:])
		}
		written += end - w
		w = end % size
	}
	b.count += n

	return nil
}

// pull copies buffered bytes into p, zero-fills whatever is missing and
// signals need-data. Returns the number of real bytes copied.
func (b *pullBuffer) pull(p []byte) int {
	b.mu.Lock()

	copied := 0
	size := len(b.data)
	for copied < len(p) && b.count > 0 {
		end := size
		if end-b.readPos > b.count {
			end = b.readPos + b.count
		}
		n := copy(p[copied:], b.data[b.readPos:end])
		copied += n
		b.count -= n
		b.readPos = (b.readPos + n) % size
	}
	if copied < len(p) {
		clear(p[copied:])
		b.underflows++
	}

	b.mu.Unlock()

	b.signal()
	return copied
}

// signal raises need-data without blocking; pending signals coalesce
func (b *pullBuffer) signal() {
	select {
	case b.needData <- struct{}{}:
	default:
	}
}

// reset drops buffered audio
func (b *pullBuffer) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readPos = 0
	b.count = 0
}
