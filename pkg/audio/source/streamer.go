// ABOUTME: Real-time pacer that turns a Source into a Sink
// ABOUTME: Delivers one chunk per tick to the registered callbacks, with an initial lead-in burst
package source

import (
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/Sendspin/pcmpump/pkg/audio"
)

const (
	// DefaultChunkDuration is the amount of audio delivered per tick
	DefaultChunkDuration = 20 * time.Millisecond

	// DefaultLeadIn is delivered immediately on start so the queue never starts empty
	DefaultLeadIn = 200 * time.Millisecond
)

// StreamerConfig configures a Streamer
type StreamerConfig struct {
	ChunkDuration time.Duration
	LeadIn        time.Duration

	// Loop rewinds the source at the end instead of stopping
	Loop bool

	// OnEnd is called from the streamer goroutine when the source is exhausted
	OnEnd func(err error)
}

// Streamer reads a Source in real time and hands each chunk to its callbacks
type Streamer struct {
	src Source
	cfg StreamerConfig

	mu        sync.Mutex
	callbacks []audio.Callback
	running  bool
	stopChan chan struct{}
	done     chan struct{}

	frames uint64
}

// NewStreamer creates a streamer for src
func NewStreamer(src Source, cfg StreamerConfig) *Streamer {
	if cfg.ChunkDuration <= 0 {
		cfg.ChunkDuration = DefaultChunkDuration
	}
	if cfg.LeadIn < 0 {
		cfg.LeadIn = 0
	}
	return &Streamer{src: src, cfg: cfg}
}

// RegisterCallback implements audio.Sink
func (s *Streamer) RegisterCallback(cb audio.Callback) {
	s.mu.Lock()
	s.callbacks = append(s.callbacks, cb)
	s.mu.Unlock()
}

// Start implements audio.Sink
func (s *Streamer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if len(s.callbacks) == 0 {
		return errors.New("streamer has no callback registered")
	}

	s.running = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	go func(stop <-chan struct{}, done chan<- struct{}) {
		ended, err := s.run(stop)
		close(done)
		if ended {
			s.finish(stop, err)
		}
	}(s.stopChan, s.done)

	return nil
}

// Stop implements audio.Sink; it waits for the streamer goroutine to exit
func (s *Streamer) Stop() error {
	s.mu.Lock()
	stop, done := s.stopChan, s.done
	if s.running {
		close(stop)
	}
	s.running = false
	s.stopChan = nil
	s.mu.Unlock()

	if done != nil {
		<-done
	}
	return nil
}

// Running implements audio.Sink
func (s *Streamer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SampleRate returns the rate of the underlying source
func (s *Streamer) SampleRate() int {
	return s.src.SampleRate()
}

// Frames returns the number of frames delivered so far
func (s *Streamer) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// run streams until stopped or the source ends; ended reports the latter
func (s *Streamer) run(stop <-chan struct{}) (ended bool, err error) {
	rate := s.src.SampleRate()
	chunk := int(int64(rate) * int64(s.cfg.ChunkDuration) / int64(time.Second))
	if chunk <= 0 {
		chunk = 1
	}
	left := make(audio.SampleBuffer, chunk)
	right := make(audio.SampleBuffer, chunk)

	title, _, _ := s.src.Metadata()
	log.Printf("Streaming %s: %dHz, %d frames per chunk", title, rate, chunk)

	leadIn := int(int64(rate) * int64(s.cfg.LeadIn) / int64(time.Second))
	for leadIn > 0 {
		n := min(chunk, leadIn)
		if err := s.deliver(left[:n], right[:n]); err != nil {
			return true, err
		}
		leadIn -= n
	}

	ticker := time.NewTicker(s.cfg.ChunkDuration)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return false, nil
		case <-ticker.C:
			if err := s.deliver(left, right); err != nil {
				return true, err
			}
		}
	}
}

// deliver reads one chunk and passes it to every callback.
// Returns io.EOF when the source is exhausted and not looping.
func (s *Streamer) deliver(left, right audio.SampleBuffer) error {
	n, err := s.src.ReadFrames(left, right)
	if errors.Is(err, io.EOF) && s.cfg.Loop {
		if rw, ok := s.src.(Rewinder); ok {
			if rerr := rw.Rewind(); rerr != nil {
				return rerr
			}
			n, err = s.src.ReadFrames(left, right)
		}
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	callbacks := s.callbacks
	s.frames += uint64(n)
	s.mu.Unlock()

	// Callbacks may keep or filter the buffers, so each gets its own copy
	for _, cb := range callbacks {
		cb(left[:n].Clone(), right[:n].Clone())
	}
	return nil
}

// finish marks the streamer stopped after the source ended on its own.
// It runs after the goroutine has signalled done, so OnEnd may call Stop.
func (s *Streamer) finish(stop <-chan struct{}, err error) {
	if errors.Is(err, io.EOF) {
		log.Printf("Source ended")
		err = nil
	} else {
		log.Printf("Source error: %v", err)
	}

	s.mu.Lock()
	if s.running && s.stopChan == stop {
		s.running = false
		s.stopChan = nil
	}
	onEnd := s.cfg.OnEnd
	s.mu.Unlock()

	if onEnd != nil {
		onEnd(err)
	}
}
