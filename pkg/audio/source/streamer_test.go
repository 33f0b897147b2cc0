// ABOUTME: Tests for the real-time streamer
// ABOUTME: Tests lead-in delivery, pacing, stop and end-of-source handling
package source

import (
	"sync"
	"testing"
	"time"

	"github.com/Sendspin/pcmpump/pkg/audio"
)

type frameCounter struct {
	mu     sync.Mutex
	frames int
	calls  int
	paired bool
}

func (c *frameCounter) callback(left, right audio.SampleBuffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.frames += len(left)
	if len(left) != len(right) {
		c.paired = false
	}
}

func (c *frameCounter) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

func TestStreamerRequiresCallback(t *testing.T) {
	s := NewStreamer(NewTestTone(ToneConfig{}), StreamerConfig{})
	if err := s.Start(); err == nil {
		t.Error("expected error starting without a callback")
	}
}

func TestStreamerLeadInAndStop(t *testing.T) {
	tone := NewTestTone(ToneConfig{SampleRate: 48000})
	s := NewStreamer(tone, StreamerConfig{
		ChunkDuration: 10 * time.Millisecond,
		LeadIn:        50 * time.Millisecond,
	})

	counter := &frameCounter{paired: true}
	s.RegisterCallback(counter.callback)

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if !s.Running() {
		t.Error("expected streamer to be running")
	}

	// The lead-in (2400 frames) arrives without waiting for the ticker
	deadline := time.Now().Add(2 * time.Second)
	for counter.total() < 2400 {
		if time.Now().After(deadline) {
			t.Fatalf("lead-in not delivered, got %d frames", counter.total())
		}
		time.Sleep(time.Millisecond)
	}

	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if s.Running() {
		t.Error("expected streamer to be stopped")
	}

	stopped := counter.total()
	time.Sleep(30 * time.Millisecond)
	if counter.total() != stopped {
		t.Error("callback invoked after Stop returned")
	}
	if uint64(stopped) != s.Frames() {
		t.Errorf("expected Frames() %d to match delivered %d", s.Frames(), stopped)
	}
	if !counter.paired {
		t.Error("callback received unequal channel lengths")
	}
}

func TestStreamerEndsWithSource(t *testing.T) {
	path := writeWAV(t, t.TempDir(), 8000, 2, 16, make([]int, 2*400))
	src, err := NewWAV(path)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	ended := make(chan error, 1)
	s := NewStreamer(src, StreamerConfig{
		ChunkDuration: 5 * time.Millisecond,
		OnEnd:         func(err error) { ended <- err },
	})
	counter := &frameCounter{paired: true}
	s.RegisterCallback(counter.callback)

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-ended:
		if err != nil {
			t.Errorf("expected clean end, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("streamer did not reach the end of the source")
	}

	if counter.total() != 400 {
		t.Errorf("expected 400 frames delivered, got %d", counter.total())
	}
	if s.Running() {
		t.Error("expected streamer stopped after the source ended")
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop after end returned %v", err)
	}
}

func TestStreamerFansOutToEveryCallback(t *testing.T) {
	frames := make([]int, 2*200)
	for i := range frames {
		frames[i] = 1000
	}
	path := writeWAV(t, t.TempDir(), 8000, 2, 16, frames)
	src, err := NewWAV(path)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	ended := make(chan error, 1)
	s := NewStreamer(src, StreamerConfig{
		ChunkDuration: 5 * time.Millisecond,
		OnEnd:         func(err error) { ended <- err },
	})

	// The first callback zeroes its block in place; the second must still see the samples
	var mu sync.Mutex
	var zeroed, seen []audio.Sample
	s.RegisterCallback(func(left, right audio.SampleBuffer) {
		mu.Lock()
		defer mu.Unlock()
		clear(left)
		zeroed = append(zeroed, left...)
	})
	s.RegisterCallback(func(left, right audio.SampleBuffer) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, left...)
	})

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("streamer did not reach the end of the source")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(zeroed) != 200 || len(seen) != 200 {
		t.Fatalf("expected 200 frames per callback, got %d and %d", len(zeroed), len(seen))
	}
	for i, v := range seen {
		if v == 0 {
			t.Fatalf("frame %d: second callback saw the first callback's edit", i)
		}
	}
}

func TestStreamerLoops(t *testing.T) {
	path := writeWAV(t, t.TempDir(), 8000, 2, 16, make([]int, 2*40))
	src, err := NewWAV(path)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	s := NewStreamer(src, StreamerConfig{ChunkDuration: 5 * time.Millisecond, Loop: true})
	counter := &frameCounter{paired: true}
	s.RegisterCallback(counter.callback)

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	// 40 frames per chunk: the file is replayed several times
	deadline := time.Now().Add(2 * time.Second)
	for counter.total() < 200 {
		if time.Now().After(deadline) {
			t.Fatalf("expected looping playback, got %d frames", counter.total())
		}
		time.Sleep(time.Millisecond)
	}
}
