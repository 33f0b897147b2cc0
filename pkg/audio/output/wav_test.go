// ABOUTME: Tests for the WAV capture device
// ABOUTME: Runs a real pump against a fast clock and decodes the rendered file
package output

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Sendspin/pcmpump/pkg/audio"
	"github.com/go-audio/wav"
)

func TestWAVDeviceRendersPumpedAudio(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")

	const (
		rate   = 8000
		period = 80
		frames = 800
	)

	dev := NewWAVDevice(WAVConfig{
		Path:         path,
		SampleRate:   rate,
		PeriodFrames: period,
		BufferFrames: 2 * period,
		Tick:         2 * time.Millisecond,
	})

	queue := NewSampleQueue(QueueConfig{})
	left := ramp(1, frames)
	queue.Write(left, negate(left))

	pump, err := StartPump(PumpConfig{Device: dev, Queue: queue})
	if err != nil {
		t.Fatalf("StartPump failed: %v", err)
	}

	eventually(t, func() bool { return dev.FramesWritten() >= period+frames }, "WAV device did not render the queued audio")

	if err := pump.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		t.Fatal("rendered file is not a valid WAV")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if buf.Format.NumChannels != 2 || buf.Format.SampleRate != rate {
		t.Fatalf("unexpected format: %+v", buf.Format)
	}

	data := buf.Data
	if len(data) < 2*(period+frames) {
		t.Fatalf("expected at least %d frames, got %d", period+frames, len(data)/2)
	}

	// The pre-filled period plays first
	for i := 0; i < period; i++ {
		if data[2*i] != 0 || data[2*i+1] != 0 {
			t.Fatalf("prefill frame %d not silent: %d %d", i, data[2*i], data[2*i+1])
		}
	}

	// Real frames appear in order with left in channel 0; late pulls may insert silence between periods
	next := 1
	for i := period; i < len(data)/2 && next <= frames; i++ {
		l, r := data[2*i], data[2*i+1]
		if l == 0 && r == 0 {
			continue
		}
		if l != next || r != -next {
			t.Fatalf("frame %d: expected (%d, %d), got (%d, %d)", i, next, -next, l, r)
		}
		next++
	}
	if next != frames+1 {
		t.Errorf("expected all %d frames in the file, found %d", frames, next-1)
	}
}

func TestWAVDeviceRejectedFormat(t *testing.T) {
	dev := NewWAVDevice(WAVConfig{
		Path:     filepath.Join(t.TempDir(), "out.wav"),
		BitDepth: 24,
	})

	_, err := StartPump(PumpConfig{Device: dev, Queue: NewSampleQueue(QueueConfig{})})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestWAVDeviceNotOpen(t *testing.T) {
	dev := NewWAVDevice(WAVConfig{Path: "unused.wav"})

	if _, err := dev.Padding(); !errors.Is(err, ErrNotOpen) {
		t.Errorf("expected ErrNotOpen from Padding, got %v", err)
	}
	if err := dev.Submit(nil, 1, true); !errors.Is(err, ErrNotOpen) {
		t.Errorf("expected ErrNotOpen from Submit, got %v", err)
	}
	if err := dev.Start(); !errors.Is(err, ErrNotOpen) {
		t.Errorf("expected ErrNotOpen from Start, got %v", err)
	}
}

func TestWireToInts(t *testing.T) {
	wire := make([]byte, 2*audio.BytesPerFrame)
	audio.PackFrames(wire, audio.SampleBuffer{100, -300}, audio.SampleBuffer{-200, 400})

	got := make([]int, 4)
	wireToInts(got, wire)

	want := []int{100, -200, -300, 400}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}
