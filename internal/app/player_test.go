// ABOUTME: Tests for player application orchestration
// ABOUTME: Tests configuration defaults, device selection and a full file-to-WAV run
package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Sendspin/pcmpump/pkg/audio/output"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func TestNewPlayerDefaults(t *testing.T) {
	player := New(Config{})

	if player.config.Device != DeviceOto {
		t.Errorf("expected default device %s, got %s", DeviceOto, player.config.Device)
	}
	if player.config.PeriodMs != 10 || player.config.BufferMs != 40 {
		t.Errorf("expected 10ms period in a 40ms buffer, got %d/%d", player.config.PeriodMs, player.config.BufferMs)
	}
	if player.config.Volume != 100 {
		t.Errorf("expected default volume 100, got %d", player.config.Volume)
	}
}

func TestGeometry(t *testing.T) {
	tests := []struct {
		name                          string
		config                        Config
		rate                          int
		wantPeriod, wantBuffer, wantQ int
	}{
		{"48k defaults", Config{PeriodMs: 10, BufferMs: 40, MaxQueueMs: 2000}, 48000, 480, 1920, 96000},
		{"44.1k", Config{PeriodMs: 20, BufferMs: 100}, 44100, 882, 4410, 0},
		{"buffer below period", Config{PeriodMs: 20, BufferMs: 5}, 8000, 160, 160, 0},
		{"tiny period", Config{PeriodMs: 0, BufferMs: 10}, 50, 1, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			period, buffer, q := tt.config.geometry(tt.rate)
			if period != tt.wantPeriod || buffer != tt.wantBuffer || q != tt.wantQ {
				t.Errorf("expected %d/%d/%d, got %d/%d/%d", tt.wantPeriod, tt.wantBuffer, tt.wantQ, period, buffer, q)
			}
		})
	}
}

func TestNewDevice(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
		check   func(output.Device) bool
	}{
		{"oto", Config{Device: DeviceOto}, false, func(d output.Device) bool { _, ok := d.(*output.OtoDevice); return ok }},
		{"malgo", Config{Device: DeviceMalgo}, false, func(d output.Device) bool { _, ok := d.(*output.MalgoDevice); return ok }},
		{"wav", Config{Device: DeviceWAV, WAVPath: "out.wav"}, false, func(d output.Device) bool { _, ok := d.(*output.WAVDevice); return ok }},
		{"wav without path", Config{Device: DeviceWAV}, true, nil},
		{"unknown", Config{Device: "alsa"}, true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New(tt.config).config
			dev, err := NewDevice(cfg, 48000)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewDevice failed: %v", err)
			}
			if !tt.check(dev) {
				t.Errorf("unexpected device type %T", dev)
			}
		})
	}
}

// writeSourceWAV writes a short 16-bit stereo file of constant samples
func writeSourceWAV(t *testing.T, path string, rate, frames int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, rate, 16, 2, 1)
	data := make([]int, 2*frames)
	for i := 0; i < frames; i++ {
		data[2*i] = 1000
		data[2*i+1] = -1000
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestRunFileToWAV(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.wav")
	out := filepath.Join(dir, "out.wav")
	writeSourceWAV(t, in, 8000, 1600)

	player := New(Config{
		File:     in,
		Device:   DeviceWAV,
		WAVPath:  out,
		PeriodMs: 10,
		BufferMs: 40,
		Volume:   50,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	if err := player.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatal("Run returned only after the timeout; expected the source end to stop it")
	}
	// 200ms of audio; the drain must not sit out its timeout on the tail
	if elapsed := time.Since(start); elapsed > drainTimeout/2 {
		t.Errorf("expected Run to finish soon after the source, took %v", elapsed)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	buf, err := wav.NewDecoder(f).FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if buf.Format.SampleRate != 8000 {
		t.Errorf("expected the device to follow the file rate, got %d", buf.Format.SampleRate)
	}

	rendered := 0
	for i := 0; i+1 < len(buf.Data); i += 2 {
		l, r := buf.Data[i], buf.Data[i+1]
		if l == 0 && r == 0 {
			continue
		}
		if l != 500 || r != -500 {
			t.Fatalf("frame %d: expected (500, -500), got (%d, %d)", i/2, l, r)
		}
		rendered++
	}
	if rendered != 1600 {
		t.Errorf("expected all 1600 source frames rendered, got %d", rendered)
	}
}

func TestRunMissingFile(t *testing.T) {
	player := New(Config{File: "/nonexistent/song.mp3", Device: DeviceWAV, WAVPath: filepath.Join(t.TempDir(), "out.wav")})
	if err := player.Run(context.Background()); err == nil {
		t.Error("expected error for a missing file")
	}
}
