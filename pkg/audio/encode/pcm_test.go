// ABOUTME: Unit tests for PCM encoder
// ABOUTME: Tests 16-bit and 24-bit PCM encoding and codec dispatch
package encode

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/Sendspin/pcmpump/pkg/audio"
	"github.com/Sendspin/pcmpump/pkg/audio/decode"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		format  audio.Format
		wantErr string
	}{
		{"pcm 16-bit", audio.Format{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 16}, ""},
		{"pcm 24-bit", audio.Format{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 24}, ""},
		{"opus", audio.Format{Codec: "opus", SampleRate: 48000, Channels: 2, BitDepth: 16}, ""},
		{"unsupported bit depth", audio.Format{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 32}, "unsupported bit depth"},
		{"unknown codec", audio.Format{Codec: "flac", SampleRate: 48000, Channels: 2, BitDepth: 16}, "unsupported codec"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoder, err := New(tt.format)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("New() error = %v, want error containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() unexpected error = %v", err)
			}
			encoder.Close()
		})
	}
}

func TestNewPCMRejectsOtherCodecs(t *testing.T) {
	_, err := NewPCM(audio.Format{Codec: "opus", SampleRate: 48000, Channels: 2, BitDepth: 16})
	if err == nil || !strings.Contains(err.Error(), "invalid codec") {
		t.Errorf("expected invalid codec error, got %v", err)
	}
}

func TestPCMEncoder_Encode16Bit(t *testing.T) {
	encoder, err := NewPCM(audio.Format{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 16})
	if err != nil {
		t.Fatalf("NewPCM() failed: %v", err)
	}
	defer encoder.Close()

	samples := []audio.Sample{0, 32767, -32768, 0x1234, -0x5678}

	output, err := encoder.Encode(samples)
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}

	if len(output) != len(samples)*2 {
		t.Fatalf("Encode() output size = %d, want %d", len(output), len(samples)*2)
	}
	for i, want := range samples {
		got := int16(binary.LittleEndian.Uint16(output[i*2:]))
		if got != want {
			t.Errorf("Sample %d: got %d, want %d", i, got, want)
		}
	}
}

func TestPCMEncoder_Encode24Bit(t *testing.T) {
	encoder, err := NewPCM(audio.Format{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 24})
	if err != nil {
		t.Fatalf("NewPCM() failed: %v", err)
	}
	defer encoder.Close()

	tests := []struct {
		sample audio.Sample
		want   [3]byte
	}{
		{0, [3]byte{0x00, 0x00, 0x00}},
		{1, [3]byte{0x00, 0x01, 0x00}},
		{32767, [3]byte{0x00, 0xFF, 0x7F}},
		{-1, [3]byte{0x00, 0xFF, 0xFF}},
		{-32768, [3]byte{0x00, 0x00, 0x80}},
	}

	samples := make([]audio.Sample, len(tests))
	for i, tt := range tests {
		samples[i] = tt.sample
	}

	output, err := encoder.Encode(samples)
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	if len(output) != len(samples)*3 {
		t.Fatalf("Encode() output size = %d, want %d", len(output), len(samples)*3)
	}
	for i, tt := range tests {
		got := [3]byte{output[i*3], output[i*3+1], output[i*3+2]}
		if got != tt.want {
			t.Errorf("Sample %d: got %v, want %v", tt.sample, got, tt.want)
		}
	}
}

func TestPCMEncoderMatchesDecoder(t *testing.T) {
	samples := []audio.Sample{0, 100, -100, 32767, -32768}

	for _, depth := range []int{16, 24} {
		format := audio.Format{Codec: "pcm", SampleRate: 48000, Channels: 1, BitDepth: depth}

		encoder, err := NewPCM(format)
		if err != nil {
			t.Fatalf("NewPCM(%d) failed: %v", depth, err)
		}
		decoder, err := decode.NewPCM(format)
		if err != nil {
			t.Fatalf("decode.NewPCM(%d) failed: %v", depth, err)
		}

		data, err := encoder.Encode(samples)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		got, err := decoder.Decode(data)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}

		for i := range samples {
			if got[i] != samples[i] {
				t.Errorf("%d-bit sample %d: got %d, want %d", depth, i, got[i], samples[i])
			}
		}
	}
}
