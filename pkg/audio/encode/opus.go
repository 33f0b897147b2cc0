// ABOUTME: Opus audio encoder
// ABOUTME: Encodes 20ms frames of 16-bit samples to Opus packets
package encode

import (
	"fmt"

	"github.com/Sendspin/pcmpump/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

// maxPacketSize is the largest packet Encode produces
const maxPacketSize = 4000

// OpusEncoder encodes Opus audio
type OpusEncoder struct {
	encoder   *opus.Encoder
	channels  int
	frameSize int
}

// NewOpus creates a new Opus encoder
func NewOpus(format audio.Format) (Encoder, error) {
	if format.Codec != "opus" {
		return nil, fmt.Errorf("invalid codec for Opus encoder: %s", format.Codec)
	}

	encoder, err := opus.NewEncoder(format.SampleRate, format.Channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	return &OpusEncoder{
		encoder:   encoder,
		channels:  format.Channels,
		frameSize: format.SampleRate / 50, // 20ms
	}, nil
}

// FrameSize returns the number of frames per packet
func (e *OpusEncoder) FrameSize() int {
	return e.frameSize
}

// Encode encodes one 20ms frame. Short input is padded with silence; longer input is an error.
func (e *OpusEncoder) Encode(samples []audio.Sample) ([]byte, error) {
	want := e.frameSize * e.channels
	if len(samples) > want {
		return nil, fmt.Errorf("opus frame too long: %d samples (max %d)", len(samples), want)
	}

	pcm := samples
	if len(pcm) < want {
		pcm = make([]int16, want)
		copy(pcm, samples)
	}

	data := make([]byte, maxPacketSize)
	n, err := e.encoder.Encode(pcm, data)
	if err != nil {
		return nil, fmt.Errorf("opus encode error: %w", err)
	}

	return data[:n], nil
}

// Close releases resources
func (e *OpusEncoder) Close() error {
	return nil
}
