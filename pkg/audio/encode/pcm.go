// ABOUTME: PCM audio encoder
// ABOUTME: Encodes 16-bit samples to 16-bit or 24-bit little-endian PCM bytes
package encode

import (
	"encoding/binary"
	"fmt"

	"github.com/Sendspin/pcmpump/pkg/audio"
)

// PCMEncoder encodes PCM audio
type PCMEncoder struct {
	bitDepth int
}

// NewPCM creates a new PCM encoder
func NewPCM(format audio.Format) (Encoder, error) {
	if format.Codec != "pcm" {
		return nil, fmt.Errorf("invalid codec for PCM encoder: %s", format.Codec)
	}

	if format.BitDepth != 16 && format.BitDepth != 24 {
		return nil, fmt.Errorf("unsupported bit depth: %d (supported: 16, 24)", format.BitDepth)
	}

	return &PCMEncoder{
		bitDepth: format.BitDepth,
	}, nil
}

// Encode converts samples to PCM bytes
func (e *PCMEncoder) Encode(samples []audio.Sample) ([]byte, error) {
	if e.bitDepth == 24 {
		out := make([]byte, len(samples)*3)
		for i, sample := range samples {
			b := audio.SampleTo24Bit(audio.SampleFromInt16(sample))
			copy(out[i*3:], b[:])
		}
		return out, nil
	}

	out := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sample))
	}
	return out, nil
}

// Close releases resources
func (e *PCMEncoder) Close() error {
	return nil
}
