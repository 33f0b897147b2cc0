// ABOUTME: PCM audio decoder
// ABOUTME: Decodes 16-bit and 24-bit little-endian PCM to 16-bit samples
package decode

import (
	"encoding/binary"
	"fmt"

	"github.com/Sendspin/pcmpump/pkg/audio"
)

// PCMDecoder decodes PCM audio
type PCMDecoder struct {
	bitDepth int
}

// NewPCM creates a new PCM decoder
func NewPCM(format audio.Format) (Decoder, error) {
	if format.Codec != "pcm" {
		return nil, fmt.Errorf("invalid codec for PCM decoder: %s", format.Codec)
	}

	if format.BitDepth != 16 && format.BitDepth != 24 {
		return nil, fmt.Errorf("unsupported bit depth: %d (supported: 16, 24)", format.BitDepth)
	}

	return &PCMDecoder{
		bitDepth: format.BitDepth,
	}, nil
}

// Decode converts PCM bytes to samples. 24-bit input is truncated to 16 bits.
func (d *PCMDecoder) Decode(data []byte) ([]audio.Sample, error) {
	if d.bitDepth == 24 {
		// 24-bit PCM: 3 bytes per sample
		numSamples := len(data) / 3
		samples := make([]audio.Sample, numSamples)
		for i := 0; i < numSamples; i++ {
			b := [3]byte{data[i*3], data[i*3+1], data[i*3+2]}
			samples[i] = audio.SampleToInt16(audio.SampleFrom24Bit(b))
		}
		return samples, nil
	}

	numSamples := len(data) / 2
	samples := make([]audio.Sample, numSamples)
	for i := 0; i < numSamples; i++ {
		samples[i] = audio.Sample(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples, nil
}

// Close releases resources
func (d *PCMDecoder) Close() error {
	return nil
}
