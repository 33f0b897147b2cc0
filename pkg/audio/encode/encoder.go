// ABOUTME: Encoder interface definition
// ABOUTME: Common interface for all audio encoders and codec dispatch
package encode

import (
	"fmt"

	"github.com/Sendspin/pcmpump/pkg/audio"
)

// Encoder encodes interleaved 16-bit samples to a wire format
type Encoder interface {
	// Encode converts PCM samples to encoded audio data
	Encode(samples []audio.Sample) ([]byte, error)

	// Close releases encoder resources
	Close() error
}

// New creates an encoder for format.Codec
func New(format audio.Format) (Encoder, error) {
	switch format.Codec {
	case "pcm":
		return NewPCM(format)
	case "opus":
		return NewOpus(format)
	default:
		return nil, fmt.Errorf("unsupported codec: %s", format.Codec)
	}
}
