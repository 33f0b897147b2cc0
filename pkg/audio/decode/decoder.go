// ABOUTME: Decoder interface definition
// ABOUTME: Common interface for stream decoders and codec dispatch
package decode

import (
	"fmt"

	"github.com/Sendspin/pcmpump/pkg/audio"
)

// Decoder decodes audio in various formats to interleaved 16-bit samples
type Decoder interface {
	// Decode converts encoded audio data to PCM samples
	Decode(data []byte) ([]audio.Sample, error)

	// Close releases decoder resources
	Close() error
}

// New creates a decoder for format.Codec
func New(format audio.Format) (Decoder, error) {
	switch format.Codec {
	case "pcm":
		return NewPCM(format)
	case "opus":
		return NewOpus(format)
	default:
		return nil, fmt.Errorf("unsupported codec: %s", format.Codec)
	}
}
