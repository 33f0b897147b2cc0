// ABOUTME: WAV file source
// ABOUTME: Reads integer PCM with go-audio/wav and scales to 16-bit
package source

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Sendspin/pcmpump/pkg/audio"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAV reads from a WAV file
type WAV struct {
	file       *os.File
	decoder    *wav.Decoder
	sampleRate int
	channels   int
	bitDepth   int
	title      string
	buf        *goaudio.IntBuffer
}

// NewWAV creates a new WAV audio source
func NewWAV(path string) (*WAV, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAV file: %w", err)
	}

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		f.Close()
		return nil, errors.New("failed to decode WAV: invalid file")
	}

	s := &WAV{
		file:       f,
		decoder:    decoder,
		sampleRate: int(decoder.SampleRate),
		channels:   int(decoder.NumChans),
		bitDepth:   int(decoder.BitDepth),
		title:      titleFromPath(path),
	}
	if s.channels == 0 {
		f.Close()
		return nil, errors.New("failed to decode WAV: no channels")
	}
	logLoaded("WAV", s.title, s.sampleRate, s.channels, s.bitDepth)

	return s, nil
}

func (s *WAV) ReadFrames(left, right audio.SampleBuffer) (int, error) {
	frames := min(len(left), len(right))
	need := frames * s.channels

	if s.buf == nil || cap(s.buf.Data) < need {
		s.buf = &goaudio.IntBuffer{
			Format: &goaudio.Format{NumChannels: s.channels, SampleRate: s.sampleRate},
			Data:   make([]int, need),
		}
	}
	s.buf.Data = s.buf.Data[:need]

	n, err := s.decoder.PCMBuffer(s.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("failed to read WAV: %w", err)
	}

	got := n / s.channels
	data := s.buf.Data
	for i := 0; i < got; i++ {
		left[i] = s.convert(data[i*s.channels])
		if s.channels == 1 {
			right[i] = left[i]
		} else {
			right[i] = s.convert(data[i*s.channels+1])
		}
	}

	if got == 0 {
		return 0, io.EOF
	}
	return got, nil
}

func (s *WAV) convert(v int) audio.Sample {
	if s.bitDepth == 8 {
		// 8-bit WAV is unsigned
		return audio.Sample((v - 128) << 8)
	}
	return scaleTo16(int32(v), s.bitDepth)
}

// Rewind moves back to the first sample
func (s *WAV) Rewind() error {
	if err := s.decoder.Rewind(); err != nil {
		return fmt.Errorf("failed to rewind WAV: %w", err)
	}
	return nil
}

func (s *WAV) SampleRate() int { return s.sampleRate }
func (s *WAV) Channels() int   { return s.channels }
func (s *WAV) Metadata() (string, string, string) {
	return s.title, "Unknown Artist", "Unknown Album"
}
func (s *WAV) Close() error {
	return s.file.Close()
}
