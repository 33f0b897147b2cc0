// ABOUTME: Ogg Vorbis file source
// ABOUTME: Decodes float samples with jfreymuth/oggvorbis and converts to 16-bit
package source

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Sendspin/pcmpump/pkg/audio"
	"github.com/jfreymuth/oggvorbis"
)

// Vorbis reads from an Ogg Vorbis file
type Vorbis struct {
	file   *os.File
	reader *oggvorbis.Reader
	title  string
	buf    []float32
}

// NewVorbis creates a new Ogg Vorbis audio source
func NewVorbis(path string) (*Vorbis, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open Vorbis file: %w", err)
	}

	reader, err := oggvorbis.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode Vorbis: %w", err)
	}

	s := &Vorbis{
		file:   f,
		reader: reader,
		title:  titleFromPath(path),
	}
	logLoaded("Vorbis", s.title, reader.SampleRate(), reader.Channels(), 32)

	return s, nil
}

func (s *Vorbis) ReadFrames(left, right audio.SampleBuffer) (int, error) {
	channels := s.reader.Channels()
	frames := min(len(left), len(right))
	need := frames * channels
	if cap(s.buf) < need {
		s.buf = make([]float32, need)
	}
	buf := s.buf[:need]

	read := 0
	for read < need {
		n, err := s.reader.Read(buf[read:])
		read += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, err
		}
		if n == 0 {
			break
		}
	}

	got := read / channels
	for i := 0; i < got; i++ {
		left[i] = audio.SampleFromFloat(buf[i*channels])
		if channels == 1 {
			right[i] = left[i]
		} else {
			right[i] = audio.SampleFromFloat(buf[i*channels+1])
		}
	}

	if got == 0 {
		return 0, io.EOF
	}
	return got, nil
}

// Rewind moves back to the first sample
func (s *Vorbis) Rewind() error {
	return s.reader.SetPosition(0)
}

func (s *Vorbis) SampleRate() int { return s.reader.SampleRate() }
func (s *Vorbis) Channels() int   { return s.reader.Channels() }
func (s *Vorbis) Metadata() (string, string, string) {
	return s.title, "Unknown Artist", "Unknown Album"
}
func (s *Vorbis) Close() error {
	return s.file.Close()
}
