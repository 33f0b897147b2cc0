// ABOUTME: FLAC file source
// ABOUTME: Decodes frames with mewkiz/flac and scales any bit depth to 16-bit
package source

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Sendspin/pcmpump/pkg/audio"
	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
)

// FLAC reads from a FLAC file
type FLAC struct {
	file       *os.File
	stream     *flac.Stream
	sampleRate int
	channels   int
	bitDepth   int
	title      string

	// current decoded frame and read position within it
	frame *frame.Frame
	pos   int
}

// NewFLAC creates a new FLAC audio source
func NewFLAC(path string) (*FLAC, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open FLAC file: %w", err)
	}

	stream, err := flac.New(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}

	info := stream.Info
	s := &FLAC{
		file:       f,
		stream:     stream,
		sampleRate: int(info.SampleRate),
		channels:   int(info.NChannels),
		bitDepth:   int(info.BitsPerSample),
		title:      titleFromPath(path),
	}
	logLoaded("FLAC", s.title, s.sampleRate, s.channels, s.bitDepth)

	return s, nil
}

func (s *FLAC) ReadFrames(left, right audio.SampleBuffer) (int, error) {
	frames := min(len(left), len(right))
	read := 0

	for read < frames {
		if s.frame == nil || s.pos >= int(s.frame.BlockSize) {
			fr, err := s.stream.ParseNext()
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				return read, err
			}
			s.frame, s.pos = fr, 0
		}

		l := s.frame.Subframes[0].Samples
		r := l
		if s.channels > 1 {
			r = s.frame.Subframes[1].Samples
		}
		for ; s.pos < int(s.frame.BlockSize) && read < frames; s.pos++ {
			left[read] = scaleTo16(l[s.pos], s.bitDepth)
			right[read] = scaleTo16(r[s.pos], s.bitDepth)
			read++
		}
	}

	if read == 0 {
		return 0, io.EOF
	}
	return read, nil
}

// Rewind seeks back to the start and creates a fresh stream
func (s *FLAC) Rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to start: %w", err)
	}
	stream, err := flac.New(s.file)
	if err != nil {
		return fmt.Errorf("failed to create new stream: %w", err)
	}
	s.stream = stream
	s.frame, s.pos = nil, 0
	return nil
}

func (s *FLAC) SampleRate() int { return s.sampleRate }
func (s *FLAC) Channels() int   { return s.channels }
func (s *FLAC) Metadata() (string, string, string) {
	return s.title, "Unknown Artist", "Unknown Album"
}
func (s *FLAC) Close() error {
	return s.file.Close()
}
