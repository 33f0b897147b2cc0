// ABOUTME: MP3 file source
// ABOUTME: Decodes with go-mp3, which always yields 16-bit stereo
package source

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Sendspin/pcmpump/pkg/audio"
	"github.com/hajimehoshi/go-mp3"
)

// MP3 reads from an MP3 file
type MP3 struct {
	file    *os.File
	decoder *mp3.Decoder
	title   string
	buf     []byte
}

// NewMP3 creates a new MP3 audio source
func NewMP3(path string) (*MP3, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}

	s := &MP3{
		file:    f,
		decoder: decoder,
		title:   titleFromPath(path),
	}
	logLoaded("MP3", s.title, decoder.SampleRate(), 2, 16)

	return s, nil
}

func (s *MP3) ReadFrames(left, right audio.SampleBuffer) (int, error) {
	frames := min(len(left), len(right))
	need := frames * audio.BytesPerFrame
	if cap(s.buf) < need {
		s.buf = make([]byte, need)
	}
	buf := s.buf[:need]

	n, err := io.ReadFull(s.decoder, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return 0, err
	}

	got := n / audio.BytesPerFrame
	for i := 0; i < got; i++ {
		left[i] = audio.Sample(binary.LittleEndian.Uint16(buf[i*4:]))
		right[i] = audio.Sample(binary.LittleEndian.Uint16(buf[i*4+2:]))
	}

	if got == 0 {
		return 0, io.EOF
	}
	return got, nil
}

// Rewind seeks back to the start and creates a fresh decoder
func (s *MP3) Rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to start: %w", err)
	}
	decoder, err := mp3.NewDecoder(s.file)
	if err != nil {
		return fmt.Errorf("failed to create new decoder: %w", err)
	}
	s.decoder = decoder
	return nil
}

func (s *MP3) SampleRate() int { return s.decoder.SampleRate() }
func (s *MP3) Channels() int   { return 2 }
func (s *MP3) Metadata() (string, string, string) {
	return s.title, "Unknown Artist", "Unknown Album"
}
func (s *MP3) Close() error {
	return s.file.Close()
}
