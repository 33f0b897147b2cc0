// ABOUTME: Audio source abstraction for producing stereo blocks from files or a test tone
// ABOUTME: Opens MP3, FLAC, Ogg Vorbis and WAV files by extension
package source

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sendspin/pcmpump/pkg/audio"
)

// Source produces 16-bit stereo frames
type Source interface {
	// ReadFrames fills up to len(left) frames and returns how many were written.
	// At the end of the source it returns io.EOF with zero frames.
	ReadFrames(left, right audio.SampleBuffer) (int, error)

	// SampleRate returns the sample rate of the audio
	SampleRate() int

	// Channels returns the channel count of the underlying media
	Channels() int

	// Metadata returns title, artist, album
	Metadata() (title, artist, album string)

	// Close closes the audio source
	Close() error
}

// Rewinder is implemented by sources that can restart from the beginning
type Rewinder interface {
	Rewind() error
}

// Open creates a source for path. An empty path returns a test tone.
func Open(path string) (Source, error) {
	if path == "" {
		return NewTestTone(ToneConfig{}), nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("audio file not found: %s", path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".mp3":
		return NewMP3(path)
	case ".flac":
		return NewFLAC(path)
	case ".ogg", ".oga":
		return NewVorbis(path)
	case ".wav":
		return NewWAV(path)
	default:
		return nil, fmt.Errorf("unsupported audio format: %s (supported: .mp3, .flac, .ogg, .wav)", ext)
	}
}

// titleFromPath derives a title from the file name
func titleFromPath(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func logLoaded(kind, title string, sampleRate, channels, bitDepth int) {
	log.Printf("Loaded %s: %s (sample rate: %d Hz, channels: %d, bit depth: %d)",
		kind, title, sampleRate, channels, bitDepth)
}

// scaleTo16 converts a signed sample of bitDepth bits to 16-bit
func scaleTo16(sample int32, bitDepth int) audio.Sample {
	switch {
	case bitDepth == 16:
		return audio.Sample(sample)
	case bitDepth > 16:
		return audio.Sample(sample >> (bitDepth - 16))
	default:
		return audio.Sample(sample << (16 - bitDepth))
	}
}
