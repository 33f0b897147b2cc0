// ABOUTME: Device wire format packing
// ABOUTME: Interleaves left/right buffers into right-first little-endian 16-bit frames
package audio

import "encoding/binary"

// PackFrames writes frames from left and right into dst using the device layout:
// for each frame the right sample (2 bytes, little-endian) followed by the left
// sample (2 bytes, little-endian). Returns the number of frames packed, bounded by
// the shorter buffer and by the space in dst.
func PackFrames(dst []byte, left, right SampleBuffer) int {
	frames := len(left)
	if len(right) < frames {
		frames = len(right)
	}
	if room := len(dst) / BytesPerFrame; room < frames {
		frames = room
	}

	for i := 0; i < frames; i++ {
		offset := i * BytesPerFrame
		binary.LittleEndian.PutUint16(dst[offset:], uint16(right[i]))
		binary.LittleEndian.PutUint16(dst[offset+2:], uint16(left[i]))
	}

	return frames
}

// Silence zeroes the first frames of dst
func Silence(dst []byte, frames int) {
	n := frames * BytesPerFrame
	if n > len(dst) {
		n = len(dst)
	}
	clear(dst[:n])
}
