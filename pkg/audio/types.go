// ABOUTME: Audio type definitions
// ABOUTME: Defines samples, per-channel buffers, stream formats and sample conversions
package audio

const (
	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23

	// BytesPerFrame is the packed size of one stereo 16-bit frame
	BytesPerFrame = 4
)

// Sample is one signed 16-bit amplitude value
type Sample = int16

// SampleBuffer holds the samples of a single channel in playback order
type SampleBuffer []Sample

// Format describes audio stream format
type Format struct {
	Codec      string
	SampleRate int
	Channels   int
	BitDepth   int
}

// Clone returns an independent copy of the buffer
func (b SampleBuffer) Clone() SampleBuffer {
	out := make(SampleBuffer, len(b))
	copy(out, b)
	return out
}

// SampleToInt16 converts a 24-bit sample held in an int32 to 16-bit
func SampleToInt16(sample int32) int16 {
	return int16(sample >> 8)
}

// SampleFromInt16 converts int16 sample to int32 (left-justified in 24-bit)
func SampleFromInt16(sample int16) int32 {
	return int32(sample) << 8
}

// SampleFrom24Bit converts 24-bit packed bytes to int32 (little-endian)
func SampleFrom24Bit(b [3]byte) int32 {
	val := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	// Sign extend from 24-bit to 32-bit
	if val&0x800000 != 0 {
		val |= ^0xFFFFFF
	}
	return val
}

// SampleFromFloat converts a float sample in [-1, 1] to 16-bit, clamping out-of-range input
func SampleFromFloat(f float32) Sample {
	if f >= 1 {
		return 32767
	}
	if f <= -1 {
		return -32768
	}
	return Sample(f * 32767)
}

// Deinterleave splits interleaved samples into left and right buffers.
// Mono input is duplicated to both channels; channels beyond the second are ignored.
func Deinterleave(interleaved []Sample, channels int) (left, right SampleBuffer) {
	if channels <= 0 {
		return nil, nil
	}

	frames := len(interleaved) / channels
	left = make(SampleBuffer, frames)
	right = make(SampleBuffer, frames)

	for i := 0; i < frames; i++ {
		left[i] = interleaved[i*channels]
		if channels == 1 {
			right[i] = left[i]
		} else {
			right[i] = interleaved[i*channels+1]
		}
	}

	return left, right
}

// SampleTo24Bit converts int32 to 24-bit packed bytes (little-endian)
func SampleTo24Bit(sample int32) [3]byte {
	return [3]byte{
		byte(sample),
		byte(sample >> 8),
		byte(sample >> 16),
	}
}

// Interleave merges left and right into L,R ordered frames.
// The result holds as many frames as the shorter buffer.
func Interleave(left, right SampleBuffer) []Sample {
	frames := min(len(left), len(right))
	out := make([]Sample, 2*frames)
	for i := 0; i < frames; i++ {
		out[2*i] = left[i]
		out[2*i+1] = right[i]
	}
	return out
}
