// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Sample, SampleBuffer, Format, the Sink seam and frame packing
// Package audio provides the fundamental audio types shared by the pcmpump packages.
//
// This package defines:
//   - Sample / SampleBuffer: signed 16-bit PCM for a single channel
//   - Format: stream format (codec, sample rate, channels, bit depth)
//   - Sink / Callback: the seam producers use to hand stereo blocks to the engine
//
// It also provides the device wire packing used by the output pump:
//
//	left := audio.SampleBuffer{l0, l1}
//	right := audio.SampleBuffer{r0, r1}
//	buf := make([]byte, 2*audio.BytesPerFrame)
//	audio.PackFrames(buf, left, right) // R0 L0 R1 L1, little-endian
package audio
