// ABOUTME: Audio decoder package for network stream codecs
// ABOUTME: Provides the Decoder interface and PCM and Opus implementations
// Package decode provides audio decoders for stream payloads.
//
// Supports: PCM (16-bit and 24-bit little-endian) and Opus.
//
// All decoders output interleaved 16-bit samples; use audio.Deinterleave to
// split them into channel buffers.
//
// Example:
//
//	decoder, err := decode.New(format)
//	samples, err := decoder.Decode(audioData)
package decode
