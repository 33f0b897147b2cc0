// ABOUTME: Audio encoder package for encoding PCM to wire formats
// ABOUTME: Provides Encoder interface and implementations for PCM, Opus
// Package encode provides audio encoders for stream servers.
//
// Supports: PCM (16-bit and 24-bit), Opus
//
// All encoders accept interleaved 16-bit samples and encode
// to wire format.
//
// Example:
//
//	encoder, err := encode.New(format)
//	data, err := encoder.Encode(samples)
package encode
