// ABOUTME: Audio source package for files and generated tones
// ABOUTME: Provides the Source interface, file decoders and the real-time Streamer
// Package source produces stereo audio for the pump.
//
// File sources decode MP3, FLAC, Ogg Vorbis and WAV into 16-bit stereo. A
// Streamer paces any Source in real time and implements audio.Sink, so it can
// feed a pcmpump.Manager exactly like a network stream.
//
// Example:
//
//	src, err := source.Open("song.flac")
//	streamer := source.NewStreamer(src, source.StreamerConfig{Loop: true})
//	streamer.RegisterCallback(func(left, right audio.SampleBuffer) { ... })
//	err = streamer.Start()
package source
