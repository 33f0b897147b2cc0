// ABOUTME: High-level output API for pcmpump
// ABOUTME: Composes sinks, signal chains, the sample queue and a device pump
// Package pcmpump wires audio producers to a playback device.
//
// A Manager owns one left and one right signal chain (each starting with a
// software gain stage), a bounded sample queue and an output.Pump. Sinks such
// as a source.Streamer or a StreamSink are attached to the manager; every
// block they produce is filtered in place and queued, and the pump moves the
// queued frames to the device one period at a time.
//
// Example:
//
//	mgr, err := pcmpump.NewManager(pcmpump.Config{
//		Device: output.NewOtoDevice(output.OtoConfig{}),
//	})
//	mgr.Attach(source.NewStreamer(src, source.StreamerConfig{}))
//	err = mgr.Start()
//	defer mgr.Close()
package pcmpump
