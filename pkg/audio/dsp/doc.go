// ABOUTME: Filter pipeline package
// ABOUTME: Provides the Filter interface, SignalChain and the Gain volume stage
// Package dsp sequences in-place sample filters ahead of output.
//
// A SignalChain is built once, before steady-state processing, and then driven
// from a single goroutine:
//
//	chain := dsp.NewSignalChain()
//	chain.SetSampleRate(48000)
//	chain.AddFilter(dsp.NewGain(80)) // initialized at 48000 immediately
//	chain.ProcessSamples(left)
//
// Filters added after SetSampleRate are initialized at the current rate before
// they see their first buffer.
package dsp
