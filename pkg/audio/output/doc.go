// ABOUTME: Audio output package feeding playback devices from a sample queue
// ABOUTME: Provides SampleQueue, Pump and the oto, malgo and WAV devices
// Package output moves processed stereo audio to playback devices.
//
// A producer writes left/right blocks into a SampleQueue. A Pump owns one
// Device and wakes on every device period to top the device buffer up from
// the queue, substituting a full period of silence when the queue runs short.
//
// Example:
//
//	queue := output.NewSampleQueue(output.QueueConfig{})
//	pump, err := output.StartPump(output.PumpConfig{
//		Device: output.NewOtoDevice(output.OtoConfig{SampleRate: 48000}),
//		Queue:  queue,
//	})
//	queue.Write(left, right)
//	err = pump.Stop()
package output
