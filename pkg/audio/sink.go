// ABOUTME: Sink composition seam between sample producers and the output engine
// ABOUTME: Producers deliver stereo blocks to registered callbacks as they become available
package audio

// Callback receives a block of new frames. left and right always have equal length.
// Callbacks run on the producer's goroutine and may modify the buffers in place.
type Callback func(left, right SampleBuffer)

// Sink is a stream endpoint that produces samples and hands them to registered callbacks
type Sink interface {
	// Start begins delivering samples
	Start() error

	// Stop halts delivery; no callback runs after Stop returns
	Stop() error

	// Running reports whether the sink is delivering samples
	Running() bool

	// RegisterCallback adds cb to the callbacks invoked for every new block
	RegisterCallback(cb Callback)
}
