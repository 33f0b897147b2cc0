// ABOUTME: Stream wire protocol package
// ABOUTME: Defines protocol messages and the WebSocket client
// Package protocol implements the stream wire protocol.
//
// JSON text frames carry control messages (hello, stream/start, commands).
// Binary frames carry audio: one type byte (4), an 8-byte big-endian
// timestamp in microseconds, then the encoded payload.
//
// Example:
//
//	client := protocol.NewClient(protocol.Config{ServerAddr: "localhost:8927", Name: "Kitchen"})
//	err := client.Connect()
//	start := <-client.StreamStart
//	chunk := <-client.AudioChunks
package protocol
