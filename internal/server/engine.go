// ABOUTME: Audio streaming engine for the stream server
// ABOUTME: Streams a source in real time and sends encoded chunks to each player
package server

import (
	"fmt"
	"log"
	"sync"

	"github.com/Sendspin/pcmpump/internal/version"
	"github.com/Sendspin/pcmpump/pkg/audio"
	"github.com/Sendspin/pcmpump/pkg/audio/encode"
	"github.com/Sendspin/pcmpump/pkg/audio/source"
	"github.com/Sendspin/pcmpump/pkg/protocol"
)

// BufferAheadMicros is how far ahead of the server clock chunks are stamped
const BufferAheadMicros = 500_000

// engineClient is a player with its negotiated format and encoder
type engineClient struct {
	client  *Client
	format  audio.Format
	encoder encode.Encoder
}

// Engine manages audio streaming
type Engine struct {
	server   *Server
	src      source.Source
	streamer *source.Streamer

	mu      sync.Mutex
	clients map[string]*engineClient
	chunks  uint64
}

// NewEngine creates an engine streaming src for server
func NewEngine(server *Server, src source.Source) *Engine {
	e := &Engine{
		server:  server,
		src:     src,
		clients: make(map[string]*engineClient),
	}
	e.streamer = source.NewStreamer(src, source.StreamerConfig{
		Loop:  server.config.Loop,
		OnEnd: e.onEnd,
	})
	e.streamer.RegisterCallback(e.broadcast)
	return e
}

// Start begins streaming in real time
func (e *Engine) Start() error {
	log.Printf("Audio engine starting")
	return e.streamer.Start()
}

// Stop stops streaming
func (e *Engine) Stop() {
	e.streamer.Stop()
	log.Printf("Audio engine stopped after %d chunks", e.Chunks())
}

// Chunks returns the number of chunks produced so far
func (e *Engine) Chunks() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.chunks
}

// negotiate picks the stream format for a client from its advertised formats
func (e *Engine) negotiate(client *Client) audio.Format {
	cfg := e.server.config
	format := audio.Format{Codec: "pcm", SampleRate: e.src.SampleRate(), Channels: 2, BitDepth: 16}

	if supports(client.Capabilities, cfg.Codec, 0) {
		format.Codec = cfg.Codec
	}
	if format.Codec == "pcm" && supports(client.Capabilities, "pcm", cfg.BitDepth) {
		format.BitDepth = cfg.BitDepth
	}
	return format
}

// supports reports whether caps lists codec, and bitDepth unless it is 0
func supports(caps *protocol.PlayerSupport, codec string, bitDepth int) bool {
	if caps == nil {
		return false
	}
	for _, f := range caps.SupportFormats {
		if f.Codec == codec && (bitDepth == 0 || f.BitDepth == bitDepth) {
			return true
		}
	}
	return false
}

// AddClient negotiates a format, creates the client's encoder and announces the stream
func (e *Engine) AddClient(client *Client) error {
	format := e.negotiate(client)
	enc, err := encode.New(format)
	if err != nil && format.Codec != "pcm" {
		log.Printf("Falling back to pcm for %s: %v", client.Name, err)
		format.Codec, format.BitDepth = "pcm", 16
		enc, err = encode.New(format)
	}
	if err != nil {
		return fmt.Errorf("failed to create encoder: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.clients[client.ID] = &engineClient{client: client, format: format, encoder: enc}
	log.Printf("Audio engine: added client %s (%s %dHz %d-bit)", client.Name, format.Codec, format.SampleRate, format.BitDepth)

	// Under the lock so stream/start precedes the first chunk
	start := protocol.StreamStart{
		Codec:      format.Codec,
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
		BitDepth:   format.BitDepth,
	}
	if err := e.server.sendMessage(client, protocol.TypeStreamStart, start); err != nil {
		log.Printf("Could not send stream/start to %s: %v", client.Name, err)
	}

	title, artist, album := e.src.Metadata()
	if artist == "" {
		artist = version.Product
	}
	meta := protocol.StreamMetadata{Title: title, Artist: artist, Album: album}
	if err := e.server.sendMessage(client, protocol.TypeStreamMetadata, meta); err != nil {
		log.Printf("Could not send metadata to %s: %v", client.Name, err)
	}

	return nil
}

// RemoveClient removes a client from audio streaming
func (e *Engine) RemoveClient(client *Client) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ec, ok := e.clients[client.ID]; ok {
		ec.encoder.Close()
		delete(e.clients, client.ID)
		log.Printf("Audio engine: removed client %s", client.Name)
	}
}

// codecFor returns the codec negotiated for a client, or "" if it is not streaming
func (e *Engine) codecFor(id string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ec, ok := e.clients[id]; ok {
		return ec.format.Codec
	}
	return ""
}

// broadcast encodes one chunk for every client and queues it
func (e *Engine) broadcast(left, right audio.SampleBuffer) {
	samples := audio.Interleave(left, right)
	timestamp := e.server.getClockMicros() + BufferAheadMicros

	e.mu.Lock()
	defer e.mu.Unlock()

	e.chunks++
	if e.server.config.Debug && e.chunks%100 == 0 {
		log.Printf("[DEBUG] chunk %d: %d frames, playback_time=%d", e.chunks, len(left), timestamp)
	}

	for _, ec := range e.clients {
		data, err := ec.encoder.Encode(samples)
		if err != nil {
			log.Printf("Encode error for %s: %v", ec.client.Name, err)
			continue
		}
		chunk := protocol.EncodeAudioChunk(protocol.AudioChunk{Timestamp: timestamp, Data: data})
		if err := e.server.sendBinary(ec.client, chunk); err != nil && e.server.config.Debug {
			log.Printf("[DEBUG] dropping chunk for %s: %v", ec.client.Name, err)
		}
	}
}

// onEnd tells every client the stream is over
func (e *Engine) onEnd(err error) {
	if err != nil {
		log.Printf("Audio source failed: %v", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, ec := range e.clients {
		if err := e.server.sendMessage(ec.client, protocol.TypeStreamEnd, protocol.StreamEnd{}); err != nil {
			log.Printf("Could not send stream/end to %s: %v", ec.client.Name, err)
		}
	}
}
