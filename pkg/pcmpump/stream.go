// ABOUTME: Network sink receiving encoded audio from a stream server
// ABOUTME: Decodes chunks to stereo blocks and forwards control messages to callbacks
package pcmpump

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/Sendspin/pcmpump/pkg/audio"
	"github.com/Sendspin/pcmpump/pkg/audio/decode"
	"github.com/Sendspin/pcmpump/pkg/protocol"
	"github.com/google/uuid"
)

// StreamConfig holds stream sink configuration
type StreamConfig struct {
	// ServerAddr is the server address (host:port)
	ServerAddr string

	// Path is the WebSocket endpoint (default: protocol.DefaultPath)
	Path string

	// Name is the display name announced to the server
	Name string

	// DeviceInfo identifies this player to the server
	DeviceInfo protocol.DeviceInfo

	// SampleRate is the rate advertised in supported formats (default: 48000)
	SampleRate int

	// BufferCapacity is the advertised buffer size in bytes (default: 1MB)
	BufferCapacity int

	// OnFormat is called when a stream starts with its format
	OnFormat func(audio.Format)

	// OnMetadata is called when track metadata arrives
	OnMetadata func(protocol.StreamMetadata)

	// OnCommand is called for server volume and mute commands
	OnCommand func(protocol.PlayerCommand)

	// OnClear is called when the server asks to drop buffered audio
	OnClear func()
}

// StreamSink is an audio.Sink fed by a stream server
type StreamSink struct {
	config StreamConfig
	id     string

	mu        sync.Mutex
	client    *protocol.Client
	callbacks []audio.Callback
	running   bool
	stop      chan struct{}
	wg        sync.WaitGroup
}

// NewStreamSink creates a stream sink. The connection is made by Start.
func NewStreamSink(config StreamConfig) *StreamSink {
	if config.Name == "" {
		config.Name = "pcmpump"
	}
	if config.SampleRate == 0 {
		config.SampleRate = 48000
	}
	if config.BufferCapacity == 0 {
		config.BufferCapacity = 1048576
	}

	return &StreamSink{
		config: config,
		id:     uuid.New().String(),
	}
}

// ClientID returns the identifier announced to the server
func (s *StreamSink) ClientID() string {
	return s.id
}

// RegisterCallback adds cb to the callbacks invoked for every decoded block
func (s *StreamSink) RegisterCallback(cb audio.Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

// Start connects to the server and begins delivering samples
func (s *StreamSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if len(s.callbacks) == 0 {
		return errors.New("stream sink has no registered callbacks")
	}

	client := protocol.NewClient(protocol.Config{
		ServerAddr: s.config.ServerAddr,
		Path:       s.config.Path,
		ClientID:   s.id,
		Name:       s.config.Name,
		DeviceInfo: s.config.DeviceInfo,
		PlayerSupport: protocol.PlayerSupport{
			SupportFormats: []protocol.AudioFormat{
				{Codec: "pcm", Channels: 2, SampleRate: s.config.SampleRate, BitDepth: 16},
				{Codec: "opus", Channels: 2, SampleRate: s.config.SampleRate, BitDepth: 16},
			},
			BufferCapacity:    s.config.BufferCapacity,
			SupportedCommands: []string{"volume", "mute"},
		},
	})

	if err := client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	s.client = client
	s.stop = make(chan struct{})
	s.running = true

	s.wg.Add(1)
	go s.loop(client, s.stop)

	return nil
}

// Stop says goodbye, disconnects and waits for the receive loop to exit
func (s *StreamSink) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.wg.Wait()
		return nil
	}
	s.running = false
	client := s.client
	close(s.stop)
	s.mu.Unlock()

	if err := client.SendGoodbye("shutdown"); err != nil && !errors.Is(err, protocol.ErrNotConnected) {
		log.Printf("Failed to send goodbye: %v", err)
	}
	client.Close()
	s.wg.Wait()

	return nil
}

// Running reports whether the sink is connected and delivering samples
func (s *StreamSink) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Disconnected is closed when the current connection ends. Returns nil before Start.
func (s *StreamSink) Disconnected() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	return s.client.Done()
}

// ReportState sends the player's volume and mute state to the server
func (s *StreamSink) ReportState(volume int, muted bool) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()

	if client == nil {
		return protocol.ErrNotConnected
	}
	return client.SendState(protocol.ClientState{
		State:  "synchronized",
		Volume: volume,
		Muted:  muted,
	})
}

// loop receives protocol messages until stopped or disconnected
func (s *StreamSink) loop(client *protocol.Client, stop chan struct{}) {
	defer s.wg.Done()

	var (
		dec    decode.Decoder
		format audio.Format
	)
	closeDecoder := func() {
		if dec != nil {
			dec.Close()
			dec = nil
		}
	}
	defer closeDecoder()

	for {
		select {
		case <-stop:
			return

		case <-client.Done():
			log.Printf("Stream connection lost")
			s.mu.Lock()
			if s.stop == stop {
				s.running = false
			}
			s.mu.Unlock()
			return

		case start := <-client.StreamStart:
			closeDecoder()
			format = audio.Format{
				Codec:      start.Codec,
				SampleRate: start.SampleRate,
				Channels:   start.Channels,
				BitDepth:   start.BitDepth,
			}
			d, err := decode.New(format)
			if err != nil {
				log.Printf("Cannot play stream: %v", err)
				continue
			}
			dec = d
			if s.config.OnFormat != nil {
				s.config.OnFormat(format)
			}

		case chunk := <-client.AudioChunks:
			if dec == nil {
				continue
			}
			samples, err := dec.Decode(chunk.Data)
			if err != nil {
				log.Printf("Decode error: %v", err)
				continue
			}
			left, right := audio.Deinterleave(samples, format.Channels)
			if len(left) > 0 {
				s.deliver(left, right)
			}

		case cmd := <-client.ControlMsgs:
			if s.config.OnCommand != nil {
				s.config.OnCommand(cmd)
			}

		case meta := <-client.StreamMetadata:
			log.Printf("Now playing: %s - %s", meta.Artist, meta.Title)
			if s.config.OnMetadata != nil {
				s.config.OnMetadata(meta)
			}

		case <-client.StreamClear:
			if s.config.OnClear != nil {
				s.config.OnClear()
			}

		case <-client.StreamEnd:
			log.Printf("Stream ended")
			closeDecoder()
		}
	}
}

// deliver hands the block to every callback. Only the last callback receives
// the original buffers, so in-place filters never see each other's output.
func (s *StreamSink) deliver(left, right audio.SampleBuffer) {
	s.mu.Lock()
	callbacks := s.callbacks
	s.mu.Unlock()

	last := len(callbacks) - 1
	for i, cb := range callbacks {
		if i == last {
			cb(left, right)
			break
		}
		cb(left.Clone(), right.Clone())
	}
}
