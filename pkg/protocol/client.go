// ABOUTME: WebSocket client for the stream protocol
// ABOUTME: Handles connection, handshake, and message routing
package protocol

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// BinaryMessageHeaderSize is the size of binary message header (type byte + timestamp)
	BinaryMessageHeaderSize = 1 + 8

	// AudioChunkMessageType is the binary message type ID for audio chunks
	AudioChunkMessageType = 4

	// DefaultPath is the WebSocket endpoint served by stream servers
	DefaultPath = "/pcmpump"

	handshakeTimeout = 5 * time.Second
)

// ErrNotConnected is returned when sending on a closed client
var ErrNotConnected = errors.New("not connected")

// Config holds client configuration
type Config struct {
	ServerAddr    string
	Path          string
	ClientID      string
	Name          string
	Version       int
	DeviceInfo    DeviceInfo
	PlayerSupport PlayerSupport
}

// Client represents a WebSocket client
type Client struct {
	config Config
	conn   *websocket.Conn
	mu     sync.RWMutex

	// Message channels
	AudioChunks    chan AudioChunk
	ControlMsgs    chan PlayerCommand
	StreamStart    chan StreamStart
	StreamMetadata chan StreamMetadata
	StreamClear    chan StreamClear
	StreamEnd      chan StreamEnd

	// State
	connected bool
	server    ServerHello
	ctx       context.Context
	cancel    context.CancelFunc
}

// AudioChunk represents a timestamped audio frame
type AudioChunk struct {
	Timestamp int64  // Microseconds, server clock
	Data      []byte // Encoded audio
}

// NewClient creates a new WebSocket client
func NewClient(config Config) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.Version == 0 {
		config.Version = 1
	}

	return &Client{
		config:         config,
		AudioChunks:    make(chan AudioChunk, 100),
		ControlMsgs:    make(chan PlayerCommand, 10),
		StreamStart:    make(chan StreamStart, 1),
		StreamMetadata: make(chan StreamMetadata, 1),
		StreamClear:    make(chan StreamClear, 10),
		StreamEnd:      make(chan StreamEnd, 1),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Connect establishes WebSocket connection and performs handshake
func (c *Client) Connect() error {
	u := url.URL{Scheme: "ws", Host: c.config.ServerAddr, Path: c.config.Path}
	log.Printf("Connecting to %s", u.String())

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	if err := c.handshake(); err != nil {
		c.Close()
		return fmt.Errorf("handshake failed: %w", err)
	}

	go c.readMessages()

	return nil
}

// handshake performs the protocol handshake
func (c *Client) handshake() error {
	hello := ClientHello{
		ClientID:       c.config.ClientID,
		Name:           c.config.Name,
		Version:        c.config.Version,
		SupportedRoles: []string{"player"},
		DeviceInfo:     &c.config.DeviceInfo,
		PlayerSupport:  &c.config.PlayerSupport,
	}

	if err := c.sendJSON(Message{Type: TypeClientHello, Payload: hello}); err != nil {
		return fmt.Errorf("failed to send client/hello: %w", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read server/hello: %w", err)
	}
	c.conn.SetReadDeadline(time.Time{})

	var serverMsg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &serverMsg); err != nil {
		return fmt.Errorf("failed to parse server/hello: %w", err)
	}
	if serverMsg.Type != TypeServerHello {
		return fmt.Errorf("expected server/hello, got %s", serverMsg.Type)
	}

	var server ServerHello
	if err := json.Unmarshal(serverMsg.Payload, &server); err != nil {
		return fmt.Errorf("failed to parse server/hello: %w", err)
	}

	c.mu.Lock()
	c.server = server
	c.mu.Unlock()

	log.Printf("Handshake complete with server %s", server.Name)

	return c.SendState(ClientState{State: "synchronized", Volume: 100})
}

// sendJSON sends a JSON message
func (c *Client) sendJSON(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return ErrNotConnected
	}

	return c.conn.WriteJSON(msg)
}

// readMessages reads and routes incoming messages
func (c *Client) readMessages() {
	defer c.Close()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Printf("Read error: %v", err)
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			c.handleBinaryMessage(data)
		case websocket.TextMessage:
			c.handleJSONMessage(data)
		default:
			log.Printf("Unknown WebSocket message type: %d", messageType)
		}
	}
}

// handleBinaryMessage handles audio chunks
func (c *Client) handleBinaryMessage(data []byte) {
	chunk, err := DecodeAudioChunk(data)
	if err != nil {
		log.Printf("Invalid binary message: %v", err)
		return
	}

	select {
	case c.AudioChunks <- chunk:
	case <-c.ctx.Done():
	}
}

// handleJSONMessage routes JSON messages
func (c *Client) handleJSONMessage(data []byte) {
	var msg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("Failed to parse JSON message: %v", err)
		return
	}

	switch msg.Type {
	case TypeServerCommand:
		var cmd PlayerCommand
		if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
			log.Printf("Failed to parse server/command: %v", err)
			return
		}
		select {
		case c.ControlMsgs <- cmd:
		case <-c.ctx.Done():
		}

	case TypeStreamStart:
		var start StreamStart
		if err := json.Unmarshal(msg.Payload, &start); err != nil {
			log.Printf("Failed to parse stream/start: %v", err)
			return
		}
		log.Printf("Stream start: %s %dHz %dch %d-bit", start.Codec, start.SampleRate, start.Channels, start.BitDepth)
		select {
		case c.StreamStart <- start:
		case <-c.ctx.Done():
		}

	case TypeStreamMetadata:
		var meta StreamMetadata
		if err := json.Unmarshal(msg.Payload, &meta); err != nil {
			log.Printf("Failed to parse stream/metadata: %v", err)
			return
		}
		select {
		case c.StreamMetadata <- meta:
		case <-time.After(100 * time.Millisecond):
			log.Printf("Metadata channel full, dropping message")
		}

	case TypeStreamClear:
		select {
		case c.StreamClear <- StreamClear{}:
		case <-c.ctx.Done():
		}

	case TypeStreamEnd:
		select {
		case c.StreamEnd <- StreamEnd{}:
		case <-c.ctx.Done():
		}

	default:
		log.Printf("Unknown message type: %s", msg.Type)
	}
}

// SendState sends a client/state message
func (c *Client) SendState(state ClientState) error {
	return c.sendJSON(Message{Type: TypeClientState, Payload: state})
}

// SendGoodbye sends a client/goodbye message before disconnecting
func (c *Client) SendGoodbye(reason string) error {
	return c.sendJSON(Message{Type: TypeClientGoodbye, Payload: ClientGoodbye{Reason: reason}})
}

// Server returns the server/hello received during the handshake
func (c *Client) Server() ServerHello {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.server
}

// Done is closed when the connection ends
func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		c.connected = false
		c.cancel()
		c.conn.Close()
		log.Printf("Connection closed")
	}
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// EncodeAudioChunk builds a binary audio message
func EncodeAudioChunk(chunk AudioChunk) []byte {
	out := make([]byte, BinaryMessageHeaderSize+len(chunk.Data))
	out[0] = AudioChunkMessageType
	binary.BigEndian.PutUint64(out[1:BinaryMessageHeaderSize], uint64(chunk.Timestamp))
	copy(out[BinaryMessageHeaderSize:], chunk.Data)
	return out
}

// DecodeAudioChunk parses a binary audio message
func DecodeAudioChunk(data []byte) (AudioChunk, error) {
	if len(data) < BinaryMessageHeaderSize {
		return AudioChunk{}, errors.New("too short")
	}
	if data[0] != AudioChunkMessageType {
		return AudioChunk{}, fmt.Errorf("unknown binary message type: %d", data[0])
	}

	return AudioChunk{
		Timestamp: int64(binary.BigEndian.Uint64(data[1:BinaryMessageHeaderSize])),
		Data:      data[BinaryMessageHeaderSize:],
	}, nil
}
