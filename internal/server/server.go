// ABOUTME: Stream server feeding pcmpump players over WebSocket
// ABOUTME: Manages client connections, handshakes, commands and per-client send queues
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/Sendspin/pcmpump/internal/discovery"
	"github.com/Sendspin/pcmpump/pkg/audio/source"
	"github.com/Sendspin/pcmpump/pkg/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// ProtocolVersion is announced in server/hello
	ProtocolVersion = 1

	sendBuffer    = 100
	pingInterval  = 30 * time.Second
	writeDeadline = 10 * time.Second
	helloTimeout  = 5 * time.Second
)

// errSendBufferFull is returned when a client cannot keep up
var errSendBufferFull = errors.New("client send buffer full")

// Config holds server configuration
type Config struct {
	Port       int
	Name       string
	EnableMDNS bool
	Debug      bool

	// Codec is the preferred stream codec: "pcm" or "opus".
	// Clients that do not list it get 16-bit PCM.
	Codec string

	// BitDepth for PCM streams: 16 or 24
	BitDepth int

	// Loop restarts the source when it ends
	Loop bool
}

// ClientInfo is a snapshot of a connected client
type ClientInfo struct {
	ID     string
	Name   string
	Codec  string
	State  string
	Volume int
	Muted  bool
}

// Server streams one source to every connected player
type Server struct {
	config   Config
	serverID string

	upgrader   websocket.Upgrader
	httpServer *http.Server
	mux        *http.ServeMux

	clients   map[string]*Client
	clientsMu sync.RWMutex

	// Server clock (monotonic microseconds)
	clockStart time.Time

	engine      *Engine
	mdnsManager *discovery.Manager

	stopChan   chan struct{}
	stopOnce   sync.Once
	shutdownMu sync.RWMutex
	isShutdown bool
	wg         sync.WaitGroup
}

// Client represents a connected player
type Client struct {
	ID           string
	Name         string
	Conn         *websocket.Conn
	Roles        []string
	Capabilities *protocol.PlayerSupport

	State  string
	Volume int
	Muted  bool

	sendChan chan interface{}

	mu sync.RWMutex
}

// New creates a server streaming src
func New(config Config, src source.Source) *Server {
	if config.Name == "" {
		config.Name = "pcmpump-server"
	}
	if config.Codec == "" {
		config.Codec = "pcm"
	}
	if config.BitDepth == 0 {
		config.BitDepth = 16
	}

	s := &Server{
		config:   config,
		serverID: uuid.New().String(),
		mux:      http.NewServeMux(),
		upgrader: websocket.Upgrader{
			// Local network deployments only; browsers are not expected
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:    make(map[string]*Client),
		clockStart: time.Now(),
		stopChan:   make(chan struct{}),
	}
	s.engine = NewEngine(s, src)
	s.mux.HandleFunc(protocol.DefaultPath, s.handleWebSocket)

	return s
}

// Handler returns the HTTP handler serving the stream endpoint
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start runs the server until Stop is called or the listener fails
func (s *Server) Start() error {
	log.Printf("Server starting: %s (ID: %s)", s.config.Name, s.serverID)

	if err := s.engine.Start(); err != nil {
		return fmt.Errorf("failed to start audio engine: %w", err)
	}

	if s.config.EnableMDNS {
		s.mdnsManager = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        s.config.Port,
			ServerMode:  true,
		})
		if err := s.mdnsManager.Advertise(); err != nil {
			log.Printf("Failed to start mDNS advertisement: %v", err)
		}
	}

	addr := fmt.Sprintf(":%d", s.config.Port)
	log.Printf("WebSocket server listening on %s%s", addr, protocol.DefaultPath)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	var serverErr error
	select {
	case <-s.stopChan:
		log.Printf("Server shutting down...")
	case err := <-errChan:
		log.Printf("HTTP server error: %v", err)
		serverErr = err
	}

	s.shutdownMu.Lock()
	s.isShutdown = true
	s.shutdownMu.Unlock()

	s.engine.Stop()

	if s.mdnsManager != nil {
		s.mdnsManager.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	s.wg.Wait()
	log.Printf("Server stopped cleanly")

	if serverErr != nil {
		return fmt.Errorf("HTTP server failed: %w", serverErr)
	}
	return nil
}

// Stop stops the server
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

// Clients returns a snapshot of the connected clients
func (s *Server) Clients() []ClientInfo {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	out := make([]ClientInfo, 0, len(s.clients))
	for _, c := range s.clients {
		c.mu.RLock()
		out = append(out, ClientInfo{
			ID:     c.ID,
			Name:   c.Name,
			Codec:  s.engine.codecFor(c.ID),
			State:  c.State,
			Volume: c.Volume,
			Muted:  c.Muted,
		})
		c.mu.RUnlock()
	}
	return out
}

// SendCommand sends a volume or mute command to every client and returns how many accepted it
func (s *Server) SendCommand(cmd protocol.PlayerCommand) int {
	return s.broadcast(protocol.TypeServerCommand, cmd)
}

// Clear asks every client to drop buffered audio
func (s *Server) Clear() int {
	return s.broadcast(protocol.TypeStreamClear, protocol.StreamClear{})
}

// broadcast queues a JSON message for every client
func (s *Server) broadcast(msgType string, payload interface{}) int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	sent := 0
	for _, c := range s.clients {
		if err := s.sendMessage(c, msgType, payload); err != nil {
			log.Printf("Failed to send %s to %s: %v", msgType, c.Name, err)
			continue
		}
		sent++
	}
	return sent
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	log.Printf("New WebSocket connection from %s", r.RemoteAddr)
	s.handleConnection(conn)
}

// readHello waits for and validates client/hello
func readHello(conn *websocket.Conn) (protocol.ClientHello, error) {
	var hello protocol.ClientHello

	conn.SetReadDeadline(time.Now().Add(helloTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return hello, fmt.Errorf("error reading hello: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	var msg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return hello, fmt.Errorf("error unmarshaling message: %w", err)
	}
	if msg.Type != protocol.TypeClientHello {
		return hello, fmt.Errorf("expected %s, got %s", protocol.TypeClientHello, msg.Type)
	}
	if err := json.Unmarshal(msg.Payload, &hello); err != nil {
		return hello, fmt.Errorf("error unmarshaling client hello: %w", err)
	}
	if hello.ClientID == "" {
		return hello, errors.New("client hello missing client_id")
	}
	if hello.Name == "" {
		return hello, errors.New("client hello missing name")
	}
	return hello, nil
}

// handleConnection manages a client connection
func (s *Server) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	s.shutdownMu.RLock()
	if s.isShutdown {
		s.shutdownMu.RUnlock()
		log.Printf("Rejecting connection during shutdown")
		return
	}
	s.shutdownMu.RUnlock()

	hello, err := readHello(conn)
	if err != nil {
		log.Printf("Handshake failed: %v", err)
		return
	}

	log.Printf("Client hello: %s (ID: %s, Roles: %v)", hello.Name, hello.ClientID, hello.SupportedRoles)

	client := &Client{
		ID:           hello.ClientID,
		Name:         hello.Name,
		Conn:         conn,
		Roles:        hello.SupportedRoles,
		Capabilities: hello.PlayerSupport,
		State:        "idle",
		Volume:       100,
		sendChan:     make(chan interface{}, sendBuffer),
	}

	s.clientsMu.Lock()
	if existing, exists := s.clients[hello.ClientID]; exists {
		s.clientsMu.Unlock()
		log.Printf("Client ID %s already connected (name: %s), rejecting duplicate", hello.ClientID, existing.Name)
		return
	}
	s.clients[client.ID] = client
	s.clientsMu.Unlock()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, client.ID)
		s.clientsMu.Unlock()
		close(client.sendChan)
		log.Printf("Client disconnected: %s", client.Name)
	}()

	serverHello := protocol.ServerHello{
		ServerID: s.serverID,
		Name:     s.config.Name,
		Version:  ProtocolVersion,
	}
	if err := s.sendMessage(client, protocol.TypeServerHello, serverHello); err != nil {
		log.Printf("Error sending server hello: %v", err)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.clientWriter(client)
	}()

	if hasRole(client, "player") {
		if err := s.engine.AddClient(client); err != nil {
			log.Printf("Cannot stream to %s: %v", client.Name, err)
			return
		}
		defer s.engine.RemoveClient(client)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}

		if !s.handleClientMessage(client, data) {
			return
		}
	}
}

// clientWriter sends queued messages to the client
func (s *Server) clientWriter(client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.sendChan:
			if !ok {
				return
			}

			client.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			var err error
			switch v := msg.(type) {
			case []byte:
				err = client.Conn.WriteMessage(websocket.BinaryMessage, v)
			default:
				err = client.Conn.WriteJSON(v)
			}
			if err != nil {
				log.Printf("Error writing to %s: %v", client.Name, err)
				// Unblocks the reader so the connection is torn down
				client.Conn.Close()
				return
			}

		case <-ticker.C:
			if err := client.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}

// handleClientMessage processes one message; it returns false when the client is leaving
func (s *Server) handleClientMessage(client *Client, data []byte) bool {
	var msg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("Error unmarshaling message: %v", err)
		return true
	}

	switch msg.Type {
	case protocol.TypeClientState:
		var state protocol.ClientState
		if err := json.Unmarshal(msg.Payload, &state); err != nil {
			log.Printf("Error unmarshaling client state: %v", err)
			return true
		}

		client.mu.Lock()
		client.State = state.State
		client.Volume = state.Volume
		client.Muted = state.Muted
		client.mu.Unlock()

		log.Printf("Client %s state: %s (vol: %d, muted: %v)", client.Name, state.State, state.Volume, state.Muted)

	case protocol.TypeClientGoodbye:
		var bye protocol.ClientGoodbye
		if err := json.Unmarshal(msg.Payload, &bye); err == nil {
			log.Printf("Client %s leaving: %s", client.Name, bye.Reason)
		}
		return false

	default:
		log.Printf("Unknown message type: %s", msg.Type)
	}
	return true
}

// sendMessage queues a JSON message for a client
func (s *Server) sendMessage(client *Client, msgType string, payload interface{}) error {
	msg := protocol.Message{
		Type:    msgType,
		Payload: payload,
	}

	select {
	case client.sendChan <- msg:
		return nil
	default:
		return errSendBufferFull
	}
}

// sendBinary queues binary data for a client
func (s *Server) sendBinary(client *Client, data []byte) error {
	select {
	case client.sendChan <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

// getClockMicros returns the server clock in microseconds
func (s *Server) getClockMicros() int64 {
	return time.Since(s.clockStart).Microseconds()
}

// hasRole checks if a client has a specific role
func hasRole(client *Client, role string) bool {
	for _, r := range client.Roles {
		if r == role {
			return true
		}
	}
	return false
}
