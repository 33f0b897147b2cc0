// ABOUTME: mDNS service discovery for pcmpump stream servers
// ABOUTME: Advertises this player and browses for servers on the local network
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/Sendspin/pcmpump/pkg/protocol"
	"github.com/hashicorp/mdns"
)

const (
	// PlayerService is the service type advertised by players
	PlayerService = "_pcmpump._tcp"

	// ServerService is the service type advertised by stream servers
	ServerService = "_pcmpump-server._tcp"

	queryTimeout = 3 * time.Second
)

// ErrNoServers is returned when discovery finds nothing before its deadline
var ErrNoServers = errors.New("no servers found")

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
	ServerMode  bool // advertise as a stream server instead of a player
}

// Manager handles mDNS operations
type Manager struct {
	config  Config
	ctx     context.Context
	cancel  context.CancelFunc
	servers chan *ServerInfo
}

// ServerInfo describes a discovered server
type ServerInfo struct {
	Name string
	Host string
	Port int
	Path string
}

// Addr returns host:port for dialing
func (s *ServerInfo) Addr() string {
	return net.JoinHostPort(s.Host, fmt.Sprint(s.Port))
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		servers: make(chan *ServerInfo, 10),
	}
}

// serviceType returns the type this manager advertises
func (m *Manager) serviceType() string {
	if m.config.ServerMode {
		return ServerService
	}
	return PlayerService
}

// Advertise advertises this player, or server in ServerMode, via mDNS
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		m.serviceType(),
		"",
		"",
		m.config.Port,
		ips,
		[]string{"path=" + protocol.DefaultPath},
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	log.Printf("Advertising mDNS service: %s on port %d (type: %s)", m.config.ServiceName, m.config.Port, m.serviceType())

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse searches for stream servers until Stop
func (m *Manager) Browse() error {
	go m.browseLoop()
	return nil
}

// browseLoop repeats the mDNS query until stopped
func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)

		go func() {
			for entry := range entries {
				server, ok := serverFromEntry(entry)
				if !ok {
					continue
				}

				log.Printf("Discovered server: %s at %s", server.Name, server.Addr())

				select {
				case m.servers <- server:
				case <-m.ctx.Done():
					return
				}
			}
		}()

		params := mdns.DefaultParams(ServerService)
		params.Timeout = queryTimeout
		params.Entries = entries

		if err := mdns.Query(params); err != nil {
			log.Printf("mDNS query failed: %v", err)
		}
		close(entries)
	}
}

// Servers returns the channel of discovered servers
func (m *Manager) Servers() <-chan *ServerInfo {
	return m.servers
}

// Stop stops the discovery manager
func (m *Manager) Stop() {
	m.cancel()
}

// Discover browses until the first server is found, ctx ends or timeout elapses
func Discover(ctx context.Context, timeout time.Duration) (*ServerInfo, error) {
	m := NewManager(Config{})
	defer m.Stop()

	if err := m.Browse(); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case server := <-m.Servers():
		return server, nil
	case <-timer.C:
		return nil, ErrNoServers
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// serverFromEntry converts an mDNS answer, reading the endpoint path from TXT records
func serverFromEntry(entry *mdns.ServiceEntry) (*ServerInfo, bool) {
	if entry == nil || entry.Port == 0 {
		return nil, false
	}

	var host string
	switch {
	case entry.AddrV4 != nil:
		host = entry.AddrV4.String()
	case entry.AddrV6 != nil:
		host = entry.AddrV6.String()
	default:
		return nil, false
	}

	server := &ServerInfo{
		Name: strings.TrimSuffix(entry.Name, "."+ServerService+".local."),
		Host: host,
		Port: entry.Port,
		Path: protocol.DefaultPath,
	}

	for _, field := range entry.InfoFields {
		if path, ok := strings.CutPrefix(field, "path="); ok && path != "" {
			server.Path = path
		}
	}

	return server, true
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
