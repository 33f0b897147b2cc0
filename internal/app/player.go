// ABOUTME: Main player application orchestration
// ABOUTME: Coordinates input, output device, manager and TUI for the command line
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Sendspin/pcmpump/internal/discovery"
	"github.com/Sendspin/pcmpump/internal/ui"
	"github.com/Sendspin/pcmpump/internal/version"
	"github.com/Sendspin/pcmpump/pkg/audio"
	"github.com/Sendspin/pcmpump/pkg/audio/output"
	"github.com/Sendspin/pcmpump/pkg/audio/source"
	"github.com/Sendspin/pcmpump/pkg/pcmpump"
	"github.com/Sendspin/pcmpump/pkg/protocol"
)

const (
	discoveryTimeout = 10 * time.Second
	drainTimeout     = 5 * time.Second
	defaultRate      = 48000
)

// Device backends selectable from the command line
const (
	DeviceOto   = "oto"
	DeviceMalgo = "malgo"
	DeviceWAV   = "wav"
)

// ErrConnectionLost is returned when the stream server goes away
var ErrConnectionLost = errors.New("connection to server lost")

// Config holds player configuration
type Config struct {
	// Input: a stream server (address or discovery) or else a file; empty File plays a test tone
	File       string
	ServerAddr string
	Discover   bool
	Loop       bool

	// Identity for the server and mDNS advertisement
	Name string
	Port int

	// Output
	Device     string
	WAVPath    string
	SampleRate int // 0 follows the file's rate
	PeriodMs   int
	BufferMs   int
	MaxQueueMs int
	Volume     int

	UseTUI bool
}

// Player represents the main player application
type Player struct {
	config Config

	mgr      *pcmpump.Manager
	src      source.Source
	streamer *source.Streamer
	stream   *pcmpump.StreamSink
	disc     *discovery.Manager
	tui      *ui.PlayerTUI

	ended chan error
}

// New creates a new player
func New(config Config) *Player {
	if config.Device == "" {
		config.Device = DeviceOto
	}
	if config.PeriodMs <= 0 {
		config.PeriodMs = 10
	}
	if config.BufferMs <= 0 {
		config.BufferMs = 4 * config.PeriodMs
	}
	if config.Volume <= 0 || config.Volume > 100 {
		config.Volume = 100
	}

	return &Player{
		config: config,
		ended:  make(chan error, 1),
	}
}

// geometry converts the configured durations to frames at rate
func (c Config) geometry(rate int) (period, buffer, maxQueue int) {
	period = rate * c.PeriodMs / 1000
	buffer = rate * c.BufferMs / 1000
	maxQueue = rate * c.MaxQueueMs / 1000
	if period < 1 {
		period = 1
	}
	if buffer < period {
		buffer = period
	}
	return period, buffer, maxQueue
}

// NewDevice creates the configured output device at rate
func NewDevice(config Config, rate int) (output.Device, error) {
	period, buffer, _ := config.geometry(rate)

	switch config.Device {
	case DeviceOto:
		return output.NewOtoDevice(output.OtoConfig{
			SampleRate:   rate,
			PeriodFrames: period,
			BufferFrames: buffer,
		}), nil
	case DeviceMalgo:
		return output.NewMalgoDevice(output.MalgoConfig{
			SampleRate:   rate,
			PeriodFrames: period,
			Periods:      max(buffer/period, 2),
		}), nil
	case DeviceWAV:
		if config.WAVPath == "" {
			return nil, errors.New("wav device requires an output path")
		}
		return output.NewWAVDevice(output.WAVConfig{
			Path:         config.WAVPath,
			SampleRate:   rate,
			PeriodFrames: period,
			BufferFrames: buffer,
		}), nil
	default:
		return nil, fmt.Errorf("unknown device: %s", config.Device)
	}
}

func (p *Player) streaming() bool {
	return p.config.ServerAddr != "" || p.config.Discover
}

// Run plays until ctx ends, the user quits, the input finishes or the device fails
func (p *Player) Run(ctx context.Context) error {
	defer p.close()

	rate := p.config.SampleRate
	if !p.streaming() {
		src, err := source.Open(p.config.File)
		if err != nil {
			return fmt.Errorf("failed to open source: %w", err)
		}
		p.src = src
		if rate == 0 {
			rate = src.SampleRate()
		}
	}
	if rate == 0 {
		rate = defaultRate
	}

	device, err := NewDevice(p.config, rate)
	if err != nil {
		return err
	}

	_, _, maxQueue := p.config.geometry(rate)
	p.mgr, err = pcmpump.NewManager(pcmpump.Config{
		Device:         device,
		SampleRate:     rate,
		Volume:         p.config.Volume,
		MaxQueueFrames: maxQueue,
		OnEvent:        p.onEvent,
	})
	if err != nil {
		return err
	}

	if p.config.UseTUI {
		p.tui = ui.NewPlayerTUI(p.config.Volume, p.mgr.Stats)
	}

	if p.streaming() {
		if err := p.setupStream(ctx, rate); err != nil {
			return err
		}
	} else {
		p.setupFile()
	}

	log.Printf("Starting output on %s device at %d Hz", p.config.Device, rate)
	if err := p.mgr.Start(); err != nil {
		return err
	}

	var tuiDone chan error
	var quit chan ui.QuitMsg
	if p.tui != nil {
		tuiDone = make(chan error, 1)
		go func() { tuiDone <- p.tui.Run() }()
		quit = p.tui.Controls().Quit
		go p.handleVolumeControl(ctx, p.tui.Controls())
	}

	var disconnected <-chan struct{}
	if p.stream != nil {
		disconnected = p.stream.Disconnected()
	}

	select {
	case <-ctx.Done():
		log.Printf("Shutdown signal received")
		return nil
	case <-quit:
		log.Printf("Received quit signal from TUI")
		return nil
	case err := <-tuiDone:
		return err
	case <-p.mgr.Done():
		if err := p.mgr.Err(); err != nil {
			return fmt.Errorf("output stopped: %w", err)
		}
		return nil
	case <-disconnected:
		return ErrConnectionLost
	case err := <-p.ended:
		if err != nil {
			return fmt.Errorf("source failed: %w", err)
		}
		p.waitDrained(ctx)
		return nil
	}
}

// setupFile attaches a real-time streamer for the opened source
func (p *Player) setupFile() {
	p.streamer = source.NewStreamer(p.src, source.StreamerConfig{
		Loop:   p.config.Loop,
		LeadIn: source.DefaultLeadIn,
		OnEnd: func(err error) {
			p.ended <- err
		},
	})
	p.mgr.Attach(p.streamer)

	title, artist, album := p.src.Metadata()
	p.updateTUI(ui.StatusMsg{
		Source:     p.config.File,
		Codec:      "pcm",
		SampleRate: p.src.SampleRate(),
		Channels:   p.src.Channels(),
		BitDepth:   16,
		Title:      title,
		Artist:     artist,
		Album:      album,
	})
	if p.config.File == "" {
		p.updateTUI(ui.StatusMsg{Source: "test tone"})
	}
}

// setupStream resolves the server and attaches a stream sink
func (p *Player) setupStream(ctx context.Context, rate int) error {
	addr := p.config.ServerAddr
	path := protocol.DefaultPath

	if addr == "" {
		p.disc = discovery.NewManager(discovery.Config{
			ServiceName: p.config.Name,
			Port:        p.config.Port,
		})
		if err := p.disc.Advertise(); err != nil {
			log.Printf("mDNS advertisement failed: %v", err)
		}

		log.Printf("Starting server discovery...")
		server, err := discovery.Discover(ctx, discoveryTimeout)
		if err != nil {
			return fmt.Errorf("discovery failed: %w", err)
		}
		addr = server.Addr()
		path = server.Path
		log.Printf("Discovered server at %s", addr)
	}

	p.stream = pcmpump.NewStreamSink(pcmpump.StreamConfig{
		ServerAddr: addr,
		Path:       path,
		Name:       p.config.Name,
		SampleRate: rate,
		DeviceInfo: protocol.DeviceInfo{
			ProductName:     version.Product,
			Manufacturer:    version.Manufacturer,
			SoftwareVersion: version.Version,
		},
		OnFormat: func(f audio.Format) {
			if f.SampleRate != rate {
				log.Printf("Stream rate %d Hz differs from device rate %d Hz; playing without resampling", f.SampleRate, rate)
			}
			p.mgr.SetSampleRate(f.SampleRate)
			p.updateTUI(ui.StatusMsg{Codec: f.Codec, SampleRate: f.SampleRate, Channels: f.Channels, BitDepth: f.BitDepth})
		},
		OnMetadata: func(meta protocol.StreamMetadata) {
			p.updateTUI(ui.StatusMsg{Title: meta.Title, Artist: meta.Artist, Album: meta.Album})
		},
		OnCommand: p.handleCommand,
		OnClear:   p.mgr.Flush,
	})
	p.mgr.Attach(p.stream)

	connected := true
	p.updateTUI(ui.StatusMsg{Connected: &connected, ServerName: addr})
	return nil
}

// handleCommand applies a server volume or mute command and reports the result
func (p *Player) handleCommand(cmd protocol.PlayerCommand) {
	switch cmd.Command {
	case "volume":
		p.mgr.SetVolume(cmd.Volume)
	case "mute":
		p.mgr.Mute(cmd.Mute)
	default:
		log.Printf("Unknown command: %s", cmd.Command)
		return
	}

	volume, muted := p.mgr.Volume(), p.mgr.IsMuted()
	p.updateTUI(ui.StatusMsg{Volume: &volume, Muted: &muted})
	if err := p.stream.ReportState(volume, muted); err != nil {
		log.Printf("Failed to report state: %v", err)
	}
}

// handleVolumeControl processes volume changes from the TUI
func (p *Player) handleVolumeControl(ctx context.Context, ctrl *ui.VolumeControl) {
	for {
		select {
		case vol := <-ctrl.Changes:
			p.mgr.SetVolume(vol.Volume)
			p.mgr.Mute(vol.Muted)
			if p.stream != nil {
				if err := p.stream.ReportState(vol.Volume, vol.Muted); err != nil {
					log.Printf("Failed to report state: %v", err)
				}
			}
		case <-p.mgr.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

// onEvent logs fatal pump events and forwards everything to the TUI
func (p *Player) onEvent(ev output.Event) {
	if ev.Kind == output.EventFatal {
		log.Printf("Output failed: %v", ev.Err)
	}
	if p.tui != nil {
		p.tui.Event(ev)
	}
}

func (p *Player) updateTUI(msg ui.StatusMsg) {
	if p.tui != nil {
		p.tui.Update(msg)
	}
}

// waitDrained lets queued audio play out after the source ends
func (p *Player) waitDrained(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()

	if err := p.mgr.Drain(ctx); err != nil && !errors.Is(err, output.ErrPumpStopped) {
		log.Printf("Output did not drain: %v", err)
	}
}

// close tears everything down in reverse order of construction
func (p *Player) close() {
	if p.tui != nil {
		p.tui.Stop()
	}
	if p.mgr != nil {
		if err := p.mgr.Close(); err != nil {
			log.Printf("Error closing output: %v", err)
		}
	}
	if p.src != nil {
		p.src.Close()
	}
	if p.disc != nil {
		p.disc.Stop()
	}
	log.Printf("Player stopped")
}
