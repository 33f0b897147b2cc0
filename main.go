// ABOUTME: Entry point for the pcmpump player
// ABOUTME: Parses CLI flags and runs the player application
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sendspin/pcmpump/internal/app"
	"github.com/Sendspin/pcmpump/internal/version"
	"golang.org/x/term"
)

var (
	file       = flag.String("file", "", "Audio file to play (mp3, flac, ogg, wav); empty plays a test tone")
	loop       = flag.Bool("loop", false, "Restart the file when it ends")
	serverAddr = flag.String("server", "", "Stream server address (host:port)")
	discover   = flag.Bool("discover", false, "Find a stream server via mDNS")
	port       = flag.Int("port", 8927, "Port for mDNS advertisement")
	name       = flag.String("name", "", "Player friendly name (default: hostname-pcmpump)")
	device     = flag.String("device", app.DeviceOto, "Output device: oto, malgo or wav")
	wavPath    = flag.String("wav", "", "Render to this WAV file instead of a sound card")
	rate       = flag.Int("rate", 0, "Device sample rate (default: file rate, or 48000 for streams)")
	periodMs   = flag.Int("period-ms", 10, "Device period in milliseconds")
	bufferMs   = flag.Int("buffer-ms", 40, "Device buffer in milliseconds")
	maxQueueMs = flag.Int("max-queue-ms", 2000, "Sample queue bound in milliseconds (0: unbounded)")
	volume     = flag.Int("volume", 100, "Initial volume (0-100)")
	logFile    = flag.String("log-file", "pcmpump.log", "Log file path")
	noTUI      = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("%s %s\n", version.Product, version.Version)
		return
	}

	// The TUI needs a terminal; fall back to streaming logs otherwise
	useTUI := !*noTUI && term.IsTerminal(int(os.Stdout.Fd()))

	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer func() { _ = f.Close() }()

	if useTUI {
		log.SetOutput(f)
	} else {
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	playerName := *name
	if playerName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		playerName = fmt.Sprintf("%s-pcmpump", hostname)
	}

	outputDevice := *device
	if *wavPath != "" {
		outputDevice = app.DeviceWAV
	}

	log.Printf("Starting %s %s: %s", version.Product, version.Version, playerName)

	player := app.New(app.Config{
		File:       *file,
		ServerAddr: *serverAddr,
		Discover:   *discover,
		Loop:       *loop,
		Name:       playerName,
		Port:       *port,
		Device:     outputDevice,
		WAVPath:    *wavPath,
		SampleRate: *rate,
		PeriodMs:   *periodMs,
		BufferMs:   *bufferMs,
		MaxQueueMs: *maxQueueMs,
		Volume:     *volume,
		UseTUI:     useTUI,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := player.Run(ctx); err != nil {
		if errors.Is(err, app.ErrConnectionLost) {
			log.Printf("%v", err)
			os.Exit(2)
		}
		log.Printf("Player failed: %v", err)
		fmt.Fprintf(os.Stderr, "pcmpump: %v\n", err)
		os.Exit(1)
	}
}
