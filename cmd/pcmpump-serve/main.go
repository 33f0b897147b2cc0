// ABOUTME: Entry point for the pcmpump stream server
// ABOUTME: Streams a file or test tone to players on the local network
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sendspin/pcmpump/internal/server"
	"github.com/Sendspin/pcmpump/internal/version"
	"github.com/Sendspin/pcmpump/pkg/audio/source"
)

var (
	port      = flag.Int("port", 8927, "WebSocket server port")
	name      = flag.String("name", "", "Server friendly name (default: hostname-pcmpump-server)")
	logFile   = flag.String("log-file", "pcmpump-server.log", "Log file path")
	debug     = flag.Bool("debug", false, "Enable debug logging")
	noMDNS    = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	audioFile = flag.String("audio", "", "Audio file to stream (mp3, flac, ogg, wav). If not specified, plays test tone")
	codec     = flag.String("codec", "pcm", "Preferred stream codec: pcm or opus")
	bitDepth  = flag.Int("bit-depth", 16, "PCM bit depth: 16 or 24")
	loop      = flag.Bool("loop", false, "Restart the file when it ends")
)

func main() {
	flag.Parse()

	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	log.SetOutput(io.MultiWriter(os.Stdout, f))

	serverName := *name
	if serverName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		serverName = fmt.Sprintf("%s-pcmpump-server", hostname)
	}

	if *codec != "pcm" && *codec != "opus" {
		log.Fatalf("unknown codec: %s", *codec)
	}
	if *bitDepth != 16 && *bitDepth != 24 {
		log.Fatalf("unsupported bit depth: %d", *bitDepth)
	}

	src, err := source.Open(*audioFile)
	if err != nil {
		log.Fatalf("Failed to open audio: %v", err)
	}
	defer src.Close()

	log.Printf("Starting %s server %s: %s on port %d", version.Product, version.Version, serverName, *port)
	log.Printf("Logging to: %s", *logFile)
	log.Printf("Press Ctrl-C to stop")

	srv := server.New(server.Config{
		Port:       *port,
		Name:       serverName,
		EnableMDNS: !*noMDNS,
		Debug:      *debug,
		Codec:      *codec,
		BitDepth:   *bitDepth,
		Loop:       *loop,
	}, src)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received %v signal, shutting down gracefully...", sig)
		srv.Stop()
	}()

	if err := srv.Start(); err != nil {
		log.Printf("Server error: %v", err)
		os.Exit(1)
	}
}
