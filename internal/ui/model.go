// ABOUTME: Bubbletea model for the player TUI
// ABOUTME: Shows stream, volume and output pump state and handles keyboard control
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/Sendspin/pcmpump/pkg/audio/dsp"
	"github.com/Sendspin/pcmpump/pkg/audio/output"
	"github.com/Sendspin/pcmpump/pkg/pcmpump"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	refreshInterval = 250 * time.Millisecond
	volumeStep      = 5
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("220"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

// Model represents the TUI state
type Model struct {
	// Input
	source     string
	connected  bool
	serverName string

	// Stream
	codec      string
	sampleRate int
	channels   int
	bitDepth   int

	// Metadata
	title  string
	artist string
	album  string

	// Playback
	volume int
	muted  bool

	// Output
	stats     pcmpump.Stats
	statsFn   func() pcmpump.Stats
	lastEvent string
	fatal     string

	showDebug bool
	quitting  bool

	width  int
	height int

	volumeCtrl *VolumeControl
}

type tickMsg time.Time

// StatusMsg updates TUI state; zero fields are left unchanged
type StatusMsg struct {
	Source     string
	Connected  *bool
	ServerName string
	Codec      string
	SampleRate int
	Channels   int
	BitDepth   int
	Title      string
	Artist     string
	Album      string
	Volume     *int
	Muted      *bool
}

// EventMsg reports a pump event
type EventMsg output.Event

// Init starts the statistics refresh
func (m Model) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		m.refresh()
		return m, tickEvery()
	case StatusMsg:
		m.applyStatus(msg)
	case EventMsg:
		m.applyEvent(output.Event(msg))
	}

	return m, nil
}

func (m *Model) refresh() {
	if m.statsFn != nil {
		m.stats = m.statsFn()
	}
}

// View renders the TUI
func (m Model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("pcmpump"))
	b.WriteString("\n\n")
	b.WriteString(m.renderInput())
	b.WriteString(m.renderStream())
	b.WriteString(m.renderVolume())
	b.WriteString(m.renderOutput())

	if m.showDebug {
		b.WriteString(m.renderDebug())
	}

	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Faint(true).Render("↑/↓:Volume  m:Mute  d:Debug  q:Quit"))
	b.WriteString("\n")

	return b.String()
}

func field(name, value string) string {
	return headerStyle.Render(name+": ") + valueStyle.Render(value) + "\n"
}

// renderInput renders where audio comes from
func (m Model) renderInput() string {
	if m.serverName == "" && m.source != "" {
		return field("Source", m.source)
	}

	status := "Disconnected"
	if m.connected {
		status = fmt.Sprintf("Connected to %s", m.serverName)
	}
	return field("Server", status)
}

// renderStream renders current stream format and metadata
func (m Model) renderStream() string {
	var b strings.Builder

	if m.codec == "" {
		b.WriteString(field("Format", "No stream"))
	} else {
		b.WriteString(field("Format", fmt.Sprintf("%s %dHz %s %d-bit",
			m.codec, m.sampleRate, channelName(m.channels), m.bitDepth)))
	}

	if m.title != "" {
		b.WriteString(field("Track", truncate(m.title, 48)))
		if m.artist != "" {
			b.WriteString(field("Artist", truncate(m.artist, 48)))
		}
		if m.album != "" {
			b.WriteString(field("Album", truncate(m.album, 48)))
		}
	}

	return b.String()
}

// renderVolume renders the volume bar
func (m Model) renderVolume() string {
	mute := ""
	if m.muted {
		mute = " (muted)"
	}
	return field("Volume", fmt.Sprintf("[%s] %d%%%s", renderBar(m.volume, 100, 20), m.volume, mute))
}

// renderOutput renders pump and queue state
func (m Model) renderOutput() string {
	var b strings.Builder
	p := m.stats.Pump
	q := m.stats.Queue

	b.WriteString("\n")
	b.WriteString(sectionStyle.Render("Output"))
	b.WriteString("\n")

	b.WriteString(field("State", p.State.String()))
	if p.BufferFrames > 0 {
		b.WriteString(field("Device", fmt.Sprintf("buffer %d frames, period %d frames", p.BufferFrames, p.PeriodFrames)))
	}
	b.WriteString(field("Queue", fmt.Sprintf("%d frames (%s)", q.Pending, framesToDuration(q.Pending, m.stats.Left.SampleRate))))
	b.WriteString(field("Frames", fmt.Sprintf("submitted %d, silent %d, dropped %d", p.FramesSubmitted, p.SilentFrames, q.Dropped)))

	underruns := fmt.Sprintf("%d", p.Underruns)
	if p.Underruns > 0 {
		underruns = warnStyle.Render(underruns)
	}
	b.WriteString(headerStyle.Render("Underruns: ") + underruns + valueStyle.Render(fmt.Sprintf("  anomalies %d", p.Anomalies)) + "\n")

	if m.lastEvent != "" {
		b.WriteString(field("Last event", m.lastEvent))
	}
	if m.fatal != "" {
		b.WriteString(warnStyle.Render("Device error: "+m.fatal) + "\n")
	}

	return b.String()
}

// renderDebug renders signal chain telemetry
func (m Model) renderDebug() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(sectionStyle.Render("Debug"))
	b.WriteString("\n")
	b.WriteString(field("Pump", fmt.Sprintf("%s (%d passes)", m.stats.Pump.ID, m.stats.Pump.Passes)))

	for _, ch := range []struct {
		name  string
		stats chainStats
	}{
		{"Left chain", chainStats(m.stats.Left)},
		{"Right chain", chainStats(m.stats.Right)},
	} {
		b.WriteString(field(ch.name, ch.stats.String()))
	}

	return b.String()
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		if m.volumeCtrl != nil {
			select {
			case m.volumeCtrl.Quit <- QuitMsg{}:
			default:
			}
		}
		return m, tea.Quit
	case "up":
		m.volume = min(m.volume+volumeStep, 100)
		m.sendVolume()
	case "down":
		m.volume = max(m.volume-volumeStep, 0)
		m.sendVolume()
	case "m":
		m.muted = !m.muted
		m.sendVolume()
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

// sendVolume forwards the model's volume state without blocking the UI
func (m Model) sendVolume() {
	if m.volumeCtrl == nil {
		return
	}
	select {
	case m.volumeCtrl.Changes <- VolumeChangeMsg{Volume: m.volume, Muted: m.muted}:
	default:
	}
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.Source != "" {
		m.source = msg.Source
	}
	if msg.Connected != nil {
		m.connected = *msg.Connected
	}
	if msg.ServerName != "" {
		m.serverName = msg.ServerName
	}
	if msg.Codec != "" {
		m.codec = msg.Codec
		m.sampleRate = msg.SampleRate
		m.channels = msg.Channels
		m.bitDepth = msg.BitDepth
	}
	if msg.Title != "" {
		m.title = msg.Title
		m.artist = msg.Artist
		m.album = msg.Album
	}
	if msg.Volume != nil {
		m.volume = *msg.Volume
	}
	if msg.Muted != nil {
		m.muted = *msg.Muted
	}
}

// applyEvent records the latest pump event
func (m *Model) applyEvent(ev output.Event) {
	m.lastEvent = fmt.Sprintf("%s at %s", ev.Kind, ev.Time.Format("15:04:05"))
	if ev.Kind == output.EventFatal && ev.Err != nil {
		m.fatal = ev.Err.Error()
	}
}

type chainStats dsp.ChainStats

func (c chainStats) String() string {
	return fmt.Sprintf("%d filters, avg %s, max %s, %d samples/pass",
		c.Filters, c.AvgProcTime, c.MaxProcTime, c.AvgBufferSize)
}

func framesToDuration(frames, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(rate)
}

func renderBar(value, total, width int) string {
	filled := (value * width) / total
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}

func channelName(channels int) string {
	if channels == 1 {
		return "Mono"
	}
	return "Stereo"
}
