// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and the channels it shares with the player
package ui

import (
	"github.com/Sendspin/pcmpump/pkg/audio/output"
	"github.com/Sendspin/pcmpump/pkg/pcmpump"
	tea "github.com/charmbracelet/bubbletea"
)

// VolumeChangeMsg is a volume or mute change made from the keyboard
type VolumeChangeMsg struct {
	Volume int
	Muted  bool
}

// QuitMsg asks the player to shut down
type QuitMsg struct{}

// VolumeControl holds channels for volume control communication
type VolumeControl struct {
	Changes chan VolumeChangeMsg
	Quit    chan QuitMsg
}

// NewVolumeControl creates a new volume control handler
func NewVolumeControl() *VolumeControl {
	return &VolumeControl{
		Changes: make(chan VolumeChangeMsg, 10),
		Quit:    make(chan QuitMsg, 1),
	}
}

// NewModel creates a new TUI model. statsFn is polled on every refresh and may be nil.
func NewModel(volCtrl *VolumeControl, volume int, statsFn func() pcmpump.Stats) Model {
	return Model{
		volume:     volume,
		statsFn:    statsFn,
		volumeCtrl: volCtrl,
	}
}

// PlayerTUI runs the player display
type PlayerTUI struct {
	program *tea.Program
	updates chan tea.Msg
	volCtrl *VolumeControl
}

// NewPlayerTUI creates the TUI; call Run to display it
func NewPlayerTUI(volume int, statsFn func() pcmpump.Stats) *PlayerTUI {
	volCtrl := NewVolumeControl()
	t := &PlayerTUI{
		updates: make(chan tea.Msg, 32),
		volCtrl: volCtrl,
	}
	t.program = tea.NewProgram(NewModel(volCtrl, volume, statsFn), tea.WithAltScreen())
	return t
}

// Controls returns the channels carrying keyboard volume changes and quit requests
func (t *PlayerTUI) Controls() *VolumeControl {
	return t.volCtrl
}

// Run displays the TUI until the user quits or Stop is called
func (t *PlayerTUI) Run() error {
	go func() {
		for msg := range t.updates {
			t.program.Send(msg)
		}
	}()

	_, err := t.program.Run()
	return err
}

// Update sends a status update to the TUI
func (t *PlayerTUI) Update(status StatusMsg) {
	t.send(status)
}

// Event forwards a pump event; safe to use as an output.PumpConfig OnEvent hook
func (t *PlayerTUI) Event(ev output.Event) {
	t.send(EventMsg(ev))
}

func (t *PlayerTUI) send(msg tea.Msg) {
	select {
	case t.updates <- msg:
	default:
		// Don't block if channel is full
	}
}

// Stop stops the TUI
func (t *PlayerTUI) Stop() {
	t.program.Quit()
}
