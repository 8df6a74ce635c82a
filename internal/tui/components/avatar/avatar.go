// Package avatar renders the companion's portrait with a speaking indicator.
package avatar

import (
	"strings"

	"github.com/alkime/companion/internal/tui/style"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// Model shows the companion's name in a frame. While the companion speaks
// an animated indicator runs beside it.
type Model struct {
	Name    string
	Caption string

	spinner  spinner.Model
	dimmed   bool
	speaking bool
}

// New creates an avatar for the named companion.
func New(name, caption string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Meter
	sp.Style = style.Title

	return Model{
		Name:    name,
		Caption: caption,
		spinner: sp,
		dimmed:  true,
	}
}

// Init starts the speaking animation ticker.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update advances the animation.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if tickMsg, ok := msg.(spinner.TickMsg); ok {
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(tickMsg)
		return m, cmd
	}

	return m, nil
}

// SetState updates how the avatar is drawn.
func (m Model) SetState(dimmed, speaking bool) Model {
	m.dimmed = dimmed
	m.speaking = speaking
	return m
}

// Speaking reports whether the indicator is running.
func (m Model) Speaking() bool {
	return m.speaking
}

// View renders the avatar.
func (m Model) View() string {
	var sb strings.Builder
	sb.WriteString(m.Name)
	if m.Caption != "" {
		sb.WriteString("\n")
		sb.WriteString(style.Subtitle.Render(m.Caption))
	}

	frame := style.Avatar
	if m.dimmed {
		frame = style.AvatarDimmed
	}
	box := frame.Render(sb.String())

	indicator := "  "
	if m.speaking {
		indicator = " " + m.spinner.View() + " speaking"
	}

	return box + indicator
}
