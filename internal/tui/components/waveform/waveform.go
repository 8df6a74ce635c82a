// Package waveform renders the live microphone level.
package waveform

import (
	"math"
	"strings"
	"time"

	"github.com/alkime/companion/internal/tui/style"
	"github.com/alkime/companion/pkg/uictl"
	tea "github.com/charmbracelet/bubbletea"
)

// Block characters from empty to full.
const blockChars = " ▁▂▃▄▅▆▇█"

const frameInterval = 50 * time.Millisecond

// TickMsg triggers a redraw.
type TickMsg struct{}

// Model draws recent microphone samples as bars, oldest on the left.
// A muted model draws a flat baseline regardless of input.
type Model struct {
	levels uictl.Levels[int16]
	width  int
	height int
	muted  bool
}

// New creates a waveform over levels. Height is clamped to at least one row.
func New(levels uictl.Levels[int16], width, height int) Model {
	return Model{
		levels: levels,
		width:  max(width, 1),
		height: max(height, 1),
	}
}

// Init returns the initial tick command.
func (m Model) Init() tea.Cmd {
	return tick()
}

// Update keeps the animation running.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if _, ok := msg.(TickMsg); ok {
		return m, tick()
	}

	return m, nil
}

// SetMuted switches the baseline rendering on or off.
func (m Model) SetMuted(muted bool) Model {
	m.muted = muted
	return m
}

// View renders the waveform.
func (m Model) View() string {
	if m.muted || m.levels == nil {
		return m.baseline()
	}

	samples := m.levels.Read()
	if len(samples) == 0 {
		return m.baseline()
	}

	return m.render(samples)
}

func tick() tea.Cmd {
	return tea.Tick(frameInterval, func(time.Time) tea.Msg {
		return TickMsg{}
	})
}

func (m Model) render(samples []int16) string {
	levels := m.columnLevels(samples)
	runes := []rune(blockChars)

	rows := make([]string, m.height)
	for row := range m.height {
		var sb strings.Builder
		base := (m.height - 1 - row) * 8
		for _, level := range levels {
			fill := min(max(level-base, 0), 8)
			sb.WriteRune(runes[fill])
		}
		rows[row] = style.Progress.Render(sb.String())
	}

	return strings.Join(rows, "\n")
}

// columnLevels buckets samples into one level per column, 0 to height*8.
func (m Model) columnLevels(samples []int16) []int {
	levels := make([]int, m.width)
	bucket := max(1, len(samples)/m.width)
	top := m.height * 8

	for col := range m.width {
		start := col * bucket
		if start >= len(samples) {
			break
		}
		end := min(start+bucket, len(samples))
		levels[col] = scale(peak(samples[start:end]), top)
	}

	return levels
}

func (m Model) baseline() string {
	rows := make([]string, m.height)
	for row := range m.height {
		fill := " "
		if row == m.height-1 {
			fill = "▁"
		}
		rows[row] = style.Muted.Render(strings.Repeat(fill, m.width))
	}

	return strings.Join(rows, "\n")
}

func peak(samples []int16) int {
	var p int
	for _, s := range samples {
		v := int(s)
		if v < 0 {
			v = -v
		}
		p = max(p, v)
	}

	return min(p, math.MaxInt16)
}

// scale maps an amplitude onto 0..top with a square root curve so quiet
// speech stays visible.
func scale(amp, top int) int {
	if amp == 0 {
		return 0
	}
	scaled := math.Sqrt(float64(amp)/math.MaxInt16) * float64(top)

	return min(int(scaled), top)
}
