// Package tui implements the terminal call screen.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alkime/companion/internal/call"
	"github.com/alkime/companion/internal/present"
	"github.com/alkime/companion/internal/tui/components/avatar"
	"github.com/alkime/companion/internal/tui/components/waveform"
	"github.com/alkime/companion/internal/tui/style"
	"github.com/alkime/companion/pkg/uictl"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	defaultWidth     = 80
	defaultHeight    = 24
	waveformWidth    = 32
	chromeHeight     = 14
	minViewportLines = 3
)

// Controller drives a call session. *call.Session implements it.
type Controller interface {
	HandleCall(ctx context.Context)
	HandleDisconnect(ctx context.Context)
	ToggleMicrophone()
	Acknowledge()
	Snapshot() call.Snapshot
	Persona() call.Persona
	Transcript() *call.Transcript
}

// SnapshotMsg delivers a session change to the model.
type SnapshotMsg call.Snapshot

// Observe returns a session observer that forwards snapshots to p.
func Observe(p *tea.Program) func(call.Snapshot) {
	return func(snap call.Snapshot) {
		p.Send(SnapshotMsg(snap))
	}
}

// Config configures the call screen.
type Config struct {
	Controller Controller
	// Levels feeds the microphone waveform. Optional.
	Levels uictl.Levels[int16]
	// SaveDir receives saved transcripts.
	SaveDir string
	// Cancel is called when the user quits.
	Cancel context.CancelFunc
	// Now defaults to time.Now.
	Now func() time.Time
}

// Model is the call screen. Session intents run as commands so the session
// can publish snapshots back through the program while they execute.
type Model struct {
	ctx     context.Context
	cfg     Config
	persona call.Persona
	keys    KeyMap

	snap call.Snapshot
	view present.View

	spinner    spinner.Model
	avatar     avatar.Model
	waveform   waveform.Model
	transcript viewport.Model

	width, height int
	notice        string
	noticeErr     bool
}

// New creates the call screen for cfg.Controller.
func New(ctx context.Context, cfg Config) Model {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	persona := cfg.Controller.Persona()

	s := spinner.New()
	s.Spinner = spinner.Points

	caption := persona.Subject
	if persona.Topic != "" {
		caption = strings.TrimSpace(caption + ": " + persona.Topic)
	}

	m := Model{
		ctx:        ctx,
		cfg:        cfg,
		persona:    persona,
		keys:       DefaultKeyMap(),
		spinner:    s,
		avatar:     avatar.New(persona.Name, caption),
		waveform:   waveform.New(cfg.Levels, waveformWidth, 1),
		transcript: viewport.New(defaultWidth-4, defaultHeight-chromeHeight),
		width:      defaultWidth,
		height:     defaultHeight,
	}
	m.apply(cfg.Controller.Snapshot())

	return m
}

// Init starts the animations.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.avatar.Init(), m.waveform.Init())
}

// Update handles messages for the call screen.
func (m Model) Update(teaMsg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := teaMsg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

		return m, nil

	case SnapshotMsg:
		if msg.Seq < m.snap.Seq {
			return m, nil
		}
		m.apply(call.Snapshot(msg))

		return m, nil

	case transcriptSavedMsg:
		if msg.err != nil {
			m.notice = fmt.Sprintf("Failed to save transcript: %v", msg.err)
			m.noticeErr = true
		} else {
			m.notice = "Transcript saved to " + msg.path
			m.noticeErr = false
		}

		return m, nil

	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
		m.avatar, cmd = m.avatar.Update(msg)
		cmds = append(cmds, cmd)

		return m, tea.Batch(cmds...)

	case waveform.TickMsg:
		var cmd tea.Cmd
		m.waveform, cmd = m.waveform.Update(msg)

		return m, cmd
	}

	var cmd tea.Cmd
	m.transcript, cmd = m.transcript.Update(teaMsg)

	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	ctl := m.cfg.Controller
	ctx := m.ctx

	switch {
	case key.Matches(msg, m.keys.Quit), key.Matches(msg, m.keys.ForceQuit):
		if m.cfg.Cancel != nil {
			m.cfg.Cancel()
		}

		return tea.Quit, true

	case key.Matches(msg, m.keys.Call):
		if m.snap.Status == call.StatusActive {
			return m.intent(func() { ctl.HandleDisconnect(ctx) }), true
		}

		return m.intent(func() { ctl.HandleCall(ctx) }), true

	case key.Matches(msg, m.keys.Mute):
		return m.intent(ctl.ToggleMicrophone), true

	case key.Matches(msg, m.keys.TryAgain):
		return m.intent(ctl.Acknowledge), true

	case key.Matches(msg, m.keys.Save):
		m.notice = ""

		return saveTranscriptCmd(m.cfg.SaveDir, m.persona, ctl.Transcript(), m.cfg.Now()), true
	}

	return nil, false
}

// intent runs fn off the update loop.
func (m Model) intent(fn func()) tea.Cmd {
	return func() tea.Msg {
		fn()
		return nil
	}
}

// apply takes a snapshot and refreshes everything derived from it.
func (m *Model) apply(snap call.Snapshot) {
	m.snap = snap
	m.view = present.Derive(snap)

	m.keys.Call.SetEnabled(m.view.CallEnabled)
	m.keys.Call.SetHelp("enter", strings.ToLower(m.view.CallLabel))
	m.keys.Mute.SetEnabled(m.view.MicEnabled)
	m.keys.TryAgain.SetEnabled(m.view.ShowTryAgain)
	m.keys.Save.SetEnabled(m.view.CanSave)

	m.avatar = m.avatar.SetState(m.view.AvatarDimmed, m.view.Speaking)
	m.waveform = m.waveform.SetMuted(m.view.Muted || !m.view.MicEnabled)
	m.transcript.SetContent(m.renderTranscript())
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	m.transcript.Width = max(width-4, 10)
	m.transcript.Height = max(height-chromeHeight, minViewportLines)
	m.transcript.SetContent(m.renderTranscript())
}

// Snapshot returns the last snapshot the model applied.
func (m Model) Snapshot() call.Snapshot {
	return m.snap
}

// View renders the call screen.
func (m Model) View() string {
	var sb strings.Builder

	sb.WriteString(m.avatar.View())
	sb.WriteString("\n\n")

	if m.view.Connecting {
		sb.WriteString(m.spinner.View())
		sb.WriteString(" ")
		sb.WriteString(style.Title.Render(m.view.StatusText))
		if m.view.RetryText != "" {
			sb.WriteString(" ")
			sb.WriteString(style.Warning.Render(m.view.RetryText))
		}
	} else {
		sb.WriteString(style.Subtitle.Render(m.view.StatusText))
	}
	sb.WriteString("\n")

	micLabel := style.Muted.Render(m.view.MicLabel)
	if m.view.MicEnabled && !m.view.Muted {
		micLabel = style.Success.Render(m.view.MicLabel)
	}
	sb.WriteString(micLabel)
	sb.WriteString(" ")
	sb.WriteString(m.waveform.View())
	sb.WriteString("\n")

	if m.view.ErrorMessage != "" {
		sb.WriteString(style.Error.Render("Error: " + m.view.ErrorMessage))
		sb.WriteString("\n")
	}
	if m.notice != "" {
		notice := style.Success
		if m.noticeErr {
			notice = style.Error
		}
		sb.WriteString(notice.Render(m.notice))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	if len(m.view.Transcript) == 0 {
		sb.WriteString(style.Muted.Render("No conversation yet"))
	} else {
		sb.WriteString(style.Viewport.Render(m.transcript.View()))
	}
	sb.WriteString("\n\n")

	sb.WriteString(renderHelpRow(m.keys.ShortHelp()))
	sb.WriteString("\n")
	sb.WriteString(renderKeyHelp(m.keys.Quit, " "))
	sb.WriteString(renderKeyHelp(m.keys.ForceQuit, "\n"))

	return sb.String()
}

// renderTranscript lists the conversation most recent first.
func (m Model) renderTranscript() string {
	userName := m.persona.UserName
	if userName == "" {
		userName = "You"
	}

	lines := make([]string, 0, len(m.view.Transcript))
	for _, entry := range m.view.Transcript {
		label := style.User.Render(userName + ":")
		if entry.Role == call.RoleAssistant {
			label = style.Assistant.Render(m.persona.Name + ":")
		}
		lines = append(lines, wrapText(label+" "+entry.Content, m.transcript.Width))
	}

	return strings.Join(lines, "\n")
}
