package tui

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/alkime/companion/internal/call"
	tea "github.com/charmbracelet/bubbletea"
)

// transcriptSavedMsg reports the outcome of saving the transcript.
type transcriptSavedMsg struct {
	path string
	err  error
}

// TranscriptFileName names a saved transcript for persona at t.
func TranscriptFileName(persona call.Persona, t time.Time) string {
	id := persona.CompanionID
	if id == "" {
		id = "session"
	}

	return fmt.Sprintf("%s-%s.md", id, t.Format("20060102-150405"))
}

// saveTranscriptCmd writes the transcript as markdown under dir.
func saveTranscriptCmd(dir string, persona call.Persona, transcript *call.Transcript, now time.Time) tea.Cmd {
	return func() tea.Msg {
		path := filepath.Join(dir, TranscriptFileName(persona, now))

		userName := persona.UserName
		if userName == "" {
			userName = "You"
		}
		body := transcript.Markdown(persona.Name, userName)

		if err := os.MkdirAll(dir, 0o750); err != nil {
			return transcriptSavedMsg{err: fmt.Errorf("failed to create transcript directory: %w", err)}
		}
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			return transcriptSavedMsg{err: fmt.Errorf("failed to write transcript: %w", err)}
		}

		return transcriptSavedMsg{path: path}
	}
}
