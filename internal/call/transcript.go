package call

import (
	"fmt"
	"strings"
	"sync"
)

// Role identifies the speaker of a transcript entry.
type Role string

const (
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// Entry is a single finalized spoken turn.
type Entry struct {
	Role    Role
	Content string
}

// Transcript is an append-only log of spoken turns. Entries are kept in
// arrival order and read back most recent first.
type Transcript struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewTranscript returns an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// Add records a new turn.
func (t *Transcript) Add(entry Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, entry)
}

// Len returns the number of recorded turns.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Entries returns a copy of all turns, most recent first.
func (t *Transcript) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Entry, len(t.entries))
	for i, entry := range t.entries {
		out[len(t.entries)-1-i] = entry
	}

	return out
}

// Markdown renders the conversation in chronological order.
func (t *Transcript) Markdown(assistantName, userName string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var sb strings.Builder
	for _, entry := range t.entries {
		speaker := userName
		if entry.Role == RoleAssistant {
			speaker = assistantName
		}
		fmt.Fprintf(&sb, "**%s:** %s\n\n", speaker, strings.TrimSpace(entry.Content))
	}

	return sb.String()
}
