// Package history records which companions a user has talked to. The Store
// keeps entries in memory behind the history server; the Client is how the
// call screen reaches it.
package history

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultLimit bounds List when no limit is given.
const DefaultLimit = 20

// ErrMissingCompanion is returned when an entry names no companion.
var ErrMissingCompanion = errors.New("companion id is required")

// Entry is one finished session with a companion.
type Entry struct {
	ID          uuid.UUID `json:"id"`
	CompanionID string    `json:"companion_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is an in-memory, concurrency-safe history.
type Store struct {
	mu      sync.RWMutex
	entries []Entry
	now     func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// Add records a session with companionID.
func (s *Store) Add(companionID string) (Entry, error) {
	companionID = strings.TrimSpace(companionID)
	if companionID == "" {
		return Entry{}, ErrMissingCompanion
	}

	entry := Entry{
		ID:          uuid.New(),
		CompanionID: companionID,
		CreatedAt:   s.now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)

	return entry, nil
}

// Record implements call.HistoryRecorder.
func (s *Store) Record(_ context.Context, companionID string) error {
	_, err := s.Add(companionID)
	return err
}

// List returns up to limit entries, most recent first. An empty
// companionID lists every companion.
func (s *Store) List(companionID string, limit int) []Entry {
	if limit <= 0 {
		limit = DefaultLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, min(limit, len(s.entries)))
	for _, entry := range slices.Backward(s.entries) {
		if len(out) == limit {
			break
		}
		if companionID == "" || entry.CompanionID == companionID {
			out = append(out, entry)
		}
	}

	return out
}
