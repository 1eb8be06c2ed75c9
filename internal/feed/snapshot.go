// Package feed keeps listings fresh: mutations publish a change notice on a
// Redis channel, the subscriber reloads the full ticket set, and queries read
// an immutable snapshot that is swapped atomically on each reload.
package feed

import (
	"sync"
	"time"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
)

// Snapshot holds the last-known-good ticket set. If a reload fails, readers
// keep getting the previous set with Stale set until a reload succeeds.
type Snapshot struct {
	mu       sync.RWMutex
	tickets  []domain.Ticket
	loadedAt time.Time
	stale    bool
}

// NewSnapshot returns an empty, non-stale snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{tickets: []domain.Ticket{}}
}

// Replace installs a freshly loaded ticket set and clears staleness. The
// caller hands over ownership of tickets.
func (s *Snapshot) Replace(tickets []domain.Ticket, loadedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tickets == nil {
		tickets = []domain.Ticket{}
	}
	s.tickets = tickets
	s.loadedAt = loadedAt
	s.stale = false
}

// MarkStale flags the current set as possibly out of date without dropping it.
func (s *Snapshot) MarkStale() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stale = true
}

// View returns the current ticket set together with its staleness. The slice
// must not be mutated by callers.
func (s *Snapshot) View() (tickets []domain.Ticket, loadedAt time.Time, stale bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tickets, s.loadedAt, s.stale
}
