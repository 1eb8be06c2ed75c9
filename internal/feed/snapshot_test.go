package feed

import (
	"testing"
	"time"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
)

func TestSnapshotReplaceAndView(t *testing.T) {
	snap := NewSnapshot()

	tickets, _, stale := snap.View()
	if len(tickets) != 0 || stale {
		t.Fatalf("fresh snapshot: tickets=%d stale=%v", len(tickets), stale)
	}

	loadedAt := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	snap.Replace([]domain.Ticket{{ID: "t-1", Code: "T000000001"}}, loadedAt)

	tickets, at, stale := snap.View()
	if len(tickets) != 1 || stale || !at.Equal(loadedAt) {
		t.Fatalf("after replace: tickets=%d stale=%v at=%v", len(tickets), stale, at)
	}
}

func TestSnapshotServesLastKnownGoodWhenStale(t *testing.T) {
	snap := NewSnapshot()
	loadedAt := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	snap.Replace([]domain.Ticket{{ID: "t-1"}}, loadedAt)

	snap.MarkStale()

	tickets, at, stale := snap.View()
	if !stale {
		t.Fatal("snapshot not marked stale")
	}
	if len(tickets) != 1 || !at.Equal(loadedAt) {
		t.Fatal("stale snapshot dropped the last-known-good set")
	}

	// A successful reload clears staleness.
	snap.Replace([]domain.Ticket{{ID: "t-1"}, {ID: "t-2"}}, loadedAt.Add(time.Minute))
	if _, _, stale := snap.View(); stale {
		t.Fatal("reload did not clear staleness")
	}
}

func TestSnapshotNilReplace(t *testing.T) {
	snap := NewSnapshot()
	snap.Replace(nil, time.Now())
	tickets, _, _ := snap.View()
	if tickets == nil {
		t.Fatal("nil ticket set installed")
	}
}
