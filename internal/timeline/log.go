// Package timeline maintains the per-ticket activity log: an append-only
// sequence of entries threaded by parent index, with tombstone deletion so
// existing reply references never break.
package timeline

import (
	"github.com/spec-kit/helpdesk-engine/internal/domain"
	apperrors "github.com/spec-kit/helpdesk-engine/pkg/util"
)

// Append assigns the next index to entry and attaches it to the ticket.
// A reply must reference an earlier index; the log is append-only, so a
// parent always precedes its children.
func Append(t *domain.Ticket, entry domain.TimelineEntry) (*domain.TimelineEntry, error) {
	next := len(t.Timeline)
	if entry.ReplyTo != nil {
		parent := *entry.ReplyTo
		if parent < 0 || parent >= next {
			return nil, apperrors.NewInvalidArgument("reply target does not exist", map[string]any{
				"reply_to": parent,
			})
		}
	}
	entry.Index = next
	t.Timeline = append(t.Timeline, entry)
	return &t.Timeline[next], nil
}

// Delete tombstones the entry at index. Only comments and replies can be
// removed, and only by their author, an agent, or an admin. Children of the
// removed entry keep their reply_to; indices are never reassigned.
func Delete(t *domain.Ticket, index int, caller domain.UserRef) error {
	if index < 0 || index >= len(t.Timeline) {
		return apperrors.NewInvalidArgument("invalid timeline index", map[string]any{
			"index": index,
		})
	}
	entry := &t.Timeline[index]
	if entry.Deleted {
		return apperrors.NewNotFound("timeline entry", map[string]any{"index": index})
	}
	if entry.Action != domain.ActionCommented && !entry.IsReply() {
		return apperrors.NewForbidden("only comments and replies can be deleted")
	}
	authored := entry.Actor != nil && *entry.Actor == caller.UID
	if !authored && !caller.Role.Staff() {
		return apperrors.NewForbidden("only the author, an agent, or an admin can delete this entry")
	}
	entry.Deleted = true
	entry.Comment = ""
	return nil
}

// Visible returns the non-tombstoned entries in log order.
func Visible(entries []domain.TimelineEntry) []domain.TimelineEntry {
	out := make([]domain.TimelineEntry, 0, len(entries))
	for _, e := range entries {
		if e.Deleted {
			continue
		}
		out = append(out, e)
	}
	return out
}
