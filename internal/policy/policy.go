// Package policy holds the role-based visibility and mutation permission
// checks shared by the query engine and the ticket state machine. A denied
// mutation never touches state or advances the version.
package policy

import "github.com/spec-kit/helpdesk-engine/internal/domain"

// CanView reports whether viewer may see the ticket. Users see only their
// own tickets; agents see all, or only their assignments when the viewer
// requested the assigned view; admins see everything.
func CanView(viewer domain.UserRef, t *domain.Ticket, assignedOnly bool) bool {
	switch viewer.Role {
	case domain.RoleAdmin:
		return true
	case domain.RoleAgent:
		if assignedOnly {
			return t.AssignedTo != nil && *t.AssignedTo == viewer.UID
		}
		return true
	default:
		return t.CreatedBy == viewer.UID
	}
}

// Visible filters a ticket set down to what viewer may see.
func Visible(viewer domain.UserRef, tickets []domain.Ticket, assignedOnly bool) []domain.Ticket {
	out := make([]domain.Ticket, 0, len(tickets))
	for i := range tickets {
		if CanView(viewer, &tickets[i], assignedOnly) {
			out = append(out, tickets[i])
		}
	}
	return out
}

// CanComment reports whether caller may post a top-level comment.
func CanComment(caller domain.UserRef) bool {
	return caller.Role.Staff()
}

// CanReply reports whether caller may reply on this ticket: staff, the
// creator, or the current assignee.
func CanReply(caller domain.UserRef, t *domain.Ticket) bool {
	if caller.Role.Staff() {
		return true
	}
	if t.CreatedBy == caller.UID {
		return true
	}
	return t.AssignedTo != nil && *t.AssignedTo == caller.UID
}

// CanChangeStatus reports whether caller may move the ticket to next.
// Staff move between Open/InProgress/Resolved; only admins close; the
// Closed -> Open edge belongs to the reopen path, not this check.
func CanChangeStatus(caller domain.UserRef, next domain.TicketStatus) bool {
	if !caller.Role.Staff() {
		return false
	}
	if next == domain.TicketStatusClosed {
		return caller.Role == domain.RoleAdmin
	}
	return true
}

// CanReopen reports whether caller may reopen the ticket: the creator only,
// on a Closed ticket, at most once per lifetime.
func CanReopen(caller domain.UserRef, t *domain.Ticket) bool {
	return t.CreatedBy == caller.UID && t.Status == domain.TicketStatusClosed
}

// CanReassign reports whether caller may change the assignee directly.
func CanReassign(caller domain.UserRef) bool {
	return caller.Role == domain.RoleAdmin
}

// CanTransfer reports whether caller may escalate the ticket to admins.
func CanTransfer(caller domain.UserRef) bool {
	return caller.Role == domain.RoleAgent
}

// CanAdminTransfer reports whether caller may hand the ticket to any staff.
func CanAdminTransfer(caller domain.UserRef) bool {
	return caller.Role == domain.RoleAdmin
}

// CanSubmitFeedback reports whether caller may rate the ticket: the creator
// only, once it is resolved or closed.
func CanSubmitFeedback(caller domain.UserRef, t *domain.Ticket) bool {
	return t.CreatedBy == caller.UID && t.Status.Terminal()
}

// CanAttachDetail reports whether caller may add contact or github info.
func CanAttachDetail(caller domain.UserRef, t *domain.Ticket) bool {
	return t.CreatedBy == caller.UID
}
