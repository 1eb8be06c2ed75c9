package policy

import (
	"testing"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
)

var (
	creator = domain.UserRef{UID: "user-1", Role: domain.RoleUser}
	other   = domain.UserRef{UID: "user-2", Role: domain.RoleUser}
	agent   = domain.UserRef{UID: "agent-1", Role: domain.RoleAgent}
	agent2  = domain.UserRef{UID: "agent-2", Role: domain.RoleAgent}
	admin   = domain.UserRef{UID: "admin-1", Role: domain.RoleAdmin}
)

func ticketFor(creatorUID string, assignee *string) *domain.Ticket {
	return &domain.Ticket{
		ID:         "t-1",
		CreatedBy:  creatorUID,
		AssignedTo: assignee,
		Status:     domain.TicketStatusOpen,
	}
}

func TestCanView(t *testing.T) {
	assignee := "agent-1"
	ticket := ticketFor("user-1", &assignee)

	tests := []struct {
		name         string
		viewer       domain.UserRef
		assignedOnly bool
		want         bool
	}{
		{"creator sees own", creator, false, true},
		{"other user blocked", other, false, false},
		{"agent sees all", agent2, false, true},
		{"agent assigned-only, not theirs", agent2, true, false},
		{"agent assigned-only, theirs", agent, true, true},
		{"admin sees all", admin, true, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanView(tc.viewer, ticket, tc.assignedOnly); got != tc.want {
				t.Fatalf("CanView = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestVisibleFilters(t *testing.T) {
	assignee := "agent-1"
	tickets := []domain.Ticket{
		*ticketFor("user-1", &assignee),
		*ticketFor("user-2", nil),
	}

	if got := Visible(creator, tickets, false); len(got) != 1 || got[0].CreatedBy != "user-1" {
		t.Fatalf("creator view = %+v", got)
	}
	if got := Visible(admin, tickets, false); len(got) != 2 {
		t.Fatalf("admin view = %d tickets", len(got))
	}
	if got := Visible(agent, tickets, true); len(got) != 1 {
		t.Fatalf("agent assigned view = %d tickets", len(got))
	}
}

func TestCommentAndReplyPermissions(t *testing.T) {
	assignee := "agent-1"
	ticket := ticketFor("user-1", &assignee)

	if CanComment(creator) {
		t.Fatal("end-user may not start a thread")
	}
	if !CanComment(agent) || !CanComment(admin) {
		t.Fatal("staff must be able to comment")
	}

	if !CanReply(creator, ticket) {
		t.Fatal("creator must be able to reply")
	}
	if CanReply(other, ticket) {
		t.Fatal("unrelated user may not reply")
	}
	if !CanReply(agent2, ticket) {
		t.Fatal("staff must be able to reply")
	}
}

func TestStatusPermissions(t *testing.T) {
	if CanChangeStatus(creator, domain.TicketStatusResolved) {
		t.Fatal("end-user may not change status")
	}
	if !CanChangeStatus(agent, domain.TicketStatusResolved) {
		t.Fatal("agent must resolve")
	}
	if CanChangeStatus(agent, domain.TicketStatusClosed) {
		t.Fatal("closing is admin-only")
	}
	if !CanChangeStatus(admin, domain.TicketStatusClosed) {
		t.Fatal("admin must close")
	}
}

func TestReopenPermissions(t *testing.T) {
	ticket := ticketFor("user-1", nil)
	ticket.Status = domain.TicketStatusClosed

	if !CanReopen(creator, ticket) {
		t.Fatal("creator must reopen a closed ticket")
	}
	if CanReopen(admin, ticket) {
		t.Fatal("non-creator may not reopen")
	}
	ticket.Status = domain.TicketStatusResolved
	if CanReopen(creator, ticket) {
		t.Fatal("only closed tickets reopen")
	}
}

func TestTransferPermissions(t *testing.T) {
	if !CanTransfer(agent) || CanTransfer(admin) || CanTransfer(creator) {
		t.Fatal("transfer is agent-only")
	}
	if !CanAdminTransfer(admin) || CanAdminTransfer(agent) {
		t.Fatal("admin transfer is admin-only")
	}
	if !CanReassign(admin) || CanReassign(agent) {
		t.Fatal("reassignment is admin-only")
	}
}

func TestFeedbackPermissions(t *testing.T) {
	ticket := ticketFor("user-1", nil)
	if CanSubmitFeedback(creator, ticket) {
		t.Fatal("feedback requires a finished ticket")
	}
	ticket.Status = domain.TicketStatusResolved
	if !CanSubmitFeedback(creator, ticket) {
		t.Fatal("creator must rate a resolved ticket")
	}
	if CanSubmitFeedback(agent, ticket) {
		t.Fatal("only the creator rates")
	}
}
