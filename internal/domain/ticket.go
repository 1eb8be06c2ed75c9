package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "Open"
	TicketStatusInProgress TicketStatus = "In Progress"
	TicketStatusResolved   TicketStatus = "Resolved"
	TicketStatusClosed     TicketStatus = "Closed"
)

// Terminal reports whether the status stops SLA evaluation.
func (s TicketStatus) Terminal() bool {
	return s == TicketStatusResolved || s == TicketStatusClosed
}

// Valid reports whether s is one of the four lifecycle states.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusResolved, TicketStatusClosed:
		return true
	}
	return false
}

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityLow      TicketPriority = "Low"
	TicketPriorityMedium   TicketPriority = "Medium"
	TicketPriorityHigh     TicketPriority = "High"
	TicketPriorityCritical TicketPriority = "Critical"
)

// Weight orders priorities for listing. Unknown priorities sort last.
func (p TicketPriority) Weight() int {
	switch p {
	case TicketPriorityCritical:
		return 4
	case TicketPriorityHigh:
		return 3
	case TicketPriorityMedium:
		return 2
	case TicketPriorityLow:
		return 1
	}
	return 0
}

// Valid reports whether p is a known priority.
func (p TicketPriority) Valid() bool {
	return p.Weight() > 0
}

// TransferRecord documents a single hand-off between staff members.
type TransferRecord struct {
	FromUID   string    `json:"from"`
	ToUID     string    `json:"to,omitempty"`
	FromRole  Role      `json:"from_role"`
	ToRole    Role      `json:"to_role,omitempty"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Ticket is the aggregate for support requests. Version increases by exactly
// one on every accepted mutation; SLADeadline is set at creation and never
// changes afterwards, reopen included.
type Ticket struct {
	ID              string
	Code            string
	Title           string
	Description     string
	Category        string
	Priority        TicketPriority
	Status          TicketStatus
	CreatedBy       string
	AssignedTo      *string
	ResolvedBy      *string
	Contact         *string
	Github          *string
	Rating          *int
	Feedback        *string
	Labels          []string
	ReopenCount     int
	Version         int64
	SLADeadline     time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ResolvedAt      *time.Time
	ClosedAt        *time.Time
	FeedbackAt      *time.Time
	IdempotencyKey  *string
	Timeline        []TimelineEntry
	TransferHistory []TransferRecord
}

// FirstResolutionAt returns the timestamp used for the completed-duration
// computation: resolved_at, else closed_at, else last update. The first
// resolution timestamp is never overwritten, so the value is stable across
// reopen cycles.
func (t *Ticket) FirstResolutionAt() time.Time {
	if t.ResolvedAt != nil {
		return *t.ResolvedAt
	}
	if t.ClosedAt != nil {
		return *t.ClosedAt
	}
	return t.UpdatedAt
}

// Clone returns a deep copy safe to hand to readers while the original keeps
// being mutated under the ticket lock.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	out := *t
	out.AssignedTo = clonePtr(t.AssignedTo)
	out.ResolvedBy = clonePtr(t.ResolvedBy)
	out.Contact = clonePtr(t.Contact)
	out.Github = clonePtr(t.Github)
	out.Rating = clonePtr(t.Rating)
	out.Feedback = clonePtr(t.Feedback)
	out.ResolvedAt = clonePtr(t.ResolvedAt)
	out.ClosedAt = clonePtr(t.ClosedAt)
	out.FeedbackAt = clonePtr(t.FeedbackAt)
	out.IdempotencyKey = clonePtr(t.IdempotencyKey)
	out.Labels = append([]string(nil), t.Labels...)
	out.TransferHistory = append([]TransferRecord(nil), t.TransferHistory...)
	out.Timeline = make([]TimelineEntry, len(t.Timeline))
	for i := range t.Timeline {
		out.Timeline[i] = t.Timeline[i].Clone()
	}
	return &out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
