package events

import "time"

// EventType identifies a ticket lifecycle event.
type EventType string

const (
	EventTicketCreated     EventType = "ticket.created"
	EventTicketMutated     EventType = "ticket.mutated"
	EventTicketTransferred EventType = "ticket.transferred"
	EventFeedbackSubmitted EventType = "ticket.feedback"
	EventSLAMilestone      EventType = "ticket.sla_milestone"
)

// Event is the payload delivered to listeners and published on the change
// feed channel.
type Event struct {
	Type       EventType `json:"type"`
	TicketID   string    `json:"ticket_id"`
	TicketCode string    `json:"ticket_code"`
	Actor      string    `json:"actor,omitempty"`
	Action     string    `json:"action,omitempty"`
	Version    int64     `json:"version"`
	OccurredAt time.Time `json:"occurred_at"`
}
