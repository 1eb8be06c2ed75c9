package dto

import (
	"time"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Title          string                `json:"title"`
	Description    string                `json:"description"`
	Category       string                `json:"category"`
	Priority       domain.TicketPriority `json:"priority"`
	Labels         []string              `json:"labels"`
	Contact        *string               `json:"contact"`
	Github         *string               `json:"github"`
	IdempotencyKey *string               `json:"idempotency_key"`
}

// MutateTicketRequest carries one mutation with its expected version.
type MutateTicketRequest struct {
	ExpectedVersion int64                `json:"expected_version"`
	Status          *domain.TicketStatus `json:"status"`
	Comment         *string              `json:"comment"`
	ReplyTo         *int                 `json:"reply_to"`
	AssignedTo      *string              `json:"assigned_to"`
	Contact         *string              `json:"contact"`
	Github          *string              `json:"github"`
}

// TransferRequest payload for an agent hand-off.
type TransferRequest struct {
	Reason string `json:"reason"`
}

// AdminTransferRequest payload for a forced reassignment.
type AdminTransferRequest struct {
	TargetUID string `json:"target_uid"`
	Reason    string `json:"reason"`
}

// FeedbackRequest payload.
type FeedbackRequest struct {
	Rating   int    `json:"rating"`
	Feedback string `json:"feedback"`
}

// TicketSummary response row for listings.
type TicketSummary struct {
	ID         string                `json:"id"`
	Code       string                `json:"code"`
	Title      string                `json:"title"`
	Category   string                `json:"category,omitempty"`
	Priority   domain.TicketPriority `json:"priority"`
	Status     domain.TicketStatus   `json:"status"`
	CreatedBy  string                `json:"created_by"`
	AssignedTo string                `json:"assigned_to,omitempty"`
	SLA        string                `json:"sla"`
	SLABucket  string                `json:"sla_bucket"`
	Version    int64                 `json:"version"`
	CreatedAt  time.Time             `json:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

// TicketListResponse is one evaluated listing page.
type TicketListResponse struct {
	Items    []TicketSummary `json:"items"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	Stale    bool            `json:"stale,omitempty"`
}

// TimelineEntryResponse renders one entry with its thread children.
type TimelineEntryResponse struct {
	Index     int                     `json:"index"`
	Action    domain.EntryAction      `json:"action"`
	Actor     string                  `json:"actor,omitempty"`
	Username  string                  `json:"username,omitempty"`
	Comment   string                  `json:"comment,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
	ReplyTo   *int                    `json:"reply_to,omitempty"`
	Replies   []TimelineEntryResponse `json:"replies,omitempty"`
}

// TransferRecordResponse renders one hand-off.
type TransferRecordResponse struct {
	From      string      `json:"from"`
	To        string      `json:"to,omitempty"`
	FromRole  domain.Role `json:"from_role"`
	ToRole    domain.Role `json:"to_role,omitempty"`
	Reason    string      `json:"reason"`
	Timestamp time.Time   `json:"timestamp"`
}

// TicketDetailResponse provides full ticket info.
type TicketDetailResponse struct {
	TicketSummary
	Description     string                   `json:"description"`
	Labels          []string                 `json:"labels,omitempty"`
	Contact         *string                  `json:"contact,omitempty"`
	Github          *string                  `json:"github,omitempty"`
	Rating          *int                     `json:"rating,omitempty"`
	Feedback        *string                  `json:"feedback,omitempty"`
	ReopenCount     int                      `json:"reopen_count"`
	SLADeadline     time.Time                `json:"sla_deadline"`
	ResolvedAt      *time.Time               `json:"resolved_at,omitempty"`
	ClosedAt        *time.Time               `json:"closed_at,omitempty"`
	FeedbackAt      *time.Time               `json:"feedback_at,omitempty"`
	Timeline        []TimelineEntryResponse  `json:"timeline"`
	TransferHistory []TransferRecordResponse `json:"transfer_history,omitempty"`
}

// SLAStateResponse is the countdown rendering of one ticket.
type SLAStateResponse struct {
	Code     string    `json:"code"`
	Phase    string    `json:"phase"`
	Label    string    `json:"label"`
	Bucket   string    `json:"bucket"`
	Deadline time.Time `json:"deadline"`
}

// BreachReportRow is one overdue ticket in the admin report.
type BreachReportRow struct {
	Code       string                `json:"code"`
	Title      string                `json:"title"`
	Priority   domain.TicketPriority `json:"priority"`
	AssignedTo string                `json:"assigned_to,omitempty"`
	Overdue    string                `json:"overdue"`
	Deadline   time.Time             `json:"deadline"`
}
