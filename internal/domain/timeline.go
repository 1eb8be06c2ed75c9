package domain

import "time"

// EntryAction tags what a timeline entry records.
type EntryAction string

const (
	ActionCreated         EntryAction = "created"
	ActionAutoAssigned    EntryAction = "auto_assigned"
	ActionCommented       EntryAction = "commented"
	ActionStatusChanged   EntryAction = "status_changed"
	ActionReassigned      EntryAction = "reassigned"
	ActionTransferred     EntryAction = "transferred"
	ActionAdminTransfer   EntryAction = "admin_transfer"
	ActionReopened        EntryAction = "reopened"
	ActionContactAdded    EntryAction = "contact_added"
	ActionGithubAdded     EntryAction = "github_added"
	ActionRatingSubmitted EntryAction = "rating_submitted"
	ActionSLAMilestone    EntryAction = "sla_milestone"
)

// TimelineEntry is one record of an action taken on a ticket. The log is
// append-only; Index is a stable reference and never reused. Deleted entries
// stay as tombstones so reply_to references of surviving children keep
// resolving.
type TimelineEntry struct {
	Index     int         `json:"index"`
	Action    EntryAction `json:"action"`
	Actor     *string     `json:"user,omitempty"`
	Username  string      `json:"username,omitempty"`
	Comment   string      `json:"comment,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	ReplyTo   *int        `json:"reply_to,omitempty"`
	Deleted   bool        `json:"deleted,omitempty"`
}

// System reports whether the entry was produced without a human actor.
func (e TimelineEntry) System() bool {
	return e.Actor == nil
}

// IsReply reports whether the entry threads under an earlier entry.
func (e TimelineEntry) IsReply() bool {
	return e.ReplyTo != nil
}

// Clone copies the entry including its pointer fields.
func (e TimelineEntry) Clone() TimelineEntry {
	out := e
	out.Actor = clonePtr(e.Actor)
	out.ReplyTo = clonePtr(e.ReplyTo)
	return out
}
