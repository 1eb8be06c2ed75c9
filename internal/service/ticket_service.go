package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-engine/internal/clock"
	"github.com/spec-kit/helpdesk-engine/internal/config"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/events"
	"github.com/spec-kit/helpdesk-engine/internal/policy"
	"github.com/spec-kit/helpdesk-engine/internal/repository"
	"github.com/spec-kit/helpdesk-engine/internal/sla"
	"github.com/spec-kit/helpdesk-engine/internal/timeline"
	"github.com/spec-kit/helpdesk-engine/pkg/util"
)

// TicketService coordinates the ticket lifecycle: creation, mutations under
// optimistic concurrency, transfers, feedback, and the SLA milestone log.
type TicketService struct {
	tickets    repository.TicketRepository
	users      repository.UserRepository
	dispatcher events.Dispatcher
	clock      clock.Clock
	slaCfg     config.SLAConfig
	logger     *zap.Logger
	locks      *ticketLocks
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo repository.TicketRepository
	UserRepo   repository.UserRepository
	Dispatcher events.Dispatcher
	Clock      clock.Clock
	SLA        config.SLAConfig
	Logger     *zap.Logger
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	clk := deps.Clock
	if clk == nil {
		clk = clock.System()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{
		tickets:    deps.TicketRepo,
		users:      deps.UserRepo,
		dispatcher: deps.Dispatcher,
		clock:      clk,
		slaCfg:     deps.SLA,
		logger:     logger,
		locks:      newTicketLocks(),
	}
}

// CreateInput describes ticket creation payload.
type CreateInput struct {
	Title          string
	Description    string
	Category       string
	Priority       domain.TicketPriority
	Labels         []string
	Contact        *string
	Github         *string
	IdempotencyKey *string
}

// MutationInput carries one mutation. Exactly one of the mutation fields
// must be set; ExpectedVersion must match the ticket's current version.
type MutationInput struct {
	ExpectedVersion int64
	Status          *domain.TicketStatus
	Comment         *string
	ReplyTo         *int
	AssignedTo      *string
	Contact         *string
	Github          *string
}

func (in MutationInput) kinds() int {
	n := 0
	if in.Status != nil {
		n++
	}
	if in.Comment != nil {
		n++
	}
	if in.AssignedTo != nil {
		n++
	}
	if in.Contact != nil {
		n++
	}
	if in.Github != nil {
		n++
	}
	return n
}

// CreateTicket validates input, allocates the sequential code, computes the
// SLA deadline from priority, and auto-assigns the least loaded agent. A
// repeated idempotency key returns the original ticket unchanged.
func (s *TicketService) CreateTicket(ctx context.Context, caller domain.UserRef, input CreateInput) (*domain.Ticket, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, util.NewInvalidArgument("title is required", nil)
	}
	if !input.Priority.Valid() {
		return nil, util.NewInvalidArgument("unknown priority", map[string]any{"priority": input.Priority})
	}

	if input.IdempotencyKey != nil && *input.IdempotencyKey != "" {
		existing, err := s.tickets.GetByIdempotencyKey(ctx, caller.UID, *input.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !util.IsCode(util.MapError(err), "NOT_FOUND") {
			return nil, util.MapError(err)
		}
	}

	code, err := s.tickets.NextCode(ctx)
	if err != nil {
		return nil, util.MapError(err)
	}

	now := s.clock.Now()
	ticket := &domain.Ticket{
		ID:          uuid.NewString(),
		Code:        code,
		Title:       title,
		Description: input.Description,
		Category:    input.Category,
		Priority:    input.Priority,
		Status:      domain.TicketStatusOpen,
		CreatedBy:   caller.UID,
		Contact:     input.Contact,
		Github:      input.Github,
		Labels:      input.Labels,
		Version:     1,
		SLADeadline: now.Add(s.slaCfg.DeadlineFor(string(input.Priority))),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if input.IdempotencyKey != nil && *input.IdempotencyKey != "" {
		ticket.IdempotencyKey = input.IdempotencyKey
	}

	actor := caller.UID
	if _, err := timeline.Append(ticket, domain.TimelineEntry{
		Action:    domain.ActionCreated,
		Actor:     &actor,
		Username:  caller.Username,
		Timestamp: now,
	}); err != nil {
		return nil, err
	}

	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, util.MapError(err)
	}
	s.publish(ctx, events.EventTicketCreated, ticket, caller.UID, string(domain.ActionCreated))

	s.autoAssign(ctx, ticket)
	return ticket, nil
}

// autoAssign hands a fresh ticket to the least loaded active agent as a
// system mutation. No agent available leaves the ticket unassigned.
func (s *TicketService) autoAssign(ctx context.Context, ticket *domain.Ticket) {
	agent, err := s.LeastLoadedAgent(ctx)
	if err != nil {
		s.logger.Warn("auto-assignment skipped", zap.Error(err), zap.String("ticket", ticket.Code))
		return
	}
	if agent == nil {
		return
	}

	now := s.clock.Now()
	uid := agent.UID
	ticket.AssignedTo = &uid
	ticket.Version++
	ticket.UpdatedAt = now
	if _, err := timeline.Append(ticket, domain.TimelineEntry{
		Action:    domain.ActionAutoAssigned,
		Username:  agent.Username,
		Timestamp: now,
	}); err != nil {
		s.logger.Warn("auto-assignment entry rejected", zap.Error(err))
		return
	}
	if err := s.tickets.Update(ctx, ticket); err != nil {
		s.logger.Warn("auto-assignment persist failed", zap.Error(err), zap.String("ticket", ticket.Code))
		return
	}
	s.adjustWorkload(ctx, uid, 1, 0)
	s.publish(ctx, events.EventTicketMutated, ticket, "", string(domain.ActionAutoAssigned))
}

// GetTicket fetches a ticket the caller is allowed to see. Tickets outside
// the caller's visibility read as not found.
func (s *TicketService) GetTicket(ctx context.Context, caller domain.UserRef, id string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, util.MapError(err)
	}
	if !policy.CanView(caller, ticket, false) {
		return nil, util.NewNotFound("ticket", map[string]any{"id": id})
	}
	return ticket, nil
}

// GetTicketByCode fetches by the public sequential code with the same
// visibility rule as GetTicket.
func (s *TicketService) GetTicketByCode(ctx context.Context, caller domain.UserRef, code string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByCode(ctx, code)
	if err != nil {
		return nil, util.MapError(err)
	}
	if !policy.CanView(caller, ticket, false) {
		return nil, util.NewNotFound("ticket", map[string]any{"code": code})
	}
	return ticket, nil
}

// Mutate applies exactly one mutation kind under the ticket lock. The
// expected version must match; a mismatch conflicts and leaves the ticket
// untouched. Every accepted mutation appends one timeline entry and bumps
// the version by one.
func (s *TicketService) Mutate(ctx context.Context, caller domain.UserRef, id string, input MutationInput) (*domain.Ticket, error) {
	if input.kinds() != 1 {
		return nil, util.NewInvalidArgument("exactly one mutation field must be set", nil)
	}
	if input.ReplyTo != nil && input.Comment == nil {
		return nil, util.NewInvalidArgument("reply_to requires a comment", nil)
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	ticket, err := s.GetTicket(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if ticket.Version != input.ExpectedVersion {
		return nil, util.NewConflict("ticket version mismatch", map[string]any{
			"expected": input.ExpectedVersion,
			"current":  ticket.Version,
		})
	}

	now := s.clock.Now()
	var entry domain.TimelineEntry
	switch {
	case input.Status != nil:
		entry, err = s.applyStatus(ctx, caller, ticket, *input.Status, now)
	case input.Comment != nil:
		entry, err = s.applyComment(caller, ticket, *input.Comment, input.ReplyTo, now)
	case input.AssignedTo != nil:
		entry, err = s.applyReassign(ctx, caller, ticket, *input.AssignedTo, now)
	case input.Contact != nil:
		entry, err = s.applyDetail(caller, ticket, domain.ActionContactAdded, *input.Contact, now)
	case input.Github != nil:
		entry, err = s.applyDetail(caller, ticket, domain.ActionGithubAdded, *input.Github, now)
	}
	if err != nil {
		return nil, err
	}

	ticket.Version++
	ticket.UpdatedAt = now
	if _, err := timeline.Append(ticket, entry); err != nil {
		return nil, err
	}
	if err := s.tickets.Update(ctx, ticket); err != nil {
		return nil, util.MapError(err)
	}
	s.publish(ctx, events.EventTicketMutated, ticket, caller.UID, string(entry.Action))
	return ticket, nil
}

// transitionAllowed implements the lifecycle rule: the three working
// statuses move freely between each other, and any of them may be closed.
// Closed has no outgoing edge here; reopening is its own path.
func transitionAllowed(from, to domain.TicketStatus) bool {
	if from == domain.TicketStatusClosed || from == to {
		return false
	}
	switch to {
	case domain.TicketStatusOpen, domain.TicketStatusInProgress,
		domain.TicketStatusResolved, domain.TicketStatusClosed:
		return true
	}
	return false
}

func (s *TicketService) applyStatus(ctx context.Context, caller domain.UserRef, ticket *domain.Ticket, next domain.TicketStatus, now time.Time) (domain.TimelineEntry, error) {
	if !next.Valid() {
		return domain.TimelineEntry{}, util.NewInvalidArgument("unknown status", map[string]any{"status": next})
	}

	// Creator reopening a closed ticket is the one non-staff status change.
	if ticket.Status == domain.TicketStatusClosed && next == domain.TicketStatusOpen {
		return s.applyReopen(ctx, caller, ticket, now)
	}

	if !policy.CanChangeStatus(caller, next) {
		return domain.TimelineEntry{}, util.NewForbidden("not allowed to change status")
	}
	if !transitionAllowed(ticket.Status, next) {
		return domain.TimelineEntry{}, util.NewInvalidArgument("invalid status transition", map[string]any{
			"from": ticket.Status,
			"to":   next,
		})
	}

	prev := ticket.Status
	ticket.Status = next
	switch next {
	case domain.TicketStatusOpen, domain.TicketStatusInProgress:
		if prev == domain.TicketStatusResolved && ticket.AssignedTo != nil {
			s.adjustWorkload(ctx, *ticket.AssignedTo, 1, 0)
		}
	case domain.TicketStatusResolved:
		if ticket.ResolvedAt == nil {
			t := now
			ticket.ResolvedAt = &t
		}
		uid := caller.UID
		ticket.ResolvedBy = &uid
		if ticket.AssignedTo != nil {
			s.adjustWorkload(ctx, *ticket.AssignedTo, -1, 1)
		}
	case domain.TicketStatusClosed:
		if ticket.ClosedAt == nil {
			t := now
			ticket.ClosedAt = &t
		}
		if prev != domain.TicketStatusResolved && ticket.AssignedTo != nil {
			s.adjustWorkload(ctx, *ticket.AssignedTo, -1, 0)
		}
	}

	actor := caller.UID
	return domain.TimelineEntry{
		Action:    domain.ActionStatusChanged,
		Actor:     &actor,
		Username:  caller.Username,
		Comment:   string(prev) + " -> " + string(next),
		Timestamp: now,
	}, nil
}

// applyReopen returns a closed ticket to Open. Only the creator may reopen,
// and only once over the ticket's lifetime. The SLA deadline and the first
// resolution timestamps are left as they are.
func (s *TicketService) applyReopen(ctx context.Context, caller domain.UserRef, ticket *domain.Ticket, now time.Time) (domain.TimelineEntry, error) {
	if !policy.CanReopen(caller, ticket) {
		return domain.TimelineEntry{}, util.NewForbidden("only the creator may reopen")
	}
	if ticket.ReopenCount >= 1 {
		return domain.TimelineEntry{}, util.NewInvalidArgument("ticket was already reopened once", nil)
	}

	ticket.Status = domain.TicketStatusOpen
	ticket.ReopenCount++
	if ticket.AssignedTo != nil {
		s.adjustWorkload(ctx, *ticket.AssignedTo, 1, 0)
	}

	actor := caller.UID
	return domain.TimelineEntry{
		Action:    domain.ActionReopened,
		Actor:     &actor,
		Username:  caller.Username,
		Timestamp: now,
	}, nil
}

func (s *TicketService) applyComment(caller domain.UserRef, ticket *domain.Ticket, comment string, replyTo *int, now time.Time) (domain.TimelineEntry, error) {
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return domain.TimelineEntry{}, util.NewInvalidArgument("comment must not be empty", nil)
	}
	if replyTo != nil {
		if !policy.CanReply(caller, ticket) {
			return domain.TimelineEntry{}, util.NewForbidden("not allowed to reply on this ticket")
		}
	} else if !policy.CanComment(caller) {
		return domain.TimelineEntry{}, util.NewForbidden("only staff may start a comment thread")
	}

	actor := caller.UID
	return domain.TimelineEntry{
		Action:    domain.ActionCommented,
		Actor:     &actor,
		Username:  caller.Username,
		Comment:   comment,
		ReplyTo:   replyTo,
		Timestamp: now,
	}, nil
}

func (s *TicketService) applyReassign(ctx context.Context, caller domain.UserRef, ticket *domain.Ticket, targetUID string, now time.Time) (domain.TimelineEntry, error) {
	if !policy.CanReassign(caller) {
		return domain.TimelineEntry{}, util.NewForbidden("only admins may reassign")
	}
	target, err := s.users.GetByID(ctx, targetUID)
	if err != nil {
		return domain.TimelineEntry{}, util.MapError(err)
	}
	if !target.Role.Staff() || !target.Active {
		return domain.TimelineEntry{}, util.NewInvalidArgument("assignee must be active staff", map[string]any{"uid": targetUID})
	}

	if ticket.AssignedTo != nil {
		s.adjustWorkload(ctx, *ticket.AssignedTo, -1, 0)
	}
	uid := target.UID
	ticket.AssignedTo = &uid
	s.adjustWorkload(ctx, uid, 1, 0)

	actor := caller.UID
	return domain.TimelineEntry{
		Action:    domain.ActionReassigned,
		Actor:     &actor,
		Username:  caller.Username,
		Comment:   target.Display(),
		Timestamp: now,
	}, nil
}

func (s *TicketService) applyDetail(caller domain.UserRef, ticket *domain.Ticket, action domain.EntryAction, value string, now time.Time) (domain.TimelineEntry, error) {
	if !policy.CanAttachDetail(caller, ticket) {
		return domain.TimelineEntry{}, util.NewForbidden("only the creator may attach details")
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return domain.TimelineEntry{}, util.NewInvalidArgument("value must not be empty", nil)
	}

	if action == domain.ActionContactAdded {
		ticket.Contact = &value
	} else {
		ticket.Github = &value
	}

	actor := caller.UID
	return domain.TimelineEntry{
		Action:    action,
		Actor:     &actor,
		Username:  caller.Username,
		Timestamp: now,
	}, nil
}

// RecordMilestone appends a system SLA milestone entry. Terminal tickets
// ignore milestones that race with their resolution.
func (s *TicketService) RecordMilestone(ctx context.Context, id string, milestone sla.Milestone) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	ticket, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return util.MapError(err)
	}
	if ticket.Status.Terminal() {
		return nil
	}

	now := s.clock.Now()
	ticket.Version++
	ticket.UpdatedAt = now
	if _, err := timeline.Append(ticket, domain.TimelineEntry{
		Action:    domain.ActionSLAMilestone,
		Comment:   milestone.Comment(),
		Timestamp: now,
	}); err != nil {
		return err
	}
	if err := s.tickets.Update(ctx, ticket); err != nil {
		return util.MapError(err)
	}
	s.publish(ctx, events.EventSLAMilestone, ticket, "", string(milestone))
	return nil
}

// DeleteTimelineEntry tombstones a comment or reply. The entry keeps its
// index so replies threaded under it still resolve; the version still moves
// because the ticket changed.
func (s *TicketService) DeleteTimelineEntry(ctx context.Context, caller domain.UserRef, id string, index int) (*domain.Ticket, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	ticket, err := s.GetTicket(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if err := timeline.Delete(ticket, index, caller); err != nil {
		return nil, err
	}

	ticket.Version++
	ticket.UpdatedAt = s.clock.Now()
	if err := s.tickets.Update(ctx, ticket); err != nil {
		return nil, util.MapError(err)
	}
	s.publish(ctx, events.EventTicketMutated, ticket, caller.UID, "entry_deleted")
	return ticket, nil
}

// Transfer records an agent handing a ticket off. The assignment and status
// are untouched; the hand-off lives in the transfer history and the
// timeline.
func (s *TicketService) Transfer(ctx context.Context, caller domain.UserRef, id, reason string) (*domain.Ticket, error) {
	if !policy.CanTransfer(caller) {
		return nil, util.NewForbidden("only agents may transfer")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, util.NewInvalidArgument("transfer reason is required", nil)
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	ticket, err := s.GetTicket(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	ticket.TransferHistory = append(ticket.TransferHistory, domain.TransferRecord{
		FromUID:   caller.UID,
		FromRole:  caller.Role,
		Reason:    reason,
		Timestamp: now,
	})
	ticket.Version++
	ticket.UpdatedAt = now

	actor := caller.UID
	if _, err := timeline.Append(ticket, domain.TimelineEntry{
		Action:    domain.ActionTransferred,
		Actor:     &actor,
		Username:  caller.Username,
		Comment:   reason,
		Timestamp: now,
	}); err != nil {
		return nil, err
	}
	if err := s.tickets.Update(ctx, ticket); err != nil {
		return nil, util.MapError(err)
	}
	s.publish(ctx, events.EventTicketTransferred, ticket, caller.UID, string(domain.ActionTransferred))
	return ticket, nil
}

// AdminTransfer moves a ticket onto a named staff member with a recorded
// reason. Workload counters follow the assignment.
func (s *TicketService) AdminTransfer(ctx context.Context, caller domain.UserRef, id, targetUID, reason string) (*domain.Ticket, error) {
	if !policy.CanAdminTransfer(caller) {
		return nil, util.NewForbidden("only admins may force a transfer")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, util.NewInvalidArgument("transfer reason is required", nil)
	}

	target, err := s.users.GetByID(ctx, targetUID)
	if err != nil {
		return nil, util.MapError(err)
	}
	if !target.Role.Staff() || !target.Active {
		return nil, util.NewInvalidArgument("target must be active staff", map[string]any{"uid": targetUID})
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	ticket, err := s.GetTicket(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	record := domain.TransferRecord{
		FromUID:   caller.UID,
		FromRole:  caller.Role,
		ToUID:     target.UID,
		ToRole:    target.Role,
		Reason:    reason,
		Timestamp: now,
	}
	if ticket.AssignedTo != nil {
		record.FromUID = *ticket.AssignedTo
		s.adjustWorkload(ctx, *ticket.AssignedTo, -1, 0)
	}
	ticket.TransferHistory = append(ticket.TransferHistory, record)

	uid := target.UID
	ticket.AssignedTo = &uid
	s.adjustWorkload(ctx, uid, 1, 0)
	ticket.Version++
	ticket.UpdatedAt = now

	actor := caller.UID
	if _, err := timeline.Append(ticket, domain.TimelineEntry{
		Action:    domain.ActionAdminTransfer,
		Actor:     &actor,
		Username:  caller.Username,
		Comment:   reason,
		Timestamp: now,
	}); err != nil {
		return nil, err
	}
	if err := s.tickets.Update(ctx, ticket); err != nil {
		return nil, util.MapError(err)
	}
	s.publish(ctx, events.EventTicketTransferred, ticket, caller.UID, string(domain.ActionAdminTransfer))
	return ticket, nil
}

// SubmitFeedback records the creator's one-time rating on a finished ticket.
func (s *TicketService) SubmitFeedback(ctx context.Context, caller domain.UserRef, id string, rating int, feedback string) (*domain.Ticket, error) {
	if rating < 1 || rating > 5 {
		return nil, util.NewInvalidArgument("rating must be between 1 and 5", map[string]any{"rating": rating})
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	ticket, err := s.GetTicket(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if !policy.CanSubmitFeedback(caller, ticket) {
		return nil, util.NewForbidden("feedback requires the creator and a finished ticket")
	}
	if ticket.Rating != nil {
		return nil, util.NewInvalidArgument("feedback was already submitted", nil)
	}

	now := s.clock.Now()
	ticket.Rating = &rating
	if feedback = strings.TrimSpace(feedback); feedback != "" {
		ticket.Feedback = &feedback
	}
	ticket.FeedbackAt = &now
	ticket.Version++
	ticket.UpdatedAt = now

	actor := caller.UID
	if _, err := timeline.Append(ticket, domain.TimelineEntry{
		Action:    domain.ActionRatingSubmitted,
		Actor:     &actor,
		Username:  caller.Username,
		Timestamp: now,
	}); err != nil {
		return nil, err
	}
	if err := s.tickets.Update(ctx, ticket); err != nil {
		return nil, util.MapError(err)
	}
	s.publish(ctx, events.EventFeedbackSubmitted, ticket, caller.UID, string(domain.ActionRatingSubmitted))
	return ticket, nil
}

// ListAll loads every ticket for snapshot building.
func (s *TicketService) ListAll(ctx context.Context) ([]domain.Ticket, error) {
	tickets, err := s.tickets.ListAll(ctx)
	if err != nil {
		return nil, util.MapError(err)
	}
	return tickets, nil
}

func (s *TicketService) adjustWorkload(ctx context.Context, uid string, activeDelta, resolvedDelta int) {
	if err := s.users.AdjustWorkload(ctx, uid, activeDelta, resolvedDelta); err != nil {
		s.logger.Warn("workload adjust failed", zap.Error(err), zap.String("uid", uid))
	}
}

func (s *TicketService) publish(ctx context.Context, eventType events.EventType, ticket *domain.Ticket, actor, action string) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		Type:       eventType,
		TicketID:   ticket.ID,
		TicketCode: ticket.Code,
		Actor:      actor,
		Action:     action,
		Version:    ticket.Version,
		OccurredAt: s.clock.Now(),
	})
}
