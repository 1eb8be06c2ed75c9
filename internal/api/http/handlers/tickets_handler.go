package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-engine/internal/api/dto"
	"github.com/spec-kit/helpdesk-engine/internal/auth"
	"github.com/spec-kit/helpdesk-engine/internal/clock"
	"github.com/spec-kit/helpdesk-engine/internal/config"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/feed"
	"github.com/spec-kit/helpdesk-engine/internal/query"
	"github.com/spec-kit/helpdesk-engine/internal/service"
	"github.com/spec-kit/helpdesk-engine/internal/sla"
	"github.com/spec-kit/helpdesk-engine/internal/timeline"
	"github.com/spec-kit/helpdesk-engine/pkg/util"
)

// TicketsHandler manages ticket endpoints.
type TicketsHandler struct {
	service   *service.TicketService
	directory *service.DirectoryService
	snapshot  *feed.Snapshot
	clock     clock.Clock
	slaCfg    config.SLAConfig
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService, directory *service.DirectoryService, snapshot *feed.Snapshot, clk clock.Clock, slaCfg config.SLAConfig) *TicketsHandler {
	return &TicketsHandler{
		service:   ticketService,
		directory: directory,
		snapshot:  snapshot,
		clock:     clk,
		slaCfg:    slaCfg,
	}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return util.NewUnauthorized("authentication required")
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return util.NewInvalidArgument("invalid payload", nil)
	}

	ticket, err := h.service.CreateTicket(c.UserContext(), principal.Ref(), service.CreateInput{
		Title:          req.Title,
		Description:    req.Description,
		Category:       req.Category,
		Priority:       req.Priority,
		Labels:         req.Labels,
		Contact:        req.Contact,
		Github:         req.Github,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": h.detail(c, ticket)})
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return util.NewUnauthorized("authentication required")
	}

	params, err := parseListQuery(c)
	if err != nil {
		return err
	}

	tickets, _, stale := h.snapshot.View()
	now := h.clock.Now()
	engine := query.NewEngine(h.directory.Resolver(c.UserContext()), h.slaCfg.AtRiskWindow())
	result := engine.Evaluate(tickets, principal.Ref(), params, now)

	items := make([]dto.TicketSummary, 0, len(result.Items))
	for i := range result.Items {
		items = append(items, h.summary(c, &result.Items[i], now))
	}
	return c.JSON(fiber.Map{"data": dto.TicketListResponse{
		Items:    items,
		Total:    result.Total,
		Page:     result.Page,
		PageSize: query.PageSize,
		Stale:    stale,
	}})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return util.NewUnauthorized("authentication required")
	}
	ticket, err := h.service.GetTicket(c.UserContext(), principal.Ref(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.detail(c, ticket)})
}

// GetTicketByCode GET /tickets/code/:code.
func (h *TicketsHandler) GetTicketByCode(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return util.NewUnauthorized("authentication required")
	}
	ticket, err := h.service.GetTicketByCode(c.UserContext(), principal.Ref(), c.Params("code"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.detail(c, ticket)})
}

// MutateTicket PATCH /tickets/:id.
func (h *TicketsHandler) MutateTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return util.NewUnauthorized("authentication required")
	}
	var req dto.MutateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return util.NewInvalidArgument("invalid payload", nil)
	}

	ticket, err := h.service.Mutate(c.UserContext(), principal.Ref(), c.Params("id"), service.MutationInput{
		ExpectedVersion: req.ExpectedVersion,
		Status:          req.Status,
		Comment:         req.Comment,
		ReplyTo:         req.ReplyTo,
		AssignedTo:      req.AssignedTo,
		Contact:         req.Contact,
		Github:          req.Github,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.detail(c, ticket)})
}

// DeleteTimelineEntry DELETE /tickets/:id/timeline/:index.
func (h *TicketsHandler) DeleteTimelineEntry(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return util.NewUnauthorized("authentication required")
	}
	index, err := strconv.Atoi(c.Params("index"))
	if err != nil {
		return util.NewInvalidArgument("invalid entry index", nil)
	}
	ticket, err := h.service.DeleteTimelineEntry(c.UserContext(), principal.Ref(), c.Params("id"), index)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.detail(c, ticket)})
}

// Transfer POST /tickets/:id/transfer.
func (h *TicketsHandler) Transfer(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return util.NewUnauthorized("authentication required")
	}
	var req dto.TransferRequest
	if err := c.BodyParser(&req); err != nil {
		return util.NewInvalidArgument("invalid payload", nil)
	}
	ticket, err := h.service.Transfer(c.UserContext(), principal.Ref(), c.Params("id"), req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.detail(c, ticket)})
}

// AdminTransfer POST /tickets/:id/admin-transfer.
func (h *TicketsHandler) AdminTransfer(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return util.NewUnauthorized("authentication required")
	}
	var req dto.AdminTransferRequest
	if err := c.BodyParser(&req); err != nil {
		return util.NewInvalidArgument("invalid payload", nil)
	}
	if strings.TrimSpace(req.TargetUID) == "" {
		return util.NewInvalidArgument("target_uid required", nil)
	}
	ticket, err := h.service.AdminTransfer(c.UserContext(), principal.Ref(), c.Params("id"), req.TargetUID, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.detail(c, ticket)})
}

// SubmitFeedback POST /tickets/:id/feedback.
func (h *TicketsHandler) SubmitFeedback(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return util.NewUnauthorized("authentication required")
	}
	var req dto.FeedbackRequest
	if err := c.BodyParser(&req); err != nil {
		return util.NewInvalidArgument("invalid payload", nil)
	}
	ticket, err := h.service.SubmitFeedback(c.UserContext(), principal.Ref(), c.Params("id"), req.Rating, req.Feedback)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.detail(c, ticket)})
}

// GetSLA GET /tickets/:id/sla.
func (h *TicketsHandler) GetSLA(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return util.NewUnauthorized("authentication required")
	}
	ticket, err := h.service.GetTicket(c.UserContext(), principal.Ref(), c.Params("id"))
	if err != nil {
		return err
	}
	now := h.clock.Now()
	state := sla.DisplayAt(ticket, now)
	return c.JSON(fiber.Map{"data": dto.SLAStateResponse{
		Code:     ticket.Code,
		Phase:    string(state.Phase),
		Label:    state.Label,
		Bucket:   string(sla.BucketAt(ticket, now, h.slaCfg.AtRiskWindow())),
		Deadline: ticket.SLADeadline,
	}})
}

// BreachReport GET /admin/sla/breaches.
func (h *TicketsHandler) BreachReport(c *fiber.Ctx) error {
	tickets, _, _ := h.snapshot.View()
	now := h.clock.Now()

	rows := make([]dto.BreachReportRow, 0)
	for i := range tickets {
		t := &tickets[i]
		if t.Status.Terminal() {
			continue
		}
		over := now.Sub(t.SLADeadline)
		if over <= 0 {
			continue
		}
		row := dto.BreachReportRow{
			Code:     t.Code,
			Title:    t.Title,
			Priority: t.Priority,
			Overdue:  sla.FormatOverdue(over),
			Deadline: t.SLADeadline,
		}
		if t.AssignedTo != nil {
			row.AssignedTo = h.directory.ResolveDisplay(c.UserContext(), *t.AssignedTo)
		}
		rows = append(rows, row)
	}
	return c.JSON(fiber.Map{"data": rows})
}

func parseListQuery(c *fiber.Ctx) (query.Params, error) {
	params := query.Params{
		Search:       c.Query("search"),
		AssignedOnly: c.QueryBool("assigned_only"),
		Page:         c.QueryInt("page", 1),
	}

	if v := c.Query("priority"); v != "" {
		priority := domain.TicketPriority(v)
		if !priority.Valid() {
			return params, util.NewInvalidArgument("unknown priority", map[string]any{"priority": v})
		}
		params.Filters.Priority = &priority
	}
	if v := c.Query("status"); v != "" {
		status := domain.TicketStatus(v)
		if !status.Valid() {
			return params, util.NewInvalidArgument("unknown status", map[string]any{"status": v})
		}
		params.Filters.Status = &status
	}
	if v := c.Query("category"); v != "" {
		params.Filters.Category = &v
	}
	if v := c.Query("assignee"); v != "" {
		params.Filters.Assignee = &v
	}
	if v := c.Query("sla"); v != "" {
		bucket, ok := sla.ParseBucket(v)
		if !ok {
			return params, util.NewInvalidArgument("unknown sla bucket", map[string]any{"sla": v})
		}
		params.Filters.SLABucket = &bucket
	}
	if from := parseTime(c.Query("created_from")); from != nil {
		params.Filters.CreatedFrom = from
	}
	if to := parseTime(c.Query("created_to")); to != nil {
		params.Filters.CreatedTo = to
	}
	return params, nil
}

func parseTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return &parsed
		}
	}
	return nil
}

func (h *TicketsHandler) summary(c *fiber.Ctx, t *domain.Ticket, now time.Time) dto.TicketSummary {
	out := dto.TicketSummary{
		ID:        t.ID,
		Code:      t.Code,
		Title:     t.Title,
		Category:  t.Category,
		Priority:  t.Priority,
		Status:    t.Status,
		CreatedBy: h.directory.ResolveDisplay(c.UserContext(), t.CreatedBy),
		SLA:       sla.DisplayAt(t, now).Label,
		SLABucket: string(sla.BucketAt(t, now, h.slaCfg.AtRiskWindow())),
		Version:   t.Version,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
	if t.AssignedTo != nil {
		out.AssignedTo = h.directory.ResolveDisplay(c.UserContext(), *t.AssignedTo)
	}
	return out
}

func (h *TicketsHandler) detail(c *fiber.Ctx, t *domain.Ticket) dto.TicketDetailResponse {
	out := dto.TicketDetailResponse{
		TicketSummary:   h.summary(c, t, h.clock.Now()),
		Description:     t.Description,
		Labels:          t.Labels,
		Contact:         t.Contact,
		Github:          t.Github,
		Rating:          t.Rating,
		Feedback:        t.Feedback,
		ReopenCount:     t.ReopenCount,
		SLADeadline:     t.SLADeadline,
		ResolvedAt:      t.ResolvedAt,
		ClosedAt:        t.ClosedAt,
		FeedbackAt:      t.FeedbackAt,
		Timeline:        h.renderThreads(c, timeline.BuildThreads(t.Timeline)),
		TransferHistory: h.renderTransfers(c, t.TransferHistory),
	}
	return out
}

func (h *TicketsHandler) renderThreads(c *fiber.Ctx, threads []*timeline.Thread) []dto.TimelineEntryResponse {
	out := make([]dto.TimelineEntryResponse, 0, len(threads))
	for _, node := range threads {
		entry := dto.TimelineEntryResponse{
			Index:     node.Entry.Index,
			Action:    node.Entry.Action,
			Username:  node.Entry.Username,
			Comment:   node.Entry.Comment,
			Timestamp: node.Entry.Timestamp,
			ReplyTo:   node.Entry.ReplyTo,
			Replies:   h.renderThreads(c, node.Replies),
		}
		if node.Entry.Actor != nil {
			entry.Actor = h.directory.ResolveDisplay(c.UserContext(), *node.Entry.Actor)
		}
		out = append(out, entry)
	}
	return out
}

func (h *TicketsHandler) renderTransfers(c *fiber.Ctx, records []domain.TransferRecord) []dto.TransferRecordResponse {
	out := make([]dto.TransferRecordResponse, 0, len(records))
	for _, record := range records {
		out = append(out, dto.TransferRecordResponse{
			From:      h.directory.ResolveDisplay(c.UserContext(), record.FromUID),
			To:        h.directory.ResolveDisplay(c.UserContext(), record.ToUID),
			FromRole:  record.FromRole,
			ToRole:    record.ToRole,
			Reason:    record.Reason,
			Timestamp: record.Timestamp,
		})
	}
	return out
}
