package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-engine/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-engine/internal/auth"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	tickets := app.Group("/tickets", cfg.AuthMiddleware.Handle)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/code/:code", cfg.Tickets.GetTicketByCode)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Patch("/:id", cfg.Tickets.MutateTicket)
	tickets.Get("/:id/sla", cfg.Tickets.GetSLA)
	tickets.Delete("/:id/timeline/:index", cfg.Tickets.DeleteTimelineEntry)
	tickets.Post("/:id/transfer", auth.RequireRole(domain.RoleAgent), cfg.Tickets.Transfer)
	tickets.Post("/:id/admin-transfer", auth.RequireAdmin(), cfg.Tickets.AdminTransfer)
	tickets.Post("/:id/feedback", cfg.Tickets.SubmitFeedback)

	admin := app.Group("/admin", cfg.AuthMiddleware.Handle, auth.RequireAdmin())
	admin.Get("/sla/breaches", cfg.Tickets.BreachReport)
}
