package http

import (
	stdhttp "net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/helpdesk-service/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-service/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	KB             *handlers.KBHandler
	Jobs           *handlers.JobsHandler
	AuthMiddleware *auth.AuthMiddleware
	// Metrics is mounted at MetricsPath when set.
	Metrics     stdhttp.Handler
	MetricsPath string
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		app.Get(path, adaptor.HTTPHandler(cfg.Metrics))
	}

	tickets := app.Group("/tickets", cfg.AuthMiddleware.Handle, auth.RequireAuthenticated())
	tickets.Post("/", auth.RequireReporter(), cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Post("/:id/reprocess", cfg.Tickets.Reprocess)
	tickets.Post("/:id/ask-again", cfg.Tickets.AskAgain)
	tickets.Post("/:id/actions", auth.RequireStaff(auth.RoleSupport, auth.RoleAdmin), cfg.Tickets.ForceAction)

	kb := app.Group("/kb", cfg.AuthMiddleware.Handle, auth.RequireAuthenticated())
	kb.Get("/search", cfg.KB.Search)
	kb.Get("/articles/:id", cfg.KB.Article)

	if cfg.Jobs != nil {
		jobs := app.Group("/jobs", cfg.AuthMiddleware.Handle, auth.RequireAuthenticated())
		jobs.Get("/:id", cfg.Jobs.Get)
	}
}
