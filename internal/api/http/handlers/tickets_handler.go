package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/agent"
	"github.com/spec-kit/helpdesk-service/internal/api/dto"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/service"
	"github.com/spec-kit/helpdesk-service/internal/worker"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// TicketService is the part of service.TicketService the API drives.
type TicketService interface {
	CreateTicket(ctx context.Context, userID string, input service.TicketCreateInput) (*domain.Ticket, worker.EnqueueStatus, error)
	GetTicket(ctx context.Context, id string) (*service.TicketDetail, error)
	ListTickets(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error)
	Reprocess(ctx context.Context, id string, reset bool, threadTS, source string) (worker.EnqueueStatus, error)
	AskAgain(ctx context.Context, id, threadTS string) (worker.EnqueueStatus, error)
	ForceAction(ctx context.Context, id string, action agent.Action, actor events.Actor) (*domain.Ticket, error)
}

// TicketsHandler manages ticket endpoints for end users and staff.
type TicketsHandler struct {
	service TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService TicketService) *TicketsHandler {
	return &TicketsHandler{service: ticketService}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.User == nil {
		return apperrors.NewUnauthorized("user required")
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.Description) == "" {
		return apperrors.NewValidationError("description required", nil)
	}

	ticket, status, err := h.service.CreateTicket(c.UserContext(), principal.User.ID, service.TicketCreateInput{
		IssueType:     req.IssueType,
		Description:   req.Description,
		Category:      req.Category,
		Priority:      req.Priority,
		Tags:          req.Tags,
		ScreenshotURL: req.ScreenshotURL,
		ThreadTS:      req.ThreadTS,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.CreateTicketResponse{
		Ticket:     dto.NewTicketSummary(ticket),
		Processing: status,
	}})
}

// ListTickets GET /tickets. End users see their own tickets; staff may filter.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	filter, err := parseTicketQuery(c)
	if err != nil {
		return err
	}
	if !principal.IsStaff() {
		filter.UserID = &principal.User.ID
	}
	tickets, err := h.service.ListTickets(c.UserContext(), filter)
	if err != nil {
		return mapServiceError(err)
	}
	items := make([]dto.TicketSummary, 0, len(tickets))
	for i := range tickets {
		items = append(items, dto.NewTicketSummary(&tickets[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	detail, err := h.authorize(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketDetail(detail.Ticket, detail.Interactions, detail.Solution)})
}

// Reprocess POST /tickets/:id/reprocess?reset=true.
func (h *TicketsHandler) Reprocess(c *fiber.Ctx) error {
	detail, err := h.authorize(c)
	if err != nil {
		return err
	}
	status, err := h.service.Reprocess(c.UserContext(), detail.Ticket.ID, c.QueryBool("reset", false), "", "")
	if err != nil {
		return mapServiceError(err)
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{"data": status})
}

// AskAgain POST /tickets/:id/ask-again.
func (h *TicketsHandler) AskAgain(c *fiber.Ctx) error {
	detail, err := h.authorize(c)
	if err != nil {
		return err
	}
	var req dto.AskAgainRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	status, err := h.service.AskAgain(c.UserContext(), detail.Ticket.ID, req.ThreadTS)
	if err != nil {
		return mapServiceError(err)
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{"data": status})
}

// ForceAction POST /tickets/:id/actions.
func (h *TicketsHandler) ForceAction(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || !principal.IsStaff() {
		return apperrors.NewForbidden("staff required")
	}
	var req dto.ForceActionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	action, err := agent.ParseAction(strings.TrimSpace(req.Action))
	if err != nil {
		return mapServiceError(err)
	}
	staffID := principal.SubjectID
	ticket, err := h.service.ForceAction(c.UserContext(), c.Params("id"), action, events.Actor{
		Type:   domain.SubjectTypeStaff,
		UserID: &staffID,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketSummary(ticket)})
}

// authorize loads the ticket named in the path and checks the caller may see it.
func (h *TicketsHandler) authorize(c *fiber.Ctx) (*service.TicketDetail, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	detail, err := h.service.GetTicket(c.UserContext(), c.Params("id"))
	if err != nil {
		return nil, mapServiceError(err)
	}
	if !principal.CanAccessTicket(detail.Ticket.UserID) {
		// owners of other tickets learn nothing about existence
		return nil, apperrors.NewNotFound("ticket", map[string]any{"id": c.Params("id")})
	}
	return detail, nil
}

func parseTicketQuery(c *fiber.Ctx) (repository.TicketFilter, error) {
	filter := repository.TicketFilter{}
	for _, part := range splitQuery(c.Query("status")) {
		filter.Statuses = append(filter.Statuses, domain.TicketStatus(part))
	}
	for _, part := range splitQuery(c.Query("priority")) {
		filter.Priorities = append(filter.Priorities, domain.ParsePriority(part))
	}
	for _, part := range splitQuery(c.Query("category")) {
		filter.Categories = append(filter.Categories, domain.ParseCategory(part))
	}
	if raw := c.Query("processed"); raw != "" {
		processed, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, apperrors.NewValidationError("processed must be a boolean", nil)
		}
		filter.Processed = &processed
	}
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 20)
	if pageSize > 100 {
		pageSize = 100
	}
	filter.Offset = (page - 1) * pageSize
	filter.Limit = pageSize
	return filter, nil
}

func splitQuery(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
