package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/api/dto"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/service"
	"github.com/spec-kit/helpdesk-service/internal/worker"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// JobStore reads one background job record.
type JobStore interface {
	Get(ctx context.Context, id string) (*worker.Job, error)
}

// JobsHandler reports background job progress, keyed by the job id that
// ticket creation and reprocessing return.
type JobsHandler struct {
	jobs    JobStore
	tickets TicketService
}

// NewJobsHandler constructs handler.
func NewJobsHandler(jobs JobStore, tickets TicketService) *JobsHandler {
	return &JobsHandler{jobs: jobs, tickets: tickets}
}

// Get GET /jobs/:id. Staff see every job; end users only jobs on their own tickets.
func (h *JobsHandler) Get(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	id := c.Params("id")
	notFound := apperrors.NewNotFound("job", map[string]any{"id": id})

	job, err := h.jobs.Get(c.UserContext(), id)
	if errors.Is(err, worker.ErrJobNotFound) {
		return notFound
	}
	if err != nil {
		return apperrors.NewServiceUnavailable("job queue unavailable", nil)
	}

	if !principal.IsStaff() {
		detail, err := h.tickets.GetTicket(c.UserContext(), job.TicketID)
		if errors.Is(err, service.ErrTicketNotFound) {
			return notFound
		}
		if err != nil {
			return mapServiceError(err)
		}
		if !principal.CanAccessTicket(detail.Ticket.UserID) {
			return notFound
		}
	}
	return c.JSON(fiber.Map{"data": dto.NewJobStatus(job)})
}
