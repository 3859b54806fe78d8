package handlers

import (
	"errors"

	"github.com/spec-kit/helpdesk-service/internal/agent"
	"github.com/spec-kit/helpdesk-service/internal/service"
	"github.com/spec-kit/helpdesk-service/internal/worker"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// mapServiceError translates service sentinels into API errors. Anything
// unrecognised falls through to the generic mapping.
func mapServiceError(err error) error {
	var handlerErr *service.HandlerError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, service.ErrTicketNotFound):
		return apperrors.NewNotFound("ticket", nil)
	case errors.Is(err, service.ErrTicketSettled):
		return apperrors.NewConflict("ticket is already resolved or escalated", nil)
	case errors.Is(err, agent.ErrUnknownAction):
		return apperrors.NewValidationError(err.Error(), map[string]any{"allowed": agent.AllActions()})
	case errors.As(err, &handlerErr) && worker.IsPermanent(handlerErr):
		return apperrors.NewValidationError(handlerErr.Error(), map[string]any{"action": handlerErr.Action})
	}
	return apperrors.MapError(err)
}
