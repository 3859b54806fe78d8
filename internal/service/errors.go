package service

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/spec-kit/helpdesk-service/internal/agent"
)

var (
	// ErrTicketNotFound ends a job without retry.
	ErrTicketNotFound = errors.New("ticket not found")
	// ErrTicketSettled rejects reprocessing of resolved, closed or escalated tickets.
	ErrTicketSettled = errors.New("ticket already settled")

	errDecisionTaken  = errors.New("ticket decided by another job")
	errTicketResolved = errors.New("ticket already resolved")
)

// HandlerError reports a failed action handler.
type HandlerError struct {
	TicketID string
	Action   agent.Action
	Err      error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("action %s on ticket %s: %v", e.Action, e.TicketID, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

func ticketNotFound(id string) error {
	return fmt.Errorf("%w: %s", ErrTicketNotFound, id)
}

// dedupKey derives the idempotency key of one side effect.
func dedupKey(parts ...string) string {
	sum := blake2b.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:16])
}
