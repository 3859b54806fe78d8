package domain

import "time"

// InteractionKind types an entry in the ticket audit trail.
type InteractionKind string

const (
	InteractionClarification InteractionKind = "clarification"
	InteractionFeedback      InteractionKind = "feedback"
	InteractionAgentResponse InteractionKind = "agent_response"
	InteractionUserMessage   InteractionKind = "user_message"
	InteractionAutoResolve   InteractionKind = "agent_auto_resolve"
	InteractionEscalation    InteractionKind = "agent_escalation"
)

// TicketInteraction is an append-only audit entry. DedupKey is unique per ticket
// so replayed jobs do not log the same entry twice.
type TicketInteraction struct {
	ID        string
	TicketID  string
	UserID    string
	Kind      InteractionKind
	Content   string
	DedupKey  *string
	CreatedAt time.Time
}
