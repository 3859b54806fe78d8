package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated          EventType = "ticket_created"
	EventTicketResolved         EventType = "ticket_resolved"
	EventTicketEscalated        EventType = "ticket_escalated"
	EventClarificationRequested EventType = "clarification_requested"
	EventTicketAssigned         EventType = "ticket_assigned"
	EventSolutionProposed       EventType = "solution_proposed"
	EventKBArticleSynced        EventType = "kb_article_synced"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type   domain.SubjectType `json:"type"`
	UserID *string            `json:"user_id,omitempty"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// New stamps an event with a fresh id.
func New(t EventType, ticketID string, actor Actor, payload interface{}, now time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		TicketID:  ticketID,
		Actor:     actor,
		Timestamp: now,
		Payload:   payload,
	}
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	OwnerID     string                `json:"owner_id"`
	ExternalKey string                `json:"external_key"`
	Category    domain.TicketCategory `json:"category"`
	Priority    domain.TicketPriority `json:"priority"`
	IssueType   string                `json:"issue_type"`
	ThreadTS    string                `json:"thread_ts,omitempty"`
}

// AgentActionPayload accompanies every event emitted by the action executor.
// JobID scopes notification dedup; ThreadTS threads chat replies.
type AgentActionPayload struct {
	OwnerID     string         `json:"owner_id"`
	ExternalKey string         `json:"external_key"`
	JobID       string         `json:"job_id"`
	ThreadTS    string         `json:"thread_ts,omitempty"`
	Action      string         `json:"action"`
	Params      map[string]any `json:"params"`
}

// KBArticleSyncedPayload payload.
type KBArticleSyncedPayload struct {
	ArticleID string `json:"article_id"`
	JobID     string `json:"job_id,omitempty"`
}
