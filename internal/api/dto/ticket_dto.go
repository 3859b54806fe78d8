package dto

import (
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/knowledge"
	"github.com/spec-kit/helpdesk-service/internal/worker"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	IssueType     string   `json:"issue_type"`
	Description   string   `json:"description"`
	Category      string   `json:"category"`
	Priority      string   `json:"priority"`
	Tags          []string `json:"tags"`
	ScreenshotURL *string  `json:"screenshot_url"`
	ThreadTS      string   `json:"thread_ts"`
}

// AskAgainRequest payload.
type AskAgainRequest struct {
	ThreadTS string `json:"thread_ts"`
}

// ForceActionRequest payload for staff overrides.
type ForceActionRequest struct {
	Action string `json:"action"`
}

// TicketSummary response.
type TicketSummary struct {
	ID             string                `json:"id"`
	ExternalKey    string                `json:"external_key"`
	UserID         string                `json:"user_id"`
	IssueType      string                `json:"issue_type"`
	Category       domain.TicketCategory `json:"category"`
	Status         domain.TicketStatus   `json:"status"`
	Priority       domain.TicketPriority `json:"priority"`
	AssignedTeam   *string               `json:"assigned_team"`
	AgentProcessed bool                  `json:"agent_processed"`
	Tags           []string              `json:"tags"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// CreateTicketResponse reports the stored ticket and whether processing was scheduled.
type CreateTicketResponse struct {
	Ticket     TicketSummary        `json:"ticket"`
	Processing worker.EnqueueStatus `json:"processing"`
}

// TicketDetailResponse provides full ticket info.
type TicketDetailResponse struct {
	TicketSummary
	Description       string                 `json:"description"`
	ScreenshotURL     *string                `json:"screenshot_url"`
	ResolutionSummary *string                `json:"resolution_summary"`
	Analysis          *domain.AnalysisResult `json:"analysis"`
	ResolvedAt        *time.Time             `json:"resolved_at"`
	EscalatedAt       *time.Time             `json:"escalated_at"`
	Interactions      []InteractionResponse  `json:"interactions"`
	Solution          *SolutionResponse      `json:"solution"`
}

// InteractionResponse is one audit trail entry.
type InteractionResponse struct {
	ID        string                 `json:"id"`
	Kind      domain.InteractionKind `json:"kind"`
	Content   string                 `json:"content"`
	CreatedAt time.Time              `json:"created_at"`
}

// SolutionResponse describes the recorded fix.
type SolutionResponse struct {
	Steps           []string  `json:"steps"`
	Worked          bool      `json:"worked"`
	ConfidenceScore *float64  `json:"confidence_score"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// KBSearchResponse lists knowledge base hits.
type KBSearchResponse struct {
	Query string            `json:"query"`
	Total int               `json:"total"`
	Items []*knowledge.Item `json:"items"`
}

// JobStatus reports where a background job stands.
type JobStatus struct {
	ID          string       `json:"id"`
	Kind        worker.Kind  `json:"kind"`
	TicketID    string       `json:"ticket_id"`
	State       worker.State `json:"state"`
	Attempt     int          `json:"attempt"`
	MaxAttempts int          `json:"max_attempts"`
	ETA         time.Time    `json:"eta"`
	EnqueuedAt  time.Time    `json:"enqueued_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	LastError   string       `json:"last_error,omitempty"`
}

// NewJobStatus maps a queue record; the payload stays internal.
func NewJobStatus(j *worker.Job) JobStatus {
	return JobStatus{
		ID:          j.ID,
		Kind:        j.Kind,
		TicketID:    j.TicketID,
		State:       j.State,
		Attempt:     j.Attempt,
		MaxAttempts: j.MaxAttempts,
		ETA:         j.ETA,
		EnqueuedAt:  j.EnqueuedAt,
		UpdatedAt:   j.UpdatedAt,
		LastError:   j.LastError,
	}
}

// NewTicketSummary maps a ticket to its summary.
func NewTicketSummary(t *domain.Ticket) TicketSummary {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	return TicketSummary{
		ID:             t.ID,
		ExternalKey:    t.ExternalKey,
		UserID:         t.UserID,
		IssueType:      t.IssueType,
		Category:       t.Category,
		Status:         t.Status,
		Priority:       t.Priority,
		AssignedTeam:   t.AssignedTeam,
		AgentProcessed: t.AgentProcessed,
		Tags:           tags,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

// NewTicketDetail maps a ticket with its trail and solution.
func NewTicketDetail(t *domain.Ticket, interactions []domain.TicketInteraction, sol *domain.Solution) TicketDetailResponse {
	resp := TicketDetailResponse{
		TicketSummary:     NewTicketSummary(t),
		Description:       t.Description,
		ScreenshotURL:     t.ScreenshotURL,
		ResolutionSummary: t.ResolutionSummary,
		Analysis:          t.AgentResponse,
		ResolvedAt:        t.ResolvedAt,
		EscalatedAt:       t.EscalatedAt,
		Interactions:      make([]InteractionResponse, 0, len(interactions)),
	}
	for _, in := range interactions {
		resp.Interactions = append(resp.Interactions, InteractionResponse{
			ID:        in.ID,
			Kind:      in.Kind,
			Content:   in.Content,
			CreatedAt: in.CreatedAt,
		})
	}
	if sol != nil {
		resp.Solution = &SolutionResponse{
			Steps:           sol.Steps,
			Worked:          sol.Worked,
			ConfidenceScore: sol.ConfidenceScore,
			UpdatedAt:       sol.UpdatedAt,
		}
	}
	return resp
}
