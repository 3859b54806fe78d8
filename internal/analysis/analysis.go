// Package analysis talks to the external service that scores a ticket and
// proposes an action.
package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// Analyzer returns a structured analysis for a ticket.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*domain.AnalysisResult, error)
}

// Request is the payload sent to the analysis service.
type Request struct {
	TicketID    string     `json:"ticket_id"`
	IssueType   string     `json:"issue_type"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Tags        []string   `json:"tags"`
	User        UserDetail `json:"user"`
}

// UserDetail is the minimal descriptor of the ticket owner.
type UserDetail struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Department string `json:"department"`
}

// NewRequest builds the payload from a ticket and its owner. A nil user sends
// only the id.
func NewRequest(ticket *domain.Ticket, user *domain.User) Request {
	req := Request{
		TicketID:    ticket.ID,
		IssueType:   ticket.IssueType,
		Description: ticket.Description,
		Category:    string(ticket.Category),
		Tags:        ticket.Tags,
		User:        UserDetail{ID: ticket.UserID},
	}
	if req.Tags == nil {
		req.Tags = []string{}
	}
	if user != nil {
		req.User.Name = user.DisplayName()
		req.User.Department = user.Department
	}
	return req
}

// TransientError covers network failures, timeouts, non-2xx answers and
// unparseable bodies. Callers retry it.
type TransientError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	var b strings.Builder
	b.WriteString("analysis ")
	b.WriteString(e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}
