package domain

import "time"

// Solution is a proposed or confirmed fix for a ticket.
type Solution struct {
	ID               string
	TicketID         string
	Steps            []string
	Worked           bool
	ConfidenceScore  *float64
	CreatedBy        *string
	VerifiedBy       *string
	VerificationDate *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
