package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusNew                  TicketStatus = "new"
	TicketStatusInProgress           TicketStatus = "in_progress"
	TicketStatusPendingClarification TicketStatus = "pending_clarification"
	TicketStatusAssigned             TicketStatus = "assigned"
	TicketStatusEscalated            TicketStatus = "escalated"
	TicketStatusResolved             TicketStatus = "resolved"
	TicketStatusClosed               TicketStatus = "closed"
)

// IsResolved reports whether the ticket reached a terminal-success status.
func (s TicketStatus) IsResolved() bool {
	return s == TicketStatusResolved || s == TicketStatusClosed
}

// IsSettled reports whether the pipeline must leave the ticket alone.
func (s TicketStatus) IsSettled() bool {
	return s.IsResolved() || s == TicketStatusEscalated
}

// TicketPriority enumerates urgency.
type TicketPriority string

const (
	TicketPriorityLow      TicketPriority = "low"
	TicketPriorityMedium   TicketPriority = "medium"
	TicketPriorityHigh     TicketPriority = "high"
	TicketPriorityCritical TicketPriority = "critical"
)

// ParsePriority normalizes free-form severity labels to a priority, defaulting to medium.
func ParsePriority(raw string) TicketPriority {
	switch TicketPriority(normalize(raw)) {
	case TicketPriorityLow:
		return TicketPriorityLow
	case TicketPriorityHigh:
		return TicketPriorityHigh
	case TicketPriorityCritical:
		return TicketPriorityCritical
	default:
		return TicketPriorityMedium
	}
}

// TicketCategory classifies the affected area.
type TicketCategory string

const (
	CategoryWifi     TicketCategory = "wifi"
	CategoryLaptop   TicketCategory = "laptop"
	CategoryVPN      TicketCategory = "vpn"
	CategoryPrinter  TicketCategory = "printer"
	CategoryEmail    TicketCategory = "email"
	CategorySoftware TicketCategory = "software"
	CategoryHardware TicketCategory = "hardware"
	CategoryNetwork  TicketCategory = "network"
	CategoryAccount  TicketCategory = "account"
	CategoryAccess   TicketCategory = "access"
	CategoryPhone    TicketCategory = "phone"
	CategoryServer   TicketCategory = "server"
	CategorySecurity TicketCategory = "security"
	CategoryCloud    TicketCategory = "cloud"
	CategoryStorage  TicketCategory = "storage"
	CategoryOther    TicketCategory = "other"
)

var categories = map[TicketCategory]struct{}{
	CategoryWifi: {}, CategoryLaptop: {}, CategoryVPN: {}, CategoryPrinter: {},
	CategoryEmail: {}, CategorySoftware: {}, CategoryHardware: {}, CategoryNetwork: {},
	CategoryAccount: {}, CategoryAccess: {}, CategoryPhone: {}, CategoryServer: {},
	CategorySecurity: {}, CategoryCloud: {}, CategoryStorage: {}, CategoryOther: {},
}

// ParseCategory maps raw input to a known category; unknown values become "other".
func ParseCategory(raw string) TicketCategory {
	c := TicketCategory(normalize(raw))
	if _, ok := categories[c]; ok {
		return c
	}
	return CategoryOther
}

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID                string
	ExternalKey       string
	UserID            string
	IssueType         string
	Description       string
	Category          TicketCategory
	Status            TicketStatus
	Priority          TicketPriority
	AssignedTo        *string
	AssignedTeam      *string
	Tags              []string
	ScreenshotURL     *string
	AgentResponse     *AnalysisResult
	AgentProcessed    bool
	DecisionJobID     *string
	ResolutionSummary *string
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ResolvedAt        *time.Time
	EscalatedAt       *time.Time
}
