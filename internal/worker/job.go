package worker

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind identifies the handler a job is routed to.
type Kind string

const (
	KindProcessTicket Kind = "process_ticket"
	KindFollowupCheck Kind = "followup_check"
)

// State is the lifecycle position of one job.
type State string

const (
	StateQueued          State = "QUEUED"
	StateRunning         State = "RUNNING"
	StateSucceeded       State = "SUCCEEDED"
	StateFailedRetryable State = "FAILED_RETRYABLE"
	StateFailedTerminal  State = "FAILED_TERMINAL"
)

var transitions = map[State][]State{
	StateQueued:          {StateRunning},
	StateRunning:         {StateSucceeded, StateFailedRetryable, StateFailedTerminal, StateQueued},
	StateFailedRetryable: {StateQueued},
}

// ValidateTransition rejects moves the state machine does not allow.
// RUNNING -> QUEUED happens when an expired lease is redelivered.
func ValidateTransition(from, to State) error {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("invalid job transition %s -> %s", from, to)
}

// Job is one unit of background work.
type Job struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	TicketID    string          `json:"ticket_id"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	State       State           `json:"state"`
	ETA         time.Time       `json:"eta"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	LastError   string          `json:"last_error,omitempty"`

	// Lease is the claim token held by the current worker.
	Lease int64 `json:"-"`
}

// NewJob builds a queued job with a ULID id.
func NewJob(kind Kind, ticketID string, payload any, maxAttempts int, eta, now time.Time) (*Job, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", kind, err)
		}
		raw = b
	}
	if eta.IsZero() {
		eta = now
	}
	return &Job{
		ID:          ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		Kind:        kind,
		TicketID:    ticketID,
		Payload:     raw,
		MaxAttempts: maxAttempts,
		State:       StateQueued,
		ETA:         eta,
		EnqueuedAt:  now,
		UpdatedAt:   now,
	}, nil
}

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
func (j *Job) Decode(v any) error {
	if len(j.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(j.Payload, v)
}

// ProcessPayload travels with process_ticket jobs.
type ProcessPayload struct {
	ThreadTS string `json:"thread_ts,omitempty"`
	Source   string `json:"source,omitempty"`
}
