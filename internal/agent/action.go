package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Action is the closed set of autonomous actions.
type Action string

const (
	ActionAutoResolve          Action = "auto_resolve"
	ActionEscalate             Action = "escalate"
	ActionRequestClarification Action = "request_clarification"
	ActionAssignToTeam         Action = "assign_to_team"
	ActionScheduleFollowup     Action = "schedule_followup"
	ActionCreateKBArticle      Action = "create_kb_article"
)

// ErrUnknownAction is returned for labels outside the closed set.
var ErrUnknownAction = errors.New("unknown agent action")

// AllActions lists every action. Handler registries are checked against it.
func AllActions() []Action {
	return []Action{
		ActionAutoResolve,
		ActionEscalate,
		ActionRequestClarification,
		ActionAssignToTeam,
		ActionScheduleFollowup,
		ActionCreateKBArticle,
	}
}

// ParseAction validates a label.
func ParseAction(label string) (Action, error) {
	for _, a := range AllActions() {
		if string(a) == label {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, label)
}

// Params is implemented only by the parameter structs of this package.
type Params interface {
	action() Action
}

// AutoResolveParams closes the ticket with the proposed solution.
type AutoResolveParams struct {
	ResolutionSteps []string `json:"resolution_steps"`
	EstimatedTime   string   `json:"estimated_time"`
	Reasoning       string   `json:"reasoning"`
	AutoResolved    bool     `json:"auto_resolved"`
}

// EscalateParams hands the ticket to humans.
type EscalateParams struct {
	Reason        string `json:"escalation_reason"`
	Severity      string `json:"severity"`
	SuggestedTeam string `json:"suggested_team"`
	Priority      string `json:"priority"`
}

// AssignParams routes the ticket to a team.
type AssignParams struct {
	Team      string `json:"assigned_team"`
	Reasoning string `json:"reasoning"`
	Priority  string `json:"priority"`
}

// FollowupParams proposes a solution and re-checks the ticket at FollowupTime.
type FollowupParams struct {
	SolutionSteps   []string  `json:"solution_steps"`
	FollowupTime    time.Time `json:"followup_time"`
	ConfidenceLevel float64   `json:"confidence_level"`
	AutoCheck       bool      `json:"auto_check"`
}

// ClarificationParams asks the owner for more information.
type ClarificationParams struct {
	Questions  []string `json:"questions"`
	Reason     string   `json:"reason"`
	Confidence float64  `json:"confidence"`
}

// KBArticleParams publishes the resolved ticket to the knowledge base.
type KBArticleParams struct{}

func (AutoResolveParams) action() Action   { return ActionAutoResolve }
func (EscalateParams) action() Action      { return ActionEscalate }
func (AssignParams) action() Action        { return ActionAssignToTeam }
func (FollowupParams) action() Action      { return ActionScheduleFollowup }
func (ClarificationParams) action() Action { return ActionRequestClarification }
func (KBArticleParams) action() Action     { return ActionCreateKBArticle }

// Decision pairs an action with its parameters.
type Decision struct {
	Action Action
	Params Params
}

// NewDecision derives the action from the parameter type.
func NewDecision(p Params) Decision {
	return Decision{Action: p.action(), Params: p}
}

// Validate reports whether Params matches Action.
func (d Decision) Validate() error {
	if d.Params == nil {
		return fmt.Errorf("decision %q has no params", d.Action)
	}
	if d.Params.action() != d.Action {
		return fmt.Errorf("decision %q carries %T", d.Action, d.Params)
	}
	return nil
}

type wireDecision struct {
	Action Action          `json:"action"`
	Params json.RawMessage `json:"params"`
}

// MarshalJSON encodes {"action": label, "params": {...}}.
func (d Decision) MarshalJSON() ([]byte, error) {
	params, err := json.Marshal(d.Params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireDecision{Action: d.Action, Params: params})
}

// UnmarshalJSON decodes the params into the struct matching the action label.
func (d *Decision) UnmarshalJSON(data []byte) error {
	var w wireDecision
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	action, err := ParseAction(string(w.Action))
	if err != nil {
		return err
	}
	params, err := decodeParams(action, w.Params)
	if err != nil {
		return fmt.Errorf("decode %s params: %w", action, err)
	}
	d.Action = action
	d.Params = params
	return nil
}

// ParseDecision builds a decision from a label and raw JSON params.
func ParseDecision(label string, raw json.RawMessage) (Decision, error) {
	action, err := ParseAction(label)
	if err != nil {
		return Decision{}, err
	}
	params, err := decodeParams(action, raw)
	if err != nil {
		return Decision{}, fmt.Errorf("decode %s params: %w", action, err)
	}
	return Decision{Action: action, Params: params}, nil
}

func decodeParams(action Action, raw json.RawMessage) (Params, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	switch action {
	case ActionAutoResolve:
		var p AutoResolveParams
		err := json.Unmarshal(raw, &p)
		return p, err
	case ActionEscalate:
		var p EscalateParams
		err := json.Unmarshal(raw, &p)
		return p, err
	case ActionAssignToTeam:
		var p AssignParams
		err := json.Unmarshal(raw, &p)
		return p, err
	case ActionScheduleFollowup:
		var p FollowupParams
		err := json.Unmarshal(raw, &p)
		return p, err
	case ActionRequestClarification:
		var p ClarificationParams
		err := json.Unmarshal(raw, &p)
		return p, err
	case ActionCreateKBArticle:
		return KBArticleParams{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
}

// ToMap returns the params as a generic map, as sent to notification templates.
func (d Decision) ToMap() map[string]any {
	out := map[string]any{}
	raw, err := json.Marshal(d.Params)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(raw, &out)
	return out
}
