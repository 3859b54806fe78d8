// Package agent holds the decision engine that maps an analysis result to an
// autonomous action. Everything here is pure: no I/O, time is passed in.
package agent

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

const (
	HighConfidence   = 0.8
	MediumConfidence = 0.6

	// followupBuffer is added on top of the estimated fix time.
	followupBuffer = 15
	// defaultMinutes applies to unparseable estimates.
	defaultMinutes = 30
	// maxEstimateMinutes bounds parsed estimates to 30 days.
	maxEstimateMinutes = 30 * 24 * 60

	defaultTeam             = "IT Support"
	defaultSeverity         = "medium"
	defaultEscalation       = "Complex issue requiring human attention"
	clarificationReason     = "Need additional information to provide accurate solution"
	defaultFixEstimate      = "30 minutes"
	unknownEstimate         = "Unknown"
	defaultRecommendation   = string(ActionRequestClarification)
	followupTimeoutReason   = "Solution did not resolve issue within expected timeframe"
	followupTimeoutPriority = "high"
)

var defaultQuestions = []string{
	"Can you provide more details about the issue?",
	"When did this problem first occur?",
	"What steps have you already tried?",
}

var (
	criticalSeverities = map[string]struct{}{"critical": {}, "high": {}}
	criticalCategories = map[string]struct{}{"security": {}, "outage": {}, "data_loss": {}}
)

// Input is the subset of an analysis result the engine reads.
type Input struct {
	Confidence             float64
	RecommendedAction      string
	SuccessProbability     float64
	EstimatedTime          string
	Steps                  []string
	Reasoning              string
	Severity               string
	Category               string
	SuggestedTeam          string
	ClarificationQuestions []string
}

// InputFromAnalysis flattens a stored analysis result. A nil result yields
// the zero input, which decides REQUEST_CLARIFICATION.
func InputFromAnalysis(r *domain.AnalysisResult) Input {
	if r == nil {
		return Input{}
	}
	return Input{
		Confidence:             r.Confidence,
		RecommendedAction:      r.RecommendedAction,
		SuccessProbability:     r.Solution.SuccessProbability,
		EstimatedTime:          r.Solution.EstimatedTime,
		Steps:                  r.Solution.Steps,
		Reasoning:              r.Reasoning,
		Severity:               r.Analysis.Severity,
		Category:               r.Analysis.Category,
		SuggestedTeam:          r.Analysis.SuggestedTeam,
		ClarificationQuestions: r.Analysis.ClarificationQuestions,
	}
}

// Decide evaluates the decision table top to bottom; the first match wins.
// A high-confidence result whose recommendation matches no high-confidence
// rule (including auto_resolve below the success threshold) asks for
// clarification instead of returning nothing.
func Decide(in Input, now time.Time) Decision {
	recommended := strings.ToLower(strings.TrimSpace(in.RecommendedAction))
	if recommended == "" {
		recommended = defaultRecommendation
	}

	switch {
	case in.Confidence >= HighConfidence:
		switch {
		case recommended == string(ActionAutoResolve) && in.SuccessProbability >= HighConfidence:
			return NewDecision(autoResolveParams(in))
		case recommended == string(ActionEscalate):
			return NewDecision(escalateParams(in))
		case recommended == string(ActionAssignToTeam):
			return NewDecision(assignParams(in))
		default:
			return NewDecision(clarificationParams(in))
		}
	case in.Confidence >= MediumConfidence:
		if recommended == string(ActionAutoResolve) {
			return NewDecision(followupParams(in, now))
		}
		return NewDecision(clarificationParams(in))
	default:
		if IsCritical(in.Severity, in.Category) {
			return NewDecision(escalateParams(in))
		}
		return NewDecision(clarificationParams(in))
	}
}

// Build constructs the parameters of a specific action from the input. It is
// used when an operator forces an action instead of letting Decide choose.
func Build(action Action, in Input, now time.Time) (Decision, error) {
	switch action {
	case ActionAutoResolve:
		return NewDecision(autoResolveParams(in)), nil
	case ActionEscalate:
		return NewDecision(escalateParams(in)), nil
	case ActionAssignToTeam:
		return NewDecision(assignParams(in)), nil
	case ActionScheduleFollowup:
		return NewDecision(followupParams(in, now)), nil
	case ActionRequestClarification:
		return NewDecision(clarificationParams(in)), nil
	case ActionCreateKBArticle:
		return NewDecision(KBArticleParams{}), nil
	}
	return Decision{}, ErrUnknownAction
}

// FollowupEscalation is the fixed decision applied when a follow-up check
// finds the ticket still open.
func FollowupEscalation(in Input) Decision {
	p := escalateParams(in)
	p.Reason = followupTimeoutReason
	p.Priority = followupTimeoutPriority
	return NewDecision(p)
}

// IsCritical reports whether severity or category demands human attention.
func IsCritical(severity, category string) bool {
	if _, ok := criticalSeverities[strings.ToLower(strings.TrimSpace(severity))]; ok {
		return true
	}
	_, ok := criticalCategories[strings.ToLower(strings.TrimSpace(category))]
	return ok
}

// ParseTimeToMinutes converts estimates such as "5 minutes", "1 hour" or
// "2 days" to minutes. The leading integer is used; without one the unit
// defaults to 30 minutes, 1 hour or 1 day. Unknown formats yield 30.
// Results are capped at 30 days.
func ParseTimeToMinutes(estimate string) int {
	s := strings.ToLower(estimate)
	var minutes int
	switch {
	case strings.Contains(s, "minute"):
		minutes = leadingInt(s, defaultMinutes)
	case strings.Contains(s, "hour"):
		minutes = leadingInt(s, 1) * 60
	case strings.Contains(s, "day"):
		minutes = leadingInt(s, 1) * 24 * 60
	default:
		minutes = defaultMinutes
	}
	return min(minutes, maxEstimateMinutes)
}

func leadingInt(s string, fallback int) int {
	start := strings.IndexFunc(s, unicode.IsDigit)
	if start < 0 {
		return fallback
	}
	end := start
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	// Long digit runs saturate so the unit multiplication cannot overflow.
	if end-start > 9 {
		return maxEstimateMinutes
	}
	n, err := strconv.Atoi(s[start:end])
	if err != nil {
		return fallback
	}
	return min(n, maxEstimateMinutes)
}

func autoResolveParams(in Input) AutoResolveParams {
	return AutoResolveParams{
		ResolutionSteps: nonNil(in.Steps),
		EstimatedTime:   orDefault(in.EstimatedTime, unknownEstimate),
		Reasoning:       in.Reasoning,
		AutoResolved:    true,
	}
}

func escalateParams(in Input) EscalateParams {
	priority := "medium"
	if IsCritical(in.Severity, in.Category) {
		priority = "high"
	}
	return EscalateParams{
		Reason:        orDefault(in.Reasoning, defaultEscalation),
		Severity:      orDefault(in.Severity, defaultSeverity),
		SuggestedTeam: orDefault(in.SuggestedTeam, defaultTeam),
		Priority:      priority,
	}
}

func assignParams(in Input) AssignParams {
	return AssignParams{
		Team:      orDefault(in.SuggestedTeam, defaultTeam),
		Reasoning: in.Reasoning,
		Priority:  orDefault(in.Severity, defaultSeverity),
	}
}

func followupParams(in Input, now time.Time) FollowupParams {
	minutes := ParseTimeToMinutes(orDefault(in.EstimatedTime, defaultFixEstimate)) + followupBuffer
	return FollowupParams{
		SolutionSteps:   nonNil(in.Steps),
		FollowupTime:    now.Add(time.Duration(minutes) * time.Minute),
		ConfidenceLevel: in.Confidence,
		AutoCheck:       true,
	}
}

func clarificationParams(in Input) ClarificationParams {
	questions := in.ClarificationQuestions
	if len(questions) == 0 {
		questions = append([]string(nil), defaultQuestions...)
	}
	return ClarificationParams{
		Questions:  questions,
		Reason:     clarificationReason,
		Confidence: in.Confidence,
	}
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
