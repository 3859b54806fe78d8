package domain

import "strings"

// AnalysisResult is the structured answer of the analysis service.
type AnalysisResult struct {
	Confidence        float64          `json:"confidence"`
	RecommendedAction string           `json:"recommended_action,omitempty"`
	Analysis          AnalysisDetails  `json:"analysis"`
	Solution          ProposedSolution `json:"solution"`
	Reasoning         string           `json:"reasoning,omitempty"`
}

// AnalysisDetails classifies the issue.
type AnalysisDetails struct {
	Severity               string   `json:"severity,omitempty"`
	Category               string   `json:"category,omitempty"`
	SuggestedTeam          string   `json:"suggested_team,omitempty"`
	ClarificationQuestions []string `json:"clarification_questions,omitempty"`
}

// ProposedSolution holds remediation steps suggested by the service.
type ProposedSolution struct {
	Steps              []string `json:"steps,omitempty"`
	SuccessProbability float64  `json:"success_probability"`
	EstimatedTime      string   `json:"estimated_time,omitempty"`
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
