package agent

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestDecideHighConfidenceAutoResolve(t *testing.T) {
	for _, c := range []float64{0.8, 0.85, 1} {
		for _, p := range []float64{0.8, 0.95} {
			d := Decide(Input{
				Confidence:         c,
				RecommendedAction:  "auto_resolve",
				SuccessProbability: p,
				Steps:              []string{"Restart router"},
			}, fixedNow)

			require.Equal(t, ActionAutoResolve, d.Action)
			params, ok := d.Params.(AutoResolveParams)
			require.True(t, ok)
			assert.Equal(t, []string{"Restart router"}, params.ResolutionSteps)
			assert.True(t, params.AutoResolved)
			assert.Equal(t, "Unknown", params.EstimatedTime)
		}
	}
}

func TestDecideHighConfidenceRouting(t *testing.T) {
	d := Decide(Input{Confidence: 0.9, RecommendedAction: "escalate", Severity: "low"}, fixedNow)
	require.Equal(t, ActionEscalate, d.Action)
	esc := d.Params.(EscalateParams)
	assert.Equal(t, "medium", esc.Priority)
	assert.Equal(t, "IT Support", esc.SuggestedTeam)
	assert.Equal(t, "Complex issue requiring human attention", esc.Reason)

	d = Decide(Input{Confidence: 0.9, RecommendedAction: "assign_to_team", SuggestedTeam: "Network", Severity: "high"}, fixedNow)
	require.Equal(t, ActionAssignToTeam, d.Action)
	assign := d.Params.(AssignParams)
	assert.Equal(t, "Network", assign.Team)
	assert.Equal(t, "high", assign.Priority)
}

func TestDecideHighConfidenceFallThroughRequestsClarification(t *testing.T) {
	cases := []Input{
		{Confidence: 0.9, RecommendedAction: "auto_resolve", SuccessProbability: 0.5},
		{Confidence: 0.95, RecommendedAction: "something_new"},
		{Confidence: 0.85},
	}
	for _, in := range cases {
		d := Decide(in, fixedNow)
		assert.Equal(t, ActionRequestClarification, d.Action, "input %+v", in)
	}
}

func TestDecideMediumConfidence(t *testing.T) {
	for _, c := range []float64{0.6, 0.7, 0.79} {
		d := Decide(Input{Confidence: c, RecommendedAction: "auto_resolve", EstimatedTime: "10 minutes"}, fixedNow)
		require.Equal(t, ActionScheduleFollowup, d.Action)
		p := d.Params.(FollowupParams)
		assert.True(t, p.FollowupTime.After(fixedNow))
		assert.Equal(t, fixedNow.Add(25*time.Minute), p.FollowupTime)
		assert.Equal(t, c, p.ConfidenceLevel)
		assert.True(t, p.AutoCheck)
	}

	d := Decide(Input{Confidence: 0.7, RecommendedAction: "auto_resolve"}, fixedNow)
	assert.Equal(t, fixedNow.Add(45*time.Minute), d.Params.(FollowupParams).FollowupTime)

	d = Decide(Input{Confidence: 0.7, RecommendedAction: "auto_resolve", EstimatedTime: "200000000 days"}, fixedNow)
	followup := d.Params.(FollowupParams).FollowupTime
	assert.True(t, followup.After(fixedNow))
	assert.Equal(t, fixedNow.Add((30*24*60+15)*time.Minute), followup)

	d = Decide(Input{Confidence: 0.7, RecommendedAction: "escalate", Severity: "critical"}, fixedNow)
	assert.Equal(t, ActionRequestClarification, d.Action)
}

func TestDecideLowConfidence(t *testing.T) {
	for _, rec := range []string{"auto_resolve", "escalate", "assign_to_team", ""} {
		d := Decide(Input{Confidence: 0.3, RecommendedAction: rec, Severity: "critical"}, fixedNow)
		assert.Equal(t, ActionEscalate, d.Action)
		assert.Equal(t, "high", d.Params.(EscalateParams).Priority)
	}

	d := Decide(Input{Confidence: 0.3, Severity: "low", Category: "general"}, fixedNow)
	require.Equal(t, ActionRequestClarification, d.Action)
	p := d.Params.(ClarificationParams)
	assert.Len(t, p.Questions, 3)
	assert.Equal(t, "Need additional information to provide accurate solution", p.Reason)

	d = Decide(Input{Confidence: 0.1, Category: "Data_Loss"}, fixedNow)
	assert.Equal(t, ActionEscalate, d.Action)
}

func TestDecideUsesProvidedQuestions(t *testing.T) {
	d := Decide(Input{Confidence: 0.2, ClarificationQuestions: []string{"Which floor?"}}, fixedNow)
	assert.Equal(t, []string{"Which floor?"}, d.Params.(ClarificationParams).Questions)
}

func TestParseTimeToMinutes(t *testing.T) {
	cases := map[string]int{
		"5 minutes":                    5,
		"1 hour":                       60,
		"2 days":                       2880,
		"":                             30,
		"soon":                         30,
		"a few hours":                  60,
		"minutes":                      30,
		"About 3 Days":                 4320,
		"10-15 minutes":                10,
		"45 days":                      43200,
		"999999 hours":                 43200,
		"200000000 days":               43200,
		"99999999999999999999 minutes": 43200,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseTimeToMinutes(in), in)
	}
}

func TestFollowupEscalation(t *testing.T) {
	d := FollowupEscalation(Input{Severity: "low"})
	require.Equal(t, ActionEscalate, d.Action)
	p := d.Params.(EscalateParams)
	assert.Equal(t, "Solution did not resolve issue within expected timeframe", p.Reason)
	assert.Equal(t, "high", p.Priority)
}

func TestInputFromAnalysis(t *testing.T) {
	in := InputFromAnalysis(&domain.AnalysisResult{
		Confidence:        0.9,
		RecommendedAction: "auto_resolve",
		Solution:          domain.ProposedSolution{Steps: []string{"a"}, SuccessProbability: 0.9},
		Analysis:          domain.AnalysisDetails{Category: "network"},
	})
	assert.Equal(t, ActionAutoResolve, Decide(in, fixedNow).Action)
	assert.Equal(t, ActionRequestClarification, Decide(InputFromAnalysis(nil), fixedNow).Action)
}

func TestDecisionJSON(t *testing.T) {
	d := Decide(Input{Confidence: 0.7, RecommendedAction: "auto_resolve", Steps: []string{"x"}}, fixedNow)

	raw, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"action":"schedule_followup"`)

	var back Decision
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, d.Action, back.Action)
	assert.True(t, d.Params.(FollowupParams).FollowupTime.Equal(back.Params.(FollowupParams).FollowupTime))

	var bad Decision
	err = json.Unmarshal([]byte(`{"action":"reboot_universe","params":{}}`), &bad)
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestDecisionToMapAndValidate(t *testing.T) {
	d := NewDecision(EscalateParams{Reason: "r", Priority: "high"})
	m := d.ToMap()
	assert.Equal(t, "r", m["escalation_reason"])
	assert.Equal(t, "high", m["priority"])
	assert.NoError(t, d.Validate())

	assert.Error(t, Decision{Action: ActionAutoResolve, Params: EscalateParams{}}.Validate())
	assert.Error(t, Decision{Action: ActionAutoResolve}.Validate())
}

func TestBuildCoversEveryAction(t *testing.T) {
	for _, a := range AllActions() {
		d, err := Build(a, Input{}, fixedNow)
		require.NoError(t, err)
		assert.Equal(t, a, d.Action)
		assert.NoError(t, d.Validate())
	}
	_, err := Build("nope", Input{}, fixedNow)
	assert.ErrorIs(t, err, ErrUnknownAction)
}
