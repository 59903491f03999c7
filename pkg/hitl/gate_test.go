package hitl_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donnahq/donna/pkg/config"
	"github.com/donnahq/donna/pkg/entity"
	"github.com/donnahq/donna/pkg/hitl"
	"github.com/donnahq/donna/pkg/planner"
	"github.com/donnahq/donna/pkg/protocol"
	"github.com/donnahq/donna/pkg/routing"
)

func newGate() *hitl.Gate {
	cfg := config.HITLConfig{
		InterruptTimeout:         15 * time.Minute,
		MaxDisambiguationOptions: 5,
	}
	// nil gateway forces the template path, which is what the tests
	// assert against.
	return hitl.NewGate(nil, cfg, 0.7, nil)
}

func planOf(confidence float64) *planner.PlanOutput {
	return &planner.PlanOutput{
		IntentType: planner.IntentOperation,
		Confidence: confidence,
		RiskLevel:  planner.RiskLow,
		Plan: []planner.PlanStep{{
			ID:         "A",
			Capability: protocol.CapabilityCalendar,
			ActionHint: "create a meeting",
		}},
	}
}

func check(p *planner.PlanOutput) hitl.PlanCheck {
	return hitl.PlanCheck{
		Plan:        p,
		UserMessage: "תעשה משהו עם זה",
		Language:    protocol.LanguageHebrew,
		Hints:       routing.Suggest("תקבע פגישה"),
	}
}

func TestCheckPlan_ConfidenceAtThresholdPasses(t *testing.T) {
	g := newGate()
	out := g.CheckPlan(context.Background(), check(planOf(0.7)))
	assert.Nil(t, out)
}

func TestCheckPlan_ConfidenceBelowThresholdAsksClarification(t *testing.T) {
	g := newGate()
	out := g.CheckPlan(context.Background(), check(planOf(0.69)))
	require.NotNil(t, out)
	assert.Equal(t, protocol.InterruptClarification, out.Type)
	assert.NotEmpty(t, out.Question)
	assert.False(t, out.Metadata.InterruptedAt.IsZero())
}

func TestClarifyError_AsksToRephrase(t *testing.T) {
	g := newGate()
	out := g.ClarifyError(protocol.LanguageHebrew)
	require.NotNil(t, out)
	assert.Equal(t, protocol.InterruptClarification, out.Type)
	assert.Contains(t, out.Question, "לנסח")
	assert.False(t, out.Metadata.InterruptedAt.IsZero())
}

func TestCheckPlan_IntentUnclearFieldWinsOverConfidence(t *testing.T) {
	g := newGate()
	p := planOf(0.95)
	p.MissingFields = []string{planner.MissingIntentUnclear}
	out := g.CheckPlan(context.Background(), check(p))
	require.NotNil(t, out)
	assert.Equal(t, protocol.InterruptIntentUnclear, out.Type)
}

func TestCheckPlan_OtherMissingFieldAsksClarification(t *testing.T) {
	g := newGate()
	p := planOf(0.9)
	p.MissingFields = []string{planner.MissingTimeUnclear}
	out := g.CheckPlan(context.Background(), check(p))
	require.NotNil(t, out)
	assert.Equal(t, protocol.InterruptClarification, out.Type)
	assert.Equal(t, "למתי בדיוק התכוונת?", out.Question)
}

func TestCheckPlan_HighRiskAsksConfirmation(t *testing.T) {
	g := newGate()
	p := planOf(0.9)
	p.RiskLevel = planner.RiskHigh
	out := g.CheckPlan(context.Background(), check(p))
	require.NotNil(t, out)
	assert.Equal(t, protocol.InterruptConfirmation, out.Type)
	assert.Contains(t, out.Question, "רק לוודא")
}

func TestCheckPlan_NeedsApprovalAsksApproval(t *testing.T) {
	g := newGate()
	p := planOf(0.9)
	p.NeedsApproval = true
	out := g.CheckPlan(context.Background(), check(p))
	require.NotNil(t, out)
	assert.Equal(t, protocol.InterruptApproval, out.Type)
}

func TestCheckPlan_CleanPlanProceeds(t *testing.T) {
	g := newGate()
	assert.Nil(t, g.CheckPlan(context.Background(), check(planOf(0.9))))
}

func TestCheckResolution_DisambiguationCapsOptions(t *testing.T) {
	g := newGate()
	var candidates []entity.Candidate
	for i := 0; i < 8; i++ {
		candidates = append(candidates, entity.Candidate{
			ID:          fmt.Sprintf("e%d", i),
			DisplayText: fmt.Sprintf("פגישה %d", i),
		})
	}
	out := g.CheckResolution("A", "calendar_event", entity.Resolution{
		Disambiguation: &entity.Disambiguation{
			Candidates:    candidates,
			Question:      "לאיזו פגישה התכוונת?",
			AllowMultiple: true,
		},
	}, protocol.LanguageHebrew)

	require.NotNil(t, out)
	assert.Equal(t, protocol.InterruptDisambiguation, out.Type)
	assert.Len(t, out.Options, 5)
	assert.Len(t, out.Metadata.Candidates, 5)
	assert.Contains(t, out.Question, "1. פגישה 0")
	assert.Contains(t, out.Question, "5. פגישה 4")
	assert.Contains(t, out.Question, "הכל")
	assert.Equal(t, "A", out.Metadata.StepID)
	assert.Equal(t, "calendar_event", out.Metadata.EntityType)
}

func TestCheckResolution_NotFoundAndClarify(t *testing.T) {
	g := newGate()

	out := g.CheckResolution("A", "calendar_event", entity.Resolution{
		NotFound: &entity.NotFound{Error: "no matching event", SearchedFor: "פגישה עם רון"},
	}, protocol.LanguageHebrew)
	require.NotNil(t, out)
	assert.Equal(t, protocol.InterruptClarification, out.Type)
	assert.Contains(t, out.Question, "פגישה עם רון")

	out = g.CheckResolution("A", "task", entity.Resolution{
		ClarifyQuery: &entity.ClarifyQuery{Error: "query too vague"},
	}, protocol.LanguageHebrew)
	require.NotNil(t, out)
	assert.Equal(t, protocol.InterruptClarification, out.Type)

	out = g.CheckResolution("A", "task", entity.Resolution{
		Resolved: &entity.Resolved{ResolvedIDs: []string{"t1"}},
	}, protocol.LanguageHebrew)
	assert.Nil(t, out)
}

func TestExpired(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	g := hitl.NewGate(nil, config.HITLConfig{InterruptTimeout: 15 * time.Minute, MaxDisambiguationOptions: 5},
		0.7, nil, hitl.WithClock(func() time.Time { return now }))

	p := g.CheckPlan(context.Background(), check(planOf(0.1)))
	require.NotNil(t, p)
	assert.False(t, g.Expired(p))

	now = now.Add(16 * time.Minute)
	assert.True(t, g.Expired(p))
}

func TestParseAnswer(t *testing.T) {
	tests := []struct {
		in      string
		kind    hitl.AnswerKind
		numbers []int
	}{
		{"כן", hitl.AnswerYes, nil},
		{"  בטח ", hitl.AnswerYes, nil},
		{"yes", hitl.AnswerYes, nil},
		{"לא", hitl.AnswerNo, nil},
		{"nope", hitl.AnswerNo, nil},
		{"2", hitl.AnswerNumbers, []int{2}},
		{"1,3", hitl.AnswerNumbers, []int{1, 3}},
		{"1 ו3", hitl.AnswerNumbers, []int{1, 3}},
		{"הפגישה של יום שלישי", hitl.AnswerText, nil},
		{"1 בערך", hitl.AnswerText, nil},
	}
	for _, tt := range tests {
		a := hitl.ParseAnswer(tt.in)
		assert.Equal(t, tt.kind, a.Kind, tt.in)
		if tt.numbers != nil {
			assert.Equal(t, tt.numbers, a.Numbers, tt.in)
		}
	}
}
