package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donnahq/donna/pkg/protocol"
)

func TestInferRisk(t *testing.T) {
	tests := []struct {
		message string
		want    RiskLevel
	}{
		{"create a meeting tomorrow", RiskLow},
		{"what's on my list", RiskLow},
		{"delete the meeting with Dana", RiskHigh},
		{"מחק את הפגישה עם דנה", RiskHigh},
		{"תשלח מייל ליוסי", RiskHigh},
		{"move the meeting to Thursday", RiskMedium},
		{"תזיז את הפגישה ליום חמישי", RiskMedium},
		{"תקבע לי פגישה מחר", RiskLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, InferRisk(tt.message), "message=%q", tt.message)
	}
}

func TestNormalize_ClampsConfidence(t *testing.T) {
	out := &PlanOutput{IntentType: IntentOperation, Confidence: 1.7, Plan: []PlanStep{{Capability: protocol.CapabilityCalendar}}}
	Normalize(out, "msg", nil)
	assert.Equal(t, 1.0, out.Confidence)

	out.Confidence = -0.3
	Normalize(out, "msg", nil)
	assert.Equal(t, 0.0, out.Confidence)
}

func TestNormalize_AssignsStepIDs(t *testing.T) {
	out := &PlanOutput{
		IntentType: IntentOperation,
		RiskLevel:  RiskLow,
		Plan: []PlanStep{
			{Capability: protocol.CapabilityCalendar},
			{Capability: protocol.CapabilityTaskStore},
			{Capability: protocol.CapabilityEmail},
		},
	}
	Normalize(out, "msg", nil)
	assert.Equal(t, "A", out.Plan[0].ID)
	assert.Equal(t, "B", out.Plan[1].ID)
	assert.Equal(t, "C", out.Plan[2].ID)
}

func TestNormalize_DefaultsRawMessage(t *testing.T) {
	out := &PlanOutput{
		IntentType: IntentOperation,
		RiskLevel:  RiskLow,
		Plan:       []PlanStep{{ID: "A", Capability: protocol.CapabilityCalendar}},
	}
	Normalize(out, "תקבע פגישה מחר", nil)
	assert.Equal(t, "תקבע פגישה מחר", out.Plan[0].Constraints.RawMessage)
}

func TestNormalize_DropsUnknownDependencies(t *testing.T) {
	out := &PlanOutput{
		IntentType: IntentOperation,
		RiskLevel:  RiskLow,
		Plan: []PlanStep{
			{ID: "A", Capability: protocol.CapabilityCalendar},
			{ID: "B", Capability: protocol.CapabilityCalendar, DependsOn: []string{"A", "Z", "B"}},
		},
	}
	Normalize(out, "msg", nil)
	assert.Equal(t, []string{"A"}, out.Plan[1].DependsOn)
}

func TestNormalize_CoercesRiskAndApproval(t *testing.T) {
	out := &PlanOutput{
		IntentType: IntentOperation,
		Plan:       []PlanStep{{ID: "A", Capability: protocol.CapabilityCalendar, ActionHint: "delete matching events"}},
	}
	Normalize(out, "מחק את כל הפגישות של מחר", nil)
	assert.Equal(t, RiskHigh, out.RiskLevel)
	assert.True(t, out.NeedsApproval)
}

func TestNormalize_UnknownCapabilityBecomesGeneral(t *testing.T) {
	out := &PlanOutput{
		IntentType: IntentOperation,
		RiskLevel:  RiskLow,
		Plan:       []PlanStep{{ID: "A", Capability: "weather"}},
	}
	Normalize(out, "msg", nil)
	assert.Equal(t, protocol.CapabilityGeneral, out.Plan[0].Capability)
}

func TestNormalize_Idempotent(t *testing.T) {
	out := &PlanOutput{
		IntentType: "bogus",
		Confidence: 2.5,
		Plan: []PlanStep{
			{Capability: "unknown", DependsOn: []string{"X"}},
			{Capability: protocol.CapabilityCalendar},
		},
	}
	Normalize(out, "delete everything", nil)
	first := *out
	firstPlan := make([]PlanStep, len(out.Plan))
	copy(firstPlan, out.Plan)

	Normalize(out, "delete everything", nil)
	assert.Equal(t, first.IntentType, out.IntentType)
	assert.Equal(t, first.Confidence, out.Confidence)
	assert.Equal(t, first.RiskLevel, out.RiskLevel)
	assert.Equal(t, firstPlan, out.Plan)
}

func TestValidateStructure(t *testing.T) {
	err := validateStructure(&PlanOutput{IntentType: IntentOperation})
	assert.Error(t, err)

	err = validateStructure(&PlanOutput{
		IntentType: IntentOperation,
		Plan: []PlanStep{
			{ID: "A", DependsOn: []string{"B"}},
			{ID: "B", DependsOn: []string{"A"}},
		},
	})
	assert.Error(t, err)

	err = validateStructure(&PlanOutput{IntentType: IntentConversation})
	assert.NoError(t, err)
}

func TestTopologicalBatches(t *testing.T) {
	steps := []PlanStep{
		{ID: "A"},
		{ID: "B"},
		{ID: "C", DependsOn: []string{"A"}},
		{ID: "D", DependsOn: []string{"C", "B"}},
	}
	batches := TopologicalBatches(steps)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 2)
	assert.Equal(t, "C", batches[1][0].ID)
	assert.Equal(t, "D", batches[2][0].ID)
}
