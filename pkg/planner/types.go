// Package planner turns an inbound message into an ordered, typed plan
// of capability-scoped steps.
package planner

import (
	"github.com/donnahq/donna/pkg/protocol"
	"github.com/donnahq/donna/pkg/routing"
	"github.com/donnahq/donna/pkg/timectx"
)

// IntentType classifies what the user wants from this turn.
type IntentType string

const (
	IntentOperation    IntentType = "operation"
	IntentConversation IntentType = "conversation"
	IntentMeta         IntentType = "meta"
)

// RiskLevel grades the blast radius of a plan.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Missing-field reasons, part of the wire contract with the HITL gate.
const (
	MissingIntentUnclear      = "intent_unclear"
	MissingTargetUnclear      = "target_unclear"
	MissingTimeUnclear        = "time_unclear"
	MissingWhichOne           = "which_one"
	MissingIntegrationMissing = "integration_missing"
)

// StepConstraints carries the raw user text plus whatever the planner
// extracted from it.
type StepConstraints struct {
	RawMessage    string         `json:"rawMessage"`
	ExtractedInfo map[string]any `json:"extractedInfo,omitempty"`
}

// PlanStep is one unit of work scoped to a single capability.
type PlanStep struct {
	ID          string              `json:"id"`
	Capability  protocol.Capability `json:"capability"`
	ActionHint  string              `json:"actionHint"`
	Constraints StepConstraints     `json:"constraints"`
	Changes     map[string]any      `json:"changes,omitempty"`
	DependsOn   []string            `json:"dependsOn,omitempty"`
}

// PlanOutput is the planner's result for one turn.
type PlanOutput struct {
	IntentType    IntentType `json:"intentType"`
	Confidence    float64    `json:"confidence"`
	RiskLevel     RiskLevel  `json:"riskLevel"`
	NeedsApproval bool       `json:"needsApproval"`
	MissingFields []string   `json:"missingFields,omitempty"`
	Plan          []PlanStep `json:"plan"`
}

// HasMissingField reports whether the plan flagged the given reason.
func (p *PlanOutput) HasMissingField(reason string) bool {
	for _, f := range p.MissingFields {
		if f == reason {
			return true
		}
	}
	return false
}

// Input is everything the planner sees for one turn.
type Input struct {
	// Message is the user's raw text.
	Message string

	// EnhancedMessage may include transcribed audio and reply context.
	// Falls back to Message when empty.
	EnhancedMessage string

	Time           timectx.Context
	Language       protocol.Language
	RecentMessages []*protocol.Message
	Capabilities   map[protocol.Capability]bool
	Hints          []routing.Hint

	// Clarification is the user's answer after an intent-unclear
	// interrupt; set only on re-plan.
	Clarification string
}

// EffectiveMessage returns the enhanced message if present.
func (in *Input) EffectiveMessage() string {
	if in.EnhancedMessage != "" {
		return in.EnhancedMessage
	}
	return in.Message
}
