package pipeline

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/donnahq/donna/pkg/entity"
	"github.com/donnahq/donna/pkg/planner"
	"github.com/donnahq/donna/pkg/protocol"
	"github.com/donnahq/donna/pkg/resolver"
)

// StepResult is the per-step execution record carried in the turn state
// and used by the response composer.
type StepResult struct {
	StepID     string              `json:"step_id"`
	Capability protocol.Capability `json:"capability"`
	Operation  string              `json:"operation"`
	Success    bool                `json:"success"`

	// Text is the user-facing text for conversational steps.
	Text string `json:"text,omitempty"`

	// Data is whatever the executor returned.
	Data map[string]any `json:"data,omitempty"`

	Error string `json:"error,omitempty"`
}

// PendingStep pins a suspended step to the exact candidates that were
// shown to the user, so the selection resolves against what they saw.
type PendingStep struct {
	StepID         string                 `json:"step_id"`
	EntityType     string                 `json:"entity_type"`
	Args           map[string]any         `json:"args"`
	Disambiguation *entity.Disambiguation `json:"disambiguation,omitempty"`
}

// State is the full serializable turn state. It is checkpointed on
// interrupt and restored on resume.
type State struct {
	TurnID   string                   `json:"turn_id"`
	UserID   string                   `json:"user_id"`
	Message  protocol.InboundMessage  `json:"message"`
	Language protocol.Language        `json:"language"`
	Now      time.Time                `json:"now"`

	Plan *planner.PlanOutput `json:"plan,omitempty"`

	// Clarification is the user's answer to an intent-unclear interrupt,
	// injected into the replan.
	Clarification string `json:"clarification,omitempty"`

	// GatePassed is set once the user confirmed or approved, so the
	// resumed turn does not ask again.
	GatePassed bool `json:"gate_passed,omitempty"`

	Interrupt   *protocol.InterruptPayload  `json:"interrupt,omitempty"`
	PendingStep *PendingStep                `json:"pending_step,omitempty"`
	Resolved    map[string]*resolver.Output `json:"resolved,omitempty"`
	Results     map[string]*StepResult      `json:"results,omitempty"`
	Completed   map[string]bool             `json:"completed,omitempty"`

	// resultsMu guards the maps above while a batch runs in parallel.
	resultsMu sync.Mutex
}

// Marshal serializes the state for checkpointing.
func (s *State) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalState restores a checkpointed state.
func UnmarshalState(data []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.Resolved == nil {
		s.Resolved = make(map[string]*resolver.Output)
	}
	if s.Results == nil {
		s.Results = make(map[string]*StepResult)
	}
	if s.Completed == nil {
		s.Completed = make(map[string]bool)
	}
	return &s, nil
}
