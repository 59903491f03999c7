package planner

import (
	"context"
	"log/slog"

	"github.com/donnahq/donna/pkg/config"
	"github.com/donnahq/donna/pkg/llms"
	"github.com/donnahq/donna/pkg/protocol"
	"github.com/donnahq/donna/pkg/routing"
)

// FallbackConfidence is assigned to deterministically derived plans so
// they pass the confidence gate (the fallback is conservative by
// construction).
const FallbackConfidence = 0.7

// Planner produces a PlanOutput for each turn via a single JSON-mode
// LLM call, falling back to a deterministic routing-derived plan when
// the call fails.
type Planner struct {
	gateway *llms.Gateway
	cfg     config.PlannerConfig
	logger  *slog.Logger
}

// New creates a Planner.
func New(gateway *llms.Gateway, cfg config.PlannerConfig, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{gateway: gateway, cfg: cfg, logger: logger}
}

// Plan analyzes the turn and returns a normalized PlanOutput. Never
// returns an error: LLM failures degrade to the deterministic fallback.
func (p *Planner) Plan(ctx context.Context, in *Input) *PlanOutput {
	req := llms.Request{
		Messages:    buildMessages(in),
		Temperature: &p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxTokens,
	}

	var out PlanOutput
	if err := p.gateway.CompleteJSON(ctx, req, &out); err != nil {
		p.logger.Warn("Planner LLM call failed, using routing fallback", "error", err)
		return p.Fallback(in)
	}

	Normalize(&out, in.EffectiveMessage(), p.logger)

	if err := validateStructure(&out); err != nil {
		p.logger.Warn("Planner output failed structural validation, using routing fallback", "error", err)
		return p.Fallback(in)
	}
	return &out
}

// Fallback derives a single-step plan from routing hints and keyword
// risk inference.
func (p *Planner) Fallback(in *Input) *PlanOutput {
	message := in.EffectiveMessage()

	capability := protocol.CapabilityGeneral
	if len(in.Hints) > 0 {
		capability = in.Hints[0].Capability
	} else if top := routing.Top(message); top != protocol.CapabilityGeneral {
		capability = top
	}

	risk := InferRisk(message)
	out := &PlanOutput{
		IntentType:    IntentOperation,
		Confidence:    FallbackConfidence,
		RiskLevel:     risk,
		NeedsApproval: risk == RiskHigh,
		Plan: []PlanStep{{
			ID:         "A",
			Capability: capability,
			ActionHint: "handle the user's request",
			Constraints: StepConstraints{
				RawMessage: message,
			},
		}},
	}
	if capability == protocol.CapabilityGeneral {
		out.IntentType = IntentConversation
	}
	if capability == protocol.CapabilityMeta {
		out.IntentType = IntentMeta
	}
	return out
}
