// Package hitl decides when a turn must stop and ask the user, and
// builds the question it asks.
package hitl

import (
	"context"
	"log/slog"
	"time"

	"github.com/donnahq/donna/pkg/config"
	"github.com/donnahq/donna/pkg/entity"
	"github.com/donnahq/donna/pkg/llms"
	"github.com/donnahq/donna/pkg/planner"
	"github.com/donnahq/donna/pkg/protocol"
	"github.com/donnahq/donna/pkg/routing"
)

// Gate applies the pre-execution interrupt rules to a plan.
type Gate struct {
	gateway             *llms.Gateway
	cfg                 config.HITLConfig
	confidenceThreshold float64
	nowFn               func() time.Time
	logger              *slog.Logger
}

// GateOption customizes the gate.
type GateOption func(*Gate)

// WithClock overrides the gate's clock, for tests.
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.nowFn = now }
}

// NewGate creates the pre-execution gate. The confidence threshold
// comes from the planner section; the comparison is strict, so a plan
// at exactly the threshold passes.
func NewGate(gateway *llms.Gateway, cfg config.HITLConfig, confidenceThreshold float64, logger *slog.Logger, opts ...GateOption) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{
		gateway:             gateway,
		cfg:                 cfg,
		confidenceThreshold: confidenceThreshold,
		nowFn:               time.Now,
		logger:              logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// PlanCheck is what the gate sees before execution starts.
type PlanCheck struct {
	Plan        *planner.PlanOutput
	UserMessage string
	Language    protocol.Language
	Hints       []routing.Hint
}

// CheckPlan returns an interrupt when the plan must not execute yet,
// nil when it may proceed. Rules are checked in order; the first hit
// wins.
func (g *Gate) CheckPlan(ctx context.Context, in PlanCheck) *protocol.InterruptPayload {
	p := in.Plan

	if p.HasMissingField(planner.MissingIntentUnclear) {
		return g.interrupt(protocol.InterruptIntentUnclear,
			g.clarifyingQuestion(ctx, in, planner.MissingIntentUnclear), nil, protocol.InterruptMetadata{})
	}

	// Low confidence asks a clarification; intent_unclear stays reserved
	// for the planner's explicit unclear-intent outcome above.
	if p.Confidence < g.confidenceThreshold {
		g.logger.Info("Plan confidence below threshold, asking for clarification",
			"confidence", p.Confidence, "threshold", g.confidenceThreshold)
		return g.interrupt(protocol.InterruptClarification,
			g.clarifyingQuestion(ctx, in, planner.MissingIntentUnclear), nil, protocol.InterruptMetadata{})
	}

	if len(p.MissingFields) > 0 {
		return g.interrupt(protocol.InterruptClarification,
			g.clarifyingQuestion(ctx, in, p.MissingFields[0]), nil, protocol.InterruptMetadata{})
	}

	if p.RiskLevel == planner.RiskHigh {
		return g.interrupt(protocol.InterruptConfirmation,
			confirmationQuestion(in.Language, p), nil, protocol.InterruptMetadata{})
	}

	if p.NeedsApproval {
		return g.interrupt(protocol.InterruptApproval,
			approvalQuestion(in.Language, p), nil, protocol.InterruptMetadata{})
	}

	return nil
}

// CheckResolution converts a non-resolved entity resolution into the
// interrupt the transport should render, or nil for Resolved.
func (g *Gate) CheckResolution(stepID, entityType string, res entity.Resolution, lang protocol.Language) *protocol.InterruptPayload {
	meta := protocol.InterruptMetadata{StepID: stepID, EntityType: entityType}

	switch {
	case res.Disambiguation != nil:
		d := res.Disambiguation
		candidates := d.Candidates
		if len(candidates) > g.cfg.MaxDisambiguationOptions {
			candidates = candidates[:g.cfg.MaxDisambiguationOptions]
		}
		meta.Candidates = candidateRefs(candidates)
		return g.interrupt(protocol.InterruptDisambiguation,
			disambiguationQuestion(d, candidates, lang), optionTexts(candidates), meta)

	case res.NotFound != nil:
		return g.interrupt(protocol.InterruptClarification,
			notFoundQuestion(res.NotFound, lang), nil, meta)

	case res.ClarifyQuery != nil:
		return g.interrupt(protocol.InterruptClarification,
			clarifyQueryQuestion(res.ClarifyQuery, lang), nil, meta)
	}
	return nil
}

// ClarifyError interrupts with a rephrase request after an internal
// resolution failure. The error itself is logged, never shown.
func (g *Gate) ClarifyError(lang protocol.Language) *protocol.InterruptPayload {
	question := "משהו השתבש לי בהבנה. אפשר לנסח את זה שוב?"
	if lang == protocol.LanguageEnglish {
		question = "I didn't quite get that. Could you rephrase?"
	}
	return g.interrupt(protocol.InterruptClarification, question, nil, protocol.InterruptMetadata{})
}

func (g *Gate) interrupt(typ protocol.InterruptType, question string, options []string, meta protocol.InterruptMetadata) *protocol.InterruptPayload {
	meta.InterruptedAt = g.nowFn()
	return &protocol.InterruptPayload{
		Type:     typ,
		Question: question,
		Options:  options,
		Metadata: meta,
	}
}

// Expired reports whether an interrupt has outlived the configured
// interrupt timeout.
func (g *Gate) Expired(p *protocol.InterruptPayload) bool {
	return g.nowFn().Sub(p.Metadata.InterruptedAt) > g.cfg.InterruptTimeout
}

func candidateRefs(candidates []entity.Candidate) []protocol.CandidateRef {
	out := make([]protocol.CandidateRef, len(candidates))
	for i, c := range candidates {
		out[i] = protocol.CandidateRef{ID: c.ID, DisplayText: c.DisplayText}
	}
	return out
}

func optionTexts(candidates []entity.Candidate) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.DisplayText
	}
	return out
}
