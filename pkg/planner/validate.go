package planner

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/donnahq/donna/pkg/protocol"
)

var (
	highRiskPattern = regexp.MustCompile(`(?i)\b(delete|remove|cancel all|send)\b|מחק|תמחק|תבטל את כל|תשלח`)
	medRiskPattern  = regexp.MustCompile(`(?i)\b(update|move|reschedule|change|edit)\b|עדכן|תעדכן|תזיז|תעביר|תשנה`)
)

// InferRisk grades a message by its operation keywords: delete and
// send are high, update and move are medium, everything else is low.
func InferRisk(message string) RiskLevel {
	switch {
	case highRiskPattern.MatchString(message):
		return RiskHigh
	case medRiskPattern.MatchString(message):
		return RiskMedium
	default:
		return RiskLow
	}
}

// stepID returns the id for a step position: A, B, ..., Z, A1, B1, ...
func stepID(pos int) string {
	letter := rune('A' + pos%26)
	if pos < 26 {
		return string(letter)
	}
	return fmt.Sprintf("%c%d", letter, pos/26)
}

// Normalize repairs an LLM-produced plan in place. Idempotent: applying
// it twice yields the same result.
func Normalize(out *PlanOutput, rawMessage string, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	if out.Confidence < 0 {
		out.Confidence = 0
	}
	if out.Confidence > 1 {
		out.Confidence = 1
	}

	switch out.IntentType {
	case IntentOperation, IntentConversation, IntentMeta:
	default:
		out.IntentType = IntentOperation
	}

	switch out.RiskLevel {
	case RiskLow, RiskMedium, RiskHigh:
	default:
		out.RiskLevel = InferRisk(rawMessage)
	}

	ids := make(map[string]bool, len(out.Plan))
	for i := range out.Plan {
		step := &out.Plan[i]
		if step.ID == "" || ids[step.ID] {
			step.ID = stepID(i)
		}
		ids[step.ID] = true

		if !protocol.IsKnownCapability(step.Capability) {
			step.Capability = protocol.CapabilityGeneral
		}
		if strings.TrimSpace(step.Constraints.RawMessage) == "" {
			step.Constraints.RawMessage = rawMessage
		}
	}

	for i := range out.Plan {
		step := &out.Plan[i]
		kept := step.DependsOn[:0]
		for _, dep := range step.DependsOn {
			if dep == step.ID {
				logger.Warn("Dropping self-referencing dependency", "step", step.ID)
				continue
			}
			if !ids[dep] {
				logger.Warn("Dropping dependency on unknown step", "step", step.ID, "depends_on", dep)
				continue
			}
			kept = append(kept, dep)
		}
		step.DependsOn = kept
	}

	high := false
	for _, step := range out.Plan {
		if InferRisk(step.ActionHint) == RiskHigh {
			high = true
		}
	}
	if out.RiskLevel == RiskHigh {
		high = true
	}
	out.NeedsApproval = high
}

// validateStructure enforces the invariants Normalize cannot repair.
func validateStructure(out *PlanOutput) error {
	if out.IntentType == IntentOperation && len(out.Plan) == 0 {
		return fmt.Errorf("operation intent with empty plan")
	}
	if hasCycle(out.Plan) {
		return fmt.Errorf("dependency cycle in plan")
	}
	return nil
}

// hasCycle detects cycles in the dependsOn graph with a three-color DFS.
func hasCycle(steps []PlanStep) bool {
	deps := make(map[string][]string, len(steps))
	for _, s := range steps {
		deps[s.ID] = s.DependsOn
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(steps))

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, dep := range deps[id] {
			switch color[dep] {
			case gray:
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}

	for _, s := range steps {
		if color[s.ID] == white && visit(s.ID) {
			return true
		}
	}
	return false
}

// TopologicalBatches groups steps into waves where every step's
// dependencies are satisfied by earlier waves. Steps in the same wave
// are parallel-compatible.
func TopologicalBatches(steps []PlanStep) [][]PlanStep {
	remaining := make([]PlanStep, len(steps))
	copy(remaining, steps)
	done := make(map[string]bool, len(steps))

	var batches [][]PlanStep
	for len(remaining) > 0 {
		var ready, deferred []PlanStep
		for _, s := range remaining {
			ok := true
			for _, dep := range s.DependsOn {
				if !done[dep] {
					ok = false
					break
				}
			}
			if ok {
				ready = append(ready, s)
			} else {
				deferred = append(deferred, s)
			}
		}
		if len(ready) == 0 {
			// Unsatisfiable dependencies; run what is left serially so
			// the turn still completes.
			for _, s := range remaining {
				batches = append(batches, []PlanStep{s})
			}
			break
		}
		for _, s := range ready {
			done[s.ID] = true
		}
		batches = append(batches, ready)
		remaining = deferred
	}
	return batches
}
