package planner

import (
	"fmt"
	"strings"

	"github.com/donnahq/donna/pkg/llms"
	"github.com/donnahq/donna/pkg/protocol"
)

const plannerSystemPrompt = `You are the planning stage of a personal assistant that manages the user's calendar, tasks, email, and notes over chat. Messages are usually in Hebrew, sometimes English.

Analyze the user's message and produce a JSON plan. Respond with ONLY a JSON object of this shape:

{
  "intentType": "operation" | "conversation" | "meta",
  "confidence": 0.0-1.0,
  "riskLevel": "low" | "medium" | "high",
  "needsApproval": true | false,
  "missingFields": ["intent_unclear" | "target_unclear" | "time_unclear" | "which_one" | "integration_missing"],
  "plan": [
    {
      "id": "A",
      "capability": "calendar" | "taskStore" | "email" | "memory" | "general" | "meta",
      "actionHint": "short verb phrase describing the step",
      "constraints": {"rawMessage": "<the user's message>", "extractedInfo": {}},
      "changes": {},
      "dependsOn": []
    }
  ]
}

Rules:
- A list of items with the SAME operation becomes ONE step, never one step per item.
- DIFFERENT operations or different capabilities become SEPARATE steps.
- Set dependsOn only when a step needs another step's RESULT (find-then-act). Independent steps stay parallel.
- riskLevel: low for create/read, medium for update/move, high for delete, send-email, or bulk delete. needsApproval is true exactly when any step is high risk.
- Emit target_unclear only when the user wants to delete or modify items AND gave neither names nor a time window.
- intentType "conversation" with an empty plan is for small talk with nothing to do.
- Step ids are A, B, C... in order.`

// buildMessages renders the planner prompt for one turn.
func buildMessages(in *Input) []llms.ChatMessage {
	var sb strings.Builder

	sb.WriteString(in.Time.PromptLine())
	sb.WriteString("\n")

	if len(in.Capabilities) > 0 {
		var caps []string
		for _, c := range []protocol.Capability{
			protocol.CapabilityCalendar, protocol.CapabilityTaskStore,
			protocol.CapabilityEmail, protocol.CapabilityMemory,
		} {
			if in.Capabilities[c] {
				caps = append(caps, string(c))
			}
		}
		fmt.Fprintf(&sb, "Connected integrations: %s\n", strings.Join(caps, ", "))
	}

	if len(in.Hints) > 0 {
		sb.WriteString("Routing hints (deterministic keyword match, use as priors):\n")
		for _, h := range in.Hints {
			fmt.Fprintf(&sb, "- %s (score %.1f)\n", h.Capability, h.Score)
		}
	}

	if len(in.RecentMessages) > 0 {
		sb.WriteString("Recent conversation:\n")
		for _, msg := range in.RecentMessages {
			fmt.Fprintf(&sb, "[%s] %s\n", msg.Role, msg.Content)
		}
	}

	userTurn := in.EffectiveMessage()
	if in.Clarification != "" {
		userTurn = fmt.Sprintf("%s\n\nThe user clarified their intent: %s", userTurn, in.Clarification)
	}

	return []llms.ChatMessage{
		{Role: llms.RoleSystem, Content: plannerSystemPrompt},
		{Role: llms.RoleSystem, Content: sb.String()},
		{Role: llms.RoleUser, Content: userTurn},
	}
}
