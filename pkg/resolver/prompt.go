package resolver

import (
	"fmt"
	"strings"

	"github.com/donnahq/donna/pkg/llms"
)

// maxRecentForResolver bounds how much conversation context a resolver
// prompt carries.
const maxRecentForResolver = 5

// buildMessages assembles the standard resolver prompt: system prompt +
// schema, then time context, recent conversation, and the step itself.
func buildMessages(r Resolver, in *Input, extraHints string) []llms.ChatMessage {
	var sb strings.Builder

	sb.WriteString(in.Time.PromptLine())
	sb.WriteString("\n")

	recent := in.RecentMessages
	if len(recent) > maxRecentForResolver {
		recent = recent[len(recent)-maxRecentForResolver:]
	}
	if len(recent) > 0 {
		sb.WriteString("Recent conversation:\n")
		for _, msg := range recent {
			fmt.Fprintf(&sb, "[%s] %s\n", msg.Role, msg.Content)
		}
	}

	fmt.Fprintf(&sb, "Step action: %s\n", in.Step.ActionHint)
	fmt.Fprintf(&sb, "User message: %s\n", in.Step.Constraints.RawMessage)
	if len(in.Step.Constraints.ExtractedInfo) > 0 {
		sb.WriteString("Extracted constraints:\n")
		for k, v := range in.Step.Constraints.ExtractedInfo {
			fmt.Fprintf(&sb, "- %s: %v\n", k, v)
		}
	}
	if extraHints != "" {
		sb.WriteString(extraHints)
	}

	system := fmt.Sprintf("%s\n\nRespond with ONLY a JSON object matching this schema:\n%s",
		r.SystemPrompt(), schemaJSON(r.Schema()))

	return []llms.ChatMessage{
		{Role: llms.RoleSystem, Content: system},
		{Role: llms.RoleUser, Content: sb.String()},
	}
}
