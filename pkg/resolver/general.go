package resolver

import (
	"context"
	"log/slog"

	"github.com/donnahq/donna/pkg/llms"
	"github.com/donnahq/donna/pkg/protocol"
)

// OpRespond is the conversational reply pseudo-operation. It carries
// no executor; the orchestrator surfaces the text directly.
const OpRespond = "respond"

const generalSystemPrompt = `You are Donna, a personal assistant chatting over a messaging app. Reply to the user's message directly.

- Answer in the language the user wrote in. Most users write Hebrew.
- Be brief and warm, like a capable human assistant texting back.
- You can manage the user's calendar, reminders and tasks, send email, and remember facts for them. Mention this only when it is actually relevant.
- Never invent appointments, tasks or facts you were not given.`

// GeneralResolver handles conversational steps with a free-text reply.
type GeneralResolver struct {
	gateway *llms.Gateway
	logger  *slog.Logger
}

// NewGeneralResolver creates the conversational resolver.
func NewGeneralResolver(gateway *llms.Gateway, logger *slog.Logger) *GeneralResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &GeneralResolver{gateway: gateway, logger: logger}
}

func (r *GeneralResolver) Name() string                    { return "general" }
func (r *GeneralResolver) Capability() protocol.Capability { return protocol.CapabilityGeneral }
func (r *GeneralResolver) SystemPrompt() string            { return generalSystemPrompt }
func (r *GeneralResolver) Schema() map[string]any          { return nil }
func (r *GeneralResolver) SupportedActions() []string      { return []string{OpRespond} }

// Resolve produces the reply text itself; there is no downstream
// executor for conversation.
func (r *GeneralResolver) Resolve(ctx context.Context, in *Input) (*Output, error) {
	messages := []llms.ChatMessage{
		{Role: llms.RoleSystem, Content: generalSystemPrompt},
	}
	messages = append(messages, conversationTurns(in)...)

	text, err := r.gateway.Complete(ctx, llms.Request{Messages: messages})
	if err != nil {
		r.logger.Warn("General resolver LLM call failed, using canned reply", "error", err)
		text = cannedReply(in.Language)
	}

	return &Output{
		StepID: in.Step.ID,
		Type:   OutputExecute,
		Args:   map[string]any{"operation": OpRespond, "text": text},
	}, nil
}

// conversationTurns maps recent conversation plus the current message
// into chat turns, preserving roles so the model sees real dialogue.
func conversationTurns(in *Input) []llms.ChatMessage {
	var out []llms.ChatMessage
	recent := in.RecentMessages
	if len(recent) > maxRecentForResolver {
		recent = recent[len(recent)-maxRecentForResolver:]
	}
	for _, msg := range recent {
		role := llms.RoleUser
		if msg.Role == protocol.RoleAssistant {
			role = llms.RoleAssistant
		} else if msg.Role == protocol.RoleSystem {
			continue
		}
		out = append(out, llms.ChatMessage{Role: role, Content: msg.Content})
	}
	out = append(out, llms.ChatMessage{
		Role:    llms.RoleUser,
		Content: in.Time.PromptLine() + "\n" + in.Step.Constraints.RawMessage,
	})
	return out
}

func cannedReply(lang protocol.Language) string {
	if lang == protocol.LanguageEnglish {
		return "Sorry, I'm having trouble right now. Please try again in a moment."
	}
	return "סליחה, יש לי תקלה רגעית. נסו שוב עוד רגע."
}

var _ Resolver = (*GeneralResolver)(nil)
