package resolver

import (
	"context"
	"log/slog"
	"strings"

	"github.com/donnahq/donna/pkg/executor"
	"github.com/donnahq/donna/pkg/llms"
	"github.com/donnahq/donna/pkg/protocol"
)

type noteArgs struct {
	Operation string `json:"operation" jsonschema:"required,enum=store|query|delete,description=The note operation"`
	Content   string `json:"content,omitempty" jsonschema:"description=The fact to store, phrased as a standalone statement"`
	Query     string `json:"query,omitempty" jsonschema:"description=What the user is asking to recall"`
}

var noteSchema = generateSchema[noteArgs]()

const noteSystemPrompt = `You translate one step of an assistant plan into a long-term memory operation. Messages are usually in Hebrew.

- "store" when the user tells you a fact to keep ("תזכור ש...", "תרשום ש..."). Rewrite it as a standalone statement in "content", keeping the user's language.
- "query" when they ask what you know ("מה אמרתי לך על...", "איפה שמתי..."). Put the topic in "query".
- "delete" when they ask you to forget something.`

// NotesResolver translates long-term memory plan steps.
type NotesResolver struct {
	gateway *llms.Gateway
	logger  *slog.Logger
}

// NewNotesResolver creates the memory step resolver.
func NewNotesResolver(gateway *llms.Gateway, logger *slog.Logger) *NotesResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotesResolver{gateway: gateway, logger: logger}
}

func (r *NotesResolver) Name() string                    { return "notes" }
func (r *NotesResolver) Capability() protocol.Capability { return protocol.CapabilityMemory }
func (r *NotesResolver) SystemPrompt() string            { return noteSystemPrompt }
func (r *NotesResolver) Schema() map[string]any          { return noteSchema }

func (r *NotesResolver) SupportedActions() []string {
	return []string{executor.OpStore, executor.OpQuery, executor.OpDelete}
}

func (r *NotesResolver) Resolve(ctx context.Context, in *Input) (*Output, error) {
	args := map[string]any{}
	err := r.gateway.CompleteJSON(ctx, llms.Request{Messages: buildMessages(r, in, "")}, &args)
	op, _ := args["operation"].(string)

	if err != nil || !supportedOperation(op, r.SupportedActions()) {
		if err != nil {
			r.logger.Warn("Notes resolver LLM call failed, using keyword fallback", "error", err)
		} else {
			r.logger.Warn("Notes resolver emitted unknown operation, using keyword fallback", "operation", op)
		}
		op = r.fallbackOperation(in.Step.Constraints.RawMessage)
		args = map[string]any{"operation": op}
		if op == executor.OpQuery {
			args["query"] = in.Step.Constraints.RawMessage
		} else {
			args["content"] = in.Step.Constraints.RawMessage
		}
	}

	args[EntityTypeKey] = executor.DomainNote
	return &Output{
		StepID:     in.Step.ID,
		Type:       OutputExecute,
		Args:       args,
		EntityType: executor.DomainNote,
	}, nil
}

func (r *NotesResolver) fallbackOperation(message string) string {
	lower := strings.ToLower(message)
	if containsAny(lower, "מה אמרתי", "מה רשמת", "איפה", "מה אתה יודע", "what did i", "where did i", "recall") {
		return executor.OpQuery
	}
	return executor.OpStore
}

var _ Resolver = (*NotesResolver)(nil)
