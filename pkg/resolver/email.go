package resolver

import (
	"context"
	"log/slog"

	"github.com/donnahq/donna/pkg/executor"
	"github.com/donnahq/donna/pkg/llms"
	"github.com/donnahq/donna/pkg/protocol"
)

type emailArgs struct {
	Operation string `json:"operation" jsonschema:"required,enum=send,description=The email operation"`
	To        string `json:"to,omitempty" jsonschema:"description=Recipient address or the name the user used"`
	Subject   string `json:"subject,omitempty" jsonschema:"description=Subject line"`
	Body      string `json:"body,omitempty" jsonschema:"description=Message body"`
}

var emailSchema = generateSchema[emailArgs]()

const emailSystemPrompt = `You translate one step of an assistant plan into an email send operation. Messages are usually in Hebrew.

- Draft the subject and body in the language the user wrote in.
- Keep the body short and in the user's voice, not a formal template.
- If the user named a person rather than an address, put the name in "to" as-is.`

// EmailResolver translates email plan steps.
type EmailResolver struct {
	gateway *llms.Gateway
	logger  *slog.Logger
}

// NewEmailResolver creates the email step resolver.
func NewEmailResolver(gateway *llms.Gateway, logger *slog.Logger) *EmailResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailResolver{gateway: gateway, logger: logger}
}

func (r *EmailResolver) Name() string                    { return "email" }
func (r *EmailResolver) Capability() protocol.Capability { return protocol.CapabilityEmail }
func (r *EmailResolver) SystemPrompt() string            { return emailSystemPrompt }
func (r *EmailResolver) Schema() map[string]any          { return emailSchema }
func (r *EmailResolver) SupportedActions() []string      { return []string{executor.OpSend} }

func (r *EmailResolver) Resolve(ctx context.Context, in *Input) (*Output, error) {
	args := map[string]any{}
	err := r.gateway.CompleteJSON(ctx, llms.Request{Messages: buildMessages(r, in, "")}, &args)
	op, _ := args["operation"].(string)

	if err != nil || !supportedOperation(op, r.SupportedActions()) {
		if err != nil {
			r.logger.Warn("Email resolver LLM call failed, using raw message as body", "error", err)
		}
		args = map[string]any{
			"operation": executor.OpSend,
			"body":      in.Step.Constraints.RawMessage,
		}
	}

	args[EntityTypeKey] = executor.DomainEmail
	return &Output{
		StepID:     in.Step.ID,
		Type:       OutputExecute,
		Args:       args,
		EntityType: executor.DomainEmail,
	}, nil
}

var _ Resolver = (*EmailResolver)(nil)
