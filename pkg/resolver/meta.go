package resolver

import (
	"context"
	"log/slog"
	"strings"

	"github.com/donnahq/donna/pkg/protocol"
)

// Meta pseudo-operations. Like respond, they carry no executor.
const (
	OpHelp         = "help"
	OpCapabilities = "capabilities"
)

var helpTextHebrew = strings.TrimSpace(`
אני דונה, העוזרת האישית שלך. אפשר לבקש ממני:
- יומן: "תקבע פגישה עם דנה מחר ב-15:00", "מה יש לי ביום שלישי?", "תבטל את הפגישה עם רון"
- תזכורות ומשימות: "תזכיר לי להתקשר לרופא מחר בבוקר", "סיימתי את הדוח"
- זיכרון: "תזכור שהקוד לחניה הוא 4512", "מה אמרתי לך על החניה?"
- אימייל: "תשלח מייל ליואב שאני מאחר"
פשוט לכתוב בשפה חופשית.`)

var helpTextEnglish = strings.TrimSpace(`
I'm Donna, your personal assistant. You can ask me to:
- Calendar: "schedule a meeting with Dana tomorrow at 15:00", "what's on Tuesday?", "cancel the meeting with Ron"
- Reminders and tasks: "remind me to call the doctor tomorrow morning", "I finished the report"
- Memory: "remember that the parking code is 4512", "what did I tell you about parking?"
- Email: "email Yoav that I'm running late"
Just write naturally.`)

// MetaResolver answers questions about the assistant itself. No LLM
// call; the action is inferred from keywords and the reply is static.
type MetaResolver struct {
	logger *slog.Logger
}

// NewMetaResolver creates the meta resolver.
func NewMetaResolver(logger *slog.Logger) *MetaResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetaResolver{logger: logger}
}

func (r *MetaResolver) Name() string                    { return "meta" }
func (r *MetaResolver) Capability() protocol.Capability { return protocol.CapabilityMeta }
func (r *MetaResolver) SystemPrompt() string            { return "" }
func (r *MetaResolver) Schema() map[string]any          { return nil }
func (r *MetaResolver) SupportedActions() []string      { return []string{OpHelp, OpCapabilities} }

func (r *MetaResolver) Resolve(_ context.Context, in *Input) (*Output, error) {
	op := r.inferAction(in.Step.Constraints.RawMessage, in.Step.ActionHint)

	text := helpTextHebrew
	if in.Language == protocol.LanguageEnglish {
		text = helpTextEnglish
	}

	return &Output{
		StepID: in.Step.ID,
		Type:   OutputExecute,
		Args:   map[string]any{"operation": op, "text": text},
	}, nil
}

func (r *MetaResolver) inferAction(message, actionHint string) string {
	lower := strings.ToLower(message + " " + actionHint)
	if containsAny(lower, "מה אתה יודע לעשות", "מה את יודעת", "יכולות", "capabilities", "what can you do") {
		return OpCapabilities
	}
	return OpHelp
}

var _ Resolver = (*MetaResolver)(nil)
