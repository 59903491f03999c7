package resolver

import (
	"context"
	"log/slog"
	"strings"

	"github.com/donnahq/donna/pkg/executor"
	"github.com/donnahq/donna/pkg/llms"
	"github.com/donnahq/donna/pkg/protocol"
)

// calendarArgs is the structured operation slice for calendar steps.
type calendarArgs struct {
	Operation             string   `json:"operation" jsonschema:"required,enum=create|createMultiple|list|get|update|delete|deleteByWindow|updateByWindow,description=The calendar operation"`
	Summary               string   `json:"summary,omitempty" jsonschema:"description=Event title or the phrase the user used to refer to it"`
	Start                 string   `json:"start,omitempty" jsonschema:"description=Event start in RFC3339 with the user's offset"`
	End                   string   `json:"end,omitempty" jsonschema:"description=Event end in RFC3339"`
	TimeMin               string   `json:"timeMin,omitempty" jsonschema:"description=Window start for list/window operations"`
	TimeMax               string   `json:"timeMax,omitempty" jsonschema:"description=Window end for list/window operations"`
	StartTime             string   `json:"startTime,omitempty" jsonschema:"description=Time-of-day filter HH:MM"`
	EndTime               string   `json:"endTime,omitempty" jsonschema:"description=Time-of-day filter HH:MM"`
	DayOfWeek             *int     `json:"dayOfWeek,omitempty" jsonschema:"description=Day filter Sunday=0 through Saturday=6"`
	ExcludeSummaries      []string `json:"excludeSummaries,omitempty" jsonschema:"description=Substrings of events to keep out of window operations"`
	RecurringSeriesIntent bool     `json:"recurringSeriesIntent,omitempty" jsonschema:"description=True when the user explicitly means the whole recurring series"`
	Events                []any    `json:"events,omitempty" jsonschema:"description=Events for createMultiple with summary and start each"`
}

var calendarSchema = generateSchema[calendarArgs]()

const calendarSystemPrompt = `You translate one step of an assistant plan into a single calendar operation. Messages are usually in Hebrew.

Operation choice:
- "create" for one new event, "createMultiple" for several in one message.
- "list" / "get" for reading.
- "delete" / "update" when the user names a specific event. Put the user's phrase in "summary" exactly; never invent IDs.
- "deleteByWindow" / "updateByWindow" when the user targets a time range ("clear my Friday"). Use excludeSummaries for "except" clauses.
- Set recurringSeriesIntent true only when the user says the whole series ("כל הסדרה", "every week").
- Resolve relative dates (מחר, יום שלישי) against the current time you are given.`

// CalendarResolver translates calendar plan steps.
type CalendarResolver struct {
	gateway *llms.Gateway
	logger  *slog.Logger
}

// NewCalendarResolver creates the calendar step resolver.
func NewCalendarResolver(gateway *llms.Gateway, logger *slog.Logger) *CalendarResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &CalendarResolver{gateway: gateway, logger: logger}
}

func (r *CalendarResolver) Name() string                     { return "calendar" }
func (r *CalendarResolver) Capability() protocol.Capability { return protocol.CapabilityCalendar }
func (r *CalendarResolver) SystemPrompt() string            { return calendarSystemPrompt }
func (r *CalendarResolver) Schema() map[string]any          { return calendarSchema }

func (r *CalendarResolver) SupportedActions() []string {
	return []string{
		executor.OpCreate, executor.OpCreateMultiple, "list", "get",
		executor.OpUpdate, executor.OpDelete,
		executor.OpDeleteByWindow, executor.OpUpdateByWindow,
	}
}

// Resolve runs the LLM translation with a keyword fallback.
func (r *CalendarResolver) Resolve(ctx context.Context, in *Input) (*Output, error) {
	args := map[string]any{}
	err := r.gateway.CompleteJSON(ctx, llms.Request{Messages: buildMessages(r, in, "")}, &args)
	op, _ := args["operation"].(string)

	if err != nil || !supportedOperation(op, r.SupportedActions()) {
		if err != nil {
			r.logger.Warn("Calendar resolver LLM call failed, using keyword fallback", "error", err)
		} else {
			r.logger.Warn("Calendar resolver emitted unknown operation, using keyword fallback", "operation", op)
		}
		op = r.fallbackOperation(in.Step.Constraints.RawMessage)
		args = map[string]any{"operation": op, "summary": in.Step.Constraints.RawMessage}
	}

	args[EntityTypeKey] = executor.DomainCalendarEvent
	return &Output{
		StepID:     in.Step.ID,
		Type:       r.outputType(op),
		Args:       args,
		EntityType: executor.DomainCalendarEvent,
	}, nil
}

func (r *CalendarResolver) outputType(op string) OutputType {
	switch op {
	case executor.OpDelete, executor.OpUpdate, "get",
		executor.OpDeleteByWindow, executor.OpUpdateByWindow:
		return OutputNeedsEntityResolution
	default:
		return OutputExecute
	}
}

func (r *CalendarResolver) fallbackOperation(message string) string {
	lower := strings.ToLower(message)
	switch {
	case containsAny(lower, "מחק", "תבטל", "delete", "cancel"):
		return executor.OpDelete
	case containsAny(lower, "תזיז", "תעביר", "עדכן", "move", "reschedule", "update"):
		return executor.OpUpdate
	case containsAny(lower, "מה יש", "מה מתוכנן", "what's on", "what is on", "show", "list"):
		return "list"
	default:
		return executor.OpCreate
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

var _ Resolver = (*CalendarResolver)(nil)
