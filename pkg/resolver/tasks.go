package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/donnahq/donna/pkg/config"
	"github.com/donnahq/donna/pkg/executor"
	"github.com/donnahq/donna/pkg/llms"
	"github.com/donnahq/donna/pkg/protocol"
)

// taskArgs is the structured operation slice for task/reminder steps.
type taskArgs struct {
	Operation  string         `json:"operation" jsonschema:"required,enum=create|createMultiple|list|update|complete|delete|deleteAll,description=The task operation"`
	Text       string         `json:"text,omitempty" jsonschema:"description=Task text or the phrase the user used to refer to it"`
	DueDate    string         `json:"dueDate,omitempty" jsonschema:"description=Due time in RFC3339 with the user's offset"`
	Reminder   string         `json:"reminder,omitempty" jsonschema:"description=Lead time before due, e.g. 0 minutes or 30 minutes"`
	Recurrence map[string]any `json:"recurrence,omitempty" jsonschema:"description=Recurrence with frequency daily|weekly|monthly|nudge and optional time/dayOfWeek/dayOfMonth"`
	Tasks      []any          `json:"tasks,omitempty" jsonschema:"description=Tasks for createMultiple with text and dueDate each"`
}

var taskSchema = generateSchema[taskArgs]()

const taskSystemPrompt = `You translate one step of an assistant plan into a single task/reminder operation. Messages are usually in Hebrew.

Operation choice:
- "create" for one reminder, "createMultiple" when one message carries several ("תזכיר לי X וגם Y" becomes one createMultiple with two tasks).
- "list" for reading the task list.
- "complete" when the user says they finished something.
- "delete" when they want a task gone, "deleteAll" for the whole list.
- "update" for changing text or due time.
- Recurring phrasing ("כל יום", "כל שבוע") goes into recurrence, not into N separate tasks.
- Resolve relative times against the current time you are given. A bare "בשמונה" in the evening context means 20:00.
- Never invent task IDs; put the user's phrase in "text".`

// Reminder-style classes from the keyword pre-analysis.
const (
	styleOneTime   = "one-time"
	styleRecurring = "recurring"
	styleNudge     = "nudge"
)

// TaskResolver translates task and reminder plan steps.
type TaskResolver struct {
	gateway *llms.Gateway
	cfg     config.ResolverConfig
	logger  *slog.Logger
}

// NewTaskResolver creates the task step resolver.
func NewTaskResolver(gateway *llms.Gateway, cfg config.ResolverConfig, logger *slog.Logger) *TaskResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskResolver{gateway: gateway, cfg: cfg, logger: logger}
}

func (r *TaskResolver) Name() string                    { return "tasks" }
func (r *TaskResolver) Capability() protocol.Capability { return protocol.CapabilityTaskStore }
func (r *TaskResolver) SystemPrompt() string            { return taskSystemPrompt }
func (r *TaskResolver) Schema() map[string]any          { return taskSchema }

func (r *TaskResolver) SupportedActions() []string {
	return []string{
		executor.OpCreate, executor.OpCreateMultiple, "list",
		executor.OpUpdate, executor.OpComplete, executor.OpDelete, executor.OpDeleteAll,
	}
}

// Resolve runs the LLM translation, advised by the keyword
// pre-analysis, with a deterministic fallback.
func (r *TaskResolver) Resolve(ctx context.Context, in *Input) (*Output, error) {
	analysis := AnalyzeTaskMessage(in.Step.Constraints.RawMessage)

	args := map[string]any{}
	err := r.gateway.CompleteJSON(ctx, llms.Request{
		Messages: buildMessages(r, in, analysis.PromptHint()),
	}, &args)
	op, _ := args["operation"].(string)

	if err != nil || !supportedOperation(op, r.SupportedActions()) {
		if err != nil {
			r.logger.Warn("Task resolver LLM call failed, using keyword fallback", "error", err)
		} else {
			r.logger.Warn("Task resolver emitted unknown operation, using keyword fallback", "operation", op)
		}
		op = analysis.Verb
		args = map[string]any{"operation": op, "text": in.Step.Constraints.RawMessage}
	}

	// Completing a reminder deletes it when the legacy behavior is on.
	if op == executor.OpComplete && r.cfg.CompleteDeletes() {
		op = executor.OpDelete
		args["operation"] = op
	}

	normalizeRecurrence(args)

	args[EntityTypeKey] = executor.DomainTask
	return &Output{
		StepID:     in.Step.ID,
		Type:       r.outputType(op),
		Args:       args,
		EntityType: executor.DomainTask,
	}, nil
}

func (r *TaskResolver) outputType(op string) OutputType {
	switch op {
	case executor.OpDelete, executor.OpComplete, executor.OpUpdate:
		return OutputNeedsEntityResolution
	default:
		return OutputExecute
	}
}

// TaskAnalysis is the keyword pre-analysis handed to the LLM as an
// advisory signal and used directly as the fallback.
type TaskAnalysis struct {
	Style      string
	StyleScore float64
	Verb       string
	VerbScore  float64
}

// PromptHint renders the analysis for the resolver prompt.
func (a TaskAnalysis) PromptHint() string {
	return fmt.Sprintf("Keyword pre-analysis (advisory): reminder style %s (%.1f), operation %s (%.1f)\n",
		a.Style, a.StyleScore, a.Verb, a.VerbScore)
}

// AnalyzeTaskMessage classifies the reminder style (one-time, recurring
// or nudge) and the CRUD verb from keyword tables.
func AnalyzeTaskMessage(message string) TaskAnalysis {
	lower := strings.ToLower(message)

	a := TaskAnalysis{Style: styleOneTime, StyleScore: 0.5}
	switch {
	case containsAny(lower, "כל יום", "כל בוקר", "כל ערב", "כל שבוע", "כל חודש", "every day", "every week", "every month", "daily", "weekly"):
		a.Style, a.StyleScore = styleRecurring, 0.9
	case containsAny(lower, "תציק לי", "תנדנד", "עד ש", "nudge", "keep reminding", "until i"):
		a.Style, a.StyleScore = styleNudge, 0.8
	}

	a.Verb, a.VerbScore = executor.OpCreate, 0.5
	switch {
	case containsAny(lower, "מחק", "תוריד", "תבטל", "delete", "remove"):
		a.Verb, a.VerbScore = executor.OpDelete, 0.9
	case containsAny(lower, "סיימתי", "ביצעתי", "עשיתי", "בוצע", "done", "finished", "completed"):
		a.Verb, a.VerbScore = executor.OpComplete, 0.9
	case containsAny(lower, "עדכן", "תשנה", "תדחה", "update", "change", "postpone"):
		a.Verb, a.VerbScore = executor.OpUpdate, 0.8
	case containsAny(lower, "מה יש לי", "מה המשימות", "הרשימה", "my list", "my tasks", "show"):
		a.Verb, a.VerbScore = "list", 0.8
	case containsAny(lower, "תזכיר", "תזכורת", "remind", "משימה", "task"):
		a.Verb, a.VerbScore = executor.OpCreate, 0.9
	}
	return a
}

// Canonical default times per recurrence frequency.
var recurrenceDefaultTimes = map[string]string{
	"daily":   "09:00",
	"weekly":  "09:00",
	"monthly": "09:00",
	"nudge":   "10:00",
}

// normalizeRecurrence coerces whatever recurrence shape the LLM emitted
// into {frequency, time, dayOfWeek?, dayOfMonth?} with default times.
func normalizeRecurrence(args map[string]any) {
	rec, ok := args["recurrence"].(map[string]any)
	if !ok || len(rec) == 0 {
		return
	}

	freq, _ := rec["frequency"].(string)
	freq = strings.ToLower(strings.TrimSpace(freq))
	switch freq {
	case "daily", "weekly", "monthly", "nudge":
	case "day", "everyday":
		freq = "daily"
	case "week":
		freq = "weekly"
	case "month":
		freq = "monthly"
	default:
		// Unrecognized frequency drops the recurrence rather than
		// creating something the user did not ask for.
		delete(args, "recurrence")
		return
	}

	normalized := map[string]any{"frequency": freq}
	if t, _ := rec["time"].(string); t != "" {
		normalized["time"] = t
	} else {
		normalized["time"] = recurrenceDefaultTimes[freq]
	}
	if freq == "weekly" {
		if dow, ok := rec["dayOfWeek"]; ok {
			normalized["dayOfWeek"] = dow
		}
	}
	if freq == "monthly" {
		if dom, ok := rec["dayOfMonth"]; ok {
			normalized["dayOfMonth"] = dom
		}
	}
	args["recurrence"] = normalized
}

var _ Resolver = (*TaskResolver)(nil)
