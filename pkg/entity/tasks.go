package entity

import (
	"context"
	"log/slog"
	"sort"

	"github.com/donnahq/donna/pkg/config"
	"github.com/donnahq/donna/pkg/executor"
	"github.com/donnahq/donna/pkg/fuzzy"
	"github.com/donnahq/donna/pkg/protocol"
)

// TaskResolver resolves natural-language task references against the
// task store.
type TaskResolver struct {
	executors  *executor.Registry
	matcher    *fuzzy.Matcher
	thresholds config.ThresholdsConfig
	maxOptions int
	logger     *slog.Logger
}

// NewTaskResolver creates the task entity resolver.
func NewTaskResolver(executors *executor.Registry, thresholds config.ThresholdsConfig, maxOptions int, logger *slog.Logger) *TaskResolver {
	if logger == nil {
		logger = slog.Default()
	}
	if maxOptions <= 0 {
		maxOptions = 5
	}
	return &TaskResolver{
		executors:  executors,
		matcher:    fuzzy.New(thresholds.FuzzyMatchMin),
		thresholds: thresholds,
		maxOptions: maxOptions,
		logger:     logger,
	}
}

func (r *TaskResolver) Domain() string {
	return executor.DomainTask
}

// Resolve routes by operation. Creations and bulk deletes by filter
// need no resolution; single-task mutations go through matching.
func (r *TaskResolver) Resolve(ctx context.Context, op string, args map[string]any, rctx Context) Resolution {
	if id, _ := args["taskId"].(string); id != "" {
		return Resolution{Resolved: &Resolved{ResolvedIDs: []string{id}, Args: args}}
	}

	switch op {
	case executor.OpDelete, executor.OpComplete, executor.OpUpdate:
		return r.resolveSingle(ctx, args, rctx)
	default:
		return Resolution{Resolved: &Resolved{Args: args}}
	}
}

func (r *TaskResolver) resolveSingle(ctx context.Context, args map[string]any, rctx Context) Resolution {
	query, _ := args["text"].(string)
	if query == "" {
		query, _ = args["summary"].(string)
	}
	if query == "" {
		return Resolution{ClarifyQuery: &ClarifyQuery{
			Error:       "no task description to search by",
			Suggestions: taskSuggestions(rctx.Language),
		}}
	}

	exec, err := r.executors.Get(executor.DomainTask)
	if err != nil {
		return Resolution{NotFound: &NotFound{Error: "service unavailable", SearchedFor: query}}
	}
	tasks, err := exec.List(ctx, rctx.UserID, executor.ListFilter{})
	if err != nil {
		r.logger.Warn("Task list failed during entity resolution", "error", err)
		return Resolution{NotFound: &NotFound{Error: "service unavailable", SearchedFor: query}}
	}

	var candidates []Candidate
	for _, task := range tasks {
		score := r.matcher.ScoreFields(query, task.Summary, task.Description)
		if score < r.thresholds.FuzzyMatchMin {
			continue
		}
		candidates = append(candidates, Candidate{
			ID:          task.ID,
			DisplayText: task.Summary,
			Score:       score,
			Metadata:    CandidateMetadata{Start: task.Start},
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	switch len(candidates) {
	case 0:
		return Resolution{NotFound: &NotFound{Error: "no matching tasks", SearchedFor: query}}

	case 1:
		merged := mergeArgs(args, map[string]any{"taskId": candidates[0].ID})
		return Resolution{Resolved: &Resolved{ResolvedIDs: []string{candidates[0].ID}, Args: merged}}

	default:
		if candidates[0].Score-candidates[1].Score >= r.thresholds.DisambiguationGap {
			merged := mergeArgs(args, map[string]any{"taskId": candidates[0].ID})
			return Resolution{Resolved: &Resolved{ResolvedIDs: []string{candidates[0].ID}, Args: merged}}
		}
		shown := candidates
		if len(shown) > r.maxOptions {
			shown = shown[:r.maxOptions]
		}
		return Resolution{Disambiguation: &Disambiguation{
			Candidates:    shown,
			Question:      disambiguationPrompt(rctx.Language),
			AllowMultiple: true,
		}}
	}
}

func taskSuggestions(lang protocol.Language) []string {
	if lang == protocol.LanguageHebrew {
		return []string{"אפשר לציין את שם המשימה", "אפשר לבקש לראות את הרשימה"}
	}
	return []string{"try naming the task", "try asking to see your list"}
}

var _ Resolver = (*TaskResolver)(nil)
