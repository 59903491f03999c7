package entity

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/donnahq/donna/pkg/config"
	"github.com/donnahq/donna/pkg/executor"
	"github.com/donnahq/donna/pkg/fuzzy"
	"github.com/donnahq/donna/pkg/protocol"
)

// CalendarResolver resolves natural-language event references against
// the calendar executor.
type CalendarResolver struct {
	executors  *executor.Registry
	matcher    *fuzzy.Matcher
	thresholds config.ThresholdsConfig
	maxOptions int
	logger     *slog.Logger
}

// NewCalendarResolver creates the calendar entity resolver.
func NewCalendarResolver(executors *executor.Registry, thresholds config.ThresholdsConfig, maxOptions int, logger *slog.Logger) *CalendarResolver {
	if logger == nil {
		logger = slog.Default()
	}
	if maxOptions <= 0 {
		maxOptions = 5
	}
	return &CalendarResolver{
		executors:  executors,
		matcher:    fuzzy.New(thresholds.FuzzyMatchMin),
		thresholds: thresholds,
		maxOptions: maxOptions,
		logger:     logger,
	}
}

func (r *CalendarResolver) Domain() string {
	return executor.DomainCalendarEvent
}

// Resolve routes by operation. Operations that already carry an id, and
// pure creations, skip resolution entirely.
func (r *CalendarResolver) Resolve(ctx context.Context, op string, args map[string]any, rctx Context) Resolution {
	if id, _ := args["eventId"].(string); id != "" {
		return Resolution{Resolved: &Resolved{ResolvedIDs: []string{id}, Args: args}}
	}

	switch op {
	case executor.OpDelete:
		return r.resolveSingle(ctx, op, args, rctx, r.thresholds.CalendarDeleteThreshold)
	case executor.OpUpdate, "get":
		return r.resolveSingle(ctx, op, args, rctx, r.thresholds.FuzzyMatchMin)
	case executor.OpDeleteByWindow, executor.OpUpdateByWindow:
		return r.resolveByWindow(ctx, args, rctx)
	default:
		return Resolution{Resolved: &Resolved{Args: args}}
	}
}

func (r *CalendarResolver) resolveSingle(ctx context.Context, op string, args map[string]any, rctx Context, minScore float64) Resolution {
	summary, _ := args["summary"].(string)
	_, hasWindow := parseTimeField(args["timeMin"])
	if !hasWindow {
		_, hasWindow = parseTimeField(args["start"])
	}
	if summary == "" && !hasWindow {
		return Resolution{ClarifyQuery: &ClarifyQuery{
			Error:       "no summary or time window to search by",
			SearchedFor: "",
			Suggestions: clarifySuggestions(rctx.Language),
		}}
	}

	min, max := searchWindow(args, summary, rctx.Time)
	events, err := r.list(ctx, rctx.UserID, min, max)
	if err != nil {
		r.logger.Warn("Calendar list failed during entity resolution", "error", err)
		return Resolution{NotFound: &NotFound{Error: "service unavailable", SearchedFor: summary}}
	}

	candidates := r.scoreEvents(events, summary, args, minScore)

	searchedFor := summary
	if searchedFor == "" {
		searchedFor = windowLabel(min, max)
	}

	switch len(candidates) {
	case 0:
		return Resolution{NotFound: &NotFound{Error: "no matching events", SearchedFor: searchedFor}}

	case 1:
		return r.acceptCandidate(op, candidates[0], args, rctx)

	default:
		if series, ok := sameSeries(candidates); ok {
			picked := nearestUpcoming(candidates, rctx.Time.Now)
			r.logger.Debug("Candidates collapse to one recurring series", "series_id", series)
			return r.acceptCandidate(op, picked, args, rctx)
		}
		if candidates[0].Score-candidates[1].Score >= r.thresholds.DisambiguationGap {
			return r.acceptCandidate(op, candidates[0], args, rctx)
		}

		shown := candidates
		if len(shown) > r.maxOptions {
			shown = shown[:r.maxOptions]
		}
		return Resolution{Disambiguation: &Disambiguation{
			Candidates:    shown,
			Question:      disambiguationPrompt(rctx.Language),
			AllowMultiple: false,
		}}
	}
}

// acceptCandidate merges the candidate's ids into args, detouring
// through the series-vs-instance choice for recurring delete/update.
func (r *CalendarResolver) acceptCandidate(op string, c Candidate, args map[string]any, rctx Context) Resolution {
	mutating := op == executor.OpDelete || op == executor.OpUpdate

	if mutating && c.Metadata.RecurringSeriesID != "" {
		if intent, _ := args["recurringSeriesIntent"].(bool); intent {
			series := c.Metadata.RecurringSeriesID
			merged := mergeArgs(args, map[string]any{
				"eventId":           series,
				"isRecurringSeries": true,
			})
			return Resolution{Resolved: &Resolved{
				ResolvedIDs: []string{series},
				Args:        merged,
				IsRecurring: true,
				SeriesID:    series,
			}}
		}
		return recurringChoice(op, c, rctx.Language)
	}

	merged := mergeArgs(args, map[string]any{"eventId": c.ID})
	if c.Metadata.RecurringSeriesID != "" {
		merged["recurringSeriesId"] = c.Metadata.RecurringSeriesID
	}
	return Resolution{Resolved: &Resolved{
		ResolvedIDs: []string{c.ID},
		Args:        merged,
		IsRecurring: c.Metadata.IsRecurring,
		SeriesID:    c.Metadata.RecurringSeriesID,
	}}
}

// recurringChoice builds the fixed two-option series-vs-instance
// disambiguation. The question carries no option list; the gate renders
// the numbered candidates when it builds the interrupt.
func recurringChoice(op string, c Candidate, lang protocol.Language) Resolution {
	var allText, singleText, question string
	if lang == protocol.LanguageHebrew {
		verb := "למחוק"
		if op == executor.OpUpdate {
			verb = "לעדכן"
		}
		allText = "כל הסדרה"
		singleText = "רק את הקרובה"
		question = fmt.Sprintf("הפגישה \"%s\" היא פגישה חוזרת. %s את כל הסדרה או רק את הקרובה?", c.DisplayText, verb)
	} else {
		verb := "Delete"
		if op == executor.OpUpdate {
			verb = "Update"
		}
		allText = "The whole series"
		singleText = "Just this occurrence"
		question = fmt.Sprintf("\"%s\" is a recurring event. %s the whole series or just this occurrence?", c.DisplayText, verb)
	}

	return Resolution{Disambiguation: &Disambiguation{
		Candidates: []Candidate{
			{
				ID:          ChoiceAll,
				DisplayText: allText,
				Metadata: CandidateMetadata{
					RecurringSeriesID: c.Metadata.RecurringSeriesID,
					IsRecurringSeries: true,
				},
			},
			{
				ID:          ChoiceSingle,
				DisplayText: singleText,
				Metadata: CandidateMetadata{
					EventID:           c.ID,
					IsRecurringSeries: false,
				},
			},
		},
		Question:      question,
		AllowMultiple: false,
	}}
}

// resolveByWindow fetches everything in the window, applies the
// exclusion and summary filters, and returns all matching ids with
// recurring occurrences mapped to their master series.
func (r *CalendarResolver) resolveByWindow(ctx context.Context, args map[string]any, rctx Context) Resolution {
	min, max := searchWindow(args, "", rctx.Time)
	events, err := r.list(ctx, rctx.UserID, min, max)
	if err != nil {
		r.logger.Warn("Calendar list failed during window resolution", "error", err)
		return Resolution{NotFound: &NotFound{Error: "service unavailable", SearchedFor: windowLabel(min, max)}}
	}

	exclude := lowerAll(stringsField(args["excludeSummaries"]))
	summary, _ := args["summary"].(string)

	var ids []string
	seen := make(map[string]bool)
	for _, evt := range events {
		if excluded(evt.Summary, exclude) {
			continue
		}
		if summary != "" && !r.matcher.Matches(summary, evt.Summary, evt.Description) {
			continue
		}
		id := evt.ID
		if evt.RecurringSeriesID != "" {
			id = evt.RecurringSeriesID
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}

	if len(ids) == 0 {
		return Resolution{NotFound: &NotFound{Error: "no matching events", SearchedFor: windowLabel(min, max)}}
	}

	merged := mergeArgs(args, map[string]any{"eventIds": ids})
	return Resolution{Resolved: &Resolved{ResolvedIDs: ids, Args: merged}}
}

func (r *CalendarResolver) list(ctx context.Context, userID string, min, max time.Time) ([]executor.Entity, error) {
	exec, err := r.executors.Get(executor.DomainCalendarEvent)
	if err != nil {
		return nil, err
	}
	return exec.List(ctx, userID, executor.ListFilter{TimeMin: &min, TimeMax: &max})
}

// scoreEvents filters and scores the fetched events against the query
// and the optional time-of-day and day-of-week constraints.
func (r *CalendarResolver) scoreEvents(events []executor.Entity, summary string, args map[string]any, minScore float64) []Candidate {
	startTime, _ := args["startTime"].(string)
	endTime, _ := args["endTime"].(string)

	var candidates []Candidate
	for _, evt := range events {
		if !matchesTimeOfDay(evt.Start, startTime, endTime) {
			continue
		}
		if !matchesDayOfWeek(evt.Start, args["dayOfWeek"]) {
			continue
		}

		score := 1.0
		if summary != "" {
			score = r.matcher.ScoreFields(summary, evt.Summary, evt.Description)
			if score < minScore {
				continue
			}
		}

		candidates = append(candidates, Candidate{
			ID:          evt.ID,
			DisplayText: displayText(evt),
			Score:       score,
			Metadata: CandidateMetadata{
				IsRecurring:       evt.IsRecurring,
				RecurringSeriesID: evt.RecurringSeriesID,
				Start:             evt.Start,
				End:               evt.End,
			},
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	return candidates
}

// sameSeries reports whether all candidates belong to one recurring
// series.
func sameSeries(candidates []Candidate) (string, bool) {
	series := candidates[0].Metadata.RecurringSeriesID
	if series == "" {
		return "", false
	}
	for _, c := range candidates[1:] {
		if c.Metadata.RecurringSeriesID != series {
			return "", false
		}
	}
	return series, true
}

// nearestUpcoming prefers future candidates; within a partition, the
// closest to now by absolute delta wins.
func nearestUpcoming(candidates []Candidate, now time.Time) Candidate {
	best := candidates[0]
	bestFuture := false
	bestDelta := math.MaxFloat64

	for _, c := range candidates {
		if c.Metadata.Start == nil {
			continue
		}
		future := c.Metadata.Start.After(now)
		delta := math.Abs(c.Metadata.Start.Sub(now).Seconds())

		switch {
		case future && !bestFuture:
			best, bestFuture, bestDelta = c, true, delta
		case future == bestFuture && delta < bestDelta:
			best, bestDelta = c, delta
		}
	}
	return best
}

func displayText(evt executor.Entity) string {
	if evt.Start == nil {
		return evt.Summary
	}
	return fmt.Sprintf("%s - %s", evt.Summary, evt.Start.Format("Mon 02/01 15:04"))
}

// disambiguationPrompt is the question line only. The numbered
// candidate list and the multi-select hint are rendered once, by the
// gate, when the interrupt is built.
func disambiguationPrompt(lang protocol.Language) string {
	if lang == protocol.LanguageHebrew {
		return "מצאתי כמה אפשרויות. לאיזו התכוונת?"
	}
	return "I found a few options. Which one did you mean?"
}

func clarifySuggestions(lang protocol.Language) []string {
	if lang == protocol.LanguageHebrew {
		return []string{
			"אפשר לציין את שם הפגישה",
			"אפשר לציין יום או שעה",
		}
	}
	return []string{
		"try naming the event",
		"try giving a day or time",
	}
}

func stringsField(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if vals == "" {
			return nil
		}
		return []string{vals}
	}
	return nil
}

func lowerAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strings.ToLower(s)
	}
	return out
}

func excluded(summary string, exclude []string) bool {
	lower := strings.ToLower(summary)
	for _, ex := range exclude {
		if ex != "" && strings.Contains(lower, ex) {
			return true
		}
	}
	return false
}

var _ Resolver = (*CalendarResolver)(nil)
