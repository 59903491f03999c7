package entity

import (
	"strconv"
	"strings"
)

// Locale tokens meaning "all of them".
var allTokens = map[string]bool{
	"all": true, "both": true, "everything": true,
	"הכל": true, "כולם": true, "שניהם": true, "שתיהן": true, "את כולם": true,
}

// Locale tokens for the recurring series-vs-instance choice.
var (
	seriesTokens = map[string]bool{
		"1": true, ChoiceAll: true, "כל הסדרה": true, "הכל": true, "כולם": true,
		"every": true, "series": true,
	}
	singleTokens = map[string]bool{
		"2": true, ChoiceSingle: true, "רק את הקרובה": true, "רק אחת": true, "הקרובה": true,
		"just this one": true, "this one": true, "once": true,
	}
)

// ApplySelection maps the user's interrupt reply onto the candidate set
// that was shown to them. Invalid input re-emits a Disambiguation with
// a short retry prompt so the gate can interrupt again.
func ApplySelection(selection any, d *Disambiguation, args map[string]any) Resolution {
	if isRecurringChoice(d.Candidates) {
		return applyRecurringSelection(selection, d, args)
	}

	switch sel := selection.(type) {
	case string:
		text := strings.TrimSpace(strings.ToLower(sel))
		if allTokens[text] {
			return resolveAll(d, args)
		}
		if n, err := strconv.Atoi(text); err == nil {
			return resolveIndex(n, d, args)
		}
		if ns, ok := parseNumberList(text); ok && d.AllowMultiple {
			return resolveIndices(ns, d, args)
		}
		return invalidSelection(d)

	case int:
		return resolveIndex(sel, d, args)

	case float64:
		return resolveIndex(int(sel), d, args)

	case []int:
		if !d.AllowMultiple {
			return invalidSelection(d)
		}
		return resolveIndices(sel, d, args)

	case []any:
		if !d.AllowMultiple {
			return invalidSelection(d)
		}
		var ns []int
		for _, v := range sel {
			if n, ok := intField(v); ok {
				ns = append(ns, n)
			}
		}
		return resolveIndices(ns, d, args)

	default:
		return invalidSelection(d)
	}
}

func isRecurringChoice(candidates []Candidate) bool {
	return len(candidates) == 2 && candidates[0].ID == ChoiceAll && candidates[1].ID == ChoiceSingle
}

func applyRecurringSelection(selection any, d *Disambiguation, args map[string]any) Resolution {
	text := ""
	switch sel := selection.(type) {
	case string:
		text = strings.TrimSpace(strings.ToLower(sel))
	case int:
		text = strconv.Itoa(sel)
	case float64:
		text = strconv.Itoa(int(sel))
	}

	switch {
	case seriesTokens[text]:
		series := d.Candidates[0].Metadata.RecurringSeriesID
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
	case singleTokens[text]:
		eventID := d.Candidates[1].Metadata.EventID
		merged := mergeArgs(args, map[string]any{
			"eventId":           eventID,
			"isRecurringSeries": false,
		})
		return Resolution{Resolved: &Resolved{
			ResolvedIDs: []string{eventID},
			Args:        merged,
		}}
	default:
		return invalidSelection(d)
	}
}

func resolveIndex(n int, d *Disambiguation, args map[string]any) Resolution {
	if n < 1 || n > len(d.Candidates) {
		return invalidSelection(d)
	}
	c := d.Candidates[n-1]
	return resolveCandidates([]Candidate{c}, d, args)
}

func resolveIndices(ns []int, d *Disambiguation, args map[string]any) Resolution {
	var picked []Candidate
	for _, n := range ns {
		if n < 1 || n > len(d.Candidates) {
			return invalidSelection(d)
		}
		picked = append(picked, d.Candidates[n-1])
	}
	if len(picked) == 0 {
		return invalidSelection(d)
	}
	return resolveCandidates(picked, d, args)
}

func resolveAll(d *Disambiguation, args map[string]any) Resolution {
	return resolveCandidates(d.Candidates, d, args)
}

func resolveCandidates(picked []Candidate, d *Disambiguation, args map[string]any) Resolution {
	ids := make([]string, len(picked))
	for i, c := range picked {
		ids[i] = c.ID
	}

	idKey, idsKey := "eventId", "eventIds"
	if entityType, _ := args["_entityType"].(string); entityType == "task" {
		idKey, idsKey = "taskId", "taskIds"
	}

	merged := mergeArgs(args, nil)
	if len(ids) == 1 {
		merged[idKey] = ids[0]
		c := picked[0]
		if c.Metadata.RecurringSeriesID != "" {
			merged["recurringSeriesId"] = c.Metadata.RecurringSeriesID
		}
		return Resolution{Resolved: &Resolved{
			ResolvedIDs: ids,
			Args:        merged,
			IsRecurring: c.Metadata.IsRecurring,
			SeriesID:    c.Metadata.RecurringSeriesID,
		}}
	}

	merged[idsKey] = ids
	return Resolution{Resolved: &Resolved{ResolvedIDs: ids, Args: merged}}
}

func invalidSelection(d *Disambiguation) Resolution {
	retry := *d
	retry.Question = retryPrompt(d)
	return Resolution{Disambiguation: &retry}
}

// retryPrompt keeps the candidate list out of the question; the gate
// re-renders the list when it re-asks.
func retryPrompt(d *Disambiguation) string {
	if strings.ContainsAny(d.Question, "אבגדהוזחטיכלמנסעפצקרשת") {
		return "לא הבנתי את הבחירה. אפשר לענות במספר מהרשימה?"
	}
	return "I didn't catch that. Please reply with a number from the list:"
}

// parseNumberList accepts "1,3" and "1 3" forms.
func parseNumberList(s string) ([]int, bool) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == 'ו'
	})
	if len(fields) < 2 {
		return nil, false
	}
	var ns []int
	for _, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, false
		}
		ns = append(ns, n)
	}
	return ns, true
}

func mergeArgs(base, extra map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(extra)+2)
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}
