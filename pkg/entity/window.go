package entity

import (
	"strings"
	"time"

	"github.com/donnahq/donna/pkg/timectx"
)

// Default wide search window for calendar entity resolution.
const (
	wideWindowDaysBack  = 7
	wideWindowDaysAhead = 30
)

// searchWindow derives the fetch window for a resolution call, in
// priority order: explicit timeMin/timeMax, explicit start/end day,
// a relative phrase inside the summary, then the wide default.
func searchWindow(args map[string]any, summary string, tc timectx.Context) (time.Time, time.Time) {
	if min, okMin := parseTimeField(args["timeMin"]); okMin {
		if max, okMax := parseTimeField(args["timeMax"]); okMax {
			return min, max
		}
	}

	if start, ok := parseTimeField(args["start"]); ok {
		dayStart := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, tc.Now.Location())
		if end, ok := parseTimeField(args["end"]); ok {
			dayEnd := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, tc.Now.Location()).AddDate(0, 0, 1)
			return dayStart, dayEnd
		}
		return dayStart, dayStart.AddDate(0, 0, 1)
	}

	if min, max, ok := windowFromPhrase(summary, tc); ok {
		return min, max
	}

	return tc.WideWindow(wideWindowDaysBack, wideWindowDaysAhead)
}

// windowFromPhrase recognizes relative day and week phrases in Hebrew
// and English.
func windowFromPhrase(text string, tc timectx.Context) (time.Time, time.Time, bool) {
	lower := strings.ToLower(text)
	contains := func(subs ...string) bool {
		for _, s := range subs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}

	switch {
	case contains("מחרתיים", "day after tomorrow"):
		min, max := tc.DayWindow(2)
		return min, max, true
	case contains("מחר", "tomorrow"):
		min, max := tc.DayWindow(1)
		return min, max, true
	case contains("היום", "today", "הערב", "tonight"):
		min, max := tc.DayWindow(0)
		return min, max, true
	case contains("שבוע הבא", "next week"):
		min, max := tc.WeekWindow(1)
		return min, max, true
	case contains("השבוע", "this week"):
		min, max := tc.WeekWindow(0)
		return min, max, true
	}
	return time.Time{}, time.Time{}, false
}

func parseTimeField(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if t == "" {
			return time.Time{}, false
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

// windowLabel renders a window for a NotFound message.
func windowLabel(min, max time.Time) string {
	return min.Format("2006-01-02") + " - " + max.Format("2006-01-02")
}

// matchesTimeOfDay checks overlap with an HH:MM range from args.
func matchesTimeOfDay(start *time.Time, startTime, endTime string) bool {
	if start == nil || (startTime == "" && endTime == "") {
		return true
	}
	minutes := start.Hour()*60 + start.Minute()

	if startTime != "" {
		if m, ok := parseHHMM(startTime); ok && minutes < m {
			return false
		}
	}
	if endTime != "" {
		if m, ok := parseHHMM(endTime); ok && minutes > m {
			return false
		}
	}
	return true
}

// matchesDayOfWeek checks the Sun=0..Sat=6 day filter.
func matchesDayOfWeek(start *time.Time, dayOfWeek any) bool {
	day, ok := intField(dayOfWeek)
	if !ok || start == nil {
		return true
	}
	return int(start.Weekday()) == day
}

func parseHHMM(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

func intField(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}
