// Package timectx produces the canonical "now" stamp injected into every
// LLM prompt, plus relative time-window helpers used by entity resolution.
package timectx

import (
	"fmt"
	"time"
)

// DefaultTimezone is used when the user has no timezone preference.
const DefaultTimezone = "Asia/Jerusalem"

// Context is an immutable snapshot of the current time in the user's zone.
type Context struct {
	Now      time.Time `json:"now"`
	Timezone string    `json:"timezone"`
	Weekday  string    `json:"weekday"`
}

// New builds a Context for the given timezone. An unknown timezone falls
// back to DefaultTimezone, then to UTC.
func New(timezone string) Context {
	return At(time.Now(), timezone)
}

// At builds a Context for an explicit instant, used by tests and resume
// paths that must not re-read the wall clock.
func At(now time.Time, timezone string) Context {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc, err = time.LoadLocation(DefaultTimezone)
		if err != nil {
			loc = time.UTC
		}
		timezone = loc.String()
	}
	local := now.In(loc)
	return Context{
		Now:      local,
		Timezone: timezone,
		Weekday:  local.Weekday().String(),
	}
}

// PromptLine renders the context for inclusion in an LLM prompt.
func (c Context) PromptLine() string {
	return fmt.Sprintf("Current time: %s (%s, %s)",
		c.Now.Format("2006-01-02 15:04"), c.Weekday, c.Timezone)
}

// StartOfDay returns midnight of the context's day.
func (c Context) StartOfDay() time.Time {
	y, m, d := c.Now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.Now.Location())
}

// DayWindow returns the [start, end) window of the day offset days from now.
// Offset 0 is today, 1 is tomorrow.
func (c Context) DayWindow(offset int) (time.Time, time.Time) {
	start := c.StartOfDay().AddDate(0, 0, offset)
	return start, start.AddDate(0, 0, 1)
}

// WeekWindow returns the [start, end) window covering the next 7 days
// starting offset weeks from today.
func (c Context) WeekWindow(offset int) (time.Time, time.Time) {
	start := c.StartOfDay().AddDate(0, 0, 7*offset)
	return start, start.AddDate(0, 0, 7)
}

// WideWindow returns the default search window for entity resolution
// when no explicit window is given: daysBack in the past through
// daysAhead in the future.
func (c Context) WideWindow(daysBack, daysAhead int) (time.Time, time.Time) {
	return c.Now.AddDate(0, 0, -daysBack), c.Now.AddDate(0, 0, daysAhead)
}
