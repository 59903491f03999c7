package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DomainCalendarEvent is the calendar entity domain.
const DomainCalendarEvent = "calendar_event"

// MemoryCalendar is an in-process calendar backend. It is the default
// when no external calendar integration is configured, and doubles as
// the test double for the pipeline.
type MemoryCalendar struct {
	mu     sync.RWMutex
	events map[string][]Entity // userID -> events
}

// NewMemoryCalendar creates an empty in-process calendar.
func NewMemoryCalendar() *MemoryCalendar {
	return &MemoryCalendar{events: make(map[string][]Entity)}
}

func (c *MemoryCalendar) Domain() string {
	return DomainCalendarEvent
}

// Seed inserts an event directly, bypassing Mutate.
func (c *MemoryCalendar) Seed(userID string, events ...Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events[userID] = append(c.events[userID], events...)
}

// List returns the user's events inside the filter window, sorted by
// start time.
func (c *MemoryCalendar) List(ctx context.Context, userID string, filter ListFilter) ([]Entity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Entity
	for _, evt := range c.events[userID] {
		if filter.TimeMin != nil && evt.Start != nil && evt.Start.Before(*filter.TimeMin) {
			continue
		}
		if filter.TimeMax != nil && evt.Start != nil && evt.Start.After(*filter.TimeMax) {
			continue
		}
		out = append(out, evt)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start == nil || out[j].Start == nil {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(*out[j].Start)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Mutate applies create, createMultiple, update, delete, deleteByWindow
// and updateByWindow operations.
func (c *MemoryCalendar) Mutate(ctx context.Context, userID, op string, args map[string]any) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch op {
	case OpCreate:
		evt := eventFromArgs(args)
		c.events[userID] = append(c.events[userID], evt)
		return map[string]any{"eventId": evt.ID}, nil

	case OpCreateMultiple:
		items, _ := args["events"].([]any)
		var ids []string
		for _, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			evt := eventFromArgs(m)
			c.events[userID] = append(c.events[userID], evt)
			ids = append(ids, evt.ID)
		}
		return map[string]any{"eventIds": ids}, nil

	case OpUpdate:
		id, _ := args["eventId"].(string)
		for i := range c.events[userID] {
			evt := &c.events[userID][i]
			if evt.ID != id && evt.RecurringSeriesID != id {
				continue
			}
			if summary, ok := args["summary"].(string); ok && summary != "" {
				evt.Summary = summary
			}
			if start, ok := parseTimeArg(args["start"]); ok {
				evt.Start = &start
			}
			if end, ok := parseTimeArg(args["end"]); ok {
				evt.End = &end
			}
			return map[string]any{"eventId": evt.ID}, nil
		}
		return nil, fmt.Errorf("event %q not found", id)

	case OpDelete:
		id, _ := args["eventId"].(string)
		series, _ := args["isRecurringSeries"].(bool)
		kept := c.events[userID][:0]
		deleted := 0
		for _, evt := range c.events[userID] {
			remove := evt.ID == id || (series && evt.RecurringSeriesID == id)
			if remove {
				deleted++
				continue
			}
			kept = append(kept, evt)
		}
		c.events[userID] = kept
		if deleted == 0 {
			return nil, fmt.Errorf("event %q not found", id)
		}
		return map[string]any{"deleted": deleted}, nil

	case OpDeleteByWindow:
		ids := stringSliceArg(args["eventIds"])
		idSet := make(map[string]bool, len(ids))
		for _, id := range ids {
			idSet[id] = true
		}
		kept := c.events[userID][:0]
		deleted := 0
		for _, evt := range c.events[userID] {
			if idSet[evt.ID] || idSet[evt.RecurringSeriesID] {
				deleted++
				continue
			}
			kept = append(kept, evt)
		}
		c.events[userID] = kept
		return map[string]any{"deleted": deleted}, nil

	case OpUpdateByWindow:
		ids := stringSliceArg(args["eventIds"])
		idSet := make(map[string]bool, len(ids))
		for _, id := range ids {
			idSet[id] = true
		}
		updated := 0
		for i := range c.events[userID] {
			evt := &c.events[userID][i]
			if !idSet[evt.ID] && !idSet[evt.RecurringSeriesID] {
				continue
			}
			if summary, ok := args["summary"].(string); ok && summary != "" {
				evt.Summary = summary
			}
			updated++
		}
		return map[string]any{"updated": updated}, nil

	default:
		return nil, fmt.Errorf("calendar does not support operation %q", op)
	}
}

func eventFromArgs(args map[string]any) Entity {
	evt := Entity{ID: uuid.NewString()}
	evt.Summary, _ = args["summary"].(string)
	evt.Description, _ = args["description"].(string)
	if start, ok := parseTimeArg(args["start"]); ok {
		evt.Start = &start
	}
	if end, ok := parseTimeArg(args["end"]); ok {
		evt.End = &end
	}
	return evt
}

func parseTimeArg(v any) (time.Time, bool) {
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

func stringSliceArg(v any) []string {
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
		if strings.TrimSpace(vals) == "" {
			return nil
		}
		return []string{vals}
	}
	return nil
}

var _ Executor = (*MemoryCalendar)(nil)
