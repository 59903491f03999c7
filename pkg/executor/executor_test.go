package executor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donnahq/donna/pkg/executor"
)

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestMemoryCalendar_ListWindow(t *testing.T) {
	cal := executor.NewMemoryCalendar()
	cal.Seed("u1",
		executor.Entity{ID: "e1", Summary: "פגישה עם דנה", Start: ts("2025-06-10T10:00:00+03:00")},
		executor.Entity{ID: "e2", Summary: "רופא שיניים", Start: ts("2025-06-11T09:00:00+03:00")},
		executor.Entity{ID: "e3", Summary: "ארוחת ערב", Start: ts("2025-06-20T19:00:00+03:00")},
	)

	events, err := cal.List(context.Background(), "u1", executor.ListFilter{
		TimeMin: ts("2025-06-10T00:00:00+03:00"),
		TimeMax: ts("2025-06-12T00:00:00+03:00"),
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e1", events[0].ID)
	assert.Equal(t, "e2", events[1].ID)
}

func TestMemoryCalendar_CreateAndDelete(t *testing.T) {
	cal := executor.NewMemoryCalendar()
	ctx := context.Background()

	data, err := cal.Mutate(ctx, "u1", executor.OpCreate, map[string]any{
		"summary": "פגישה עם יוסי",
		"start":   "2025-06-10T10:00:00+03:00",
	})
	require.NoError(t, err)
	id := data["eventId"].(string)
	require.NotEmpty(t, id)

	_, err = cal.Mutate(ctx, "u1", executor.OpDelete, map[string]any{"eventId": id})
	require.NoError(t, err)

	events, err := cal.List(ctx, "u1", executor.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMemoryCalendar_DeleteSeries(t *testing.T) {
	cal := executor.NewMemoryCalendar()
	cal.Seed("u1",
		executor.Entity{ID: "occ1", Summary: "פגישה שבועית", IsRecurring: true, RecurringSeriesID: "series-1", Start: ts("2025-06-10T10:00:00+03:00")},
		executor.Entity{ID: "occ2", Summary: "פגישה שבועית", IsRecurring: true, RecurringSeriesID: "series-1", Start: ts("2025-06-17T10:00:00+03:00")},
		executor.Entity{ID: "other", Summary: "אחר", Start: ts("2025-06-12T10:00:00+03:00")},
	)

	data, err := cal.Mutate(context.Background(), "u1", executor.OpDelete, map[string]any{
		"eventId":           "series-1",
		"isRecurringSeries": true,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, data["deleted"])

	events, _ := cal.List(context.Background(), "u1", executor.ListFilter{})
	require.Len(t, events, 1)
	assert.Equal(t, "other", events[0].ID)
}

func TestMemoryTaskStore_CreateMultiple(t *testing.T) {
	store := executor.NewMemoryTaskStore(true)

	data, err := store.Mutate(context.Background(), "u1", executor.OpCreateMultiple, map[string]any{
		"tasks": []any{
			map[string]any{"text": "לנתק חשמל", "dueDate": "2025-01-02T20:00:00+02:00", "reminder": "0 minutes"},
			map[string]any{"text": "לשלוח מייל", "dueDate": "2025-01-02T20:00:00+02:00", "reminder": "0 minutes"},
		},
	})
	require.NoError(t, err)
	assert.Len(t, data["taskIds"], 2)

	tasks, err := store.List(context.Background(), "u1", executor.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestMemoryTaskStore_CompleteDeletes(t *testing.T) {
	store := executor.NewMemoryTaskStore(true)
	store.Seed("u1", executor.Entity{ID: "t1", Summary: "להתקשר לאמא", Raw: map[string]any{}})

	_, err := store.Mutate(context.Background(), "u1", executor.OpComplete, map[string]any{"taskId": "t1"})
	require.NoError(t, err)

	tasks, _ := store.List(context.Background(), "u1", executor.ListFilter{})
	assert.Empty(t, tasks)
}

func TestMemoryTaskStore_CompleteMarksDone(t *testing.T) {
	store := executor.NewMemoryTaskStore(false)
	store.Seed("u1", executor.Entity{ID: "t1", Summary: "להתקשר לאמא", Raw: map[string]any{}})

	data, err := store.Mutate(context.Background(), "u1", executor.OpComplete, map[string]any{"taskId": "t1"})
	require.NoError(t, err)
	assert.Equal(t, true, data["done"])

	// Done tasks are hidden from listing.
	tasks, _ := store.List(context.Background(), "u1", executor.ListFilter{})
	assert.Empty(t, tasks)
}

func TestOutboxEmailer_Send(t *testing.T) {
	mail := executor.NewOutboxEmailer()

	_, err := mail.Mutate(context.Background(), "u1", executor.OpSend, map[string]any{
		"to":      "dana@example.com",
		"subject": "סיכום פגישה",
		"body":    "מצורף הסיכום",
	})
	require.NoError(t, err)

	sent := mail.Sent("u1")
	require.Len(t, sent, 1)
	assert.Equal(t, "dana@example.com", sent[0].To)

	_, err = mail.Mutate(context.Background(), "u1", "delete", nil)
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	reg := executor.NewRegistry()
	reg.Register(executor.NewMemoryCalendar())
	reg.Register(executor.NewMemoryTaskStore(true))

	cal, err := reg.Get(executor.DomainCalendarEvent)
	require.NoError(t, err)
	assert.Equal(t, executor.DomainCalendarEvent, cal.Domain())

	_, err = reg.Get("unknown")
	assert.Error(t, err)

	assert.Len(t, reg.Domains(), 2)
}
