package routing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donnahq/donna/pkg/protocol"
	"github.com/donnahq/donna/pkg/routing"
)

func TestSuggest(t *testing.T) {
	tests := []struct {
		name    string
		message string
		wantTop protocol.Capability
	}{
		{"hebrew calendar", "תקבע לי פגישה עם דנה מחר בעשר", protocol.CapabilityCalendar},
		{"english calendar", "schedule a meeting with Dana tomorrow", protocol.CapabilityCalendar},
		{"hebrew reminder", "תזכיר לי להתקשר לאמא בערב", protocol.CapabilityTaskStore},
		{"english task", "add a task to buy groceries", protocol.CapabilityTaskStore},
		{"hebrew email", "תשלח מייל לרואה החשבון", protocol.CapabilityEmail},
		{"hebrew memory", "תזכור שהקוד לבניין הוא 1234", protocol.CapabilityMemory},
		{"hebrew help", "מה אתה יודע לעשות?", protocol.CapabilityMeta},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hints := routing.Suggest(tt.message)
			require.NotEmpty(t, hints)
			assert.Equal(t, tt.wantTop, hints[0].Capability)
			assert.Greater(t, hints[0].Score, 0.0)
			assert.NotEmpty(t, hints[0].MatchedPatterns)
		})
	}
}

func TestSuggest_NoSignal(t *testing.T) {
	assert.Empty(t, routing.Suggest("מה קורה?"))
	assert.Empty(t, routing.Suggest(""))
}

func TestSuggest_Deterministic(t *testing.T) {
	msg := "תקבע פגישה ותזכיר לי לקנות חלב"
	first := routing.Suggest(msg)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, routing.Suggest(msg))
	}
}

func TestSuggest_MultipleCapabilities(t *testing.T) {
	hints := routing.Suggest("תקבע פגישה עם יוסי ותזכיר לי להביא את המסמכים")
	require.GreaterOrEqual(t, len(hints), 2)

	caps := make(map[protocol.Capability]bool)
	for _, h := range hints {
		caps[h.Capability] = true
	}
	assert.True(t, caps[protocol.CapabilityCalendar])
	assert.True(t, caps[protocol.CapabilityTaskStore])
}

func TestTop_FallsBackToGeneral(t *testing.T) {
	assert.Equal(t, protocol.CapabilityGeneral, routing.Top("סתם שיחה"))
}
