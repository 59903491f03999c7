package memory_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donnahq/donna/pkg/config"
	"github.com/donnahq/donna/pkg/memory"
	"github.com/donnahq/donna/pkg/protocol"
)

func testConfig() config.MemoryConfig {
	cfg := config.MemoryConfig{}
	cfg.MaxContextMessages = 10
	cfg.MaxTotalTokens = 500
	cfg.MaxSystemMessages = 3
	cfg.CharsPerToken = 3.5
	cfg.ConversationTTL = 12 * time.Hour
	cfg.DisambiguationTTL = 5 * time.Minute
	return cfg
}

func TestAppend_IdempotentByExternalID(t *testing.T) {
	m := memory.New(testConfig())

	m.Append("u1", protocol.RoleUser, "hello", memory.AppendOptions{ExternalID: "wamid.1"})
	m.Append("u1", protocol.RoleUser, "hello again", memory.AppendOptions{ExternalID: "wamid.1"})

	msgs := m.Recent("u1", 0)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
}

func TestAppend_ContextMessageCap(t *testing.T) {
	m := memory.New(testConfig())

	for i := 0; i < 15; i++ {
		m.Append("u1", protocol.RoleUser, fmt.Sprintf("message %d", i), memory.AppendOptions{})
	}

	stats := m.GetStats("u1")
	assert.Equal(t, 10, stats.UserMsgs)

	// Oldest messages evicted first.
	msgs := m.Recent("u1", 0)
	assert.Equal(t, "message 5", msgs[0].Content)
	assert.Equal(t, "message 14", msgs[len(msgs)-1].Content)
}

func TestAppend_TokenBudget(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTotalTokens = 50
	m := memory.New(cfg)

	// ~29 tokens each at 3.5 chars/token. Two fit, three do not.
	long := make([]byte, 100)
	for i := range long {
		long[i] = 'a'
	}
	for i := 0; i < 3; i++ {
		m.Append("u1", protocol.RoleUser, string(long), memory.AppendOptions{})
	}

	stats := m.GetStats("u1")
	assert.LessOrEqual(t, stats.TotalTokens, 50)
	assert.Equal(t, 1, stats.UserMsgs)
}

func TestAppend_OversizedMessageDropped(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTotalTokens = 10
	m := memory.New(cfg)

	m.Append("u1", protocol.RoleUser, "short", memory.AppendOptions{})
	m.Append("u1", protocol.RoleUser,
		"this message alone is far larger than the entire token budget of the window",
		memory.AppendOptions{})

	msgs := m.Recent("u1", 0)
	require.Len(t, msgs, 1)
	assert.Equal(t, "short", msgs[0].Content)
}

func TestAppend_SystemMessageCap(t *testing.T) {
	m := memory.New(testConfig())

	for i := 0; i < 5; i++ {
		m.Append("u1", protocol.RoleSystem, fmt.Sprintf("marker %d", i), memory.AppendOptions{})
	}

	stats := m.GetStats("u1")
	assert.Equal(t, 3, stats.SystemMsgs)
}

func TestRecent_ReturnsCopyInOrder(t *testing.T) {
	m := memory.New(testConfig())

	m.Append("u1", protocol.RoleUser, "first", memory.AppendOptions{})
	m.Append("u1", protocol.RoleAssistant, "second", memory.AppendOptions{})
	m.Append("u1", protocol.RoleUser, "third", memory.AppendOptions{})

	msgs := m.Recent("u1", 2)
	require.Len(t, msgs, 2)
	assert.Equal(t, "second", msgs[0].Content)
	assert.Equal(t, "third", msgs[1].Content)
}

func TestFindByExternalID(t *testing.T) {
	m := memory.New(testConfig())

	m.Append("u1", protocol.RoleAssistant, "which one did you mean?", memory.AppendOptions{ExternalID: "wamid.q"})

	found := m.FindByExternalID("u1", "wamid.q")
	require.NotNil(t, found)
	assert.Equal(t, protocol.RoleAssistant, found.Role)

	assert.Nil(t, m.FindByExternalID("u1", "wamid.missing"))
	assert.Nil(t, m.FindByExternalID("u1", ""))
}

func TestDisambiguation_StoreAndRetrieve(t *testing.T) {
	now := time.Now()
	m := memory.New(testConfig(), memory.WithClock(func() time.Time { return now }))

	candidates := []protocol.CandidateRef{
		{ID: "evt-1", DisplayText: "פגישה עם דנה - יום שלישי 10:00"},
		{ID: "evt-2", DisplayText: "פגישה עם דנה - יום חמישי 14:00"},
	}
	m.StoreDisambiguation("u1", candidates, "calendar_event")

	ctx := m.LastDisambiguation("u1")
	require.NotNil(t, ctx)
	assert.Equal(t, "calendar_event", ctx.EntityType)
	assert.Len(t, ctx.Candidates, 2)
}

func TestDisambiguation_Expiry(t *testing.T) {
	now := time.Now()
	m := memory.New(testConfig(), memory.WithClock(func() time.Time { return now }))

	m.StoreDisambiguation("u1", []protocol.CandidateRef{{ID: "1", DisplayText: "a"}}, "task")
	require.NotNil(t, m.LastDisambiguation("u1"))

	now = now.Add(6 * time.Minute)
	assert.Nil(t, m.LastDisambiguation("u1"))
}

func TestDisambiguation_Clear(t *testing.T) {
	m := memory.New(testConfig())

	m.StoreDisambiguation("u1", []protocol.CandidateRef{{ID: "1", DisplayText: "a"}}, "task")
	m.ClearDisambiguation("u1")

	assert.Nil(t, m.LastDisambiguation("u1"))
}

func TestClear(t *testing.T) {
	m := memory.New(testConfig())

	m.Append("u1", protocol.RoleUser, "hello", memory.AppendOptions{})
	m.Clear("u1")

	assert.Empty(t, m.Recent("u1", 0))
	assert.Equal(t, 0, m.GetStats("u1").UserMsgs)
}

func TestCleanupIdle(t *testing.T) {
	now := time.Now()
	m := memory.New(testConfig(), memory.WithClock(func() time.Time { return now }))

	m.Append("idle", protocol.RoleUser, "old message", memory.AppendOptions{})

	now = now.Add(13 * time.Hour)
	m.Append("active", protocol.RoleUser, "fresh message", memory.AppendOptions{})

	dropped := m.CleanupIdle()
	assert.Equal(t, 1, dropped)
	assert.Empty(t, m.Recent("idle", 0))
	assert.Len(t, m.Recent("active", 0), 1)
}

func TestTokenEstimator_Heuristic(t *testing.T) {
	e := memory.NewTokenEstimator("", 3.5)

	tests := []struct {
		content string
		want    int
	}{
		{"", 0},
		{"abc", 1},
		{"abcdefg", 2},
		{"תזכיר לי להתקשר לאמא", 6},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.Estimate(tt.content), "content=%q", tt.content)
	}
}

func TestStats(t *testing.T) {
	m := memory.New(testConfig())

	m.Append("u1", protocol.RoleUser, "question", memory.AppendOptions{})
	m.Append("u1", protocol.RoleAssistant, "answer", memory.AppendOptions{})
	m.Append("u1", protocol.RoleSystem, "marker", memory.AppendOptions{})

	stats := m.GetStats("u1")
	assert.Equal(t, 1, stats.UserMsgs)
	assert.Equal(t, 1, stats.AssistantMsgs)
	assert.Equal(t, 1, stats.SystemMsgs)
	assert.Equal(t, 10, stats.MsgLimit)
	assert.Equal(t, 500, stats.TokenLimit)
	assert.Greater(t, stats.TotalTokens, 0)
}
