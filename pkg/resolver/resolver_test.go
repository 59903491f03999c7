package resolver_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donnahq/donna/pkg/config"
	"github.com/donnahq/donna/pkg/executor"
	"github.com/donnahq/donna/pkg/llms"
	"github.com/donnahq/donna/pkg/planner"
	"github.com/donnahq/donna/pkg/protocol"
	"github.com/donnahq/donna/pkg/resolver"
	"github.com/donnahq/donna/pkg/timectx"
)

type fakeProvider struct {
	response string
	err      error
	lastReq  llms.Request
}

func (p *fakeProvider) Name() string  { return "fake" }
func (p *fakeProvider) Model() string { return "fake-model" }
func (p *fakeProvider) Close() error  { return nil }

func (p *fakeProvider) Complete(ctx context.Context, req llms.Request) (*llms.Response, error) {
	p.lastReq = req
	if p.err != nil {
		return nil, p.err
	}
	return &llms.Response{Text: p.response}, nil
}

func testInput(message, actionHint string) *resolver.Input {
	return &resolver.Input{
		Step: planner.PlanStep{
			ID:         "A",
			ActionHint: actionHint,
			Constraints: planner.StepConstraints{
				RawMessage: message,
			},
		},
		Time:     timectx.At(time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC), "Asia/Jerusalem"),
		Language: protocol.LanguageHebrew,
		UserID:   "u1",
	}
}

func TestCalendarResolver_ParsesOperation(t *testing.T) {
	provider := &fakeProvider{response: `{
		"operation": "create",
		"summary": "פגישה עם דנה",
		"start": "2025-06-11T10:00:00+03:00"
	}`}
	r := resolver.NewCalendarResolver(llms.NewGateway(provider), nil)

	out, err := r.Resolve(context.Background(), testInput("תקבע פגישה עם דנה מחר בעשר", "create a meeting"))
	require.NoError(t, err)
	assert.Equal(t, resolver.OutputExecute, out.Type)
	assert.Equal(t, "create", out.Args["operation"])
	assert.Equal(t, executor.DomainCalendarEvent, out.Args[resolver.EntityTypeKey])
}

func TestCalendarResolver_DeleteNeedsEntityResolution(t *testing.T) {
	provider := &fakeProvider{response: `{"operation": "delete", "summary": "פגישה עם רון"}`}
	r := resolver.NewCalendarResolver(llms.NewGateway(provider), nil)

	out, err := r.Resolve(context.Background(), testInput("תבטל את הפגישה עם רון", "cancel a meeting"))
	require.NoError(t, err)
	assert.Equal(t, resolver.OutputNeedsEntityResolution, out.Type)
	assert.Equal(t, executor.DomainCalendarEvent, out.EntityType)
}

func TestCalendarResolver_FallbackOnLLMError(t *testing.T) {
	provider := &fakeProvider{err: errors.New("timeout")}
	r := resolver.NewCalendarResolver(llms.NewGateway(provider), nil)

	out, err := r.Resolve(context.Background(), testInput("תבטל את הפגישה עם רון", ""))
	require.NoError(t, err)
	assert.Equal(t, executor.OpDelete, out.Args["operation"])
	assert.Equal(t, "תבטל את הפגישה עם רון", out.Args["summary"])
}

func TestCalendarResolver_UnknownOperationFallsBack(t *testing.T) {
	provider := &fakeProvider{response: `{"operation": "teleport"}`}
	r := resolver.NewCalendarResolver(llms.NewGateway(provider), nil)

	out, err := r.Resolve(context.Background(), testInput("מה יש לי מחר?", ""))
	require.NoError(t, err)
	assert.Equal(t, "list", out.Args["operation"])
}

func TestTaskResolver_CompleteDeletesByDefault(t *testing.T) {
	provider := &fakeProvider{response: `{"operation": "complete", "text": "הדוח"}`}
	r := resolver.NewTaskResolver(llms.NewGateway(provider), config.ResolverConfig{}, nil)

	out, err := r.Resolve(context.Background(), testInput("סיימתי את הדוח", "mark done"))
	require.NoError(t, err)
	assert.Equal(t, executor.OpDelete, out.Args["operation"])
	assert.Equal(t, resolver.OutputNeedsEntityResolution, out.Type)
	assert.Equal(t, executor.DomainTask, out.EntityType)
}

func TestTaskResolver_CompleteKeptWhenConfigured(t *testing.T) {
	keep := false
	provider := &fakeProvider{response: `{"operation": "complete", "text": "הדוח"}`}
	r := resolver.NewTaskResolver(llms.NewGateway(provider),
		config.ResolverConfig{CompleteDeletesTask: &keep}, nil)

	out, err := r.Resolve(context.Background(), testInput("סיימתי את הדוח", ""))
	require.NoError(t, err)
	assert.Equal(t, executor.OpComplete, out.Args["operation"])
}

func TestTaskResolver_NormalizesRecurrence(t *testing.T) {
	provider := &fakeProvider{response: `{
		"operation": "create",
		"text": "לקחת כדור",
		"recurrence": {"frequency": "day"}
	}`}
	r := resolver.NewTaskResolver(llms.NewGateway(provider), config.ResolverConfig{}, nil)

	out, err := r.Resolve(context.Background(), testInput("תזכיר לי כל יום לקחת כדור", ""))
	require.NoError(t, err)
	rec, ok := out.Args["recurrence"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "daily", rec["frequency"])
	assert.Equal(t, "09:00", rec["time"])
}

func TestTaskResolver_DropsGarbageRecurrence(t *testing.T) {
	provider := &fakeProvider{response: `{
		"operation": "create",
		"text": "משהו",
		"recurrence": {"frequency": "fortnightly"}
	}`}
	r := resolver.NewTaskResolver(llms.NewGateway(provider), config.ResolverConfig{}, nil)

	out, err := r.Resolve(context.Background(), testInput("תזכיר לי משהו", ""))
	require.NoError(t, err)
	assert.NotContains(t, out.Args, "recurrence")
}

func TestTaskResolver_FallbackUsesKeywordVerb(t *testing.T) {
	provider := &fakeProvider{err: errors.New("boom")}
	r := resolver.NewTaskResolver(llms.NewGateway(provider), config.ResolverConfig{}, nil)

	out, err := r.Resolve(context.Background(), testInput("מחק את התזכורת על הרופא", ""))
	require.NoError(t, err)
	assert.Equal(t, executor.OpDelete, out.Args["operation"])
}

func TestAnalyzeTaskMessage(t *testing.T) {
	tests := []struct {
		message string
		style   string
		verb    string
	}{
		{"תזכיר לי להתקשר לרופא מחר", "one-time", executor.OpCreate},
		{"תזכיר לי כל יום לקחת כדור", "recurring", executor.OpCreate},
		{"תציק לי עד שאני שולח את הטופס", "nudge", executor.OpCreate},
		{"סיימתי את הדוח", "one-time", executor.OpComplete},
		{"מה יש לי ברשימה?", "one-time", "list"},
	}
	for _, tt := range tests {
		a := resolver.AnalyzeTaskMessage(tt.message)
		assert.Equal(t, tt.style, a.Style, tt.message)
		assert.Equal(t, tt.verb, a.Verb, tt.message)
	}
}

func TestNotesResolver_StoreAndQuery(t *testing.T) {
	provider := &fakeProvider{response: `{"operation": "store", "content": "הקוד לחניה הוא 4512"}`}
	r := resolver.NewNotesResolver(llms.NewGateway(provider), nil)

	out, err := r.Resolve(context.Background(), testInput("תזכור שהקוד לחניה הוא 4512", ""))
	require.NoError(t, err)
	assert.Equal(t, resolver.OutputExecute, out.Type)
	assert.Equal(t, executor.OpStore, out.Args["operation"])

	provider.response = `{"operation": "query", "query": "קוד חניה"}`
	out, err = r.Resolve(context.Background(), testInput("מה הקוד לחניה?", ""))
	require.NoError(t, err)
	assert.Equal(t, executor.OpQuery, out.Args["operation"])
}

func TestNotesResolver_FallbackDetectsQuery(t *testing.T) {
	provider := &fakeProvider{err: errors.New("boom")}
	r := resolver.NewNotesResolver(llms.NewGateway(provider), nil)

	out, err := r.Resolve(context.Background(), testInput("מה אמרתי לך על החניה?", ""))
	require.NoError(t, err)
	assert.Equal(t, executor.OpQuery, out.Args["operation"])
	assert.Equal(t, "מה אמרתי לך על החניה?", out.Args["query"])
}

func TestEmailResolver_FallbackSendsRawBody(t *testing.T) {
	provider := &fakeProvider{err: errors.New("boom")}
	r := resolver.NewEmailResolver(llms.NewGateway(provider), nil)

	out, err := r.Resolve(context.Background(), testInput("תשלח מייל ליואב שאני מאחר", ""))
	require.NoError(t, err)
	assert.Equal(t, resolver.OutputExecute, out.Type)
	assert.Equal(t, executor.OpSend, out.Args["operation"])
	assert.Equal(t, "תשלח מייל ליואב שאני מאחר", out.Args["body"])
}

func TestGeneralResolver_RepliesInline(t *testing.T) {
	provider := &fakeProvider{response: "בוקר טוב! איך אפשר לעזור?"}
	r := resolver.NewGeneralResolver(llms.NewGateway(provider), nil)

	out, err := r.Resolve(context.Background(), testInput("בוקר טוב", "respond"))
	require.NoError(t, err)
	assert.Equal(t, resolver.OutputExecute, out.Type)
	assert.Equal(t, resolver.OpRespond, out.Args["operation"])
	assert.Equal(t, "בוקר טוב! איך אפשר לעזור?", out.Args["text"])
}

func TestGeneralResolver_CannedReplyOnError(t *testing.T) {
	provider := &fakeProvider{err: errors.New("boom")}
	r := resolver.NewGeneralResolver(llms.NewGateway(provider), nil)

	out, err := r.Resolve(context.Background(), testInput("בוקר טוב", ""))
	require.NoError(t, err)
	text, _ := out.Args["text"].(string)
	assert.NotEmpty(t, text)
}

func TestMetaResolver_HelpAndCapabilities(t *testing.T) {
	r := resolver.NewMetaResolver(nil)

	out, err := r.Resolve(context.Background(), testInput("עזרה", "help"))
	require.NoError(t, err)
	assert.Equal(t, resolver.OpHelp, out.Args["operation"])
	assert.Contains(t, out.Args["text"].(string), "יומן")

	out, err = r.Resolve(context.Background(), testInput("מה אתה יודע לעשות?", ""))
	require.NoError(t, err)
	assert.Equal(t, resolver.OpCapabilities, out.Args["operation"])
}

func TestRegistry_RoundTrip(t *testing.T) {
	reg := resolver.NewRegistry()
	reg.Register(resolver.NewMetaResolver(nil))

	r, err := reg.Get(protocol.CapabilityMeta)
	require.NoError(t, err)
	assert.Equal(t, "meta", r.Name())

	_, err = reg.Get(protocol.CapabilityEmail)
	assert.Error(t, err)
}
