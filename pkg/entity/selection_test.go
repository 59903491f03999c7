package entity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donnahq/donna/pkg/entity"
)

func twoCandidates() *entity.Disambiguation {
	return &entity.Disambiguation{
		Candidates: []entity.Candidate{
			{ID: "e1", DisplayText: "פגישה עם דני - שלישי 10:00", Score: 0.72},
			{ID: "e2", DisplayText: "פגישה עם דני - חמישי 14:00", Score: 0.68},
		},
		Question: "מצאתי כמה אפשרויות",
	}
}

func TestApplySelection_Numeric(t *testing.T) {
	res := entity.ApplySelection("2", twoCandidates(), map[string]any{"operation": "delete"})
	require.NotNil(t, res.Resolved)
	assert.Equal(t, []string{"e2"}, res.Resolved.ResolvedIDs)
	assert.Equal(t, "e2", res.Resolved.Args["eventId"])
	assert.Equal(t, "delete", res.Resolved.Args["operation"])
}

func TestApplySelection_OutOfRangeReemits(t *testing.T) {
	res := entity.ApplySelection("7", twoCandidates(), nil)
	require.NotNil(t, res.Disambiguation)
	assert.Len(t, res.Disambiguation.Candidates, 2)
	assert.Contains(t, res.Disambiguation.Question, "מספר")
}

func TestApplySelection_AllTokens(t *testing.T) {
	for _, token := range []string{"שניהם", "כולם", "both", "all"} {
		d := twoCandidates()
		d.AllowMultiple = true
		res := entity.ApplySelection(token, d, nil)
		require.NotNil(t, res.Resolved, "token=%q", token)
		assert.Equal(t, []string{"e1", "e2"}, res.Resolved.ResolvedIDs)
		assert.Equal(t, []string{"e1", "e2"}, res.Resolved.Args["eventIds"])
	}
}

func TestApplySelection_NumberList(t *testing.T) {
	d := &entity.Disambiguation{
		Candidates: []entity.Candidate{
			{ID: "t1", DisplayText: "לקנות חלב"},
			{ID: "t2", DisplayText: "להתקשר לאמא"},
			{ID: "t3", DisplayText: "לשלם חשבון"},
		},
		AllowMultiple: true,
	}
	res := entity.ApplySelection("1,3", d, map[string]any{"_entityType": "task"})
	require.NotNil(t, res.Resolved)
	assert.Equal(t, []string{"t1", "t3"}, res.Resolved.ResolvedIDs)
	assert.Equal(t, []string{"t1", "t3"}, res.Resolved.Args["taskIds"])
}

func TestApplySelection_ArrayWithoutAllowMultipleRejected(t *testing.T) {
	res := entity.ApplySelection([]int{1, 2}, twoCandidates(), nil)
	require.NotNil(t, res.Disambiguation)
}

func TestApplySelection_TaskEntityTypeKeys(t *testing.T) {
	d := &entity.Disambiguation{
		Candidates: []entity.Candidate{{ID: "t1", DisplayText: "לקנות חלב"}},
	}
	res := entity.ApplySelection(1, d, map[string]any{"_entityType": "task"})
	require.NotNil(t, res.Resolved)
	assert.Equal(t, "t1", res.Resolved.Args["taskId"])
}

func recurringChoiceSet() *entity.Disambiguation {
	return &entity.Disambiguation{
		Candidates: []entity.Candidate{
			{ID: entity.ChoiceAll, DisplayText: "כל הסדרה", Metadata: entity.CandidateMetadata{RecurringSeriesID: "s1", IsRecurringSeries: true}},
			{ID: entity.ChoiceSingle, DisplayText: "רק את הקרובה", Metadata: entity.CandidateMetadata{EventID: "occ1"}},
		},
		Question: "למחוק את כל הסדרה או רק את הקרובה?",
	}
}

func TestApplySelection_RecurringSeries(t *testing.T) {
	for _, token := range []string{"1", "all", "כל הסדרה"} {
		res := entity.ApplySelection(token, recurringChoiceSet(), map[string]any{"operation": "delete"})
		require.NotNil(t, res.Resolved, "token=%q", token)
		assert.Equal(t, "s1", res.Resolved.Args["eventId"])
		assert.Equal(t, true, res.Resolved.Args["isRecurringSeries"])
		assert.True(t, res.Resolved.IsRecurring)
	}
}

func TestApplySelection_RecurringSingle(t *testing.T) {
	for _, token := range []string{"2", "single", "רק את הקרובה"} {
		res := entity.ApplySelection(token, recurringChoiceSet(), nil)
		require.NotNil(t, res.Resolved, "token=%q", token)
		assert.Equal(t, "occ1", res.Resolved.Args["eventId"])
		assert.Equal(t, false, res.Resolved.Args["isRecurringSeries"])
	}
}

func TestApplySelection_RecurringGarbageReemits(t *testing.T) {
	res := entity.ApplySelection("אולי", recurringChoiceSet(), nil)
	require.NotNil(t, res.Disambiguation)
	assert.Len(t, res.Disambiguation.Candidates, 2)
}

func TestApplySelection_EveryValidIndexResolvesSubset(t *testing.T) {
	d := twoCandidates()
	ids := map[string]bool{"e1": true, "e2": true}
	for n := 1; n <= len(d.Candidates); n++ {
		res := entity.ApplySelection(n, d, nil)
		require.NotNil(t, res.Resolved)
		for _, id := range res.Resolved.ResolvedIDs {
			assert.True(t, ids[id])
		}
	}
}
