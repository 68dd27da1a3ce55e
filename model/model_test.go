package model_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/circuit-breaker/engine/model"
)

func docWorkflow() *model.WorkflowDefinition {
	return &model.WorkflowDefinition{
		ID:           "doc",
		Places:       []string{"draft", "review", "approved", "archived"},
		InitialPlace: "draft",
		Activities: []model.Activity{
			{ID: "submit", FromPlaces: []string{"draft"}, ToPlace: "review"},
			{ID: "reject", FromPlaces: []string{"review"}, ToPlace: "draft"},
			{ID: "approve", FromPlaces: []string{"review"}, ToPlace: "approved", Terminal: true},
			{ID: "archive", FromPlaces: []string{"draft", "review"}, ToPlace: "archived", Terminal: true},
		},
	}
}

func TestVarsGet(t *testing.T) {
	vars := model.Vars{"1": "value", "2": 77777.77777, "3": int8(4), "4": true}

	s, err := vars.GetString("1")
	assert.NoError(t, err)
	assert.Equal(t, "value", s)

	f, err := vars.GetFloat64("2")
	assert.NoError(t, err)
	assert.Equal(t, 77777.77777, f)

	i, err := vars.GetInt64("3")
	assert.NoError(t, err)
	assert.Equal(t, int64(4), i)

	b, err := vars.GetBool("4")
	assert.NoError(t, err)
	assert.True(t, b)

	_, err = vars.GetString("missing")
	assert.ErrorIs(t, err, model.ErrVarNotFound)
	_, err = vars.GetInt64("2")
	assert.ErrorIs(t, err, model.ErrVarNotFound)
}

func TestVarsMerge(t *testing.T) {
	base := model.Vars{"title": "x", "nested": map[string]any{"a": 1}, "drop": 1}
	merged := base.Merge(model.Vars{"title": "y", "drop": nil, "new": 2})

	assert.Equal(t, "y", merged["title"])
	assert.Equal(t, 2, merged["new"])
	assert.NotContains(t, merged, "drop")
	assert.Equal(t, "x", base["title"], "merge must not mutate the receiver")

	merged["nested"].(map[string]any)["a"] = 5
	assert.Equal(t, 1, base["nested"].(map[string]any)["a"])
}

func TestVarsLookup(t *testing.T) {
	vars := model.Vars{
		"author": map[string]any{"name": "ann", "tags": []any{"x", "y"}},
	}
	v, ok := vars.Lookup("author.name")
	assert.True(t, ok)
	assert.Equal(t, "ann", v)

	v, ok = vars.Lookup("author.tags.1")
	assert.True(t, ok)
	assert.Equal(t, "y", v)

	_, ok = vars.Lookup("author.tags.7")
	assert.False(t, ok)
	_, ok = vars.Lookup("author.age")
	assert.False(t, ok)
}

func TestValuesEqualAcrossNumericKinds(t *testing.T) {
	assert.True(t, model.ValuesEqual(int64(3), float64(3)))
	assert.True(t, model.ValuesEqual(uint8(3), 3))
	assert.False(t, model.ValuesEqual(3, "3"))
	assert.True(t, model.ValuesEqual(map[string]any{"a": int16(1)}, model.Vars{"a": 1.0}))
	assert.True(t, model.ValuesEqual([]any{1, "b"}, []any{1.0, "b"}))
}

func TestActivitiesFromIsRestartable(t *testing.T) {
	wf := docWorkflow()
	seq := wf.ActivitiesFrom("review")

	first := make([]string, 0)
	for a := range seq {
		first = append(first, a.ID)
	}
	second := make([]string, 0)
	for a := range seq {
		second = append(second, a.ID)
	}
	assert.Equal(t, []string{"reject", "approve", "archive"}, first)
	assert.Equal(t, first, second)

	for a := range seq {
		assert.Equal(t, "reject", a.ID)
		break
	}
}

func TestTerminalPlaces(t *testing.T) {
	wf := docWorkflow()
	assert.ElementsMatch(t, []string{"approved", "archived"}, wf.TerminalPlaces())
	assert.True(t, wf.IsTerminalPlace("approved"))
	assert.False(t, wf.IsTerminalPlace("review"))
	assert.True(t, wf.HasPlace("review"))
	assert.False(t, wf.HasPlace("published"))
}

func TestGuardEnvLookup(t *testing.T) {
	env := model.NewGuardEnv("draft",
		model.Vars{"title": "x", "score": 1},
		model.Vars{"owner": "ann"},
		model.Vars{"score": 9},
	)
	v, ok := env.Lookup("score")
	require.True(t, ok)
	assert.Equal(t, 9, v, "input overlays data")

	v, ok = env.Lookup("data.title")
	require.True(t, ok)
	assert.Equal(t, "x", v)

	v, ok = env.Lookup("metadata.owner")
	require.True(t, ok)
	assert.Equal(t, "ann", v)

	m := env.Map()
	assert.Equal(t, "draft", m["place"])
	assert.Equal(t, "x", m["title"])
}

func TestFilterAccepts(t *testing.T) {
	r := &model.Resource{
		WorkflowID: "doc",
		Place:      "review",
		Data:       model.Vars{"title": "x"},
		Metadata:   model.Vars{"team": "a"},
	}
	assert.True(t, (&model.ResourceFilter{WorkflowID: "doc", Places: []string{"draft", "review"}}).Accepts(r))
	assert.False(t, (&model.ResourceFilter{Places: []string{"draft"}}).Accepts(r))
	assert.True(t, (&model.ResourceFilter{Metadata: model.Vars{"team": "a"}}).Accepts(r))
	assert.False(t, (&model.ResourceFilter{Data: model.Vars{"title": "y"}}).Accepts(r))
}

func TestEventRoundTripToResource(t *testing.T) {
	r := &model.Resource{ID: "r1", WorkflowID: "doc", Place: "review", Version: 2, Data: model.Vars{"title": "x"}}
	e := model.NewEvent(model.EventTokenTransitioned, r, "draft", "submit", "ann")
	e.NatsSequence = 7
	assert.Equal(t, model.KindTransitions, e.EventType.Kind())
	assert.Equal(t, model.KindLifecycle, model.EventTokenCreated.Kind())

	te := e.TransitionEvent()
	assert.Equal(t, "draft", te.FromPlace)
	assert.Equal(t, "review", te.ToPlace)
	assert.Equal(t, uint64(7), te.NatsSequence)

	back := e.Resource()
	assert.Equal(t, "review", back.Place)
	assert.Equal(t, uint64(2), back.Version)
	assert.Equal(t, uint64(7), back.NatsSequence)
}

func TestTransitionStateValidating(t *testing.T) {
	on, off := true, false
	assert.True(t, (&model.TransitionStateRequest{}).Validating())
	assert.True(t, (&model.TransitionStateRequest{Validate: &on}).Validating())
	assert.False(t, (&model.TransitionStateRequest{Validate: &off}).Validating())

	var req model.TransitionStateRequest
	require.NoError(t, json.Unmarshal([]byte(`{"resource_id":"r1","to_place":"review"}`), &req))
	assert.True(t, req.Validating())
	require.NoError(t, json.Unmarshal([]byte(`{"resource_id":"r1","to_place":"review","validate":false}`), &req))
	assert.False(t, req.Validating())
}
