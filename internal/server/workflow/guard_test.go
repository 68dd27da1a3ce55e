package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/circuit-breaker/engine/common/expression"
	"gitlab.com/circuit-breaker/engine/model"
	errors2 "gitlab.com/circuit-breaker/engine/server/errors"
)

func guardEngine() *Engine {
	return &Engine{
		expr:         &expression.ExprEngine{},
		guardTimeout: 100 * time.Millisecond,
		functions:    make(map[string]ConditionFunc),
	}
}

func TestConditionKinds(t *testing.T) {
	e := guardEngine()
	env := model.NewGuardEnv("draft",
		model.Vars{"title": "hello", "pages": 3, "tags": []any{"a", "b"}, "author": map[string]any{"name": "sam"}},
		model.Vars{"reviewer": "kim"},
		model.Vars{"pages": 5})

	tests := []struct {
		name string
		c    model.Condition
		want bool
	}{
		{"equals", model.Condition{Kind: model.ConditionEquals, Field: "title", Value: "hello"}, true},
		{"equals nested", model.Condition{Kind: model.ConditionEquals, Field: "author.name", Value: "sam"}, true},
		{"equals metadata", model.Condition{Kind: model.ConditionEquals, Field: "metadata.reviewer", Value: "kim"}, true},
		{"not equals missing", model.Condition{Kind: model.ConditionNotEquals, Field: "missing", Value: 1}, true},
		{"input overlays data", model.Condition{Kind: model.ConditionCompare, Field: "pages", Op: model.OpEqual, Value: 5}, true},
		{"data scope reads merged view", model.Condition{Kind: model.ConditionCompare, Field: "data.pages", Op: model.OpGreaterThan, Value: 4}, true},
		{"compare fails", model.Condition{Kind: model.ConditionCompare, Field: "pages", Op: model.OpLessThan, Value: 2}, false},
		{"length string", model.Condition{Kind: model.ConditionLength, Field: "title", Op: model.OpGreaterThan, Value: 0}, true},
		{"length list", model.Condition{Kind: model.ConditionLength, Field: "tags", Op: model.OpEqual, Value: 2}, true},
		{"length missing", model.Condition{Kind: model.ConditionLength, Field: "summary", Op: model.OpGreaterThan, Value: 0}, false},
		{"matches", model.Condition{Kind: model.ConditionMatches, Field: "title", Pattern: "^hel"}, true},
		{"exists", model.Condition{Kind: model.ConditionExists, Field: "input.pages"}, true},
		{"not exists", model.Condition{Kind: model.ConditionExists, Field: "input.title"}, false},
		{"expression", model.Condition{Kind: model.ConditionExpression, Expression: `len(title) > 0 && metadata.reviewer == "kim"`}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := e.evaluateCondition(context.Background(), tt.c, env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestSoftConditionWarns(t *testing.T) {
	e := guardEngine()
	act := &model.Activity{ID: "submit", Conditions: []model.Condition{
		{Kind: model.ConditionExists, Field: "title"},
		{Kind: model.ConditionExists, Field: "summary", Soft: true, Message: "summary recommended"},
	}}
	res, err := e.evaluateGuard(context.Background(), act, model.NewGuardEnv("draft", model.Vars{"title": "x"}, nil, nil))
	require.NoError(t, err)
	assert.True(t, res.passed())
	assert.Equal(t, []string{"summary recommended"}, res.warnings)
}

func TestHardConditionFails(t *testing.T) {
	e := guardEngine()
	act := &model.Activity{ID: "submit", Conditions: []model.Condition{
		{ID: "has-title", Kind: model.ConditionLength, Field: "title", Op: model.OpGreaterThan, Value: 0},
	}}
	res, err := e.evaluateGuard(context.Background(), act, model.NewGuardEnv("draft", model.Vars{"title": ""}, nil, nil))
	require.NoError(t, err)
	assert.False(t, res.passed())
	assert.Equal(t, []string{"has-title"}, res.failures)
}

func TestCustomConditionTimeout(t *testing.T) {
	e := guardEngine()
	require.NoError(t, e.RegisterCondition("slow", func(ctx context.Context, _ model.GuardEnv, _ model.Condition) (bool, error) {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(time.Second):
			return true, nil
		}
	}))
	act := &model.Activity{ID: "submit", Conditions: []model.Condition{{Kind: model.ConditionCustom, Function: "slow"}}}
	_, err := e.evaluateGuard(context.Background(), act, model.NewGuardEnv("draft", nil, nil, nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors2.ErrStateTransition)
	assert.Equal(t, errors2.CodeGuardTimeout, errors2.Code(err))
}

func TestCustomConditionPanicIsGuardError(t *testing.T) {
	e := guardEngine()
	require.NoError(t, e.RegisterCondition("broken", func(context.Context, model.GuardEnv, model.Condition) (bool, error) {
		panic("boom")
	}))
	act := &model.Activity{ID: "submit", Conditions: []model.Condition{{Kind: model.ConditionCustom, Function: "broken"}}}
	res, err := e.evaluateGuard(context.Background(), act, model.NewGuardEnv("draft", nil, nil, nil))
	require.NoError(t, err)
	assert.ErrorContains(t, res.err, "boom")
	assert.False(t, res.passed())
}

func TestPlaceNotifications(t *testing.T) {
	from := &model.Resource{ID: "r1", WorkflowID: "wf", Place: "draft"}
	to := &model.Resource{ID: "r1", WorkflowID: "wf", Place: "review", NatsSequence: 7}

	n := placeNotifications(from, to, false)
	require.Len(t, n, 2)
	assert.Equal(t, "draft", n[0].Place)
	assert.False(t, n[0].Entered)
	assert.Equal(t, "review", n[1].Place)
	assert.True(t, n[1].Entered)
	assert.Equal(t, uint64(7), n[1].NatsSequence)

	assert.Empty(t, placeNotifications(from, from.Clone(), false))
	del := placeNotifications(from, from.Clone(), true)
	require.Len(t, del, 1)
	assert.False(t, del[0].Entered)
	assert.Len(t, placeNotifications(nil, to, false), 1)
}

func TestSortResources(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rs := []*model.Resource{
		{ID: "b", CreatedAt: base.Add(time.Minute), UpdatedAt: base},
		{ID: "a", CreatedAt: base, UpdatedAt: base.Add(time.Hour)},
		{ID: "c", CreatedAt: base, UpdatedAt: base.Add(time.Second)},
	}
	sortResources(rs, model.OrderByCreated, false)
	assert.Equal(t, []string{"a", "c", "b"}, []string{rs[0].ID, rs[1].ID, rs[2].ID})
	sortResources(rs, model.OrderByUpdated, true)
	assert.Equal(t, []string{"a", "c", "b"}, []string{rs[0].ID, rs[1].ID, rs[2].ID})
}
