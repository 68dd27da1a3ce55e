package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/require"
	"gitlab.com/circuit-breaker/engine/client"
	"gitlab.com/circuit-breaker/engine/model"
)

// documentWorkflow is a review process: draft -> review -> approved | rejected, with a way back to draft.
func documentWorkflow() *model.WorkflowDefinition {
	return &model.WorkflowDefinition{
		ID:           "doc_" + strings.ToLower(ksuid.New().String()),
		Name:         "Document review",
		Places:       []string{"draft", "review", "approved", "rejected"},
		InitialPlace: "draft",
		Activities: []model.Activity{
			{ID: "submit", FromPlaces: []string{"draft"}, ToPlace: "review", Conditions: []model.Condition{
				{ID: "has-title", Kind: model.ConditionLength, Field: "title", Op: model.OpGreaterThan, Value: 0},
				{ID: "has-summary", Kind: model.ConditionExists, Field: "summary", Soft: true, Message: "summary recommended"},
			}},
			{ID: "approve", FromPlaces: []string{"review"}, ToPlace: "approved", Terminal: true, Conditions: []model.Condition{
				{ID: "reviewer", Kind: model.ConditionExists, Field: "input.reviewer"},
			}},
			{ID: "reject", FromPlaces: []string{"review"}, ToPlace: "rejected", Terminal: true},
			{ID: "revise", FromPlaces: []string{"review", "rejected"}, ToPlace: "draft"},
		},
	}
}

func setup(t *testing.T, opts ...client.ConfigurationOption) (context.Context, *client.Client, *model.WorkflowDefinition) {
	t.Helper()
	ctx := context.Background()
	cl := tst.NewClient(t, opts...)
	wf, err := cl.CreateWorkflow(ctx, documentWorkflow())
	require.NoError(t, err)
	return ctx, cl, wf
}
