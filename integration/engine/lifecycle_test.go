package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/circuit-breaker/engine/client"
	"gitlab.com/circuit-breaker/engine/model"
	errors2 "gitlab.com/circuit-breaker/engine/server/errors"
)

func TestDraftToReview(t *testing.T) {
	t.Parallel()
	ctx, cl, wf := setup(t, client.WithTriggeredBy("alice"))

	r, err := cl.CreateResource(ctx, &model.CreateResourceRequest{WorkflowID: wf.ID, Data: model.Vars{"title": "Quarterly report"}})
	require.NoError(t, err)
	assert.Equal(t, "draft", r.Place)
	assert.Equal(t, uint64(1), r.Version)

	res, err := cl.ExecuteActivity(ctx, r.ID, "submit", nil)
	require.NoError(t, err)
	assert.Equal(t, "review", res.Resource.Place)
	assert.Equal(t, uint64(2), res.Resource.Version)
	assert.Equal(t, []string{"summary recommended"}, res.Warnings)
	assert.Equal(t, model.EventTokenTransitioned, res.Event.Kind)
	assert.Equal(t, "draft", res.Event.FromPlace)
	assert.Equal(t, "alice", res.Event.TriggeredBy)

	got, err := cl.GetResource(ctx, r.ID, client.WithWorkflow(), client.WithHistory())
	require.NoError(t, err)
	assert.Equal(t, "review", got.Place)
	require.NotNil(t, got.Workflow)
	assert.Equal(t, wf.ID, got.Workflow.ID)
	require.Len(t, got.TransitionHistory, 2)
	assert.Equal(t, model.EventTokenCreated, got.TransitionHistory[0].Kind)
	assert.Equal(t, "submit", got.TransitionHistory[1].ActivityID)
	assert.False(t, got.HistoryTruncated)
	tst.AssertNoLocks(t)
}

func TestApproveFromDraftIsRejected(t *testing.T) {
	t.Parallel()
	ctx, cl, wf := setup(t)

	r, err := cl.CreateResource(ctx, &model.CreateResourceRequest{WorkflowID: wf.ID, Data: model.Vars{"title": "x"}})
	require.NoError(t, err)

	_, err = cl.ExecuteActivity(ctx, r.ID, "approve", model.Vars{"reviewer": "kim"})
	var ae *errors2.ActivityExecutionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, errors2.CodeActivityNotApplicable, ae.Code)
	assert.Equal(t, "draft", ae.Place)

	_, err = cl.ExecuteActivity(ctx, r.ID, "publish", nil)
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, errors2.CodeActivityNotFound, ae.Code)

	got, err := cl.GetResource(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "draft", got.Place)
	assert.Equal(t, uint64(1), got.Version)
}

func TestGuardFailureReportsConditions(t *testing.T) {
	t.Parallel()
	ctx, cl, wf := setup(t)

	r, err := cl.CreateResource(ctx, &model.CreateResourceRequest{WorkflowID: wf.ID, Data: model.Vars{"title": ""}})
	require.NoError(t, err)

	_, err = cl.ExecuteActivity(ctx, r.ID, "submit", nil)
	var st *errors2.StateTransitionError
	require.ErrorAs(t, err, &st)
	assert.Equal(t, errors2.CodeGuardFailed, st.Code)
	assert.Equal(t, []string{"has-title"}, st.Failed)

	avail, err := cl.AvailableActivities(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, avail, 1)
	assert.Equal(t, "submit", avail[0].Activity.ID)
	assert.False(t, avail[0].Passes)

	res, err := cl.ExecuteActivity(ctx, r.ID, "submit", model.Vars{"title": "now set", "summary": "s"})
	require.NoError(t, err)
	assert.Equal(t, "now set", res.Resource.Data["title"])
	assert.Empty(t, res.Warnings)
}

func TestDeleteRequiresTerminalPlace(t *testing.T) {
	t.Parallel()
	ctx, cl, wf := setup(t)

	r, err := cl.CreateResource(ctx, &model.CreateResourceRequest{WorkflowID: wf.ID, Data: model.Vars{"title": "x"}})
	require.NoError(t, err)

	err = cl.DeleteResource(ctx, r.ID, false)
	var ve *errors2.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, errors2.CodeResourceNotTerminal, ve.Code)

	_, err = cl.ExecuteActivity(ctx, r.ID, "submit", nil)
	require.NoError(t, err)
	_, err = cl.ExecuteActivity(ctx, r.ID, "reject", nil)
	require.NoError(t, err)
	require.NoError(t, cl.DeleteResource(ctx, r.ID, false))

	_, err = cl.GetResource(ctx, r.ID)
	assert.ErrorIs(t, err, errors2.ErrResourceNotFound)
	found, err := cl.FindResource(ctx, wf.ID, r.ID)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestForceDelete(t *testing.T) {
	t.Parallel()
	ctx, cl, wf := setup(t)

	r, err := cl.CreateResource(ctx, &model.CreateResourceRequest{WorkflowID: wf.ID})
	require.NoError(t, err)
	require.NoError(t, cl.DeleteResource(ctx, r.ID, true))
	_, err = cl.GetResource(ctx, r.ID)
	assert.ErrorIs(t, err, errors2.ErrResourceNotFound)
}

func TestUpdateResourceMerges(t *testing.T) {
	t.Parallel()
	ctx, cl, wf := setup(t)

	r, err := cl.CreateResource(ctx, &model.CreateResourceRequest{WorkflowID: wf.ID, Data: model.Vars{"title": "a", "pages": 2}, Metadata: model.Vars{"owner": "sam"}})
	require.NoError(t, err)

	u, err := cl.UpdateResource(ctx, &model.UpdateResourceRequest{ResourceID: r.ID, Data: model.Vars{"title": "b"}, Metadata: model.Vars{"team": "ops"}, TriggeredBy: "bob"})
	require.NoError(t, err)
	assert.Equal(t, "b", u.Data["title"])
	assert.EqualValues(t, 2, u.Data["pages"])
	assert.Equal(t, model.Vars{"owner": "sam", "team": "ops"}, u.Metadata)
	assert.Equal(t, uint64(2), u.Version)
	assert.Equal(t, "draft", u.Place)

	events, truncated, err := cl.History(ctx, wf.ID, r.ID)
	require.NoError(t, err)
	assert.False(t, truncated)
	require.Len(t, events, 2)
	assert.Equal(t, model.EventTokenUpdated, events[1].Kind)
	assert.Equal(t, "bob", events[1].TriggeredBy)
}

func TestAdministrativeTransition(t *testing.T) {
	t.Parallel()
	ctx, cl, wf := setup(t)

	r, err := cl.CreateResource(ctx, &model.CreateResourceRequest{WorkflowID: wf.ID})
	require.NoError(t, err)

	_, err = cl.TransitionState(ctx, &model.TransitionStateRequest{ResourceID: r.ID, ToPlace: "archived"})
	var st *errors2.StateTransitionError
	require.ErrorAs(t, err, &st)
	assert.Equal(t, errors2.CodeInvalidTargetPlace, st.Code)

	_, err = cl.TransitionState(ctx, &model.TransitionStateRequest{ResourceID: r.ID, ToPlace: "review", ActivityID: "no-such-activity"})
	var ae *errors2.ActivityExecutionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, errors2.CodeActivityNotFound, ae.Code)

	off := false
	moved, err := cl.TransitionState(ctx, &model.TransitionStateRequest{ResourceID: r.ID, ToPlace: "review", ActivityID: "imported", Validate: &off})
	require.NoError(t, err)
	assert.Equal(t, "imported", moved.Event.ActivityID)

	res, err := cl.TransitionState(ctx, &model.TransitionStateRequest{ResourceID: r.ID, ToPlace: "approved", Data: model.Vars{"forced": true}, TriggeredBy: "admin"})
	require.NoError(t, err)
	assert.Equal(t, "approved", res.Resource.Place)
	assert.Equal(t, model.EventTokenMoved, res.Event.Kind)
	assert.Equal(t, "admin", res.Event.TriggeredBy)
	assert.Equal(t, true, res.Resource.Data["forced"])
}

func TestCreateInUndeclaredPlace(t *testing.T) {
	t.Parallel()
	ctx, cl, wf := setup(t)
	_, err := cl.CreateResource(ctx, &model.CreateResourceRequest{WorkflowID: wf.ID, InitialPlace: "nowhere"})
	var ve *errors2.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, errors2.CodeInvalidInitialState, ve.Code)

	_, err = cl.CreateResource(ctx, &model.CreateResourceRequest{WorkflowID: "missing"})
	assert.ErrorIs(t, err, errors2.ErrWorkflowNotFound)
}

func TestPlaceNotifications(t *testing.T) {
	t.Parallel()
	ctx, cl, wf := setup(t)

	got := make(chan *model.PlaceNotification, 10)
	stop, err := cl.WatchPlace(wf.ID, "", func(n *model.PlaceNotification) { got <- n })
	require.NoError(t, err)
	defer stop()
	require.NoError(t, cl.Flush())

	r, err := cl.CreateResource(ctx, &model.CreateResourceRequest{WorkflowID: wf.ID, Data: model.Vars{"title": "x"}})
	require.NoError(t, err)
	_, err = cl.ExecuteActivity(ctx, r.ID, "submit", nil)
	require.NoError(t, err)

	want := []struct {
		place   string
		entered bool
	}{{"draft", true}, {"draft", false}, {"review", true}}
	for _, w := range want {
		select {
		case n := <-got:
			assert.Equal(t, r.ID, n.TokenID)
			assert.Equal(t, w.place, n.Place)
			assert.Equal(t, w.entered, n.Entered)
		case <-time.After(5 * time.Second):
			t.Fatalf("no notification for %s", w.place)
		}
	}
}

func TestDataSchemaIsEnforced(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cl := tst.NewClient(t)
	def := documentWorkflow()
	def.DataSchema = map[string]any{
		"type":       "object",
		"properties": map[string]any{"title": map[string]any{"type": "string"}},
		"required":   []any{"title"},
	}
	wf, err := cl.CreateWorkflow(ctx, def)
	require.NoError(t, err)

	_, err = cl.CreateResource(ctx, &model.CreateResourceRequest{WorkflowID: wf.ID, Data: model.Vars{"pages": 2}})
	var ve *errors2.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, errors2.CodeSchemaViolation, ve.Code)

	r, err := cl.CreateResource(ctx, &model.CreateResourceRequest{WorkflowID: wf.ID, Data: model.Vars{"title": "ok"}})
	require.NoError(t, err)

	_, err = cl.UpdateResource(ctx, &model.UpdateResourceRequest{ResourceID: r.ID, Data: model.Vars{"title": 7}})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, errors2.CodeSchemaViolation, ve.Code)

	_, err = cl.TransitionState(ctx, &model.TransitionStateRequest{ResourceID: r.ID, ToPlace: "review", Data: model.Vars{"title": nil}})
	require.ErrorAs(t, err, &ve)

	got, err := cl.GetResource(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Version)
	assert.Equal(t, "draft", got.Place)

	_, err = cl.ExecuteActivity(ctx, r.ID, "submit", nil)
	require.NoError(t, err)
	_, err = cl.ExecuteActivity(ctx, r.ID, "reject", model.Vars{"title": 7})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, errors2.CodeSchemaViolation, ve.Code)

	got, err = cl.GetResource(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Version)
	assert.Equal(t, "review", got.Place)
	assert.Equal(t, "ok", got.Data["title"])
	tst.AssertNoLocks(t)
}
