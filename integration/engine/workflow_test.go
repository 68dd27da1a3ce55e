package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/circuit-breaker/engine/common/eventstream"
	"gitlab.com/circuit-breaker/engine/model"
	errors2 "gitlab.com/circuit-breaker/engine/server/errors"
	"gitlab.com/circuit-breaker/engine/server/messages"
)

func TestWorkflowRegistry(t *testing.T) {
	t.Parallel()
	ctx, cl, wf := setup(t)
	assert.False(t, wf.CreatedAt.IsZero())

	got, err := cl.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, wf.Places, got.Places)
	assert.Len(t, got.Activities, 4)

	_, err = cl.CreateWorkflow(ctx, &model.WorkflowDefinition{ID: wf.ID, Places: []string{"a"}, InitialPlace: "a"})
	var ve *errors2.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, errors2.CodeWorkflowExists, ve.Code)

	all, err := cl.ListWorkflows(ctx)
	require.NoError(t, err)
	found := false
	for _, w := range all {
		if w.ID == wf.ID {
			found = true
		}
	}
	assert.True(t, found)

	acts, err := cl.ListActivitiesFrom(ctx, wf.ID, "review")
	require.NoError(t, err)
	ids := make([]string, 0, len(acts))
	for _, a := range acts {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"approve", "reject", "revise"}, ids)

	_, err = cl.GetWorkflow(ctx, "no_such_workflow")
	assert.ErrorIs(t, err, errors2.ErrWorkflowNotFound)
}

func TestInvalidWorkflowIsRejected(t *testing.T) {
	t.Parallel()
	cl := tst.NewClient(t)
	wf := documentWorkflow()
	wf.Activities = append(wf.Activities, model.Activity{ID: "submit", FromPlaces: []string{"draft"}, ToPlace: "review"})

	_, err := cl.CreateWorkflow(context.Background(), wf)
	var ve *errors2.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, errors2.CodeDuplicateActivity, ve.Code)

	_, err = cl.GetWorkflow(context.Background(), wf.ID)
	assert.ErrorIs(t, err, errors2.ErrWorkflowNotFound)
}

func TestGeneratedWorkflowID(t *testing.T) {
	t.Parallel()
	cl := tst.NewClient(t)
	wf := documentWorkflow()
	wf.ID = ""
	created, err := cl.CreateWorkflow(context.Background(), wf)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
}

func TestStreamFailureRollsBackDefinition(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cl := tst.NewClient(t)
	js, err := tst.GetJetstream()
	require.NoError(t, err)
	wf := documentWorkflow()

	// a foreign stream already owns the workflow's event subjects
	squatter := "SQUAT_" + strings.ToUpper(wf.ID)
	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:     squatter,
		Subjects: []string{fmt.Sprintf(messages.WorkflowEventsAll, wf.ID)},
		Storage:  jetstream.MemoryStorage,
	})
	require.NoError(t, err)

	_, err = cl.CreateWorkflow(ctx, wf)
	require.Error(t, err)
	_, err = cl.GetWorkflow(ctx, wf.ID)
	assert.ErrorIs(t, err, errors2.ErrWorkflowNotFound)

	require.NoError(t, js.DeleteStream(ctx, squatter))
	created, err := cl.CreateWorkflow(ctx, wf)
	require.NoError(t, err)
	_, err = cl.CreateResource(ctx, &model.CreateResourceRequest{WorkflowID: created.ID, Data: model.Vars{"title": "x"}})
	require.NoError(t, err)
}

func TestSubscribeToTransitions(t *testing.T) {
	t.Parallel()
	ctx, cl, wf := setup(t)

	got := make(chan *model.Event, 4)
	sub, err := cl.Subscribe(ctx, wf.ID, model.KindTransitions, func(ctx context.Context, ev *model.Event) error {
		got <- ev
		return nil
	}, eventstream.WithDeliverAll())
	require.NoError(t, err)
	defer sub.Stop()

	r, err := cl.CreateResource(ctx, &model.CreateResourceRequest{WorkflowID: wf.ID, Data: model.Vars{"title": "x"}})
	require.NoError(t, err)
	_, err = cl.ExecuteActivity(ctx, r.ID, "submit", nil)
	require.NoError(t, err)

	select {
	case ev := <-got:
		assert.Equal(t, model.EventTokenTransitioned, ev.EventType)
		assert.Equal(t, r.ID, ev.TokenID)
		assert.Equal(t, "review", ev.ToPlace)
		assert.Equal(t, uint64(2), ev.ResourceVersion)
		assert.NotZero(t, ev.NatsSequence)
	case <-time.After(5 * time.Second):
		t.Fatal("no transition event delivered")
	}
	select {
	case ev := <-got:
		t.Fatalf("unexpected event %s", ev.EventType)
	case <-time.After(200 * time.Millisecond):
	}
}
