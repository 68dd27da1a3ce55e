package api

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gitlab.com/circuit-breaker/engine/common/header"
	"gitlab.com/circuit-breaker/engine/common/version"
	"gitlab.com/circuit-breaker/engine/internal/server/workflow"
	"gitlab.com/circuit-breaker/engine/model"
	errors2 "gitlab.com/circuit-breaker/engine/server/errors"
	"gitlab.com/circuit-breaker/engine/server/messages"
	"gitlab.com/circuit-breaker/engine/server/server/option"
)

func newTestEndpoints(t *testing.T) (*Endpoints, *workflow.MockOps) {
	ops := workflow.NewMockOps(t)
	endpoints, err := New(ops, nil, &option.ServerOptions{PanicRecovery: true})
	require.NoError(t, err)
	return endpoints, ops
}

func TestCreateResourceTriggeredByFromBody(t *testing.T) {
	endpoints, ops := newTestEndpoints(t)
	ctx := header.WithTriggeredBy(context.Background(), "header-user")
	req := &model.CreateResourceRequest{WorkflowID: "doc", Data: model.Vars{"title": "a"}, TriggeredBy: "body-user"}

	ops.On("CreateResource", ctx, "doc", "", req.Data, model.Vars(nil), "body-user").
		Return(&model.Resource{ID: "r1", WorkflowID: "doc", Place: "draft", Version: 1}, nil)

	r, err := endpoints.createResource(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "r1", r.ID)
}

func TestTriggeredByFallsBackToHeaderThenSystem(t *testing.T) {
	endpoints, ops := newTestEndpoints(t)
	withHeader := header.WithTriggeredBy(context.Background(), "header-user")
	bare := context.Background()

	ops.On("UpdateResource", withHeader, "r1", model.Vars{"a": 1}, model.Vars(nil), "header-user").Return(&model.Resource{ID: "r1"}, nil)
	ops.On("UpdateResource", bare, "r1", model.Vars{"a": 1}, model.Vars(nil), header.DefaultTriggeredBy).Return(&model.Resource{ID: "r1"}, nil)

	_, err := endpoints.updateResource(withHeader, &model.UpdateResourceRequest{ResourceID: "r1", Data: model.Vars{"a": 1}})
	require.NoError(t, err)
	_, err = endpoints.updateResource(bare, &model.UpdateResourceRequest{ResourceID: "r1", Data: model.Vars{"a": 1}})
	require.NoError(t, err)
}

func TestGetResourceExpansions(t *testing.T) {
	endpoints, ops := newTestEndpoints(t)
	ctx := context.Background()
	ops.On("GetResource", ctx, "r1", workflow.GetOptions{Workflow: true, History: true}).Return(&model.Resource{ID: "r1"}, nil)

	r, err := endpoints.getResource(ctx, &model.GetResourceRequest{ResourceID: "r1", WithWorkflow: true, WithHistory: true})
	require.NoError(t, err)
	assert.Equal(t, "r1", r.ID)
}

func TestExecuteActivityKeepsTypedError(t *testing.T) {
	endpoints, ops := newTestEndpoints(t)
	ctx := context.Background()
	guardErr := &errors2.StateTransitionError{Code: errors2.CodeGuardFailed, ResourceID: "r1", ActivityID: "approve", Failed: []string{"reviewer required"}}
	ops.On("ExecuteActivity", ctx, "r1", "approve", model.Vars(nil), header.DefaultTriggeredBy).Return(nil, guardErr)

	_, err := endpoints.executeActivity(ctx, &model.ExecuteActivityRequest{ResourceID: "r1", ActivityID: "approve"})
	var st *errors2.StateTransitionError
	require.ErrorAs(t, err, &st)
	assert.Equal(t, errors2.CodeGuardFailed, st.Code)
}

func TestTransitionStateValidatesByDefault(t *testing.T) {
	endpoints, ops := newTestEndpoints(t)
	ctx := context.Background()
	ops.On("TransitionState", ctx, "r1", "review", "submit", model.Vars(nil), true, header.DefaultTriggeredBy).Return(&model.ExecuteResult{}, nil)
	ops.On("TransitionState", ctx, "r2", "review", "", model.Vars(nil), false, header.DefaultTriggeredBy).Return(&model.ExecuteResult{}, nil)

	_, err := endpoints.transitionState(ctx, &model.TransitionStateRequest{ResourceID: "r1", ToPlace: "review", ActivityID: "submit"})
	require.NoError(t, err)
	off := false
	_, err = endpoints.transitionState(ctx, &model.TransitionStateRequest{ResourceID: "r2", ToPlace: "review", Validate: &off})
	require.NoError(t, err)
}

func TestDeleteResourcePassesForce(t *testing.T) {
	endpoints, ops := newTestEndpoints(t)
	ctx := context.Background()
	ops.On("DeleteResource", ctx, "r1", true, "admin").Return(nil)

	res, err := endpoints.deleteResource(ctx, &model.DeleteResourceRequest{ResourceID: "r1", Force: true, TriggeredBy: "admin"})
	require.NoError(t, err)
	assert.Equal(t, "r1", res.ResourceID)
}

func TestCreateWorkflowRequiresDefinition(t *testing.T) {
	endpoints, _ := newTestEndpoints(t)
	_, err := endpoints.createWorkflow(context.Background(), &model.CreateWorkflowRequest{})
	assert.ErrorIs(t, err, errors2.ErrValidation)
}

func TestListActivitiesCollectsSequence(t *testing.T) {
	endpoints, ops := newTestEndpoints(t)
	ctx := context.Background()
	wf := &model.WorkflowDefinition{
		Places: []string{"draft", "review"},
		Activities: []model.Activity{
			{ID: "submit", FromPlaces: []string{"draft"}, ToPlace: "review"},
			{ID: "reject", FromPlaces: []string{"review"}, ToPlace: "draft"},
		},
	}
	ops.On("ListActivitiesFrom", ctx, "doc", "draft").Return(wf.ActivitiesFrom("draft"), nil)

	res, err := endpoints.listActivities(ctx, &model.ListActivitiesRequest{WorkflowID: "doc", Place: "draft"})
	require.NoError(t, err)
	require.Len(t, res.Activities, 1)
	assert.Equal(t, "submit", res.Activities[0].ID)
}

func TestResourcesInPlaceStreamsUntilError(t *testing.T) {
	endpoints, ops := newTestEndpoints(t)
	ctx := context.Background()
	boom := errors.New("boom")
	var seq iter.Seq2[*model.Resource, error] = func(yield func(*model.Resource, error) bool) {
		if !yield(&model.Resource{ID: "r1"}, nil) {
			return
		}
		yield(nil, boom)
	}
	ops.On("ResourcesInPlace", ctx, "doc", "review").Return(seq)

	res := make(chan *model.Resource)
	errs := make(chan error, 1)
	go endpoints.resourcesInPlace(ctx, &model.ResourcesInPlaceRequest{WorkflowID: "doc", Place: "review"}, res, errs)

	assert.Equal(t, "r1", (<-res).ID)
	assert.ErrorIs(t, <-errs, boom)
}

func TestCheckCaller(t *testing.T) {
	msg := nats.NewMsg(messages.APIResourceGet)
	assert.Error(t, checkCaller(msg))

	msg.Header.Set(header.EngineVersion, "0.0.1")
	assert.ErrorContains(t, checkCaller(msg), "required")

	msg.Header.Set(header.EngineVersion, version.Version)
	assert.NoError(t, checkCaller(msg))

	assert.NoError(t, checkCaller(nats.NewMsg(messages.APIGetVersionInfo)))
}

func TestEntrypointCarriesHeaders(t *testing.T) {
	endpoints, _ := newTestEndpoints(t)
	msg := nats.NewMsg(messages.APIResourceGet)
	msg.Header.Set(header.TriggeredBy, "alice")
	msg.Header.Set(header.Correlation, "c-1")

	ctx, log, err := entrypoint(endpoints, msg)
	require.NoError(t, err)
	assert.NotNil(t, log)
	assert.Equal(t, "alice", header.ResolveTriggeredBy(ctx, ""))
}

func TestVersionInfo(t *testing.T) {
	endpoints, _ := newTestEndpoints(t)
	res, err := endpoints.versionInfo(context.Background(), &model.VersionRequest{ClientVersion: version.Version})
	require.NoError(t, err)
	assert.True(t, res.Connectable)
	assert.Equal(t, version.Version, res.ServerVersion)

	res, err = endpoints.versionInfo(context.Background(), &model.VersionRequest{ClientVersion: "garbage"})
	require.NoError(t, err)
	assert.False(t, res.Connectable)
}

func TestListWorkflowsStops(t *testing.T) {
	endpoints, ops := newTestEndpoints(t)
	ctx := context.Background()
	ops.On("ListWorkflows", mock.Anything).Return([]*model.WorkflowDefinition{{ID: "a"}, {ID: "b"}}, nil)

	res := make(chan *model.WorkflowDefinition)
	errs := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		endpoints.listWorkflows(ctx, &model.ListWorkflowsRequest{}, res, errs)
		close(done)
	}()
	assert.Equal(t, "a", (<-res).ID)
	assert.Equal(t, "b", (<-res).ID)
	<-done
	assert.Len(t, errs, 0)
}
