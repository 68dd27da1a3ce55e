package workflow

import (
	"context"
	"iter"

	"github.com/stretchr/testify/mock"
	"gitlab.com/circuit-breaker/engine/common/eventstream"
	"gitlab.com/circuit-breaker/engine/model"
)

// MockOps is a mock type for the Ops type
type MockOps struct {
	mock.Mock
}

func ret0[T any](r mock.Arguments) T {
	if v := r.Get(0); v != nil {
		return v.(T)
	}
	var zero T
	return zero
}

// CreateWorkflow provides a mock function with given fields: ctx, def
func (_m *MockOps) CreateWorkflow(ctx context.Context, def *model.WorkflowDefinition) (*model.WorkflowDefinition, error) {
	r := _m.Called(ctx, def)
	return ret0[*model.WorkflowDefinition](r), r.Error(1)
}

// GetWorkflow provides a mock function with given fields: ctx, workflowID
func (_m *MockOps) GetWorkflow(ctx context.Context, workflowID string) (*model.WorkflowDefinition, error) {
	r := _m.Called(ctx, workflowID)
	return ret0[*model.WorkflowDefinition](r), r.Error(1)
}

// ListWorkflows provides a mock function with given fields: ctx
func (_m *MockOps) ListWorkflows(ctx context.Context) ([]*model.WorkflowDefinition, error) {
	r := _m.Called(ctx)
	return ret0[[]*model.WorkflowDefinition](r), r.Error(1)
}

// ListActivitiesFrom provides a mock function with given fields: ctx, workflowID, place
func (_m *MockOps) ListActivitiesFrom(ctx context.Context, workflowID string, place string) (iter.Seq[model.Activity], error) {
	r := _m.Called(ctx, workflowID, place)
	return ret0[iter.Seq[model.Activity]](r), r.Error(1)
}

// CreateResource provides a mock function with given fields: ctx, workflowID, initialPlace, data, metadata, triggeredBy
func (_m *MockOps) CreateResource(ctx context.Context, workflowID string, initialPlace string, data model.Vars, metadata model.Vars, triggeredBy string) (*model.Resource, error) {
	r := _m.Called(ctx, workflowID, initialPlace, data, metadata, triggeredBy)
	return ret0[*model.Resource](r), r.Error(1)
}

// GetResource provides a mock function with given fields: ctx, resourceID, opts
func (_m *MockOps) GetResource(ctx context.Context, resourceID string, opts ...GetOption) (*model.Resource, error) {
	o := &GetOptions{}
	for _, i := range opts {
		i(o)
	}
	r := _m.Called(ctx, resourceID, *o)
	return ret0[*model.Resource](r), r.Error(1)
}

// FindResource provides a mock function with given fields: ctx, workflowID, resourceID
func (_m *MockOps) FindResource(ctx context.Context, workflowID string, resourceID string) (*model.Resource, error) {
	r := _m.Called(ctx, workflowID, resourceID)
	return ret0[*model.Resource](r), r.Error(1)
}

// UpdateResource provides a mock function with given fields: ctx, resourceID, dataPatch, metadataPatch, triggeredBy
func (_m *MockOps) UpdateResource(ctx context.Context, resourceID string, dataPatch model.Vars, metadataPatch model.Vars, triggeredBy string) (*model.Resource, error) {
	r := _m.Called(ctx, resourceID, dataPatch, metadataPatch, triggeredBy)
	return ret0[*model.Resource](r), r.Error(1)
}

// DeleteResource provides a mock function with given fields: ctx, resourceID, force, triggeredBy
func (_m *MockOps) DeleteResource(ctx context.Context, resourceID string, force bool, triggeredBy string) error {
	r := _m.Called(ctx, resourceID, force, triggeredBy)
	return r.Error(0)
}

// ListResources provides a mock function with given fields: ctx, filter
func (_m *MockOps) ListResources(ctx context.Context, filter *model.ResourceFilter) (*model.ResourcePage, error) {
	r := _m.Called(ctx, filter)
	return ret0[*model.ResourcePage](r), r.Error(1)
}

// ResourcesInPlace provides a mock function with given fields: ctx, workflowID, place
func (_m *MockOps) ResourcesInPlace(ctx context.Context, workflowID string, place string) iter.Seq2[*model.Resource, error] {
	r := _m.Called(ctx, workflowID, place)
	return ret0[iter.Seq2[*model.Resource, error]](r)
}

// History provides a mock function with given fields: ctx, workflowID, resourceID
func (_m *MockOps) History(ctx context.Context, workflowID string, resourceID string) ([]model.TransitionEvent, bool, error) {
	r := _m.Called(ctx, workflowID, resourceID)
	return ret0[[]model.TransitionEvent](r), r.Bool(1), r.Error(2)
}

// AvailableActivities provides a mock function with given fields: ctx, resourceID
func (_m *MockOps) AvailableActivities(ctx context.Context, resourceID string) ([]model.AvailableActivity, error) {
	r := _m.Called(ctx, resourceID)
	return ret0[[]model.AvailableActivity](r), r.Error(1)
}

// ExecuteActivity provides a mock function with given fields: ctx, resourceID, activityID, input, triggeredBy
func (_m *MockOps) ExecuteActivity(ctx context.Context, resourceID string, activityID string, input model.Vars, triggeredBy string) (*model.ExecuteResult, error) {
	r := _m.Called(ctx, resourceID, activityID, input, triggeredBy)
	return ret0[*model.ExecuteResult](r), r.Error(1)
}

// TransitionState provides a mock function with given fields: ctx, resourceID, toPlace, activityID, data, validate, triggeredBy
func (_m *MockOps) TransitionState(ctx context.Context, resourceID string, toPlace string, activityID string, data model.Vars, validate bool, triggeredBy string) (*model.ExecuteResult, error) {
	r := _m.Called(ctx, resourceID, toPlace, activityID, data, validate, triggeredBy)
	return ret0[*model.ExecuteResult](r), r.Error(1)
}

// Subscribe provides a mock function with given fields: ctx, workflowID, kind, fn, opts
func (_m *MockOps) Subscribe(ctx context.Context, workflowID string, kind model.EventKind, fn eventstream.Handler, opts ...eventstream.SubscribeOption) (*eventstream.Subscription, error) {
	r := _m.Called(ctx, workflowID, kind, fn)
	return ret0[*eventstream.Subscription](r), r.Error(1)
}

// WatchPlace provides a mock function with given fields: ctx, workflowID, place, fn
func (_m *MockOps) WatchPlace(ctx context.Context, workflowID string, place string, fn func(n *model.PlaceNotification)) (func(), error) {
	r := _m.Called(ctx, workflowID, place, fn)
	return ret0[func()](r), r.Error(1)
}

// NewMockOps creates a new instance of MockOps. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockOps(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockOps {
	m := &MockOps{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}
