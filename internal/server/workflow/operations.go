package workflow

import (
	"context"
	"iter"

	"gitlab.com/circuit-breaker/engine/common/eventstream"
	"gitlab.com/circuit-breaker/engine/model"
)

// Ops is the interface of the engine operations served by the API.
type Ops interface {
	CreateWorkflow(ctx context.Context, def *model.WorkflowDefinition) (*model.WorkflowDefinition, error)
	GetWorkflow(ctx context.Context, workflowID string) (*model.WorkflowDefinition, error)
	ListWorkflows(ctx context.Context) ([]*model.WorkflowDefinition, error)
	ListActivitiesFrom(ctx context.Context, workflowID string, place string) (iter.Seq[model.Activity], error)
	CreateResource(ctx context.Context, workflowID string, initialPlace string, data model.Vars, metadata model.Vars, triggeredBy string) (*model.Resource, error)
	GetResource(ctx context.Context, resourceID string, opts ...GetOption) (*model.Resource, error)
	FindResource(ctx context.Context, workflowID string, resourceID string) (*model.Resource, error)
	UpdateResource(ctx context.Context, resourceID string, dataPatch model.Vars, metadataPatch model.Vars, triggeredBy string) (*model.Resource, error)
	DeleteResource(ctx context.Context, resourceID string, force bool, triggeredBy string) error
	ListResources(ctx context.Context, filter *model.ResourceFilter) (*model.ResourcePage, error)
	ResourcesInPlace(ctx context.Context, workflowID string, place string) iter.Seq2[*model.Resource, error]
	History(ctx context.Context, workflowID string, resourceID string) ([]model.TransitionEvent, bool, error)
	AvailableActivities(ctx context.Context, resourceID string) ([]model.AvailableActivity, error)
	ExecuteActivity(ctx context.Context, resourceID string, activityID string, input model.Vars, triggeredBy string) (*model.ExecuteResult, error)
	TransitionState(ctx context.Context, resourceID string, toPlace string, activityID string, data model.Vars, validate bool, triggeredBy string) (*model.ExecuteResult, error)
	Subscribe(ctx context.Context, workflowID string, kind model.EventKind, fn eventstream.Handler, opts ...eventstream.SubscribeOption) (*eventstream.Subscription, error)
	WatchPlace(ctx context.Context, workflowID string, place string, fn func(n *model.PlaceNotification)) (func(), error)
}

var _ Ops = (*Engine)(nil)
