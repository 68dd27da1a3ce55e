package api

import (
	"context"
	"fmt"

	"gitlab.com/circuit-breaker/engine/common/header"
	"gitlab.com/circuit-breaker/engine/internal/server/workflow"
	"gitlab.com/circuit-breaker/engine/model"
	errors2 "gitlab.com/circuit-breaker/engine/server/errors"
)

func (s *Endpoints) createWorkflow(ctx context.Context, req *model.CreateWorkflowRequest) (*model.WorkflowDefinition, error) {
	if req.Workflow == nil {
		return nil, errors2.NewValidation(errors2.CodeInvalidDefinition, "workflow", "no workflow definition supplied")
	}
	wf, err := s.ops.CreateWorkflow(ctx, req.Workflow)
	if err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}
	return wf, nil
}

func (s *Endpoints) getWorkflow(ctx context.Context, req *model.GetWorkflowRequest) (*model.WorkflowDefinition, error) {
	if req.WorkflowID == "" {
		return nil, errors2.NewValidation(errors2.CodeInvalidInput, "workflow_id", "%s", errors2.ErrMissingID)
	}
	wf, err := s.ops.GetWorkflow(ctx, req.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return wf, nil
}

func (s *Endpoints) listWorkflows(ctx context.Context, _ *model.ListWorkflowsRequest, res chan<- *model.WorkflowDefinition, errs chan<- error) {
	wfs, err := s.ops.ListWorkflows(ctx)
	if err != nil {
		errs <- fmt.Errorf("list workflows: %w", err)
		return
	}
	for _, wf := range wfs {
		select {
		case res <- wf:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Endpoints) listActivities(ctx context.Context, req *model.ListActivitiesRequest) (*model.ListActivitiesResponse, error) {
	acts, err := s.ops.ListActivitiesFrom(ctx, req.WorkflowID, req.Place)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	ret := &model.ListActivitiesResponse{Activities: make([]model.Activity, 0)}
	for a := range acts {
		ret.Activities = append(ret.Activities, a)
	}
	return ret, nil
}

func (s *Endpoints) createResource(ctx context.Context, req *model.CreateResourceRequest) (*model.Resource, error) {
	r, err := s.ops.CreateResource(ctx, req.WorkflowID, req.InitialPlace, req.Data, req.Metadata, header.ResolveTriggeredBy(ctx, req.TriggeredBy))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}
	return r, nil
}

func (s *Endpoints) getResource(ctx context.Context, req *model.GetResourceRequest) (*model.Resource, error) {
	opts := make([]workflow.GetOption, 0, 2)
	if req.WithWorkflow {
		opts = append(opts, workflow.WithWorkflow())
	}
	if req.WithHistory {
		opts = append(opts, workflow.WithHistory())
	}
	r, err := s.ops.GetResource(ctx, req.ResourceID, opts...)
	if err != nil {
		return nil, fmt.Errorf("get resource: %w", err)
	}
	return r, nil
}

func (s *Endpoints) findResource(ctx context.Context, req *model.FindResourceRequest) (*model.FindResourceResponse, error) {
	r, err := s.ops.FindResource(ctx, req.WorkflowID, req.ResourceID)
	if err != nil {
		return nil, fmt.Errorf("find resource: %w", err)
	}
	return &model.FindResourceResponse{Resource: r}, nil
}

func (s *Endpoints) updateResource(ctx context.Context, req *model.UpdateResourceRequest) (*model.Resource, error) {
	r, err := s.ops.UpdateResource(ctx, req.ResourceID, req.Data, req.Metadata, header.ResolveTriggeredBy(ctx, req.TriggeredBy))
	if err != nil {
		return nil, fmt.Errorf("update resource: %w", err)
	}
	return r, nil
}

func (s *Endpoints) deleteResource(ctx context.Context, req *model.DeleteResourceRequest) (*model.DeleteResourceResponse, error) {
	if err := s.ops.DeleteResource(ctx, req.ResourceID, req.Force, header.ResolveTriggeredBy(ctx, req.TriggeredBy)); err != nil {
		return nil, fmt.Errorf("delete resource: %w", err)
	}
	return &model.DeleteResourceResponse{ResourceID: req.ResourceID}, nil
}

func (s *Endpoints) listResources(ctx context.Context, req *model.ResourceFilter) (*model.ResourcePage, error) {
	page, err := s.ops.ListResources(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	return page, nil
}

func (s *Endpoints) resourcesInPlace(ctx context.Context, req *model.ResourcesInPlaceRequest, res chan<- *model.Resource, errs chan<- error) {
	for r, err := range s.ops.ResourcesInPlace(ctx, req.WorkflowID, req.Place) {
		if err != nil {
			errs <- fmt.Errorf("resources in place: %w", err)
			return
		}
		select {
		case res <- r:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Endpoints) history(ctx context.Context, req *model.HistoryRequest) (*model.HistoryResponse, error) {
	evs, truncated, err := s.ops.History(ctx, req.WorkflowID, req.ResourceID)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return &model.HistoryResponse{Events: evs, Truncated: truncated}, nil
}

func (s *Endpoints) availableActivities(ctx context.Context, req *model.AvailableActivitiesRequest) (*model.AvailableActivitiesResponse, error) {
	acts, err := s.ops.AvailableActivities(ctx, req.ResourceID)
	if err != nil {
		return nil, fmt.Errorf("available activities: %w", err)
	}
	return &model.AvailableActivitiesResponse{Activities: acts}, nil
}

func (s *Endpoints) executeActivity(ctx context.Context, req *model.ExecuteActivityRequest) (*model.ExecuteResult, error) {
	res, err := s.ops.ExecuteActivity(ctx, req.ResourceID, req.ActivityID, req.Input, header.ResolveTriggeredBy(ctx, req.TriggeredBy))
	if err != nil {
		return nil, fmt.Errorf("execute activity: %w", err)
	}
	return res, nil
}

func (s *Endpoints) transitionState(ctx context.Context, req *model.TransitionStateRequest) (*model.ExecuteResult, error) {
	res, err := s.ops.TransitionState(ctx, req.ResourceID, req.ToPlace, req.ActivityID, req.Data, req.Validating(), header.ResolveTriggeredBy(ctx, req.TriggeredBy))
	if err != nil {
		return nil, fmt.Errorf("transition state: %w", err)
	}
	return res, nil
}
