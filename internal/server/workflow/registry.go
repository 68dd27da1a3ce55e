package workflow

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/segmentio/ksuid"
	"gitlab.com/circuit-breaker/engine/common/logx"
	"gitlab.com/circuit-breaker/engine/common/validation"
	"gitlab.com/circuit-breaker/engine/model"
	errors2 "gitlab.com/circuit-breaker/engine/server/errors"
	"gitlab.com/circuit-breaker/engine/server/errors/keys"
)

// CreateWorkflow validates and stores a new workflow definition, then creates its event stream.
// The stored definition is returned with its ID and creation time assigned.
func (e *Engine) CreateWorkflow(ctx context.Context, def *model.WorkflowDefinition) (*model.WorkflowDefinition, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	ctx, sp := e.tr.Start(ctx, "CreateWorkflow")
	defer sp.End()
	if def == nil {
		return nil, errors2.NewValidation(errors2.CodeInvalidDefinition, "", "workflow definition is missing")
	}
	wf := *def
	if wf.ID == "" {
		wf.ID = ksuid.New().String()
	}
	ctx, log := logx.ContextWith(ctx, "registry")
	log = log.With(slog.String(keys.WorkflowID, wf.ID))

	if err := validation.ValidateWorkflow(ctx, &wf, validation.Options{
		Expressions:        e.expr,
		FunctionRegistered: e.functionRegistered,
	}); err != nil {
		return nil, err
	}
	exists, err := e.store.StreamExists(ctx, wf.ID)
	if err != nil {
		return nil, logx.Err(ctx, "check workflow stream", err, slog.String(keys.WorkflowID, wf.ID))
	}
	if exists {
		return nil, errors2.NewValidation(errors2.CodeWorkflowExists, "id", "an event stream is already bound to workflow %s", wf.ID)
	}

	wf.CreatedAt = time.Now().UTC()
	if err := e.store.SaveDefinition(ctx, &wf); err != nil {
		return nil, err
	}
	if err := e.store.EnsureWorkflowStream(ctx, wf.ID); err != nil {
		if derr := e.store.DropDefinition(ctx, wf.ID); derr != nil {
			log.Error("roll back workflow definition", "error", derr)
		}
		return nil, logx.Err(ctx, "create workflow stream", err, slog.String(keys.WorkflowID, wf.ID))
	}
	log.Info("workflow created", slog.Int("places", len(wf.Places)), slog.Int("activities", len(wf.Activities)))
	return &wf, nil
}

// GetWorkflow returns a stored workflow definition.
func (e *Engine) GetWorkflow(ctx context.Context, workflowID string) (*model.WorkflowDefinition, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	def, err := e.store.LoadDefinition(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return def, nil
}

// ListWorkflows returns every stored workflow definition, oldest first.
func (e *Engine) ListWorkflows(ctx context.Context) ([]*model.WorkflowDefinition, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	defs, err := e.store.ListDefinitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	return defs, nil
}

// ListActivitiesFrom returns the activities of a workflow enabled from a place, in declaration order.
func (e *Engine) ListActivitiesFrom(ctx context.Context, workflowID string, place string) (iter.Seq[model.Activity], error) {
	def, err := e.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return def.ActivitiesFrom(place), nil
}
