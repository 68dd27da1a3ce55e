package workflow

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"gitlab.com/circuit-breaker/engine/common/eventstream"
	"gitlab.com/circuit-breaker/engine/model"
	errors2 "gitlab.com/circuit-breaker/engine/server/errors"
)

// ResourcesInPlace yields the resources of a workflow currently occupying a place.
// The sequence reads the place index each time it is ranged over.
func (e *Engine) ResourcesInPlace(ctx context.Context, workflowID string, place string) iter.Seq2[*model.Resource, error] {
	return func(yield func(*model.Resource, error) bool) {
		if err := e.checkOpen(); err != nil {
			yield(nil, err)
			return
		}
		def, err := e.store.LoadDefinition(ctx, workflowID)
		if err != nil {
			yield(nil, err)
			return
		}
		if !def.HasPlace(place) {
			yield(nil, errors2.NewValidation(errors2.CodeUnknownPlace, "place", "place %q is not declared by workflow %s", place, workflowID))
			return
		}
		for r, err := range e.store.ResourcesInPlace(ctx, workflowID, place) {
			if !yield(r, err) {
				return
			}
		}
	}
}

// FindResource looks a resource up within one workflow.  A missing resource is returned as nil without error.
func (e *Engine) FindResource(ctx context.Context, workflowID string, resourceID string) (*model.Resource, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if _, err := e.store.LoadDefinition(ctx, workflowID); err != nil {
		return nil, err
	}
	r, _, err := e.store.LoadResource(ctx, workflowID, resourceID)
	if errors.Is(err, errors2.ErrResourceNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return r, nil
}

// History returns the recorded events of a resource, and whether earlier events are no longer available.
func (e *Engine) History(ctx context.Context, workflowID string, resourceID string) ([]model.TransitionEvent, bool, error) {
	if err := e.checkOpen(); err != nil {
		return nil, false, err
	}
	r, err := e.FindResource(ctx, workflowID, resourceID)
	if err != nil {
		return nil, false, err
	}
	if r == nil {
		return nil, false, errors2.ResourceNotFound(resourceID)
	}
	if err := e.expand(ctx, r, &GetOptions{History: true}); err != nil {
		return nil, false, err
	}
	return r.TransitionHistory, r.HistoryTruncated, nil
}

// AvailableActivities lists the activities enabled from a resource's place and whether their guards currently pass.
func (e *Engine) AvailableActivities(ctx context.Context, resourceID string) ([]model.AvailableActivity, error) {
	r, err := e.GetResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	def, err := e.store.LoadDefinition(ctx, r.WorkflowID)
	if err != nil {
		return nil, err
	}
	env := model.NewGuardEnv(r.Place, r.Data, r.Metadata, nil)
	ret := make([]model.AvailableActivity, 0)
	for act := range def.ActivitiesFrom(r.Place) {
		a := model.AvailableActivity{Activity: act}
		res, err := e.evaluateGuard(ctx, &act, env)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, err
			}
			a.Failures = []string{err.Error()}
		case res.err != nil:
			a.Failures = []string{res.err.Error()}
		default:
			a.Passes = res.passed()
			a.Failures = res.failures
			a.Warnings = res.warnings
		}
		ret = append(ret, a)
	}
	return ret, nil
}

// Subscribe delivers the events of one partition of a workflow stream, starting at the tail by default.
func (e *Engine) Subscribe(ctx context.Context, workflowID string, kind model.EventKind, fn eventstream.Handler, opts ...eventstream.SubscribeOption) (*eventstream.Subscription, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	sub, err := e.store.Subscribe(ctx, workflowID, kind, fn, opts...)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return sub, nil
}

// WatchPlace delivers live placement notifications for a place.  The returned function ends the watch.
func (e *Engine) WatchPlace(ctx context.Context, workflowID string, place string, fn func(n *model.PlaceNotification)) (func(), error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	def, err := e.store.LoadDefinition(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if place != "" && !def.HasPlace(place) {
		return nil, errors2.NewValidation(errors2.CodeUnknownPlace, "place", "place %q is not declared by workflow %s", place, workflowID)
	}
	return e.store.WatchPlace(ctx, workflowID, place, fn)
}
