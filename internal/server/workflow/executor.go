package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gitlab.com/circuit-breaker/engine/common/logx"
	"gitlab.com/circuit-breaker/engine/common/validation"
	"gitlab.com/circuit-breaker/engine/model"
	errors2 "gitlab.com/circuit-breaker/engine/server/errors"
	"gitlab.com/circuit-breaker/engine/server/errors/keys"
	"gitlab.com/circuit-breaker/engine/server/services/storage"
)

// mutation is a resource change prepared under the resource lock.
type mutation struct {
	cur         *model.Resource
	rev         uint64
	next        *model.Resource
	eventType   model.EventType
	activityID  string
	triggeredBy string
	warnings    []string
}

// ExecuteActivity runs a guarded activity on a resource.
// The activity must be enabled from the resource's current place and every hard condition must hold.
// input is merged into the resource data, and the result must satisfy the workflow's data schema.
// The move is published to the workflow stream before the stored resource is replaced.
func (e *Engine) ExecuteActivity(ctx context.Context, resourceID string, activityID string, input model.Vars, triggeredBy string) (*model.ExecuteResult, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	ctx, sp := e.tr.Start(ctx, "ExecuteActivity")
	defer sp.End()
	ctx, log := logx.ContextWith(ctx, "executor")
	log = log.With(slog.String(keys.ResourceID, resourceID), slog.String(keys.ActivityID, activityID))
	ctx = logx.NewContext(ctx, log)

	return e.mutate(ctx, resourceID, func(def *model.WorkflowDefinition, cur *model.Resource) (*mutation, error) {
		act, declared := def.Activity(activityID)
		if !declared {
			return nil, &errors2.ActivityExecutionError{Code: errors2.CodeActivityNotFound, ActivityID: activityID, Place: cur.Place, ResourceID: cur.ID}
		}
		if !act.EnabledFrom(cur.Place) {
			return nil, &errors2.ActivityExecutionError{Code: errors2.CodeActivityNotApplicable, ActivityID: activityID, Place: cur.Place, ResourceID: cur.ID}
		}
		res, err := e.evaluateGuard(ctx, act, model.NewGuardEnv(cur.Place, cur.Data, cur.Metadata, input))
		if err != nil {
			var st *errors2.StateTransitionError
			if errors2.As(err, &st) {
				st.ResourceID = cur.ID
			}
			return nil, err
		}
		if res.err != nil {
			return nil, &errors2.StateTransitionError{Code: errors2.CodeGuardError, ResourceID: cur.ID, ActivityID: act.ID, Message: res.err.Error()}
		}
		if !res.passed() {
			log.Debug("guard rejected activity", slog.Any("failed", res.failures))
			return nil, &errors2.StateTransitionError{Code: errors2.CodeGuardFailed, ResourceID: cur.ID, ActivityID: act.ID, Message: "guard conditions failed", Failed: res.failures}
		}
		next := cur.Clone()
		next.Place = act.ToPlace
		next.Data = cur.Data.Merge(input)
		if err := validation.ValidateData(def, next.Data); err != nil {
			return nil, err
		}
		return &mutation{
			next:        next,
			eventType:   model.EventTokenTransitioned,
			activityID:  act.ID,
			triggeredBy: triggeredBy,
			warnings:    res.warnings,
		}, nil
	})
}

// TransitionState moves a resource without evaluating any activity guard.
// With validate, activityID, when given, must name a declared activity.  The target place must always be declared.
// The move is recorded as a token_moved event, distinct from guarded transitions.
func (e *Engine) TransitionState(ctx context.Context, resourceID string, toPlace string, activityID string, data model.Vars, validate bool, triggeredBy string) (*model.ExecuteResult, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	ctx, sp := e.tr.Start(ctx, "TransitionState")
	defer sp.End()
	ctx, log := logx.ContextWith(ctx, "executor")
	ctx = logx.NewContext(ctx, log.With(slog.String(keys.ResourceID, resourceID), slog.String(keys.TargetPlace, toPlace)))

	return e.mutate(ctx, resourceID, func(def *model.WorkflowDefinition, cur *model.Resource) (*mutation, error) {
		if !def.HasPlace(toPlace) {
			return nil, &errors2.StateTransitionError{Code: errors2.CodeInvalidTargetPlace, ResourceID: cur.ID, ActivityID: activityID, Message: fmt.Sprintf("place %q is not declared by workflow %s", toPlace, def.ID)}
		}
		if validate && activityID != "" {
			if _, ok := def.Activity(activityID); !ok {
				return nil, &errors2.ActivityExecutionError{Code: errors2.CodeActivityNotFound, ActivityID: activityID, Place: cur.Place, ResourceID: cur.ID}
			}
		}
		next := cur.Clone()
		next.Place = toPlace
		next.Data = cur.Data.Merge(data)
		if err := validation.ValidateData(def, next.Data); err != nil {
			return nil, err
		}
		return &mutation{
			next:        next,
			eventType:   model.EventTokenMoved,
			activityID:  activityID,
			triggeredBy: triggeredBy,
		}, nil
	})
}

// mutate runs prepare under the resource lock and durably records the change it returns.
// A nil mutation leaves the resource unchanged.
func (e *Engine) mutate(ctx context.Context, resourceID string, prepare func(def *model.WorkflowDefinition, cur *model.Resource) (*mutation, error)) (*model.ExecuteResult, error) {
	workflowID, err := e.store.ResourceOwner(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	unlock, err := e.store.LockResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	var notify []*model.PlaceNotification
	defer func() {
		unlock()
		for _, n := range notify {
			e.store.NotifyPlace(ctx, n)
		}
	}()

	cur, rev, err := e.store.LoadResource(ctx, workflowID, resourceID)
	if err != nil {
		return nil, err
	}
	def, err := e.store.LoadDefinition(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	m, err := prepare(def, cur)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return &model.ExecuteResult{Resource: cur}, nil
	}
	m.cur, m.rev = cur, rev
	ev, err := e.record(ctx, m)
	if err != nil {
		return nil, err
	}
	notify = placeNotifications(cur, m.next, m.eventType == model.EventTokenDeleted)
	return &model.ExecuteResult{
		Resource: m.next,
		Event:    ev.TransitionEvent(),
		Warnings: m.warnings,
	}, nil
}

// record publishes the event for a prepared mutation and then commits the new resource state.
func (e *Engine) record(ctx context.Context, m *mutation) (*model.Event, error) {
	next := m.next
	next.Version = m.cur.Version + 1
	next.UpdatedAt = time.Now().UTC()

	var (
		ev  *model.Event
		res *storage.PublishResult
		err error
	)
	switch m.eventType {
	case model.EventTokenUpdated:
		ev, res, err = e.store.PublishUpdated(ctx, next, m.triggeredBy)
	case model.EventTokenDeleted:
		ev, res, err = e.store.PublishDeleted(ctx, next, m.triggeredBy)
	default:
		ev, res, err = e.store.PublishTransitioned(ctx, next, m.eventType, m.cur.Place, m.activityID, m.triggeredBy, m.warnings)
	}
	if err != nil {
		return nil, logx.Err(ctx, "publish event", err)
	}
	if res.Duplicate {
		return nil, &errors2.ConflictError{Code: errors2.CodeVersionConflict, ResourceID: next.ID, Err: fmt.Errorf("version %d already recorded", next.Version)}
	}
	next.NatsSequence = res.Sequence
	next.NatsSubject = res.Subject
	next.NatsTimestamp = res.Timestamp

	var nrev uint64
	if m.eventType == model.EventTokenDeleted {
		nrev, err = e.store.RemoveResource(ctx, next, m.rev)
	} else {
		nrev, err = e.store.CommitResource(ctx, next, m.rev)
	}
	if err != nil {
		return nil, err
	}
	if err := e.store.WaitIndexed(ctx, nrev); err != nil {
		logx.FromContext(ctx).Warn("place index lagging", "error", err, slog.Uint64(keys.Sequence, res.Sequence))
	}
	logx.FromContext(ctx).Debug("recorded event",
		slog.String(keys.EventType, string(m.eventType)),
		slog.Uint64(keys.Version, next.Version),
		slog.Uint64(keys.Sequence, res.Sequence))
	return ev, nil
}

// placeNotifications describes the places a resource left and entered.  A new resource has no from state.
func placeNotifications(from *model.Resource, to *model.Resource, deleted bool) []*model.PlaceNotification {
	ret := make([]*model.PlaceNotification, 0, 2)
	moved := from == nil || from.Place != to.Place
	if from != nil && (moved || deleted) {
		ret = append(ret, &model.PlaceNotification{WorkflowID: from.WorkflowID, Place: from.Place, TokenID: from.ID, Entered: false, NatsSequence: to.NatsSequence, Timestamp: to.NatsTimestamp})
	}
	if !deleted && moved {
		ret = append(ret, &model.PlaceNotification{WorkflowID: to.WorkflowID, Place: to.Place, TokenID: to.ID, Entered: true, NatsSequence: to.NatsSequence, Timestamp: to.NatsTimestamp})
	}
	return ret
}
