package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/segmentio/ksuid"
	"gitlab.com/circuit-breaker/engine/common/logx"
	"gitlab.com/circuit-breaker/engine/common/validation"
	"gitlab.com/circuit-breaker/engine/model"
	errors2 "gitlab.com/circuit-breaker/engine/server/errors"
	"gitlab.com/circuit-breaker/engine/server/errors/keys"
)

// GetOptions select the expansions of a resource read.
type GetOptions struct {
	Workflow bool
	History  bool
}

// GetOption sets a resource read expansion.
type GetOption func(o *GetOptions)

// WithWorkflow joins the owning workflow definition.
func WithWorkflow() GetOption {
	return func(o *GetOptions) { o.Workflow = true }
}

// WithHistory loads the recorded events of the resource.
func WithHistory() GetOption {
	return func(o *GetOptions) { o.History = true }
}

// CreateResource creates a resource in the initial place of a workflow, or in initialPlace when given.
// The token_created event is published before the resource is stored.
func (e *Engine) CreateResource(ctx context.Context, workflowID string, initialPlace string, data model.Vars, metadata model.Vars, triggeredBy string) (*model.Resource, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	ctx, sp := e.tr.Start(ctx, "CreateResource")
	defer sp.End()
	ctx, log := logx.ContextWith(ctx, "resources")

	def, err := e.store.LoadDefinition(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	place := initialPlace
	if place == "" {
		place = def.InitialPlace
	}
	if !def.HasPlace(place) {
		return nil, errors2.NewValidation(errors2.CodeInvalidInitialState, "initial_place", "place %q is not declared by workflow %s", place, workflowID)
	}
	if err := validation.ValidateData(def, data); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	r := &model.Resource{
		ID:         ksuid.New().String(),
		WorkflowID: workflowID,
		Place:      place,
		Data:       data.Clone(),
		Metadata:   metadata.Clone(),
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
	}
	_, res, err := e.store.PublishCreated(ctx, r, triggeredBy)
	if err != nil {
		return nil, logx.Err(ctx, "publish creation", err, slog.String(keys.WorkflowID, workflowID))
	}
	r.NatsSequence = res.Sequence
	r.NatsSubject = res.Subject
	r.NatsTimestamp = res.Timestamp

	rev, err := e.store.CreateResource(ctx, r)
	if err != nil {
		return nil, err
	}
	if err := e.store.WaitIndexed(ctx, rev); err != nil {
		log.Warn("place index lagging", "error", err)
	}
	for _, n := range placeNotifications(nil, r, false) {
		e.store.NotifyPlace(ctx, n)
	}
	log.Debug("resource created", slog.String(keys.WorkflowID, workflowID), slog.String(keys.ResourceID, r.ID), slog.String(keys.Place, place))
	return r, nil
}

// GetResource returns a resource by ID from any workflow.
func (e *Engine) GetResource(ctx context.Context, resourceID string, opts ...GetOption) (*model.Resource, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	workflowID, err := e.store.ResourceOwner(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	r, _, err := e.store.LoadResource(ctx, workflowID, resourceID)
	if err != nil {
		return nil, err
	}
	o := &GetOptions{}
	for _, i := range opts {
		i(o)
	}
	if err := e.expand(ctx, r, o); err != nil {
		return nil, err
	}
	return r, nil
}

func (e *Engine) expand(ctx context.Context, r *model.Resource, o *GetOptions) error {
	if o.Workflow {
		def, err := e.store.LoadDefinition(ctx, r.WorkflowID)
		if err != nil {
			return err
		}
		r.Workflow = def
	}
	if o.History {
		events, truncated, err := e.store.History(ctx, r.WorkflowID, r.ID, r.Version)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		r.TransitionHistory = make([]model.TransitionEvent, 0, len(events))
		for _, ev := range events {
			if ev.ResourceVersion > r.Version {
				break
			}
			r.TransitionHistory = append(r.TransitionHistory, ev.TransitionEvent())
		}
		r.HistoryTruncated = truncated
	}
	return nil
}

// UpdateResource patches resource data and metadata.  A nil patch value removes the key.
// The place never changes.  An empty patch records nothing.
func (e *Engine) UpdateResource(ctx context.Context, resourceID string, dataPatch model.Vars, metadataPatch model.Vars, triggeredBy string) (*model.Resource, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	ctx, sp := e.tr.Start(ctx, "UpdateResource")
	defer sp.End()
	ctx, _ = logx.ContextWith(ctx, "resources")

	res, err := e.mutate(ctx, resourceID, func(def *model.WorkflowDefinition, cur *model.Resource) (*mutation, error) {
		if len(dataPatch) == 0 && len(metadataPatch) == 0 {
			return nil, nil
		}
		next := cur.Clone()
		next.Data = cur.Data.Merge(dataPatch)
		next.Metadata = cur.Metadata.Merge(metadataPatch)
		if err := validation.ValidateData(def, next.Data); err != nil {
			return nil, err
		}
		return &mutation{next: next, eventType: model.EventTokenUpdated, triggeredBy: triggeredBy}, nil
	})
	if err != nil {
		return nil, err
	}
	return res.Resource, nil
}

// DeleteResource removes a resource.  Unless force is set the resource must be in a terminal place.
func (e *Engine) DeleteResource(ctx context.Context, resourceID string, force bool, triggeredBy string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	ctx, sp := e.tr.Start(ctx, "DeleteResource")
	defer sp.End()
	ctx, log := logx.ContextWith(ctx, "resources")

	_, err := e.mutate(ctx, resourceID, func(def *model.WorkflowDefinition, cur *model.Resource) (*mutation, error) {
		if !force && !def.IsTerminalPlace(cur.Place) {
			return nil, errors2.NewValidation(errors2.CodeResourceNotTerminal, "place", "resource %s is in non terminal place %q", cur.ID, cur.Place)
		}
		return &mutation{next: cur.Clone(), eventType: model.EventTokenDeleted, triggeredBy: triggeredBy}, nil
	})
	if err != nil {
		return err
	}
	log.Info("resource deleted", slog.String(keys.ResourceID, resourceID), slog.Bool("force", force))
	return nil
}

// ListResources returns one page of the resources selected by a filter.
// Listings within a workflow are read from the place index.
func (e *Engine) ListResources(ctx context.Context, filter *model.ResourceFilter) (*model.ResourcePage, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if filter == nil {
		filter = &model.ResourceFilter{}
	}
	if filter.Offset < 0 || filter.Limit < 0 {
		return nil, errors2.NewValidation(errors2.CodeInvalidInput, "offset", "offset and limit must not be negative")
	}
	switch filter.OrderBy {
	case "", model.OrderByCreated, model.OrderByUpdated:
	default:
		return nil, errors2.NewValidation(errors2.CodeInvalidInput, "order_by", "unknown order %q", filter.OrderBy)
	}

	matched := make([]*model.Resource, 0)
	collect := func(r *model.Resource) {
		if filter.Accepts(r) {
			matched = append(matched, r)
		}
	}
	if filter.WorkflowID != "" {
		def, err := e.store.LoadDefinition(ctx, filter.WorkflowID)
		if err != nil {
			return nil, err
		}
		places := filter.Places
		if len(places) == 0 {
			places = def.Places
		}
		for _, p := range slices.Compact(slices.Sorted(slices.Values(places))) {
			for r, err := range e.store.ResourcesInPlace(ctx, def.ID, p) {
				if err != nil {
					return nil, fmt.Errorf("query place %s: %w", p, err)
				}
				collect(r)
			}
		}
	} else {
		defs, err := e.store.ListDefinitions(ctx)
		if err != nil {
			return nil, fmt.Errorf("list workflows: %w", err)
		}
		for _, def := range defs {
			for r, err := range e.store.ScanResources(ctx, def.ID) {
				if err != nil {
					return nil, fmt.Errorf("scan workflow %s: %w", def.ID, err)
				}
				collect(r)
			}
		}
	}

	sortResources(matched, filter.OrderBy, filter.Descending)
	page := &model.ResourcePage{Total: len(matched), Offset: filter.Offset, Limit: filter.Limit}
	if filter.Offset >= len(matched) {
		page.Items = []*model.Resource{}
		return page, nil
	}
	end := len(matched)
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}
	page.Items = matched[filter.Offset:end]
	return page, nil
}

func sortResources(rs []*model.Resource, by model.OrderBy, desc bool) {
	slices.SortFunc(rs, func(a, b *model.Resource) int {
		ta, tb := a.CreatedAt, b.CreatedAt
		if by == model.OrderByUpdated {
			ta, tb = a.UpdatedAt, b.UpdatedAt
		}
		c := ta.Compare(tb)
		if c == 0 {
			c = strings.Compare(a.ID, b.ID)
		}
		if desc {
			return -c
		}
		return c
	})
}
