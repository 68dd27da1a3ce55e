package client

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/hashicorp/go-version"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"gitlab.com/circuit-breaker/engine/common"
	"gitlab.com/circuit-breaker/engine/common/codec"
	"gitlab.com/circuit-breaker/engine/common/eventstream"
	"gitlab.com/circuit-breaker/engine/common/middleware"
	"gitlab.com/circuit-breaker/engine/common/telemetry"
	version2 "gitlab.com/circuit-breaker/engine/common/version"
	api2 "gitlab.com/circuit-breaker/engine/internal/client/api"
	"gitlab.com/circuit-breaker/engine/model"
	errors2 "gitlab.com/circuit-breaker/engine/server/errors"
	"gitlab.com/circuit-breaker/engine/server/messages"
)

// ErrIncompatibleServer is returned by Dial when the engine rejects the client version.
var ErrIncompatibleServer = errors.New("engine does not accept this client version")

// Client implements a connection to the Circuit Breaker engine.
type Client struct {
	con             *nats.Conn
	js              jetstream.JetStream
	triggeredBy     string
	telemetryConfig telemetry.Config
	sendMiddleware  []middleware.Send
	ownsConn        bool
}

// New creates a new client instance.
func New(option ...ConfigurationOption) *Client {
	client := &Client{}
	for _, i := range option {
		i.configure(client)
	}
	return client
}

// Dial instructs the client to connect to a NATS server and checks that an engine is listening.
func (c *Client) Dial(ctx context.Context, natsURL string, opts ...ConnectOption) error {
	o := &ConnectOptions{}
	for _, i := range opts {
		i(o)
	}
	n, err := nats.Connect(natsURL, o.natsOptions...)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	if err := c.Attach(ctx, n, opts...); err != nil {
		n.Close()
		return err
	}
	c.ownsConn = true
	return nil
}

// Attach uses an existing NATS connection, which remains owned by the caller.
func (c *Client) Attach(ctx context.Context, n *nats.Conn, opts ...ConnectOption) error {
	o := &ConnectOptions{}
	for _, i := range opts {
		i(o)
	}
	if err := common.CheckVersion(ctx, n); err != nil {
		return fmt.Errorf("check NATS version: %w", err)
	}
	var js jetstream.JetStream
	var err error
	if o.jetStreamDomain != "" {
		js, err = jetstream.NewWithDomain(n, o.jetStreamDomain)
	} else {
		js, err = jetstream.New(n)
	}
	if err != nil {
		return fmt.Errorf("connect to JetStream: %w", err)
	}
	if c.telemetryConfig.Enabled {
		c.sendMiddleware = append(c.sendMiddleware, telemetry.SendMessageTelemetry(c.telemetryConfig))
	}
	c.con = n
	c.js = js
	res, err := c.GetServerVersion(ctx)
	if err != nil {
		return fmt.Errorf("server version: %w", err)
	}
	if !res.Connectable {
		return fmt.Errorf("server %s requires client >= %s: %w", res.ServerVersion, res.MinClientVersion, ErrIncompatibleServer)
	}
	return nil
}

// Close closes the NATS connection if the client opened it.
func (c *Client) Close() {
	if c.ownsConn && c.con != nil {
		c.con.Close()
	}
}

// Flush round trips to the NATS server so that subscriptions made by the client are in place.
func (c *Client) Flush() error {
	if err := c.con.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

func (c *Client) actor(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return c.triggeredBy
}

// GetServerVersion returns the engine version and whether it accepts this client.
func (c *Client) GetServerVersion(ctx context.Context) (*model.VersionResponse, error) {
	ver, err := version.NewVersion(version2.Version)
	if err != nil {
		return nil, fmt.Errorf("parse client version: %w", err)
	}
	req := &model.VersionRequest{ClientVersion: ver.String()}
	res := &model.VersionResponse{}
	if err := api2.Call(ctx, c.con, messages.APIGetVersionInfo, c.sendMiddleware, req, res); err != nil {
		return nil, fmt.Errorf("get server version: %w", err)
	}
	return res, nil
}

// CreateWorkflow stores a new workflow definition, returning it as stored.
func (c *Client) CreateWorkflow(ctx context.Context, wf *model.WorkflowDefinition) (*model.WorkflowDefinition, error) {
	res := &model.WorkflowDefinition{}
	if err := api2.Call(ctx, c.con, messages.APIWorkflowCreate, c.sendMiddleware, &model.CreateWorkflowRequest{Workflow: wf}, res); err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}
	return res, nil
}

// GetWorkflow retrieves a workflow definition.
func (c *Client) GetWorkflow(ctx context.Context, workflowID string) (*model.WorkflowDefinition, error) {
	res := &model.WorkflowDefinition{}
	if err := api2.Call(ctx, c.con, messages.APIWorkflowGet, c.sendMiddleware, &model.GetWorkflowRequest{WorkflowID: workflowID}, res); err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return res, nil
}

// ListWorkflows retrieves every stored workflow definition.
func (c *Client) ListWorkflows(ctx context.Context) ([]*model.WorkflowDefinition, error) {
	ret := make([]*model.WorkflowDefinition, 0)
	err := api2.CallReturnStream(ctx, c.con, messages.APIWorkflowList, c.sendMiddleware, &model.ListWorkflowsRequest{}, func(wf *model.WorkflowDefinition) error {
		ret = append(ret, wf)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	return ret, nil
}

// ListActivitiesFrom returns the activities enabled from a place in declaration order.
func (c *Client) ListActivitiesFrom(ctx context.Context, workflowID string, place string) ([]model.Activity, error) {
	res := &model.ListActivitiesResponse{}
	if err := api2.Call(ctx, c.con, messages.APIWorkflowActivities, c.sendMiddleware, &model.ListActivitiesRequest{WorkflowID: workflowID, Place: place}, res); err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	return res.Activities, nil
}

// CreateResource creates a resource. An empty initialPlace selects the workflow's initial place.
func (c *Client) CreateResource(ctx context.Context, req *model.CreateResourceRequest) (*model.Resource, error) {
	r := *req
	r.TriggeredBy = c.actor(req.TriggeredBy)
	res := &model.Resource{}
	if err := api2.Call(ctx, c.con, messages.APIResourceCreate, c.sendMiddleware, &r, res); err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}
	return res, nil
}

// GetResourceOption expands a resource returned by GetResource.
type GetResourceOption func(r *model.GetResourceRequest)

// WithWorkflow attaches the workflow definition to the resource.
func WithWorkflow() GetResourceOption {
	return func(r *model.GetResourceRequest) { r.WithWorkflow = true }
}

// WithHistory attaches the transition history to the resource.
func WithHistory() GetResourceOption {
	return func(r *model.GetResourceRequest) { r.WithHistory = true }
}

// GetResource retrieves a resource by id.
func (c *Client) GetResource(ctx context.Context, resourceID string, opts ...GetResourceOption) (*model.Resource, error) {
	req := &model.GetResourceRequest{ResourceID: resourceID}
	for _, i := range opts {
		i(req)
	}
	res := &model.Resource{}
	if err := api2.Call(ctx, c.con, messages.APIResourceGet, c.sendMiddleware, req, res); err != nil {
		return nil, fmt.Errorf("get resource: %w", err)
	}
	return res, nil
}

// FindResource looks a resource up within a workflow. It returns nil if there is no such resource.
func (c *Client) FindResource(ctx context.Context, workflowID string, resourceID string) (*model.Resource, error) {
	res := &model.FindResourceResponse{}
	if err := api2.Call(ctx, c.con, messages.APIResourceFind, c.sendMiddleware, &model.FindResourceRequest{WorkflowID: workflowID, ResourceID: resourceID}, res); err != nil {
		return nil, fmt.Errorf("find resource: %w", err)
	}
	return res.Resource, nil
}

// UpdateResource shallow merges patches into the data and metadata of a resource.
func (c *Client) UpdateResource(ctx context.Context, req *model.UpdateResourceRequest) (*model.Resource, error) {
	r := *req
	r.TriggeredBy = c.actor(req.TriggeredBy)
	res := &model.Resource{}
	if err := api2.Call(ctx, c.con, messages.APIResourceUpdate, c.sendMiddleware, &r, res); err != nil {
		return nil, fmt.Errorf("update resource: %w", err)
	}
	return res, nil
}

// DeleteResource removes a resource. Without force the resource must be in a terminal place.
func (c *Client) DeleteResource(ctx context.Context, resourceID string, force bool) error {
	req := &model.DeleteResourceRequest{ResourceID: resourceID, Force: force, TriggeredBy: c.triggeredBy}
	res := &model.DeleteResourceResponse{}
	if err := api2.Call(ctx, c.con, messages.APIResourceDelete, c.sendMiddleware, req, res); err != nil {
		return fmt.Errorf("delete resource: %w", err)
	}
	return nil
}

// ListResources returns one page of the resources matching filter.
func (c *Client) ListResources(ctx context.Context, filter *model.ResourceFilter) (*model.ResourcePage, error) {
	if filter == nil {
		filter = &model.ResourceFilter{}
	}
	res := &model.ResourcePage{}
	if err := api2.Call(ctx, c.con, messages.APIResourceList, c.sendMiddleware, filter, res); err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	return res, nil
}

// ResourcesInPlace yields the resources occupying a place as the engine streams them.
// Stopping the iteration cancels the stream.
func (c *Client) ResourcesInPlace(ctx context.Context, workflowID string, place string) iter.Seq2[*model.Resource, error] {
	return func(yield func(*model.Resource, error) bool) {
		req := &model.ResourcesInPlaceRequest{WorkflowID: workflowID, Place: place}
		err := api2.CallReturnStream(ctx, c.con, messages.APIResourceInPlace, c.sendMiddleware, req, func(r *model.Resource) error {
			if !yield(r, nil) {
				return errors2.ErrStreamCancel
			}
			return nil
		})
		if err != nil {
			yield(nil, fmt.Errorf("resources in place: %w", err))
		}
	}
}

// History returns the events of a resource in version order, and whether older events have been lost.
func (c *Client) History(ctx context.Context, workflowID string, resourceID string) ([]model.TransitionEvent, bool, error) {
	res := &model.HistoryResponse{}
	if err := api2.Call(ctx, c.con, messages.APIResourceHistory, c.sendMiddleware, &model.HistoryRequest{WorkflowID: workflowID, ResourceID: resourceID}, res); err != nil {
		return nil, false, fmt.Errorf("history: %w", err)
	}
	return res.Events, res.Truncated, nil
}

// AvailableActivities lists the activities enabled from the resource's place with their guard outcome.
func (c *Client) AvailableActivities(ctx context.Context, resourceID string) ([]model.AvailableActivity, error) {
	res := &model.AvailableActivitiesResponse{}
	if err := api2.Call(ctx, c.con, messages.APIResourceAvailable, c.sendMiddleware, &model.AvailableActivitiesRequest{ResourceID: resourceID}, res); err != nil {
		return nil, fmt.Errorf("available activities: %w", err)
	}
	return res.Activities, nil
}

// ExecuteActivity runs a guarded activity on a resource.
func (c *Client) ExecuteActivity(ctx context.Context, resourceID string, activityID string, input model.Vars) (*model.ExecuteResult, error) {
	req := &model.ExecuteActivityRequest{ResourceID: resourceID, ActivityID: activityID, Input: input, TriggeredBy: c.triggeredBy}
	res := &model.ExecuteResult{}
	if err := api2.Call(ctx, c.con, messages.APIActivityExecute, c.sendMiddleware, req, res); err != nil {
		return nil, fmt.Errorf("execute activity: %w", err)
	}
	return res, nil
}

// TransitionState moves a resource to a place administratively.
func (c *Client) TransitionState(ctx context.Context, req *model.TransitionStateRequest) (*model.ExecuteResult, error) {
	r := *req
	r.TriggeredBy = c.actor(req.TriggeredBy)
	res := &model.ExecuteResult{}
	if err := api2.Call(ctx, c.con, messages.APIStateTransition, c.sendMiddleware, &r, res); err != nil {
		return nil, fmt.Errorf("transition state: %w", err)
	}
	return res, nil
}

// Subscribe consumes the events of one partition of a workflow's stream directly from JetStream.
func (c *Client) Subscribe(ctx context.Context, workflowID string, kind model.EventKind, fn eventstream.Handler, opts ...eventstream.SubscribeOption) (*eventstream.Subscription, error) {
	opts = append([]eventstream.SubscribeOption{eventstream.WithTelemetry(c.telemetryConfig)}, opts...)
	sub, err := eventstream.Subscribe(ctx, c.js, workflowID, kind, fn, opts...)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s %s: %w", workflowID, kind, err)
	}
	return sub, nil
}

// WatchPlace receives placement notifications for a place, or for every place of the workflow if place is empty.
// Notifications are not persisted, so those sent while the watcher is not subscribed are lost.
func (c *Client) WatchPlace(workflowID string, place string, fn func(n *model.PlaceNotification)) (func(), error) {
	subject := messages.PlaceSubject(workflowID, place)
	if place == "" {
		subject = fmt.Sprintf(messages.WorkflowPlaceTokensAll, workflowID)
	}
	sub, err := c.con.Subscribe(subject, func(msg *nats.Msg) {
		n := &model.PlaceNotification{}
		if err := codec.JSON.Unmarshal(msg.Data, n); err != nil {
			slog.Warn("undecodable place notification", "error", err, "subject", msg.Subject)
			return
		}
		fn(n)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil {
			slog.Warn("unsubscribe place watcher", "error", err, "subject", subject)
		}
	}, nil
}
