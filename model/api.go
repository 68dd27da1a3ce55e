package model

// API request and response bodies. They travel as JSON over the CB.API subjects.

// CreateWorkflowRequest stores a new workflow definition.
type CreateWorkflowRequest struct {
	Workflow *WorkflowDefinition `json:"workflow"`
}

// GetWorkflowRequest retrieves a workflow definition.
type GetWorkflowRequest struct {
	WorkflowID string `json:"workflow_id"`
}

// ListWorkflowsRequest lists every stored workflow definition.
type ListWorkflowsRequest struct{}

// ListActivitiesRequest lists the activities enabled from a place.
type ListActivitiesRequest struct {
	WorkflowID string `json:"workflow_id"`
	Place      string `json:"place"`
}

// ListActivitiesResponse holds the enabled activities in declaration order.
type ListActivitiesResponse struct {
	Activities []Activity `json:"activities"`
}

// CreateResourceRequest creates a resource.
type CreateResourceRequest struct {
	WorkflowID   string `json:"workflow_id"`
	InitialPlace string `json:"initial_place,omitempty"`
	Data         Vars   `json:"data,omitempty"`
	Metadata     Vars   `json:"metadata,omitempty"`
	TriggeredBy  string `json:"triggered_by,omitempty"`
}

// GetResourceRequest retrieves a resource, optionally expanded.
type GetResourceRequest struct {
	ResourceID   string `json:"resource_id"`
	WithWorkflow bool   `json:"with_workflow,omitempty"`
	WithHistory  bool   `json:"with_history,omitempty"`
}

// FindResourceRequest looks a resource up within a workflow.
type FindResourceRequest struct {
	WorkflowID string `json:"workflow_id"`
	ResourceID string `json:"resource_id"`
}

// FindResourceResponse carries the resource, or nil if it does not exist.
type FindResourceResponse struct {
	Resource *Resource `json:"resource,omitempty"`
}

// UpdateResourceRequest shallow merges patches into resource data and metadata.
type UpdateResourceRequest struct {
	ResourceID  string `json:"resource_id"`
	Data        Vars   `json:"data,omitempty"`
	Metadata    Vars   `json:"metadata,omitempty"`
	TriggeredBy string `json:"triggered_by,omitempty"`
}

// DeleteResourceRequest removes a resource.
type DeleteResourceRequest struct {
	ResourceID  string `json:"resource_id"`
	Force       bool   `json:"force,omitempty"`
	TriggeredBy string `json:"triggered_by,omitempty"`
}

// DeleteResourceResponse acknowledges a deletion.
type DeleteResourceResponse struct {
	ResourceID string `json:"resource_id"`
}

// ResourcesInPlaceRequest streams the resources occupying a place.
type ResourcesInPlaceRequest struct {
	WorkflowID string `json:"workflow_id"`
	Place      string `json:"place"`
}

// HistoryRequest returns the event history of a resource.
type HistoryRequest struct {
	WorkflowID string `json:"workflow_id"`
	ResourceID string `json:"resource_id"`
}

// HistoryResponse lists the history in version order.
type HistoryResponse struct {
	Events    []TransitionEvent `json:"events"`
	Truncated bool              `json:"truncated,omitempty"`
}

// AvailableActivitiesRequest lists the activities a resource could take from its place.
type AvailableActivitiesRequest struct {
	ResourceID string `json:"resource_id"`
}

// AvailableActivitiesResponse holds each enabled activity with its guard outcome.
type AvailableActivitiesResponse struct {
	Activities []AvailableActivity `json:"activities"`
}

// ExecuteActivityRequest runs a guarded activity on a resource.
type ExecuteActivityRequest struct {
	ResourceID  string `json:"resource_id"`
	ActivityID  string `json:"activity_id"`
	Input       Vars   `json:"input,omitempty"`
	TriggeredBy string `json:"triggered_by,omitempty"`
}

// TransitionStateRequest moves a resource administratively.
type TransitionStateRequest struct {
	ResourceID  string `json:"resource_id"`
	ToPlace     string `json:"to_place"`
	ActivityID  string `json:"activity_id,omitempty"`
	Data        Vars   `json:"data,omitempty"`
	Validate    *bool  `json:"validate,omitempty"`
	TriggeredBy string `json:"triggered_by,omitempty"`
}

// Validating reports whether the activity reference is checked.  Validation is on unless explicitly disabled.
func (r *TransitionStateRequest) Validating() bool {
	return r.Validate == nil || *r.Validate
}

// VersionRequest asks for the server version.
type VersionRequest struct {
	ClientVersion string `json:"client_version"`
}

// VersionResponse reports the server version and whether the caller may connect.
type VersionResponse struct {
	ServerVersion    string `json:"server_version"`
	MinClientVersion string `json:"min_client_version"`
	Connectable      bool   `json:"connectable"`
}
