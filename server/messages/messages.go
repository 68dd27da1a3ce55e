package messages

import (
	"fmt"
	"strings"

	"gitlab.com/circuit-breaker/engine/model"
)

const (
	StreamPrefix             = "WORKFLOW_"                     // StreamPrefix is prepended to the upper cased workflow id to name its event stream.
	WorkflowEventsAll        = "workflows.%s.events.>"         // WorkflowEventsAll is the wildcard subject bound to a workflow stream.
	WorkflowEventsKind       = "workflows.%s.events.%s.*"      // WorkflowEventsKind is the wildcard subject for one event partition of a workflow.
	WorkflowEvent            = "workflows.%s.events.%s.%s"     // WorkflowEvent is the subject of one event: workflow, partition, resource.
	WorkflowResourceEvents   = "workflows.%s.events.*.%s"      // WorkflowResourceEvents is the wildcard subject of every event for a resource.
	WorkflowPlaceTokens      = "workflows.%s.places.%s.tokens" // WorkflowPlaceTokens is the core NATS subject of placement notifications for a place.
	WorkflowPlaceTokensAll   = "workflows.%s.places.*.tokens"  // WorkflowPlaceTokensAll is the wildcard subject of placement notifications for a workflow.
	ProjectorDurablePrefix   = "projector_"                    // ProjectorDurablePrefix names the durable consumer maintaining the resource view.
	ArchiverDurablePrefix    = "archiver_"                     // ArchiverDurablePrefix names the durable consumer copying events to the archive.
	SubscriberDurablePrefix  = "sub_"                          // SubscriberDurablePrefix is prepended to user supplied durable subscription names.
	WorkflowEventMsgIDFormat = "%s.%s.%d"                      // WorkflowEventMsgIDFormat formats the Nats-Msg-Id of an event: workflow, resource, version.
)

const (
	APIAll                = "CB.API.>"                   // APIAll is all API message subjects.
	APIWorkflowCreate     = "CB.API.Workflow.Create"     // APIWorkflowCreate stores a new workflow definition.
	APIWorkflowGet        = "CB.API.Workflow.Get"        // APIWorkflowGet retrieves a workflow definition.
	APIWorkflowList       = "CB.API.Workflow.List"       // APIWorkflowList lists workflow definitions as a stream.
	APIWorkflowActivities = "CB.API.Workflow.Activities" // APIWorkflowActivities lists the activities enabled from a place.
	APIResourceCreate     = "CB.API.Resource.Create"     // APIResourceCreate creates a resource in a workflow.
	APIResourceGet        = "CB.API.Resource.Get"        // APIResourceGet retrieves a resource by id.
	APIResourceFind       = "CB.API.Resource.Find"       // APIResourceFind looks a resource up within a workflow.
	APIResourceUpdate     = "CB.API.Resource.Update"     // APIResourceUpdate patches resource data and metadata.
	APIResourceDelete     = "CB.API.Resource.Delete"     // APIResourceDelete removes a resource.
	APIResourceList       = "CB.API.Resource.List"       // APIResourceList returns a filtered page of resources.
	APIResourceInPlace    = "CB.API.Resource.InPlace"    // APIResourceInPlace streams the resources occupying a place.
	APIResourceHistory    = "CB.API.Resource.History"    // APIResourceHistory returns the event history of a resource.
	APIResourceAvailable  = "CB.API.Resource.Available"  // APIResourceAvailable lists the activities a resource could take.
	APIActivityExecute    = "CB.API.Activity.Execute"    // APIActivityExecute runs a guarded activity.
	APIStateTransition    = "CB.API.State.Transition"    // APIStateTransition moves a resource administratively.
	APIGetVersionInfo     = "CB.API.Version"             // APIGetVersionInfo returns the server version.
	APIQueueGroup         = "circuit-breaker-api"        // APIQueueGroup is the queue group shared by engine instances.
)

var (
	KvDefinition    = "WORKFLOW_DEFINITION"     // KvDefinition is the name of the key value store that holds workflow definitions.
	KvResource      = "WORKFLOW_RESOURCE"       // KvResource is the name of the key value store that holds the current state of resources.
	KvResourceOwner = "WORKFLOW_RESOURCE_OWNER" // KvResourceOwner is the name of the key value store mapping resource ids to workflow ids.
	KvLock          = "WORKFLOW_LOCK"           // KvLock is the name of the key value store holding per resource locks.
)

// AllBuckets lists every key value store used by the engine.
var AllBuckets = []string{KvDefinition, KvResource, KvResourceOwner, KvLock}

// StreamName returns the name of the event stream of a workflow.
func StreamName(workflowID string) string {
	return StreamPrefix + strings.ToUpper(workflowID)
}

// EventSubject returns the subject an event is published to.
func EventSubject(workflowID string, kind model.EventKind, resourceID string) string {
	return fmt.Sprintf(WorkflowEvent, workflowID, kind, resourceID)
}

// EventMsgID returns the deduplication id of the event recording a resource version.
func EventMsgID(workflowID string, resourceID string, version uint64) string {
	return fmt.Sprintf(WorkflowEventMsgIDFormat, workflowID, resourceID, version)
}

// ResourceKey returns the key of a resource in the resource store.
func ResourceKey(workflowID string, resourceID string) string {
	return workflowID + "." + resourceID
}

// PlaceSubject returns the placement notification subject for a place.
func PlaceSubject(workflowID string, place string) string {
	return fmt.Sprintf(WorkflowPlaceTokens, workflowID, place)
}
