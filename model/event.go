package model

import "time"

// EventType names a durable event.
type EventType string

const (
	EventTokenCreated      EventType = "token_created"      // EventTokenCreated is published when a resource is created.
	EventTokenUpdated      EventType = "token_updated"      // EventTokenUpdated is published when resource data or metadata is patched.
	EventTokenDeleted      EventType = "token_deleted"      // EventTokenDeleted is published when a resource is removed.
	EventTokenTransitioned EventType = "token_transitioned" // EventTokenTransitioned is published when a guarded activity moves a resource.
	EventTokenMoved        EventType = "token_moved"        // EventTokenMoved is published when a resource is moved administratively.
)

// EventKind partitions the events of a workflow stream.
type EventKind string

const (
	KindTransitions EventKind = "transitions" // KindTransitions carries place changes.
	KindLifecycle   EventKind = "lifecycle"   // KindLifecycle carries creation, update and deletion.
)

// Kind returns the partition an event type is published to.
func (t EventType) Kind() EventKind {
	switch t {
	case EventTokenTransitioned, EventTokenMoved:
		return KindTransitions
	default:
		return KindLifecycle
	}
}

// Event is the wire representation of a durable event.
//
// Data and metadata are full snapshots after the event, so the current state of a resource
// can be rebuilt by replaying its events.
type Event struct {
	EventType       EventType `json:"event_type"`
	TokenID         string    `json:"token_id"`
	WorkflowID      string    `json:"workflow_id"`
	FromPlace       string    `json:"from_place,omitempty"`
	ToPlace         string    `json:"to_place"`
	TransitionID    string    `json:"transition_id,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	TriggeredBy     string    `json:"triggered_by"`
	ResourceVersion uint64    `json:"resource_version"`
	CreatedAt       time.Time `json:"created_at"`
	Data            Vars      `json:"data,omitempty"`
	Metadata        Vars      `json:"metadata,omitempty"`
	Warnings        []string  `json:"warnings,omitempty"`

	// Provenance, filled in from the stream and never serialised.
	NatsSequence  uint64    `json:"-"`
	NatsSubject   string    `json:"-"`
	NatsTimestamp time.Time `json:"-"`
}

// NewEvent builds the event that records the resource in its new state.
func NewEvent(eventType EventType, r *Resource, fromPlace string, activityID string, triggeredBy string) *Event {
	return &Event{
		EventType:       eventType,
		TokenID:         r.ID,
		WorkflowID:      r.WorkflowID,
		FromPlace:       fromPlace,
		ToPlace:         r.Place,
		TransitionID:    activityID,
		Timestamp:       r.UpdatedAt,
		TriggeredBy:     triggeredBy,
		ResourceVersion: r.Version,
		CreatedAt:       r.CreatedAt,
		Data:            r.Data.Clone(),
		Metadata:        r.Metadata.Clone(),
	}
}

// TransitionEvent converts the wire event into a history entry.
func (e *Event) TransitionEvent() TransitionEvent {
	return TransitionEvent{
		Kind:            e.EventType,
		FromPlace:       e.FromPlace,
		ToPlace:         e.ToPlace,
		ActivityID:      e.TransitionID,
		Timestamp:       e.Timestamp,
		TriggeredBy:     e.TriggeredBy,
		NatsSequence:    e.NatsSequence,
		NatsSubject:     e.NatsSubject,
		ResourceVersion: e.ResourceVersion,
		Data:            e.Data,
		Metadata:        e.Metadata,
	}
}

// Resource rebuilds the state of the resource recorded by the event.
func (e *Event) Resource() *Resource {
	return &Resource{
		ID:            e.TokenID,
		WorkflowID:    e.WorkflowID,
		Place:         e.ToPlace,
		Data:          e.Data.Clone(),
		Metadata:      e.Metadata.Clone(),
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.Timestamp,
		Version:       e.ResourceVersion,
		NatsSequence:  e.NatsSequence,
		NatsSubject:   e.NatsSubject,
		NatsTimestamp: e.NatsTimestamp,
	}
}

// PlaceNotification is published, without persistence, when a resource enters or leaves a place.
type PlaceNotification struct {
	WorkflowID   string    `json:"workflow_id"`
	Place        string    `json:"place"`
	TokenID      string    `json:"token_id"`
	Entered      bool      `json:"entered"`
	NatsSequence uint64    `json:"nats_sequence"`
	Timestamp    time.Time `json:"timestamp"`
}
