package model

import "time"

// Resource is a unit of work occupying one place of a workflow. It is also called a token.
type Resource struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	Place      string    `json:"place"`
	Data       Vars      `json:"data"`
	Metadata   Vars      `json:"metadata"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	// Version counts the durable events recorded for the resource. It starts at 1.
	Version       uint64    `json:"version"`
	NatsSequence  uint64    `json:"nats_sequence"`
	NatsSubject   string    `json:"nats_subject"`
	NatsTimestamp time.Time `json:"nats_timestamp"`

	// Populated on request only.
	TransitionHistory []TransitionEvent   `json:"transition_history,omitempty"`
	HistoryTruncated  bool                `json:"history_truncated,omitempty"`
	Workflow          *WorkflowDefinition `json:"workflow,omitempty"`
}

// Clone returns a deep copy of the resource without its expansions.
func (r *Resource) Clone() *Resource {
	c := *r
	c.Data = r.Data.Clone()
	c.Metadata = r.Metadata.Clone()
	c.TransitionHistory = nil
	c.HistoryTruncated = false
	c.Workflow = nil
	return &c
}

// TransitionEvent records one durable event in the history of a resource.
type TransitionEvent struct {
	Kind            EventType `json:"kind"`
	FromPlace       string    `json:"from_place,omitempty"`
	ToPlace         string    `json:"to_place"`
	ActivityID      string    `json:"activity_id,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	TriggeredBy     string    `json:"triggered_by"`
	NatsSequence    uint64    `json:"nats_sequence"`
	NatsSubject     string    `json:"nats_subject"`
	ResourceVersion uint64    `json:"resource_version"`
	Data            Vars      `json:"data,omitempty"`
	Metadata        Vars      `json:"metadata,omitempty"`
}

// ExecuteResult is returned by activity execution and administrative transitions.
type ExecuteResult struct {
	Resource *Resource       `json:"resource"`
	Event    TransitionEvent `json:"event"`
	Warnings []string        `json:"warnings,omitempty"`
}

// AvailableActivity describes an activity enabled from a resource's current place.
type AvailableActivity struct {
	Activity Activity `json:"activity"`
	// Passes is true if every hard condition currently holds.
	Passes   bool     `json:"passes"`
	Failures []string `json:"failures,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// OrderBy selects the sort key of a resource listing.
type OrderBy string

const (
	OrderByCreated OrderBy = "created" // OrderByCreated sorts by creation time. This is the default.
	OrderByUpdated OrderBy = "updated" // OrderByUpdated sorts by last update time.
)

// ResourceFilter selects resources for a listing.
type ResourceFilter struct {
	WorkflowID    string    `json:"workflow_id,omitempty"`
	Places        []string  `json:"places,omitempty"`
	Data          Vars      `json:"data,omitempty"`
	Metadata      Vars      `json:"metadata,omitempty"`
	CreatedAfter  time.Time `json:"created_after,omitempty"`
	CreatedBefore time.Time `json:"created_before,omitempty"`
	UpdatedAfter  time.Time `json:"updated_after,omitempty"`
	UpdatedBefore time.Time `json:"updated_before,omitempty"`
	OrderBy       OrderBy   `json:"order_by,omitempty"`
	Descending    bool      `json:"descending,omitempty"`
	Offset        int       `json:"offset,omitempty"`
	Limit         int       `json:"limit,omitempty"`
}

// Accepts returns true if the resource satisfies the non-index parts of the filter.
func (f *ResourceFilter) Accepts(r *Resource) bool {
	if f.WorkflowID != "" && r.WorkflowID != f.WorkflowID {
		return false
	}
	if len(f.Places) > 0 {
		found := false
		for _, p := range f.Places {
			if p == r.Place {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !r.Data.Matches(f.Data) || !r.Metadata.Matches(f.Metadata) {
		return false
	}
	if !inRange(r.CreatedAt, f.CreatedAfter, f.CreatedBefore) {
		return false
	}
	return inRange(r.UpdatedAt, f.UpdatedAfter, f.UpdatedBefore)
}

func inRange(t, after, before time.Time) bool {
	if !after.IsZero() && !t.After(after) {
		return false
	}
	if !before.IsZero() && !t.Before(before) {
		return false
	}
	return true
}

// ResourcePage is one page of a resource listing.
type ResourcePage struct {
	Items  []*Resource `json:"items"`
	Total  int         `json:"total"`
	Offset int         `json:"offset"`
	Limit  int         `json:"limit"`
}
