package model

import (
	"iter"
	"slices"
	"time"
)

// WorkflowDefinition is an immutable graph of places and the activities that move resources between them.
type WorkflowDefinition struct {
	ID           string     `json:"id" validate:"omitempty,token"`
	Name         string     `json:"name"`
	Version      string     `json:"version,omitempty"`
	Description  string     `json:"description,omitempty"`
	Places       []string   `json:"places" validate:"required,min=1,dive,required,token"`
	InitialPlace string     `json:"initial_place" validate:"required,token"`
	Activities   []Activity `json:"activities" validate:"dive"`
	CreatedAt    time.Time  `json:"created_at"`
	// DataSchema is an optional JSON schema every resource's data must satisfy.
	DataSchema map[string]any `json:"data_schema,omitempty"`
}

// Activity is a named, guarded move from one or more source places to a single target place.
type Activity struct {
	ID         string      `json:"id" validate:"required,token"`
	Name       string      `json:"name,omitempty"`
	FromPlaces []string    `json:"from_places" validate:"required,min=1,dive,required"`
	ToPlace    string      `json:"to_place" validate:"required"`
	Conditions []Condition `json:"conditions,omitempty" validate:"dive"`
	// Terminal marks the activity as an end state. Its target is a terminal place.
	Terminal bool `json:"terminal,omitempty"`
}

// HasPlace returns true if the place is declared by the workflow.
func (wf *WorkflowDefinition) HasPlace(place string) bool {
	return slices.Contains(wf.Places, place)
}

// Activity returns the activity with the given ID.
func (wf *WorkflowDefinition) Activity(id string) (*Activity, bool) {
	for i := range wf.Activities {
		if wf.Activities[i].ID == id {
			return &wf.Activities[i], true
		}
	}
	return nil, false
}

// ActivitiesFrom yields the activities enabled from a place in declaration order.
// The sequence can be ranged over any number of times.
func (wf *WorkflowDefinition) ActivitiesFrom(place string) iter.Seq[Activity] {
	return func(yield func(Activity) bool) {
		for _, a := range wf.Activities {
			if !a.EnabledFrom(place) {
				continue
			}
			if !yield(a) {
				return
			}
		}
	}
}

// IsTerminalPlace returns true if the place is the target of any terminal activity.
func (wf *WorkflowDefinition) IsTerminalPlace(place string) bool {
	for _, a := range wf.Activities {
		if a.Terminal && a.ToPlace == place {
			return true
		}
	}
	return false
}

// TerminalPlaces returns the distinct targets of all terminal activities.
func (wf *WorkflowDefinition) TerminalPlaces() []string {
	ret := make([]string, 0)
	for _, a := range wf.Activities {
		if a.Terminal && !slices.Contains(ret, a.ToPlace) {
			ret = append(ret, a.ToPlace)
		}
	}
	return ret
}

// EnabledFrom returns true if place is one of the activity's source places.
func (a Activity) EnabledFrom(place string) bool {
	return slices.Contains(a.FromPlaces, place)
}
