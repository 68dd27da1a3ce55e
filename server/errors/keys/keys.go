package keys

// ContextKey is the wrapper for using context keys
type ContextKey string

const (
	// WorkflowID is the key for the workflow definition a resource belongs to.
	WorkflowID = "wf_id"
	// ResourceID is the key for the unique identifier of a resource.
	ResourceID = "res_id"
	// ActivityID is the key for the activity being executed.
	ActivityID = "act_id"
	// Place is the key for the current place of a resource.
	Place = "place"
	// TargetPlace is the key for the place a resource is moving to.
	TargetPlace = "to_place"
	// Version is the key for a resource version.
	Version = "res_ver"
	// Sequence is the key for a JetStream sequence number.
	Sequence = "seq"
	// Subject is the key for a NATS subject.
	Subject = "subj"
	// EventType is the key for the type of a durable event.
	EventType = "ev_type"
	// TriggeredBy is the key for the actor that caused an event.
	TriggeredBy = "trig_by"
	// Condition is a key for a guard condition being evaluated.
	Condition = "el_cond"
	// Code is a key for an error code.
	Code = "code"
)
