package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// VerboseLevel is the slog level for chatty diagnostics.
const VerboseLevel = slog.Level(-51)

// TraceLevel is the slog level for per message tracing.
const TraceLevel = slog.Level(-41)

var (
	ErrValidation         = errors.New("validation failed")          // ErrValidation is the class of all definition and input validation failures.
	ErrNotFound           = errors.New("not found")                  // ErrNotFound is the class of all lookup failures.
	ErrWorkflowNotFound   = fmt.Errorf("workflow: %w", ErrNotFound)  // ErrWorkflowNotFound is returned when a workflow definition does not exist.
	ErrResourceNotFound   = fmt.Errorf("resource: %w", ErrNotFound)  // ErrResourceNotFound is returned when a resource does not exist.
	ErrStateTransition    = errors.New("state transition rejected")  // ErrStateTransition is the class of rejected moves between places.
	ErrActivityExecution  = errors.New("activity execution failed")  // ErrActivityExecution is the class of failures raised while running an activity.
	ErrConflict           = errors.New("concurrent modification")    // ErrConflict is returned when another writer won a race for a resource.
	ErrInvalidTargetPlace = errors.New("target place not declared")  // ErrInvalidTargetPlace is returned when an administrative move names an unknown place.
	ErrClosed             = errors.New("engine closed")              // ErrClosed is returned by operations on a closed engine.
	ErrStreamCancel       = errors.New("streaming reply cancelled")  // ErrStreamCancel is returned when a streaming reply is cancelled by the receiver.
	ErrMissingID          = errors.New("missing id")                 // ErrMissingID is returned when a required identifier is empty.
	ErrApiTimeout         = errors.New("api call timed out")         // ErrApiTimeout is returned when an API request receives no reply.
	ErrBadFilter          = errors.New("invalid resource filter")    // ErrBadFilter is returned for an unusable query filter.
	ErrHistoryUnavailable = errors.New("resource history not found") // ErrHistoryUnavailable is returned when no events survive for a resource.
)

// Error codes carried by typed errors and across the API boundary.
const (
	CodeInvalidDefinition     = "INVALID_DEFINITION"
	CodeUnknownPlace          = "UNKNOWN_PLACE"
	CodeNoInitialPlace        = "NO_INITIAL_PLACE"
	CodeDuplicatePlace        = "DUPLICATE_PLACE"
	CodeDuplicateActivity     = "DUPLICATE_ACTIVITY"
	CodeInvalidCondition      = "INVALID_CONDITION"
	CodeWorkflowExists        = "WORKFLOW_EXISTS"
	CodeInvalidInitialState   = "INVALID_INITIAL_STATE"
	CodeInvalidInput          = "INVALID_INPUT"
	CodeSchemaViolation       = "SCHEMA_VIOLATION"
	CodeResourceNotTerminal   = "RESOURCE_NOT_TERMINAL"
	CodeActivityNotFound      = "ACTIVITY_NOT_FOUND"
	CodeActivityNotApplicable = "ACTIVITY_NOT_APPLICABLE"
	CodeGuardFailed           = "GUARD_FAILED"
	CodeGuardTimeout          = "GUARD_TIMEOUT"
	CodeGuardError            = "GUARD_ERROR"
	CodeInvalidTargetPlace    = "INVALID_TARGET_PLACE"
	CodeResourceBusy          = "RESOURCE_BUSY"
	CodeVersionConflict       = "VERSION_CONFLICT"
	CodeWorkflowNotFound      = "WORKFLOW_NOT_FOUND"
	CodeResourceNotFound      = "RESOURCE_NOT_FOUND"
	CodeInternal              = "INTERNAL"
)

// ValidationError describes a rejected workflow definition, resource or query.
type ValidationError struct {
	Code    string
	Message string
	Field   string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Field)
	}
	return e.Code + ": " + e.Message
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidation creates a validation error with a formatted message.
func NewValidation(code string, field string, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing workflow or resource.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// Is matches ErrNotFound and the sentinel for the missing kind.
func (e *NotFoundError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return true
	case ErrWorkflowNotFound:
		return e.Kind == "workflow"
	case ErrResourceNotFound:
		return e.Kind == "resource"
	}
	return false
}

// Code returns the API error code for the missing kind.
func (e *NotFoundError) Code() string {
	if e.Kind == "workflow" {
		return CodeWorkflowNotFound
	}
	return CodeResourceNotFound
}

// WorkflowNotFound returns a NotFoundError for a workflow definition.
func WorkflowNotFound(id string) *NotFoundError {
	return &NotFoundError{Kind: "workflow", ID: id}
}

// ResourceNotFound returns a NotFoundError for a resource.
func ResourceNotFound(id string) *NotFoundError {
	return &NotFoundError{Kind: "resource", ID: id}
}

// StateTransitionError is returned when a resource may not move as requested.
type StateTransitionError struct {
	Code       string
	Message    string
	ResourceID string
	ActivityID string
	// Failed lists the conditions that did not hold.
	Failed []string
}

func (e *StateTransitionError) Error() string {
	msg := fmt.Sprintf("%s: resource %s: %s", e.Code, e.ResourceID, e.Message)
	if len(e.Failed) > 0 {
		msg += " [" + strings.Join(e.Failed, ", ") + "]"
	}
	return msg
}

// Is matches ErrStateTransition.
func (e *StateTransitionError) Is(target error) bool {
	return target == ErrStateTransition
}

// ActivityExecutionError is returned when an activity cannot be run on a resource in its current place.
type ActivityExecutionError struct {
	Code       string
	ActivityID string
	Place      string
	ResourceID string
	Err        error
}

func (e *ActivityExecutionError) Error() string {
	msg := fmt.Sprintf("%s: activity %s from place %s on resource %s", e.Code, e.ActivityID, e.Place, e.ResourceID)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches ErrActivityExecution.
func (e *ActivityExecutionError) Is(target error) bool {
	return target == ErrActivityExecution
}

func (e *ActivityExecutionError) Unwrap() error {
	return e.Err
}

// ConflictError is returned when a concurrent writer changed the resource first.
// The caller may reload the resource and retry.
type ConflictError struct {
	Code       string
	ResourceID string
	Err        error
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("%s: resource %s was modified concurrently", e.Code, e.ResourceID)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches ErrConflict and ErrStateTransition.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict || target == ErrStateTransition
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// Retryable returns true if the operation that produced err can be retried after a reload.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// Code extracts the error code from any typed error in the chain.
func Code(err error) string {
	var (
		ve *ValidationError
		nf *NotFoundError
		st *StateTransitionError
		ae *ActivityExecutionError
		ce *ConflictError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ce):
		return ce.Code
	case errors.As(err, &st):
		return st.Code
	case errors.As(err, &ae):
		return ae.Code
	case errors.As(err, &ve):
		return ve.Code
	case errors.As(err, &nf):
		return nf.Code()
	}
	return CodeInternal
}

// ErrWorkflowFatal signifies that the event processing cannot continue and the message must be discarded.
type ErrWorkflowFatal struct {
	Err error
}

// Error returns the string version of the ErrWorkflowFatal error
func (e ErrWorkflowFatal) Error() string {
	return e.Err.Error()
}

func (e ErrWorkflowFatal) Unwrap() error {
	return e.Err
}

// IsWorkflowFatal is a quick test to check whether the error contains ErrWorkflowFatal
func IsWorkflowFatal(err error) bool {
	var v ErrWorkflowFatal
	if errors.As(err, &v) {
		return true
	}
	var p *ErrWorkflowFatal
	return errors.As(err, &p)
}

// IsJetStreamNotFound returns true for any of the JetStream or KV not found errors.
func IsJetStreamNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound) ||
		errors.Is(err, jetstream.ErrMsgNotFound) ||
		errors.Is(err, jetstream.ErrStreamNotFound) ||
		errors.Is(err, jetstream.ErrConsumerNotFound) ||
		errors.Is(err, jetstream.ErrBucketNotFound) ||
		errors.Is(err, jetstream.ErrKeyDeleted) ||
		errors.Is(err, nats.ErrKeyNotFound)
}

// IsWrongLastSequence returns true when a revision checked write lost a race.
func IsWrongLastSequence(err error) bool {
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
	}
	return errors.Is(err, jetstream.ErrKeyExists)
}

// Is is an alias of errors.Is.
func Is(err, target error) bool { return errors.Is(err, target) }

// As is an alias of errors.As.
func As(err error, target any) bool { return errors.As(err, target) }

// New is an alias of errors.New.
func New(text string) error { return errors.New(text) }
