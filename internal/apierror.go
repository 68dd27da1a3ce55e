package internal

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	errors2 "gitlab.com/circuit-breaker/engine/server/errors"
	"google.golang.org/grpc/codes"
)

const (
	ErrorPrefix    = "ERR\x01" // ErrorPrefix ERR(Start of Heading) Denotes an API error.
	ErrorSeparator = "\x02"    // ErrorSeparator (Start of Text) Denotes the start of the API error message.
)

// Error kinds carried in the body of an API error.
const (
	KindValidation        = "validation"
	KindNotFound          = "not_found"
	KindStateTransition   = "state_transition"
	KindActivityExecution = "activity_execution"
	KindConflict          = "conflict"
	KindFatal             = "fatal"
	KindInternal          = "internal"
)

// WireError is the JSON body of an API error.
type WireError struct {
	Kind       string   `json:"kind"`
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Retryable  bool     `json:"retryable,omitempty"`
	Field      string   `json:"field,omitempty"`
	ID         string   `json:"id,omitempty"`
	ResourceID string   `json:"resource_id,omitempty"`
	ActivityID string   `json:"activity_id,omitempty"`
	Place      string   `json:"place,omitempty"`
	Failed     []string `json:"failed,omitempty"`
}

// ToWire classifies err, returning the status code and JSON body it is sent with.
func ToWire(err error) (codes.Code, *WireError) {
	var (
		ve *errors2.ValidationError
		nf *errors2.NotFoundError
		st *errors2.StateTransitionError
		ae *errors2.ActivityExecutionError
		ce *errors2.ConflictError
	)
	w := &WireError{Message: err.Error(), Code: errors2.Code(err), Retryable: errors2.Retryable(err)}
	switch {
	case errors2.As(err, &ce):
		w.Kind, w.ResourceID = KindConflict, ce.ResourceID
		return codes.Aborted, w
	case errors2.As(err, &st):
		w.Kind, w.ResourceID, w.ActivityID, w.Failed, w.Message = KindStateTransition, st.ResourceID, st.ActivityID, st.Failed, st.Message
		return codes.FailedPrecondition, w
	case errors2.As(err, &ae):
		w.Kind, w.ResourceID, w.ActivityID, w.Place = KindActivityExecution, ae.ResourceID, ae.ActivityID, ae.Place
		if ae.Err != nil {
			w.Message = ae.Err.Error()
		} else {
			w.Message = ""
		}
		return codes.FailedPrecondition, w
	case errors2.As(err, &ve):
		w.Kind, w.Field, w.Message = KindValidation, ve.Field, ve.Message
		return codes.InvalidArgument, w
	case errors2.As(err, &nf):
		w.Kind, w.ID = KindNotFound, nf.ID
		return codes.NotFound, w
	case errors2.IsWorkflowFatal(err):
		w.Kind = KindFatal
		return codes.Internal, w
	}
	w.Kind = KindInternal
	return codes.Unknown, w
}

// EncodeError formats an API error reply.
func EncodeError(code codes.Code, w *WireError) []byte {
	b, err := json.Marshal(w)
	if err != nil {
		b = []byte(strconv.Quote(w.Message))
	}
	return []byte(fmt.Sprintf("%s%d%s%s", ErrorPrefix, code, ErrorSeparator, b))
}

// IsError returns true if an API reply carries an error.
func IsError(data []byte) bool {
	return len(data) > len(ErrorPrefix) && string(data[:len(ErrorPrefix)]) == ErrorPrefix
}

// DecodeError rebuilds the typed error carried by an API error reply.
func DecodeError(data string) error {
	i := strings.Index(data, ErrorPrefix)
	if i == -1 {
		return fmt.Errorf("bad server error: %s", data)
	}
	parts := strings.SplitN(data[i+len(ErrorPrefix):], ErrorSeparator, 2)
	if len(parts) != 2 {
		return fmt.Errorf("bad server error: %s", data)
	}
	code, err := strconv.Atoi(parts[0])
	if err != nil {
		return fmt.Errorf("bad server error code %q: %w", parts[0], err)
	}
	w := &WireError{}
	if err := json.Unmarshal([]byte(parts[1]), w); err != nil {
		w = &WireError{Kind: KindInternal, Message: parts[1]}
	}
	return FromWire(codes.Code(code), w) //nolint:gosec
}

// FromWire maps a decoded API error onto the engine's typed errors.
func FromWire(code codes.Code, w *WireError) error {
	switch w.Kind {
	case KindValidation:
		return &errors2.ValidationError{Code: w.Code, Message: w.Message, Field: w.Field}
	case KindNotFound:
		if w.Code == errors2.CodeWorkflowNotFound {
			return errors2.WorkflowNotFound(w.ID)
		}
		return errors2.ResourceNotFound(w.ID)
	case KindConflict:
		return &errors2.ConflictError{Code: w.Code, ResourceID: w.ResourceID}
	case KindStateTransition:
		return &errors2.StateTransitionError{Code: w.Code, Message: w.Message, ResourceID: w.ResourceID, ActivityID: w.ActivityID, Failed: w.Failed}
	case KindActivityExecution:
		ae := &errors2.ActivityExecutionError{Code: w.Code, ActivityID: w.ActivityID, Place: w.Place, ResourceID: w.ResourceID}
		if w.Message != "" {
			ae.Err = errors2.New(w.Message)
		}
		return ae
	}
	ae := &Error{Code: int(code), Message: w.Message}
	if code == codes.Internal || w.Kind == KindFatal {
		return &errors2.ErrWorkflowFatal{Err: ae}
	}
	return ae
}

// Error is an API error with no typed equivalent.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("code %d: %s", e.Code, e.Message)
}
