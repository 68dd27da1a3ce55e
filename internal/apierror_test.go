package internal

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	errors2 "gitlab.com/circuit-breaker/engine/server/errors"
	"google.golang.org/grpc/codes"
)

func roundTrip(t *testing.T, err error) (codes.Code, error) {
	code, w := ToWire(fmt.Errorf("wrapped: %w", err))
	b := EncodeError(code, w)
	require.True(t, IsError(b))
	return code, DecodeError(string(b))
}

func TestConflictSurvivesTheWire(t *testing.T) {
	code, err := roundTrip(t, &errors2.ConflictError{Code: errors2.CodeResourceBusy, ResourceID: "r1"})
	assert.Equal(t, codes.Aborted, code)
	assert.True(t, errors2.Retryable(err))
	assert.Equal(t, errors2.CodeResourceBusy, errors2.Code(err))
}

func TestGuardFailureSurvivesTheWire(t *testing.T) {
	code, err := roundTrip(t, &errors2.StateTransitionError{Code: errors2.CodeGuardFailed, Message: "guard failed", ResourceID: "r1", ActivityID: "approve", Failed: []string{"a", "b"}})
	assert.Equal(t, codes.FailedPrecondition, code)
	var st *errors2.StateTransitionError
	require.ErrorAs(t, err, &st)
	assert.Equal(t, []string{"a", "b"}, st.Failed)
	assert.Equal(t, "approve", st.ActivityID)
	assert.False(t, errors2.Retryable(err))
}

func TestNotFoundSurvivesTheWire(t *testing.T) {
	code, err := roundTrip(t, errors2.WorkflowNotFound("doc"))
	assert.Equal(t, codes.NotFound, code)
	assert.ErrorIs(t, err, errors2.ErrWorkflowNotFound)

	_, err = roundTrip(t, errors2.ResourceNotFound("r9"))
	assert.ErrorIs(t, err, errors2.ErrResourceNotFound)
}

func TestValidationSurvivesTheWire(t *testing.T) {
	code, err := roundTrip(t, errors2.NewValidation(errors2.CodeDuplicatePlace, "places", "place %s declared twice", "draft"))
	assert.Equal(t, codes.InvalidArgument, code)
	var ve *errors2.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "places", ve.Field)
	assert.Equal(t, "place draft declared twice", ve.Message)
}

func TestActivityExecutionSurvivesTheWire(t *testing.T) {
	_, err := roundTrip(t, &errors2.ActivityExecutionError{Code: errors2.CodeActivityNotFound, ActivityID: "x", Place: "draft", ResourceID: "r1"})
	var ae *errors2.ActivityExecutionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "draft", ae.Place)
	assert.Nil(t, ae.Err)
}

func TestFatalAndUnknownErrors(t *testing.T) {
	code, err := roundTrip(t, &errors2.ErrWorkflowFatal{Err: errors.New("broken")})
	assert.Equal(t, codes.Internal, code)
	assert.True(t, errors2.IsWorkflowFatal(err))

	code, err = roundTrip(t, errors.New("odd"))
	assert.Equal(t, codes.Unknown, code)
	var ae *Error
	require.ErrorAs(t, err, &ae)
	assert.Contains(t, ae.Message, "odd")
}

func TestDecodeMalformed(t *testing.T) {
	assert.Error(t, DecodeError("no prefix here"))
	assert.Error(t, DecodeError(ErrorPrefix+"abc"+ErrorSeparator+"{}"))
	err := DecodeError(ErrorPrefix + "7" + ErrorSeparator + "not json")
	var ae *Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 7, ae.Code)
}
