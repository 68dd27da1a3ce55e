package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/segmentio/ksuid"
	"gitlab.com/circuit-breaker/engine/common"
	"gitlab.com/circuit-breaker/engine/common/header"
	"gitlab.com/circuit-breaker/engine/common/logx"
	"gitlab.com/circuit-breaker/engine/common/middleware"
	"gitlab.com/circuit-breaker/engine/common/version"
	"gitlab.com/circuit-breaker/engine/internal"
	errors2 "gitlab.com/circuit-breaker/engine/server/errors"
)

// DefaultTimeout bounds an API request when the context has no deadline.
const DefaultTimeout = 60 * time.Second

// ErrServerOffline is returned when no engine answers on the API subject.
var ErrServerOffline = errors.New("circuit-breaker-client: engine is offline or missing from the current nats server")

func newRequest(ctx context.Context, subject string, sendMiddleware []middleware.Send, command any) (context.Context, *nats.Msg, error) {
	b, err := json.Marshal(command)
	if err != nil {
		return ctx, nil, fmt.Errorf("marshal json for call API: %w", err)
	}
	msg := nats.NewMsg(subject)
	if logx.CorrelationID(ctx) == "" {
		ctx = logx.WithCorrelationID(ctx, ksuid.New().String())
	}
	header.FromCtxToMsgHeader(ctx, &msg.Header)
	msg.Header.Set(header.EngineVersion, version.Version)
	for _, i := range sendMiddleware {
		if err := i(ctx, msg); err != nil {
			return ctx, nil, fmt.Errorf("send middleware %s: %w", reflect.TypeOf(i).Name(), err)
		}
	}
	msg.Data = b
	return ctx, msg, nil
}

// Call provides the functionality to call engine APIs
func Call[T any, U any](ctx context.Context, con *nats.Conn, subject string, sendMiddleware []middleware.Send, command T, ret U) error {
	ctx, msg, err := newRequest(ctx, subject, sendMiddleware, command)
	if err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}
	res, err := con.RequestMsgWithContext(ctx, msg)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			err = ErrServerOffline
		} else if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
			err = fmt.Errorf("%w: %w", errors2.ErrApiTimeout, err)
		}
		return fmt.Errorf("API call: %w", err)
	}
	if internal.IsError(res.Data) {
		return internal.DecodeError(string(res.Data))
	}
	if err := json.Unmarshal(res.Data, ret); err != nil {
		return fmt.Errorf("unmarshal json for call API: %w", err)
	}
	return nil
}

// CallReturnStream provides the functionality to call engine APIs and receive a streaming response.
// fn is called with a fresh U for every message. Returning errors2.ErrStreamCancel from fn ends the stream without error.
func CallReturnStream[T any, U any](ctx context.Context, con *nats.Conn, subject string, sendMiddleware []middleware.Send, command T, fn func(ret *U) error) error {
	ctx, msg, err := newRequest(ctx, subject, sendMiddleware, command)
	if err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}
	var callErr error
	err = common.StreamingReplyClient(ctx, con, msg, func(res *nats.Msg) error {
		if internal.IsError(res.Data) {
			callErr = internal.DecodeError(string(res.Data))
			return callErr
		}
		ct := new(U)
		if err := json.Unmarshal(res.Data, ct); err != nil {
			return fmt.Errorf("unmarshal json for call API: %w", err)
		}
		return fn(ct)
	})
	if err != nil {
		if callErr != nil {
			return callErr
		}
		if errors.Is(err, nats.ErrNoResponders) {
			return fmt.Errorf("API call: %w", ErrServerOffline)
		}
		if strings.Contains(err.Error(), internal.ErrorPrefix) {
			return internal.DecodeError(err.Error())
		}
		return fmt.Errorf("API call: %w", err)
	}
	return nil
}
