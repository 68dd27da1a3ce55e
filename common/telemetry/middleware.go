package telemetry

import (
	"context"

	"github.com/nats-io/nats.go"
	"gitlab.com/circuit-breaker/engine/common/middleware"
)

// SendMessageTelemetry returns middleware that writes trace context to outgoing messages.
func SendMessageTelemetry(cfg Config) middleware.Send {
	return func(ctx context.Context, msg *nats.Msg) error {
		CtxToNatsMsg(ctx, &cfg, msg)
		return nil
	}
}

// ReceiveMessageTelemetry returns middleware that reads trace context from incoming messages.
func ReceiveMessageTelemetry(cfg Config) middleware.Receive {
	return func(ctx context.Context, hdr nats.Header) (context.Context, error) {
		return NatsMsgToCtx(ctx, &cfg, hdr), nil
	}
}

// ReceiveAPIMessageTelemetry is ReceiveMessageTelemetry that starts a new trace when the caller sent none.
func ReceiveAPIMessageTelemetry(cfg Config) middleware.Receive {
	return func(ctx context.Context, hdr nats.Header) (context.Context, error) {
		return EnsureTraceId(NatsMsgToCtx(ctx, &cfg, hdr)), nil
	}
}
