package header

import (
	"context"

	"github.com/nats-io/nats.go"
	"gitlab.com/circuit-breaker/engine/common/ctxkey"
	"gitlab.com/circuit-breaker/engine/common/logx"
)

const (
	// TriggeredBy is the header naming the actor that caused a request or event.
	TriggeredBy = "triggered-by"
	// Correlation is the header carrying the correlation id.
	Correlation = logx.CorrelationHeader
	// EngineVersion is the header carrying the version of the engine or client sending a message.
	EngineVersion = "cb-version"
	// DefaultTriggeredBy is used when an operation names no actor.
	DefaultTriggeredBy = "system"
)

// FromCtxToMsgHeader copies the carried values from the context into the message headers.
func FromCtxToMsgHeader(ctx context.Context, hdr *nats.Header) {
	if *hdr == nil {
		*hdr = nats.Header{}
	}
	if cid := logx.CorrelationID(ctx); cid != "" {
		hdr.Set(Correlation, cid)
	}
	if by, ok := ctx.Value(ctxkey.TriggeredBy).(string); ok && by != "" {
		hdr.Set(TriggeredBy, by)
	}
}

// FromMsgHeaderToCtx copies the carried values from message headers into a context.
func FromMsgHeaderToCtx(ctx context.Context, hdr nats.Header) context.Context {
	if hdr == nil {
		return ctx
	}
	if cid := hdr.Get(Correlation); cid != "" {
		ctx = logx.WithCorrelationID(ctx, cid)
	}
	if by := hdr.Get(TriggeredBy); by != "" {
		ctx = context.WithValue(ctx, ctxkey.TriggeredBy, by)
	}
	return ctx
}

// Copy carries the header values from one context to another.
func Copy(from context.Context, to context.Context) context.Context {
	if cid := logx.CorrelationID(from); cid != "" {
		to = logx.WithCorrelationID(to, cid)
	}
	if by, ok := from.Value(ctxkey.TriggeredBy).(string); ok {
		to = context.WithValue(to, ctxkey.TriggeredBy, by)
	}
	return to
}

// WithTriggeredBy returns a context naming the actor of subsequent operations.
func WithTriggeredBy(ctx context.Context, by string) context.Context {
	return context.WithValue(ctx, ctxkey.TriggeredBy, by)
}

// ResolveTriggeredBy picks the explicit actor, then the one in the context, then the default.
func ResolveTriggeredBy(ctx context.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if by, ok := ctx.Value(ctxkey.TriggeredBy).(string); ok && by != "" {
		return by
	}
	return DefaultTriggeredBy
}
