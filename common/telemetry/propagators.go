package telemetry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/contrib/propagators/autoprop"
	"go.opentelemetry.io/otel/trace"
)

// Config switches propagation between OpenTelemetry and header pass-through.
type Config struct {
	Enabled bool
}

type traceParentKey struct{}

// CtxToNatsMsg writes the trace context of ctx into the message headers.
func CtxToNatsMsg(ctx context.Context, config *Config, msg *nats.Msg) {
	car := NewNatsMsgCarrier(msg)
	if config.Enabled {
		autoprop.NewTextMapPropagator().Inject(ctx, car)
		return
	}
	// Without a tracer provider the injector does nothing, so the incoming header is carried as is.
	if tp, ok := ctx.Value(traceParentKey{}).(string); ok && tp != "" {
		car.Set("traceparent", tp)
	}
}

// NatsMsgToCtx reads the trace context from message headers into ctx.
func NatsMsgToCtx(ctx context.Context, config *Config, hdr nats.Header) context.Context {
	if hdr == nil {
		return ctx
	}
	if config.Enabled {
		return autoprop.NewTextMapPropagator().Extract(ctx, NewHeaderCarrier(hdr))
	}
	if tp := hdr.Get("traceparent"); tp != "" {
		return context.WithValue(ctx, traceParentKey{}, tp)
	}
	return ctx
}

// TraceParent returns the W3C traceparent carried by ctx, if any.
func TraceParent(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		return fmt.Sprintf("00-%s-%s-%s", sc.TraceID(), sc.SpanID(), sc.TraceFlags())
	}
	tp, _ := ctx.Value(traceParentKey{}).(string)
	return tp
}

// NewRandomTraceID creates a random OpenTelemetry trace id.
func NewRandomTraceID() ([16]byte, error) {
	b := [16]byte{}
	if _, err := rand.Read(b[:]); err != nil {
		return [16]byte{}, fmt.Errorf("creating random trace id: %w", err)
	}
	return b, nil
}

// NewTraceParent creates a W3C traceparent for a trace id.
func NewTraceParent(traceID [16]byte) string {
	return "00-" + hex.EncodeToString(traceID[:]) + "-1000000000000001-00"
}

// EnsureTraceId gives ctx a trace id if it has none.
func EnsureTraceId(ctx context.Context) context.Context {
	if TraceParent(ctx) != "" {
		return ctx
	}
	b, err := NewRandomTraceID()
	if err != nil {
		slog.Error("ensure trace id", "error", err)
		return ctx
	}
	return context.WithValue(ctx, traceParentKey{}, NewTraceParent(b))
}

// GetTraceparentTraceAndSpan returns a trace and span from a W3C traceparent
func GetTraceparentTraceAndSpan(traceparent string) (string, string) {
	if len(traceparent) < 52 {
		return "", ""
	}
	return traceparent[3:35], traceparent[36:52]
}
