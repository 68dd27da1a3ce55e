package telemetry

import (
	"context"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceCarriedBetweenEnabledPeers(t *testing.T) {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	ctx, span := tp.Tracer("client").Start(context.Background(), "client-span")
	defer span.End()
	want := trace.SpanContextFromContext(ctx)

	cfg := Config{Enabled: true}
	msg := nats.NewMsg("test-subject")
	require.NoError(t, SendMessageTelemetry(cfg)(ctx, msg))
	assert.NotEmpty(t, msg.Header.Get("traceparent"))

	got, err := ReceiveMessageTelemetry(cfg)(context.Background(), msg.Header)
	require.NoError(t, err)
	sc := trace.SpanContextFromContext(got)
	assert.Equal(t, want.TraceID(), sc.TraceID())
	assert.Equal(t, want.SpanID(), sc.SpanID())
}

func TestTraceCarriedWithoutProvider(t *testing.T) {
	cfg := Config{Enabled: false}
	in := nats.NewMsg("in")
	in.Header.Set("traceparent", "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01")

	ctx, err := ReceiveMessageTelemetry(cfg)(context.Background(), in.Header)
	require.NoError(t, err)

	out := nats.NewMsg("out")
	require.NoError(t, SendMessageTelemetry(cfg)(ctx, out))
	traceID, spanID := GetTraceparentTraceAndSpan(out.Header.Get("traceparent"))
	assert.Equal(t, "0af7651916cd43dd8448eb211c80319c", traceID)
	assert.Equal(t, "b7ad6b7169203331", spanID)
}

func TestAPIReceiveStartsTrace(t *testing.T) {
	ctx, err := ReceiveAPIMessageTelemetry(Config{})(context.Background(), nats.Header{})
	require.NoError(t, err)
	traceID, _ := GetTraceparentTraceAndSpan(TraceParent(ctx))
	assert.Len(t, traceID, 32)
	assert.NotEqual(t, "00000000000000000000000000000000", traceID)
}
