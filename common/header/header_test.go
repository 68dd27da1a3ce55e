package header

import (
	"context"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"gitlab.com/circuit-breaker/engine/common/logx"
)

func TestHeaderRoundTrip(t *testing.T) {
	ctx := logx.WithCorrelationID(context.Background(), "c1")
	ctx = WithTriggeredBy(ctx, "ann")

	var hdr nats.Header
	FromCtxToMsgHeader(ctx, &hdr)
	assert.Equal(t, "c1", hdr.Get(Correlation))
	assert.Equal(t, "ann", hdr.Get(TriggeredBy))

	back := FromMsgHeaderToCtx(context.Background(), hdr)
	assert.Equal(t, "c1", logx.CorrelationID(back))
	assert.Equal(t, "ann", ResolveTriggeredBy(back, ""))
}

func TestResolveTriggeredBy(t *testing.T) {
	ctx := WithTriggeredBy(context.Background(), "header-user")
	assert.Equal(t, "body-user", ResolveTriggeredBy(ctx, "body-user"))
	assert.Equal(t, "header-user", ResolveTriggeredBy(ctx, ""))
	assert.Equal(t, DefaultTriggeredBy, ResolveTriggeredBy(context.Background(), ""))

	copied := Copy(ctx, context.Background())
	assert.Equal(t, "header-user", ResolveTriggeredBy(copied, ""))
}
