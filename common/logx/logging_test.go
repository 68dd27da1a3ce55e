package logx

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
)

func TestErrLogsAndWraps(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := NewContext(context.Background(), slog.New(NewHandler(buf, "json", slog.LevelDebug, false)))
	base := errors.New("boom")

	err := Err(ctx, "load resource", base, slog.String("res_id", "r1"))
	assert.ErrorIs(t, err, base)
	assert.Contains(t, buf.String(), `"msg":"load resource"`)
	assert.Contains(t, buf.String(), `"res_id":"r1"`)
}

func TestNatsMessageEntrypointCarriesCorrelation(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := NewContext(context.Background(), slog.New(NewHandler(buf, "text", slog.LevelInfo, false)))
	hdr := nats.Header{}
	hdr.Set(CorrelationHeader, "c-123")

	ctx, log := NatsMessageLoggingEntrypoint(ctx, "engine", hdr)
	log.Info("hello")

	assert.Equal(t, "c-123", CorrelationID(ctx))
	assert.Contains(t, buf.String(), "cid=c-123")
	assert.Contains(t, buf.String(), "sub=engine")
}

func TestFromContextDefaults(t *testing.T) {
	assert.Equal(t, slog.Default(), FromContext(context.Background()))
	_, l := ContextWith(context.Background(), "area")
	assert.NotNil(t, l)
}
