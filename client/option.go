package client

import (
	"gitlab.com/circuit-breaker/engine/common/middleware"
	"gitlab.com/circuit-breaker/engine/common/telemetry"
)

// ConfigurationOption represents a configuration option for the client.
type ConfigurationOption interface {
	configure(client *Client)
}

// WithTriggeredBy names the actor recorded on events caused by the client's operations.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithTriggeredBy(actor string) triggeredBy { //nolint
	return triggeredBy{actor: actor}
}

type triggeredBy struct {
	actor string
}

func (o triggeredBy) configure(client *Client) {
	client.triggeredBy = o.actor
}

// WithTelemetry propagates trace context on API requests and extracts it from events.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithTelemetry(cfg telemetry.Config) telemetryOption { //nolint
	return telemetryOption{cfg: cfg}
}

type telemetryOption struct {
	cfg telemetry.Config
}

func (o telemetryOption) configure(client *Client) {
	client.telemetryConfig = o.cfg
}

// WithSendMiddleware adds a function applied to every outgoing API request.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithSendMiddleware(fn middleware.Send) sendMiddleware { //nolint
	return sendMiddleware{fn: fn}
}

type sendMiddleware struct {
	fn middleware.Send
}

func (o sendMiddleware) configure(client *Client) {
	client.sendMiddleware = append(client.sendMiddleware, o.fn)
}
