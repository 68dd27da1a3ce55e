package common

import (
	"context"

	"github.com/nats-io/nats.go/jetstream"
)

// ProcessOpts holds the optional behaviour of Process.
type ProcessOpts struct {
	BackoffCalc BackoffFn
}

// ProcessOption configures Process.
type ProcessOption interface {
	Set(opts *ProcessOpts)
}

// BackoffFn naks a failed message with a delay instead of an immediate redelivery.
type BackoffFn func(ctx context.Context, msg jetstream.Msg) error

type backoffProcessOption struct {
	fn BackoffFn
}

func (b backoffProcessOption) Set(opts *ProcessOpts) {
	opts.BackoffCalc = b.fn
}

// WithBackoffFn sets the function used to delay redelivery of failed messages.
func WithBackoffFn(fn BackoffFn) ProcessOption {
	return backoffProcessOption{fn: fn}
}
