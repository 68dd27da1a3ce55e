package client

import "github.com/nats-io/nats.go"

// ConnectOptions are gathered from the ConnectOption values passed to Dial and Attach.
type ConnectOptions struct {
	natsOptions     []nats.Option
	jetStreamDomain string
}

// ConnectOption adjusts how the client reaches NATS.
type ConnectOption func(*ConnectOptions)

// WithNatsOption passes an option to nats.Connect. Attach ignores it.
func WithNatsOption(opt nats.Option) ConnectOption {
	return func(o *ConnectOptions) {
		o.natsOptions = append(o.natsOptions, opt)
	}
}

// WithConnectionName names the connection in the NATS server monitoring endpoints.
func WithConnectionName(name string) ConnectOption {
	return WithNatsOption(nats.Name(name))
}

// WithJetStreamDomain selects the JetStream domain holding the workflow streams.
func WithJetStreamDomain(domain string) ConnectOption {
	return func(o *ConnectOptions) {
		o.jetStreamDomain = domain
	}
}
