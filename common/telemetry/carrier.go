package telemetry

import "github.com/nats-io/nats.go"

// NatsMsgCarrier adapts NATS message headers to an OpenTelemetry text map carrier.
type NatsMsgCarrier struct {
	hdr nats.Header
}

func (c *NatsMsgCarrier) Get(key string) string {
	return c.hdr.Get(key)
}

func (c *NatsMsgCarrier) Set(key string, value string) {
	c.hdr.Set(key, value)
}

func (c *NatsMsgCarrier) Keys() []string {
	ret := make([]string, 0, len(c.hdr))
	for k := range c.hdr {
		ret = append(ret, k)
	}
	return ret
}

// NewNatsMsgCarrier creates a carrier over the headers of msg, creating them if required.
func NewNatsMsgCarrier(msg *nats.Msg) *NatsMsgCarrier {
	if msg.Header == nil {
		msg.Header = nats.Header{}
	}
	return &NatsMsgCarrier{hdr: msg.Header}
}

// NewHeaderCarrier creates a carrier over an existing header set.
func NewHeaderCarrier(hdr nats.Header) *NatsMsgCarrier {
	return &NatsMsgCarrier{hdr: hdr}
}
