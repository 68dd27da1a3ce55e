package natz

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"gitlab.com/circuit-breaker/engine/common"
	"gitlab.com/circuit-breaker/engine/common/setup"
	"gitlab.com/circuit-breaker/engine/server/messages"
)

// NatsConnConfiguration represents the configuration for a NATS connection.
//
// - Conn: The NATS connection.
// - TxConn: The NATS connection used for JetStream writes.
// - StorageType: The storage type for JetStream.
// - NatsConfig: YAML declaring the static JetStream objects. The embedded configuration is used when empty.
type NatsConnConfiguration struct {
	Conn            *nats.Conn
	TxConn          *nats.Conn
	StorageType     jetstream.StorageType
	JetStreamDomain string
	NatsConfig      string
}

// NatsService contains items enabling nats related communications e.g. publish, nats object manipulation
// via jetstream and KV access.
type NatsService struct {
	Js          jetstream.JetStream
	TxJS        jetstream.JetStream
	Conn        *nats.Conn
	TxConn      *nats.Conn
	StorageType jetstream.StorageType
	Kvs         *Kvs
}

// Kvs defines all the key value stores the engine needs to operate
type Kvs struct {
	Definition    jetstream.KeyValue
	Resource      jetstream.KeyValue
	ResourceOwner jetstream.KeyValue
	Lock          jetstream.KeyValue
}

// NewNatsService constructs a new NatsService, creating the static JetStream objects if required.
func NewNatsService(ctx context.Context, nc *NatsConnConfiguration) (*NatsService, error) {
	js, err := newJetStream(nc.Conn, nc.JetStreamDomain)
	if err != nil {
		return nil, fmt.Errorf("connect to jetstream: %w", err)
	}
	txJS, err := newJetStream(nc.TxConn, nc.JetStreamDomain)
	if err != nil {
		return nil, fmt.Errorf("connect to tx jetstream: %w", err)
	}

	natsConfig := nc.NatsConfig
	if natsConfig == "" {
		natsConfig = setup.DefaultConfig()
	}
	if err := setup.Nats(ctx, js, nc.StorageType, natsConfig, true); err != nil {
		return nil, fmt.Errorf("set up nats queue insfrastructure: %w", err)
	}

	kvs, err := openKvs(ctx, js)
	if err != nil {
		return nil, fmt.Errorf("open kvs: %w", err)
	}

	return &NatsService{
		Js:          js,
		TxJS:        txJS,
		Conn:        nc.Conn,
		TxConn:      nc.TxConn,
		StorageType: nc.StorageType,
		Kvs:         kvs,
	}, nil
}

// NatsConn returns the connection used for core NATS publishing.
func (s *NatsService) NatsConn() common.NatsConn {
	return s.Conn
}

func newJetStream(conn *nats.Conn, domain string) (jetstream.JetStream, error) { //nolint:ireturn
	if domain != "" {
		js, err := jetstream.NewWithDomain(conn, domain)
		if err != nil {
			return nil, fmt.Errorf("jetstream with domain %s: %w", domain, err)
		}
		return js, nil
	}
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	return js, nil
}

func openKvs(ctx context.Context, js jetstream.JetStream) (*Kvs, error) {
	k := &Kvs{}
	kvs := map[string]*jetstream.KeyValue{
		messages.KvDefinition:    &k.Definition,
		messages.KvResource:      &k.Resource,
		messages.KvResourceOwner: &k.ResourceOwner,
		messages.KvLock:          &k.Lock,
	}
	for name, v := range kvs {
		kv, err := js.KeyValue(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("open %s KV: %w", name, err)
		}
		*v = kv
	}
	return k, nil
}
