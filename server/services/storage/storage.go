package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"gitlab.com/circuit-breaker/engine/common"
	"gitlab.com/circuit-breaker/engine/common/cache"
	"gitlab.com/circuit-breaker/engine/common/middleware"
	"gitlab.com/circuit-breaker/engine/common/setup"
	"gitlab.com/circuit-breaker/engine/common/telemetry"
	"gitlab.com/circuit-breaker/engine/internal/placeindexer"
	"gitlab.com/circuit-breaker/engine/model"
	"gitlab.com/circuit-breaker/engine/server/services/natz"
)

// Archive stores events beyond stream retention.
type Archive interface {
	Append(ctx context.Context, ev *model.Event) error
	Events(ctx context.Context, workflowID string, resourceID string, beforeVersion uint64) ([]*model.Event, error)
}

// Options configure the storage layer.
type Options struct {
	Retention      setup.Retention
	ConsumerAck    time.Duration
	PublishTimeout time.Duration
	Archive        Archive
	Telemetry      telemetry.Config
}

// Nats is the JetStream backed store of definitions, resources and events.
type Nats struct {
	js                jetstream.JetStream
	txJS              jetstream.JetStream
	conn              common.NatsConn
	storageType       jetstream.StorageType
	kvs               *natz.Kvs
	defCache          *cache.Cache[string]
	places            *placeindexer.PlaceIndexer
	retention         setup.Retention
	consumerAck       time.Duration
	publishTimeout    time.Duration
	archive           Archive
	sendMiddleware    []middleware.Send
	receiveMiddleware []middleware.Receive
	closing           chan struct{}
	consumersMx       sync.Mutex
	consumers         map[string]struct{}
}

// New creates the storage layer over an established NATS service and starts the place index.
func New(ctx context.Context, ns *natz.NatsService, opts Options) (*Nats, error) {
	backend, err := cache.NewRistrettoCacheBackend[string, any]()
	if err != nil {
		return nil, fmt.Errorf("create ristretto cache: %w", err)
	}
	places, err := placeindexer.New(ctx, ns.Kvs.Resource, placeindexer.IndexOptions{})
	if err != nil {
		return nil, fmt.Errorf("create place index: %w", err)
	}
	if err := places.Start(ctx); err != nil {
		return nil, fmt.Errorf("start place index: %w", err)
	}
	if opts.ConsumerAck == 0 {
		opts.ConsumerAck = 30 * time.Second
	}
	if opts.PublishTimeout == 0 {
		opts.PublishTimeout = 10 * time.Second
	}
	return &Nats{
		js:                ns.Js,
		txJS:              ns.TxJS,
		conn:              ns.NatsConn(),
		storageType:       ns.StorageType,
		kvs:               ns.Kvs,
		defCache:          cache.New[string](backend),
		places:            places,
		retention:         opts.Retention,
		consumerAck:       opts.ConsumerAck,
		publishTimeout:    opts.PublishTimeout,
		archive:           opts.Archive,
		sendMiddleware:    []middleware.Send{telemetry.SendMessageTelemetry(opts.Telemetry)},
		receiveMiddleware: []middleware.Receive{telemetry.ReceiveMessageTelemetry(opts.Telemetry)},
		closing:           make(chan struct{}),
		consumers:         make(map[string]struct{}),
	}, nil
}

// JetStream returns the JetStream context used for reads.
func (s *Nats) JetStream() jetstream.JetStream { //nolint:ireturn
	return s.js
}

// PlacesReady returns true once the place index holds every stored resource.
func (s *Nats) PlacesReady() bool {
	return s.places.Ready()
}

// Start resumes the projection and archive consumers of every stored workflow.
func (s *Nats) Start(ctx context.Context) error {
	defs, err := s.ListDefinitions(ctx)
	if err != nil {
		return fmt.Errorf("list definitions: %w", err)
	}
	for _, d := range defs {
		if err := s.EnsureWorkflowStream(ctx, d.ID); err != nil {
			return fmt.Errorf("resume workflow %s: %w", d.ID, err)
		}
	}
	return nil
}

// Shutdown stops the consumers and the place index.
func (s *Nats) Shutdown() {
	select {
	case <-s.closing:
		return
	default:
		close(s.closing)
	}
	if err := s.places.Close(); err != nil {
		slog.Warn("close place index", "error", err)
	}
}
