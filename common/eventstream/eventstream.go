// Package eventstream reads workflow event streams: decoding, live subscriptions and per resource history.
package eventstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"gitlab.com/circuit-breaker/engine/common/codec"
	"gitlab.com/circuit-breaker/engine/common/header"
	"gitlab.com/circuit-breaker/engine/common/logx"
	"gitlab.com/circuit-breaker/engine/common/telemetry"
	"gitlab.com/circuit-breaker/engine/model"
	errors2 "gitlab.com/circuit-breaker/engine/server/errors"
	"gitlab.com/circuit-breaker/engine/server/errors/keys"
	"gitlab.com/circuit-breaker/engine/server/messages"
)

// Decode reads an event from a stream message and records where it was stored.
func Decode(msg jetstream.Msg) (*model.Event, error) {
	ev := &model.Event{}
	if err := codec.JSON.Unmarshal(msg.Data(), ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	md, err := msg.Metadata()
	if err != nil {
		return nil, fmt.Errorf("event metadata: %w", err)
	}
	ev.NatsSequence = md.Sequence.Stream
	ev.NatsSubject = msg.Subject()
	ev.NatsTimestamp = md.Timestamp
	return ev, nil
}

// DecodeRaw reads an event from a stored stream message.
func DecodeRaw(msg *jetstream.RawStreamMsg) (*model.Event, error) {
	ev := &model.Event{}
	if err := codec.JSON.Unmarshal(msg.Data, ev); err != nil {
		return nil, fmt.Errorf("decode stored event: %w", err)
	}
	ev.NatsSequence = msg.Sequence
	ev.NatsSubject = msg.Subject
	ev.NatsTimestamp = msg.Time
	return ev, nil
}

// FilterSubject returns the subject matching the events of a workflow.
// An empty kind matches both partitions, and an empty resource ID matches every resource.
func FilterSubject(workflowID string, kind model.EventKind, resourceID string) string {
	k := string(kind)
	if k == "" {
		if resourceID == "" {
			return fmt.Sprintf(messages.WorkflowEventsAll, workflowID)
		}
		k = "*"
	}
	r := resourceID
	if r == "" {
		r = "*"
	}
	return fmt.Sprintf(messages.WorkflowEvent, workflowID, k, r)
}

// Handler receives each event of a subscription.
// Returning an error redelivers the event, unless it wraps ErrWorkflowFatal, which discards it.
type Handler func(ctx context.Context, ev *model.Event) error

// SubscribeOpts holds the optional behaviour of Subscribe.
type SubscribeOpts struct {
	Durable       string
	AckWait       time.Duration
	MaxDeliver    int
	DeliverAll    bool
	StartSequence uint64
	ResourceID    string
	Backoff       *Backoff
	Telemetry     telemetry.Config
}

// SubscribeOption configures a subscription.
type SubscribeOption func(o *SubscribeOpts)

// WithDurable names the subscription so that it resumes where it stopped.
func WithDurable(name string) SubscribeOption {
	return func(o *SubscribeOpts) { o.Durable = name }
}

// WithAckWait sets how long the handler may take before the event is redelivered.
func WithAckWait(d time.Duration) SubscribeOption {
	return func(o *SubscribeOpts) { o.AckWait = d }
}

// WithMaxDeliver limits redelivery of an event whose handler keeps failing.
func WithMaxDeliver(n int) SubscribeOption {
	return func(o *SubscribeOpts) { o.MaxDeliver = n }
}

// WithDeliverAll starts the subscription from the first retained event instead of the tail.
func WithDeliverAll() SubscribeOption {
	return func(o *SubscribeOpts) { o.DeliverAll = true }
}

// WithStartSequence starts the subscription from a stream sequence.
func WithStartSequence(seq uint64) SubscribeOption {
	return func(o *SubscribeOpts) { o.StartSequence = seq }
}

// WithResource restricts the subscription to the events of one resource.
func WithResource(id string) SubscribeOption {
	return func(o *SubscribeOpts) { o.ResourceID = id }
}

// WithBackoff delays redelivery of failed events.
func WithBackoff(b Backoff) SubscribeOption {
	return func(o *SubscribeOpts) { o.Backoff = &b }
}

// WithTelemetry extracts trace context from each event.
func WithTelemetry(cfg telemetry.Config) SubscribeOption {
	return func(o *SubscribeOpts) { o.Telemetry = cfg }
}

// Subscription is a live consumer of workflow events.
type Subscription struct {
	cc        jetstream.ConsumeContext
	js        jetstream.JetStream
	stream    string
	consumer  string
	ephemeral bool
}

// Consumer returns the name of the JetStream consumer backing the subscription.
func (s *Subscription) Consumer() string {
	return s.consumer
}

// Stop ends delivery. Ephemeral consumers are removed.
func (s *Subscription) Stop() {
	s.cc.Stop()
	if s.ephemeral {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.js.DeleteConsumer(ctx, s.stream, s.consumer); err != nil && !errors.Is(err, jetstream.ErrConsumerNotFound) {
			slog.Warn("delete subscription consumer", "error", err, "consumer", s.consumer)
		}
	}
}

// Subscribe delivers the events of a workflow partition to fn, acknowledging each one after fn returns nil.
// By default delivery starts at the current tail of the stream.
func Subscribe(ctx context.Context, js jetstream.JetStream, workflowID string, kind model.EventKind, fn Handler, opts ...SubscribeOption) (*Subscription, error) {
	o := &SubscribeOpts{AckWait: 30 * time.Second, MaxDeliver: -1}
	for _, i := range opts {
		i(o)
	}
	streamName := messages.StreamName(workflowID)
	cfg := jetstream.ConsumerConfig{
		AckPolicy:         jetstream.AckExplicitPolicy,
		AckWait:           o.AckWait,
		MaxDeliver:        o.MaxDeliver,
		FilterSubject:     FilterSubject(workflowID, kind, o.ResourceID),
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		InactiveThreshold: 5 * time.Minute,
	}
	switch {
	case o.StartSequence > 0:
		cfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		cfg.OptStartSeq = o.StartSequence
	case o.DeliverAll:
		cfg.DeliverPolicy = jetstream.DeliverAllPolicy
	}
	if o.Durable != "" {
		cfg.Durable = messages.SubscriberDurablePrefix + o.Durable
		cfg.InactiveThreshold = 0
	}
	cons, err := js.CreateOrUpdateConsumer(ctx, streamName, cfg)
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		return nil, errors2.WorkflowNotFound(workflowID)
	} else if err != nil {
		return nil, fmt.Errorf("create subscription consumer: %w", err)
	}
	name := cons.CachedInfo().Name

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		handle(o, name, fn, msg)
	}, jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
		if !errors.Is(err, jetstream.ErrNoHeartbeat) {
			slog.Debug("subscription consume", "error", err, "consumer", name)
		}
	}))
	if err != nil {
		return nil, fmt.Errorf("consume events: %w", err)
	}
	return &Subscription{
		cc:        cc,
		js:        js,
		stream:    streamName,
		consumer:  name,
		ephemeral: o.Durable == "",
	}, nil
}

func handle(o *SubscribeOpts, consumer string, fn Handler, msg jetstream.Msg) {
	ctx, log := logx.NatsMessageLoggingEntrypoint(context.Background(), "subscription", msg.Headers())
	ctx = header.FromMsgHeaderToCtx(ctx, msg.Headers())
	ctx = telemetry.NatsMsgToCtx(ctx, &o.Telemetry, msg.Headers())

	ev, err := Decode(msg)
	if err != nil {
		log.Error("undecodable event discarded", "error", err, keys.Subject, msg.Subject())
		if err := msg.Term(); err != nil {
			log.Error("terminate event", "error", err)
		}
		return
	}
	if err := fn(ctx, ev); err != nil {
		if errors2.IsWorkflowFatal(err) {
			log.Error("subscriber rejected event", "error", err, keys.Sequence, ev.NatsSequence, "consumer", consumer)
			if err := msg.Term(); err != nil {
				log.Error("terminate event", "error", err)
			}
			return
		}
		log.Warn("subscriber failed, redelivering", "error", err, keys.Sequence, ev.NatsSequence)
		if o.Backoff != nil {
			md, _ := msg.Metadata()
			var delivered uint64 = 1
			if md != nil {
				delivered = md.NumDelivered
			}
			if err := msg.NakWithDelay(o.Backoff.Delay(delivered)); err != nil {
				log.Error("nak event with delay", "error", err)
			}
			return
		}
		if err := msg.Nak(); err != nil {
			log.Error("nak event", "error", err)
		}
		return
	}
	if err := msg.Ack(); err != nil {
		log.Error("ack event", "error", err)
	}
}
