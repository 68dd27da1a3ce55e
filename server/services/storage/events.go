package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"gitlab.com/circuit-breaker/engine/common"
	"gitlab.com/circuit-breaker/engine/common/codec"
	"gitlab.com/circuit-breaker/engine/common/header"
	"gitlab.com/circuit-breaker/engine/common/logx"
	"gitlab.com/circuit-breaker/engine/model"
	errors2 "gitlab.com/circuit-breaker/engine/server/errors"
	"gitlab.com/circuit-breaker/engine/server/errors/keys"
	"gitlab.com/circuit-breaker/engine/server/messages"
)

const publishAttempts = 3

// PublishResult locates a published event in its workflow stream.
type PublishResult struct {
	Sequence  uint64
	Subject   string
	Timestamp time.Time
	// Duplicate is true if the stream already held an event with the same resource version.
	// Sequence and Timestamp then describe the original.
	Duplicate bool
}

// PublishCreated records the creation of a resource.
func (s *Nats) PublishCreated(ctx context.Context, r *model.Resource, triggeredBy string) (*model.Event, *PublishResult, error) {
	ev := model.NewEvent(model.EventTokenCreated, r, "", "", triggeredBy)
	res, err := s.PublishEvent(ctx, ev)
	return ev, res, err
}

// PublishTransitioned records a guarded or administrative place change.
func (s *Nats) PublishTransitioned(ctx context.Context, r *model.Resource, eventType model.EventType, fromPlace string, activityID string, triggeredBy string, warnings []string) (*model.Event, *PublishResult, error) {
	ev := model.NewEvent(eventType, r, fromPlace, activityID, triggeredBy)
	ev.Warnings = warnings
	res, err := s.PublishEvent(ctx, ev)
	return ev, res, err
}

// PublishUpdated records a data or metadata patch.
func (s *Nats) PublishUpdated(ctx context.Context, r *model.Resource, triggeredBy string) (*model.Event, *PublishResult, error) {
	ev := model.NewEvent(model.EventTokenUpdated, r, r.Place, "", triggeredBy)
	res, err := s.PublishEvent(ctx, ev)
	return ev, res, err
}

// PublishDeleted records the removal of a resource.
func (s *Nats) PublishDeleted(ctx context.Context, r *model.Resource, triggeredBy string) (*model.Event, *PublishResult, error) {
	ev := model.NewEvent(model.EventTokenDeleted, r, r.Place, "", triggeredBy)
	res, err := s.PublishEvent(ctx, ev)
	return ev, res, err
}

// PublishEvent appends an event to its workflow stream and waits for the stream acknowledgement.
// The event is identified by workflow, resource and version, so a repeated publish inside the duplicate window
// is not stored twice.  Timeouts are retried, and a duplicate seen only after a retry is reported as this publish.
func (s *Nats) PublishEvent(ctx context.Context, ev *model.Event) (*PublishResult, error) {
	subject := messages.EventSubject(ev.WorkflowID, ev.EventType.Kind(), ev.TokenID)
	msgID := messages.EventMsgID(ev.WorkflowID, ev.TokenID, ev.ResourceVersion)
	streamName := messages.StreamName(ev.WorkflowID)
	b, err := codec.JSON.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	log := logx.FromContext(ctx)

	var ack *jetstream.PubAck
	for attempt := 0; ; attempt++ {
		msg := nats.NewMsg(subject)
		msg.Data = b
		header.FromCtxToMsgHeader(ctx, &msg.Header)
		for _, fn := range s.sendMiddleware {
			if err := fn(ctx, msg); err != nil {
				return nil, fmt.Errorf("publish middleware: %w", err)
			}
		}
		pctx, cancel := context.WithTimeout(ctx, s.publishTimeout)
		ack, err = s.txJS.PublishMsg(pctx, msg, jetstream.WithMsgID(msgID), jetstream.WithExpectStream(streamName))
		cancel()
		if err == nil {
			if attempt > 0 && ack.Duplicate {
				log.Debug("retried publish was already stored", slog.String(keys.Subject, subject), slog.Uint64(keys.Sequence, ack.Sequence))
				ack.Duplicate = false
			}
			break
		}
		if errors.Is(err, jetstream.ErrStreamNotFound) || (errors.Is(err, jetstream.ErrNoStreamResponse) && !s.streamPresent(ctx, ev.WorkflowID)) {
			return nil, errors2.WorkflowNotFound(ev.WorkflowID)
		}
		if !retryablePublish(err) || attempt+1 >= publishAttempts || ctx.Err() != nil {
			return nil, fmt.Errorf("publish event %s: %w", msgID, err)
		}
		log.Warn("retrying event publish", slog.String(keys.Subject, subject), slog.Int("attempt", attempt+1), "error", err)
	}

	res := &PublishResult{
		Sequence:  ack.Sequence,
		Subject:   subject,
		Timestamp: ev.Timestamp,
		Duplicate: ack.Duplicate,
	}
	if ack.Duplicate {
		stream, err := s.js.Stream(ctx, streamName)
		if err != nil {
			return nil, fmt.Errorf("get workflow stream: %w", err)
		}
		orig, err := stream.GetMsg(ctx, ack.Sequence)
		if err != nil {
			return nil, fmt.Errorf("get original event: %w", err)
		}
		res.Timestamp = orig.Time
	}
	ev.NatsSequence = res.Sequence
	ev.NatsSubject = res.Subject
	ev.NatsTimestamp = res.Timestamp
	if log.Enabled(ctx, errors2.VerboseLevel) {
		log.Log(ctx, errors2.VerboseLevel, "published event",
			slog.String(keys.EventType, string(ev.EventType)),
			slog.String(keys.Subject, subject),
			slog.Uint64(keys.Sequence, res.Sequence),
			slog.Bool("duplicate", res.Duplicate))
	}
	return res, nil
}

func (s *Nats) streamPresent(ctx context.Context, workflowID string) bool {
	ok, err := s.StreamExists(ctx, workflowID)
	return err != nil || ok
}

func retryablePublish(err error) bool {
	return errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrNoResponders)
}

// NotifyPlace announces, without persistence, that a resource left or entered a place.
func (s *Nats) NotifyPlace(ctx context.Context, n *model.PlaceNotification) {
	if err := common.PublishObj(ctx, s.conn, messages.PlaceSubject(n.WorkflowID, n.Place), n, s.sendMiddleware...); err != nil {
		logx.FromContext(ctx).Warn("publish place notification", "error", err, slog.String(keys.Place, n.Place))
	}
}
