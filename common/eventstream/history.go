package eventstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"gitlab.com/circuit-breaker/engine/model"
	errors2 "gitlab.com/circuit-breaker/engine/server/errors"
	"gitlab.com/circuit-breaker/engine/server/messages"
)

const historyBatch = 256

// History returns the retained events of a resource in stream order.
func History(ctx context.Context, js jetstream.JetStream, workflowID string, resourceID string) ([]*model.Event, error) {
	stream, err := js.Stream(ctx, messages.StreamName(workflowID))
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		return nil, errors2.WorkflowNotFound(workflowID)
	} else if err != nil {
		return nil, fmt.Errorf("get workflow stream: %w", err)
	}
	subject := FilterSubject(workflowID, "", resourceID)
	nfo, err := stream.Info(ctx, jetstream.WithSubjectFilter(subject))
	if err != nil {
		return nil, fmt.Errorf("get stream info: %w", err)
	}
	var expected uint64
	for _, n := range nfo.State.Subjects {
		expected += n
	}
	ret := make([]*model.Event, 0, expected)
	if expected == 0 {
		return ret, nil
	}

	cons, err := stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subject},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create history consumer: %w", err)
	}
	for uint64(len(ret)) < expected {
		batch, err := cons.Fetch(historyBatch, jetstream.FetchMaxWait(2*time.Second))
		if err != nil {
			return nil, fmt.Errorf("fetch history: %w", err)
		}
		n := 0
		done := false
		for msg := range batch.Messages() {
			n++
			ev, err := Decode(msg)
			if err != nil {
				return nil, err
			}
			ret = append(ret, ev)
			if md, err := msg.Metadata(); err == nil && md.NumPending == 0 {
				done = true
			}
		}
		if err := batch.Error(); err != nil && !errors.Is(err, jetstream.ErrNoMessages) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("read history batch: %w", err)
		}
		if done || n == 0 {
			break
		}
	}
	return ret, nil
}

// Truncated reports whether retained history misses events of a resource at version current.
func Truncated(events []*model.Event, current uint64) bool {
	if len(events) == 0 {
		return current > 0
	}
	return events[0].ResourceVersion != 1 || uint64(len(events)) < current
}

// LastSequence returns the stream sequence of the newest event of a resource, or 0 if none is retained.
func LastSequence(ctx context.Context, stream jetstream.Stream, workflowID string, resourceID string) (uint64, error) {
	var last uint64
	for _, kind := range []model.EventKind{model.KindLifecycle, model.KindTransitions} {
		m, err := stream.GetLastMsgForSubject(ctx, messages.EventSubject(workflowID, kind, resourceID))
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			continue
		} else if err != nil {
			return 0, fmt.Errorf("get last event: %w", err)
		}
		if m.Sequence > last {
			last = m.Sequence
		}
	}
	return last, nil
}
