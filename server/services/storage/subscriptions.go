package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"gitlab.com/circuit-breaker/engine/common/codec"
	"gitlab.com/circuit-breaker/engine/common/eventstream"
	"gitlab.com/circuit-breaker/engine/common/logx"
	"gitlab.com/circuit-breaker/engine/model"
	errors2 "gitlab.com/circuit-breaker/engine/server/errors"
	"gitlab.com/circuit-breaker/engine/server/messages"
)

// Subscribe delivers the events of one partition of a workflow stream.
func (s *Nats) Subscribe(ctx context.Context, workflowID string, kind model.EventKind, fn eventstream.Handler, opts ...eventstream.SubscribeOption) (*eventstream.Subscription, error) {
	if kind != model.KindTransitions && kind != model.KindLifecycle {
		return nil, errors2.NewValidation(errors2.CodeInvalidInput, "kind", "unknown event kind %q", kind)
	}
	if _, err := s.LoadDefinition(ctx, workflowID); err != nil {
		return nil, err
	}
	sub, err := eventstream.Subscribe(ctx, s.js, workflowID, kind, fn, opts...)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s events: %w", kind, err)
	}
	return sub, nil
}

// WatchPlace delivers placement notifications for a place as they happen.  Notifications are not persisted,
// so a watcher only sees changes made while it is subscribed.  An empty place watches every place.
// The returned function ends the watch.
func (s *Nats) WatchPlace(ctx context.Context, workflowID string, place string, fn func(n *model.PlaceNotification)) (func(), error) {
	subject := fmt.Sprintf(messages.WorkflowPlaceTokensAll, workflowID)
	if place != "" {
		subject = messages.PlaceSubject(workflowID, place)
	}
	log := logx.FromContext(ctx)
	sub, err := s.conn.Subscribe(subject, func(msg *nats.Msg) {
		n := &model.PlaceNotification{}
		if err := codec.JSON.Unmarshal(msg.Data, n); err != nil {
			log.Warn("undecodable place notification", "error", err, slog.String("subject", msg.Subject))
			return
		}
		fn(n)
	})
	if err != nil {
		return nil, fmt.Errorf("watch place: %w", err)
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Warn("stop place watch", "error", err)
		}
	}, nil
}
