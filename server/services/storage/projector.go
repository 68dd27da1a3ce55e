package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"
	"gitlab.com/circuit-breaker/engine/common"
	"gitlab.com/circuit-breaker/engine/common/eventstream"
	"gitlab.com/circuit-breaker/engine/model"
	errors2 "gitlab.com/circuit-breaker/engine/server/errors"
	"gitlab.com/circuit-breaker/engine/server/errors/keys"
	"gitlab.com/circuit-breaker/engine/server/messages"
)

// project applies an event to the resource store if the writer has not done so.
// Only the newest event of a resource is applied, so replays never resurrect a deleted resource.
func (s *Nats) project(ctx context.Context, log *slog.Logger, msg jetstream.Msg) (bool, error) {
	ev, err := eventstream.Decode(msg)
	if err != nil {
		return true, errors2.ErrWorkflowFatal{Err: err}
	}
	log = log.With(slog.String(keys.WorkflowID, ev.WorkflowID), slog.String(keys.ResourceID, ev.TokenID), slog.Uint64(keys.Version, ev.ResourceVersion))
	stream, err := s.js.Stream(ctx, messages.StreamName(ev.WorkflowID))
	if err != nil {
		return false, fmt.Errorf("get workflow stream: %w", err)
	}
	latest, err := eventstream.LastSequence(ctx, stream, ev.WorkflowID, ev.TokenID)
	if err != nil {
		return false, err
	}
	if latest > ev.NatsSequence {
		return true, nil
	}

	stored, rev, err := s.LoadResource(ctx, ev.WorkflowID, ev.TokenID)
	missing := errors.Is(err, errors2.ErrResourceNotFound)
	if err != nil && !missing {
		return false, err
	}

	if ev.EventType == model.EventTokenDeleted {
		if missing || stored.Version >= ev.ResourceVersion {
			return true, nil
		}
		log.Debug("projecting deletion")
		if _, err := s.RemoveResource(ctx, stored, rev); err != nil {
			return false, fmt.Errorf("project deletion: %w", err)
		}
		return true, nil
	}

	if !missing && stored.Version >= ev.ResourceVersion {
		return true, nil
	}
	r := ev.Resource()
	log.Debug("projecting event", slog.String(keys.EventType, string(ev.EventType)))
	if missing {
		if _, err := common.Save(ctx, s.kvs.ResourceOwner, r.ID, []byte(r.WorkflowID)); err != nil {
			return false, fmt.Errorf("project resource owner: %w", err)
		}
		if _, err := common.CreateObj(ctx, s.kvs.Resource, messages.ResourceKey(r.WorkflowID, r.ID), r); err != nil {
			return false, fmt.Errorf("project resource: %w", err)
		}
		return true, nil
	}
	if _, err := common.UpdateObjRev(ctx, s.kvs.Resource, messages.ResourceKey(r.WorkflowID, r.ID), r, rev); err != nil {
		return false, fmt.Errorf("project resource: %w", err)
	}
	return true, nil
}

// archiveEvent copies an event into the long term archive.
func (s *Nats) archiveEvent(ctx context.Context, _ *slog.Logger, msg jetstream.Msg) (bool, error) {
	ev, err := eventstream.Decode(msg)
	if err != nil {
		return true, errors2.ErrWorkflowFatal{Err: err}
	}
	if err := s.archive.Append(ctx, ev); err != nil {
		return false, fmt.Errorf("archive event: %w", err)
	}
	return true, nil
}
