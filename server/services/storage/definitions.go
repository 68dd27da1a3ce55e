package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/nats-io/nats.go/jetstream"
	"gitlab.com/circuit-breaker/engine/common"
	"gitlab.com/circuit-breaker/engine/common/cache"
	"gitlab.com/circuit-breaker/engine/common/logx"
	"gitlab.com/circuit-breaker/engine/common/setup"
	"gitlab.com/circuit-breaker/engine/model"
	errors2 "gitlab.com/circuit-breaker/engine/server/errors"
	"gitlab.com/circuit-breaker/engine/server/errors/keys"
	"gitlab.com/circuit-breaker/engine/server/messages"
)

// StreamExists returns true if an event stream is already bound to the workflow ID.
func (s *Nats) StreamExists(ctx context.Context, workflowID string) (bool, error) {
	_, err := s.js.Stream(ctx, messages.StreamName(workflowID))
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("get stream: %w", err)
	}
	return true, nil
}

// SaveDefinition stores a new workflow definition.  Definitions are immutable, so an existing ID is rejected.
func (s *Nats) SaveDefinition(ctx context.Context, def *model.WorkflowDefinition) error {
	if _, err := common.CreateObj(ctx, s.kvs.Definition, def.ID, def); err != nil {
		if errors2.IsWrongLastSequence(err) {
			return errors2.NewValidation(errors2.CodeWorkflowExists, "id", "workflow %s already exists", def.ID)
		}
		return fmt.Errorf("save definition: %w", err)
	}
	s.defCache.Set(def.ID, def)
	return nil
}

// DropDefinition removes a workflow definition together with any event stream bound to it.
func (s *Nats) DropDefinition(ctx context.Context, workflowID string) error {
	s.defCache.Del(workflowID)
	if err := s.kvs.Definition.Delete(ctx, workflowID); err != nil && !errors2.IsJetStreamNotFound(err) {
		return fmt.Errorf("delete definition: %w", err)
	}
	if err := s.js.DeleteStream(ctx, messages.StreamName(workflowID)); err != nil && !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("delete workflow stream: %w", err)
	}
	return nil
}

// LoadDefinition returns a workflow definition, served from the cache after the first load.
func (s *Nats) LoadDefinition(ctx context.Context, workflowID string) (*model.WorkflowDefinition, error) {
	if workflowID == "" {
		return nil, errors2.WorkflowNotFound(workflowID)
	}
	def, err := cache.Cacheable(workflowID, func() (*model.WorkflowDefinition, error) {
		def := &model.WorkflowDefinition{}
		if _, err := common.LoadObj(ctx, s.kvs.Definition, workflowID, def); err != nil {
			if errors2.IsJetStreamNotFound(err) {
				return nil, errors2.WorkflowNotFound(workflowID)
			}
			return nil, fmt.Errorf("load definition: %w", err)
		}
		return def, nil
	}, s.defCache)
	if err != nil {
		var nf *errors2.NotFoundError
		if errors.As(err, &nf) {
			return nil, nf
		}
		return nil, err
	}
	return def, nil
}

// ListDefinitions returns every stored definition, oldest first.
func (s *Nats) ListDefinitions(ctx context.Context) ([]*model.WorkflowDefinition, error) {
	lister, err := s.kvs.Definition.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list definition keys: %w", err)
	}
	ret := make([]*model.WorkflowDefinition, 0)
	for k := range lister.Keys() {
		def, err := s.LoadDefinition(ctx, k)
		if errors.Is(err, errors2.ErrWorkflowNotFound) {
			continue
		} else if err != nil {
			return nil, err
		}
		ret = append(ret, def)
	}
	slices.SortFunc(ret, func(a, b *model.WorkflowDefinition) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		return 1
	})
	return ret, nil
}

// EnsureWorkflowStream creates the event stream of a workflow, then starts its projection and archive consumers.
func (s *Nats) EnsureWorkflowStream(ctx context.Context, workflowID string) error {
	streamCfg := setup.WorkflowStreamConfig(workflowID, s.retention)
	if err := setup.EnsureStream(ctx, s.js, streamCfg, s.storageType); err != nil {
		return fmt.Errorf("ensure workflow stream: %w", err)
	}
	if err := s.startConsumer(ctx, workflowID, messages.ProjectorDurablePrefix, "resource projection", s.project); err != nil {
		return err
	}
	if s.archive != nil {
		if err := s.startConsumer(ctx, workflowID, messages.ArchiverDurablePrefix, "event archive", s.archiveEvent); err != nil {
			return err
		}
	}
	return nil
}

func (s *Nats) startConsumer(ctx context.Context, workflowID string, prefix string, desc string, fn func(ctx context.Context, log *slog.Logger, msg jetstream.Msg) (bool, error)) error {
	durable := prefix + workflowID
	s.consumersMx.Lock()
	defer s.consumersMx.Unlock()
	if _, ok := s.consumers[durable]; ok {
		return nil
	}
	streamName := messages.StreamName(workflowID)
	cfg := setup.DurableEventConsumerConfig(durable, workflowID, desc+" of workflow "+workflowID, s.consumerAck)
	if err := setup.EnsureConsumer(ctx, s.js, streamName, cfg, true, s.storageType); err != nil {
		return fmt.Errorf("ensure %s consumer: %w", desc, err)
	}
	if err := common.Process(ctx, s.js, streamName, prefix+"processor", s.closing, durable, 1, s.receiveMiddleware, fn); err != nil {
		return fmt.Errorf("start %s: %w", desc, err)
	}
	s.consumers[durable] = struct{}{}
	logx.FromContext(ctx).Debug("started workflow consumer", slog.String("durable", durable), slog.String(keys.WorkflowID, workflowID))
	return nil
}
