package storage

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/nats-io/nats.go/jetstream"
	"gitlab.com/circuit-breaker/engine/common"
	"gitlab.com/circuit-breaker/engine/model"
	errors2 "gitlab.com/circuit-breaker/engine/server/errors"
	"gitlab.com/circuit-breaker/engine/server/messages"
)

// LoadResource returns the stored state of a resource and its KV revision.
func (s *Nats) LoadResource(ctx context.Context, workflowID string, resourceID string) (*model.Resource, uint64, error) {
	r := &model.Resource{}
	rev, err := common.LoadObj(ctx, s.kvs.Resource, messages.ResourceKey(workflowID, resourceID), r)
	if err != nil {
		if errors2.IsJetStreamNotFound(err) {
			return nil, 0, errors2.ResourceNotFound(resourceID)
		}
		return nil, 0, fmt.Errorf("load resource: %w", err)
	}
	return r, rev, nil
}

// ResourceOwner returns the workflow a resource belongs to.
func (s *Nats) ResourceOwner(ctx context.Context, resourceID string) (string, error) {
	if resourceID == "" {
		return "", errors2.ResourceNotFound(resourceID)
	}
	b, _, err := common.Load(ctx, s.kvs.ResourceOwner, resourceID)
	if err != nil {
		if errors2.IsJetStreamNotFound(err) {
			return "", errors2.ResourceNotFound(resourceID)
		}
		return "", fmt.Errorf("load resource owner: %w", err)
	}
	return string(b), nil
}

// CreateResource stores the first version of a resource, returning its KV revision.
func (s *Nats) CreateResource(ctx context.Context, r *model.Resource) (uint64, error) {
	if _, err := common.Save(ctx, s.kvs.ResourceOwner, r.ID, []byte(r.WorkflowID)); err != nil {
		return 0, fmt.Errorf("save resource owner: %w", err)
	}
	rev, err := common.CreateObj(ctx, s.kvs.Resource, messages.ResourceKey(r.WorkflowID, r.ID), r)
	if err == nil {
		return rev, nil
	}
	if !errors2.IsWrongLastSequence(err) {
		return 0, fmt.Errorf("create resource: %w", err)
	}
	return s.reconcile(ctx, r, err)
}

// CommitResource replaces a resource if it is still at KV revision rev, returning the new revision.
func (s *Nats) CommitResource(ctx context.Context, r *model.Resource, rev uint64) (uint64, error) {
	nrev, err := common.UpdateObjRev(ctx, s.kvs.Resource, messages.ResourceKey(r.WorkflowID, r.ID), r, rev)
	if err == nil {
		return nrev, nil
	}
	if !errors2.IsWrongLastSequence(err) {
		return 0, fmt.Errorf("commit resource: %w", err)
	}
	return s.reconcile(ctx, r, err)
}

// reconcile resolves a lost revision race after r's event was accepted by the stream.
// The message id dedup admits one event per version, so a stored view at r's version with r's sequence,
// or at any later version, already contains this write.  Only a different event at the same version is a conflict.
func (s *Nats) reconcile(ctx context.Context, r *model.Resource, cause error) (uint64, error) {
	stored, srev, err := s.LoadResource(ctx, r.WorkflowID, r.ID)
	if err != nil {
		return 0, &errors2.ConflictError{Code: errors2.CodeVersionConflict, ResourceID: r.ID, Err: cause}
	}
	if stored.Version > r.Version || (stored.Version == r.Version && stored.NatsSequence == r.NatsSequence) {
		return srev, nil
	}
	return 0, &errors2.ConflictError{Code: errors2.CodeVersionConflict, ResourceID: r.ID, Err: cause}
}

// RemoveResource deletes a resource if it is still at KV revision rev, returning the revision of the delete marker.
func (s *Nats) RemoveResource(ctx context.Context, r *model.Resource, rev uint64) (uint64, error) {
	key := messages.ResourceKey(r.WorkflowID, r.ID)
	if err := s.kvs.Resource.Delete(ctx, key, jetstream.LastRevision(rev)); err != nil {
		if !errors2.IsWrongLastSequence(err) {
			return 0, fmt.Errorf("delete resource: %w", err)
		}
		if _, _, lerr := s.LoadResource(ctx, r.WorkflowID, r.ID); !errors.Is(lerr, errors2.ErrResourceNotFound) {
			return 0, &errors2.ConflictError{Code: errors2.CodeVersionConflict, ResourceID: r.ID, Err: err}
		}
	}
	if err := s.kvs.ResourceOwner.Delete(ctx, r.ID); err != nil && !errors2.IsJetStreamNotFound(err) {
		return 0, fmt.Errorf("delete resource owner: %w", err)
	}
	st, err := s.kvs.Resource.Status(ctx)
	if err != nil {
		return 0, fmt.Errorf("resource store status: %w", err)
	}
	return kvLastRevision(st), nil
}

// ScanResources yields every stored resource of a workflow in key order.
func (s *Nats) ScanResources(ctx context.Context, workflowID string) iter.Seq2[*model.Resource, error] {
	return func(yield func(*model.Resource, error) bool) {
		ks, err := common.KeyPrefixSearch(ctx, s.js, s.kvs.Resource, workflowID, common.KeyPrefixResultOpts{Sort: true})
		if err != nil {
			yield(nil, fmt.Errorf("scan resources: %w", err))
			return
		}
		for _, k := range ks {
			r := &model.Resource{}
			if _, err := common.LoadObj(ctx, s.kvs.Resource, k, r); err != nil {
				if errors2.IsJetStreamNotFound(err) {
					continue
				}
				if !yield(nil, err) {
					return
				}
				continue
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

// ResourcesInPlace yields the resources currently occupying a place.
func (s *Nats) ResourcesInPlace(ctx context.Context, workflowID string, place string) iter.Seq2[*model.Resource, error] {
	return s.places.QueryByPlace(ctx, workflowID, place)
}

// WaitIndexed blocks until queries by place reflect the resource store at revision rev.
func (s *Nats) WaitIndexed(ctx context.Context, rev uint64) error {
	if err := s.places.WaitFor(ctx, rev); err != nil {
		return fmt.Errorf("wait for index: %w", err)
	}
	return nil
}

func kvLastRevision(st jetstream.KeyValueStatus) uint64 {
	if kst, ok := st.(*jetstream.KeyValueBucketStatus); ok {
		return kst.StreamInfo().State.LastSeq
	}
	return 0
}
