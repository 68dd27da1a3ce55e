package storage

import (
	"context"
	"fmt"
	"log/slog"

	"gitlab.com/circuit-breaker/engine/common"
	"gitlab.com/circuit-breaker/engine/common/logx"
	errors2 "gitlab.com/circuit-breaker/engine/server/errors"
	"gitlab.com/circuit-breaker/engine/server/errors/keys"
)

// LockResource takes the exclusive write lock of a resource.
// A held lock is reported as a retryable ConflictError.  The returned function releases the lock.
func (s *Nats) LockResource(ctx context.Context, resourceID string) (func(), error) {
	ok, err := common.Lock(ctx, s.kvs.Lock, resourceID)
	if err != nil {
		return nil, fmt.Errorf("lock resource: %w", err)
	}
	if !ok {
		return nil, &errors2.ConflictError{Code: errors2.CodeResourceBusy, ResourceID: resourceID}
	}
	return func() {
		uctx := context.WithoutCancel(ctx)
		if err := common.UnLock(uctx, s.kvs.Lock, resourceID); err != nil {
			logx.FromContext(ctx).Warn("release resource lock", "error", err, slog.String(keys.ResourceID, resourceID))
		}
	}, nil
}
