package storage

import (
	"context"
	"fmt"
	"slices"

	"gitlab.com/circuit-breaker/engine/common/eventstream"
	"gitlab.com/circuit-breaker/engine/model"
)

// History returns the recorded events of a resource at version current, oldest first.
// Events evicted from the stream are taken from the archive when one is configured.
// truncated is true if events are still missing.
func (s *Nats) History(ctx context.Context, workflowID string, resourceID string, current uint64) ([]*model.Event, bool, error) {
	events, err := eventstream.History(ctx, s.js, workflowID, resourceID)
	if err != nil {
		return nil, false, fmt.Errorf("read stream history: %w", err)
	}
	if !eventstream.Truncated(events, current) || s.archive == nil {
		return events, eventstream.Truncated(events, current), nil
	}
	before := current + 1
	if len(events) > 0 {
		before = events[0].ResourceVersion
	}
	archived, err := s.archive.Events(ctx, workflowID, resourceID, before)
	if err != nil {
		return nil, false, fmt.Errorf("read archived history: %w", err)
	}
	merged := make([]*model.Event, 0, len(archived)+len(events))
	merged = append(merged, archived...)
	merged = append(merged, events...)
	slices.SortStableFunc(merged, func(a, b *model.Event) int {
		if a.ResourceVersion < b.ResourceVersion {
			return -1
		} else if a.ResourceVersion > b.ResourceVersion {
			return 1
		}
		return 0
	})
	merged = slices.CompactFunc(merged, func(a, b *model.Event) bool {
		return a.ResourceVersion == b.ResourceVersion
	})
	return merged, eventstream.Truncated(merged, current), nil
}
