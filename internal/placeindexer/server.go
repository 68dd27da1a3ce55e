package placeindexer

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"
	"gitlab.com/circuit-breaker/engine/common/codec"
	"gitlab.com/circuit-breaker/engine/common/indexer"
	"gitlab.com/circuit-breaker/engine/model"
)

const sep = "\x00"

// ErrIndexNotReady is returned when a query is attempted before the index has loaded the existing resources.
var ErrIndexNotReady = errors.New("index not ready")

// IndexOptions holds configuration options for the indexing process.
type IndexOptions struct {
	IndexToDisk bool   // IndexToDisk creates an index on disk if true.
	Path        string // Path on disk for the index files.
	Ready       func() // Ready function is called once existing resources are indexed.
}

// PlaceIndexer maintains a place to resource index over the resource store.
type PlaceIndexer struct {
	index *indexer.Index
	kv    jetstream.KeyValue
	ready chan struct{}
}

// New creates a place indexer over the resource bucket.  Call Start to begin indexing.
func New(ctx context.Context, kv jetstream.KeyValue, options IndexOptions) (*PlaceIndexer, error) {
	p := &PlaceIndexer{kv: kv, ready: make(chan struct{})}
	idx, err := indexer.New(ctx, kv, &indexer.IndexOptions{
		IndexToDisk: options.IndexToDisk,
		Path:        options.Path,
		Ready: func() {
			close(p.ready)
			if options.Ready != nil {
				options.Ready()
			}
		},
	}, indexFunc)
	if err != nil {
		return nil, fmt.Errorf("create place index: %w", err)
	}
	p.index = idx
	return p, nil
}

func indexFunc(entry jetstream.KeyValueEntry) [][]byte {
	r := &model.Resource{}
	if err := codec.Msgpack.Unmarshal(entry.Value(), r); err != nil {
		slog.Error("unmarshal resource for index", "error", err, "key", entry.Key())
		return nil
	}
	return [][]byte{Key(r.WorkflowID, r.Place, entry.Key())}
}

// Key returns the index key of a resource store key in a place.
func Key(workflowID string, place string, kvKey string) []byte {
	return []byte(workflowID + sep + place + sep + kvKey)
}

// Prefix returns the index prefix of all resources in a place.
func Prefix(workflowID string, place string) []byte {
	return []byte(workflowID + sep + place + sep)
}

// Start begins indexing.
func (p *PlaceIndexer) Start(_ context.Context) error {
	if err := p.index.Start(); err != nil {
		return fmt.Errorf("start place index: %w", err)
	}
	return nil
}

// Ready returns true once the resources present at start have been indexed.
func (p *PlaceIndexer) Ready() bool {
	select {
	case <-p.ready:
		return true
	default:
		return false
	}
}

// WaitFor blocks until the index reflects the resource store at revision rev.
func (p *PlaceIndexer) WaitFor(ctx context.Context, rev uint64) error {
	if err := p.index.WaitFor(ctx, rev); err != nil {
		return fmt.Errorf("wait for place index: %w", err)
	}
	return nil
}

// QueryByPlace yields the resources occupying a place.
// Entries the index has not caught up with are checked against the stored place and skipped if they moved.
func (p *PlaceIndexer) QueryByPlace(ctx context.Context, workflowID string, place string) iter.Seq2[*model.Resource, error] {
	return func(yield func(*model.Resource, error) bool) {
		if !p.Ready() {
			yield(nil, ErrIndexNotReady)
			return
		}
		for entry, err := range p.index.Fetch(ctx, Prefix(workflowID, place)) {
			if err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}
			r := &model.Resource{}
			if err := codec.Msgpack.Unmarshal(entry.Value(), r); err != nil {
				if !yield(nil, fmt.Errorf("unmarshal indexed resource: %w", err)) {
					return
				}
				continue
			}
			if r.Place != place || r.WorkflowID != workflowID {
				continue
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

// Close stops indexing.
func (p *PlaceIndexer) Close() error {
	if err := p.index.Close(); err != nil {
		return fmt.Errorf("close place index: %w", err)
	}
	return nil
}
