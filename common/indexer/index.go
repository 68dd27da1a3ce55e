package indexer

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/nats-io/nats.go/jetstream"
)

// ErrIndexClosed is returned when waiting on an index that has been closed.
var ErrIndexClosed = errors.New("index closed")

// IndexOptions holds configuration options for the indexing process.
type IndexOptions struct {
	IndexToDisk bool   // IndexToDisk creates an index on disk if true.
	Path        string // Path on disk for the index files.  This must be ephemeral, or externally deleted before calling Start().
	Ready       func() // Ready function is called once the values present at start have been indexed.
}

// Index - A badger prefix based indexer for NATS KV
//
// Every indexed KV key also has a reverse record holding the index keys last written for it,
// so stale entries are removed without reading KV history.
type Index struct {
	db      *badger.DB
	watcher jetstream.KeyWatcher
	indexFn IndexFn
	kv      jetstream.KeyValue
	startMx sync.Mutex
	started bool
	ready   func()

	revMx   sync.Mutex
	lastRev uint64
	notify  chan struct{}
	synced  bool
	closed  bool
}

// IndexFn takes a KeyValueEntry, and returns a set of badger keys.
type IndexFn func(entry jetstream.KeyValueEntry) [][]byte

const reversePrefix = "\u001Dr\u001D"

const keySep = "\u001E"

// New creates a new instance of the indexer.
func New(ctx context.Context, kv jetstream.KeyValue, options *IndexOptions, indexFn IndexFn) (*Index, error) {
	if options == nil {
		options = &IndexOptions{}
	}
	bOptions := badger.DefaultOptions(options.Path).
		WithInMemory(!options.IndexToDisk).
		WithLogger(nil)
	db, err := badger.Open(bOptions)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	watcher, err := kv.WatchAll(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &Index{
		db:      db,
		watcher: watcher,
		indexFn: indexFn,
		kv:      kv,
		ready:   options.Ready,
		notify:  make(chan struct{}),
	}, nil
}

// Start starts the indexer
func (idx *Index) Start() error {
	idx.startMx.Lock()
	defer idx.startMx.Unlock()
	if idx.started {
		return nil
	}
	idx.started = true
	go func() {
		for u := range idx.watcher.Updates() {
			if u == nil {
				// initial values have been delivered
				idx.markSynced()
				continue
			}
			var err error
			switch u.Operation() {
			case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
				err = idx.remove(u.Key())
			case jetstream.KeyValuePut:
				err = idx.put(u)
			default:
				slog.Error("unhandled operation", "opcode", u.Operation())
			}
			if err != nil {
				slog.Error("update index", "error", err, "key", u.Key())
			}
			idx.advance(u.Revision())
		}
		idx.revMx.Lock()
		idx.closed = true
		close(idx.notify)
		idx.revMx.Unlock()
	}()
	return nil
}

func (idx *Index) put(u jetstream.KeyValueEntry) error {
	indexKeys := idx.indexFn(u)
	txn := idx.db.NewTransaction(true)
	defer txn.Discard()
	if err := idx.deleteReverse(txn, u.Key()); err != nil {
		return err
	}
	joined := make([]string, 0, len(indexKeys))
	for _, key := range indexKeys {
		if err := txn.Set(key, []byte(u.Key())); err != nil {
			return fmt.Errorf("set key: %w", err)
		}
		joined = append(joined, string(key))
	}
	if err := txn.Set([]byte(reversePrefix+u.Key()), []byte(strings.Join(joined, keySep))); err != nil {
		return fmt.Errorf("set reverse key: %w", err)
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("commit index keys: %w", err)
	}
	return nil
}

func (idx *Index) remove(kvKey string) error {
	txn := idx.db.NewTransaction(true)
	defer txn.Discard()
	if err := idx.deleteReverse(txn, kvKey); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("commit deletes: %w", err)
	}
	return nil
}

func (idx *Index) deleteReverse(txn *badger.Txn, kvKey string) error {
	rk := []byte(reversePrefix + kvKey)
	item, err := txn.Get(rk)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	} else if err != nil {
		return fmt.Errorf("get reverse key: %w", err)
	}
	old, err := item.ValueCopy(nil)
	if err != nil {
		return fmt.Errorf("read reverse key: %w", err)
	}
	if len(old) > 0 {
		for _, k := range strings.Split(string(old), keySep) {
			if err := txn.Delete([]byte(k)); err != nil {
				return fmt.Errorf("delete key: %w", err)
			}
		}
	}
	if err := txn.Delete(rk); err != nil {
		return fmt.Errorf("delete reverse key: %w", err)
	}
	return nil
}

func (idx *Index) advance(rev uint64) {
	idx.revMx.Lock()
	defer idx.revMx.Unlock()
	if rev > idx.lastRev {
		idx.lastRev = rev
	}
	close(idx.notify)
	idx.notify = make(chan struct{})
}

func (idx *Index) markSynced() {
	idx.revMx.Lock()
	first := !idx.synced
	idx.synced = true
	close(idx.notify)
	idx.notify = make(chan struct{})
	idx.revMx.Unlock()
	if first && idx.ready != nil {
		idx.ready()
	}
}

// WaitFor blocks until the index has applied the KV revision rev, and the initial values.
func (idx *Index) WaitFor(ctx context.Context, rev uint64) error {
	for {
		idx.revMx.Lock()
		if idx.synced && idx.lastRev >= rev {
			idx.revMx.Unlock()
			return nil
		}
		if idx.closed {
			idx.revMx.Unlock()
			return ErrIndexClosed
		}
		ch := idx.notify
		idx.revMx.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return fmt.Errorf("wait for index revision %d: %w", rev, ctx.Err())
		}
	}
}

// Revision returns the last KV revision applied to the index.
func (idx *Index) Revision() uint64 {
	idx.revMx.Lock()
	defer idx.revMx.Unlock()
	return idx.lastRev
}

// Keys returns a snapshot of the KV keys indexed under a key prefix, in index order.
func (idx *Index) Keys(prefix []byte) ([]string, error) {
	ret := make([]string, 0)
	err := idx.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			v, err := it.Item().ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("get index value %s: %w", it.Item().Key(), err)
			}
			ret = append(ret, string(v))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	return ret, nil
}

// Fetch yields the KV entries indexed under a key prefix.
// Keys deleted from KV since they were indexed are skipped.  The sequence may be ranged over more than once.
func (idx *Index) Fetch(ctx context.Context, prefix []byte) iter.Seq2[jetstream.KeyValueEntry, error] {
	return func(yield func(jetstream.KeyValueEntry, error) bool) {
		keys, err := idx.Keys(prefix)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, k := range keys {
			e, err := idx.kv.Get(ctx, k)
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				if !yield(nil, fmt.Errorf("get nats entry: %w", err)) {
					return
				}
				continue
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

// Close stops the watcher and releases the index.
func (idx *Index) Close() error {
	if err := idx.watcher.Stop(); err != nil {
		slog.Warn("stop index watcher", "error", err)
	}
	if err := idx.db.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	return nil
}
