package indexer

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKV(t *testing.T) jetstream.KeyValue {
	t.Helper()
	ns, err := server.NewServer(&server.Options{Port: -1, JetStream: true, StoreDir: t.TempDir(), NoSigs: true})
	require.NoError(t, err)
	go ns.Start()
	require.True(t, ns.ReadyForConnections(5*time.Second))
	t.Cleanup(ns.Shutdown)
	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	js, err := jetstream.New(nc)
	require.NoError(t, err)
	kv, err := js.CreateKeyValue(context.Background(), jetstream.KeyValueConfig{
		Bucket:  "testvals",
		Storage: jetstream.MemoryStorage,
	})
	require.NoError(t, err)
	return kv
}

// byValue indexes each entry under its value.
func byValue(entry jetstream.KeyValueEntry) [][]byte {
	return [][]byte{[]byte(string(entry.Value()) + "/" + entry.Key())}
}

func parity(i int) string {
	if i%2 == 0 {
		return "even"
	}
	return "odd"
}

func fetchKeys(t *testing.T, idx *Index, prefix string) []string {
	t.Helper()
	ret := make([]string, 0)
	for e, err := range idx.Fetch(context.Background(), []byte(prefix)) {
		require.NoError(t, err)
		ret = append(ret, e.Key())
	}
	return ret
}

func TestIndexFollowsUpdates(t *testing.T) {
	ctx := context.Background()
	kv := testKV(t)
	for i := 0; i < 10; i++ {
		_, err := kv.Put(ctx, strconv.Itoa(i), []byte(parity(i)))
		require.NoError(t, err)
	}

	ready := make(chan struct{})
	idx, err := New(ctx, kv, &IndexOptions{Ready: func() { close(ready) }}, byValue)
	require.NoError(t, err)
	defer func() { assert.NoError(t, idx.Close()) }()
	require.NoError(t, idx.Start())
	require.NoError(t, idx.Start())

	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("index never became ready")
	}
	assert.ElementsMatch(t, []string{"0", "2", "4", "6", "8"}, fetchKeys(t, idx, "even/"))

	// moving a key removes its old index entry
	rev, err := kv.Put(ctx, "2", []byte("odd"))
	require.NoError(t, err)
	require.NoError(t, idx.WaitFor(ctx, rev))
	assert.ElementsMatch(t, []string{"0", "4", "6", "8"}, fetchKeys(t, idx, "even/"))
	assert.Len(t, fetchKeys(t, idx, "odd/"), 6)

	require.NoError(t, kv.Delete(ctx, "4"))
	rev, err = kv.Put(ctx, "marker", []byte("marker"))
	require.NoError(t, err)
	require.NoError(t, idx.WaitFor(ctx, rev))
	keys, err := idx.Keys([]byte("even/"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"0", "6", "8"}, keys)
	assert.GreaterOrEqual(t, idx.Revision(), rev)
}

func TestWaitForHonoursContext(t *testing.T) {
	ctx := context.Background()
	kv := testKV(t)
	idx, err := New(ctx, kv, nil, byValue)
	require.NoError(t, err)
	defer func() { assert.NoError(t, idx.Close()) }()
	require.NoError(t, idx.Start())

	wctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	err = idx.WaitFor(wctx, 1000)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
