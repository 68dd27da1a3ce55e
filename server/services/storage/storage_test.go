package storage

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/circuit-breaker/engine/model"
	errors2 "gitlab.com/circuit-breaker/engine/server/errors"
	"gitlab.com/circuit-breaker/engine/server/services/natz"
)

func testStore(t *testing.T) *Nats {
	t.Helper()
	ns, err := server.NewServer(&server.Options{Port: -1, JetStream: true, StoreDir: t.TempDir(), NoSigs: true})
	require.NoError(t, err)
	go ns.Start()
	require.True(t, ns.ReadyForConnections(5*time.Second))
	t.Cleanup(ns.Shutdown)

	conn, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	txConn, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(txConn.Close)

	ctx := context.Background()
	svc, err := natz.NewNatsService(ctx, &natz.NatsConnConfiguration{Conn: conn, TxConn: txConn, StorageType: jetstream.MemoryStorage})
	require.NoError(t, err)
	s, err := New(ctx, svc, Options{})
	require.NoError(t, err)
	t.Cleanup(s.Shutdown)
	return s
}

func testDefinition(t *testing.T, s *Nats) *model.WorkflowDefinition {
	t.Helper()
	def := &model.WorkflowDefinition{
		ID:           "wf_" + ksuid.New().String(),
		Places:       []string{"open", "closed"},
		InitialPlace: "open",
		Activities:   []model.Activity{{ID: "close", FromPlaces: []string{"open"}, ToPlace: "closed", Terminal: true}},
		CreatedAt:    time.Now().UTC(),
	}
	ctx := context.Background()
	require.NoError(t, s.SaveDefinition(ctx, def))
	require.NoError(t, s.EnsureWorkflowStream(ctx, def.ID))
	return def
}

func newResource(def *model.WorkflowDefinition) *model.Resource {
	now := time.Now().UTC()
	return &model.Resource{ID: ksuid.New().String(), WorkflowID: def.ID, Place: def.InitialPlace, Version: 1, CreatedAt: now, UpdatedAt: now, Data: model.Vars{"n": 1}}
}

func TestDefinitions(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	def := testDefinition(t, s)

	got, err := s.LoadDefinition(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, def.Places, got.Places)

	exists, err := s.StreamExists(ctx, def.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = s.LoadDefinition(ctx, "missing")
	assert.ErrorIs(t, err, errors2.ErrWorkflowNotFound)

	defs, err := s.ListDefinitions(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, def.ID, defs[0].ID)
}

func TestLockIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	unlock, err := s.LockResource(ctx, "r1")
	require.NoError(t, err)
	_, err = s.LockResource(ctx, "r1")
	var ce *errors2.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, errors2.CodeResourceBusy, ce.Code)

	unlock()
	unlock2, err := s.LockResource(ctx, "r1")
	require.NoError(t, err)
	unlock2()
}

func TestPublishAndCommit(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	def := testDefinition(t, s)
	r := newResource(def)

	_, res, err := s.PublishCreated(ctx, r, "tester")
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	r.NatsSequence = res.Sequence
	rev, err := s.CreateResource(ctx, r)
	require.NoError(t, err)

	// the same version again is deduplicated by message id
	_, again, err := s.PublishCreated(ctx, r, "tester")
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, res.Sequence, again.Sequence)

	owner, err := s.ResourceOwner(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, def.ID, owner)

	next := r.Clone()
	next.Version = 2
	next.Place = "closed"
	_, res2, err := s.PublishTransitioned(ctx, next, model.EventTokenTransitioned, "open", "close", "tester", nil)
	require.NoError(t, err)
	next.NatsSequence = res2.Sequence
	nrev, err := s.CommitResource(ctx, next, rev)
	require.NoError(t, err)
	assert.Greater(t, nrev, rev)

	// a commit against a stale revision is a conflict
	stale := next.Clone()
	stale.Version = 3
	_, err = s.CommitResource(ctx, stale, rev)
	assert.True(t, errors2.Retryable(err))

	require.NoError(t, s.WaitIndexed(ctx, nrev))
	closed := 0
	for got, err := range s.ResourcesInPlace(ctx, def.ID, "closed") {
		require.NoError(t, err)
		assert.Equal(t, r.ID, got.ID)
		closed++
	}
	assert.Equal(t, 1, closed)

	events, truncated, err := s.History(ctx, def.ID, r.ID, 2)
	require.NoError(t, err)
	assert.False(t, truncated)
	require.Len(t, events, 2)
	assert.Equal(t, model.EventTokenCreated, events[0].EventType)
	assert.Equal(t, "close", events[1].TransitionID)
}

func TestRemoveResource(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	def := testDefinition(t, s)
	r := newResource(def)

	rev, err := s.CreateResource(ctx, r)
	require.NoError(t, err)
	_, err = s.RemoveResource(ctx, r, rev)
	require.NoError(t, err)

	_, _, err = s.LoadResource(ctx, def.ID, r.ID)
	assert.ErrorIs(t, err, errors2.ErrResourceNotFound)
	_, err = s.ResourceOwner(ctx, r.ID)
	assert.ErrorIs(t, err, errors2.ErrResourceNotFound)
}

func TestCommitBehindProjection(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	def := testDefinition(t, s)
	r := newResource(def)

	_, res, err := s.PublishCreated(ctx, r, "tester")
	require.NoError(t, err)
	r.NatsSequence = res.Sequence
	rev, err := s.CreateResource(ctx, r)
	require.NoError(t, err)

	v2 := r.Clone()
	v2.Version = 2
	v2.Place = "closed"
	_, res2, err := s.PublishTransitioned(ctx, v2, model.EventTokenTransitioned, "open", "close", "tester", nil)
	require.NoError(t, err)
	v2.NatsSequence = res2.Sequence

	// the projection moves the view past v2 before its writer commits
	v3 := v2.Clone()
	v3.Version = 3
	v3.Data = model.Vars{"n": 3}
	_, res3, err := s.PublishUpdated(ctx, v3, "tester")
	require.NoError(t, err)
	v3.NatsSequence = res3.Sequence
	require.Eventually(t, func() bool {
		got, _, err := s.LoadResource(ctx, def.ID, r.ID)
		return err == nil && got.Version == 3
	}, 5*time.Second, 20*time.Millisecond)

	_, err = s.CommitResource(ctx, v2, rev)
	require.NoError(t, err)
	stored, _, err := s.LoadResource(ctx, def.ID, r.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), stored.Version)

	// another event at the same version is still a conflict
	rival := v3.Clone()
	rival.NatsSequence = res3.Sequence + 100
	_, err = s.CommitResource(ctx, rival, rev)
	var ce *errors2.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, errors2.CodeVersionConflict, ce.Code)
}
