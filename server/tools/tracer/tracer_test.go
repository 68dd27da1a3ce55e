package tracer

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/circuit-breaker/engine/common/codec"
	"gitlab.com/circuit-breaker/engine/model"
)

func testConn(t *testing.T) *nats.Conn {
	t.Helper()
	ns, err := server.NewServer(&server.Options{Port: -1, NoSigs: true})
	require.NoError(t, err)
	go ns.Start()
	require.True(t, ns.ReadyForConnections(5*time.Second))
	t.Cleanup(ns.Shutdown)
	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func eventMsg(t *testing.T, ev *model.Event) *nats.Msg {
	b, err := codec.JSON.Marshal(ev)
	require.NoError(t, err)
	return &nats.Msg{Subject: "workflows.doc.events.transitions." + ev.TokenID, Data: b}
}

type syncBuffer struct {
	mx  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.buf.String()
}

func TestSummarise(t *testing.T) {
	msg := eventMsg(t, &model.Event{
		EventType:       model.EventTokenTransitioned,
		TokenID:         "res-0001abcd",
		FromPlace:       "draft",
		ToPlace:         "review",
		TransitionID:    "submit",
		TriggeredBy:     "alice",
		ResourceVersion: 2,
		Warnings:        []string{"has-summary"},
	})
	assert.Equal(t, "workflows.doc.events.transitions.res-0001abcd token_transitioned abcd draft->review v2 by:alice via:submit warn:[has-summary]", Summarise(msg))

	created := eventMsg(t, &model.Event{EventType: model.EventTokenCreated, TokenID: "ab", ToPlace: "draft", ResourceVersion: 1, TriggeredBy: "bob"})
	assert.Equal(t, created.Subject+" token_created ab -->draft v1 by:bob", Summarise(created))

	b, err := codec.JSON.Marshal(&model.PlaceNotification{TokenID: "xyz12345", Entered: true})
	require.NoError(t, err)
	assert.Equal(t, "workflows.doc.places.review.tokens 2345 entered", Summarise(&nats.Msg{Subject: "workflows.doc.places.review.tokens", Data: b}))

	assert.Equal(t, "workflows.doc.events.lifecycle.r [undecodable event]", Summarise(&nats.Msg{Subject: "workflows.doc.events.lifecycle.r", Data: []byte("{")}))
	assert.Equal(t, "workflows.doc.other", Summarise(&nats.Msg{Subject: "workflows.doc.other"}))
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "workflows.>", Subject(""))
	assert.Equal(t, "workflows.doc.>", Subject("doc"))
}

func TestTraceFiltersByWorkflow(t *testing.T) {
	nc := testConn(t)
	out := &syncBuffer{}
	tr, err := Trace(nc, "doc", out)
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	require.NoError(t, nc.PublishMsg(eventMsg(t, &model.Event{EventType: model.EventTokenCreated, TokenID: "r1", ToPlace: "draft", ResourceVersion: 1})))
	require.NoError(t, nc.Publish("workflows.other.events.lifecycle.r2", []byte("{}")))
	require.NoError(t, nc.Flush())

	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("token_created r1"))
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, tr.Close())
	assert.NotContains(t, out.String(), "workflows.other")
}

func TestDebugWritesEvents(t *testing.T) {
	nc := testConn(t)
	fn := filepath.Join(t.TempDir(), "debug.jsonl")
	d, err := Debug(nc, "", fn)
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	require.NoError(t, nc.PublishMsg(eventMsg(t, &model.Event{EventType: model.EventTokenMoved, TokenID: "r1", ToPlace: "approved", ResourceVersion: 4})))
	require.NoError(t, nc.Publish("workflows.doc.places.approved.tokens", []byte("{}")))
	require.NoError(t, nc.Flush())

	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		b, err := os.ReadFile(fn)
		assert.NoError(c, err)
		assert.NotEmpty(c, b)
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, d.Close())

	f, err := os.Open(fn)
	require.NoError(t, err)
	defer f.Close()
	lines := make([]*OutputEvent, 0)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		ev := &OutputEvent{}
		require.NoError(t, codec.JSON.Unmarshal(sc.Bytes(), ev))
		lines = append(lines, ev)
	}
	require.Len(t, lines, 1)
	assert.Equal(t, "workflows.doc.events.transitions.r1", lines[0].Subject)
	assert.Equal(t, model.EventTokenMoved, lines[0].EventType)
	assert.Equal(t, uint64(4), lines[0].ResourceVersion)
}
