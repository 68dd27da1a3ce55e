package setup

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/circuit-breaker/engine/server/messages"
)

func TestDefaultConfigDeclaresAllBuckets(t *testing.T) {
	cfg, err := ParseConfig(DefaultConfig())
	require.NoError(t, err)

	names := make([]string, 0, len(cfg.KeyValue))
	for _, kv := range cfg.KeyValue {
		names = append(names, kv.Config.Bucket)
		if kv.Config.Bucket == messages.KvLock {
			assert.Equal(t, 30*time.Second, kv.Config.TTL)
		}
	}
	assert.ElementsMatch(t, messages.AllBuckets, names)
}

func TestLockTTLDefaulted(t *testing.T) {
	cfg, err := ParseConfig("buckets:\n  - nats-config:\n      bucket: WORKFLOW_LOCK\n")
	require.NoError(t, err)
	require.Len(t, cfg.KeyValue, 1)
	assert.Equal(t, DefaultLockTTL, cfg.KeyValue[0].Config.TTL)
}

func TestRequiresUpgrade(t *testing.T) {
	assert.True(t, requiresUpgrade("", "0.1.0"))
	assert.True(t, requiresUpgrade("garbage", "0.1.0"))
	assert.True(t, requiresUpgrade("0.0.9", "0.1.0"))
	assert.False(t, requiresUpgrade("0.1.0", "0.1.0"))
	assert.False(t, requiresUpgrade("0.2.0", "0.1.0"))
}

func TestWorkflowStreamConfig(t *testing.T) {
	c := WorkflowStreamConfig("doc", Retention{MaxMsgs: 10, MaxAge: time.Hour})
	assert.Equal(t, "WORKFLOW_DOC", c.Name)
	assert.Equal(t, []string{"workflows.doc.events.>"}, c.Subjects)
	assert.Equal(t, int64(10), c.MaxMsgs)
	assert.Equal(t, int64(-1), c.MaxBytes)
	assert.Equal(t, jetstream.DiscardOld, c.Discard)
	assert.Equal(t, DefaultDuplicates, c.Duplicates)
}
