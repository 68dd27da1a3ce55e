package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/circuit-breaker/engine/server/server/option"
)

func TestGetEnvironment(t *testing.T) {
	t.Setenv("NATS_URL", "nats://example:4222")
	t.Setenv("GUARD_TIMEOUT", "500ms")
	t.Setenv("STREAM_MAX_MSGS", "100")
	t.Setenv("EPHEMERAL_STORAGE", "true")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := GetEnvironment()
	require.NoError(t, err)
	assert.Equal(t, "nats://example:4222", cfg.NatsURL)
	assert.Equal(t, 500*time.Millisecond, cfg.GuardTimeout)
	assert.Equal(t, int64(100), cfg.StreamMaxMsgs)
	assert.Equal(t, 2*time.Minute, cfg.StreamDuplicates)

	lev, src := cfg.Level()
	assert.Equal(t, slog.LevelDebug, lev)
	assert.True(t, src)

	o := &option.ServerOptions{}
	for _, i := range cfg.ServerOptions() {
		i.Configure(o)
	}
	assert.True(t, o.EphemeralStorage)
	assert.Equal(t, "nats://example:4222", o.NatsUrl)
	assert.Equal(t, int64(100), o.Retention.MaxMsgs)
	assert.Equal(t, 500*time.Millisecond, o.GuardTimeout)
}

func TestBadEnvironment(t *testing.T) {
	t.Setenv("CONCURRENCY", "lots")
	_, err := GetEnvironment()
	assert.Error(t, err)
}
