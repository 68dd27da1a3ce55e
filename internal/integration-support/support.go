package support

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"
	"gitlab.com/circuit-breaker/engine/client"
	"gitlab.com/circuit-breaker/engine/server/messages"
	zensvr "gitlab.com/circuit-breaker/engine/zen/server"
)

const natsHost = "127.0.0.1"

// Integration - the integration test support framework.
type Integration struct {
	NatsURL     string
	Concurrency int
	Cooldown    time.Duration
	pkg         string
	opts        []zensvr.ZenOptionApplyFn
	engine      zensvr.Server
	nats        zensvr.Server
	mx          sync.Mutex
	conns       []*nats.Conn
}

// NewIntegration creates a test harness for a package. Set INT_NATS_IMAGE or INT_ENGINE_IMAGE
// to run the servers in containers instead of in process.
func NewIntegration(packageName string, opts ...zensvr.ZenOptionApplyFn) *Integration {
	if img := os.Getenv("INT_NATS_IMAGE"); img != "" {
		opts = append(opts, zensvr.WithNatsServerImageUrl(img))
	}
	if img := os.Getenv("INT_ENGINE_IMAGE"); img != "" {
		opts = append(opts, zensvr.WithEngineImageUrl(img))
	}
	return &Integration{pkg: packageName, Concurrency: 10, opts: opts}
}

// Setup starts a NATS server and an engine.
func (s *Integration) Setup() {
	port, err := freePort()
	if err != nil {
		panic(fmt.Errorf("find free port: %w", err))
	}
	esvr, nsvr, url, err := zensvr.GetServers(natsHost, port, s.Concurrency, s.opts...)
	if err != nil {
		panic(fmt.Errorf("start test servers for %s: %w", s.pkg, err))
	}
	s.engine = esvr
	s.nats = nsvr
	s.NatsURL = url
	slog.Info("integration servers started", "package", s.pkg, "url", url)
}

// Teardown stops the engine and NATS, and closes every connection handed out.
func (s *Integration) Teardown() {
	if s.Cooldown > 0 {
		time.Sleep(s.Cooldown)
	}
	s.mx.Lock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
	s.mx.Unlock()
	if s.engine != nil {
		s.engine.Shutdown()
	}
	if s.nats != nil {
		s.nats.Shutdown()
	}
	slog.Info("integration servers stopped", "package", s.pkg)
}

// GetNats returns a new NATS connection to the test server.
func (s *Integration) GetNats() (*nats.Conn, error) {
	nc, err := nats.Connect(s.NatsURL)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	s.mx.Lock()
	s.conns = append(s.conns, nc)
	s.mx.Unlock()
	return nc, nil
}

// GetJetstream returns a JetStream context on a new connection to the test server.
func (s *Integration) GetJetstream() (jetstream.JetStream, error) {
	nc, err := s.GetNats()
	if err != nil {
		return nil, err
	}
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("obtain jetstream: %w", err)
	}
	return js, nil
}

// NewClient dials a client against the test engine and closes it when the test ends.
func (s *Integration) NewClient(t *testing.T, opts ...client.ConfigurationOption) *client.Client {
	t.Helper()
	cl := client.New(opts...)
	require.NoError(t, cl.Dial(context.Background(), s.NatsURL, client.WithConnectionName(s.pkg+"-"+t.Name())))
	t.Cleanup(cl.Close)
	return cl
}

// AssertNoLocks fails the test if any resource lock is still held.
func (s *Integration) AssertNoLocks(t *testing.T) {
	t.Helper()
	js, err := s.GetJetstream()
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	kv, err := js.KeyValue(ctx, messages.KvLock)
	require.NoError(t, err)
	keys, err := kv.Keys(ctx)
	if err != nil {
		require.ErrorIs(t, err, jetstream.ErrNoKeysFound)
		return
	}
	require.Empty(t, keys, "locks are still held")
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", natsHost+":0")
	if err != nil {
		return 0, fmt.Errorf("listen: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
