package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/hashicorp/go-version"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	version2 "gitlab.com/circuit-breaker/engine/common/version"
	cbsvr "gitlab.com/circuit-breaker/engine/server/server"
	"gitlab.com/circuit-breaker/engine/server/server/option"
)

const (
	dockerHostName           = "host.docker.internal"
	defaultNatsContainerPort = "4222/tcp"
)

type zenOpts struct {
	engineVersion      string
	engineOptions      []option.Option
	engineImageUrl     string
	natsServerImageUrl string
}

// ZenOptionApplyFn represents a Zen server configuration function.
type ZenOptionApplyFn func(cfg *zenOpts)

// WithEngineVersion artificially sets the reported engine version.
func WithEngineVersion(ver string) ZenOptionApplyFn {
	return func(cfg *zenOpts) {
		cfg.engineVersion = ver
	}
}

// WithEngineOption passes an option to an in process engine.
func WithEngineOption(opt option.Option) ZenOptionApplyFn {
	return func(cfg *zenOpts) {
		cfg.engineOptions = append(cfg.engineOptions, opt)
	}
}

// WithEngineImageUrl will make zen start the engine in a container from the specified image URL.
func WithEngineImageUrl(imageUrl string) ZenOptionApplyFn {
	return func(cfg *zenOpts) {
		cfg.engineImageUrl = imageUrl
	}
}

// WithNatsServerImageUrl will make zen start nats server in a container from the specified image URL.
func WithNatsServerImageUrl(imageUrl string) ZenOptionApplyFn {
	return func(cfg *zenOpts) {
		cfg.natsServerImageUrl = imageUrl
	}
}

// Server is a general interface representing either an in process or in container server.
type Server interface {
	Shutdown()
	Listen(host string, port int) error
}

// GetServers returns a test engine and NATS server, and the URL clients should connect to.
//
//nolint:ireturn
func GetServers(natsHost string, natsPort int, concurrency int, option ...ZenOptionApplyFn) (Server, Server, string, error) {
	defaults := &zenOpts{engineVersion: version2.Version}
	for _, i := range option {
		i(defaults)
	}

	var nsvr Server
	var nHost string
	var nPort int

	if defaults.natsServerImageUrl != "" {
		c := inContainerNatsServer(defaults.natsServerImageUrl)
		if err := c.Listen("", 0); err != nil {
			return nil, nil, "", fmt.Errorf("start nats container: %w", err)
		}
		nsvr = c
		nHost = "localhost"
		nPort = c.exposedToHostPorts[defaultNatsContainerPort]
	} else {
		n := &NatsServer{}
		if err := n.Listen(natsHost, natsPort); err != nil {
			return nil, nil, "", err
		}
		nsvr = n
		nHost = natsHost
		nPort = natsPort
	}
	natsURL := fmt.Sprintf("nats://%s:%d", nHost, nPort)

	var esvr Server
	if defaults.engineImageUrl != "" {
		// The containerised engine reaches NATS through the docker host.
		c := inContainerEngine(defaults.engineImageUrl, dockerHostName, nPort)
		if err := c.Listen("", 0); err != nil {
			nsvr.Shutdown()
			return nil, nil, "", fmt.Errorf("start engine container: %w", err)
		}
		esvr = c
	} else {
		e, err := inProcessEngine(concurrency, defaults)
		if err != nil {
			nsvr.Shutdown()
			return nil, nil, "", err
		}
		if err := e.Listen(nHost, nPort); err != nil {
			nsvr.Shutdown()
			return nil, nil, "", err
		}
		esvr = e
	}

	slog.Info("Setup completed", "nats", natsURL)
	return esvr, nsvr, natsURL, nil
}

func inProcessEngine(concurrency int, cfg *zenOpts) (*EngineServer, error) {
	ver, err := version.NewVersion(cfg.engineVersion)
	if err != nil {
		return nil, fmt.Errorf("parse engine version: %w", err)
	}
	options := []option.Option{
		option.EphemeralStorage(),
		option.PanicRecovery(false),
		option.Concurrency(concurrency),
		option.WithNoHealthServer(),
		option.WithEngineVersion(ver),
	}
	return &EngineServer{options: append(options, cfg.engineOptions...)}, nil
}

// EngineServer runs an engine in the test process.
type EngineServer struct {
	*cbsvr.Server
	options []option.Option
}

// Listen starts the engine against the NATS server at host:port and waits until it serves API calls.
func (e *EngineServer) Listen(host string, port int) error {
	e.Server = cbsvr.New(append(e.options, option.NatsUrl("nats://"+host+":"+strconv.Itoa(port)))...)
	if err := e.Start(context.Background(), nil); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	for !e.Ready() {
		slog.Info("waiting for engine")
		time.Sleep(100 * time.Millisecond)
	}
	return nil
}

// NatsServer is a wrapper around the nats lib server so that its lifecycle can be defined
// in terms of the Server interface needed by integration tests.
type NatsServer struct {
	nsvr     *server.Server
	storeDir string
}

// Listen starts an in process JetStream enabled nats server.
func (n *NatsServer) Listen(natsHost string, natsPort int) error {
	dir, err := os.MkdirTemp("", "zen-nats-*")
	if err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	n.storeDir = dir
	nsvr, err := server.NewServer(&server.Options{
		ServerName: "zen",
		Host:       natsHost,
		Port:       natsPort,
		JetStream:  true,
		StoreDir:   dir,
		NoSigs:     true,
	})
	if err != nil {
		return fmt.Errorf("create a new server instance: %w", err)
	}
	go nsvr.Start()
	if !nsvr.ReadyForConnections(5 * time.Second) {
		return fmt.Errorf("start NATS: not ready")
	}
	slog.Info("NATS started", "url", nsvr.ClientURL())
	n.nsvr = nsvr
	return nil
}

// Shutdown shuts down an in process nats server.
func (n *NatsServer) Shutdown() {
	if n.nsvr == nil {
		return
	}
	n.nsvr.Shutdown()
	n.nsvr.WaitForShutdown()
	if err := os.RemoveAll(n.storeDir); err != nil {
		slog.Warn("remove nats store", "error", err)
	}
}

func inContainerEngine(imageUrl string, natsHost string, natsPort int) *containerisedServer {
	return newContainerisedServer(testcontainers.ContainerRequest{
		Image:        imageUrl,
		ExposedPorts: []string{"50000/tcp"},
		WaitingFor:   wait.ForLog("api listener started"),
		Env: map[string]string{
			"NATS_URL":          fmt.Sprintf("nats://%s:%d", natsHost, natsPort),
			"EPHEMERAL_STORAGE": "true",
			"SHOW_SPLASH":       "false",
		}})
}

func inContainerNatsServer(imageUrl string) *containerisedServer {
	return newContainerisedServer(testcontainers.ContainerRequest{
		Image:        imageUrl,
		ExposedPorts: []string{defaultNatsContainerPort},
		Cmd:          []string{"-js"},
		WaitingFor:   wait.ForLog("Listening for client connections").WithStartupTimeout(10 * time.Second),
	})
}

func newContainerisedServer(req testcontainers.ContainerRequest) *containerisedServer {
	return &containerisedServer{
		req:                req,
		exposedToHostPorts: make(map[string]int),
	}
}

// containerisedServer wraps testcontainers so that any server can be started or stopped in a container.
type containerisedServer struct {
	req                testcontainers.ContainerRequest
	container          testcontainers.Container
	exposedToHostPorts map[string]int
}

// Listen starts the server in a container.
func (cp *containerisedServer) Listen(_ string, _ int) error {
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: cp.req,
		Started:          true,
	})
	if err != nil {
		return fmt.Errorf("start container for %s: %w", cp.req.Image, err)
	}
	cp.container = container
	for _, exposedPort := range cp.req.ExposedPorts {
		natPort, err := container.MappedPort(ctx, nat.Port(exposedPort))
		if err != nil {
			return fmt.Errorf("mapped port %s: %w", exposedPort, err)
		}
		cp.exposedToHostPorts[exposedPort] = natPort.Int()
	}
	return nil
}

// Shutdown terminates the container.
func (cp *containerisedServer) Shutdown() {
	if cp.container != nil {
		if err := cp.container.Terminate(context.Background()); err != nil {
			slog.Error("terminate container", "image", cp.req.Image, "error", err)
		}
	}
}
