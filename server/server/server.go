package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/hashicorp/go-version"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"gitlab.com/circuit-breaker/engine/common"
	"gitlab.com/circuit-breaker/engine/common/telemetry"
	version2 "gitlab.com/circuit-breaker/engine/common/version"
	"gitlab.com/circuit-breaker/engine/internal/server/workflow"
	"gitlab.com/circuit-breaker/engine/server/api"
	"gitlab.com/circuit-breaker/engine/server/health"
	"gitlab.com/circuit-breaker/engine/server/server/option"
	"gitlab.com/circuit-breaker/engine/server/services/archive"
	"gitlab.com/circuit-breaker/engine/server/services/natz"
	"gitlab.com/circuit-breaker/engine/server/services/storage"
	gogrpc "google.golang.org/grpc"
	grpcHealth "google.golang.org/grpc/health/grpc_health_v1"
)

// Server hosts the engine API and its gRPC health endpoint.
type Server struct {
	sig               chan os.Signal
	healthService     *health.Checker
	grpcServer        *gogrpc.Server
	grpcAddr          net.Addr
	api               *api.Endpoints
	engine            *workflow.Engine
	archive           *archive.SQLiteArchive
	options           *option.ServerOptions
	shutdownTelemetry func(ctx context.Context) error
	conns             []*nats.Conn
	conditionsMx      sync.Mutex
	conditions        map[string]workflow.ConditionFunc
	shutdownOnce      sync.Once
}

// New creates a new engine server.
func New(options ...option.Option) *Server {
	currentVer, err := version.NewVersion(version2.Version)
	if err != nil {
		panic(err)
	}
	defaultOptions := &option.ServerOptions{
		EngineVersion:        currentVer,
		PanicRecovery:        true,
		HealthServiceEnabled: true,
		Concurrency:          6,
		NatsUrl:              nats.DefaultURL,
	}
	for _, i := range options {
		i.Configure(defaultOptions)
	}
	s := &Server{
		sig:           make(chan os.Signal, 10),
		healthService: health.New(),
		options:       defaultOptions,
		conditions:    make(map[string]workflow.ConditionFunc),
	}
	if s.options.ShowSplash {
		s.Details()
	}
	return s
}

// The following variables are set by -ldflags at build time.
var (
	CommitHash string
	BuildDate  string
)

// Details prints the details to stdout of the current engine server.
func (s *Server) Details() {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"CIRCUIT BREAKER CONFIGURATION", "VALUE"})
	t.Style().Options.SeparateRows = true
	t.AppendRows([]table.Row{
		{"Version              ", s.options.EngineVersion.String()},
		{"Build Time           ", BuildDate},
		{"Commit SHA           ", CommitHash},
		{"Nats URL             ", s.options.NatsUrl},
		{"Nats Min Version     ", version2.NatsVersion},
		{"Concurrency          ", s.options.Concurrency},
		{"Ephemeral Storage    ", s.options.EphemeralStorage},
		{"Panic Recovery       ", s.options.PanicRecovery},
		{"Guard Timeout        ", s.options.GuardTimeout},
		{"Archive              ", s.options.ArchivePath},
		{"Grpc Port            ", s.options.GrpcPort},
		{"Telemetry Exporter   ", s.options.TelemetryExporter},
	}, table.RowConfig{AutoMerge: false})
	t.AppendSeparator()
	t.Render()
}

// RegisterCondition makes a custom guard function available to workflows.
// Functions registered before Start are installed when the engine starts.
func (s *Server) RegisterCondition(name string, fn workflow.ConditionFunc) error {
	s.conditionsMx.Lock()
	defer s.conditionsMx.Unlock()
	if s.engine != nil {
		if err := s.engine.RegisterCondition(name, fn); err != nil {
			return fmt.Errorf("register condition %s: %w", name, err)
		}
		return nil
	}
	s.conditions[name] = fn
	return nil
}

// Listen starts the engine and blocks until the process is signalled to stop.
func (s *Server) Listen() error {
	errs := make(chan error, 1)
	signal.Notify(s.sig, syscall.SIGTERM, syscall.SIGINT)
	if err := s.Start(context.Background(), errs); err != nil {
		return err
	}
	select {
	case err := <-errs:
		s.Shutdown()
		if err != nil {
			return fmt.Errorf("fatal error: %w", err)
		}
	case <-s.sig:
		s.Shutdown()
	}
	return nil
}

// Start connects to NATS and brings up the engine, API and health server without blocking.
// Failures of the health server after startup are sent to errs if it is not nil.
func (s *Server) Start(ctx context.Context, errs chan<- error) error {
	shutdownTelemetry, err := telemetry.Setup(s.options.TelemetryExporter)
	if err != nil {
		return fmt.Errorf("set up telemetry: %w", err)
	}
	s.shutdownTelemetry = shutdownTelemetry

	if s.options.HealthServiceEnabled {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.options.GrpcPort))
		if err != nil {
			return fmt.Errorf("listen on grpc port %d: %w", s.options.GrpcPort, err)
		}
		s.grpcAddr = lis.Addr()
		s.grpcServer = gogrpc.NewServer()
		grpcHealth.RegisterHealthServer(s.grpcServer, s.healthService)
		go func() {
			if err := s.grpcServer.Serve(lis); err != nil && errs != nil {
				errs <- err
			}
		}()
		slog.Info("grpc health started", "addr", s.grpcAddr.String())
	}

	nc, err := s.ConnectNats(ctx, s.options.NatsUrl, s.options.EphemeralStorage)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	ns, err := natz.NewNatsService(ctx, nc)
	if err != nil {
		return fmt.Errorf("create nats service: %w", err)
	}

	storeOpts := storage.Options{
		Retention:   s.options.Retention,
		ConsumerAck: s.options.ConsumerAckWait,
		Telemetry:   s.options.TelemetryConfig,
	}
	if s.options.ArchivePath != "" {
		a, err := archive.Open(s.options.ArchivePath)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		s.archive = a
		storeOpts.Archive = a
	}

	eng, err := workflow.New(ctx, ns, workflow.Options{GuardTimeout: s.options.GuardTimeout, Storage: storeOpts})
	if err != nil {
		return fmt.Errorf("create workflow engine: %w", err)
	}
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start workflow engine: %w", err)
	}
	s.conditionsMx.Lock()
	for name, fn := range s.conditions {
		if err := eng.RegisterCondition(name, fn); err != nil {
			s.conditionsMx.Unlock()
			return fmt.Errorf("register condition %s: %w", name, err)
		}
	}
	s.engine = eng
	s.conditionsMx.Unlock()

	a, err := api.New(eng, nc.Conn, s.options)
	if err != nil {
		return fmt.Errorf("create api: %w", err)
	}
	s.api = a
	if err := s.api.Listen(); err != nil {
		return fmt.Errorf("start api: %w", err)
	}
	s.healthService.SetStatus(grpcHealth.HealthCheckResponse_SERVING)
	return nil
}

// Shutdown stops the API, the engine and the health server, then closes the NATS connections.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.healthService.SetStatus(grpcHealth.HealthCheckResponse_NOT_SERVING)
		if s.api != nil {
			s.api.Shutdown()
		}
		if s.engine != nil {
			s.engine.Shutdown()
		}
		if s.archive != nil {
			if err := s.archive.Close(); err != nil {
				slog.Warn("close archive", "error", err)
			}
		}
		for _, c := range s.conns {
			c.Close()
		}
		if s.grpcServer != nil {
			s.grpcServer.GracefulStop()
			slog.Info("grpc health stopped")
		}
		if s.shutdownTelemetry != nil {
			if err := s.shutdownTelemetry(context.Background()); err != nil {
				slog.Warn("shut down telemetry", "error", err)
			}
		}
	})
}

// GetEndPoint returns the address of the gRPC health endpoint.
func (s *Server) GetEndPoint() string {
	if s.grpcAddr == nil {
		return ""
	}
	return s.grpcAddr.String()
}

// ConnectNats establishes the NATS connections used by the engine.
// A second connection carries JetStream publishes so that slow consumers on the first cannot delay writes.
func (s *Server) ConnectNats(ctx context.Context, natsURL string, ephemeral bool) (*natz.NatsConnConfiguration, error) {
	conn, err := nats.Connect(natsURL, s.options.NatsConnOptions...)
	if err != nil {
		slog.Error("connect to NATS", slog.String("error", err.Error()), slog.String("url", natsURL))
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	s.conns = append(s.conns, conn)
	txConn, err := nats.Connect(natsURL, s.options.NatsConnOptions...)
	if err != nil {
		slog.Error("connect to NATS", slog.String("error", err.Error()), slog.String("url", natsURL))
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	s.conns = append(s.conns, txConn)
	if err := common.CheckVersion(ctx, txConn); err != nil {
		return nil, fmt.Errorf("check NATS version: %w", err)
	}
	store := jetstream.FileStorage
	if ephemeral {
		store = jetstream.MemoryStorage
	}
	return &natz.NatsConnConfiguration{
		Conn:            conn,
		TxConn:          txConn,
		StorageType:     store,
		JetStreamDomain: s.options.JetStreamDomain,
		NatsConfig:      s.options.NatsConfig,
	}, nil
}

// Ready returns true if the engine is servicing API calls.
func (s *Server) Ready() bool {
	return s.healthService.GetStatus() == grpcHealth.HealthCheckResponse_SERVING
}
