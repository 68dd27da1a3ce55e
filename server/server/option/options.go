package option

import (
	"time"

	version2 "github.com/hashicorp/go-version"
	"github.com/nats-io/nats.go"
	"gitlab.com/circuit-breaker/engine/common/setup"
	"gitlab.com/circuit-breaker/engine/common/telemetry"
)

// ServerOptions contains settings that control various aspects of engine operation and behaviour
type ServerOptions struct {
	PanicRecovery        bool
	Concurrency          int
	HealthServiceEnabled bool
	EngineVersion        *version2.Version
	NatsUrl              string
	GrpcPort             int
	TelemetryConfig      telemetry.Config
	TelemetryExporter    string
	ShowSplash           bool
	JetStreamDomain      string
	NatsConnOptions      []nats.Option
	EphemeralStorage     bool
	GuardTimeout         time.Duration
	Retention            setup.Retention
	ConsumerAckWait      time.Duration
	ArchivePath          string
	NatsConfig           string
}

// Option represents an engine server option
type Option interface {
	Configure(serverOptions *ServerOptions)
}

// PanicRecovery enables or disables the engine's ability to recover from API handler panics.
// This is on by default, and disabling it is not recommended for production use.
func PanicRecovery(enabled bool) panicOption { //nolint
	return panicOption{value: enabled}
}

type panicOption struct{ value bool }

func (o panicOption) Configure(serverOptions *ServerOptions) {
	serverOptions.PanicRecovery = o.value
}

// Concurrency specifies the number of API requests handled at once by each listener.
func Concurrency(n int) concurrencyOption { //nolint
	return concurrencyOption{value: n}
}

type concurrencyOption struct{ value int }

func (o concurrencyOption) Configure(serverOptions *ServerOptions) {
	serverOptions.Concurrency = o.value
}

// WithNoHealthServer disables the gRPC health server.
func WithNoHealthServer() noHealthServerOption { //nolint
	return noHealthServerOption{}
}

type noHealthServerOption struct{}

func (o noHealthServerOption) Configure(serverOptions *ServerOptions) {
	serverOptions.HealthServiceEnabled = false
}

// WithEngineVersion instructs the engine to claim it is a specific version.
func WithEngineVersion(version *version2.Version) engineVersionOption { //nolint
	return engineVersionOption{version: version}
}

type engineVersionOption struct {
	version *version2.Version
}

func (o engineVersionOption) Configure(serverOptions *ServerOptions) {
	serverOptions.EngineVersion = o.version
}

// NatsUrl specifies the nats URL to connect to
func NatsUrl(url string) natsUrlOption { //nolint
	return natsUrlOption{value: url}
}

type natsUrlOption struct{ value string }

func (o natsUrlOption) Configure(serverOptions *ServerOptions) {
	serverOptions.NatsUrl = o.value
}

// NatsConnOptions passes additional options to the NATS connections.
func NatsConnOptions(opts ...nats.Option) natsConnOption { //nolint
	return natsConnOption{value: opts}
}

type natsConnOption struct{ value []nats.Option }

func (o natsConnOption) Configure(serverOptions *ServerOptions) {
	serverOptions.NatsConnOptions = append(serverOptions.NatsConnOptions, o.value...)
}

// GrpcPort specifies the port healthcheck is listening on
func GrpcPort(port int) grpcPortOption { //nolint
	return grpcPortOption{value: port}
}

type grpcPortOption struct{ value int }

func (o grpcPortOption) Configure(serverOptions *ServerOptions) {
	serverOptions.GrpcPort = o.value
}

// WithTelemetryExporter selects the span exporter. "console" writes spans to stdout.
func WithTelemetryExporter(exporter string) telemetryExporterOption { //nolint
	return telemetryExporterOption{exporter: exporter}
}

type telemetryExporterOption struct {
	exporter string
}

func (o telemetryExporterOption) Configure(serverOptions *ServerOptions) {
	serverOptions.TelemetryExporter = o.exporter
	serverOptions.TelemetryConfig = telemetry.Config{Enabled: o.exporter != ""}
}

// WithShowSplash specifies whether to show a splash screen on engine startup.
func WithShowSplash() showSplashOption {
	return showSplashOption{showSplash: true}
}

type showSplashOption struct {
	showSplash bool
}

func (o showSplashOption) Configure(serverOptions *ServerOptions) {
	serverOptions.ShowSplash = o.showSplash
}

// WithJetStreamDomain specifies the JetStream domain to use.
func WithJetStreamDomain(jsDomain string) jetStreamDomainOption { //nolint
	return jetStreamDomainOption{value: jsDomain}
}

type jetStreamDomainOption struct{ value string }

func (o jetStreamDomainOption) Configure(serverOptions *ServerOptions) {
	serverOptions.JetStreamDomain = o.value
}

// EphemeralStorage keeps every stream and bucket in memory.
func EphemeralStorage() ephemeralStorageOption { //nolint
	return ephemeralStorageOption{}
}

type ephemeralStorageOption struct{}

func (o ephemeralStorageOption) Configure(serverOptions *ServerOptions) {
	serverOptions.EphemeralStorage = true
}

// GuardTimeout bounds the evaluation of the guard conditions of one activity.
func GuardTimeout(d time.Duration) guardTimeoutOption { //nolint
	return guardTimeoutOption{value: d}
}

type guardTimeoutOption struct{ value time.Duration }

func (o guardTimeoutOption) Configure(serverOptions *ServerOptions) {
	serverOptions.GuardTimeout = o.value
}

// StreamRetention bounds every workflow event stream.
func StreamRetention(r setup.Retention) retentionOption { //nolint
	return retentionOption{value: r}
}

type retentionOption struct{ value setup.Retention }

func (o retentionOption) Configure(serverOptions *ServerOptions) {
	serverOptions.Retention = o.value
}

// ConsumerAckWait sets how long the projection consumers wait for an acknowledgement.
func ConsumerAckWait(d time.Duration) ackWaitOption { //nolint
	return ackWaitOption{value: d}
}

type ackWaitOption struct{ value time.Duration }

func (o ackWaitOption) Configure(serverOptions *ServerOptions) {
	serverOptions.ConsumerAckWait = o.value
}

// WithArchive keeps a copy of every event in a SQLite database at path.
func WithArchive(path string) archiveOption { //nolint
	return archiveOption{value: path}
}

type archiveOption struct{ value string }

func (o archiveOption) Configure(serverOptions *ServerOptions) {
	serverOptions.ArchivePath = o.value
}

// WithNatsConfig replaces the embedded declaration of the static JetStream objects.
func WithNatsConfig(config string) natsConfigOption { //nolint
	return natsConfigOption{value: config}
}

type natsConfigOption struct{ value string }

func (o natsConfigOption) Configure(serverOptions *ServerOptions) {
	serverOptions.NatsConfig = o.value
}
