package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v6"
	"gitlab.com/circuit-breaker/engine/common/setup"
	"gitlab.com/circuit-breaker/engine/server/server/option"
)

// Settings is the settings provider for the engine server.
type Settings struct {
	NatsURL           string        `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	LogLevel          string        `env:"LOG_LEVEL" envDefault:"info"`
	LogHandler        string        `env:"LOG_HANDLER" envDefault:"text"`
	Concurrency       int           `env:"CONCURRENCY" envDefault:"6"`
	Port              int           `env:"GRPC_PORT" envDefault:"50000"`
	EphemeralStorage  bool          `env:"EPHEMERAL_STORAGE" envDefault:"false"`
	PanicRecovery     bool          `env:"PANIC_RECOVERY" envDefault:"true"`
	JetStreamDomain   string        `env:"JETSTREAM_DOMAIN"`
	GuardTimeout      time.Duration `env:"GUARD_TIMEOUT" envDefault:"2s"`
	StreamMaxMsgs     int64         `env:"STREAM_MAX_MSGS" envDefault:"0"`
	StreamMaxBytes    int64         `env:"STREAM_MAX_BYTES" envDefault:"0"`
	StreamMaxAge      time.Duration `env:"STREAM_MAX_AGE" envDefault:"0s"`
	StreamDuplicates  time.Duration `env:"STREAM_DUPLICATES" envDefault:"2m"`
	ConsumerAckWait   time.Duration `env:"CONSUMER_ACK_WAIT" envDefault:"30s"`
	ArchivePath       string        `env:"ARCHIVE_PATH"`
	TelemetryEndpoint string        `env:"TELEMETRY_ENDPOINT"`
	ShowSplash        bool          `env:"SHOW_SPLASH" envDefault:"true"`
}

// GetEnvironment pulls the active settings into a settings struct.
func GetEnvironment() (*Settings, error) {
	cfg := &Settings{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment settings: %w", err)
	}
	return cfg, nil
}

// Level returns the slog level named by LogLevel, and whether source locations should be logged.
func (s *Settings) Level() (slog.Level, bool) {
	switch s.LogLevel {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, false
	case "warn":
		return slog.LevelWarn, false
	default:
		return slog.LevelError, false
	}
}

// ServerOptions converts the settings into engine server options.
func (s *Settings) ServerOptions() []option.Option {
	opts := []option.Option{
		option.NatsUrl(s.NatsURL),
		option.Concurrency(s.Concurrency),
		option.GrpcPort(s.Port),
		option.PanicRecovery(s.PanicRecovery),
		option.GuardTimeout(s.GuardTimeout),
		option.ConsumerAckWait(s.ConsumerAckWait),
		option.StreamRetention(setup.Retention{
			MaxMsgs:    s.StreamMaxMsgs,
			MaxBytes:   s.StreamMaxBytes,
			MaxAge:     s.StreamMaxAge,
			Duplicates: s.StreamDuplicates,
		}),
	}
	if s.EphemeralStorage {
		opts = append(opts, option.EphemeralStorage())
	}
	if s.JetStreamDomain != "" {
		opts = append(opts, option.WithJetStreamDomain(s.JetStreamDomain))
	}
	if s.ArchivePath != "" {
		opts = append(opts, option.WithArchive(s.ArchivePath))
	}
	if s.TelemetryEndpoint != "" {
		opts = append(opts, option.WithTelemetryExporter(s.TelemetryEndpoint))
	}
	if s.ShowSplash {
		opts = append(opts, option.WithShowSplash())
	}
	return opts
}
