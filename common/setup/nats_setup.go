package setup

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/hashicorp/go-version"
	"github.com/nats-io/nats.go/jetstream"
	"gitlab.com/circuit-breaker/engine/common/logx"
	cbVersion "gitlab.com/circuit-breaker/engine/common/version"
	"gitlab.com/circuit-breaker/engine/server/messages"
)

// VersionMetadataKey is the stream and consumer metadata entry holding the engine version that last wrote the configuration.
const VersionMetadataKey = "cb_version"

// DefaultLockTTL is used for the lock bucket when the configuration does not set one.
const DefaultLockTTL = 30 * time.Second

//go:embed nats-config.yaml
var defaultConfig string

// DefaultConfig returns the embedded NATS configuration.
func DefaultConfig() string {
	return defaultConfig
}

// NatsConfig is the engine NATS configuration format
type NatsConfig struct {
	Streams  []NatsStream   `json:"streams"`
	KeyValue []NatsKeyValue `json:"buckets"`
}

// NatsKeyValue holds information about a NATS Key-Value store (bucket)
type NatsKeyValue struct {
	Config jetstream.KeyValueConfig `json:"nats-config"`
}

// NatsConsumer holds information about a NATS Consumer
type NatsConsumer struct {
	Config jetstream.ConsumerConfig `json:"nats-config"`
}

// NatsStream holds information about a NATS Stream
type NatsStream struct {
	Config    jetstream.StreamConfig `json:"nats-config"`
	Consumers []NatsConsumer         `json:"nats-consumers"`
}

// ParseConfig parses a YAML NATS configuration.
func ParseConfig(config string) (*NatsConfig, error) {
	cfg := &NatsConfig{}
	if err := yaml.Unmarshal([]byte(config), cfg); err != nil {
		return nil, fmt.Errorf("parse nats-config.yaml: %w", err)
	}
	for i := range cfg.KeyValue {
		if cfg.KeyValue[i].Config.Bucket == messages.KvLock && cfg.KeyValue[i].Config.TTL == 0 {
			cfg.KeyValue[i].Config.TTL = DefaultLockTTL
		}
	}
	return cfg, nil
}

// Nats sets up nats server objects.
func Nats(ctx context.Context, js jetstream.JetStream, storageType jetstream.StorageType, config string, update bool) error {
	cfg, err := ParseConfig(config)
	if err != nil {
		return err
	}
	for _, stream := range cfg.Streams {
		if err := EnsureStream(ctx, js, stream.Config, storageType); err != nil {
			return fmt.Errorf("ensure stream: %w", err)
		}
		for _, consumer := range stream.Consumers {
			if err := EnsureConsumer(ctx, js, stream.Config.Name, consumer.Config, update, storageType); err != nil {
				return fmt.Errorf("ensure consumer: %w", err)
			}
		}
	}
	if err := EnsureBuckets(ctx, cfg, js, storageType); err != nil {
		return err
	}
	return nil
}

// EnsureConsumer creates a new consumer recording the current semantic version number in its metadata.  If the consumer exists and has a previous version, it is updated.
func EnsureConsumer(ctx context.Context, js jetstream.JetStream, streamName string, consumerConfig jetstream.ConsumerConfig, update bool, storageType jetstream.StorageType) error {
	consumerConfig.MemoryStorage = storageType == jetstream.MemoryStorage
	if consumerConfig.Metadata == nil {
		consumerConfig.Metadata = make(map[string]string)
	}
	consumerConfig.Metadata[VersionMetadataKey] = cbVersion.Version

	existingConsumer, err := js.Consumer(ctx, streamName, consumerConfig.Durable)
	if errors.Is(err, jetstream.ErrConsumerNotFound) {
		if _, err := js.CreateConsumer(ctx, streamName, consumerConfig); err != nil {
			return fmt.Errorf("cannot ensure consumer '%s' with subject '%s' : %w", consumerConfig.Durable, consumerConfig.FilterSubject, err)
		}
		return nil
	} else if err != nil {
		return fmt.Errorf("consumer exists: %w", err)
	}
	if !update {
		return nil
	}
	consumerInfo, err := existingConsumer.Info(ctx)
	if err != nil {
		return fmt.Errorf("get existing consumer info: %w", err)
	}
	if requiresUpgrade(consumerInfo.Config.Metadata[VersionMetadataKey], cbVersion.Version) {
		if _, err := js.UpdateConsumer(ctx, streamName, consumerConfig); err != nil {
			return fmt.Errorf("ensure stream couldn't update the consumer configuration for %s: %w", consumerConfig.Durable, err)
		}
	}
	return nil
}

// EnsureStream creates a new stream recording the current semantic version number in its metadata.  If the stream exists and has a previous version, it is updated.
func EnsureStream(ctx context.Context, js jetstream.JetStream, streamConfig jetstream.StreamConfig, storageType jetstream.StorageType) error {
	streamConfig.Storage = storageType
	if streamConfig.Metadata == nil {
		streamConfig.Metadata = make(map[string]string)
	}
	streamConfig.Metadata[VersionMetadataKey] = cbVersion.Version

	stream, err := js.Stream(ctx, streamConfig.Name)
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		if _, err := js.CreateStream(ctx, streamConfig); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		return nil
	} else if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}
	streamInfo, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("get stream info: %w", err)
	}
	if requiresUpgrade(streamInfo.Config.Metadata[VersionMetadataKey], cbVersion.Version) {
		logx.FromContext(ctx).Info("upgrading stream", slog.String("stream", streamConfig.Name), slog.String("from", streamInfo.Config.Metadata[VersionMetadataKey]))
		if _, err := js.UpdateStream(ctx, streamConfig); err != nil {
			return fmt.Errorf("ensure stream updating stream configuration: %w", err)
		}
	}
	return nil
}

// EnsureBuckets creates a list of buckets if they do not exist
func EnsureBuckets(ctx context.Context, cfg *NatsConfig, js jetstream.JetStream, storageType jetstream.StorageType) error {
	for i := range cfg.KeyValue {
		if err := EnsureBucket(ctx, js, cfg.KeyValue[i].Config, storageType); err != nil {
			return fmt.Errorf("ensure key-value: %w", err)
		}
	}
	return nil
}

// EnsureBucket creates a bucket if it does not exist
func EnsureBucket(ctx context.Context, js jetstream.JetStream, cfg jetstream.KeyValueConfig, storageType jetstream.StorageType) error {
	cfg.Storage = storageType
	if _, err := js.KeyValue(ctx, cfg.Bucket); errors.Is(err, jetstream.ErrBucketNotFound) {
		if _, err := js.CreateKeyValue(ctx, cfg); err != nil {
			return fmt.Errorf("ensure buckets: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("obtain bucket: %w", err)
	}
	return nil
}

// requiresUpgrade compares the version recorded on an existing JetStream object with the running version and returns true if the object is older.
func requiresUpgrade(recorded string, newVersion string) bool {
	if recorded == "" {
		return true
	}
	v1, err := version.NewVersion(recorded)
	if err != nil {
		return true
	}
	v2, err := version.NewVersion(newVersion)
	if err != nil {
		return true
	}
	return v2.GreaterThan(v1)
}
