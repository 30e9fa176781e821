package bridge

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/illmade-knight/go-sensorbridge/pkg/config"
	"github.com/illmade-knight/go-sensorbridge/pkg/deadletter"
	"github.com/illmade-knight/go-sensorbridge/pkg/docstore"
	"github.com/illmade-knight/go-sensorbridge/pkg/ingestion"
	"github.com/illmade-knight/go-sensorbridge/pkg/messagepipeline"
	"github.com/illmade-knight/go-sensorbridge/pkg/mqttconverter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// NewFromConfig connects the store, the optional dead-letter archive and the
// transport described by cfg, then assembles the Service. Anything already
// connected is released if a later step fails.
func NewFromConfig(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (svc *Service, err error) {
	var deps Dependencies
	defer func() {
		if err == nil {
			return
		}
		if deps.Store != nil {
			_ = deps.Store.Close(context.Background())
		}
		for _, closeFn := range deps.Closers {
			_ = closeFn()
		}
	}()

	deps.Store, err = newStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	deps.DeadLetters, err = newDeadLetters(ctx, cfg, logger, &deps)
	if err != nil {
		return nil, err
	}

	deps.Consumer, err = newConsumer(ctx, cfg, logger, &deps)
	if err != nil {
		return nil, err
	}

	deps.Registry = prometheus.NewRegistry()
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return New(cfg, deps, logger)
}

func newStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (docstore.Store, error) {
	switch cfg.Store.Kind {
	case config.StoreMongo:
		client, err := docstore.NewMongoClient(ctx, &docstore.MongoConfig{
			URI:            cfg.Mongo.URI,
			AppName:        cfg.Mongo.AppName,
			ConnectTimeout: cfg.Mongo.ConnectTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return docstore.NewMongoStore(client, logger)
	case config.StoreFirestore:
		client, err := docstore.NewFirestoreClient(ctx, &docstore.FirestoreConfig{
			ProjectID:       cfg.GCP.ProjectID,
			DatabaseID:      cfg.Firestore.DatabaseID,
			CredentialsFile: cfg.GCP.CredentialsFile,
		}, logger)
		if err != nil {
			return nil, err
		}
		return docstore.NewFirestoreStore(client, logger)
	default:
		return nil, fmt.Errorf("unknown store kind %q", cfg.Store.Kind)
	}
}

// newDeadLetters returns nil when no archive is configured.
func newDeadLetters(ctx context.Context, cfg *config.Config, logger zerolog.Logger, deps *Dependencies) (ingestion.DeadLetterSink, error) {
	var sinks deadletter.Sinks
	if cfg.DeadLetter.Bucket != "" {
		gcsClient, err := storage.NewClient(ctx, gcpOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("storage.NewClient: %w", err)
		}
		deps.Closers = append(deps.Closers, gcsClient.Close)
		archiver, err := deadletter.NewGCSArchiver(
			deadletter.NewGCSClientAdapter(gcsClient),
			deadletter.GCSArchiverConfig{BucketName: cfg.DeadLetter.Bucket, ObjectPrefix: cfg.DeadLetter.Prefix},
			logger,
		)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, archiver)
	}
	if cfg.DeadLetter.Topic != "" {
		client, err := pubsub.NewClient(ctx, cfg.GCP.ProjectID, gcpOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("pubsub.NewClient: %w", err)
		}
		publisher, err := deadletter.NewPubsubPublisher(ctx, deadletter.NewPubsubPublisherDefaults(cfg.DeadLetter.Topic), client, logger)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		deps.Closers = append(deps.Closers, func() error {
			publisher.Stop()
			return client.Close()
		})
		sinks = append(sinks, publisher)
	}

	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}

func newConsumer(ctx context.Context, cfg *config.Config, logger zerolog.Logger, deps *Dependencies) (messagepipeline.MessageConsumer, error) {
	switch cfg.Transport.Kind {
	case config.TransportMQTT:
		return mqttconverter.NewMqttConsumer(MQTTClientConfig(cfg), logger, nil)
	case config.TransportPubSub:
		client, err := pubsub.NewClient(ctx, cfg.GCP.ProjectID, gcpOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("pubsub.NewClient: %w", err)
		}
		deps.Closers = append(deps.Closers, client.Close)
		return messagepipeline.NewGooglePubsubConsumer(ctx, messagepipeline.NewGooglePubsubConsumerDefaults(cfg.PubSub.SubscriptionID), client, logger)
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}
}

// MQTTClientConfig maps the mqtt section of cfg onto the Paho consumer config.
func MQTTClientConfig(cfg *config.Config) *mqttconverter.MQTTClientConfig {
	mc := mqttconverter.NewMQTTClientConfigDefaults()
	mc.BrokerURL = mqttconverter.BrokerURL(cfg.MQTT.Scheme, cfg.MQTT.Host, cfg.MQTT.Port)
	mc.Topic = cfg.MQTT.Topic
	mc.QoS = byte(cfg.MQTT.QoS)
	mc.Username = cfg.MQTT.Username
	mc.Password = cfg.MQTT.Password
	if cfg.MQTT.ClientIDPrefix != "" {
		mc.ClientIDPrefix = cfg.MQTT.ClientIDPrefix
	}
	if cfg.MQTT.KeepAlive > 0 {
		mc.KeepAlive = cfg.MQTT.KeepAlive
	}
	if cfg.MQTT.ConnectTimeout > 0 {
		mc.ConnectTimeout = cfg.MQTT.ConnectTimeout
	}
	if cfg.MQTT.BufferSize > 0 {
		mc.BufferSize = cfg.MQTT.BufferSize
	}
	mc.CACertFile = cfg.MQTT.CACertFile
	mc.ClientCertFile = cfg.MQTT.ClientCertFile
	mc.ClientKeyFile = cfg.MQTT.ClientKeyFile
	mc.InsecureSkipVerify = cfg.MQTT.InsecureSkipVerify
	return mc
}

func gcpOptions(cfg *config.Config) []option.ClientOption {
	if cfg.GCP.CredentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(cfg.GCP.CredentialsFile)}
}
