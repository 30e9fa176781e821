// Package config builds the bridge configuration once at startup. Values
// are layered defaults, then an optional YAML file, then environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/illmade-knight/go-sensorbridge/pkg/ingestion"
)

const (
	TransportMQTT   = "mqtt"
	TransportPubSub = "pubsub"

	StoreMongo     = "mongo"
	StoreFirestore = "firestore"
)

// Config is the complete runtime configuration.
type Config struct {
	LogLevel        string        `koanf:"log_level"`
	LogFormat       string        `koanf:"log_format"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	Transport   TransportConfig   `koanf:"transport"`
	MQTT        MQTTConfig        `koanf:"mqtt"`
	PubSub      PubSubConfig      `koanf:"pubsub"`
	GCP         GCPConfig         `koanf:"gcp"`
	Store       StoreConfig       `koanf:"store"`
	Mongo       MongoConfig       `koanf:"mongo"`
	Firestore   FirestoreConfig   `koanf:"firestore"`
	Destination DestinationConfig `koanf:"destination"`
	Pipeline    PipelineConfig    `koanf:"pipeline"`
	DeadLetter  DeadLetterConfig  `koanf:"deadletter"`
	HTTP        HTTPConfig        `koanf:"http"`
}

type TransportConfig struct {
	Kind string `koanf:"kind"`
}

type MQTTConfig struct {
	Scheme             string        `koanf:"scheme"`
	Host               string        `koanf:"host"`
	Port               int           `koanf:"port"`
	Topic              string        `koanf:"topic"`
	QoS                int           `koanf:"qos"`
	Username           string        `koanf:"username"`
	Password           string        `koanf:"password"`
	ClientIDPrefix     string        `koanf:"client_id_prefix"`
	KeepAlive          time.Duration `koanf:"keep_alive"`
	ConnectTimeout     time.Duration `koanf:"connect_timeout"`
	BufferSize         int           `koanf:"buffer_size"`
	CACertFile         string        `koanf:"ca_cert_file"`
	ClientCertFile     string        `koanf:"client_cert_file"`
	ClientKeyFile      string        `koanf:"client_key_file"`
	InsecureSkipVerify bool          `koanf:"insecure_skip_verify"`
}

type PubSubConfig struct {
	SubscriptionID string `koanf:"subscription_id"`
}

// GCPConfig is shared by the Pub/Sub, Firestore and Cloud Storage clients.
type GCPConfig struct {
	ProjectID       string `koanf:"project_id"`
	CredentialsFile string `koanf:"credentials_file"`
}

type StoreConfig struct {
	Kind string `koanf:"kind"`
}

type MongoConfig struct {
	URI            string        `koanf:"uri"`
	AppName        string        `koanf:"app_name"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
}

type FirestoreConfig struct {
	DatabaseID string `koanf:"database_id"`
}

type DestinationConfig struct {
	Mode              string `koanf:"mode"`
	DefaultDatabase   string `koanf:"default_database"`
	DefaultCollection string `koanf:"default_collection"`
}

// PipelineConfig tunes normalization and persistence. An empty
// TimestampField disables the legacy timestamp key.
type PipelineConfig struct {
	DateTimeField  string        `koanf:"datetime_field"`
	TimestampField string        `koanf:"timestamp_field"`
	PersistTimeout time.Duration `koanf:"persist_timeout"`
}

// DeadLetterConfig enables the GCS archive when Bucket is set and the
// Pub/Sub publisher when Topic is set. Both may be used at once.
type DeadLetterConfig struct {
	Bucket string `koanf:"bucket"`
	Prefix string `koanf:"prefix"`
	Topic  string `koanf:"topic"`
}

// HTTPConfig holds the liveness port and the optional metrics port.
type HTTPConfig struct {
	Port        string `koanf:"port"`
	MetricsPort string `koanf:"metrics_port"`
}

// Default returns the configuration used when nothing is overridden. The
// broker, topic and destination match the deployment the bridge replaced.
func Default() *Config {
	return &Config{
		LogLevel:        "info",
		LogFormat:       "json",
		ShutdownTimeout: 15 * time.Second,
		Transport:       TransportConfig{Kind: TransportMQTT},
		MQTT: MQTTConfig{
			Scheme:         "tcp",
			Host:           "automaatio.cloud.shiftr.io",
			Port:           1883,
			Topic:          "automaatio",
			QoS:            1,
			ClientIDPrefix: "sensorbridge-",
			KeepAlive:      60 * time.Second,
			ConnectTimeout: 10 * time.Second,
			BufferSize:     1000,
		},
		Store: StoreConfig{Kind: StoreMongo},
		Mongo: MongoConfig{
			AppName:        "sensorbridge",
			ConnectTimeout: 10 * time.Second,
		},
		Destination: DestinationConfig{
			Mode:              string(ingestion.DestinationDefault),
			DefaultDatabase:   "person_counter",
			DefaultCollection: "counts",
		},
		Pipeline: PipelineConfig{
			DateTimeField:  ingestion.RawFieldDateTime,
			TimestampField: ingestion.FieldTimestamp,
			PersistTimeout: 10 * time.Second,
		},
		DeadLetter: DeadLetterConfig{Prefix: "deadletter"},
		HTTP:       HTTPConfig{Port: "10000"},
	}
}

// Validate reports settings the bridge cannot start with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Transport.Kind {
	case TransportMQTT:
		if c.MQTT.Host == "" {
			errs = append(errs, errors.New("mqtt.host must not be empty"))
		}
		if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
			errs = append(errs, fmt.Errorf("mqtt.port out of range: %d", c.MQTT.Port))
		}
		if c.MQTT.Topic == "" {
			errs = append(errs, errors.New("mqtt.topic must not be empty"))
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
		}
		if c.MQTT.BufferSize <= 0 {
			errs = append(errs, errors.New("mqtt.buffer_size must be positive"))
		}
	case TransportPubSub:
		if c.GCP.ProjectID == "" {
			errs = append(errs, errors.New("gcp.project_id is required for the pubsub transport"))
		}
		if c.PubSub.SubscriptionID == "" {
			errs = append(errs, errors.New("pubsub.subscription_id is required for the pubsub transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown transport.kind %q", c.Transport.Kind))
	}

	switch c.Store.Kind {
	case StoreMongo:
		if c.Mongo.URI == "" {
			errs = append(errs, errors.New("mongo.uri is required (MONGO_URI)"))
		}
	case StoreFirestore:
		if c.GCP.ProjectID == "" {
			errs = append(errs, errors.New("gcp.project_id is required for the firestore store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.kind %q", c.Store.Kind))
	}

	mode, err := ingestion.ParseDestinationMode(c.Destination.Mode)
	if err != nil {
		errs = append(errs, err)
	} else if _, err := ingestion.NewResolver(mode, c.DefaultDestination()); err != nil {
		errs = append(errs, err)
	}

	if c.Pipeline.PersistTimeout <= 0 {
		errs = append(errs, errors.New("pipeline.persist_timeout must be positive"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown_timeout must be positive"))
	}
	if c.HTTP.Port == "" {
		errs = append(errs, errors.New("http.port must not be empty"))
	}
	if (c.DeadLetter.Bucket != "" || c.DeadLetter.Topic != "") && c.GCP.ProjectID == "" {
		errs = append(errs, errors.New("gcp.project_id is required when deadletter.bucket or deadletter.topic is set"))
	}

	return errors.Join(errs...)
}

// DefaultDestination returns the configured fallback destination.
func (c *Config) DefaultDestination() ingestion.Destination {
	return ingestion.Destination{
		Database:   c.Destination.DefaultDatabase,
		Collection: c.Destination.DefaultCollection,
	}
}
