package config

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ConfigFileEnv names the variable holding the YAML file path when no path
// is passed to Load.
const ConfigFileEnv = "BRIDGE_CONFIG"

// envKeys maps environment variables to config keys. MQTT_USER, MQTT_PASS,
// MONGO_URI and PORT keep the names existing deployments already set.
var envKeys = map[string]string{
	"LOG_LEVEL":        "log_level",
	"LOG_FORMAT":       "log_format",
	"SHUTDOWN_TIMEOUT": "shutdown_timeout",

	"TRANSPORT_KIND": "transport.kind",

	"MQTT_SCHEME":               "mqtt.scheme",
	"MQTT_HOST":                 "mqtt.host",
	"MQTT_PORT":                 "mqtt.port",
	"MQTT_TOPIC":                "mqtt.topic",
	"MQTT_QOS":                  "mqtt.qos",
	"MQTT_USER":                 "mqtt.username",
	"MQTT_PASS":                 "mqtt.password",
	"MQTT_CLIENT_ID_PREFIX":     "mqtt.client_id_prefix",
	"MQTT_KEEPALIVE":            "mqtt.keep_alive",
	"MQTT_CONNECT_TIMEOUT":      "mqtt.connect_timeout",
	"MQTT_BUFFER_SIZE":          "mqtt.buffer_size",
	"MQTT_CA_CERT_FILE":         "mqtt.ca_cert_file",
	"MQTT_CLIENT_CERT_FILE":     "mqtt.client_cert_file",
	"MQTT_CLIENT_KEY_FILE":      "mqtt.client_key_file",
	"MQTT_INSECURE_SKIP_VERIFY": "mqtt.insecure_skip_verify",

	"PUBSUB_SUBSCRIPTION_ID": "pubsub.subscription_id",

	"GCP_PROJECT_ID":       "gcp.project_id",
	"GCP_CREDENTIALS_FILE": "gcp.credentials_file",

	"STORE_KIND":            "store.kind",
	"MONGO_URI":             "mongo.uri",
	"MONGO_APP_NAME":        "mongo.app_name",
	"MONGO_CONNECT_TIMEOUT": "mongo.connect_timeout",
	"FIRESTORE_DATABASE_ID": "firestore.database_id",

	"DESTINATION_MODE":  "destination.mode",
	"DEFAULT_DB_NAME":   "destination.default_database",
	"DEFAULT_COLL_NAME": "destination.default_collection",
	"DATETIME_FIELD":    "pipeline.datetime_field",
	"TIMESTAMP_FIELD":   "pipeline.timestamp_field",
	"PERSIST_TIMEOUT":   "pipeline.persist_timeout",
	"DEADLETTER_BUCKET": "deadletter.bucket",
	"DEADLETTER_PREFIX": "deadletter.prefix",
	"DEADLETTER_TOPIC":  "deadletter.topic",
	"PORT":              "http.port",
	"METRICS_PORT":      "http.metrics_port",
}

// Load builds a Config by layering, from low to high precedence:
//  1. Default()
//  2. the YAML file at path, or at $BRIDGE_CONFIG when path is empty
//  3. the environment variables listed in envKeys
//
// The result is validated.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = os.Getenv(ConfigFileEnv)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider("", ".", func(s string) string {
		return envKeys[s]
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
