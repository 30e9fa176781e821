package mqttconverter

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// MQTTClientConfig holds all necessary configuration for the Paho MQTT client.
// It defines connection parameters, security settings, and the topic subscription for the consumer.
type MQTTClientConfig struct {
	// BrokerURL is the full URL of the MQTT broker to connect to.
	// Example: "tcp://automaatio.cloud.shiftr.io:1883" or "tls://mqtt.example.com:8883"
	BrokerURL string
	// Topic is the subscription filter; "+" and "#" wildcards are allowed.
	Topic string
	// QoS is the subscription quality of service, 0, 1 or 2.
	QoS byte
	// ClientIDPrefix is a prefix for the MQTT client ID. A unique suffix is
	// automatically added to ensure client uniqueness, which is required by most brokers.
	ClientIDPrefix string
	// Username for authenticating with the MQTT broker.
	Username string
	// Password for authenticating with the MQTT broker.
	Password string
	// KeepAlive is the interval at which the client sends keep-alive pings to the broker.
	KeepAlive time.Duration
	// ConnectTimeout is the timeout for a single connection attempt.
	ConnectTimeout time.Duration
	// ReconnectWaitMax is the maximum time to wait between reconnect attempts.
	ReconnectWaitMax time.Duration
	// BufferSize is the capacity of the channel between the Paho callback and the listener.
	BufferSize int
	// CACertFile is an optional path to a CA certificate file for verifying the broker's certificate.
	CACertFile string
	// ClientCertFile is an optional path to a client certificate file for mTLS authentication.
	ClientCertFile string
	// ClientKeyFile is an optional path to a client key file for mTLS authentication.
	ClientKeyFile string
	// InsecureSkipVerify skips TLS certificate verification.
	// This is NOT recommended for production environments.
	InsecureSkipVerify bool
}

// NewMQTTClientConfigDefaults returns a config with the operational defaults
// filled in. Broker and topic still need to be set.
func NewMQTTClientConfigDefaults() *MQTTClientConfig {
	return &MQTTClientConfig{
		QoS:              1,
		ClientIDPrefix:   "sensorbridge-",
		KeepAlive:        60 * time.Second,
		ConnectTimeout:   10 * time.Second,
		ReconnectWaitMax: 120 * time.Second,
		BufferSize:       1000,
	}
}

// BrokerURL builds a Paho broker URL from a host and port.
func BrokerURL(scheme, host string, port int) string {
	if scheme == "" {
		scheme = "tcp"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(host, strconv.Itoa(port)))
}

// Validate reports configuration that can never connect or subscribe.
func (c *MQTTClientConfig) Validate() error {
	if c.BrokerURL == "" {
		return errors.New("MQTT broker URL is required")
	}
	if c.Topic == "" {
		return errors.New("MQTT topic is required")
	}
	if c.QoS > 2 {
		return fmt.Errorf("MQTT QoS must be 0, 1 or 2, got %d", c.QoS)
	}
	if i := strings.Index(c.Topic, "#"); i >= 0 && i != len(c.Topic)-1 {
		return fmt.Errorf("MQTT topic %q: multi-level wildcard must be the last character", c.Topic)
	}
	return nil
}

func (c *MQTTClientConfig) usesTLS() bool {
	u := strings.ToLower(c.BrokerURL)
	return strings.HasPrefix(u, "tls://") || strings.HasPrefix(u, "ssl://") || strings.HasPrefix(u, "mqtts://")
}
