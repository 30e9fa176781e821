package mqttconverter

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-sensorbridge/pkg/messagepipeline"
	"github.com/rs/zerolog"
)

// ClientFactory builds the Paho client from the assembled options. Tests
// replace it to avoid a real broker.
type ClientFactory func(opts *mqtt.ClientOptions) mqtt.Client

// MqttConsumer implements the messagepipeline.MessageConsumer interface for an MQTT source.
type MqttConsumer struct {
	pahoClient mqtt.Client
	newClient  ClientFactory
	logger     zerolog.Logger
	mqttCfg    *MQTTClientConfig

	outputChan chan messagepipeline.Message
	doneChan   chan struct{}
	stopping   chan struct{}
	stopOnce   sync.Once

	// mu guards closed; the Paho callback holds the read lock while sending
	// so Stop never closes outputChan under it.
	mu     sync.RWMutex
	closed bool
}

// NewMqttConsumer creates a new MqttConsumer. It does not connect until Start
// is called. A nil factory uses mqtt.NewClient.
func NewMqttConsumer(cfg *MQTTClientConfig, logger zerolog.Logger, factory ClientFactory) (*MqttConsumer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MQTT client config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		factory = mqtt.NewClient
	}
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &MqttConsumer{
		newClient:  factory,
		logger:     logger.With().Str("component", "MqttConsumer").Str("topic", cfg.Topic).Logger(),
		mqttCfg:    cfg,
		outputChan: make(chan messagepipeline.Message, bufferSize),
		doneChan:   make(chan struct{}),
		stopping:   make(chan struct{}),
	}, nil
}

// Messages returns the read-only channel from which raw messages can be consumed.
func (c *MqttConsumer) Messages() <-chan messagepipeline.Message {
	return c.outputChan
}

// Start launches the connection logic and begins consuming messages. A failed
// first connection is logged, not returned: Paho keeps retrying in the background.
func (c *MqttConsumer) Start(ctx context.Context) error {
	opts, err := c.createMqttOptions()
	if err != nil {
		return err
	}
	c.pahoClient = c.newClient(opts)

	c.logger.Info().Str("broker", c.mqttCfg.BrokerURL).Msg("Attempting to connect to MQTT broker...")
	token := c.pahoClient.Connect()
	if !token.WaitTimeout(c.mqttCfg.ConnectTimeout) {
		c.logger.Warn().Msg("MQTT connection not established yet, the Paho client keeps retrying in the background.")
	} else if token.Error() != nil {
		c.logger.Error().Err(token.Error()).Msg("Failed to connect to MQTT broker on startup. The Paho client will continue to retry in the background.")
	} else {
		c.logger.Info().Msg("Initial connection to MQTT broker successful.")
	}

	go func() {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("Shutdown signal received, ensuring consumer is stopped.")
			_ = c.Stop(context.Background())
		case <-c.doneChan:
		}
	}()

	return nil
}

// Stop unsubscribes, disconnects and closes the message channel. Messages
// already buffered stay readable until drained.
func (c *MqttConsumer) Stop(_ context.Context) error {
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping MqttConsumer...")
		close(c.stopping)
		if c.pahoClient != nil {
			if c.pahoClient.IsConnected() {
				if token := c.pahoClient.Unsubscribe(c.mqttCfg.Topic); token.WaitTimeout(2*time.Second) && token.Error() != nil {
					c.logger.Warn().Err(token.Error()).Msg("Failed to unsubscribe from MQTT topic.")
				}
			}
			// Also cancels a connect or reconnect that is still retrying.
			c.pahoClient.Disconnect(500)
			c.logger.Info().Msg("Paho MQTT client disconnected.")
		}

		c.mu.Lock()
		c.closed = true
		close(c.outputChan)
		c.mu.Unlock()

		close(c.doneChan)
		c.logger.Info().Msg("MqttConsumer stopped.")
	})
	return nil
}

// Done returns a channel that is closed when the consumer has fully stopped.
func (c *MqttConsumer) Done() <-chan struct{} {
	return c.doneChan
}

// IsConnected returns the connection status of the underlying Paho client.
func (c *MqttConsumer) IsConnected() bool {
	return c.pahoClient != nil && c.pahoClient.IsConnected()
}

// handleIncomingMessage is the Paho callback; it copies the delivery onto the
// output channel. It runs on Paho's delivery goroutine, so it never processes
// the payload itself.
func (c *MqttConsumer) handleIncomingMessage(_ mqtt.Client, msg mqtt.Message) {
	c.logger.Debug().Str("msg_topic", msg.Topic()).Msg("Received MQTT message")
	payloadCopy := make([]byte, len(msg.Payload()))
	copy(payloadCopy, msg.Payload())

	consumedMsg := messagepipeline.Message{
		MessageData: messagepipeline.MessageData{
			ID:          strconv.Itoa(int(msg.MessageID())),
			Payload:     payloadCopy,
			PublishTime: time.Now().UTC(),
		},
		Attributes: map[string]string{messagepipeline.AttributeTopic: msg.Topic()},
		// For QoS > 0 the broker ack is handled at the protocol level by Paho.
		Ack:  func() {},
		Nack: func() {},
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		c.logger.Warn().Str("msg_topic", msg.Topic()).Msg("Consumer is stopped, dropping MQTT message.")
		return
	}
	// This runs on Paho's router goroutine (OrderMatters), so a full buffer
	// blocks the network loop until the listener catches up. That is the
	// only backpressure the bridge has; keep BufferSize well above the burst
	// size so a slow store does not starve keepalives.
	select {
	case c.outputChan <- consumedMsg:
	case <-c.stopping:
		c.logger.Warn().Str("msg_topic", msg.Topic()).Msg("Consumer is shutting down, dropping MQTT message.")
	}
}

// onConnect subscribes on every (re)connection, since a clean session loses
// subscriptions when the connection drops.
func (c *MqttConsumer) onConnect(client mqtt.Client) {
	c.logger.Info().Str("broker", c.mqttCfg.BrokerURL).Msg("Paho client connected to MQTT broker.")
	token := client.Subscribe(c.mqttCfg.Topic, c.mqttCfg.QoS, c.handleIncomingMessage)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			c.logger.Error().Msg("Timed out subscribing to MQTT topic.")
			return
		}
		if token.Error() != nil {
			c.logger.Error().Err(token.Error()).Msg("Failed to subscribe to MQTT topic.")
			return
		}
		c.logger.Info().Uint8("qos", c.mqttCfg.QoS).Msg("Successfully subscribed to MQTT topic.")
	}()
}

// createMqttOptions assembles the Paho client options from the config.
func (c *MqttConsumer) createMqttOptions() (*mqtt.ClientOptions, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.mqttCfg.BrokerURL)
	opts.SetClientID(c.mqttCfg.ClientIDPrefix + uuid.NewString()[:8])
	opts.SetUsername(c.mqttCfg.Username)
	opts.SetPassword(c.mqttCfg.Password)
	opts.SetKeepAlive(c.mqttCfg.KeepAlive)
	opts.SetConnectTimeout(c.mqttCfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetMaxReconnectInterval(c.mqttCfg.ReconnectWaitMax)
	opts.SetOrderMatters(true)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.Error().Err(err).Msg("Paho client lost MQTT connection.")
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		c.logger.Warn().Msg("Paho client reconnecting to MQTT broker.")
	})
	opts.SetConnectionAttemptHandler(func(broker *url.URL, tlsCfg *tls.Config) *tls.Config {
		c.logger.Debug().Str("broker", broker.String()).Msg("Paho client attempting connection.")
		return tlsCfg
	})

	if c.mqttCfg.usesTLS() {
		tlsConfig, err := newTLSConfig(c.mqttCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
		c.logger.Info().Msg("TLS configured for MQTT client.")
	}
	return opts, nil
}

// newTLSConfig is a helper to create a tls.Config.
func newTLSConfig(cfg *MQTTClientConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.CACertFile != "" {
		caCert, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert file %s: %w", cfg.CACertFile, err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA cert from %s", cfg.CACertFile)
		}
		tlsConfig.RootCAs = caCertPool
	}
	if cfg.ClientCertFile != "" && cfg.ClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertFile, cfg.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate/key pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}
