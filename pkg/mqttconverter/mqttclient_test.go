package mqttconverter_test

import (
	"testing"
	"time"

	"github.com/illmade-knight/go-sensorbridge/pkg/mqttconverter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMQTTClientConfigDefaults(t *testing.T) {
	cfg := mqttconverter.NewMQTTClientConfigDefaults()
	require.NotNil(t, cfg)
	assert.Equal(t, 60*time.Second, cfg.KeepAlive)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, byte(1), cfg.QoS)
	assert.Equal(t, "sensorbridge-", cfg.ClientIDPrefix)
	assert.Equal(t, 1000, cfg.BufferSize)
}

func TestBrokerURL(t *testing.T) {
	assert.Equal(t, "tcp://automaatio.cloud.shiftr.io:1883", mqttconverter.BrokerURL("", "automaatio.cloud.shiftr.io", 1883))
	assert.Equal(t, "tls://broker:8883", mqttconverter.BrokerURL("tls", "broker", 8883))
}

func TestMQTTClientConfig_Validate(t *testing.T) {
	valid := func() *mqttconverter.MQTTClientConfig {
		cfg := mqttconverter.NewMQTTClientConfigDefaults()
		cfg.BrokerURL = "tcp://localhost:1883"
		cfg.Topic = "sensors/#"
		return cfg
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("missing broker", func(t *testing.T) {
		cfg := valid()
		cfg.BrokerURL = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("missing topic", func(t *testing.T) {
		cfg := valid()
		cfg.Topic = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad qos", func(t *testing.T) {
		cfg := valid()
		cfg.QoS = 3
		assert.Error(t, cfg.Validate())
	})

	t.Run("wildcard not last", func(t *testing.T) {
		cfg := valid()
		cfg.Topic = "sensors/#/temp"
		assert.Error(t, cfg.Validate())
	})
}
