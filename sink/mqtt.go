package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/RyanBlaney/zumbido/detect"
	"github.com/RyanBlaney/zumbido/logging"
)

// MQTTConfig holds broker settings. Topic may contain {device_id} and
// {direction} placeholders.
type MQTTConfig struct {
	Broker   string `mapstructure:"broker" yaml:"broker"`
	ClientID string `mapstructure:"client_id" yaml:"client_id"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	Topic    string `mapstructure:"topic" yaml:"topic"`
	QoS      byte   `mapstructure:"qos" yaml:"qos"`
	Retained bool   `mapstructure:"retained" yaml:"retained"`
}

// Publisher sends one payload to a topic
type Publisher interface {
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
}

// PahoPublisher adapts a connected paho client to Publisher
type PahoPublisher struct {
	client mqtt.Client
}

// ConnectMQTT dials the broker with auto-reconnect enabled
func ConnectMQTT(config MQTTConfig, logger logging.Logger) (*PahoPublisher, error) {
	logger = logging.OrGlobal(logger).WithFields(logging.Fields{
		"component": "mqtt",
		"broker":    config.Broker,
	})

	clientID := config.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("zumbido-%d", time.Now().UnixNano())
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(clientID)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("MQTT connection established")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Error(err, "MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return &PahoPublisher{client: client}, nil
}

func (p *PahoPublisher) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	token := p.client.Publish(topic, qos, retained, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PahoPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}

// MQTT publishes each transition as JSON
type MQTT struct {
	publisher Publisher
	config    MQTTConfig
}

func NewMQTT(publisher Publisher, config MQTTConfig) *MQTT {
	if config.Topic == "" {
		config.Topic = "zumbido/{device_id}/alerts"
	}
	return &MQTT{publisher: publisher, config: config}
}

func (m *MQTT) Name() string {
	return "mqtt"
}

func (m *MQTT) OnAlertRaised(ctx context.Context, event detect.AlertEvent) error {
	return m.publish(ctx, event)
}

func (m *MQTT) OnAlertCleared(ctx context.Context, event detect.AlertEvent) error {
	return m.publish(ctx, event)
}

func (m *MQTT) publish(ctx context.Context, event detect.AlertEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal alert event: %w", err)
	}
	topic := FormatTopic(m.config.Topic, event)
	if err := m.publisher.Publish(ctx, topic, m.config.QoS, m.config.Retained, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Close disconnects the publisher when it owns a connection
func (m *MQTT) Close() error {
	if c, ok := m.publisher.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// FormatTopic fills the {device_id} and {direction} placeholders. Topic
// levels cannot contain '/', '+' or '#', so those are replaced in the id.
func FormatTopic(pattern string, event detect.AlertEvent) string {
	device := event.Device
	if device == "" {
		device = "default"
	}
	device = strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(device)
	return strings.NewReplacer(
		"{device_id}", device,
		"{direction}", string(event.Direction),
	).Replace(pattern)
}
