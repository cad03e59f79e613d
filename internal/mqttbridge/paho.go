package mqttbridge

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// PahoConfig configures the Paho broker connection.
type PahoConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// WillTopic receives "offline" if the connection drops; empty disables it.
	WillTopic string
	Timeout   time.Duration
	Logger    *slog.Logger
}

// PahoBroker is a Broker backed by the Eclipse Paho client. Subscriptions
// are restored after every reconnect.
type PahoBroker struct {
	client  mqtt.Client
	timeout time.Duration
	logger  *slog.Logger

	mu   sync.Mutex
	subs map[string]mqtt.MessageHandler
}

// DialPaho connects to the broker. Automatic reconnection is enabled.
func DialPaho(cfg PahoConfig) (*PahoBroker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	b := &PahoBroker{
		timeout: timeout,
		logger:  logger,
		subs:    make(map[string]mqtt.MessageHandler),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(timeout)
	if cfg.WillTopic != "" {
		opts.SetWill(cfg.WillTopic, payloadOffline, 0, true)
	}
	opts.SetOnConnectHandler(b.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", slog.String("error", err.Error()))
	})

	b.client = mqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(timeout) {
		b.client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	return b, nil
}

func (b *PahoBroker) onConnect(c mqtt.Client) {
	b.logger.Info("mqtt connected")

	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, h := range b.subs {
		c.Subscribe(topic, 0, h)
	}
}

// Publish sends one message with QoS 0.
func (b *PahoBroker) Publish(topic string, payload []byte, retained bool) error {
	token := b.client.Publish(topic, 0, retained, payload)
	if !token.WaitTimeout(b.timeout) {
		return fmt.Errorf("publish %s: timed out", topic)
	}
	return token.Error()
}

// Subscribe registers handler for topic, which may contain wildcards.
func (b *PahoBroker) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	h := func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	}

	b.mu.Lock()
	b.subs[topic] = h
	b.mu.Unlock()

	token := b.client.Subscribe(topic, 0, h)
	if !token.WaitTimeout(b.timeout) {
		return fmt.Errorf("subscribe %s: timed out", topic)
	}
	return token.Error()
}

// Close disconnects from the broker, waiting up to 250ms for pending work.
func (b *PahoBroker) Close() {
	b.client.Disconnect(250)
}
