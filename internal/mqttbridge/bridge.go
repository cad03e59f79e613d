// Package mqttbridge mirrors a Gree appliance onto MQTT topics.
//
// Topics, relative to <prefix>/<device>:
//
//	availability       "online" or "offline" (retained)
//	state              JSON object of all known properties (retained)
//	<property>         single property value (retained)
//	error              last session error (not retained)
//	set                JSON object of properties to change
//	<property>/set     single property value to change
package mqttbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/edgeo/drivers/gree/gree"
)

// DefaultTopicPrefix is the topic root used when none is configured.
const DefaultTopicPrefix = "gree"

const (
	payloadOnline  = "online"
	payloadOffline = "offline"
)

// setQueueSize bounds the set requests waiting for the device.
const setQueueSize = 16

// setRequest is a decoded set message waiting to be applied.
type setRequest struct {
	topic string
	props gree.Properties
}

// Broker is the subset of an MQTT client used by the bridge.
type Broker interface {
	Publish(topic string, payload []byte, retained bool) error
	Subscribe(topic string, handler func(topic string, payload []byte)) error
}

// Device is the appliance side of the bridge. *gree.Client implements it.
type Device interface {
	Events() <-chan gree.Event
	Properties() gree.Properties
	SetProperties(ctx context.Context, props gree.Properties) error
}

// Config configures a Bridge.
type Config struct {
	// TopicPrefix is the topic root; DefaultTopicPrefix when empty.
	TopicPrefix string
	// DeviceName is the topic segment identifying the appliance.
	DeviceName string
	Logger     *slog.Logger
}

// Bridge publishes device events and applies set requests.
type Bridge struct {
	broker Broker
	device Device
	base   string
	logger *slog.Logger

	requests chan setRequest
}

// New creates a bridge. Nothing is published until Run.
func New(broker Broker, device Device, cfg Config) (*Bridge, error) {
	if cfg.DeviceName == "" {
		return nil, errors.New("mqttbridge: device name is required")
	}
	if strings.ContainsAny(cfg.DeviceName, "/+#") {
		return nil, fmt.Errorf("mqttbridge: invalid device name %q", cfg.DeviceName)
	}
	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Bridge{
		broker: broker,
		device: device,
		base:   prefix + "/" + cfg.DeviceName,
		logger: logger.With(slog.String("component", "mqttbridge")),

		requests: make(chan setRequest, setQueueSize),
	}, nil
}

// Topic returns the full topic for a path below the device root.
func (b *Bridge) Topic(path string) string {
	return b.base + "/" + path
}

// Run subscribes to the set topics and forwards device events until ctx is
// done or the event channel is closed. The device is marked offline on
// return.
//
// Set requests are applied one at a time on a separate goroutine, so broker
// callbacks never wait for the device.
func (b *Bridge) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	if err := b.broker.Subscribe(b.Topic("set"), b.handleSet); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.Topic("set"), err)
	}
	if err := b.broker.Subscribe(b.Topic("+/set"), b.handlePropertySet); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.Topic("+/set"), err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		b.applyRequests(runCtx)
	}()

	// Publish what is already known, the client may be bound before Run.
	if props := b.device.Properties(); len(props) > 0 {
		b.publish("availability", []byte(payloadOnline), true)
		b.publishProperties(props, props)
	}

	defer b.publish("availability", []byte(payloadOffline), true)

	events := b.device.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			b.handleEvent(ev)
		}
	}
}

func (b *Bridge) handleEvent(ev gree.Event) {
	switch ev.Type {
	case gree.EventConnected:
		b.publish("availability", []byte(payloadOnline), true)
	case gree.EventDisconnected, gree.EventNoResponse:
		b.publish("availability", []byte(payloadOffline), true)
	case gree.EventUpdate, gree.EventSuccess:
		b.publish("availability", []byte(payloadOnline), true)
		b.publishProperties(ev.Changed, ev.Properties)
	case gree.EventError:
		if ev.Err != nil {
			b.publish("error", []byte(ev.Err.Error()), false)
		}
	}
}

func (b *Bridge) publishProperties(changed, all gree.Properties) {
	for name, v := range changed {
		b.publish(name, []byte(fmt.Sprint(v)), true)
	}
	data, err := json.Marshal(all)
	if err != nil {
		b.logger.Error("encode state", slog.String("error", err.Error()))
		return
	}
	b.publish("state", data, true)
}

func (b *Bridge) publish(path string, payload []byte, retained bool) {
	topic := b.Topic(path)
	if err := b.broker.Publish(topic, payload, retained); err != nil {
		b.logger.Warn("publish failed",
			slog.String("topic", topic),
			slog.String("error", err.Error()),
		)
	}
}

func (b *Bridge) handleSet(topic string, payload []byte) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var props gree.Properties
	if err := dec.Decode(&props); err != nil {
		b.reject(topic, fmt.Errorf("decode payload: %w", err))
		return
	}
	b.enqueue(topic, props)
}

func (b *Bridge) handlePropertySet(topic string, payload []byte) {
	rest := strings.TrimPrefix(topic, b.base+"/")
	name, ok := strings.CutSuffix(rest, "/set")
	if !ok || name == "" || strings.Contains(name, "/") {
		b.reject(topic, fmt.Errorf("unexpected topic"))
		return
	}
	b.enqueue(topic, gree.Properties{name: strings.TrimSpace(string(payload))})
}

// enqueue hands a request to the apply goroutine without blocking.
func (b *Bridge) enqueue(topic string, props gree.Properties) {
	select {
	case b.requests <- setRequest{topic: topic, props: props}:
	default:
		b.reject(topic, errors.New("too many pending set requests"))
	}
}

func (b *Bridge) applyRequests(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-b.requests:
			b.apply(ctx, req.topic, req.props)
		}
	}
}

func (b *Bridge) apply(ctx context.Context, topic string, props gree.Properties) {
	if err := b.device.SetProperties(ctx, props); err != nil {
		b.reject(topic, err)
		return
	}
	b.logger.Debug("set request applied", slog.String("topic", topic), slog.Int("properties", len(props)))
}

func (b *Bridge) reject(topic string, err error) {
	b.logger.Warn("set request rejected",
		slog.String("topic", topic),
		slog.String("error", err.Error()),
	)
	b.publish("error", []byte(err.Error()), false)
}
