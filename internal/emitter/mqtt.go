// Package emitter publishes classification results to an MQTT broker.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"emotion-monitor/internal/events"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second

	// queueSize bounds results waiting for the broker; newer results are
	// dropped when it is full.
	queueSize = 64
)

// Config selects the broker and base topic.
type Config struct {
	Broker   string
	ClientID string
	Topic    string
	QoS      byte
}

// message is the wire payload of one published result.
type message struct {
	SessionID  string             `json:"session_id,omitempty"`
	Channel    string             `json:"channel"`
	Emotion    string             `json:"emotion"`
	Confidence float64            `json:"confidence"`
	Scores     map[string]float64 `json:"probabilities,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

// MQTTEmitter publishes result events to {topic}/{channel}.
type MQTTEmitter struct {
	cfg    Config
	client mqtt.Client
	logger *slog.Logger
	queue  chan events.Event

	mu        sync.RWMutex
	published map[string]uint64
	errors    uint64
	connected bool
}

// NewMQTTEmitter creates an emitter; call Connect before publishing.
func NewMQTTEmitter(cfg Config, logger *slog.Logger) *MQTTEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTEmitter{
		cfg:       cfg,
		logger:    logger.With("component", "emitter"),
		queue:     make(chan events.Event, queueSize),
		published: make(map[string]uint64),
	}
}

// NewMQTTEmitterForTests wires an already connected client.
func NewMQTTEmitterForTests(cfg Config, client mqtt.Client) *MQTTEmitter {
	e := NewMQTTEmitter(cfg, nil)
	e.client = client
	e.connected = true
	return e
}

// Connect establishes the broker connection with automatic reconnect.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	broker := e.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		e.setConnected(true)
		e.logger.Info("mqtt connection established", "broker", broker, "client_id", e.cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.setConnected(false)
		e.logger.Warn("mqtt connection lost, will auto-reconnect", "broker", broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	e.mu.Lock()
	e.client = client
	e.mu.Unlock()

	e.logger.Info("connecting to mqtt broker", "broker", broker)
	token := client.Connect()
	select {
	case <-token.Done():
	case <-time.After(connectTimeout):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

// Handle queues result events for Run and ignores the rest. It is meant to
// be subscribed to the session event bus and never waits on the broker.
func (e *MQTTEmitter) Handle(event events.Event) {
	if event.Type != events.TypeResult || event.Result == nil {
		return
	}
	select {
	case e.queue <- event:
	default:
		e.countError()
		e.logger.Warn("result queue full, dropping", "channel", event.Channel, "seq", event.Seq)
	}
}

// Run publishes queued results until ctx is done.
func (e *MQTTEmitter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-e.queue:
			if err := e.Publish(event); err != nil {
				e.logger.Warn("publish result", "channel", event.Channel, "error", err)
			}
		}
	}
}

// Publish sends one result event.
func (e *MQTTEmitter) Publish(event events.Event) error {
	if event.Result == nil {
		return fmt.Errorf("event %d carries no result", event.Seq)
	}
	if !e.isConnected() {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}

	result := event.Result
	topic := fmt.Sprintf("%s/%s", strings.TrimRight(e.cfg.Topic, "/"), result.Channel)
	payload, err := json.Marshal(message{
		SessionID:  event.SessionID,
		Channel:    string(result.Channel),
		Emotion:    result.Label,
		Confidence: result.Confidence,
		Scores:     result.Distribution,
		Timestamp:  result.ReceivedAt,
	})
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	e.mu.RLock()
	client := e.client
	e.mu.RUnlock()

	token := client.Publish(topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	e.logger.Debug("result published", "topic", topic, "size", len(payload))
	return nil
}

// Disconnect closes the broker connection.
func (e *MQTTEmitter) Disconnect() {
	e.mu.Lock()
	client := e.client
	e.connected = false
	e.mu.Unlock()

	if client != nil && client.IsConnected() {
		client.Disconnect(250)
		e.logger.Info("mqtt disconnected")
	}
}

// Stats contains emitter statistics.
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

// Stats returns emitter statistics.
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{Connected: e.connected, Published: published, Errors: e.errors}
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected && e.client != nil
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = v
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errors++
}
