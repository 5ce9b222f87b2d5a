package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"emotion-monitor/internal/domain"
	"emotion-monitor/internal/events"
)

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool { return !t.timeout }

func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic   string
	payload []byte
}

// fakeClient overrides only the calls the emitter makes.
type fakeClient struct {
	mqtt.Client

	mu       sync.Mutex
	messages []published
	token    *fakeToken
	// sent is signalled after each message is recorded; block, when set,
	// holds Publish until closed, like a slow broker.
	sent  chan struct{}
	block chan struct{}
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	c.messages = append(c.messages, published{topic: topic, payload: payload.([]byte)})
	token, sent, block := c.token, c.sent, c.block
	c.mu.Unlock()

	if sent != nil {
		sent <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if token != nil {
		return token
	}
	return &fakeToken{}
}

func (c *fakeClient) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	topics := make([]string, 0, len(c.messages))
	for _, m := range c.messages {
		topics = append(topics, m.topic)
	}
	return topics
}

func (c *fakeClient) IsConnected() bool { return true }

func (c *fakeClient) Disconnect(uint) {}

func resultEvent(ch domain.Channel) events.Event {
	return events.Event{
		SessionID: "s-1",
		Type:      events.TypeResult,
		Channel:   ch,
		Result: &domain.ClassificationResult{
			Channel:      ch,
			Label:        "nervous",
			Confidence:   0.55,
			Distribution: map[string]float64{"nervous": 0.55, "natural": 0.45},
		},
	}
}

// TestPublishResultTopicAndPayload checks the per-channel topic layout.
func TestPublishResultTopicAndPayload(t *testing.T) {
	client := &fakeClient{}
	e := NewMQTTEmitterForTests(Config{Topic: "emotion/results/"}, client)

	if err := e.Publish(resultEvent(domain.ChannelAudio)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(client.messages) != 1 || client.messages[0].topic != "emotion/results/audio" {
		t.Fatalf("messages = %+v", client.messages)
	}

	var got message
	if err := json.Unmarshal(client.messages[0].payload, &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got.SessionID != "s-1" || got.Emotion != "nervous" || got.Scores["natural"] != 0.45 {
		t.Fatalf("payload = %+v", got)
	}
	if stats := e.Stats(); stats.Published["emotion/results/audio"] != 1 || stats.Errors != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

// TestHandleIgnoresNonResults queues only result events.
func TestHandleIgnoresNonResults(t *testing.T) {
	client := &fakeClient{}
	e := NewMQTTEmitterForTests(Config{Topic: "emotion/results"}, client)

	e.Handle(events.Event{Type: events.TypeStatus, Status: "scheduled"})
	e.Handle(resultEvent(domain.ChannelVisual))

	if len(e.queue) != 1 {
		t.Fatalf("queued = %d, want 1", len(e.queue))
	}
	if len(client.messages) != 0 {
		t.Fatalf("Handle published inline: %+v", client.messages)
	}
}

// TestHandleDoesNotWaitForBroker keeps the event bus moving while a publish is stuck.
func TestHandleDoesNotWaitForBroker(t *testing.T) {
	client := &fakeClient{sent: make(chan struct{}, 2), block: make(chan struct{})}
	e := NewMQTTEmitterForTests(Config{Topic: "emotion/results"}, client)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	e.Handle(resultEvent(domain.ChannelVisual))
	<-client.sent

	// The first publish is still waiting on the broker.
	e.Handle(resultEvent(domain.ChannelAudio))

	close(client.block)
	<-client.sent
	cancel()
	<-done

	topics := client.Topics()
	if len(topics) != 2 || topics[0] != "emotion/results/visual" || topics[1] != "emotion/results/audio" {
		t.Fatalf("topics = %v", topics)
	}
}

// TestHandleDropsWhenQueueFull counts results dropped while the broker lags.
func TestHandleDropsWhenQueueFull(t *testing.T) {
	client := &fakeClient{}
	e := NewMQTTEmitterForTests(Config{Topic: "t"}, client)

	for i := 0; i < queueSize+3; i++ {
		e.Handle(resultEvent(domain.ChannelVisual))
	}

	if len(e.queue) != queueSize {
		t.Fatalf("queued = %d, want %d", len(e.queue), queueSize)
	}
	if stats := e.Stats(); stats.Errors != 3 {
		t.Fatalf("errors = %d, want 3", stats.Errors)
	}
}

// TestPublishFailuresCounted tracks broker errors and disconnects.
func TestPublishFailuresCounted(t *testing.T) {
	client := &fakeClient{token: &fakeToken{err: errors.New("not authorized")}}
	e := NewMQTTEmitterForTests(Config{Topic: "t"}, client)

	if err := e.Publish(resultEvent(domain.ChannelVisual)); err == nil {
		t.Fatal("expected publish error")
	}
	client.token = &fakeToken{timeout: true}
	if err := e.Publish(resultEvent(domain.ChannelVisual)); err == nil {
		t.Fatal("expected publish timeout")
	}
	e.Disconnect()
	if err := e.Publish(resultEvent(domain.ChannelVisual)); err == nil {
		t.Fatal("expected not connected error")
	}
	if stats := e.Stats(); stats.Errors != 3 || stats.Connected {
		t.Fatalf("stats = %+v", stats)
	}
}
