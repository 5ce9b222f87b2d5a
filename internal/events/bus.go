// Package events buffers session events for polling and push subscribers.
package events

import (
	"sync"
	"time"

	"emotion-monitor/internal/domain"
)

// Type classifies messages emitted during a session.
type Type string

const (
	TypeStatus       Type = "status"
	TypeResult       Type = "result"
	TypeError        Type = "error"
	TypeConnectivity Type = "connectivity"
	TypeVideo        Type = "video"
)

// Event is a sequenced payload consumed by UI subscribers.
type Event struct {
	Seq          int64                        `json:"seq"`
	Timestamp    time.Time                    `json:"timestamp"`
	SessionID    string                       `json:"sessionId,omitempty"`
	Type         Type                         `json:"type"`
	Channel      domain.Channel               `json:"channel,omitempty"`
	Status       string                       `json:"status,omitempty"`
	Message      string                       `json:"message,omitempty"`
	ErrorCount   int                          `json:"errorCount,omitempty"`
	Result       *domain.ClassificationResult `json:"result,omitempty"`
	Connectivity *domain.ConnectivityState    `json:"connectivity,omitempty"`
	Job          *domain.Job                  `json:"job,omitempty"`
	Video        *domain.VideoAnalysis        `json:"video,omitempty"`
}

// Bus stores recent events, provides incremental reads and fans events out
// to subscribers.
type Bus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event

	subMu  sync.RWMutex
	nextID int
	subs   map[int]func(Event)
}

// NewBus creates a bounded in-memory event buffer.
func NewBus(maxEvents int) *Bus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &Bus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
		subs:      make(map[int]func(Event)),
	}
}

// Publish appends one event, assigns sequence and timestamp, and notifies
// subscribers in publish order.
func (b *Bus) Publish(event Event) Event {
	b.mu.Lock()
	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}
	b.mu.Unlock()

	b.subMu.RLock()
	subs := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.subMu.RUnlock()

	for _, fn := range subs {
		fn(event)
	}
	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *Bus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// Subscribe registers fn for every future event. The returned func removes it.
func (b *Bus) Subscribe(fn func(Event)) func() {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs[id] = fn

	return func() {
		b.subMu.Lock()
		defer b.subMu.Unlock()
		delete(b.subs, id)
	}
}
