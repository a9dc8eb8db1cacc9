package mqttclient

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MatchTopic reports whether an MQTT topic matches a subscription filter.
// Supports the single-level wildcard "+" and the trailing multi-level
// wildcard "#".
func MatchTopic(filter, topic string) bool {
	if filter == topic {
		return true
	}

	filterParts := strings.Split(filter, "/")
	topicParts := strings.Split(topic, "/")

	for i, fp := range filterParts {
		if fp == "#" {
			// "#" must be the last filter level
			return i == len(filterParts)-1
		}
		if i >= len(topicParts) {
			return false
		}
		if fp != "+" && fp != topicParts[i] {
			return false
		}
	}

	return len(filterParts) == len(topicParts)
}

type testSubscription struct {
	filter  string
	handler MessageHandler
}

// TestBroker is an in-memory Broker for tests. Publish dispatches
// synchronously to every matching subscription, so tests run without a
// real broker and without sleeps.
type TestBroker struct {
	mu        sync.RWMutex
	subs      []testSubscription
	published []PublishedMessage
	healthy   bool
	msgWait   time.Duration
}

var _ Broker = (*TestBroker)(nil)

// PublishedMessage records a message that passed through the test broker
type PublishedMessage struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// NewTestBroker creates an in-memory broker for tests
func NewTestBroker() *TestBroker {
	return &TestBroker{
		healthy: true,
		msgWait: 30 * time.Second,
	}
}

// Publish records the message and dispatches it to matching subscriptions
func (b *TestBroker) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	b.mu.Lock()
	if !b.healthy {
		b.mu.Unlock()
		return ErrNotConnected
	}
	b.published = append(b.published, PublishedMessage{
		Topic:    topic,
		QoS:      qos,
		Retained: retained,
		Payload:  payload,
	})
	subs := make([]testSubscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, sub := range subs {
		if MatchTopic(sub.filter, topic) {
			msgCtx, cancel := context.WithTimeout(ctx, b.msgWait)
			sub.handler(msgCtx, topic, payload)
			cancel()
		}
	}

	return nil
}

// Subscribe registers a handler for a topic filter
func (b *TestBroker) Subscribe(_ context.Context, filter string, _ byte, handler MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.healthy {
		return ErrNotConnected
	}

	b.subs = append(b.subs, testSubscription{filter: filter, handler: handler})
	return nil
}

// IsHealthy reports the simulated connection state
func (b *TestBroker) IsHealthy() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.healthy
}

// SetHealthy toggles the simulated connection state
func (b *TestBroker) SetHealthy(healthy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.healthy = healthy
}

// Published returns a copy of all messages published through the broker
func (b *TestBroker) Published() []PublishedMessage {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]PublishedMessage, len(b.published))
	copy(out, b.published)
	return out
}

// PublishedTo returns the messages published to an exact topic
func (b *TestBroker) PublishedTo(topic string) []PublishedMessage {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []PublishedMessage
	for _, msg := range b.published {
		if msg.Topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

// Reset clears recorded messages and subscriptions
func (b *TestBroker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = nil
	b.published = nil
	b.healthy = true
}
