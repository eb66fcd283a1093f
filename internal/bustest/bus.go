// Package bustest provides an in-memory Bus implementation for package
// tests. It mimics broker behaviour closely enough to exercise routing,
// registration, and session logic without a running broker: topic pattern
// matching with MQTT + and # wildcards, retained messages delivered to new
// subscribers, and asynchronous-looking delivery that still preserves
// per-topic publish order.
package bustest

import (
	"errors"
	"strings"
	"sync"

	"github.com/navisrobotics/navis-core/internal/infrastructure/mqtt"
)

// ErrDown is returned by every operation while the bus is marked down.
var ErrDown = errors.New("bustest: bus down")

// Message records one published payload.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// Bus is an in-memory pub/sub transport. The zero value is not usable;
// construct with New. All methods are safe for concurrent use.
type Bus struct {
	mu        sync.Mutex
	subs      map[string]mqtt.MessageHandler
	retained  map[string][]byte
	published []Message
	down      bool
}

// New creates an empty in-memory bus.
func New() *Bus {
	return &Bus{
		subs:     make(map[string]mqtt.MessageHandler),
		retained: make(map[string][]byte),
	}
}

// Publish records the message and synchronously delivers it to every
// matching subscriber. Synchronous delivery keeps per-topic ordering
// identical to publish order, matching the broker guarantee the router
// builds on.
func (b *Bus) Publish(topic string, payload []byte, _ byte, retained bool) error {
	b.mu.Lock()
	if b.down {
		b.mu.Unlock()
		return ErrDown
	}
	b.published = append(b.published, Message{Topic: topic, Payload: payload, Retained: retained})
	if retained {
		// An empty retained payload clears the broker's retained message.
		if len(payload) == 0 {
			delete(b.retained, topic)
		} else {
			b.retained[topic] = append([]byte(nil), payload...)
		}
	}
	var handlers []mqtt.MessageHandler
	for pattern, h := range b.subs {
		if TopicMatches(pattern, topic) {
			handlers = append(handlers, h)
		}
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(topic, payload) //nolint:errcheck // handler errors are a receiver concern
	}
	return nil
}

// Subscribe registers a handler for a topic pattern and immediately
// delivers any retained messages matching it, as a broker would.
func (b *Bus) Subscribe(pattern string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	if b.down {
		b.mu.Unlock()
		return ErrDown
	}
	b.subs[pattern] = handler
	var replay []Message
	for topic, payload := range b.retained {
		if TopicMatches(pattern, topic) {
			replay = append(replay, Message{Topic: topic, Payload: payload})
		}
	}
	b.mu.Unlock()

	for _, m := range replay {
		handler(m.Topic, m.Payload) //nolint:errcheck // handler errors are a receiver concern
	}
	return nil
}

// Unsubscribe removes a pattern's handler.
func (b *Bus) Unsubscribe(pattern string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return ErrDown
	}
	delete(b.subs, pattern)
	return nil
}

// SetDown marks the bus unreachable (true) or reachable (false). While
// down, every operation returns ErrDown.
func (b *Bus) SetDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

// Published returns a copy of every message published so far, in order.
func (b *Bus) Published() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.published))
	copy(out, b.published)
	return out
}

// PublishedTo returns the payloads published to one exact topic, in order.
func (b *Bus) PublishedTo(topic string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out [][]byte
	for _, m := range b.published {
		if m.Topic == topic {
			out = append(out, m.Payload)
		}
	}
	return out
}

// HasSubscription reports whether the exact pattern is subscribed.
func (b *Bus) HasSubscription(pattern string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.subs[pattern]
	return ok
}

// TopicMatches reports whether a concrete topic matches an MQTT pattern:
// + matches exactly one level, # matches all remaining levels.
func TopicMatches(pattern, topic string) bool {
	pp := strings.Split(pattern, "/")
	tp := strings.Split(topic, "/")

	for i, p := range pp {
		if p == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if p != "+" && p != tp[i] {
			return false
		}
	}
	return len(pp) == len(tp)
}
