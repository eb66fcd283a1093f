package routing

import (
	"fmt"
	"sync"
	"time"

	"github.com/navisrobotics/navis-core/internal/infrastructure/mqtt"
)

// Bus is the transport consumed by the Router. *mqtt.Client satisfies it;
// tests use the in-memory implementation in internal/bustest.
type Bus interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Logger defines the logging interface used by the Router.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Handler processes one inbound message. Handlers for the same topic are
// invoked strictly in arrival order; handlers for different topics may run
// concurrently.
type Handler func(topic string, payload []byte)

const (
	// workerQueueSize bounds the per-topic inbound queue. The bus is
	// best-effort: when a handler falls this far behind, older messages
	// are dropped with a warning rather than stalling other topics.
	workerQueueSize = 1024

	// defaultCloseGrace is how long Close waits for in-flight handler
	// invocations before abandoning them.
	defaultCloseGrace = 2 * time.Second
)

// Router maps logical (device, channel) addresses to bus topics and
// dispatches inbound messages to local handlers.
//
// Each subscribed topic gets one worker goroutine draining a FIFO queue, so
// message order within a topic is preserved end-to-end while a slow handler
// on one topic never blocks delivery on another.
//
// All methods are safe for concurrent use.
type Router struct {
	bus    Bus
	qos    byte
	logger Logger
	grace  time.Duration

	mu      sync.Mutex
	workers map[string]*topicWorker
	closed  bool

	wg sync.WaitGroup
}

// topicWorker serializes handler invocations for one subscribed topic.
type topicWorker struct {
	queue chan inbound
	stop  chan struct{}

	mu      sync.RWMutex
	handler Handler
}

type inbound struct {
	topic   string
	payload []byte
}

// New creates a Router publishing at the given QoS over bus.
//
// Parameters:
//   - bus: shared transport, safe for concurrent use
//   - qos: QoS level applied to every publish and subscribe
//   - logger: may be nil, in which case logging is disabled
func New(bus Bus, qos byte, logger Logger) *Router {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Router{
		bus:     bus,
		qos:     qos,
		logger:  logger,
		grace:   defaultCloseGrace,
		workers: make(map[string]*topicWorker),
	}
}

// Publish hands payload to the bus for topic and returns without waiting
// for delivery. Delivery is best-effort; an error here means the bus
// rejected the message locally (not connected, oversized), never that a
// remote receiver missed it.
func (r *Router) Publish(topic string, payload []byte) error {
	if err := r.bus.Publish(topic, payload, r.qos, false); err != nil {
		return fmt.Errorf("%w: topic %s: %w", ErrPublish, topic, err)
	}
	return nil
}

// PublishRetained is Publish with the broker retaining the last message so
// late subscribers receive it immediately. Used for announcements.
func (r *Router) PublishRetained(topic string, payload []byte) error {
	if err := r.bus.Publish(topic, payload, r.qos, true); err != nil {
		return fmt.Errorf("%w: topic %s: %w", ErrPublish, topic, err)
	}
	return nil
}

// Subscribe registers the handler for a topic (or wildcard pattern) and
// starts its dispatch worker.
//
// Exactly one handler is registered per topic in this process: subscribing
// to an already-subscribed topic replaces the previous handler and logs a
// warning rather than failing, since re-registration typically reflects a
// session restart.
func (r *Router) Subscribe(topic string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("%w: nil handler for topic %s", ErrSubscribe, topic)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if existing, ok := r.workers[topic]; ok {
		existing.setHandler(handler)
		r.mu.Unlock()
		r.logger.Warn("replaced handler for already-subscribed topic", "topic", topic)
		return nil
	}

	w := &topicWorker{
		queue:   make(chan inbound, workerQueueSize),
		stop:    make(chan struct{}),
		handler: handler,
	}
	r.workers[topic] = w
	r.wg.Add(1)
	go r.runWorker(topic, w)
	r.mu.Unlock()

	if err := r.bus.Subscribe(topic, r.qos, func(t string, payload []byte) error {
		r.enqueue(topic, t, payload)
		return nil
	}); err != nil {
		r.mu.Lock()
		delete(r.workers, topic)
		r.mu.Unlock()
		close(w.stop)
		return fmt.Errorf("%w: topic %s: %w", ErrSubscribe, topic, err)
	}

	return nil
}

// Unsubscribe removes the topic's handler and stops its worker. Messages
// already queued are dropped.
func (r *Router) Unsubscribe(topic string) error {
	r.mu.Lock()
	w, ok := r.workers[topic]
	if ok {
		delete(r.workers, topic)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	close(w.stop)

	if err := r.bus.Unsubscribe(topic); err != nil {
		return fmt.Errorf("%w: topic %s: %w", ErrSubscribe, topic, err)
	}
	return nil
}

// Close unsubscribes every topic and waits up to the grace period for
// workers to finish their current handler invocation. Workers still busy
// after the grace period are abandoned. Close is idempotent.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	workers := r.workers
	r.workers = make(map[string]*topicWorker)
	r.mu.Unlock()

	for topic, w := range workers {
		close(w.stop)
		if err := r.bus.Unsubscribe(topic); err != nil {
			r.logger.Warn("unsubscribe during close failed", "topic", topic, "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(r.grace):
		r.logger.Warn("abandoned in-flight handlers on close", "grace", r.grace)
	}
}

// enqueue appends a message to the topic's FIFO queue. If the queue is
// full the message is dropped with a warning: the bus gives no delivery
// guarantee, and dropping beats stalling every other topic's dispatch.
func (r *Router) enqueue(subscribed, topic string, payload []byte) {
	r.mu.Lock()
	w, ok := r.workers[subscribed]
	r.mu.Unlock()
	if !ok {
		return
	}

	select {
	case w.queue <- inbound{topic: topic, payload: payload}:
	default:
		r.logger.Warn("inbound queue full, dropping message",
			"subscription", subscribed,
			"topic", topic,
		)
	}
}

// runWorker drains one topic's queue, invoking the handler for each message
// in arrival order. A panicking handler is contained and logged; the worker
// keeps processing subsequent messages.
func (r *Router) runWorker(subscribed string, w *topicWorker) {
	defer r.wg.Done()
	for {
		select {
		case <-w.stop:
			return
		case msg := <-w.queue:
			r.invoke(subscribed, w, msg)
		}
	}
}

func (r *Router) invoke(subscribed string, w *topicWorker, msg inbound) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handler panic recovered",
				"subscription", subscribed,
				"topic", msg.topic,
				"panic", rec,
			)
		}
	}()
	w.currentHandler()(msg.topic, msg.payload)
}

func (w *topicWorker) setHandler(h Handler) {
	w.mu.Lock()
	w.handler = h
	w.mu.Unlock()
}

func (w *topicWorker) currentHandler() Handler {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.handler
}
