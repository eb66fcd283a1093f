package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/navisrobotics/navis-core/internal/routing"
	"github.com/navisrobotics/navis-core/internal/wire"
)

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Dispatcher sends commands to devices over their per-device command
// topics and correlates acknowledgements back to waiting callers.
//
// Commands to one device share a single topic, so the bus delivers
// them in publish order. Acknowledgement is opt-in: Send is
// fire-and-forget, SendAndWait stamps the envelope with a request id
// and blocks until the matching ack arrives or the deadline passes.
type Dispatcher struct {
	router *routing.Router
	logger Logger

	mu      sync.Mutex
	pending map[string]chan wire.Ack
	ackSubs map[string]struct{}
	closed  bool

	closedCh chan struct{}
}

// New creates a dispatcher over the given router. Pass a nil logger to
// disable logging.
func New(router *routing.Router, logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{
		router:   router,
		logger:   logger,
		pending:  make(map[string]chan wire.Ack),
		ackSubs:  make(map[string]struct{}),
		closedCh: make(chan struct{}),
	}
}

// Send publishes a command to a device without waiting for an
// acknowledgement.
func (d *Dispatcher) Send(deviceID string, env wire.Envelope) error {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return ErrClosed
	}

	payload, err := env.Encode()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSend, err)
	}
	if err := d.router.Publish(routing.Topics{}.Command(deviceID), payload); err != nil {
		return fmt.Errorf("%w: %v", ErrSend, err)
	}
	return nil
}

// SendAndWait publishes a command stamped with a fresh request id and
// blocks until the device acknowledges it, the timeout passes, or ctx
// is cancelled. A timeout yields ErrCommandTimeout; cancellation yields
// the context's error. Either way the command may still have been
// executed.
func (d *Dispatcher) SendAndWait(ctx context.Context, deviceID string, env wire.Envelope, timeout time.Duration) (wire.Ack, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return wire.Ack{}, ErrClosed
	}
	d.mu.Unlock()

	if err := d.ensureAckSubscription(deviceID); err != nil {
		return wire.Ack{}, fmt.Errorf("%w: %v", ErrSend, err)
	}

	env.RequestID = uuid.NewString()
	ackCh := make(chan wire.Ack, 1)

	d.mu.Lock()
	d.pending[env.RequestID] = ackCh
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.pending, env.RequestID)
		d.mu.Unlock()
	}()

	payload, err := env.Encode()
	if err != nil {
		return wire.Ack{}, fmt.Errorf("%w: %v", ErrSend, err)
	}
	if err := d.router.Publish(routing.Topics{}.Command(deviceID), payload); err != nil {
		return wire.Ack{}, fmt.Errorf("%w: %v", ErrSend, err)
	}

	select {
	case ack := <-ackCh:
		return ack, nil
	case <-ctx.Done():
		return wire.Ack{}, fmt.Errorf("dispatch: command wait abandoned: %w", ctx.Err())
	case <-time.After(timeout):
		return wire.Ack{}, fmt.Errorf("%w: no ack from %s within %s", ErrCommandTimeout, deviceID, timeout)
	case <-d.closedCh:
		return wire.Ack{}, ErrClosed
	}
}

// Close unsubscribes every ack topic and fails any waiting callers.
// Safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	subs := make([]string, 0, len(d.ackSubs))
	for deviceID := range d.ackSubs {
		subs = append(subs, deviceID)
	}
	d.mu.Unlock()

	close(d.closedCh)
	for _, deviceID := range subs {
		if err := d.router.Unsubscribe(routing.Topics{}.Ack(deviceID)); err != nil {
			d.logger.Warn("failed to unsubscribe ack topic", "device_id", deviceID, "error", err)
		}
	}
	d.logger.Info("dispatcher closed")
}

// ensureAckSubscription subscribes to a device's ack topic on first
// use. The subscription stays open until Close; ack traffic is light
// and re-subscribing per command would race the device's reply.
func (d *Dispatcher) ensureAckSubscription(deviceID string) error {
	d.mu.Lock()
	_, ok := d.ackSubs[deviceID]
	if !ok {
		d.ackSubs[deviceID] = struct{}{}
	}
	d.mu.Unlock()
	if ok {
		return nil
	}

	if err := d.router.Subscribe(routing.Topics{}.Ack(deviceID), d.handleAck); err != nil {
		d.mu.Lock()
		delete(d.ackSubs, deviceID)
		d.mu.Unlock()
		return err
	}
	return nil
}

func (d *Dispatcher) handleAck(topic string, payload []byte) {
	env, err := wire.DecodeEnvelope(payload)
	if err != nil || env.Kind != wire.KindAck {
		d.logger.Warn("discarding malformed ack", "topic", topic, "error", err)
		return
	}
	var ack wire.Ack
	if err := env.Decode(&ack); err != nil {
		d.logger.Warn("discarding malformed ack", "topic", topic, "error", err)
		return
	}
	if ack.RequestID == "" {
		d.logger.Warn("discarding ack without request id", "topic", topic)
		return
	}

	d.mu.Lock()
	ch, ok := d.pending[ack.RequestID]
	if ok {
		delete(d.pending, ack.RequestID)
	}
	d.mu.Unlock()
	if !ok {
		// Late ack after the waiter gave up. Normal under timeouts.
		d.logger.Debug("ack with no waiter", "topic", topic, "request_id", ack.RequestID)
		return
	}
	ch <- ack
}
