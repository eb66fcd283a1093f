package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/navisrobotics/navis-core/internal/dispatch"
	"github.com/navisrobotics/navis-core/internal/registry"
	"github.com/navisrobotics/navis-core/internal/routing"
	"github.com/navisrobotics/navis-core/internal/wire"
)

// MeasurementHandler receives decoded measurements from a watched
// device channel.
type MeasurementHandler func(deviceID, channel string, m wire.Measurement)

// ControllerSession is the operator's side of the bus: it discovers
// devices, watches their telemetry and sends them commands. One
// controller can talk to any number of devices concurrently.
type ControllerSession struct {
	router     *routing.Router
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	logger     Logger

	mu      sync.Mutex
	watches map[string]struct{}
	closed  bool
}

// NewControllerSession creates a controller over the given router. The
// registry must already be watching announcements for Discover to see
// devices. Pass a nil logger to disable logging.
func NewControllerSession(router *routing.Router, reg *registry.Registry, logger Logger) *ControllerSession {
	if logger == nil {
		logger = noopLogger{}
	}
	return &ControllerSession{
		router:     router,
		registry:   reg,
		dispatcher: dispatch.New(router, logger),
		logger:     logger,
		watches:    make(map[string]struct{}),
	}
}

// Discover waits for the given window and returns the live devices in
// a category, keyed by device id. An empty category matches all
// devices. Discover never fails; an empty bus yields an empty map.
func (c *ControllerSession) Discover(ctx context.Context, category string, window time.Duration) map[string]registry.Descriptor {
	return c.registry.Discover(ctx, category, window)
}

// Send delivers a command to a device without waiting for an ack.
func (c *ControllerSession) Send(deviceID string, env wire.Envelope) error {
	if c.isClosed() {
		return ErrClosed
	}
	return c.dispatcher.Send(deviceID, env)
}

// SendAndWait delivers a command and blocks until the device's ack
// arrives or the timeout passes.
func (c *ControllerSession) SendAndWait(ctx context.Context, deviceID string, env wire.Envelope, timeout time.Duration) (wire.Ack, error) {
	if c.isClosed() {
		return wire.Ack{}, ErrClosed
	}
	return c.dispatcher.SendAndWait(ctx, deviceID, env, timeout)
}

// Move sends a velocity setpoint to a robot, fire-and-forget.
func (c *ControllerSession) Move(deviceID string, v, omega float64) error {
	env, err := wire.NewEnvelope(wire.KindMove, wire.Move{V: v, Omega: omega})
	if err != nil {
		return fmt.Errorf("session: encode move: %w", err)
	}
	return c.Send(deviceID, env)
}

// MoveAndWait sends a velocity setpoint and waits for the robot's ack.
func (c *ControllerSession) MoveAndWait(ctx context.Context, deviceID string, v, omega float64, timeout time.Duration) (wire.Ack, error) {
	env, err := wire.NewEnvelope(wire.KindMove, wire.Move{V: v, Omega: omega})
	if err != nil {
		return wire.Ack{}, fmt.Errorf("session: encode move: %w", err)
	}
	return c.SendAndWait(ctx, deviceID, env, timeout)
}

// WatchMeasurements subscribes a handler to one device telemetry
// channel. Measurements on the channel are delivered to the handler in
// publish order. Watching the same channel again replaces the handler.
func (c *ControllerSession) WatchMeasurements(deviceID, channel string, handler MeasurementHandler) error {
	if c.isClosed() {
		return ErrClosed
	}

	topic := routing.Topics{}.Measurement(deviceID, channel)
	err := c.router.Subscribe(topic, func(topic string, payload []byte) {
		env, err := wire.DecodeEnvelope(payload)
		if err != nil || env.Kind != wire.KindMeasurement {
			c.logger.Warn("discarding malformed measurement", "topic", topic, "error", err)
			return
		}
		var m wire.Measurement
		if err := env.Decode(&m); err != nil {
			c.logger.Warn("discarding malformed measurement", "topic", topic, "error", err)
			return
		}
		handler(deviceID, channel, m)
	})
	if err != nil {
		return fmt.Errorf("session: watch measurements: %w", err)
	}

	c.mu.Lock()
	c.watches[topic] = struct{}{}
	c.mu.Unlock()
	return nil
}

// UnwatchMeasurements removes the handler from a device telemetry
// channel.
func (c *ControllerSession) UnwatchMeasurements(deviceID, channel string) error {
	topic := routing.Topics{}.Measurement(deviceID, channel)

	c.mu.Lock()
	delete(c.watches, topic)
	c.mu.Unlock()

	if err := c.router.Unsubscribe(topic); err != nil {
		return fmt.Errorf("session: unwatch measurements: %w", err)
	}
	return nil
}

// Close stops the dispatcher and removes every telemetry watch. Safe
// to call more than once.
func (c *ControllerSession) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	topics := make([]string, 0, len(c.watches))
	for topic := range c.watches {
		topics = append(topics, topic)
	}
	c.watches = make(map[string]struct{})
	c.mu.Unlock()

	c.dispatcher.Close()
	for _, topic := range topics {
		if err := c.router.Unsubscribe(topic); err != nil {
			c.logger.Warn("failed to unsubscribe measurement topic", "topic", topic, "error", err)
		}
	}
	c.logger.Info("controller session closed")
	return nil
}

func (c *ControllerSession) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
