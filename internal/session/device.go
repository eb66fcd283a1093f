package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/navisrobotics/navis-core/internal/registry"
	"github.com/navisrobotics/navis-core/internal/routing"
	"github.com/navisrobotics/navis-core/internal/scheduler"
	"github.com/navisrobotics/navis-core/internal/wire"
)

// Device is the contract a device model must satisfy to be driven by a
// DeviceSession. Measurement and HandleCommand are called from
// different goroutines; implementations must be safe for concurrent
// use.
type Device interface {
	// Category is the device category advertised at registration.
	Category() string

	// TypeName is the device type advertised at registration.
	TypeName() string

	// Measurement returns the device's current telemetry.
	Measurement() (wire.Measurement, error)

	// HandleCommand applies one command. A returned error is reported
	// to the sender in the acknowledgement when one was requested.
	HandleCommand(env wire.Envelope) error
}

// PublisherConfig declares one telemetry channel of a device session.
type PublisherConfig struct {
	// Channel names the telemetry channel, e.g. "pose". It must be
	// valid per routing.ValidChannel.
	Channel string

	// Interval is the publish cadence.
	Interval time.Duration
}

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

type sessionState int

const (
	stateCreated sessionState = iota
	stateRegistered
	stateRunning
	stateClosed
)

// DeviceSession attaches one device to the bus. Its lifecycle is
// Register, then Start, then Close; each step is a one-way transition
// and Close is valid from any state.
//
// While running, the session publishes each configured telemetry
// channel on its interval, applies commands arriving on the device's
// command topic, acknowledges commands that carry a request id, and
// heartbeats the registry so the device stays discoverable.
type DeviceSession struct {
	router    *routing.Router
	registry  *registry.Registry
	scheduler *scheduler.Scheduler
	device    Device
	logger    Logger

	publishers []PublisherConfig
	heartbeat  time.Duration

	mu       sync.Mutex
	state    sessionState
	deviceID string

	hbStop chan struct{}
	hbDone chan struct{}
}

// NewDeviceSession creates a session for one device. The heartbeat
// period should match the registry configuration the deployment runs
// with; sessions heartbeat at that period once started.
func NewDeviceSession(router *routing.Router, reg *registry.Registry, sched *scheduler.Scheduler, device Device, publishers []PublisherConfig, heartbeat time.Duration, logger Logger) *DeviceSession {
	if logger == nil {
		logger = noopLogger{}
	}
	return &DeviceSession{
		router:     router,
		registry:   reg,
		scheduler:  sched,
		device:     device,
		logger:     logger,
		publishers: publishers,
		heartbeat:  heartbeat,
	}
}

// Register obtains a device id from the id service and announces the
// device. It must be called exactly once, before Start.
func (s *DeviceSession) Register(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case stateClosed:
		s.mu.Unlock()
		return ErrClosed
	case stateRegistered, stateRunning:
		s.mu.Unlock()
		return ErrAlreadyRegistered
	}
	s.mu.Unlock()

	id, err := s.registry.Register(ctx, s.device.Category(), s.device.TypeName())
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.deviceID = id
	s.state = stateRegistered
	s.mu.Unlock()
	return nil
}

// ID returns the device id assigned at registration, or an empty
// string before Register succeeds.
func (s *DeviceSession) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceID
}

// Start subscribes the command topic, attaches the telemetry
// publishers and begins heartbeating.
func (s *DeviceSession) Start() error {
	s.mu.Lock()
	switch s.state {
	case stateClosed:
		s.mu.Unlock()
		return ErrClosed
	case stateCreated:
		s.mu.Unlock()
		return ErrNotRegistered
	case stateRunning:
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	id := s.deviceID
	s.mu.Unlock()

	if err := s.router.Subscribe(routing.Topics{}.Command(id), s.handleCommand); err != nil {
		return fmt.Errorf("session: subscribe commands: %w", err)
	}

	for _, pub := range s.publishers {
		if err := s.scheduler.Add(id, pub.Channel, pub.Interval, s.device.Measurement); err != nil {
			s.scheduler.RemoveDevice(id)
			if uerr := s.router.Unsubscribe(routing.Topics{}.Command(id)); uerr != nil {
				s.logger.Warn("failed to unsubscribe command topic", "device_id", id, "error", uerr)
			}
			return fmt.Errorf("session: add publisher %s: %w", pub.Channel, err)
		}
	}

	s.mu.Lock()
	// Close may have run while the subscriptions were being set up.
	if s.state == stateClosed {
		s.mu.Unlock()
		s.scheduler.RemoveDevice(id)
		if uerr := s.router.Unsubscribe(routing.Topics{}.Command(id)); uerr != nil {
			s.logger.Warn("failed to unsubscribe command topic", "device_id", id, "error", uerr)
		}
		return ErrClosed
	}
	s.state = stateRunning
	s.hbStop = make(chan struct{})
	s.hbDone = make(chan struct{})
	s.mu.Unlock()

	go s.runHeartbeat(id)

	s.logger.Info("device session started",
		"device_id", id,
		"type_name", s.device.TypeName(),
		"publishers", len(s.publishers))
	return nil
}

// Close stops telemetry, command handling and heartbeats, and
// withdraws the device's retained announcement so watchers drop it
// right away. It is valid from any state and safe to call more than
// once.
func (s *DeviceSession) Close() error {
	s.mu.Lock()
	prev := s.state
	s.state = stateClosed
	id := s.deviceID
	s.mu.Unlock()

	if prev != stateRegistered && prev != stateRunning {
		return nil
	}

	if prev == stateRunning {
		close(s.hbStop)
		<-s.hbDone

		s.scheduler.RemoveDevice(id)
		if err := s.router.Unsubscribe(routing.Topics{}.Command(id)); err != nil {
			s.logger.Warn("failed to unsubscribe command topic", "device_id", id, "error", err)
		}
	}

	if err := s.registry.Deregister(id); err != nil {
		s.logger.Warn("failed to deregister device", "device_id", id, "error", err)
	}
	s.logger.Info("device session closed", "device_id", id)
	return nil
}

// handleCommand applies one command from the bus and publishes an ack
// when the sender asked for one. Commands on the shared topic arrive
// in publish order; this handler runs them one at a time.
func (s *DeviceSession) handleCommand(topic string, payload []byte) {
	env, err := wire.DecodeEnvelope(payload)
	if err != nil {
		s.logger.Warn("discarding malformed command", "topic", topic, "error", err)
		return
	}

	cmdErr := s.device.HandleCommand(env)
	if cmdErr != nil {
		s.logger.Warn("command rejected", "kind", env.Kind, "error", cmdErr)
	}

	if env.RequestID == "" {
		return
	}

	ack := wire.Ack{RequestID: env.RequestID, OK: cmdErr == nil}
	if cmdErr != nil {
		ack.Error = cmdErr.Error()
	}
	ackPayload, err := wire.Encode(wire.KindAck, ack)
	if err != nil {
		s.logger.Error("failed to encode ack", "error", err)
		return
	}
	s.mu.Lock()
	id := s.deviceID
	s.mu.Unlock()
	if err := s.router.Publish(routing.Topics{}.Ack(id), ackPayload); err != nil {
		s.logger.Warn("failed to publish ack", "device_id", id, "error", err)
	}
}

func (s *DeviceSession) runHeartbeat(id string) {
	defer close(s.hbDone)

	if s.heartbeat <= 0 {
		<-s.hbStop
		return
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-s.hbStop:
			return
		case <-ticker.C:
			if err := s.registry.Heartbeat(id); err != nil {
				s.logger.Warn("heartbeat failed", "device_id", id, "error", err)
			}
		}
	}
}
