package server

import (
	"fmt"
	"sync"

	"github.com/navisrobotics/navis-core/internal/history"
	"github.com/navisrobotics/navis-core/internal/registry"
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

// Deps holds the dependencies required by the core server.
type Deps struct {
	Router   *routing.Router
	Registry *registry.Registry
	Store    *registry.Store // optional: persists id assignments
	History  *history.Writer // optional: records measurements
	Logger   Logger
}

// Server is the navisd core: the one process per deployment that
// assigns device ids, watches the whole registry and mirrors every
// measurement into history. Devices and controllers work without it
// only if they never need to register.
type Server struct {
	router   *routing.Router
	registry *registry.Registry
	history  *history.Writer
	logger   Logger

	idsvc *registry.IDService

	mu      sync.Mutex
	started bool
	closed  bool
}

// New creates the core server. Deps.Router and Deps.Registry are
// required; Store and History are optional.
func New(deps Deps) (*Server, error) {
	if deps.Router == nil {
		return nil, fmt.Errorf("server: router is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("server: registry is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Server{
		router:   deps.Router,
		registry: deps.Registry,
		history:  deps.History,
		logger:   logger,
		idsvc:    registry.NewIDService(deps.Router, deps.Store, logger),
	}, nil
}

// Start begins watching announcements, answering registration requests
// and observing measurements.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("server: closed")
	}
	if s.started {
		return nil
	}

	if err := s.registry.Watch(); err != nil {
		return fmt.Errorf("server: watch registry: %w", err)
	}
	if err := s.idsvc.Start(); err != nil {
		return fmt.Errorf("server: start id service: %w", err)
	}
	if err := s.router.Subscribe(routing.Topics{}.AllMeasurements(), s.handleMeasurement); err != nil {
		return fmt.Errorf("server: subscribe measurements: %w", err)
	}

	s.started = true
	s.logger.Info("core server started")
	return nil
}

// Close stops the id service and the measurement observer. The
// registry and router are owned by the caller and left open. Safe to
// call more than once.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()

	if !started {
		return nil
	}

	if err := s.router.Unsubscribe(routing.Topics{}.AllMeasurements()); err != nil {
		s.logger.Warn("failed to unsubscribe measurements", "error", err)
	}
	if err := s.idsvc.Close(); err != nil {
		s.logger.Warn("failed to close id service", "error", err)
	}
	s.logger.Info("core server closed")
	return nil
}

// handleMeasurement mirrors one bus measurement into history. Topics
// that do not match the measurement shape are ignored; malformed
// payloads on matching topics are logged and dropped.
func (s *Server) handleMeasurement(topic string, payload []byte) {
	deviceID, channel, ok := routing.Topics{}.SplitMeasurement(topic)
	if !ok {
		return
	}

	env, err := wire.DecodeEnvelope(payload)
	if err != nil || env.Kind != wire.KindMeasurement {
		s.logger.Warn("discarding malformed measurement", "topic", topic, "error", err)
		return
	}
	var m wire.Measurement
	if err := env.Decode(&m); err != nil {
		s.logger.Warn("discarding malformed measurement", "topic", topic, "error", err)
		return
	}

	s.logger.Debug("measurement observed",
		"device_id", deviceID,
		"channel", channel,
		"x", m.X, "y", m.Y, "theta", m.Theta)

	if s.history != nil {
		s.history.WriteMeasurement(deviceID, channel, m)
	}
}
