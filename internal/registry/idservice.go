package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/navisrobotics/navis-core/internal/routing"
	"github.com/navisrobotics/navis-core/internal/wire"
)

// IDService answers registration requests on the admin register topic.
// Exactly one instance runs per deployment, inside navisd; it assigns
// each requesting device a fresh id and replies on the request's
// one-shot reply topic. When a store is attached every assignment is
// also recorded there.
type IDService struct {
	router *routing.Router
	store  *Store
	logger Logger
	newID  func() string

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewIDService creates an id service. store may be nil to skip
// persistence; logger may be nil to disable logging.
func NewIDService(router *routing.Router, store *Store, logger Logger) *IDService {
	if logger == nil {
		logger = noopLogger{}
	}
	return &IDService{
		router: router,
		store:  store,
		logger: logger,
		newID:  uuid.NewString,
	}
}

// Start subscribes to registration requests.
func (s *IDService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.started {
		return nil
	}
	if err := s.router.Subscribe(routing.Topics{}.RegisterRequest(), s.handleRequest); err != nil {
		return fmt.Errorf("registry: start id service: %w", err)
	}
	s.started = true
	s.logger.Info("id service started")
	return nil
}

// Close unsubscribes from registration requests. Safe to call more
// than once.
func (s *IDService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.started {
		return nil
	}
	if err := s.router.Unsubscribe(routing.Topics{}.RegisterRequest()); err != nil {
		s.logger.Warn("failed to unsubscribe register requests", "error", err)
	}
	s.logger.Info("id service closed")
	return nil
}

func (s *IDService) handleRequest(topic string, payload []byte) {
	env, err := wire.DecodeEnvelope(payload)
	if err != nil || env.Kind != wire.KindRegisterRequest {
		s.logger.Warn("discarding malformed register request", "topic", topic, "error", err)
		return
	}
	var req wire.RegisterRequest
	if err := env.Decode(&req); err != nil {
		s.logger.Warn("discarding malformed register request", "topic", topic, "error", err)
		return
	}
	if req.Token == "" || req.Category == "" {
		s.logger.Warn("discarding register request with missing fields", "topic", topic)
		return
	}

	deviceID := s.newID()

	if s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := s.store.Record(ctx, Descriptor{
			DeviceID:     deviceID,
			Category:     req.Category,
			TypeName:     req.TypeName,
			RegisteredAt: time.Now(),
		})
		cancel()
		if err != nil {
			// Persistence is best-effort; the device still gets its id.
			s.logger.Error("failed to record registration", "device_id", deviceID, "error", err)
		}
	}

	reply, err := wire.Encode(wire.KindRegisterReply, wire.RegisterReply{
		Token:    req.Token,
		DeviceID: deviceID,
	})
	if err != nil {
		s.logger.Error("failed to encode register reply", "error", err)
		return
	}
	if err := s.router.Publish(routing.Topics{}.RegisterReply(req.Token), reply); err != nil {
		s.logger.Error("failed to publish register reply", "token", req.Token, "error", err)
		return
	}

	s.logger.Info("assigned device id",
		"device_id", deviceID,
		"category", req.Category,
		"type_name", req.TypeName)
}
