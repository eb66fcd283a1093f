package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/navisrobotics/navis-core/internal/infrastructure/config"
	"github.com/navisrobotics/navis-core/internal/routing"
	"github.com/navisrobotics/navis-core/internal/wire"
)

// Registry tracks which devices are present on the bus and lets local
// sessions register, heartbeat and discover.
//
// Presence is announcement-driven: every device publishes a retained
// announcement on its own topic at registration and again on every
// heartbeat. A registry that calls Watch subscribes to the announcement
// wildcard, so it first replays the retained announcements of devices
// that were already online and then receives every heartbeat live.
// A device whose announcements stop is evicted by the janitor once its
// liveness window elapses; if it resumes heartbeating it simply
// reappears, because heartbeats carry the full descriptor.
type Registry struct {
	router *routing.Router
	cfg    config.RegistryConfig
	logger Logger

	// liveness is how long a device stays discoverable after its most
	// recent announcement. Derived from cfg in New.
	liveness time.Duration
	now      func() time.Time

	mu       sync.RWMutex
	devices  map[string]Descriptor
	local    map[string]Descriptor
	watching bool
	closed   bool

	janitorStop chan struct{}
	janitorDone chan struct{}
}

// New creates a registry over the given router. Pass a nil logger to
// disable logging.
func New(router *routing.Router, cfg config.RegistryConfig, logger Logger) *Registry {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Registry{
		router:   router,
		cfg:      cfg,
		logger:   logger,
		liveness: cfg.LivenessWindow(),
		now:      time.Now,
		devices:  make(map[string]Descriptor),
		local:    make(map[string]Descriptor),
	}
}

// Watch subscribes to device announcements and starts the eviction
// janitor. It must be called before Discover or Active are useful.
// Calling Watch twice is a no-op.
func (r *Registry) Watch() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.watching {
		r.mu.Unlock()
		return nil
	}
	r.watching = true
	r.janitorStop = make(chan struct{})
	r.janitorDone = make(chan struct{})
	r.mu.Unlock()

	if err := r.router.Subscribe(routing.Topics{}.AllAnnouncements(), r.handleAnnouncement); err != nil {
		r.mu.Lock()
		r.watching = false
		r.mu.Unlock()
		return fmt.Errorf("registry: watch announcements: %w", err)
	}

	go r.runJanitor()
	r.logger.Info("registry watching announcements")
	return nil
}

// Register requests a device id from the id service, announces the new
// device on the bus and returns its id.
//
// The request is published on the admin register topic with a one-shot
// reply topic keyed by a random token. If no reply arrives within the
// configured register timeout the call fails with ErrRegistration.
func (r *Registry) Register(ctx context.Context, category, typeName string) (string, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return "", ErrClosed
	}
	if category == "" || typeName == "" {
		return "", fmt.Errorf("%w: category and type name are required", ErrRegistration)
	}

	token := uuid.NewString()
	replyTopic := routing.Topics{}.RegisterReply(token)
	replyCh := make(chan wire.RegisterReply, 1)

	err := r.router.Subscribe(replyTopic, func(_ string, payload []byte) {
		env, err := wire.DecodeEnvelope(payload)
		if err != nil || env.Kind != wire.KindRegisterReply {
			r.logger.Warn("discarding malformed register reply", "error", err)
			return
		}
		var reply wire.RegisterReply
		if err := env.Decode(&reply); err != nil {
			r.logger.Warn("discarding malformed register reply", "error", err)
			return
		}
		select {
		case replyCh <- reply:
		default:
		}
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRegistration, err)
	}
	defer func() {
		if err := r.router.Unsubscribe(replyTopic); err != nil {
			r.logger.Warn("failed to unsubscribe register reply topic", "topic", replyTopic, "error", err)
		}
	}()

	payload, err := wire.Encode(wire.KindRegisterRequest, wire.RegisterRequest{
		Token:    token,
		Category: category,
		TypeName: typeName,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRegistration, err)
	}
	if err := r.router.Publish(routing.Topics{}.RegisterRequest(), payload); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRegistration, err)
	}

	var reply wire.RegisterReply
	select {
	case reply = <-replyCh:
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", ErrRegistration, ctx.Err())
	case <-time.After(r.cfg.RegisterWait()):
		return "", fmt.Errorf("%w: no reply from id service", ErrRegistration)
	}

	desc := Descriptor{
		DeviceID:     reply.DeviceID,
		Category:     category,
		TypeName:     typeName,
		RegisteredAt: r.now(),
	}
	if err := r.announce(desc); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRegistration, err)
	}

	r.mu.Lock()
	r.local[desc.DeviceID] = desc
	r.mu.Unlock()

	r.logger.Info("device registered",
		"device_id", desc.DeviceID,
		"category", category,
		"type_name", typeName)
	return desc.DeviceID, nil
}

// Heartbeat re-announces a locally registered device, refreshing its
// presence for every watching registry on the bus. The device must have
// been registered through this registry instance.
func (r *Registry) Heartbeat(deviceID string) error {
	r.mu.RLock()
	desc, ok := r.local[deviceID]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	return r.announce(desc)
}

// Deregister withdraws a locally registered device from the bus by
// clearing its retained announcement. Watching registries drop the
// device immediately instead of waiting out its liveness window, and
// late joiners never see it at all.
func (r *Registry) Deregister(deviceID string) error {
	r.mu.Lock()
	_, ok := r.local[deviceID]
	closed := r.closed
	delete(r.local, deviceID)
	delete(r.devices, deviceID)
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}

	// A retained publish with no payload clears the broker's retained
	// message and tells live watchers the device is gone.
	if err := r.router.PublishRetained(routing.Topics{}.Announce(deviceID), nil); err != nil {
		return err
	}
	r.logger.Info("device deregistered", "device_id", deviceID)
	return nil
}

// Discover waits for the given window so that announcements can arrive,
// then returns the devices currently considered live, keyed by device
// id. An empty category matches every device. Discover never fails: an
// empty bus or an expired context simply yields fewer (or zero)
// entries.
func (r *Registry) Discover(ctx context.Context, category string, window time.Duration) map[string]Descriptor {
	r.mu.RLock()
	watching := r.watching
	r.mu.RUnlock()
	if !watching {
		r.logger.Warn("discover called before watch, results will be empty")
	}

	if window > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(window):
		}
	}

	out := make(map[string]Descriptor)
	cutoff := r.now().Add(-r.liveness)
	r.mu.RLock()
	for id, desc := range r.devices {
		if desc.LastSeen.Before(cutoff) {
			continue
		}
		if category != "" && desc.Category != category {
			continue
		}
		out[id] = desc
	}
	r.mu.RUnlock()
	return out
}

// Active returns the current live devices without waiting.
func (r *Registry) Active() []Descriptor {
	cutoff := r.now().Add(-r.liveness)
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.devices))
	for _, desc := range r.devices {
		if desc.LastSeen.Before(cutoff) {
			continue
		}
		out = append(out, desc)
	}
	return out
}

// Get returns the descriptor for a device id, live or not.
func (r *Registry) Get(deviceID string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.devices[deviceID]
	return desc, ok
}

// Close stops the janitor and unsubscribes from announcements. It is
// safe to call more than once.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	watching := r.watching
	r.mu.Unlock()

	if watching {
		close(r.janitorStop)
		<-r.janitorDone
		if err := r.router.Unsubscribe(routing.Topics{}.AllAnnouncements()); err != nil {
			r.logger.Warn("failed to unsubscribe announcements", "error", err)
		}
	}
	r.logger.Info("registry closed")
	return nil
}

func (r *Registry) announce(desc Descriptor) error {
	payload, err := wire.Encode(wire.KindAnnouncement, wire.Announcement{
		DeviceID:     desc.DeviceID,
		Category:     desc.Category,
		TypeName:     desc.TypeName,
		RegisteredAt: desc.RegisteredAt,
		SentAt:       r.now(),
	})
	if err != nil {
		return err
	}
	// Retained so late joiners see the device immediately.
	return r.router.PublishRetained(routing.Topics{}.Announce(desc.DeviceID), payload)
}

func (r *Registry) handleAnnouncement(topic string, payload []byte) {
	// An empty payload is a cleared retained announcement: the device
	// deregistered and is gone.
	if len(payload) == 0 {
		deviceID, ok := routing.Topics{}.AnnouncedDevice(topic)
		if !ok {
			return
		}
		r.mu.Lock()
		_, known := r.devices[deviceID]
		delete(r.devices, deviceID)
		r.mu.Unlock()
		if known {
			r.logger.Info("device departed", "device_id", deviceID)
		}
		return
	}

	env, err := wire.DecodeEnvelope(payload)
	if err != nil || env.Kind != wire.KindAnnouncement {
		r.logger.Warn("discarding malformed announcement", "topic", topic, "error", err)
		return
	}
	var ann wire.Announcement
	if err := env.Decode(&ann); err != nil {
		r.logger.Warn("discarding malformed announcement", "topic", topic, "error", err)
		return
	}
	if ann.DeviceID == "" {
		r.logger.Warn("discarding announcement without device id", "topic", topic)
		return
	}

	// A retained announcement can be arbitrarily old. When its send time
	// is already past the liveness window, keep the send time as last
	// seen so the device is not reported live until it announces again.
	// Recent announcements keep arrival time, which tolerates modest
	// clock skew between processes.
	lastSeen := r.now()
	stale := !ann.SentAt.IsZero() && lastSeen.Sub(ann.SentAt) > r.liveness
	if stale {
		lastSeen = ann.SentAt
	}

	r.mu.Lock()
	_, known := r.devices[ann.DeviceID]
	r.devices[ann.DeviceID] = Descriptor{
		DeviceID:     ann.DeviceID,
		Category:     ann.Category,
		TypeName:     ann.TypeName,
		RegisteredAt: ann.RegisteredAt,
		LastSeen:     lastSeen,
	}
	r.mu.Unlock()

	if stale {
		r.logger.Debug("retained announcement past liveness window",
			"device_id", ann.DeviceID,
			"sent_at", ann.SentAt)
		return
	}
	if !known {
		r.logger.Info("device appeared",
			"device_id", ann.DeviceID,
			"category", ann.Category,
			"type_name", ann.TypeName)
	}
}

func (r *Registry) runJanitor() {
	defer close(r.janitorDone)

	ticker := time.NewTicker(r.cfg.HeartbeatPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-r.janitorStop:
			return
		case <-ticker.C:
			r.evictStale()
		}
	}
}

func (r *Registry) evictStale() {
	cutoff := r.now().Add(-r.liveness)
	r.mu.Lock()
	for id, desc := range r.devices {
		if desc.LastSeen.Before(cutoff) {
			delete(r.devices, id)
			r.logger.Info("evicting stale device",
				"device_id", id,
				"last_seen", desc.LastSeen)
		}
	}
	r.mu.Unlock()
}
