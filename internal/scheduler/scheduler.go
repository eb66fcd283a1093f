package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/navisrobotics/navis-core/internal/routing"
	"github.com/navisrobotics/navis-core/internal/wire"
)

// defaultCloseGrace bounds how long Close waits for publisher loops to
// finish their current tick.
const defaultCloseGrace = 2 * time.Second

// Provider produces the next measurement for a channel. It is called
// once per tick from the publisher's own goroutine, never concurrently
// with itself.
type Provider func() (wire.Measurement, error)

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

type pubKey struct {
	deviceID string
	channel  string
}

type publisher struct {
	topic    string
	interval time.Duration
	provider Provider
	stop     chan struct{}
	done     chan struct{}
}

// Scheduler runs one publisher loop per device channel, each publishing
// measurements on a fixed wall-clock cadence.
//
// Ticks are anchored to the loop's start time: the nth tick fires at
// start + n*interval regardless of how long earlier ticks took. When a
// slow provider or a stalled bus pushes the loop past one or more
// slots, the missed slots are skipped rather than replayed, so the
// cadence never drifts and the bus never sees a burst of stale
// measurements.
type Scheduler struct {
	router *routing.Router
	logger Logger
	grace  time.Duration

	mu     sync.Mutex
	pubs   map[pubKey]*publisher
	closed bool
}

// New creates a scheduler publishing through the given router. grace
// bounds how long Close waits for in-flight ticks; zero selects the
// default. Pass a nil logger to disable logging.
func New(router *routing.Router, grace time.Duration, logger Logger) *Scheduler {
	if logger == nil {
		logger = noopLogger{}
	}
	if grace <= 0 {
		grace = defaultCloseGrace
	}
	return &Scheduler{
		router: router,
		logger: logger,
		grace:  grace,
		pubs:   make(map[pubKey]*publisher),
	}
}

// Add attaches a publisher to a device channel and starts its loop.
// The first measurement is published one interval after Add returns,
// not immediately.
func (s *Scheduler) Add(deviceID, channel string, interval time.Duration, provider Provider) error {
	if !routing.ValidChannel(channel) {
		return fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}
	if interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}
	if provider == nil {
		return fmt.Errorf("scheduler: nil provider for %s/%s", deviceID, channel)
	}

	key := pubKey{deviceID: deviceID, channel: channel}
	p := &publisher{
		topic:    routing.Topics{}.Measurement(deviceID, channel),
		interval: interval,
		provider: provider,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if _, exists := s.pubs[key]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", ErrPublisherExists, deviceID, channel)
	}
	s.pubs[key] = p
	s.mu.Unlock()

	go s.run(p)
	s.logger.Info("publisher added",
		"device_id", deviceID,
		"channel", channel,
		"interval", interval)
	return nil
}

// Remove detaches the publisher from a device channel and waits for its
// loop to exit.
func (s *Scheduler) Remove(deviceID, channel string) error {
	key := pubKey{deviceID: deviceID, channel: channel}

	s.mu.Lock()
	p, ok := s.pubs[key]
	if ok {
		delete(s.pubs, key)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrPublisherNotFound, deviceID, channel)
	}

	close(p.stop)
	<-p.done
	s.logger.Info("publisher removed", "device_id", deviceID, "channel", channel)
	return nil
}

// RemoveDevice detaches every publisher belonging to a device. It
// returns the number of publishers removed.
func (s *Scheduler) RemoveDevice(deviceID string) int {
	s.mu.Lock()
	var removed []*publisher
	for key, p := range s.pubs {
		if key.deviceID == deviceID {
			delete(s.pubs, key)
			removed = append(removed, p)
		}
	}
	s.mu.Unlock()

	for _, p := range removed {
		close(p.stop)
		<-p.done
	}
	if len(removed) > 0 {
		s.logger.Info("device publishers removed", "device_id", deviceID, "count", len(removed))
	}
	return len(removed)
}

// Close stops every publisher loop, waiting up to the configured grace
// for in-flight ticks. Safe to call more than once.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	remaining := make([]*publisher, 0, len(s.pubs))
	for key, p := range s.pubs {
		delete(s.pubs, key)
		remaining = append(remaining, p)
	}
	s.mu.Unlock()

	for _, p := range remaining {
		close(p.stop)
	}

	deadline := time.After(s.grace)
	for _, p := range remaining {
		select {
		case <-p.done:
		case <-deadline:
			s.logger.Warn("scheduler close grace expired with publishers still running")
			return
		}
	}
	s.logger.Info("scheduler closed")
}

func (s *Scheduler) run(p *publisher) {
	defer close(p.done)

	start := time.Now()
	n := 1
	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-timer.C:
			s.tick(p)
			// Anchor the next slot to the start time, skipping any
			// slots that passed while the tick ran.
			n++
			next := start.Add(time.Duration(n) * p.interval)
			for !next.After(time.Now()) {
				n++
				next = start.Add(time.Duration(n) * p.interval)
			}
			timer.Reset(time.Until(next))
		}
	}
}

// tick produces and publishes one measurement. Failures are logged and
// the slot is skipped; the loop keeps its cadence either way.
func (s *Scheduler) tick(p *publisher) {
	m, err := p.provider()
	if err != nil {
		s.logger.Warn("measurement provider failed", "topic", p.topic, "error", err)
		return
	}
	payload, err := wire.Encode(wire.KindMeasurement, m)
	if err != nil {
		s.logger.Error("failed to encode measurement", "topic", p.topic, "error", err)
		return
	}
	if err := s.router.Publish(p.topic, payload); err != nil {
		s.logger.Warn("failed to publish measurement", "topic", p.topic, "error", err)
	}
}
