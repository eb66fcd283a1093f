package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/navisrobotics/navis-core/internal/bustest"
	"github.com/navisrobotics/navis-core/internal/infrastructure/config"
	"github.com/navisrobotics/navis-core/internal/routing"
	"github.com/navisrobotics/navis-core/internal/wire"
)

func testConfig() config.RegistryConfig {
	return config.RegistryConfig{
		HeartbeatInterval:  1,
		LivenessMultiplier: 3,
		RegisterTimeout:    5,
	}
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestRegisterRoundTrip(t *testing.T) {
	bus := bustest.New()
	serviceRouter := routing.New(bus, 1, nil)
	defer serviceRouter.Close()
	deviceRouter := routing.New(bus, 1, nil)
	defer deviceRouter.Close()

	svc := NewIDService(serviceRouter, nil, nil)
	if err := svc.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer svc.Close()

	reg := New(deviceRouter, testConfig(), nil)
	defer reg.Close()

	id, err := reg.Register(context.Background(), "robot", "DifferentialDriveRobot")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if id == "" {
		t.Fatal("Register() returned empty device id")
	}

	// Registration leaves a retained announcement for late joiners.
	announceTopic := routing.Topics{}.Announce(id)
	var announcements []bustest.Message
	for _, m := range bus.Published() {
		if m.Topic == announceTopic {
			announcements = append(announcements, m)
		}
	}
	if len(announcements) != 1 {
		t.Fatalf("announcements published = %d, want 1", len(announcements))
	}
	if !announcements[0].Retained {
		t.Error("announcement should be retained")
	}
}

func TestRegisterDistinctIDs(t *testing.T) {
	bus := bustest.New()
	router := routing.New(bus, 1, nil)
	defer router.Close()

	svc := NewIDService(router, nil, nil)
	if err := svc.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer svc.Close()

	reg := New(router, testConfig(), nil)
	defer reg.Close()

	a, err := reg.Register(context.Background(), "robot", "DifferentialDriveRobot")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	b, err := reg.Register(context.Background(), "robot", "SpotRobot")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if a == b {
		t.Errorf("two registrations got the same id %q", a)
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	bus := bustest.New()
	router := routing.New(bus, 1, nil)
	defer router.Close()

	reg := New(router, testConfig(), nil)
	defer reg.Close()

	if _, err := reg.Register(context.Background(), "", "SomeType"); !errors.Is(err, ErrRegistration) {
		t.Errorf("Register with empty category error = %v, want ErrRegistration", err)
	}
	if _, err := reg.Register(context.Background(), "robot", ""); !errors.Is(err, ErrRegistration) {
		t.Errorf("Register with empty type error = %v, want ErrRegistration", err)
	}
}

func TestRegisterTimesOutWithoutIDService(t *testing.T) {
	bus := bustest.New()
	router := routing.New(bus, 1, nil)
	defer router.Close()

	cfg := testConfig()
	cfg.RegisterTimeout = 1
	reg := New(router, cfg, nil)
	defer reg.Close()

	_, err := reg.Register(context.Background(), "robot", "DifferentialDriveRobot")
	if !errors.Is(err, ErrRegistration) {
		t.Errorf("Register() error = %v, want ErrRegistration", err)
	}
}

func TestRegisterCancelledContext(t *testing.T) {
	bus := bustest.New()
	router := routing.New(bus, 1, nil)
	defer router.Close()

	reg := New(router, testConfig(), nil)
	defer reg.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := reg.Register(ctx, "robot", "DifferentialDriveRobot")
	if !errors.Is(err, ErrRegistration) {
		t.Errorf("Register() error = %v, want ErrRegistration", err)
	}
}

func TestRegisterBusDown(t *testing.T) {
	bus := bustest.New()
	router := routing.New(bus, 1, nil)
	defer router.Close()

	reg := New(router, testConfig(), nil)
	defer reg.Close()

	bus.SetDown(true)

	_, err := reg.Register(context.Background(), "robot", "DifferentialDriveRobot")
	if !errors.Is(err, ErrRegistration) {
		t.Errorf("Register() error = %v, want ErrRegistration", err)
	}
}

func TestWatchDiscoversRegisteredDevices(t *testing.T) {
	bus := bustest.New()
	serviceRouter := routing.New(bus, 1, nil)
	defer serviceRouter.Close()
	deviceRouter := routing.New(bus, 1, nil)
	defer deviceRouter.Close()
	observerRouter := routing.New(bus, 1, nil)
	defer observerRouter.Close()

	svc := NewIDService(serviceRouter, nil, nil)
	if err := svc.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer svc.Close()

	deviceReg := New(deviceRouter, testConfig(), nil)
	defer deviceReg.Close()
	id, err := deviceReg.Register(context.Background(), "robot", "DifferentialDriveRobot")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// The observer joins after registration. The retained announcement
	// must still reach it.
	observer := New(observerRouter, testConfig(), nil)
	defer observer.Close()
	if err := observer.Watch(); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	waitFor(t, time.Second, func() bool {
		_, ok := observer.Get(id)
		return ok
	})

	found := observer.Discover(context.Background(), "robot", 10*time.Millisecond)
	desc, ok := found[id]
	if !ok {
		t.Fatalf("Discover() missing device %s", id)
	}
	if desc.Category != "robot" || desc.TypeName != "DifferentialDriveRobot" {
		t.Errorf("Discover() descriptor = %+v", desc)
	}

	// Category filtering.
	if got := observer.Discover(context.Background(), "sensor", 0); len(got) != 0 {
		t.Errorf("Discover(sensor) = %d devices, want 0", len(got))
	}
}

func TestDiscoverEmptyBusReturnsEmptyMap(t *testing.T) {
	bus := bustest.New()
	router := routing.New(bus, 1, nil)
	defer router.Close()

	reg := New(router, testConfig(), nil)
	defer reg.Close()
	if err := reg.Watch(); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	found := reg.Discover(context.Background(), "robot", 10*time.Millisecond)
	if found == nil {
		t.Fatal("Discover() returned nil map")
	}
	if len(found) != 0 {
		t.Errorf("Discover() = %d devices, want 0", len(found))
	}
}

func TestEvictionAndReappearance(t *testing.T) {
	bus := bustest.New()
	serviceRouter := routing.New(bus, 1, nil)
	defer serviceRouter.Close()
	deviceRouter := routing.New(bus, 1, nil)
	defer deviceRouter.Close()
	observerRouter := routing.New(bus, 1, nil)
	defer observerRouter.Close()

	svc := NewIDService(serviceRouter, nil, nil)
	if err := svc.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer svc.Close()

	deviceReg := New(deviceRouter, testConfig(), nil)
	defer deviceReg.Close()
	id, err := deviceReg.Register(context.Background(), "robot", "DifferentialDriveRobot")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	observer := New(observerRouter, testConfig(), nil)
	defer observer.Close()
	observer.liveness = 50 * time.Millisecond
	if err := observer.Watch(); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	waitFor(t, time.Second, func() bool {
		_, ok := observer.Get(id)
		return ok
	})

	// Let the device go silent past its liveness window.
	time.Sleep(80 * time.Millisecond)
	observer.evictStale()
	if _, ok := observer.Get(id); ok {
		t.Fatal("stale device should have been evicted")
	}
	if got := observer.Discover(context.Background(), "robot", 0); len(got) != 0 {
		t.Errorf("Discover() after eviction = %d devices, want 0", len(got))
	}

	// A resumed heartbeat brings it back with its full descriptor.
	if err := deviceReg.Heartbeat(id); err != nil {
		t.Fatalf("Heartbeat() error = %v", err)
	}
	waitFor(t, time.Second, func() bool {
		_, ok := observer.Get(id)
		return ok
	})
	desc, _ := observer.Get(id)
	if desc.Category != "robot" {
		t.Errorf("reappeared descriptor category = %q, want robot", desc.Category)
	}
}

func TestStaleRetainedAnnouncementNotLive(t *testing.T) {
	bus := bustest.New()

	// A device announced long ago and died without deregistering: its
	// retained announcement is still on the broker.
	payload, err := wire.Encode(wire.KindAnnouncement, wire.Announcement{
		DeviceID:     "dev-dead",
		Category:     "robot",
		TypeName:     "DifferentialDriveRobot",
		RegisteredAt: time.Now().Add(-2 * time.Hour),
		SentAt:       time.Now().Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if err := bus.Publish(routing.Topics{}.Announce("dev-dead"), payload, 1, true); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	router := routing.New(bus, 1, nil)
	defer router.Close()
	reg := New(router, testConfig(), nil)
	defer reg.Close()
	if err := reg.Watch(); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	// The replay makes the device known but not live.
	waitFor(t, time.Second, func() bool {
		_, ok := reg.Get("dev-dead")
		return ok
	})
	if got := reg.Discover(context.Background(), "robot", 0); len(got) != 0 {
		t.Errorf("Discover() reported dead device live: %+v", got)
	}
	if got := reg.Active(); len(got) != 0 {
		t.Errorf("Active() reported dead device live: %+v", got)
	}
}

func TestDeregisterClearsRetainedAnnouncement(t *testing.T) {
	bus := bustest.New()
	serviceRouter := routing.New(bus, 1, nil)
	defer serviceRouter.Close()
	deviceRouter := routing.New(bus, 1, nil)
	defer deviceRouter.Close()
	observerRouter := routing.New(bus, 1, nil)
	defer observerRouter.Close()

	svc := NewIDService(serviceRouter, nil, nil)
	if err := svc.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer svc.Close()

	deviceReg := New(deviceRouter, testConfig(), nil)
	defer deviceReg.Close()
	id, err := deviceReg.Register(context.Background(), "robot", "SpotRobot")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	observer := New(observerRouter, testConfig(), nil)
	defer observer.Close()
	if err := observer.Watch(); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	waitFor(t, time.Second, func() bool {
		_, ok := observer.Get(id)
		return ok
	})

	if err := deviceReg.Deregister(id); err != nil {
		t.Fatalf("Deregister() error = %v", err)
	}

	// Live watchers drop the device without waiting out the liveness
	// window.
	waitFor(t, time.Second, func() bool {
		_, ok := observer.Get(id)
		return !ok
	})

	// And a registry joining afterwards never sees it.
	lateRouter := routing.New(bus, 1, nil)
	defer lateRouter.Close()
	late := New(lateRouter, testConfig(), nil)
	defer late.Close()
	if err := late.Watch(); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if got := late.Discover(context.Background(), "", 20*time.Millisecond); len(got) != 0 {
		t.Errorf("late Discover() = %+v, want empty", got)
	}

	if err := deviceReg.Deregister(id); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("second Deregister() error = %v, want ErrUnknownDevice", err)
	}
}

func TestHeartbeatUnknownDevice(t *testing.T) {
	bus := bustest.New()
	router := routing.New(bus, 1, nil)
	defer router.Close()

	reg := New(router, testConfig(), nil)
	defer reg.Close()

	if err := reg.Heartbeat("no-such-device"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Heartbeat() error = %v, want ErrUnknownDevice", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	bus := bustest.New()
	router := routing.New(bus, 1, nil)
	defer router.Close()

	reg := New(router, testConfig(), nil)
	if err := reg.Watch(); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if err := reg.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := reg.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	if _, err := reg.Register(context.Background(), "robot", "Any"); !errors.Is(err, ErrClosed) {
		t.Errorf("Register() after Close error = %v, want ErrClosed", err)
	}
}
