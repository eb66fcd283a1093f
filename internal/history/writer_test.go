package history_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/navisrobotics/navis-core/internal/history"
	"github.com/navisrobotics/navis-core/internal/infrastructure/config"
	"github.com/navisrobotics/navis-core/internal/wire"
)

// testConfig returns a configuration for the local dev InfluxDB.
// These values match docker-compose.yml.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "navis-dev-token",
		Org:           "navis",
		Bucket:        "measurements",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// skipIfNoInfluxDB skips the test if InfluxDB is not running.
func skipIfNoInfluxDB(t *testing.T) {
	t.Helper()
	writer, err := history.Connect(testConfig())
	if err != nil {
		t.Skip("InfluxDB not available, skipping integration test")
	}
	writer.Close()
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := history.Connect(cfg)
	if !errors.Is(err, history.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_InvalidURL(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999" // Non-existent port

	if _, err := history.Connect(cfg); err == nil {
		t.Fatal("Connect() should return error for invalid URL")
	}
}

func TestConnect(t *testing.T) {
	skipIfNoInfluxDB(t)

	writer, err := history.Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer writer.Close()

	if !writer.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := writer.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestWriteMeasurement(t *testing.T) {
	skipIfNoInfluxDB(t)

	writer, err := history.Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer writer.Close()

	var writeErr error
	var mu sync.Mutex
	writer.SetOnError(func(err error) {
		mu.Lock()
		writeErr = err
		mu.Unlock()
	})

	m := wire.Measurement{X: 1.5, Y: -0.5, Theta: 0.3}
	err = m.SetState(wire.StateDifferentialDrive, wire.DifferentialDriveState{
		V:     0.7,
		Omega: 0.1,
	})
	if err != nil {
		t.Fatalf("SetState() error = %v", err)
	}

	writer.WriteMeasurement("test-device-001", "pose", m)
	writer.Flush()

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if writeErr != nil {
		t.Errorf("Write error = %v", writeErr)
	}
}

func TestClose(t *testing.T) {
	skipIfNoInfluxDB(t)

	writer, err := history.Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	writer.WriteMeasurement("close-test", "pose", wire.Measurement{X: 1})

	if err := writer.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if writer.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := writer.HealthCheck(context.Background()); !errors.Is(err, history.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}
}
