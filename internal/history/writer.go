package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/navisrobotics/navis-core/internal/infrastructure/config"
	"github.com/navisrobotics/navis-core/internal/wire"
)

// Default timeouts for InfluxDB operations.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second

	// millisecondsPerSecond converts seconds to milliseconds for the InfluxDB API.
	millisecondsPerSecond = 1000
)

// Writer records device measurements to InfluxDB.
//
// Writes are non-blocking and batched by the underlying client; errors
// surface asynchronously through the SetOnError callback. All methods
// are safe for concurrent use.
type Writer struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	cfg      config.InfluxDBConfig

	connected bool
	mu        sync.RWMutex

	onError func(err error)
}

// Connect establishes a connection to the InfluxDB server.
//
// It creates the client with token authentication, verifies
// connectivity with a ping and configures the non-blocking write API
// with batching.
//
// Parameters:
//   - cfg: InfluxDB configuration from config.yaml
//
// Returns:
//   - *Writer: Connected writer ready for use
//   - error: If history is disabled or connection fails
func Connect(cfg config.InfluxDBConfig) (*Writer, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 10
	}

	// #nosec G115 -- values validated above to be positive
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*millisecondsPerSecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)

	w := &Writer{
		client:    client,
		writeAPI:  writeAPI,
		cfg:       cfg,
		connected: true,
	}

	errorsCh := writeAPI.Errors()
	go w.handleWriteErrors(errorsCh)

	return w, nil
}

// handleWriteErrors processes async write errors from the WriteAPI.
func (w *Writer) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		w.mu.RLock()
		callback := w.onError
		w.mu.RUnlock()

		if callback != nil {
			callback(err)
		}
	}
}

// WriteMeasurement records one device measurement.
//
// The pose always becomes point fields. When the measurement carries a
// differential drive state its velocities are recorded too; other
// state kinds keep just the pose, tagged with their state kind so the
// series stays queryable per type.
func (w *Writer) WriteMeasurement(deviceID, channel string, m wire.Measurement) {
	if !w.IsConnected() {
		return
	}

	fields := map[string]interface{}{
		"x":     m.X,
		"y":     m.Y,
		"theta": m.Theta,
	}
	if m.StateKind == wire.StateDifferentialDrive {
		var state wire.DifferentialDriveState
		if err := m.DecodeState(&state); err == nil {
			fields["v"] = state.V
			fields["omega"] = state.Omega
		}
	}

	point := write.NewPoint(
		"measurements",
		map[string]string{
			"device_id":  deviceID,
			"channel":    channel,
			"state_kind": m.StateKind,
		},
		fields,
		time.Now(),
	)

	w.writeAPI.WritePoint(point)
}

// Close flushes pending writes and shuts the connection down.
//
// Returns:
//   - error: nil (InfluxDB client Close doesn't return errors)
func (w *Writer) Close() error {
	if w.client == nil {
		return nil
	}

	w.mu.Lock()
	w.connected = false
	w.mu.Unlock()

	w.writeAPI.Flush()
	w.client.Close()
	return nil
}

// HealthCheck verifies the InfluxDB connection is alive and functioning.
func (w *Writer) HealthCheck(ctx context.Context) error {
	if !w.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := w.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("history health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("history health check failed: server not healthy")
	}
	return nil
}

// IsConnected returns the last known connection state. For reliability
// use HealthCheck, which performs an active ping.
func (w *Writer) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

// SetOnError sets a callback invoked when async write errors occur.
func (w *Writer) SetOnError(callback func(err error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onError = callback
}

// Flush forces all pending writes to be sent. Safe to call after
// Close (no-op).
func (w *Writer) Flush() {
	if w.writeAPI == nil {
		return
	}
	if !w.IsConnected() {
		return
	}
	w.writeAPI.Flush()
}
