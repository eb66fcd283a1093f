// Navis Core - device communication router daemon.
//
// navisd is the one per-deployment process on the Navis bus. It
// assigns device ids, watches every announcement, mirrors measurements
// into history and serves the HTTP status API. Devices and controllers
// are separate processes built on the same internal packages.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/navisrobotics/navis-core/internal/api"
	"github.com/navisrobotics/navis-core/internal/history"
	"github.com/navisrobotics/navis-core/internal/infrastructure/config"
	"github.com/navisrobotics/navis-core/internal/infrastructure/database"
	"github.com/navisrobotics/navis-core/internal/infrastructure/logging"
	"github.com/navisrobotics/navis-core/internal/infrastructure/mqtt"
	"github.com/navisrobotics/navis-core/internal/registry"
	"github.com/navisrobotics/navis-core/internal/routing"
	"github.com/navisrobotics/navis-core/internal/server"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting navisd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database (optional)
	var store *registry.Store
	if cfg.Database.Enabled {
		db, err := database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database connected", "path", cfg.Database.Path)

		store, err = registry.NewStore(ctx, db.DB)
		if err != nil {
			return fmt.Errorf("initialising registration store: %w", err)
		}
	} else {
		log.Info("database disabled, registrations will not be persisted")
	}

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnConnectionLost(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Topic router over the broker connection
	// #nosec G115 -- QoS validated by config to be 0..2
	router := routing.New(mqttClient, byte(cfg.MQTT.QoS), log)
	defer router.Close()

	// Connect to InfluxDB (optional)
	var historyWriter *history.Writer
	if cfg.InfluxDB.Enabled {
		historyWriter, err = history.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := historyWriter.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		historyWriter.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled, measurements will not be recorded")
	}

	// Device registry
	reg := registry.New(router, cfg.Registry, log)
	defer func() {
		if closeErr := reg.Close(); closeErr != nil {
			log.Error("error closing registry", "error", closeErr)
		}
	}()

	// Core server: id service, registry watch, measurement observer
	core, err := server.New(server.Deps{
		Router:   router,
		Registry: reg,
		Store:    store,
		History:  historyWriter,
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("creating core server: %w", err)
	}
	if err := core.Start(); err != nil {
		return fmt.Errorf("starting core server: %w", err)
	}
	defer func() {
		log.Info("stopping core server")
		if closeErr := core.Close(); closeErr != nil {
			log.Error("error closing core server", "error", closeErr)
		}
	}()

	// HTTP status API (optional)
	if cfg.API.Enabled {
		checks := map[string]api.HealthChecker{
			"mqtt": mqttClient,
		}
		if historyWriter != nil {
			checks["influxdb"] = historyWriter
		}
		apiServer, err := api.New(api.Deps{
			Config:   cfg.API,
			Logger:   log,
			Registry: reg,
			Store:    store,
			Version:  version,
			Checks:   checks,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := apiServer.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	// Verify connections are healthy before declaring readiness
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: mqtt: %w", err)
	}
	if historyWriter != nil {
		if err := historyWriter.HealthCheck(ctx); err != nil {
			return fmt.Errorf("health check failed: influxdb: %w", err)
		}
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server (if enabled)
	// 2. Core server
	// 3. Registry and topic router
	// 4. InfluxDB (if enabled)
	// 5. MQTT
	// 6. Database (if enabled)

	log.Info("navisd stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses NAVIS_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("NAVIS_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
