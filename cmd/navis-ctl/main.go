// Navis Core - scripted robot controller.
//
// navis-ctl discovers one robot on the bus and drives it through a
// fixed rectangular path, then stops it. It is the controller side
// counterpart to navis-sim and a smoke test for a full deployment.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/navisrobotics/navis-core/internal/infrastructure/config"
	"github.com/navisrobotics/navis-core/internal/infrastructure/logging"
	"github.com/navisrobotics/navis-core/internal/infrastructure/mqtt"
	"github.com/navisrobotics/navis-core/internal/registry"
	"github.com/navisrobotics/navis-core/internal/routing"
	"github.com/navisrobotics/navis-core/internal/session"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	discoveryWindow   = 5 * time.Second
	ackTimeout        = 2 * time.Second
)

// step is one leg of the scripted path.
type step struct {
	v, omega float64
	duration time.Duration
}

// path drives a rough rectangle and returns to a stop.
var path = []step{
	{3.0, 0.0, 3 * time.Second},
	{0.0, -0.7, 2 * time.Second},
	{3.0, 0.0, 3 * time.Second},
	{0.0, -0.7, 2 * time.Second},
	{3.0, 0.0, 6 * time.Second},
	{0.0, -0.7, 2 * time.Second},
	{3.0, 0.0, 6 * time.Second},
	{0.0, -0.7, 2 * time.Second},
	{3.0, 0.0, 3 * time.Second},
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting navis-ctl",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)

	cfg.MQTT.Broker.ClientID = fmt.Sprintf("navis-ctl-%d", os.Getpid())

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)

	// #nosec G115 -- QoS validated by config to be 0..2
	router := routing.New(mqttClient, byte(cfg.MQTT.QoS), log)
	defer router.Close()

	reg := registry.New(router, cfg.Registry, log)
	defer func() {
		if closeErr := reg.Close(); closeErr != nil {
			log.Error("error closing registry", "error", closeErr)
		}
	}()
	if err := reg.Watch(); err != nil {
		return fmt.Errorf("watching announcements: %w", err)
	}

	ctrl := session.NewControllerSession(router, reg, log)
	defer func() {
		if closeErr := ctrl.Close(); closeErr != nil {
			log.Error("error closing controller", "error", closeErr)
		}
	}()

	log.Info("discovering robots", "window", discoveryWindow)
	robots := ctrl.Discover(ctx, "robot", discoveryWindow)
	if len(robots) == 0 {
		return errors.New("no robots found on the bus")
	}

	ids := make([]string, 0, len(robots))
	for id := range robots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	target := ids[0]
	log.Info("driving robot",
		"device_id", target,
		"type_name", robots[target].TypeName,
		"found", len(robots),
	)

	if err := drive(ctx, ctrl, target, log); err != nil {
		return err
	}

	log.Info("path complete")
	return nil
}

// drive walks the scripted path, then stops the robot. The final stop
// waits for an ack so a lost stop command is reported rather than
// leaving the robot moving.
func drive(ctx context.Context, ctrl *session.ControllerSession, target string, log *logging.Logger) error {
	for _, s := range path {
		log.Info("move", "v", s.v, "omega", s.omega, "duration", s.duration)
		if err := ctrl.Move(target, s.v, s.omega); err != nil {
			return fmt.Errorf("sending move: %w", err)
		}
		select {
		case <-ctx.Done():
			log.Info("interrupted, stopping robot")
			return stop(ctrl, target)
		case <-time.After(s.duration):
		}
	}
	return stop(ctrl, target)
}

func stop(ctrl *session.ControllerSession, target string) error {
	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()

	ack, err := ctrl.MoveAndWait(ctx, target, 0, 0, ackTimeout)
	if err != nil {
		return fmt.Errorf("stopping robot: %w", err)
	}
	if !ack.OK {
		return fmt.Errorf("robot rejected stop: %s", ack.Error)
	}
	return nil
}

func getConfigPath() string {
	if path := os.Getenv("NAVIS_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
