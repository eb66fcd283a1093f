// Navis Core - simulated robot device.
//
// navis-sim runs one simulated differential drive robot as a device
// session: it registers with navisd, publishes pose measurements on a
// fixed interval and applies Move commands from the bus. The pose is
// dead reckoned from the commanded velocities, with a little noise so
// the telemetry looks alive.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/navisrobotics/navis-core/internal/infrastructure/config"
	"github.com/navisrobotics/navis-core/internal/infrastructure/logging"
	"github.com/navisrobotics/navis-core/internal/infrastructure/mqtt"
	"github.com/navisrobotics/navis-core/internal/registry"
	"github.com/navisrobotics/navis-core/internal/robot"
	"github.com/navisrobotics/navis-core/internal/routing"
	"github.com/navisrobotics/navis-core/internal/scheduler"
	"github.com/navisrobotics/navis-core/internal/session"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

// simStep is the dead reckoning integration period.
const simStep = 100 * time.Millisecond

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	wheelBase := flag.Float64("wheel-base", 0.15, "distance between wheel centres in metres")
	interval := flag.Duration("interval", 100*time.Millisecond, "pose publish interval")
	flag.Parse()

	if err := run(ctx, *wheelBase, *interval); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, wheelBase float64, interval time.Duration) error {
	log := logging.Default()
	log.Info("starting navis-sim",
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

	// Each sim process needs its own broker identity or the broker
	// drops the earlier connection.
	cfg.MQTT.Broker.ClientID = fmt.Sprintf("navis-sim-%d", os.Getpid())

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
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// #nosec G115 -- QoS validated by config to be 0..2
	router := routing.New(mqttClient, byte(cfg.MQTT.QoS), log)
	defer router.Close()

	reg := registry.New(router, cfg.Registry, log)
	defer func() {
		if closeErr := reg.Close(); closeErr != nil {
			log.Error("error closing registry", "error", closeErr)
		}
	}()

	sched := scheduler.New(router, cfg.Scheduler.Grace(), log)
	defer sched.Close()

	bot := robot.NewDifferentialDrive(wheelBase)

	sess := session.NewDeviceSession(router, reg, sched, bot,
		[]session.PublisherConfig{{Channel: "pose", Interval: interval}},
		cfg.Registry.HeartbeatPeriod(), log)
	defer func() {
		if closeErr := sess.Close(); closeErr != nil {
			log.Error("error closing session", "error", closeErr)
		}
	}()

	if err := sess.Register(ctx); err != nil {
		return fmt.Errorf("registering with navisd: %w", err)
	}
	log.Info("registered", "device_id", sess.ID())

	if err := sess.Start(); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}

	go simulate(ctx, bot)

	log.Info("simulated robot running, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received")
	return nil
}

// simulate dead reckons the robot pose from its commanded velocities.
// The session's scheduler reads the pose concurrently through the
// robot's Measurement method.
func simulate(ctx context.Context, bot *robot.DifferentialDriveRobot) {
	ticker := time.NewTicker(simStep)
	defer ticker.Stop()

	var x, y, theta float64
	dt := simStep.Seconds()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v, omega := bot.Velocity()
			theta += omega * dt
			x += v * math.Cos(theta) * dt
			y += v * math.Sin(theta) * dt
			bot.SetPose(
				x+rand.Float64()*0.02-0.01,
				y+rand.Float64()*0.02-0.01,
				theta,
			)
		}
	}
}

func getConfigPath() string {
	if path := os.Getenv("NAVIS_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
