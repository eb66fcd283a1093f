package robot

import (
	"fmt"
	"sync"

	"github.com/navisrobotics/navis-core/internal/wire"
)

// defaultWheelBase is the distance between wheel centres in metres.
const defaultWheelBase = 0.15

// DifferentialDriveRobot models a two-wheeled robot driven by linear
// and angular velocity setpoints. All methods are safe for concurrent
// use; the command handler and the measurement provider run on
// different goroutines.
type DifferentialDriveRobot struct {
	mu        sync.Mutex
	x, y      float64
	theta     float64
	v, omega  float64
	wheelBase float64
}

// NewDifferentialDrive creates a robot at the origin. wheelBase is in
// metres; zero selects the default.
func NewDifferentialDrive(wheelBase float64) *DifferentialDriveRobot {
	if wheelBase <= 0 {
		wheelBase = defaultWheelBase
	}
	return &DifferentialDriveRobot{wheelBase: wheelBase}
}

// TypeName returns the device type advertised at registration.
func (r *DifferentialDriveRobot) TypeName() string { return "DifferentialDriveRobot" }

// Category returns the device category advertised at registration.
func (r *DifferentialDriveRobot) Category() string { return "robot" }

// Measurement returns the robot's current pose and drive state.
func (r *DifferentialDriveRobot) Measurement() (wire.Measurement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Inverse kinematics for the per-wheel velocities.
	left := r.v - r.omega*r.wheelBase/2
	right := r.v + r.omega*r.wheelBase/2

	m := wire.Measurement{X: r.x, Y: r.y, Theta: r.theta}
	err := m.SetState(wire.StateDifferentialDrive, wire.DifferentialDriveState{
		V:               r.v,
		Omega:           r.omega,
		WheelVelocities: []float64{left, right},
	})
	if err != nil {
		return wire.Measurement{}, err
	}
	return m, nil
}

// HandleCommand applies a command to the robot. Unknown kinds are
// rejected so the sender's ack reports the failure.
func (r *DifferentialDriveRobot) HandleCommand(env wire.Envelope) error {
	switch env.Kind {
	case wire.KindMove:
		var mv wire.Move
		if err := env.Decode(&mv); err != nil {
			return fmt.Errorf("robot: decode move: %w", err)
		}
		r.mu.Lock()
		r.v = mv.V
		r.omega = mv.Omega
		r.mu.Unlock()
		return nil
	default:
		return fmt.Errorf("robot: differential drive does not support %q", env.Kind)
	}
}

// SetPose places the robot at an absolute pose. Used by tests and
// simulation drivers.
func (r *DifferentialDriveRobot) SetPose(x, y, theta float64) {
	r.mu.Lock()
	r.x, r.y, r.theta = x, y, theta
	r.mu.Unlock()
}

// Velocity returns the current linear and angular setpoints.
func (r *DifferentialDriveRobot) Velocity() (v, omega float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.v, r.omega
}
