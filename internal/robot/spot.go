package robot

import (
	"fmt"
	"sync"

	"github.com/navisrobotics/navis-core/internal/wire"
)

// SpotRobot models a quadruped with a controllable body height. It
// accepts move commands while standing and rejects them while sitting.
type SpotRobot struct {
	mu         sync.Mutex
	x, y       float64
	theta      float64
	bodyHeight float64
	standing   bool
}

// NewSpot creates a standing quadruped at the origin.
func NewSpot() *SpotRobot {
	return &SpotRobot{standing: true, bodyHeight: 0.5}
}

// TypeName returns the device type advertised at registration.
func (r *SpotRobot) TypeName() string { return "SpotRobot" }

// Category returns the device category advertised at registration.
func (r *SpotRobot) Category() string { return "robot" }

// Measurement returns the robot's pose and stance.
func (r *SpotRobot) Measurement() (wire.Measurement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := wire.Measurement{X: r.x, Y: r.y, Theta: r.theta}
	err := m.SetState(wire.StateSpot, wire.SpotState{
		BodyHeight: r.bodyHeight,
		IsStanding: r.standing,
	})
	if err != nil {
		return wire.Measurement{}, err
	}
	return m, nil
}

// HandleCommand applies a command to the robot.
func (r *SpotRobot) HandleCommand(env wire.Envelope) error {
	switch env.Kind {
	case wire.KindMove:
		var mv wire.Move
		if err := env.Decode(&mv); err != nil {
			return fmt.Errorf("robot: decode move: %w", err)
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if !r.standing {
			return fmt.Errorf("robot: spot cannot move while sitting")
		}
		// Dead-reckon a step in the commanded direction.
		r.theta += mv.Omega
		r.x += mv.V
		return nil
	default:
		return fmt.Errorf("robot: spot does not support %q", env.Kind)
	}
}

// SetStanding toggles the robot's stance.
func (r *SpotRobot) SetStanding(standing bool) {
	r.mu.Lock()
	r.standing = standing
	r.mu.Unlock()
}
