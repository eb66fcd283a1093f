package wire

import (
	"fmt"
	"time"
)

// Payload kinds carried in Envelope.Kind. Every payload on the bus is
// tagged with one of these so receivers know how to decode the body.
const (
	KindMeasurement     = "measurement"
	KindMove            = "move"
	KindSetGripper      = "set_gripper"
	KindPanTilt         = "pan_tilt"
	KindAck             = "ack"
	KindAnnouncement    = "announcement"
	KindRegisterRequest = "register_request"
	KindRegisterReply   = "register_reply"
)

// State kinds carried in Measurement.StateKind, identifying the typed
// device state nested in a measurement.
const (
	StateDifferentialDrive = "diff_drive"
	StateSpot              = "spot"
)

// Envelope is the wire framing for every bus payload. The Kind tag tells
// the receiver how to decode Body; RequestID is set on commands that
// expect a correlated acknowledgement, and echoed on the matching ack.
type Envelope struct {
	Kind      string     `cbor:"kind"`
	RequestID string     `cbor:"request_id,omitempty"`
	Body      RawMessage `cbor:"body"`
}

// NewEnvelope encodes body and wraps it in an Envelope tagged with kind.
func NewEnvelope(kind string, body any) (Envelope, error) {
	raw, err := Marshal(body)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding %s body: %w", kind, err)
	}
	return Envelope{Kind: kind, Body: raw}, nil
}

// Encode serializes the envelope to bytes for publishing.
func (e Envelope) Encode() ([]byte, error) {
	return Marshal(e)
}

// Decode unmarshals the envelope body into v. The caller is expected to
// have dispatched on Kind first.
func (e Envelope) Decode(v any) error {
	if err := Unmarshal(e.Body, v); err != nil {
		return fmt.Errorf("%w: decoding %s body: %w", ErrBadPayload, e.Kind, err)
	}
	return nil
}

// DecodeEnvelope parses raw payload bytes into an Envelope.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrBadPayload, err)
	}
	if e.Kind == "" {
		return Envelope{}, fmt.Errorf("%w: missing kind tag", ErrBadPayload)
	}
	return e, nil
}

// Encode is a convenience that seals body in an envelope and serializes
// it in one step. Equivalent to NewEnvelope followed by Encode.
func Encode(kind string, body any) ([]byte, error) {
	env, err := NewEnvelope(kind, body)
	if err != nil {
		return nil, err
	}
	return env.Encode()
}

// Measurement is a telemetry snapshot published on a device's measurement
// channel: a pose in the global frame plus a typed, device-specific state
// payload tagged by StateKind.
type Measurement struct {
	X     float64 `cbor:"x"`
	Y     float64 `cbor:"y"`
	Theta float64 `cbor:"theta"`

	StateKind string     `cbor:"state_kind,omitempty"`
	State     RawMessage `cbor:"state,omitempty"`
}

// SetState encodes state and attaches it to the measurement under kind.
func (m *Measurement) SetState(kind string, state any) error {
	raw, err := Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding %s state: %w", kind, err)
	}
	m.StateKind = kind
	m.State = raw
	return nil
}

// DecodeState unmarshals the nested state payload into v. The caller
// dispatches on StateKind to pick the right target type.
func (m Measurement) DecodeState(v any) error {
	if len(m.State) == 0 {
		return fmt.Errorf("%w: measurement has no state payload", ErrBadPayload)
	}
	if err := Unmarshal(m.State, v); err != nil {
		return fmt.Errorf("%w: decoding %s state: %w", ErrBadPayload, m.StateKind, err)
	}
	return nil
}

// DifferentialDriveState is the typed state of a two-wheeled differential
// drive robot.
type DifferentialDriveState struct {
	V               float64   `cbor:"v"`
	Omega           float64   `cbor:"omega"`
	WheelVelocities []float64 `cbor:"wheel_velocities"`
}

// SpotState is the typed state of a quadruped robot.
type SpotState struct {
	BodyHeight float64 `cbor:"body_height"`
	IsStanding bool    `cbor:"is_standing"`
}

// Move commands target linear and angular velocities.
type Move struct {
	V     float64 `cbor:"v"`
	Omega float64 `cbor:"omega"`
}

// SetGripper commands a gripper position in [0, 1].
type SetGripper struct {
	Position float64 `cbor:"position"`
}

// PanTilt commands a pan/tilt unit (radians).
type PanTilt struct {
	Pan  float64 `cbor:"pan"`
	Tilt float64 `cbor:"tilt"`
}

// Ack acknowledges a command that carried a request id. OK is false when
// the device's command handler returned an error, with Error describing it.
type Ack struct {
	RequestID string `cbor:"request_id"`
	OK        bool   `cbor:"ok"`
	Error     string `cbor:"error,omitempty"`
}

// Announcement is the retained registry record a device publishes on
// registration and republishes as its heartbeat. SentAt is the sender's
// clock at publish time; receivers track arrival for liveness.
type Announcement struct {
	DeviceID     string    `cbor:"device_id"`
	Category     string    `cbor:"category"`
	TypeName     string    `cbor:"type_name"`
	RegisteredAt time.Time `cbor:"registered_at"`
	SentAt       time.Time `cbor:"sent_at"`
}

// RegisterRequest asks the navisd id service for a fresh device id. Token
// is a caller-chosen correlation value naming the reply topic.
type RegisterRequest struct {
	Token    string `cbor:"token"`
	Category string `cbor:"category"`
	TypeName string `cbor:"type_name"`
}

// RegisterReply carries the id assigned by the navisd id service.
type RegisterReply struct {
	Token    string `cbor:"token"`
	DeviceID string `cbor:"device_id"`
}
