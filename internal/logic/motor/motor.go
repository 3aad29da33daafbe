package motor

import "fmt"

// Direction is the commanded sense of rotation for the yaw axis.
// Stopped means speed is irrelevant and treated as 0.
type Direction string

const (
	Forward Direction = "forward"
	Reverse Direction = "reverse"
	Stopped Direction = "stopped"
)

// ParseDirection validates a direction string from an external caller
// (web API, config file).
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case Forward, Reverse, Stopped:
		return Direction(s), nil
	default:
		return Stopped, fmt.Errorf("unknown direction %q", s)
	}
}

// ClampSpeed forces a speed value into the [0, 1] domain.
// Out-of-range values clamp silently rather than fail.
func ClampSpeed(speed float64) float64 {
	if speed < 0 {
		return 0
	}
	if speed > 1 {
		return 1
	}
	return speed
}

// Stats is a read-only snapshot of the motor state, assembled without
// blocking on the pulse context.
type Stats struct {
	Direction          Direction `json:"direction"`
	Speed              float64   `json:"speed"`
	FrequencyHz        float64   `json:"frequency_hz"`
	ClutchEngaged      bool      `json:"clutch_engaged"`
	ClutchLocked       bool      `json:"clutch_locked"`
	ForwardLimitActive bool      `json:"forward_limit_active"`
	ReverseLimitActive bool      `json:"reverse_limit_active"`
	HardwareAlive      bool      `json:"hardware_context_alive"`
}
