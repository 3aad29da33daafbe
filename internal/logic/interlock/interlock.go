package interlock

import (
	"sync"

	"github.com/happychair/yawgo/internal/debug"
	"github.com/happychair/yawgo/internal/hw/gpio"
	"github.com/happychair/yawgo/internal/logic/motor"
)

// Interlock couples motor engagement to the clutch solenoid, the manual
// lock and the limit switches. It is a pure state gate: the transition
// controller consults it each tick before emitting a hardware command, and
// engagement is a side effect of gating a nonzero speed. There is no
// public "engage" operation.
type Interlock struct {
	gpio      gpio.Driver
	clutchPin int // solenoid output (BCM). 0 = no clutch fitted.

	mu             sync.Mutex
	engaged        bool
	locked         bool
	forwardBlocked bool
	reverseBlocked bool
}

// Status is a snapshot of the interlock state.
type Status struct {
	Engaged        bool
	Locked         bool
	ForwardBlocked bool
	ReverseBlocked bool
}

// New creates an interlock owning the clutch solenoid pin. The clutch
// starts disengaged and unlocked.
func New(g gpio.Driver, clutchPin int) *Interlock {
	i := &Interlock{gpio: g, clutchPin: clutchPin}
	if clutchPin > 0 {
		_ = g.SetupPin(clutchPin, gpio.Output)
		_ = g.WritePin(clutchPin, gpio.Low)
	}
	return i
}

// Gate clamps a proposed (direction, speed) pair by the safety rules, in
// priority order: manual lock, then a limit switch active in the commanded
// direction. It then updates clutch engagement to match the gated speed.
// The opposite direction stays commandable while a limit is active, so the
// actuator can be driven off the stop.
func (i *Interlock) Gate(dir motor.Direction, speed float64) (motor.Direction, float64) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if speed <= 0 || dir == motor.Stopped {
		speed = 0
	}
	if i.locked {
		speed = 0
	}
	if dir == motor.Forward && i.forwardBlocked {
		speed = 0
	}
	if dir == motor.Reverse && i.reverseBlocked {
		speed = 0
	}

	i.setEngagedLocked(speed > 0 && !i.locked)
	return dir, speed
}

// SetLock manually locks or unlocks the clutch. Locking forces immediate
// disengagement; motion commands are gated to 0 until unlocked.
func (i *Interlock) SetLock(locked bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.locked = locked
	if locked {
		i.setEngagedLocked(false)
		debug.Clutch("manually locked")
	} else {
		debug.Clutch("manual lock released")
	}
}

// EmergencyLatch disengages the clutch and latches the lock. Safety
// overrides smoothness: the caller zeroes motion state in the same step.
func (i *Interlock) EmergencyLatch() {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.locked = true
	i.setEngagedLocked(false)
	debug.Clutch("EMERGENCY disengage, lock latched")
}

// OnLimitChanged records a limit-switch transition delivered by the
// external GPIO event source.
func (i *Interlock) OnLimitChanged(side motor.Direction, active bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	switch side {
	case motor.Forward:
		i.forwardBlocked = active
	case motor.Reverse:
		i.reverseBlocked = active
	}
}

// Reset restores the startup state: disengaged and unlocked. Limit state
// is kept, since the event source is authoritative for it.
func (i *Interlock) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.locked = false
	i.setEngagedLocked(false)
}

// ForceDisengage releases the clutch regardless of state. Used on every
// teardown path so the pin ends in the known-safe configuration.
func (i *Interlock) ForceDisengage() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.setEngagedLocked(false)
}

// Status returns a snapshot for get_stats. Never blocks on hardware.
func (i *Interlock) Status() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return Status{
		Engaged:        i.engaged,
		Locked:         i.locked,
		ForwardBlocked: i.forwardBlocked,
		ReverseBlocked: i.reverseBlocked,
	}
}

// setEngagedLocked drives the solenoid when engagement changes.
// Caller holds i.mu.
func (i *Interlock) setEngagedLocked(engaged bool) {
	if engaged == i.engaged {
		return
	}
	i.engaged = engaged
	if i.clutchPin > 0 {
		level := gpio.Low
		if engaged {
			level = gpio.High
		}
		if err := i.gpio.WritePin(i.clutchPin, level); err != nil {
			debug.Error(err)
			return
		}
	}
	debug.Clutch("%s", engagedName(engaged))
}

func engagedName(engaged bool) string {
	if engaged {
		return "engaged"
	}
	return "disengaged"
}
