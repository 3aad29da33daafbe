package motion

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/happychair/yawgo/internal/debug"
	"github.com/happychair/yawgo/internal/hw/pulse"
	"github.com/happychair/yawgo/internal/logic/interlock"
	"github.com/happychair/yawgo/internal/logic/motor"
)

// tick performs one control loop step: read the latest Target, advance
// Actual toward it, gate through the interlock and emit a hardware
// command if anything changed. Exposed on the struct so tests can drive
// it with a controlled clock.
func (c *Controller) tick(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.target
	if t.gen != c.plannedGen {
		c.plan(t, now)
	}

	ilst := c.ilock.Status()

	switch c.ph {
	case phaseDirect:
		if clampedByInterlock(t.dir, ilst) {
			// Locked, or limit active in the commanded direction: the
			// gate is immediate, not a smooth decel.
			c.actualSpeed = 0
		} else {
			eff := t.speed
			if t.dir == motor.Stopped {
				eff = 0
			}
			c.step(eff, c.deadline, t.duration, t.divisions, now)
		}
		if c.actualSpeed == 0 && t.dir == motor.Stopped {
			c.actualDir = motor.Stopped
		}

	case phaseDecel:
		if clampedByInterlock(c.actualDir, ilst) {
			c.actualSpeed = 0
		} else {
			c.step(0, c.legDeadline, c.legDuration, t.divisions, now)
		}
		if c.actualSpeed <= 0 {
			c.actualSpeed = 0
			c.actualDir = motor.Stopped
			c.ph = phaseDwell
			c.dwellUntil = now.Add(c.cfg.Dwell)
		}

	case phaseDwell:
		if !now.Before(c.dwellUntil) {
			c.actualDir = t.dir
			c.ph = phaseAccel
			c.deadline = now.Add(c.leg2)
			if clampedByInterlock(t.dir, ilst) {
				c.actualSpeed = 0
			} else {
				c.step(t.speed, c.deadline, c.leg2, t.divisions, now)
			}
		}

	case phaseAccel:
		if clampedByInterlock(t.dir, ilst) {
			c.actualSpeed = 0
		} else {
			c.step(t.speed, c.deadline, c.leg2, t.divisions, now)
		}
	}

	c.emit()
}

// plan reacts to a newly accepted Target: either a straight convergence
// from the current Actual, or a two-leg reversal with the total duration
// split proportionally to the distance each leg travels.
func (c *Controller) plan(t target, now time.Time) {
	c.plannedGen = t.gen

	if c.actualSpeed > 0 && c.actualDir != motor.Stopped && t.dir != c.actualDir {
		total := t.duration
		frac := c.actualSpeed / (c.actualSpeed + t.speed)
		leg1 := time.Duration(float64(total) * frac)
		c.legDeadline = t.accepted.Add(leg1)
		c.legDuration = leg1
		c.leg2 = total - leg1
		c.ph = phaseDecel
		debug.Verbose("Reversal planned: leg1=%v leg2=%v (split %.2f)", leg1, c.leg2, frac)
		return
	}

	if c.actualSpeed == 0 && t.dir != motor.Stopped {
		c.actualDir = t.dir
	}
	c.ph = phaseDirect
	c.deadline = t.accepted.Add(t.duration)
}

// step advances actualSpeed linearly toward target so the transition
// completes at deadline. A zero total duration jumps in a single tick.
// divisions is a minimum-granularity floor on the remaining tick count,
// naturally satisfied by the fixed tick rate for reasonable values.
func (c *Controller) step(targetSpeed float64, deadline time.Time, total time.Duration, divisions int, now time.Time) {
	if total == 0 {
		c.actualSpeed = targetSpeed
		return
	}

	remaining := deadline.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	ticks := int(math.Round(float64(remaining) / float64(c.cfg.TickPeriod)))
	if ticks < 1 {
		ticks = 1
	}
	if divisions > 1 {
		grain := total / time.Duration(divisions)
		if grain > 0 {
			if floor := int(math.Ceil(float64(remaining) / float64(grain))); floor > ticks {
				ticks = floor
			}
		}
	}

	delta := (targetSpeed - c.actualSpeed) / float64(ticks)
	next := c.actualSpeed + delta
	// Clamp so Actual never overshoots the target.
	if (delta > 0 && next > targetSpeed) || (delta < 0 && next < targetSpeed) {
		next = targetSpeed
	}
	c.actualSpeed = next
}

// emit gates the Actual state through the interlock and pushes the
// resulting (direction, frequency) to the pulse context only when it
// differs from the last value sent.
func (c *Controller) emit() {
	gDir, gSpeed := c.ilock.Gate(c.actualDir, c.actualSpeed)

	if gSpeed <= 0 {
		if c.sentOnce && c.last.freqHz == 0 {
			return
		}
		if err := c.pulse.Halt(); err != nil {
			c.absorb(err)
			return
		}
		c.last.freqHz = 0
		c.sentOnce = true
		return
	}

	fw := c.last.forward
	switch gDir {
	case motor.Forward:
		fw = true
	case motor.Reverse:
		fw = false
	}
	freq := c.cfg.frequencyFor(gSpeed)
	if c.sentOnce && c.last.forward == fw && c.last.freqHz == freq {
		return
	}

	if err := c.pulse.Configure(fw); err != nil {
		c.absorb(err)
		return
	}
	if err := c.pulse.Drive(freq); err != nil {
		c.absorb(err)
		return
	}
	c.last = sent{forward: fw, freqHz: freq}
	c.sentOnce = true
	debug.Motor(string(gDir), gSpeed, freq)
}

// absorb swallows hardware faults per the propagation policy: motion
// commands stay non-throwing, the condition is visible through
// GetStats().HardwareAlive instead.
func (c *Controller) absorb(err error) {
	if errors.Is(err, pulse.ErrUnavailable) {
		return
	}
	debug.Error(fmt.Errorf("pulse command: %w", err))
}

func clampedByInterlock(dir motor.Direction, st interlock.Status) bool {
	if st.Locked {
		return true
	}
	switch dir {
	case motor.Forward:
		return st.ForwardBlocked
	case motor.Reverse:
		return st.ReverseBlocked
	}
	return false
}
