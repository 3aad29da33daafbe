package motion

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/happychair/yawgo/internal/debug"
	"github.com/happychair/yawgo/internal/hw/pulse"
	"github.com/happychair/yawgo/internal/logic/interlock"
	"github.com/happychair/yawgo/internal/logic/motor"
)

// ErrInvalidCommand rejects commands that cannot be clamped into range,
// e.g. a negative transition duration. Out-of-range speeds clamp silently
// instead.
var ErrInvalidCommand = errors.New("motion: invalid command")

// Pulse is the hardware pulse context as seen by the controller. The
// concrete implementation runs isolated (see internal/hw/pulse); all
// methods are non-blocking and fail fast once the context is gone.
type Pulse interface {
	Start() error
	Configure(forward bool) error
	Drive(freqHz float64) error
	Halt() error
	Alive() bool
	Shutdown() error
}

// Config holds the control loop parameters.
type Config struct {
	TickPeriod time.Duration // control loop period, default 50ms (20 Hz)
	Dwell      time.Duration // hold at zero between reversal legs, default 50ms

	MinFrequencyHz float64 // step frequency at speed just above 0, default 50
	MaxFrequencyHz float64 // step frequency at speed 1.0, default 500
}

func (c *Config) applyDefaults() {
	if c.TickPeriod <= 0 {
		c.TickPeriod = 50 * time.Millisecond
	}
	if c.Dwell <= 0 {
		c.Dwell = 50 * time.Millisecond
	}
	if c.MinFrequencyHz <= 0 {
		c.MinFrequencyHz = 50
	}
	if c.MaxFrequencyHz <= c.MinFrequencyHz {
		c.MaxFrequencyHz = 500
	}
}

func (c Config) frequencyFor(speed float64) float64 {
	if speed <= 0 {
		return 0
	}
	return c.MinFrequencyHz + speed*(c.MaxFrequencyHz-c.MinFrequencyHz)
}

// state is the controller lifecycle: Idle -> Running -> Stopping -> Idle.
type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopping
)

// target is the most recently accepted command, converted to absolute
// terms. It is overwritten whole on each SetSpeed, never partially
// applied.
type target struct {
	gen       uint64 // bumped on every accept; the tick replans when it changes
	dir       motor.Direction
	speed     float64
	duration  time.Duration
	divisions int
	accepted  time.Time
}

// phase is the tick loop's position within the current maneuver.
type phase int

const (
	phaseDirect phase = iota // converge toward target in the current direction
	phaseDecel               // reversal leg 1: drive speed to 0
	phaseDwell               // hold Stopped between legs
	phaseAccel               // reversal leg 2: accelerate in the new direction
)

// sent is the last (direction, frequency) pushed to the pulse context.
type sent struct {
	forward bool
	freqHz  float64
}

// Controller owns the Target and Actual motor state and runs the
// fixed-rate control loop that steps Actual toward Target, gated by the
// clutch interlock. It is the public motor surface: callers may invoke
// SetSpeed at any rate; the loop always re-aims smoothly from wherever
// Actual currently is instead of restarting in-flight motion.
type Controller struct {
	cfg   Config
	pulse Pulse
	ilock *interlock.Interlock

	clock func() time.Time // injected in tests

	mu     sync.Mutex
	st     state
	target target

	// Tick-owned fields, guarded by mu only because GetStats reads them.
	actualDir   motor.Direction
	actualSpeed float64
	ph          phase
	plannedGen  uint64
	deadline    time.Time // direct / leg 2 deadline
	legDeadline time.Time // leg 1 (decelerate-to-zero) deadline
	legDuration time.Duration
	leg2        time.Duration
	dwellUntil  time.Time
	last        sent
	sentOnce    bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewController creates the motor facade over a pulse context and a
// clutch interlock. The control loop does not run until Start.
func NewController(p Pulse, il *interlock.Interlock, cfg Config) *Controller {
	cfg.applyDefaults()
	return &Controller{
		cfg:       cfg,
		pulse:     p,
		ilock:     il,
		clock:     time.Now,
		actualDir: motor.Stopped,
	}
}

// Start initializes the pulse context and the control loop. Idempotent if
// already started.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.st == stateRunning {
		c.mu.Unlock()
		return nil
	}
	if c.st == stateStopping {
		c.mu.Unlock()
		return fmt.Errorf("motion: controller is stopping")
	}
	c.mu.Unlock()

	if err := c.pulse.Start(); err != nil {
		return fmt.Errorf("start pulse context: %w", err)
	}

	c.mu.Lock()
	now := c.clock()
	c.target = target{dir: motor.Stopped, accepted: now}
	c.actualDir = motor.Stopped
	c.actualSpeed = 0
	c.ph = phaseDirect
	c.plannedGen = 0
	c.last = sent{}
	c.sentOnce = false
	c.st = stateRunning
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	stop, done := c.stopCh, c.doneCh
	c.mu.Unlock()

	c.ilock.Reset()

	go c.run(stop, done)
	debug.Info("Motion controller started (tick=%v)", c.cfg.TickPeriod)
	return nil
}

// Stop tears the motor down: stops the tick loop, shuts the pulse context
// down within a bounded timeout and force-disengages the clutch. Whatever
// path led here, the pins and clutch end in the known-safe configuration.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.st != stateRunning {
		c.mu.Unlock()
		return nil
	}
	c.st = stateStopping
	stop, done := c.stopCh, c.doneCh
	c.mu.Unlock()

	close(stop)
	<-done

	_ = c.pulse.Halt()
	err := c.pulse.Shutdown()
	if err != nil {
		debug.Error(fmt.Errorf("pulse shutdown: %w", err))
	}

	c.ilock.ForceDisengage()

	c.mu.Lock()
	c.actualDir = motor.Stopped
	c.actualSpeed = 0
	c.st = stateIdle
	c.mu.Unlock()

	debug.Info("Motion controller stopped")
	return err
}

// SetSpeed validates the command and replaces the Target. It never
// interrupts or restarts the control loop: a running transition simply
// re-aims from the current Actual state on the next tick. Non-blocking;
// hardware faults are absorbed into stats rather than returned.
func (c *Controller) SetSpeed(dir motor.Direction, speed float64, duration time.Duration, divisions int) error {
	if duration < 0 {
		return fmt.Errorf("%w: negative duration %v", ErrInvalidCommand, duration)
	}
	switch dir {
	case motor.Forward, motor.Reverse, motor.Stopped:
	default:
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidCommand, dir)
	}
	speed = motor.ClampSpeed(speed)
	if dir == motor.Stopped {
		speed = 0
	}
	if divisions < 1 {
		divisions = 1
	}

	c.mu.Lock()
	c.target = target{
		gen:       c.target.gen + 1,
		dir:       dir,
		speed:     speed,
		duration:  duration,
		divisions: divisions,
		accepted:  c.clock(),
	}
	c.mu.Unlock()

	debug.Live("Target: %s speed=%.3f duration=%v divisions=%d", dir, speed, duration, divisions)
	return nil
}

// SetClutchLock manually locks or unlocks the clutch. While locked the
// interlock gates all motion to zero; the Target is kept so motion
// resumes after unlock.
func (c *Controller) SetClutchLock(locked bool) {
	c.ilock.SetLock(locked)
}

// EmergencyDisengage forces Stopped/zero on both Target and Actual,
// disengages the clutch and latches the lock, all without dwell or
// transition. The one operation allowed to short-circuit in-flight
// motion: safety overrides smoothness.
func (c *Controller) EmergencyDisengage() {
	c.ilock.EmergencyLatch()

	c.mu.Lock()
	now := c.clock()
	c.target = target{gen: c.target.gen + 1, dir: motor.Stopped, accepted: now}
	c.plannedGen = c.target.gen
	c.actualDir = motor.Stopped
	c.actualSpeed = 0
	c.ph = phaseDirect
	c.deadline = now
	c.last = sent{forward: c.last.forward}
	c.sentOnce = true
	c.mu.Unlock()

	// Halt directly rather than waiting for the next tick.
	if err := c.pulse.Halt(); err != nil && !errors.Is(err, pulse.ErrUnavailable) {
		debug.Error(fmt.Errorf("emergency halt: %w", err))
	}
}

// GetStats returns a read-only snapshot. It never blocks on the pulse
// context.
func (c *Controller) GetStats() motor.Stats {
	ilst := c.ilock.Status()
	alive := c.pulse.Alive()

	c.mu.Lock()
	defer c.mu.Unlock()
	return motor.Stats{
		Direction:          c.actualDir,
		Speed:              c.actualSpeed,
		FrequencyHz:        c.last.freqHz,
		ClutchEngaged:      ilst.Engaged,
		ClutchLocked:       ilst.Locked,
		ForwardLimitActive: ilst.ForwardBlocked,
		ReverseLimitActive: ilst.ReverseBlocked,
		HardwareAlive:      alive,
	}
}

// run is the fixed-rate control loop.
func (c *Controller) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.cfg.TickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.tick(c.clock())
		}
	}
}
