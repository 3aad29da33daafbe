package pulse

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"

	"github.com/happychair/yawgo/internal/debug"
	"github.com/happychair/yawgo/internal/hw/gpio"
)

var (
	// ErrUnavailable is returned by Drive/Configure/Halt once the pulse
	// worker is gone. Callers must not block or retry on it.
	ErrUnavailable = errors.New("pulse: hardware context unavailable")

	// ErrShutdownTimeout is returned when the worker fails to acknowledge
	// shutdown within the bound. The worker is abandoned afterwards.
	ErrShutdownTimeout = errors.New("pulse: shutdown not acknowledged in time")
)

// Config holds the hardware configuration for the pulse generator.
type Config struct {
	StepPin   int   // hardware PWM pin (BCM 12, 13, 18 or 19)
	DirPin    int   // DRV8825 DIR
	EnablePin int   // DRV8825 ENABLE (BCM). 0 = not used. Active LOW (LOW=enabled).
	ModePins  []int // M0/M1/M2, all held LOW for full-step mode

	MinFrequencyHz float64 // step frequency at speed just above 0
	MaxFrequencyHz float64 // step frequency at speed 1.0

	// RealtimePriority is the SCHED_FIFO priority requested for the worker
	// thread. 0 skips elevation. Elevation failure (no CAP_SYS_NICE) is
	// logged, not fatal.
	RealtimePriority int

	StartTimeout    time.Duration // wait for worker pin init, default 2s
	ShutdownTimeout time.Duration // wait for shutdown ack, default 2s
}

func (c *Config) applyDefaults() {
	if c.MinFrequencyHz <= 0 {
		c.MinFrequencyHz = 50
	}
	if c.MaxFrequencyHz <= c.MinFrequencyHz {
		c.MaxFrequencyHz = 500
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = 2 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 2 * time.Second
	}
}

// FrequencyForSpeed maps a speed in [0,1] onto the step frequency range.
// Speed 0 maps to 0 (halted), not to MinFrequencyHz.
func (c Config) FrequencyForSpeed(speed float64) float64 {
	if speed <= 0 {
		return 0
	}
	if speed > 1 {
		speed = 1
	}
	return c.MinFrequencyHz + speed*(c.MaxFrequencyHz-c.MinFrequencyHz)
}

// Generator owns the step and direction pins and drives them from a
// dedicated OS thread, so request handling and other host load cannot
// jitter the pulse timing. All public methods are non-blocking; state
// updates are delivered over a latest-value channel and converge to the
// most recent call. The worker lifecycle is restartable: Shutdown
// destroys the running worker and a later Start launches a fresh one.
type Generator struct {
	gpio  gpio.Driver
	cfg   Config
	alive *atomic.Bool

	mu      sync.Mutex
	state   chan Command  // per-worker, recreated on each Start
	ctrl    chan control  // per-worker
	done    chan struct{} // per-worker
	want    Command       // last requested state, rebuilt on each Configure/Drive
	started bool
}

// NewGenerator creates a pulse generator. The worker does not run until
// Start is called.
func NewGenerator(g gpio.Driver, cfg Config) *Generator {
	cfg.applyDefaults()
	return &Generator{
		gpio:  g,
		cfg:   cfg,
		alive: atomic.NewBool(false),
	}
}

// Start launches the isolated worker and waits for it to claim and
// initialize the pins. Idempotent while the worker is alive; after a
// Shutdown or a failed Start it launches a fresh worker with fresh
// channels, so a stopped generator can be started again.
func (g *Generator) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.started && g.alive.Load() {
		debug.Verbose("Pulse worker already running")
		return nil
	}

	// Fresh channels per launch: an abandoned worker keeps the previous
	// set and cannot interfere with the new one.
	g.state = make(chan Command, 1)
	g.ctrl = make(chan control, 4)
	g.done = make(chan struct{})
	g.want = Command{}

	ready := make(chan error, 1)
	go g.run(ready, g.state, g.ctrl, g.done)

	select {
	case err := <-ready:
		if err != nil {
			return fmt.Errorf("pulse worker init: %w", err)
		}
	case <-time.After(g.cfg.StartTimeout):
		return fmt.Errorf("pulse worker init: no response within %v", g.cfg.StartTimeout)
	}

	g.started = true
	debug.Info("Pulse worker started (step=%d dir=%d enable=%d)",
		g.cfg.StepPin, g.cfg.DirPin, g.cfg.EnablePin)
	return nil
}

// Configure sets the direction level for subsequent pulses.
func (g *Generator) Configure(forward bool) error {
	if !g.alive.Load() {
		return ErrUnavailable
	}
	g.mu.Lock()
	g.want.Forward = forward
	cmd := g.want
	ch := g.state
	g.mu.Unlock()
	send(ch, cmd)
	return nil
}

// Drive steps at the given frequency with 50% duty. Drive(0) halts.
// The frequency is clamped into the configured range.
func (g *Generator) Drive(freqHz float64) error {
	if !g.alive.Load() {
		return ErrUnavailable
	}
	if freqHz < 0 {
		freqHz = 0
	}
	if freqHz > 0 {
		if freqHz < g.cfg.MinFrequencyHz {
			freqHz = g.cfg.MinFrequencyHz
		}
		if freqHz > g.cfg.MaxFrequencyHz {
			freqHz = g.cfg.MaxFrequencyHz
		}
	}
	g.mu.Lock()
	g.want.FreqHz = freqHz
	cmd := g.want
	ch := g.state
	g.mu.Unlock()
	send(ch, cmd)
	return nil
}

// Halt stops pulsing. Equivalent to Drive(0).
func (g *Generator) Halt() error {
	return g.Drive(0)
}

// Alive reports whether the worker is still servicing commands. Never
// blocks; safe from any goroutine.
func (g *Generator) Alive() bool {
	return g.alive.Load()
}

// Shutdown sends the one-shot shutdown message and waits up to the
// configured bound for the worker to acknowledge by exiting. On timeout
// the worker is abandoned: the generator is marked dead so all further
// calls fail fast, and the (stuck) thread is left to the OS at process
// exit. Either way the generator can be started again afterwards.
func (g *Generator) Shutdown() error {
	g.mu.Lock()
	if !g.started {
		g.mu.Unlock()
		return nil
	}
	ctrl, done := g.ctrl, g.done
	g.mu.Unlock()

	select {
	case ctrl <- ctrlShutdown:
	default:
		// control queue full: a shutdown is already pending
	}

	var err error
	select {
	case <-done:
	case <-time.After(g.cfg.ShutdownTimeout):
		g.alive.Store(false)
		err = ErrShutdownTimeout
	}

	g.mu.Lock()
	g.started = false
	g.mu.Unlock()
	return err
}

// run is the worker loop. It executes on a locked OS thread, optionally
// elevated to SCHED_FIFO, and is the only code that touches the step and
// direction pins. The channels are captured at launch so a later Start
// cannot hand this worker's channels to a new one.
func (g *Generator) run(ready chan<- error, state chan Command, ctrl chan control, done chan struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	g.elevatePriority()

	if err := g.initPins(); err != nil {
		ready <- err
		close(done)
		return
	}
	g.alive.Store(true)
	ready <- nil

	var applied Command
	for {
		select {
		case cmd := <-state:
			applied = g.apply(cmd, applied)
		case c := <-ctrl:
			if c == ctrlShutdown {
				g.teardownPins()
				// An abandoned worker draining a stale shutdown must not
				// kill the flag of a newer one.
				g.mu.Lock()
				if g.done == done {
					g.alive.Store(false)
				}
				g.mu.Unlock()
				close(done)
				debug.Info("Pulse worker stopped")
				return
			}
		}
	}
}

// elevatePriority requests SCHED_FIFO for the current (locked) thread.
func (g *Generator) elevatePriority() {
	if g.cfg.RealtimePriority <= 0 {
		return
	}
	attr := &unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   unix.SCHED_FIFO,
		Priority: uint32(g.cfg.RealtimePriority),
	}
	if err := unix.SchedSetAttr(0, attr, 0); err != nil {
		debug.Info("SCHED_FIFO elevation failed (running without realtime priority): %v", err)
		return
	}
	debug.Verbose("Pulse worker elevated to SCHED_FIFO priority %d", g.cfg.RealtimePriority)
}

func (g *Generator) initPins() error {
	if err := g.gpio.SetupPin(g.cfg.DirPin, gpio.Output); err != nil {
		return err
	}
	if err := g.gpio.WritePin(g.cfg.DirPin, gpio.Low); err != nil {
		return err
	}
	if g.cfg.EnablePin > 0 {
		if err := g.gpio.SetupPin(g.cfg.EnablePin, gpio.Output); err != nil {
			return err
		}
		// Active LOW: start disabled
		if err := g.gpio.WritePin(g.cfg.EnablePin, gpio.High); err != nil {
			return err
		}
	}
	// Mode pins all LOW: full-step
	for _, pin := range g.cfg.ModePins {
		if err := g.gpio.SetupPin(pin, gpio.Output); err != nil {
			return err
		}
		if err := g.gpio.WritePin(pin, gpio.Low); err != nil {
			return err
		}
	}
	return nil
}

// apply transitions the pins from the previously applied command to cmd.
func (g *Generator) apply(cmd, prev Command) Command {
	if cmd == prev {
		return prev
	}

	if cmd.FreqHz <= 0 {
		if err := g.gpio.StopPwm(g.cfg.StepPin); err != nil {
			debug.Error(fmt.Errorf("stop pwm: %w", err))
		}
		g.setEnabled(false)
		debug.Live("Pulse: halted")
		return Command{Forward: cmd.Forward}
	}

	// Direction must be stable before pulses resume after a change.
	if cmd.Forward != prev.Forward {
		level := gpio.Low
		if cmd.Forward {
			level = gpio.High
		}
		if err := g.gpio.WritePin(g.cfg.DirPin, level); err != nil {
			debug.Error(fmt.Errorf("write dir pin: %w", err))
		}
	}
	g.setEnabled(true)
	if err := g.gpio.SetPwm(g.cfg.StepPin, cmd.FreqHz); err != nil {
		debug.Error(fmt.Errorf("set pwm: %w", err))
	}
	debug.Live("Pulse: %s at %.1fHz", directionName(cmd.Forward), cmd.FreqHz)
	return cmd
}

func (g *Generator) setEnabled(on bool) {
	if g.cfg.EnablePin <= 0 {
		return
	}
	// Active LOW: LOW = enabled
	level := gpio.High
	if on {
		level = gpio.Low
	}
	if err := g.gpio.WritePin(g.cfg.EnablePin, level); err != nil {
		debug.Error(fmt.Errorf("write enable pin: %w", err))
	}
}

// teardownPins leaves the hardware in the known-safe configuration:
// pulses halted, driver disabled, direction low.
func (g *Generator) teardownPins() {
	_ = g.gpio.StopPwm(g.cfg.StepPin)
	g.setEnabled(false)
	_ = g.gpio.WritePin(g.cfg.DirPin, gpio.Low)
}

func directionName(forward bool) string {
	if forward {
		return "forward"
	}
	return "reverse"
}
