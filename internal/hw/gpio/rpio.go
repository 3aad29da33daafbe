package gpio

import (
	"fmt"

	"github.com/happychair/yawgo/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// pwmCycleLen is the number of PWM clock ticks per output cycle. With a
// 50% duty the output toggles at half the cycle. go-rpio accepts clock
// frequencies from 4688 Hz up, so cycle length 128 keeps the full
// 50-500 Hz step range valid (6400-64000 Hz clock).
const pwmCycleLen = 128

// RPiDriver is the real implementation for Raspberry Pi using go-rpio.
type RPiDriver struct {
	pins    map[int]rpio.Pin
	pwmPins map[int]bool // pins currently in PWM mode
}

// NewRPiRealDriver creates a real GPIO driver for Raspberry Pi.
// Requires running on a Raspberry Pi with access to /dev/gpiomem or as root.
func NewRPiRealDriver() (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")

	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}

	debug.Verbose("GPIO memory mapped successfully")

	return &RPiDriver{
		pins:    make(map[int]rpio.Pin),
		pwmPins: make(map[int]bool),
	}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	p := rpio.Pin(pin)
	r.pins[pin] = p

	switch mode {
	case Input:
		p.Input()
	case Output:
		p.Output()
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}

	return nil
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	p, ok := r.pins[pin]
	if !ok {
		// Pin not setup yet, setup as output
		if err := r.SetupPin(pin, Output); err != nil {
			return err
		}
		p = r.pins[pin]
	}

	if level == High {
		p.High()
	} else {
		p.Low()
	}

	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)

	p, ok := r.pins[pin]
	if !ok {
		// Pin not setup yet, setup as input
		if err := r.SetupPin(pin, Input); err != nil {
			return Low, err
		}
		p = r.pins[pin]
	}

	state := p.Read()
	if state == rpio.High {
		return High, nil
	}
	return Low, nil
}

// SetPwm drives the pin from the BCM2835 hardware PWM block at the given
// frequency, 50% duty. Only BCM 12, 13, 18 and 19 are routed to the PWM
// peripheral on the Raspberry Pi header.
func (r *RPiDriver) SetPwm(pin int, freqHz float64) error {
	debug.GPIO("SetPwm", pin, freqHz)

	if !isHardwarePwmPin(pin) {
		return fmt.Errorf("pin %d is not a hardware PWM pin (use BCM 12, 13, 18 or 19)", pin)
	}
	if freqHz <= 0 {
		return r.StopPwm(pin)
	}

	p := rpio.Pin(pin)
	r.pins[pin] = p

	if !r.pwmPins[pin] {
		p.Mode(rpio.Pwm)
		r.pwmPins[pin] = true
	}
	p.Freq(int(freqHz) * pwmCycleLen)
	p.DutyCycle(pwmCycleLen/2, pwmCycleLen)

	return nil
}

// StopPwm silences the PWM output and leaves the pin as a low output.
func (r *RPiDriver) StopPwm(pin int) error {
	debug.GPIO("StopPwm", pin, nil)

	p, ok := r.pins[pin]
	if !ok {
		return nil
	}
	if r.pwmPins[pin] {
		p.DutyCycle(0, pwmCycleLen)
		p.Output()
		delete(r.pwmPins, pin)
	}
	p.Low()
	return nil
}

func (r *RPiDriver) Close() error {
	debug.Trace("GPIO Close (real driver)")

	// Reset all pins to input (safe state)
	for pin, p := range r.pins {
		debug.Verbose("Resetting pin %d to input", pin)
		if r.pwmPins[pin] {
			p.DutyCycle(0, pwmCycleLen)
		}
		p.Input()
	}

	return rpio.Close()
}

func isHardwarePwmPin(pin int) bool {
	switch pin {
	case 12, 13, 18, 19:
		return true
	}
	return false
}
