package limits

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"github.com/happychair/yawgo/internal/debug"
	"github.com/happychair/yawgo/internal/logic/motor"
)

// Handler receives limit-switch transitions. active=true means travel in
// that direction has hit its mechanical stop.
type Handler func(side motor.Direction, active bool)

// Source delivers limit-switch events to a handler. The core never polls
// GPIO; it reacts to events pushed by a Source.
type Source interface {
	// Watch starts event delivery. The handler may be called from an
	// internal goroutine.
	Watch(handler Handler) error
	Close() error
}

// Config locates the two reed switches on a GPIO character device chip.
// The switches are wired to ground with pull-ups, so a falling edge means
// the limit was reached. An offset of -1 disables that side.
type Config struct {
	Chip          string // e.g. "gpiochip0"
	ForwardOffset int
	ReverseOffset int
	Debounce      time.Duration // 0 defaults to 10ms
}

// CdevSource is the real implementation on top of the Linux GPIO
// character device (go-gpiocdev), the same event path the kernel uses for
// gpio-keys.
type CdevSource struct {
	cfg   Config
	lines []*gpiocdev.Line
}

func NewCdevSource(cfg Config) *CdevSource {
	if cfg.Chip == "" {
		cfg.Chip = "gpiochip0"
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 10 * time.Millisecond
	}
	return &CdevSource{cfg: cfg}
}

func (s *CdevSource) Watch(handler Handler) error {
	watch := func(offset int, side motor.Direction) error {
		if offset < 0 {
			return nil
		}
		line, err := gpiocdev.RequestLine(s.cfg.Chip, offset,
			gpiocdev.AsInput,
			gpiocdev.WithPullUp,
			gpiocdev.WithBothEdges,
			gpiocdev.WithDebounce(s.cfg.Debounce),
			gpiocdev.WithConsumer("yawgo-limit"),
			gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
				// Pull-up reed switch: falling edge = limit reached.
				active := evt.Type == gpiocdev.LineEventFallingEdge
				debug.Clutch("%s limit %s (offset %d)", side, activeName(active), offset)
				handler(side, active)
			}))
		if err != nil {
			return fmt.Errorf("request limit line %s:%d: %w", s.cfg.Chip, offset, err)
		}
		s.lines = append(s.lines, line)

		// Deliver the initial level so a switch already on its stop at
		// startup blocks immediately.
		if v, err := line.Value(); err == nil {
			handler(side, v == 0)
		}
		return nil
	}

	if err := watch(s.cfg.ForwardOffset, motor.Forward); err != nil {
		return err
	}
	if err := watch(s.cfg.ReverseOffset, motor.Reverse); err != nil {
		s.Close()
		return err
	}
	return nil
}

func (s *CdevSource) Close() error {
	for _, line := range s.lines {
		line.Close()
	}
	s.lines = nil
	return nil
}

// MockSource is used for development on PC and in tests; events are
// injected by calling Trigger.
type MockSource struct {
	handler Handler
}

func NewMockSource() *MockSource { return &MockSource{} }

func (s *MockSource) Watch(handler Handler) error {
	s.handler = handler
	debug.Info("Using MOCK limit switch source (development mode)")
	return nil
}

// Trigger injects a limit transition as if the hardware had produced it.
func (s *MockSource) Trigger(side motor.Direction, active bool) {
	if s.handler != nil {
		s.handler(side, active)
	}
}

func (s *MockSource) Close() error {
	s.handler = nil
	return nil
}

func activeName(active bool) string {
	if active {
		return "reached"
	}
	return "cleared"
}
