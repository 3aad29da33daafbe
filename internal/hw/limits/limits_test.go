package limits

import (
	"testing"
	"time"

	"github.com/happychair/yawgo/internal/logic/motor"
)

func TestMockSourceDeliversEvents(t *testing.T) {
	src := NewMockSource()

	type event struct {
		side   motor.Direction
		active bool
	}
	var events []event
	err := src.Watch(func(side motor.Direction, active bool) {
		events = append(events, event{side, active})
	})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	src.Trigger(motor.Forward, true)
	src.Trigger(motor.Forward, false)
	src.Trigger(motor.Reverse, true)

	want := []event{
		{motor.Forward, true},
		{motor.Forward, false},
		{motor.Reverse, true},
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, e := range events {
		if e != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, e, want[i])
		}
	}
}

func TestMockSourceClosed(t *testing.T) {
	src := NewMockSource()
	called := false
	src.Watch(func(side motor.Direction, active bool) { called = true })
	src.Close()
	src.Trigger(motor.Forward, true)
	if called {
		t.Error("closed source must not deliver events")
	}
}

func TestCdevSourceDefaults(t *testing.T) {
	s := NewCdevSource(Config{ForwardOffset: 23, ReverseOffset: -1})
	if s.cfg.Chip != "gpiochip0" {
		t.Errorf("default chip = %q, want gpiochip0", s.cfg.Chip)
	}
	if s.cfg.Debounce != 10*time.Millisecond {
		t.Errorf("default debounce = %v, want 10ms", s.cfg.Debounce)
	}
}

func TestCdevSourceDisabledOffsets(t *testing.T) {
	// Both sides disabled: Watch requests no lines and succeeds even
	// without a GPIO chip present.
	s := NewCdevSource(Config{ForwardOffset: -1, ReverseOffset: -1})
	if err := s.Watch(func(motor.Direction, bool) {}); err != nil {
		t.Errorf("Watch with disabled offsets: %v", err)
	}
	if len(s.lines) != 0 {
		t.Errorf("no lines should be requested, got %d", len(s.lines))
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
