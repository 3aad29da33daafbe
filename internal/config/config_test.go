package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ---------- ValidateConfigPath ----------

func TestValidateConfigPath_Valid(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "default.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := ValidateConfigPath(path); err != nil {
		t.Errorf("expected valid path, got error: %v", err)
	}
}

func TestValidateConfigPath_PathTraversal(t *testing.T) {
	cases := []string{
		"../../etc/passwd",
		"configs/../../../etc/shadow",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for traversal path %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_WrongExtension(t *testing.T) {
	cases := []string{
		"configs/default.json",
		"configs/default.yml",
		"configs/default.txt",
		"configs/default",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for extension in %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_NotInConfigsDir(t *testing.T) {
	cases := []string{
		"other/default.yaml",
		"default.yaml",
		"/tmp/default.yaml",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for path outside configs/ %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_EmptyPath(t *testing.T) {
	if err := ValidateConfigPath(""); err == nil {
		t.Error("expected error for empty path, got nil")
	}
}

// ---------- Load ----------

// writeConfig creates a temporary configs/ dir with the given YAML content and returns the path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "test.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
motor:
  step_pin: 13
  dir_pin: 6
  enable_pin: 5
  mode_pins: [26, 19, 21]
pulse:
  min_frequency_hz: 50
  max_frequency_hz: 500
  realtime_priority: 10
  shutdown_timeout_ms: 2000
control:
  tick_ms: 50
  dwell_ms: 50
clutch:
  clutch_pin: 16
  gpio_chip: gpiochip0
  forward_limit: 23
  reverse_limit: 24
  debounce_ms: 10
defaults:
  debug_level: 1
  mock_gpio: false
`

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeConfig(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Motor.StepPin != 13 {
		t.Errorf("motor.step_pin = %d, want 13", cfg.Motor.StepPin)
	}
	if len(cfg.Motor.ModePins) != 3 {
		t.Errorf("motor.mode_pins = %v, want 3 pins", cfg.Motor.ModePins)
	}
	if cfg.Pulse.MaxFrequencyHz != 500 {
		t.Errorf("pulse.max_frequency_hz = %v, want 500", cfg.Pulse.MaxFrequencyHz)
	}
	if cfg.Pulse.RealtimePriority != 10 {
		t.Errorf("pulse.realtime_priority = %d, want 10", cfg.Pulse.RealtimePriority)
	}
	if cfg.Clutch.ClutchPin != 16 {
		t.Errorf("clutch.clutch_pin = %d, want 16", cfg.Clutch.ClutchPin)
	}
	if cfg.Clutch.ForwardLimit != 23 {
		t.Errorf("clutch.forward_limit = %d, want 23", cfg.Clutch.ForwardLimit)
	}
	if cfg.Defaults.DebugLevel != 1 {
		t.Errorf("debug_level = %d, want 1", cfg.Defaults.DebugLevel)
	}
}

func TestLoad_MissingStepPin(t *testing.T) {
	yaml := `
motor:
  dir_pin: 6
defaults:
  mock_gpio: true
`
	path := writeConfig(t, yaml)
	if _, err := Load(path); err == nil {
		t.Error("expected error for missing motor.step_pin, got nil")
	}
}

func TestLoad_MissingDirPin(t *testing.T) {
	yaml := `
motor:
  step_pin: 13
defaults:
  mock_gpio: true
`
	path := writeConfig(t, yaml)
	if _, err := Load(path); err == nil {
		t.Error("expected error for missing motor.dir_pin, got nil")
	}
}

func TestLoad_StepPinNotPwmCapable(t *testing.T) {
	yaml := `
motor:
  step_pin: 17
  dir_pin: 6
defaults:
  mock_gpio: false
`
	path := writeConfig(t, yaml)
	if _, err := Load(path); err == nil {
		t.Error("expected error for non-PWM step pin on real hardware, got nil")
	}
}

func TestLoad_StepPinAnyOnMock(t *testing.T) {
	yaml := `
motor:
  step_pin: 17
  dir_pin: 6
defaults:
  mock_gpio: true
`
	path := writeConfig(t, yaml)
	if _, err := Load(path); err != nil {
		t.Errorf("mock GPIO should accept any step pin, got: %v", err)
	}
}

func TestLoad_FrequencyRangeInverted(t *testing.T) {
	yaml := `
motor:
  step_pin: 13
  dir_pin: 6
pulse:
  min_frequency_hz: 500
  max_frequency_hz: 100
defaults:
  mock_gpio: true
`
	path := writeConfig(t, yaml)
	if _, err := Load(path); err == nil {
		t.Error("expected error for max <= min frequency, got nil")
	}
}

func TestLoad_RealtimePriorityOutOfRange(t *testing.T) {
	yaml := `
motor:
  step_pin: 13
  dir_pin: 6
pulse:
  realtime_priority: 120
defaults:
  mock_gpio: true
`
	path := writeConfig(t, yaml)
	if _, err := Load(path); err == nil {
		t.Error("expected error for realtime_priority > 99, got nil")
	}
}

func TestLoad_InvalidDebugLevel(t *testing.T) {
	yaml := `
motor:
  step_pin: 13
  dir_pin: 6
defaults:
  debug_level: 7
  mock_gpio: true
`
	path := writeConfig(t, yaml)
	if _, err := Load(path); err == nil {
		t.Error("expected error for debug_level > 4, got nil")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	yaml := `
motor:
  step_pin: 13
  dir_pin: 6
defaults:
  mock_gpio: true
`
	path := writeConfig(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Pulse.MinFrequencyHz != 50 {
		t.Errorf("min_frequency_hz default = %v, want 50", cfg.Pulse.MinFrequencyHz)
	}
	if cfg.Pulse.MaxFrequencyHz != 500 {
		t.Errorf("max_frequency_hz default = %v, want 500", cfg.Pulse.MaxFrequencyHz)
	}
	if cfg.Pulse.ShutdownTimeoutMs != 2000 {
		t.Errorf("shutdown_timeout_ms default = %d, want 2000", cfg.Pulse.ShutdownTimeoutMs)
	}
	if cfg.Control.TickMs != 50 {
		t.Errorf("tick_ms default = %d, want 50", cfg.Control.TickMs)
	}
	if cfg.Control.DwellMs != 50 {
		t.Errorf("dwell_ms default = %d, want 50", cfg.Control.DwellMs)
	}
	if cfg.Clutch.GpioChip != "gpiochip0" {
		t.Errorf("gpio_chip default = %q, want gpiochip0", cfg.Clutch.GpioChip)
	}
	if cfg.Clutch.ForwardLimit != -1 || cfg.Clutch.ReverseLimit != -1 {
		t.Errorf("unset limits should default to -1 (disabled), got %d/%d",
			cfg.Clutch.ForwardLimit, cfg.Clutch.ReverseLimit)
	}
	if cfg.Clutch.DebounceMs != 10 {
		t.Errorf("debounce_ms default = %d, want 10", cfg.Clutch.DebounceMs)
	}
}

func TestLoad_FileTooLarge(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "big.yaml")
	data := make([]byte, MaxConfigFileBytes+1)
	for i := range data {
		data[i] = '#'
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for oversized config file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "{{{{invalid yaml!!!!")
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid YAML, got nil")
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	path := writeConfig(t, "")
	if _, err := Load(path); err == nil {
		t.Error("expected error for empty config (pins missing), got nil")
	}
}

func TestLoad_UnknownFields(t *testing.T) {
	yaml := `
motor:
  step_pin: 13
  dir_pin: 6
defaults:
  mock_gpio: true
unknown_section:
  foo: bar
`
	path := writeConfig(t, yaml)
	if _, err := Load(path); err != nil {
		t.Errorf("unknown fields should be ignored, got error: %v", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "nonexistent.yaml")
	if _, err := Load(path); err == nil {
		t.Error("expected error for nonexistent file, got nil")
	}
}

func TestLoad_VeryLongPath(t *testing.T) {
	long := "configs/" + strings.Repeat("a", 1000) + ".yaml"
	// Should not panic; error or success is OS-dependent, but must not crash.
	_, _ = Load(long)
}

// ---------- Helper methods ----------

func TestConfig_TickPeriod(t *testing.T) {
	cfg := &Config{Control: ControlConfig{TickMs: 50}}
	if got := cfg.TickPeriod(); got != 50*time.Millisecond {
		t.Errorf("TickPeriod() = %v, want 50ms", got)
	}
}

func TestConfig_Dwell(t *testing.T) {
	cfg := &Config{Control: ControlConfig{DwellMs: 75}}
	if got := cfg.Dwell(); got != 75*time.Millisecond {
		t.Errorf("Dwell() = %v, want 75ms", got)
	}
}

func TestConfig_ShutdownTimeout(t *testing.T) {
	cfg := &Config{Pulse: PulseConfig{ShutdownTimeoutMs: 2000}}
	if got := cfg.ShutdownTimeout(); got != 2*time.Second {
		t.Errorf("ShutdownTimeout() = %v, want 2s", got)
	}
}

func TestConfig_Debounce(t *testing.T) {
	cfg := &Config{Clutch: ClutchConfig{DebounceMs: 10}}
	if got := cfg.Debounce(); got != 10*time.Millisecond {
		t.Errorf("Debounce() = %v, want 10ms", got)
	}
}
