package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes bounds the config file size; anything larger is
// rejected before parsing.
const MaxConfigFileBytes = 1 << 20

// MotorConfig holds the stepper driver pin assignment (BCM numbering).
// The step pin must be one of the hardware PWM pins (12, 13, 18, 19).
type MotorConfig struct {
	StepPin   int   `yaml:"step_pin"`
	DirPin    int   `yaml:"dir_pin"`
	EnablePin int   `yaml:"enable_pin"` // DRV8825 ENABLE. 0 = not used. Active LOW.
	ModePins  []int `yaml:"mode_pins"`  // M0/M1/M2, held LOW (full-step)
}

// PulseConfig tunes the isolated pulse worker. The frequency bounds map
// speed just above 0 and speed 1.0; RealtimePriority is the SCHED_FIFO
// priority for the worker thread, 0 = off.
type PulseConfig struct {
	MinFrequencyHz    float64 `yaml:"min_frequency_hz"`
	MaxFrequencyHz    float64 `yaml:"max_frequency_hz"`
	RealtimePriority  int     `yaml:"realtime_priority"`
	ShutdownTimeoutMs int     `yaml:"shutdown_timeout_ms"`
}

// ControlConfig tunes the transition control loop.
type ControlConfig struct {
	TickMs  int `yaml:"tick_ms"`  // control loop period
	DwellMs int `yaml:"dwell_ms"` // hold at zero between reversal legs
}

// ClutchConfig describes the clutch solenoid and the limit switches.
// ClutchPin is the solenoid output in BCM numbering, 0 = no clutch
// fitted. Limit offsets are line offsets on the GPIO character device
// chip (e.g. "gpiochip0"); -1 disables that switch. MockLimits selects
// the mock event source for dev/test.
type ClutchConfig struct {
	ClutchPin    int    `yaml:"clutch_pin"`
	GpioChip     string `yaml:"gpio_chip"`
	ForwardLimit int    `yaml:"forward_limit"`
	ReverseLimit int    `yaml:"reverse_limit"`
	DebounceMs   int    `yaml:"debounce_ms"`
	MockLimits   bool   `yaml:"mock_limits"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Motor    MotorConfig    `yaml:"motor"`
	Pulse    PulseConfig    `yaml:"pulse"`
	Control  ControlConfig  `yaml:"control"`
	Clutch   ClutchConfig   `yaml:"clutch"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// ValidateConfigPath checks that a user-supplied config path is a .yaml
// file inside a configs/ directory, rejecting traversal attempts.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config file must have a .yaml extension: %s", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config file must live in a configs/ directory: %s", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	if err := ValidateConfigPath(path); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxConfigFileBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	// Basic validation
	if cfg.Motor.StepPin == 0 || cfg.Motor.DirPin == 0 {
		return nil, fmt.Errorf("motor.step_pin and motor.dir_pin are required")
	}
	if !cfg.Defaults.MockGPIO {
		switch cfg.Motor.StepPin {
		case 12, 13, 18, 19:
		default:
			return nil, fmt.Errorf("motor.step_pin %d is not a hardware PWM pin (use BCM 12, 13, 18 or 19)", cfg.Motor.StepPin)
		}
	}

	if cfg.Pulse.MinFrequencyHz <= 0 {
		cfg.Pulse.MinFrequencyHz = 50
	}
	if cfg.Pulse.MaxFrequencyHz <= 0 {
		cfg.Pulse.MaxFrequencyHz = 500
	}
	if cfg.Pulse.MaxFrequencyHz <= cfg.Pulse.MinFrequencyHz {
		return nil, fmt.Errorf("pulse.max_frequency_hz (%.1f) must be above min_frequency_hz (%.1f)",
			cfg.Pulse.MaxFrequencyHz, cfg.Pulse.MinFrequencyHz)
	}
	if cfg.Pulse.RealtimePriority < 0 || cfg.Pulse.RealtimePriority > 99 {
		return nil, fmt.Errorf("pulse.realtime_priority must be 0-99, got %d", cfg.Pulse.RealtimePriority)
	}
	if cfg.Pulse.ShutdownTimeoutMs <= 0 {
		cfg.Pulse.ShutdownTimeoutMs = 2000
	}

	if cfg.Control.TickMs <= 0 {
		cfg.Control.TickMs = 50 // 20 Hz
	}
	if cfg.Control.DwellMs <= 0 {
		cfg.Control.DwellMs = 50
	}

	if cfg.Clutch.GpioChip == "" {
		cfg.Clutch.GpioChip = "gpiochip0"
	}
	if cfg.Clutch.ForwardLimit == 0 {
		cfg.Clutch.ForwardLimit = -1
	}
	if cfg.Clutch.ReverseLimit == 0 {
		cfg.Clutch.ReverseLimit = -1
	}
	if cfg.Clutch.DebounceMs <= 0 {
		cfg.Clutch.DebounceMs = 10
	}

	if cfg.Defaults.DebugLevel < 0 || cfg.Defaults.DebugLevel > 4 {
		return nil, fmt.Errorf("debug_level must be 0-4, got %d", cfg.Defaults.DebugLevel)
	}

	return &cfg, nil
}

// TickPeriod returns the control loop period.
func (c *Config) TickPeriod() time.Duration {
	return time.Duration(c.Control.TickMs) * time.Millisecond
}

// Dwell returns the hold time at zero speed between reversal legs.
func (c *Config) Dwell() time.Duration {
	return time.Duration(c.Control.DwellMs) * time.Millisecond
}

// ShutdownTimeout returns the bound on waiting for the pulse worker to
// acknowledge shutdown.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Pulse.ShutdownTimeoutMs) * time.Millisecond
}

// Debounce returns the limit switch debounce period.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Clutch.DebounceMs) * time.Millisecond
}
