package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/happychair/yawgo/internal/config"
	"github.com/happychair/yawgo/internal/debug"
	"github.com/happychair/yawgo/internal/hw/gpio"
	"github.com/happychair/yawgo/internal/hw/limits"
	"github.com/happychair/yawgo/internal/hw/pulse"
	"github.com/happychair/yawgo/internal/logic/interlock"
	"github.com/happychair/yawgo/internal/logic/motion"
	"github.com/happychair/yawgo/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	debugLevel := flag.Int("debug", -1, "override debug level (0-4); -1 = use config value")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if *debugLevel >= 0 {
		if *debugLevel > 4 {
			log.Fatalf("invalid -debug level %d (0-4)", *debugLevel)
		}
		cfg.Defaults.DebugLevel = *debugLevel
	}

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)

	// Initialize GPIO driver
	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		log.Fatalf("init GPIO failed: %v", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()

	// Build the pulse generator (isolated hardware context)
	debug.Step(2, "Creating pulse generator")
	gen := pulse.NewGenerator(gpioDriver, pulse.Config{
		StepPin:          cfg.Motor.StepPin,
		DirPin:           cfg.Motor.DirPin,
		EnablePin:        cfg.Motor.EnablePin,
		ModePins:         cfg.Motor.ModePins,
		MinFrequencyHz:   cfg.Pulse.MinFrequencyHz,
		MaxFrequencyHz:   cfg.Pulse.MaxFrequencyHz,
		RealtimePriority: cfg.Pulse.RealtimePriority,
		ShutdownTimeout:  cfg.ShutdownTimeout(),
	})

	// Clutch interlock and limit switches
	debug.Step(3, "Wiring clutch interlock and limit switches")
	ilock := interlock.New(gpioDriver, cfg.Clutch.ClutchPin)

	limitSource := newLimitSource(cfg)
	if err := limitSource.Watch(ilock.OnLimitChanged); err != nil {
		log.Fatalf("watch limit switches failed: %v", err)
	}
	defer limitSource.Close()

	// Motor facade
	debug.Step(4, "Creating motion controller")
	ctrl := motion.NewController(gen, ilock, motion.Config{
		TickPeriod:     cfg.TickPeriod(),
		Dwell:          cfg.Dwell(),
		MinFrequencyHz: cfg.Pulse.MinFrequencyHz,
		MaxFrequencyHz: cfg.Pulse.MaxFrequencyHz,
	})

	if err := ctrl.Start(); err != nil {
		log.Fatalf("start motor failed: %v", err)
	}
	defer func() {
		if err := ctrl.Stop(); err != nil {
			log.Printf("motor stop: %v", err)
		}
	}()

	if port := webPort.port(); port > 0 {
		webAddr := fmt.Sprintf(":%d", port)
		broadcaster := web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

		go web.PumpStats(ctx, broadcaster, ctrl, 500*time.Millisecond)

		srv := web.NewServer(webAddr, broadcaster, ctrl)
		if err := srv.Run(ctx); err != nil {
			log.Fatalf("web server: %v", err)
		}
		return
	}

	// Headless: run until signalled, e.g. driven by an external tracking
	// process talking to us over the web API on another invocation.
	debug.Info("Running headless; Ctrl-C to stop")
	<-ctx.Done()
}

// newLimitSource selects the limit-switch event source implementation.
func newLimitSource(cfg *config.Config) limits.Source {
	if cfg.Defaults.MockGPIO || cfg.Clutch.MockLimits {
		return limits.NewMockSource()
	}
	return limits.NewCdevSource(limits.Config{
		Chip:          cfg.Clutch.GpioChip,
		ForwardOffset: cfg.Clutch.ForwardLimit,
		ReverseOffset: cfg.Clutch.ReverseLimit,
		Debounce:      cfg.Debounce(),
	})
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
