// Command dronenav is the autonomous navigation core of a small drone:
// it ingests GPS and magnetometer readings, drives a guidance controller
// toward a commanded geodetic target, and arbitrates its output against
// the pilot's SBUS frames on every cycle (spec.md §4.5).
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dronecore/dronenav/internal/arbiter"
	"github.com/dronecore/dronenav/internal/compass"
	"github.com/dronecore/dronenav/internal/config"
	"github.com/dronecore/dronenav/internal/endpoint"
	"github.com/dronecore/dronenav/internal/flightlog"
	"github.com/dronecore/dronenav/internal/gps"
	"github.com/dronecore/dronenav/internal/guidance"
	"github.com/dronecore/dronenav/internal/hal"
	"github.com/dronecore/dronenav/internal/killswitch"
	"github.com/dronecore/dronenav/internal/logger"
	"github.com/dronecore/dronenav/internal/mission"
	"github.com/dronecore/dronenav/internal/sbus"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		LogDir:     cfg.Logger.Dir,
		MaxSizeMB:  cfg.Logger.MaxSizeMB,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAgeDays: cfg.Logger.MaxAgeDays,
		Compress:   true,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	log := logger.WithComponent("main")

	rpi, err := hal.NewRaspberryPiHAL()
	if err != nil {
		log.Fatal("failed to init hardware abstraction layer", zap.Error(err))
	}
	hal.SetGlobalHAL(rpi)
	defer rpi.Close()

	gpsSvc, err := gps.Open(rpi.Serial(), cfg.GPS.Port)
	if err != nil {
		log.Fatal("failed to open GPS", zap.Error(err))
	}
	go gpsSvc.Run()
	defer gpsSvc.Stop()

	compassSvc, err := compass.Open(rpi.I2C(), cfg.Compass.I2CBus, cfg.Compass.MountOffset)
	if err != nil {
		log.Fatal("failed to open magnetometer", zap.Error(err))
	}
	go compassSvc.Run()
	defer compassSvc.Stop()

	gains := guidance.Gains{
		KLat: cfg.Guidance.KLat,
		KLon: cfg.Guidance.KLon,
		KAlt: cfg.Guidance.KAlt,
		KYaw: cfg.Guidance.KYaw,
	}
	controller := guidance.New(gpsSvc, compassSvc, gains)

	if err := config.WatchGains(*configPath, func(g config.GuidanceConfig) {
		controller.SetGains(guidance.Gains{KLat: g.KLat, KLon: g.KLon, KAlt: g.KAlt, KYaw: g.KYaw})
		log.Info("guidance gains hot-reloaded", zap.Float64("k_lat", g.KLat), zap.Float64("k_yaw", g.KYaw))
	}); err != nil {
		log.Warn("failed to start config watcher", zap.Error(err))
	}

	recorder, err := flightlog.Open(cfg.FlightLog.Path, cfg.FlightLog.EncryptKeyHex)
	if err != nil {
		log.Fatal("failed to open flight recorder", zap.Error(err))
	}
	defer recorder.Close()

	publisher, err := flightlog.NewPublisher(cfg.FlightLog.MQTTBroker, "dronenav/telemetry")
	if err != nil {
		log.Warn("failed to connect MQTT publisher, telemetry mirroring disabled", zap.Error(err))
		publisher = &flightlog.Publisher{}
	}
	defer publisher.Close()

	var signingKey []byte
	if cfg.Endpoint.JWTSigningKeyPath != "" {
		signingKey, err = os.ReadFile(cfg.Endpoint.JWTSigningKeyPath)
		if err != nil {
			log.Fatal("failed to read JWT signing key", zap.Error(err))
		}
	}
	auth := endpoint.NewAuthenticator(signingKey)

	server := endpoint.New(controller, gpsSvc, compassSvc, auth)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Endpoint.Host, cfg.Endpoint.Port)
		if err := server.Listen(addr); err != nil {
			log.Error("endpoint server stopped", zap.Error(err))
		}
	}()
	defer server.Stop()

	defs, err := mission.LoadDefinitions(cfg.Mission.Dir)
	if err != nil {
		log.Warn("failed to load mission definitions", zap.Error(err))
	}
	scheduler := mission.NewScheduler(controller)
	if err := scheduler.Arm(defs); err != nil {
		log.Warn("failed to arm mission schedule", zap.Error(err))
	}
	scheduler.Start()
	defer scheduler.Stop()

	pilotInactive := time.Duration(cfg.SBUS.PilotInactiveMillis) * time.Millisecond
	arb := arbiter.New(controller, pilotInactive)

	sbusLink, err := sbus.Open(rpi.Serial(), cfg.SBUS.Port)
	if err != nil {
		log.Fatal("failed to open SBUS link", zap.Error(err))
	}
	go sbusLink.Run(arb.OnPilotFrame)
	defer sbusLink.Stop()

	if cfg.KillSwitch.Enabled {
		sw, err := killswitch.Open(rpi.GPIO(), cfg.KillSwitch.ButtonPin, cfg.KillSwitch.LEDPin, controller, autonomyState{arb})
		if err != nil {
			log.Warn("failed to open kill-switch", zap.Error(err))
		} else {
			go sw.Run()
			defer sw.Stop()
		}
	}

	log.Info("dronenav running", zap.String("endpoint", fmt.Sprintf("%s:%d", cfg.Endpoint.Host, cfg.Endpoint.Port)))

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	lastStateLog := time.Now()
	wasActive := arb.Active()

	// The SBUS link reads pilot frames on its own goroutine (unlike the
	// original's blocking sbus.read(), which paced this same loop), so
	// the output cycle paces itself against a ticker instead.
	cycle := time.NewTicker(14 * time.Millisecond)
	defer cycle.Stop()

	for {
		select {
		case <-shutdown:
			log.Info("shutting down")
			return
		case <-cycle.C:
		}

		controller.UpdateSignals()

		wasActive = arb.LogIfJustWentInactive(wasActive)
		out := arb.Resolve()
		if err := sbusLink.Write(out); err != nil {
			log.Warn("failed to write SBUS frame", zap.Error(err))
		}

		if time.Since(lastStateLog) > 2*time.Second {
			state := controller.State()
			log.Info("control loop state", zap.String("state", state.String()))
			recordTransitionSample(recorder, controller)
			publisher.Publish(map[string]interface{}{
				"mission_id": controller.MissionID(),
				"state":      state.String(),
				"fix":        gpsSvc.Fix(),
				"heading":    compassSvc.Heading(),
			})
			lastStateLog = time.Now()
		}
	}
}

// autonomyState adapts an arbiter.Arbiter to killswitch.StateSource.
type autonomyState struct {
	arb *arbiter.Arbiter
}

func (a autonomyState) AutonomyActive() bool { return !a.arb.Active() }

func recordTransitionSample(recorder *flightlog.Recorder, controller *guidance.Controller) {
	missionID := controller.MissionID()
	if err := recorder.Record(missionID, flightlog.EventPosition, map[string]interface{}{
		"state": controller.State().String(),
	}); err != nil {
		logger.WithComponent("main").Warn("failed to record flight log sample", zap.Error(err))
	}
}
