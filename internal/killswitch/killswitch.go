// Package killswitch implements the physical abort button and
// autonomy-active status LED described in SPEC_FULL.md §3: a
// hardware-level escape hatch that does not depend on the SBUS link
// being alive, wired directly to Controller.Abort().
package killswitch

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dronecore/dronenav/internal/hal"
	"github.com/dronecore/dronenav/internal/logger"
	"go.uber.org/zap"
)

const pollInterval = 50 * time.Millisecond

// Controller is the subset of guidance.Controller the kill-switch drives.
type Controller interface {
	Abort()
}

// StateSource reports whether autonomy currently holds command, so the
// switch can drive its status LED accordingly.
type StateSource interface {
	// AutonomyActive reports true while the controller, not the pilot,
	// is in command.
	AutonomyActive() bool
}

// Switch polls a physical button pin and drives a status LED pin.
type Switch struct {
	controller Controller
	state      StateSource
	gpio       hal.GPIOProvider
	buttonPin  int
	ledPin     int

	stop int32
	done chan struct{}
}

// Open configures buttonPin as a pulled-up input and ledPin as an
// output, returning a Switch ready to Run.
func Open(provider hal.GPIOProvider, buttonPin, ledPin int, controller Controller, state StateSource) (*Switch, error) {
	if err := provider.SetMode(buttonPin, hal.Input); err != nil {
		return nil, fmt.Errorf("killswitch: failed to set button pin mode: %w", err)
	}
	if err := provider.SetPull(buttonPin, hal.PullUp); err != nil {
		return nil, fmt.Errorf("killswitch: failed to set button pull: %w", err)
	}
	if err := provider.SetMode(ledPin, hal.Output); err != nil {
		return nil, fmt.Errorf("killswitch: failed to set led pin mode: %w", err)
	}

	return &Switch{
		controller: controller,
		state:      state,
		gpio:       provider,
		buttonPin:  buttonPin,
		ledPin:     ledPin,
		done:       make(chan struct{}),
	}, nil
}

// Run polls the button pin until Stop is called. The button is wired
// active-low (pulled up, grounded when pressed): a read of false is a
// press. Every poll also refreshes the status LED from state.
func (s *Switch) Run() {
	defer close(s.done)
	log := logger.WithComponent("killswitch")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	pressed := false
	for atomic.LoadInt32(&s.stop) == 0 {
		<-ticker.C
		if atomic.LoadInt32(&s.stop) != 0 {
			return
		}

		level, err := s.gpio.DigitalRead(s.buttonPin)
		if err != nil {
			log.Warn("failed to read kill-switch button", zap.Error(err))
			continue
		}

		if !level && !pressed {
			pressed = true
			log.Warn("physical kill-switch pressed, aborting")
			s.controller.Abort()
		} else if level {
			pressed = false
		}

		if err := s.gpio.DigitalWrite(s.ledPin, s.state.AutonomyActive()); err != nil {
			log.Warn("failed to drive status led", zap.Error(err))
		}
	}
}

// Stop halts Run and waits for it to return.
func (s *Switch) Stop() error {
	atomic.StoreInt32(&s.stop, 1)
	<-s.done
	return s.gpio.Close()
}
