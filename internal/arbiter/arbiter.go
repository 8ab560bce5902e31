// Package arbiter implements the SBUS priority arbiter from spec.md §4.5:
// it watches pilot SBUS frames for channel activity and selects, on every
// output cycle, between the pilot's last frame and the guidance
// controller's synthesized frame.
package arbiter

import (
	"sync"
	"time"

	"github.com/dronecore/dronenav/internal/logger"
	"github.com/dronecore/dronenav/internal/sbus"
)

// Controller is the subset of guidance.Controller the arbiter drives.
type Controller interface {
	Abort()
	GetSteeringSignals() sbus.Packet
}

// Arbiter holds the last pilot frame and the timestamp of its last
// channel change, and selects the output frame for each main-loop cycle.
type Arbiter struct {
	controller    Controller
	inactiveAfter time.Duration

	mu         sync.Mutex
	pilot      sbus.Packet
	havePilot  bool
	lastChange time.Time
}

// New returns an Arbiter with no pilot frame observed yet — pilot is
// considered inactive until the first OnPilotFrame call.
func New(controller Controller, inactiveAfter time.Duration) *Arbiter {
	return &Arbiter{
		controller:    controller,
		inactiveAfter: inactiveAfter,
	}
}

// OnPilotFrame is the SBUS link's per-frame callback (spec.md §4.5 step 1).
// Any channel difference from the last stored pilot frame resets the
// inactivity window and immediately aborts the controller, so a human
// stick input always latches autonomy off.
func (a *Arbiter) OnPilotFrame(p sbus.Packet) {
	a.mu.Lock()
	changed := !a.havePilot || !a.pilot.Equal(p)
	a.pilot = p
	a.havePilot = true
	if changed {
		a.lastChange = time.Now()
	}
	a.mu.Unlock()

	if changed {
		a.controller.Abort()
	}
}

// Active reports whether the pilot is considered in command: true until
// inactiveAfter has elapsed with no channel change.
func (a *Arbiter) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.havePilot {
		return false
	}
	return time.Since(a.lastChange) < a.inactiveAfter
}

// Resolve implements spec.md §4.5 step 3: emit exactly one SBUS frame per
// cycle. While the pilot is active, the stored pilot frame wins
// unmodified. Otherwise the controller's frame wins, with channel 3
// (throttle, 0-indexed channel[2]) forcibly pinned to neutral — altitude
// control is intentionally disabled at integration time.
func (a *Arbiter) Resolve() sbus.Packet {
	if a.Active() {
		a.mu.Lock()
		p := a.pilot
		a.mu.Unlock()
		return p
	}

	p := a.controller.GetSteeringSignals()
	p.Channels[2] = sbus.Neutral
	return p
}

// LogIfJustWentInactive emits the "pilot inactive" transition log line
// called for by spec.md §4.5 the first cycle the pilot's window lapses.
// It is a separate step (not folded into Resolve) so the main loop can
// call it once per transition rather than once per cycle.
func (a *Arbiter) LogIfJustWentInactive(wasActive bool) bool {
	active := a.Active()
	if wasActive && !active {
		logger.WithComponent("arbiter").Info("pilot inactive, autonomy in command")
	}
	return active
}
