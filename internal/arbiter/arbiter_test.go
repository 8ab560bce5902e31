package arbiter

import (
	"testing"
	"time"

	"github.com/dronecore/dronenav/internal/logger"
	"github.com/dronecore/dronenav/internal/sbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	aborted bool
	packet  sbus.Packet
}

func (f *fakeController) Abort()                       { f.aborted = true }
func (f *fakeController) GetSteeringSignals() sbus.Packet { return f.packet }

func init() {
	_ = logger.Init(logger.DefaultConfig())
}

func TestResolveUsesControllerFrameWhenNoPilotSeen(t *testing.T) {
	ctrl := &fakeController{packet: sbus.Packet{Channels: [16]uint16{1, 2, 3, 4}}}
	a := New(ctrl, 5*time.Second)

	assert.False(t, a.Active())
	got := a.Resolve()
	assert.Equal(t, uint16(1), got.Channels[0])
	assert.Equal(t, sbus.Neutral, got.Channels[2])
}

func TestOnPilotFrameChangeAbortsControllerAndResetsWindow(t *testing.T) {
	ctrl := &fakeController{}
	a := New(ctrl, 5*time.Second)

	p1 := sbus.NeutralPacket()
	a.OnPilotFrame(p1)
	assert.True(t, ctrl.aborted)
	assert.True(t, a.Active())
}

func TestResolveReturnsPilotFrameWhileActive(t *testing.T) {
	ctrl := &fakeController{}
	a := New(ctrl, 5*time.Second)

	p := sbus.Packet{Channels: [16]uint16{500, 600, 700, 800}}
	a.OnPilotFrame(p)

	got := a.Resolve()
	assert.Equal(t, p.Channels, got.Channels)
}

func TestResolveFallsBackToControllerAfterInactivityWindow(t *testing.T) {
	ctrl := &fakeController{packet: sbus.Packet{Channels: [16]uint16{1, 2, 3, 4}}}
	a := New(ctrl, 50*time.Millisecond)

	a.OnPilotFrame(sbus.NeutralPacket())
	assert.True(t, a.Active())

	time.Sleep(80 * time.Millisecond)
	assert.False(t, a.Active())

	got := a.Resolve()
	assert.Equal(t, uint16(1), got.Channels[0])
	assert.Equal(t, sbus.Neutral, got.Channels[2])
}

func TestOnPilotFrameIdenticalChannelsDoesNotResetWindowOrAbort(t *testing.T) {
	ctrl := &fakeController{}
	a := New(ctrl, 5*time.Second)

	p := sbus.Packet{Channels: [16]uint16{900, 900, 900, 900}}
	a.OnPilotFrame(p)
	ctrl.aborted = false
	firstChange := a.lastChange

	time.Sleep(10 * time.Millisecond)
	a.OnPilotFrame(p)

	assert.False(t, ctrl.aborted)
	assert.Equal(t, firstChange, a.lastChange)
}

func TestScenarioS6PilotOverrideWhileActive(t *testing.T) {
	ctrl := &fakeController{packet: sbus.Packet{Channels: [16]uint16{1024, 1024, 1024, 1024}}}
	a := New(ctrl, 5*time.Second)

	// Pilot hands off: frame present but unchanging, so autonomy runs.
	base := sbus.NeutralPacket()
	a.OnPilotFrame(base)
	require.True(t, a.Active())

	// Force the window closed to simulate autonomy already in command.
	a.lastChange = time.Now().Add(-10 * time.Second)
	require.False(t, a.Active())
	ctrl.aborted = false

	// Pilot moves a stick: any channel differs from the last stored frame.
	moved := base
	moved.Channels[0] = base.Channels[0] + 50
	a.OnPilotFrame(moved)

	assert.True(t, ctrl.aborted)
	assert.True(t, a.Active())
	got := a.Resolve()
	assert.Equal(t, moved.Channels, got.Channels)
	assert.Equal(t, sbus.Neutral, got.Channels[2])
}

func TestLogIfJustWentInactiveReportsTransitionOnce(t *testing.T) {
	ctrl := &fakeController{}
	a := New(ctrl, 20*time.Millisecond)
	a.OnPilotFrame(sbus.NeutralPacket())

	assert.True(t, a.LogIfJustWentInactive(true))
	time.Sleep(40 * time.Millisecond)
	assert.False(t, a.LogIfJustWentInactive(true))
}
