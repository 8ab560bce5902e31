// Package guidance implements the position-control state machine, the
// moving-reference generator, and the proportional steering synthesis that
// together chase an operator-commanded target.
package guidance

import (
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/dronecore/dronenav/internal/gps"
	"github.com/dronecore/dronenav/internal/logger"
	"github.com/dronecore/dronenav/internal/sbus"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// gpsSource is the subset of gps.Service the controller needs; narrowed to
// an interface so tests can inject a fake.
type gpsSource interface {
	Update()
	IsDataReliable() bool
	Fix() gps.Fix
}

// headingSource is the subset of compass.Service the controller needs.
type headingSource interface {
	Heading() float64
}

// Controller is the guidance state machine described in spec.md §4.3. A
// single mutex guards Target, Anchor, MovingReference, state, and the
// steering channels; it is held across the full GPS-acquisition retry
// window in SetTarget, by design.
type Controller struct {
	gps     gpsSource
	compass headingSource

	mu        sync.Mutex
	gains     Gains
	target    Target
	anchor    Anchor
	reference MovingReference
	state     PositionControlState
	channels  SteeringChannels
	missionID string
}

// New returns a Controller in the REACHED state with neutral channels.
func New(gpsSvc gpsSource, compassSvc headingSource, gains Gains) *Controller {
	return &Controller{
		gps:      gpsSvc,
		compass:  compassSvc,
		gains:    gains,
		state:    Reached,
		channels: SteeringChannels{Roll: sbus.Neutral, Pitch: sbus.Neutral, Throttle: sbus.Neutral, Yaw: sbus.Neutral},
	}
}

// SetGains applies hot-reloaded steering gains. Safe to call concurrently
// with any other Controller method.
func (c *Controller) SetGains(g Gains) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gains = g
}

// validateTargetParameters only checks heading range; further validation
// (negative speeds, altitude ceilings) is intentionally left minimal — see
// DESIGN.md's Open Question on this.
func validateTargetParameters(t Target) bool {
	return t.Heading >= 0.0 && t.Heading <= 360.0
}

// SetTarget validates and, on success, arms a new target. It blocks for up
// to 5 s (50 retries at 100 ms) acquiring a reliable GPS fix, holding the
// controller mutex for the entire window. Returns the mission id assigned
// if the target was accepted into ACTIVE, or "" if it latched ABORTED.
func (c *Controller) SetTarget(t Target) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	log := logger.WithComponent("guidance")

	if !validateTargetParameters(t) {
		c.state = Aborted
		log.Warn("invalid target parameters", zap.Float64("heading", t.Heading))
		return ""
	}

	reliable := false
	for i := 0; i < maxGPSRetries; i++ {
		c.gps.Update()
		if c.gps.IsDataReliable() {
			reliable = true
			break
		}
		time.Sleep(gpsRetryInterval * time.Millisecond)
	}

	if !reliable {
		c.state = Aborted
		fix := c.gps.Fix()
		log.Warn("failed to acquire reliable GPS data within 5 seconds",
			zap.Int("fix_quality", fix.FixQuality), zap.Int("satellites", fix.Satellites))
		return ""
	}

	fix := c.gps.Fix()
	c.anchor = Anchor{
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
		Altitude:  fix.AltitudeAGL,
		Heading:   c.compass.Heading(),
		StartedAt: time.Now().UnixNano(),
	}
	c.target = t
	c.reference = MovingReference{
		Latitude:  c.anchor.Latitude,
		Longitude: c.anchor.Longitude,
		Altitude:  c.anchor.Altitude,
		Heading:   c.anchor.Heading,
	}
	c.missionID = uuid.NewString()
	c.state = Active
	log.Info("position control state: ACTIVE", zap.String("mission_id", c.missionID))
	return c.missionID
}

// generateReference computes the moving reference for the elapsed time
// since the target was accepted: horizontal leg via bearing + haversine
// clamp, altitude leg via rate-limited climb/descent clamp, heading leg via
// shortest-direction rotation with overshoot clamping.
func (c *Controller) generateReference() {
	elapsedS := time.Since(time.Unix(0, c.anchor.StartedAt)).Seconds()

	distanceToTravel := (c.target.Speed * 1000.0 / 3600.0) * elapsedS
	totalDistance := haversineDistance(c.anchor.Latitude, c.anchor.Longitude, c.target.Latitude, c.target.Longitude)
	if distanceToTravel >= totalDistance {
		c.reference.Latitude = c.target.Latitude
		c.reference.Longitude = c.target.Longitude
	} else {
		bearing := initialBearing(c.anchor.Latitude, c.anchor.Longitude, c.target.Latitude, c.target.Longitude)
		deltaLat := (distanceToTravel / earthRadiusMeters) * (180.0 / math.Pi) * math.Cos(bearing*math.Pi/180.0)
		deltaLon := (distanceToTravel / earthRadiusMeters) * (180.0 / math.Pi) * math.Sin(bearing*math.Pi/180.0) / math.Cos(c.anchor.Latitude*math.Pi/180.0)
		c.reference.Latitude = c.anchor.Latitude + deltaLat
		c.reference.Longitude = c.anchor.Longitude + deltaLon
	}

	altitudeToClimb := elapsedS * (c.target.AltitudeSpeed * 1000.0 / 3600.0)
	if c.target.Altitude < c.anchor.Altitude {
		c.reference.Altitude = math.Max(c.anchor.Altitude-altitudeToClimb, c.target.Altitude)
	} else {
		c.reference.Altitude = math.Min(c.anchor.Altitude+altitudeToClimb, c.target.Altitude)
	}

	headingToRotate := elapsedS * c.target.YawSpeed
	clockwise := math.Mod(c.target.Heading-c.anchor.Heading+360.0, 360.0)
	counterClockwise := math.Mod(c.anchor.Heading-c.target.Heading+360.0, 360.0)

	if clockwise <= counterClockwise {
		h := c.anchor.Heading + headingToRotate
		adjustedTarget := c.target.Heading
		if c.target.Heading < c.anchor.Heading {
			adjustedTarget += 360.0
		}
		if h > adjustedTarget {
			h = adjustedTarget
		}
		c.reference.Heading = math.Mod(h, 360.0)
	} else {
		h := c.anchor.Heading - headingToRotate
		adjustedTarget := c.target.Heading
		if c.target.Heading > c.anchor.Heading {
			adjustedTarget -= 360.0
		}
		if h < adjustedTarget {
			h = adjustedTarget
		}
		c.reference.Heading = math.Mod(h+360.0, 360.0)
	}
}

// isTargetReached compares against the FINAL target, not the moving
// reference.
func (c *Controller) isTargetReached(currentLat, currentLon, currentAlt, currentHeading float64) bool {
	distanceError := haversineDistance(currentLat, currentLon, c.target.Latitude, c.target.Longitude)
	altitudeError := c.target.Altitude - currentAlt
	headingError := c.target.Heading - currentHeading

	return math.Abs(distanceError) <= distanceThresholdMeters &&
		math.Abs(altitudeError) <= altitudeThresholdMeters &&
		math.Abs(headingError) <= headingThresholdDegrees
}

// UpdateSignals refreshes the steering channels for the current tick.
// Outside ACTIVE it only resets the channels to neutral; in ACTIVE it
// transitions to REACHED when the final target has been reached.
func (c *Controller) UpdateSignals() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Active {
		c.channels = neutralChannels()
		return
	}

	log := logger.WithComponent("guidance")

	c.gps.Update()
	if !c.gps.IsDataReliable() {
		fix := c.gps.Fix()
		log.Warn("GPS data not reliable", zap.Int("fix_quality", fix.FixQuality), zap.Int("satellites", fix.Satellites))
		return
	}

	fix := c.gps.Fix()
	currentHeading := c.compass.Heading()

	if c.isTargetReached(fix.Latitude, fix.Longitude, fix.AltitudeAGL, currentHeading) {
		c.state = Reached
		c.channels = neutralChannels()
		log.Info("position control state: REACHED", zap.String("mission_id", c.missionID))
		return
	}

	c.generateReference()

	distanceError := haversineDistance(fix.Latitude, fix.Longitude, c.reference.Latitude, c.reference.Longitude)
	altitudeError := c.reference.Altitude - fix.AltitudeAGL
	targetBearing := initialBearing(fix.Latitude, fix.Longitude, c.reference.Latitude, c.reference.Longitude)
	headingError := wrapHeadingError(c.reference.Heading - currentHeading)

	relativeBearing := wrapHeadingError(targetBearing - currentHeading)
	forwardComponent := math.Cos(relativeBearing * math.Pi / 180.0)
	lateralComponent := math.Sin(relativeBearing * math.Pi / 180.0)

	c.channels = SteeringChannels{
		Roll:     sbus.Clamp(1024 + int(c.gains.KLat*distanceError*lateralComponent)),
		Pitch:    sbus.Clamp(1024 + int(c.gains.KLon*distanceError*forwardComponent)),
		Throttle: sbus.Clamp(1024 + int(c.gains.KAlt*altitudeError)),
		Yaw:      sbus.Clamp(1024 + int(c.gains.KYaw*headingError)),
	}
}

func neutralChannels() SteeringChannels {
	return SteeringChannels{Roll: sbus.Neutral, Pitch: sbus.Neutral, Throttle: sbus.Neutral, Yaw: sbus.Neutral}
}

// GetSteeringSignals returns the full 16-channel SBUS packet for the
// current tick. Channels 5-7 carry fixed mode flags; only channel 7
// differs between ACTIVE (1024) and REACHED/ABORTED (1541). Channels 8-16
// are always neutral.
func (c *Controller) GetSteeringSignals() sbus.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := sbus.NeutralPacket()

	if c.state == Active {
		p.Channels[0] = c.channels.Roll
		p.Channels[1] = c.channels.Pitch
		p.Channels[2] = c.channels.Throttle
		p.Channels[3] = c.channels.Yaw
		p.Channels[4] = 1684
		p.Channels[5] = 1541
		p.Channels[6] = 1024
	} else {
		p.Channels[0] = sbus.Neutral
		p.Channels[1] = sbus.Neutral
		p.Channels[2] = sbus.Neutral
		p.Channels[3] = sbus.Neutral
		p.Channels[4] = 1684
		p.Channels[5] = 1541
		p.Channels[6] = 1541
	}

	return p
}

// Abort latches ABORTED. A no-op if already ABORTED: no state change, no
// log line beyond the first.
func (c *Controller) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Aborted {
		c.state = Aborted
		logger.WithComponent("guidance").Info("position control aborted", zap.String("mission_id", c.missionID))
	}
}

// State returns the current PositionControlState.
func (c *Controller) State() PositionControlState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// MissionID returns the id assigned to the most recently accepted target,
// or "" if none has been accepted yet.
func (c *Controller) MissionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.missionID
}

// jsonState mirrors the wire shape in spec.md §6, including the
// intentionally asymmetric `long` (target) vs `lon` (temp_target) key
// names preserved bit-for-bit from the original wire format.
type jsonState struct {
	Type                 string         `json:"type"`
	ControlLoopState     int            `json:"control_loop_state"`
	Target               jsonTarget     `json:"target"`
	TempTarget           jsonTempTarget `json:"temp_target"`
	DesiredSpeed         float64        `json:"desired_speed"`
	DesiredAltitudeSpeed float64        `json:"desired_altitude_speed"`
	DesiredYawSpeed      float64        `json:"desired_yaw_speed"`
}

type jsonTarget struct {
	Lat      float64 `json:"lat"`
	Long     float64 `json:"long"`
	Altitude float64 `json:"altitude"`
	Heading  float64 `json:"heading"`
}

type jsonTempTarget struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Altitude float64 `json:"altitude"`
	Heading  float64 `json:"heading"`
}

// JSONState returns the CONTROL_STATE wire document for the current state.
func (c *Controller) JSONState() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc := jsonState{
		Type:             "CONTROL_STATE",
		ControlLoopState: int(c.state),
		Target: jsonTarget{
			Lat:      c.target.Latitude,
			Long:     c.target.Longitude,
			Altitude: c.target.Altitude,
			Heading:  c.target.Heading,
		},
		TempTarget: jsonTempTarget{
			Lat:      c.reference.Latitude,
			Lon:      c.reference.Longitude,
			Altitude: c.reference.Altitude,
			Heading:  c.reference.Heading,
		},
		DesiredSpeed:         c.target.Speed,
		DesiredAltitudeSpeed: c.target.AltitudeSpeed,
		DesiredYawSpeed:      c.target.YawSpeed,
	}
	return json.Marshal(doc)
}
