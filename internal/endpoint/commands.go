package endpoint

import (
	"encoding/json"
	"fmt"

	"github.com/dronecore/dronenav/internal/guidance"
	"github.com/dronecore/dronenav/internal/logger"
	"go.uber.org/zap"
)

type request struct {
	Command  string       `json:"command"`
	Token    string       `json:"token"`
	Location requestLoc   `json:"location"`
	Heading  float64      `json:"heading"`
	Speed    requestSpeed `json:"speed"`
}

type requestLoc struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Alt float64 `json:"alt"`
}

type requestSpeed struct {
	Linear   float64 `json:"linear"`
	Yaw      float64 `json:"yaw"`
	Altitude float64 `json:"altitude"`
}

type ackResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type telemetryResponse struct {
	Type    string           `json:"type"`
	GPS     telemetryGPS     `json:"gps"`
	Compass telemetryCompass `json:"compass"`
}

type telemetryGPS struct {
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Altitude   float64 `json:"altitude"`
	Speed      float64 `json:"speed"`
	Time       string  `json:"time"`
	FixQuality int     `json:"fix_quality"`
	Satellites int     `json:"satellites"`
	Reliable   bool    `json:"reliable"`
}

type telemetryCompass struct {
	Heading float64 `json:"heading"`
}

// handleCommand parses and dispatches a single request buffer, returning
// the encoded JSON response. Unknown/malformed input never closes the
// connection — the caller keeps reading.
func (s *Server) handleCommand(data []byte) []byte {
	log := logger.WithComponent("endpoint")

	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		return mustEncode(errorResponse{Error: err.Error()})
	}

	switch req.Command {
	case "ABORT":
		if err := s.requireAuth(req.Token); err != nil {
			return mustEncode(errorResponse{Error: err.Error()})
		}
		s.controller.Abort()
		return mustEncode(ackResponse{Status: "confirmed"})

	case "TARGET":
		if err := s.requireAuth(req.Token); err != nil {
			return mustEncode(errorResponse{Error: err.Error()})
		}
		target := guidance.Target{
			Latitude:      req.Location.Lat,
			Longitude:     req.Location.Lon,
			Altitude:      req.Location.Alt,
			Heading:       req.Heading,
			Speed:         req.Speed.Linear,
			AltitudeSpeed: req.Speed.Altitude,
			YawSpeed:      req.Speed.Yaw,
		}
		// SetTarget may synchronously latch ABORTED (e.g. no GPS fix
		// within its retry window); the response is still "confirmed" —
		// a client must follow up with CONTROL_STATE to know which.
		go s.controller.SetTarget(target)
		return mustEncode(ackResponse{Status: "confirmed"})

	case "CONTROL_STATE":
		raw, err := s.controller.JSONState()
		if err != nil {
			log.Warn("failed to encode control state", zap.Error(err))
			return mustEncode(errorResponse{Error: err.Error()})
		}
		return raw

	case "TELEMETRY":
		return s.telemetry()

	default:
		return mustEncode(errorResponse{Error: "unknown request"})
	}
}

func (s *Server) requireAuth(token string) error {
	if s.auth == nil {
		return nil
	}
	return s.auth.Verify(token)
}

func (s *Server) telemetry() []byte {
	s.gps.Update()
	fix := s.gps.Fix()

	resp := telemetryResponse{
		Type: "TELEMETRY",
		GPS: telemetryGPS{
			Lat:        fix.Latitude,
			Lon:        fix.Longitude,
			Altitude:   fix.AltitudeAGL,
			Speed:      fix.Speed,
			Time:       fix.Time,
			FixQuality: fix.FixQuality,
			Satellites: fix.Satellites,
			Reliable:   s.gps.IsDataReliable(),
		},
		Compass: telemetryCompass{Heading: s.compass.Heading()},
	}
	return mustEncode(resp)
}

func mustEncode(v interface{}) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		return []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
	}
	return raw
}
