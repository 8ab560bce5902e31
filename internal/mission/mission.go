// Package mission implements the YAML-defined, cron-scheduled waypoint
// missions described in SPEC_FULL.md §3: a named sequence of targets that
// feeds the same Controller.SetTarget path a TARGET command would, so a
// schedule-driven trigger never becomes a second way to reach ACTIVE.
package mission

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dronecore/dronenav/internal/guidance"
	"github.com/dronecore/dronenav/internal/logger"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Controller is the subset of guidance.Controller the scheduler drives.
type Controller interface {
	SetTarget(guidance.Target) string
}

// Waypoint is one leg of a mission file.
type Waypoint struct {
	Latitude      float64 `yaml:"lat"`
	Longitude     float64 `yaml:"lon"`
	Altitude      float64 `yaml:"altitude"`
	Heading       float64 `yaml:"heading"`
	Speed         float64 `yaml:"speed"`
	AltitudeSpeed float64 `yaml:"altitude_speed"`
	YawSpeed      float64 `yaml:"yaw_speed"`
}

// Definition is one mission file's contents: a name, an optional cron
// schedule (empty means Arm skips it and it runs only through RunOnce),
// and its ordered waypoints.
type Definition struct {
	Name      string     `yaml:"name"`
	Schedule  string     `yaml:"schedule"`
	Waypoints []Waypoint `yaml:"waypoints"`
}

func (w Waypoint) toTarget() guidance.Target {
	return guidance.Target{
		Latitude:      w.Latitude,
		Longitude:     w.Longitude,
		Altitude:      w.Altitude,
		Heading:       w.Heading,
		Speed:         w.Speed,
		AltitudeSpeed: w.AltitudeSpeed,
		YawSpeed:      w.YawSpeed,
	}
}

// LoadDefinitions parses every *.yaml/*.yml file in dir into a Definition.
func LoadDefinitions(dir string) ([]Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("mission: failed to read %s: %w", dir, err)
	}

	var defs []Definition
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("mission: failed to read %s: %w", e.Name(), err)
		}

		var def Definition
		if err := yaml.Unmarshal(raw, &def); err != nil {
			return nil, fmt.Errorf("mission: failed to parse %s: %w", e.Name(), err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// Scheduler arms mission definitions against a cron instance, firing each
// waypoint in sequence into Controller.SetTarget on schedule.
type Scheduler struct {
	controller Controller
	cron       *cron.Cron
}

// NewScheduler returns a Scheduler bound to controller. Start/Stop control
// the underlying cron runner.
func NewScheduler(controller Controller) *Scheduler {
	return &Scheduler{
		controller: controller,
		cron:       cron.New(),
	}
}

// Arm registers every scheduled definition (non-empty Schedule) so it
// fires its waypoints in order on each tick. Fire-once definitions
// (empty Schedule) are not armed here — call RunOnce for those.
func (s *Scheduler) Arm(defs []Definition) error {
	log := logger.WithComponent("mission")
	for _, def := range defs {
		if def.Schedule == "" {
			continue
		}
		d := def
		if _, err := s.cron.AddFunc(d.Schedule, func() { s.RunOnce(d) }); err != nil {
			return fmt.Errorf("mission: failed to schedule %q: %w", d.Name, err)
		}
		log.Info("mission armed", zap.String("name", d.Name), zap.String("schedule", d.Schedule))
	}
	return nil
}

// RunOnce fires every waypoint of def through Controller.SetTarget in
// order, recording the mission id each acceptance returns. It does not
// wait for ACTIVE/REACHED between legs — a mission with more than one
// waypoint expects the caller's schedule to space firings appropriately.
func (s *Scheduler) RunOnce(def Definition) {
	log := logger.WithComponent("mission")
	for i, wp := range def.Waypoints {
		missionID := s.controller.SetTarget(wp.toTarget())
		log.Info("mission leg dispatched",
			zap.String("mission_name", def.Name),
			zap.Int("leg", i),
			zap.String("mission_id", missionID),
		)
	}
}

// Start begins the cron runner in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron runner, waiting for any in-flight job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
