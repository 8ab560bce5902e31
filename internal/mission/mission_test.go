package mission

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dronecore/dronenav/internal/guidance"
	"github.com/dronecore/dronenav/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	targets   []guidance.Target
	missionID string
}

func (f *fakeController) SetTarget(t guidance.Target) string {
	f.targets = append(f.targets, t)
	return f.missionID
}

func init() {
	_ = logger.Init(logger.DefaultConfig())
}

func writeMissionFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644))
}

func TestLoadDefinitionsParsesYAMLFiles(t *testing.T) {
	dir := t.TempDir()
	writeMissionFile(t, dir, "dawn.yaml", `
name: dawn-patrol
schedule: "0 6 * * *"
waypoints:
  - lat: 1.0
    lon: 2.0
    altitude: 50
    heading: 90
    speed: 5
`)
	writeMissionFile(t, dir, "ignored.txt", "not a mission")

	defs, err := LoadDefinitions(dir)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "dawn-patrol", defs[0].Name)
	assert.Equal(t, "0 6 * * *", defs[0].Schedule)
	require.Len(t, defs[0].Waypoints, 1)
	assert.Equal(t, 1.0, defs[0].Waypoints[0].Latitude)
}

func TestLoadDefinitionsMissingDirReturnsEmpty(t *testing.T) {
	defs, err := LoadDefinitions(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestRunOnceDispatchesEveryWaypointInOrder(t *testing.T) {
	ctrl := &fakeController{missionID: "m-1"}
	s := NewScheduler(ctrl)

	def := Definition{
		Name: "two-leg",
		Waypoints: []Waypoint{
			{Latitude: 1, Longitude: 1, Heading: 10},
			{Latitude: 2, Longitude: 2, Heading: 20},
		},
	}
	s.RunOnce(def)

	require.Len(t, ctrl.targets, 2)
	assert.Equal(t, 1.0, ctrl.targets[0].Latitude)
	assert.Equal(t, 2.0, ctrl.targets[1].Latitude)
}

func TestArmSkipsFireOnceDefinitions(t *testing.T) {
	ctrl := &fakeController{}
	s := NewScheduler(ctrl)

	err := s.Arm([]Definition{{Name: "manual", Schedule: ""}})
	require.NoError(t, err)
	assert.Empty(t, s.cron.Entries())
}

func TestArmSchedulesCronDefinitions(t *testing.T) {
	ctrl := &fakeController{}
	s := NewScheduler(ctrl)

	err := s.Arm([]Definition{{Name: "nightly", Schedule: "@daily"}})
	require.NoError(t, err)
	assert.Len(t, s.cron.Entries(), 1)
}

func TestArmRejectsInvalidSchedule(t *testing.T) {
	ctrl := &fakeController{}
	s := NewScheduler(ctrl)

	err := s.Arm([]Definition{{Name: "broken", Schedule: "not-a-cron-expr"}})
	assert.Error(t, err)
}
