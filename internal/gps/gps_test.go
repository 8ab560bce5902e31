package gps

import (
	"fmt"
	"strings"
	"testing"

	"github.com/dronecore/dronenav/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	require.NoError(t, logger.Init(logger.DefaultConfig()))
	return &Service{done: make(chan struct{})}
}

func TestIsDataReliableRequiresFixAndSatellites(t *testing.T) {
	s := newTestService(t)
	assert.False(t, s.IsDataReliable())

	s.fix.FixQuality = 1
	s.fix.Satellites = 3
	assert.False(t, s.IsDataReliable())

	s.fix.Satellites = 4
	assert.True(t, s.IsDataReliable())

	s.fix.FixQuality = 0
	assert.False(t, s.IsDataReliable())
}

func TestApplyRMCRejectsVoidStatusLeavingFixUnchanged(t *testing.T) {
	s := newTestService(t)
	s.fix.Latitude = 1.0
	s.fix.Longitude = 2.0
	s.fix.Speed = 5.0

	log := logger.Get()
	s.applyRMC("$GNRMC,123519,V,4807.038,N,01131.000,E,022.4,084.4,230394*00", log)

	assert.Equal(t, 1.0, s.fix.Latitude)
	assert.Equal(t, 2.0, s.fix.Longitude)
	assert.Equal(t, 5.0, s.fix.Speed)
}

func TestApplyRMCAcceptsActiveStatus(t *testing.T) {
	s := newTestService(t)
	log := logger.Get()
	s.applyRMC("$GNRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394*00", log)

	assert.InDelta(t, 48.1173, s.fix.Latitude, 1e-4)
	assert.InDelta(t, 11.5167, s.fix.Longitude, 1e-4)
}

func TestApplyGGAValidatesAltitudeRange(t *testing.T) {
	s := newTestService(t)
	log := logger.Get()

	s.applyGGA("$GNGGA,123519,4807.038,N,01131.000,E,1,08,0.9,99999,M,46.9,M*00", log)
	assert.Zero(t, s.fix.FixQuality)

	s.applyGGA("$GNGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M*00", log)
	assert.Equal(t, 1, s.fix.FixQuality)
	assert.Equal(t, 8, s.fix.Satellites)
	assert.InDelta(t, 545.4-46.9, s.fix.AltitudeAGL, 1e-6)
}

type fakePort struct {
	r *strings.Reader
}

func (f *fakePort) Read(p []byte) (int, error)  { return f.r.Read(p) }
func (f *fakePort) Write(p []byte) (int, error) { return len(p), nil }
func (f *fakePort) Close() error                { return nil }

func TestQueueCoalescingDropsOldestUnderBurst(t *testing.T) {
	s := newTestService(t)
	var burst strings.Builder
	for i := 0; i < queueCapacity+5; i++ {
		burst.WriteString(buildSentence(fmt.Sprintf("GNTXT,%02d", i)) + "\n")
	}
	s.port = &fakePort{r: strings.NewReader(burst.String())}
	s.Run() // returns once the reader is exhausted

	assert.Len(t, s.queue, queueCapacity)
	assert.Equal(t, buildSentence("GNTXT,05"), s.queue[0])
}
