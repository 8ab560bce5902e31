package guidance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversineDistanceZeroForSamePoint(t *testing.T) {
	assert.InDelta(t, 0.0, haversineDistance(10, 20, 10, 20), 1e-6)
}

func TestHaversineDistanceMatchesScenarioS1(t *testing.T) {
	d := haversineDistance(0.0004496, 0.0, 0.001, 0.0)
	assert.InDelta(t, 61.14, d, 1.0)
}

func TestInitialBearingDueNorth(t *testing.T) {
	b := initialBearing(0.0, 0.0, 1.0, 0.0)
	assert.InDelta(t, 0.0, b, 1e-6)
}

func TestInitialBearingDueEast(t *testing.T) {
	b := initialBearing(0.0, 0.0, 0.0, 1.0)
	assert.InDelta(t, 90.0, b, 1e-6)
}

func TestWrapHeadingErrorRange(t *testing.T) {
	cases := []struct{ temp, current, want float64 }{
		{10, 350, 20},
		{350, 10, -20},
		{180, 0, 180},
	}
	for _, c := range cases {
		got := wrapHeadingError(c.temp - c.current)
		assert.InDelta(t, c.want, got, 1e-9)
		assert.True(t, got > -180.0 && got <= 180.0)
	}
}
