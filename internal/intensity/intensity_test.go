package intensity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	beijing := Point{Lat: 39.9042, Lon: 116.4074}
	shanghai := Point{Lat: 31.2304, Lon: 121.4737}

	assert.InDelta(t, 1067.3, Distance(beijing, shanghai), 0.5)
	assert.InDelta(t, 0, Distance(beijing, beijing), 1e-9)
	assert.InDelta(t, Distance(beijing, shanghai), Distance(shanghai, beijing), 1e-9)
}

func TestEstimateAtEpicenter(t *testing.T) {
	tests := []struct {
		name string
		epi  Point
		want float64
	}{
		{name: "eastern coefficients", epi: Point{Lat: 30, Lon: 110}, want: 6.047},
		{name: "western coefficients", epi: Point{Lat: 30, Lon: 100}, want: 5.835},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Estimate(5.0, 10, tt.epi, tt.epi), 0.01)
		})
	}
}

func TestEstimateMonotonic(t *testing.T) {
	epi := Point{Lat: 25.66, Lon: 104.24}

	prev := Estimate(6.0, 10, epi, epi)
	for _, km := range []float64{10, 50, 100, 200, 400} {
		obs := Point{Lat: epi.Lat + km/111.2, Lon: epi.Lon}
		got := Estimate(6.0, 10, epi, obs)
		assert.LessOrEqual(t, got, prev, "distance %v km", km)
		prev = got
	}

	obs := Point{Lat: 26.0, Lon: 104.5}
	low := Estimate(4.0, 10, epi, obs)
	high := Estimate(6.5, 10, epi, obs)
	assert.Greater(t, high, low)
}

func TestEstimateCutoffs(t *testing.T) {
	epi := Point{Lat: 35.0, Lon: 139.0}

	assert.Zero(t, Estimate(0.5, 10, epi, epi))
	assert.Zero(t, Estimate(7.0, 10, epi, Point{Lat: -35.0, Lon: -60.0}))
	assert.LessOrEqual(t, Estimate(9.5, 0, epi, epi), 12.0)
	assert.Equal(t, Estimate(5.0, 0, epi, epi), Estimate(5.0, DefaultDepthKm, epi, epi))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "not felt", Describe(0.4))
	assert.Equal(t, "moderate", Describe(4.2))
	assert.Equal(t, "catastrophic", Describe(11))
}
