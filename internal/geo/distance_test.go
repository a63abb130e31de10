package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ridetrack/internal/domain"
)

func TestDistanceMeters_IdenticalPointsIsZero(t *testing.T) {
	points := []domain.Point{
		{Lat: 0, Lng: 0},
		{Lat: 12.9716, Lng: 77.5946},
		{Lat: -33.8688, Lng: 151.2093},
		{Lat: 90, Lng: 180},
	}
	for _, p := range points {
		assert.Equal(t, 0.0, DistanceMeters(p, p))
	}
}

func TestDistanceMeters_KnownDistances(t *testing.T) {
	testCases := []struct {
		name  string
		a, b  domain.Point
		want  float64
		delta float64
	}{
		{
			name:  "one degree of latitude",
			a:     domain.Point{Lat: 0, Lng: 0},
			b:     domain.Point{Lat: 1, Lng: 0},
			want:  111195,
			delta: 1,
		},
		{
			name:  "london to paris",
			a:     domain.Point{Lat: 51.5074, Lng: -0.1278},
			b:     domain.Point{Lat: 48.8566, Lng: 2.3522},
			want:  343556,
			delta: 500,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, DistanceMeters(tc.a, tc.b), tc.delta)
			assert.InDelta(t, DistanceMeters(tc.a, tc.b), DistanceMeters(tc.b, tc.a), 1e-6)
		})
	}
}

func TestBearingDegrees(t *testing.T) {
	origin := domain.Point{Lat: 0, Lng: 0}

	assert.InDelta(t, 0, BearingDegrees(origin, domain.Point{Lat: 1, Lng: 0}), 1e-9)
	assert.InDelta(t, 90, BearingDegrees(origin, domain.Point{Lat: 0, Lng: 1}), 1e-9)
	assert.InDelta(t, 180, BearingDegrees(origin, domain.Point{Lat: -1, Lng: 0}), 1e-9)
	assert.InDelta(t, 270, BearingDegrees(origin, domain.Point{Lat: 0, Lng: -1}), 1e-9)
}
