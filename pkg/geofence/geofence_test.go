package geofence

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistance(t *testing.T) {
	sf := Point{Lat: 37.7749, Lon: -122.4194}

	assert.Equal(t, 0.0, Distance(sf, sf))

	// One degree of latitude is ~111.2 km on a 6371 km sphere
	d := Distance(Point{Lat: 0, Lon: 0}, Point{Lat: 1, Lon: 0})
	assert.InDelta(t, 111195, d, 1)

	// Symmetric
	other := Point{Lat: 37.78, Lon: -122.41}
	assert.InDelta(t, Distance(sf, other), Distance(other, sf), 1e-9)
}

func TestClassify(t *testing.T) {
	home := NewHomeLocation(37.7749, -122.4194, 100)

	assert.Equal(t, Home, Classify(home.Point, home))
	assert.Equal(t, Away, Classify(Point{Lat: 0, Lon: 0}, home))
}

func TestClassify_BoundaryIsHome(t *testing.T) {
	origin := Point{Lat: 0, Lon: 0}
	p := Point{Lat: 0.001, Lon: 0}

	// Radius exactly equal to the computed distance
	home := HomeLocation{Point: origin, RadiusMeters: Distance(p, origin)}
	assert.Equal(t, Home, Classify(p, home))

	home.RadiusMeters = math.Nextafter(home.RadiusMeters, 0)
	assert.Equal(t, Away, Classify(p, home))
}

func TestClassify_Idempotent(t *testing.T) {
	home := NewHomeLocation(51.5, -0.12, 100)
	p := Point{Lat: 51.5005, Lon: -0.12}

	first := Classify(p, home)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Classify(p, home))
	}
}

func TestNewHomeLocation_DefaultRadius(t *testing.T) {
	h := NewHomeLocation(1, 2, 0)
	assert.Equal(t, DefaultRadiusMeters, h.RadiusMeters)
	require.NoError(t, h.Validate())
}

func TestHomeLocationValidate(t *testing.T) {
	tests := []struct {
		name    string
		home    HomeLocation
		wantErr bool
	}{
		{"valid", NewHomeLocation(45, 90, 50), false},
		{"bad latitude", HomeLocation{Point: Point{Lat: 91}, RadiusMeters: 10}, true},
		{"bad longitude", HomeLocation{Point: Point{Lon: -181}, RadiusMeters: 10}, true},
		{"zero radius", HomeLocation{RadiusMeters: 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.home.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEvaluator_Transitions(t *testing.T) {
	home := NewHomeLocation(0, 0, 100)
	e := NewEvaluator(Home)

	res := e.Evaluate(Point{Lat: 0, Lon: 0}, home)
	assert.Equal(t, Home, res.Zone)
	assert.False(t, res.Changed)

	res = e.Evaluate(Point{Lat: 1, Lon: 1}, home)
	assert.Equal(t, Away, res.Zone)
	assert.True(t, res.Changed)
	assert.Greater(t, res.Distance, 100.0)

	res = e.Evaluate(Point{Lat: 1, Lon: 1}, home)
	assert.False(t, res.Changed, "same zone twice is not an edge")

	res = e.Observe(Home)
	assert.True(t, res.Changed)
	assert.Equal(t, Home, e.Last())

	e.Reset(Away)
	assert.Equal(t, Away, e.Last())
	assert.False(t, e.Observe(Away).Changed)
}

func TestZone(t *testing.T) {
	assert.Equal(t, "HOME", Home.String())
	assert.Equal(t, "AWAY", Away.String())
	assert.Equal(t, Home, ZoneOf(true))
	assert.Equal(t, Away, ZoneOf(false))
}
