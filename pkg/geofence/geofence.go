// Package geofence classifies locations as HOME or AWAY relative to a
// circular boundary around a reference point.
//
// Distances use the haversine great-circle formula on a spherical Earth.
// At geofence scale (tens to hundreds of metres) the error against the
// WGS-84 ellipsoid is far below GPS noise.
package geofence

import (
	"fmt"
	"math"
	"sync"
)

// EarthRadiusMeters is the mean Earth radius used for haversine distances.
const EarthRadiusMeters = 6371000.0

// DefaultRadiusMeters is the home radius when none is configured.
const DefaultRadiusMeters = 100.0

// Zone is the result of a geofence classification.
type Zone int

const (
	// Away means the point lies outside the home radius.
	Away Zone = iota
	// Home means the point lies within the home radius (inclusive).
	Home
)

// String returns the zone name.
func (z Zone) String() string {
	if z == Home {
		return "HOME"
	}
	return "AWAY"
}

// ZoneOf converts a boolean home flag into a Zone.
func ZoneOf(home bool) Zone {
	if home {
		return Home
	}
	return Away
}

// Point is a WGS-84 coordinate in degrees.
type Point struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// HomeLocation is the reference point and radius of the geofence.
type HomeLocation struct {
	Point
	RadiusMeters float64 `json:"radius_meters"`
}

// NewHomeLocation creates a home location, applying DefaultRadiusMeters
// when radius is zero or negative.
func NewHomeLocation(lat, lon, radius float64) HomeLocation {
	if radius <= 0 {
		radius = DefaultRadiusMeters
	}
	return HomeLocation{Point: Point{Lat: lat, Lon: lon}, RadiusMeters: radius}
}

// Validate checks coordinate ranges and radius.
func (h HomeLocation) Validate() error {
	if h.Lat < -90 || h.Lat > 90 {
		return fmt.Errorf("latitude %v out of range", h.Lat)
	}
	if h.Lon < -180 || h.Lon > 180 {
		return fmt.Errorf("longitude %v out of range", h.Lon)
	}
	if h.RadiusMeters <= 0 || math.IsNaN(h.RadiusMeters) {
		return fmt.Errorf("radius must be positive, got %v", h.RadiusMeters)
	}
	return nil
}

// Distance returns the great-circle distance between a and b in metres.
func Distance(a, b Point) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLon := radians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// Classify returns Home when p lies within home's radius. It holds no state.
func Classify(p Point, home HomeLocation) Zone {
	if Distance(p, home.Point) <= home.RadiusMeters {
		return Home
	}
	return Away
}

// Result is a classification plus the edge relative to the previous one.
type Result struct {
	Zone     Zone
	Distance float64 // Metres from home, 0 when derived from a hint
	Changed  bool    // Zone differs from the previous observation
}

// Evaluator tracks the previous classification so callers can detect
// HOME/AWAY transitions.
type Evaluator struct {
	mu   sync.Mutex
	last Zone
	seen bool
}

// NewEvaluator creates an evaluator whose previous zone is initial.
// The first evaluation reports Changed relative to initial.
func NewEvaluator(initial Zone) *Evaluator {
	return &Evaluator{last: initial, seen: true}
}

// Evaluate classifies p against home and records the result.
func (e *Evaluator) Evaluate(p Point, home HomeLocation) Result {
	d := Distance(p, home.Point)
	zone := Away
	if d <= home.RadiusMeters {
		zone = Home
	}
	res := e.Observe(zone)
	res.Distance = d
	return res
}

// Observe records a zone decided elsewhere (for example a client hint).
func (e *Evaluator) Observe(zone Zone) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	changed := e.seen && zone != e.last
	e.last = zone
	e.seen = true
	return Result{Zone: zone, Changed: changed}
}

// Reset forgets the previous zone and sets it to zone without reporting an edge.
func (e *Evaluator) Reset(zone Zone) {
	e.mu.Lock()
	e.last = zone
	e.seen = true
	e.mu.Unlock()
}

// Last returns the most recently observed zone.
func (e *Evaluator) Last() Zone {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
