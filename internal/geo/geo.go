// internal/geo/geo.go
//
// Geodesic scoring primitives for the game engine.
// Responsibilities:
//   - Great-circle distance between two coordinates (haversine formula).
//   - Distance → score mapping (linear falloff, clamped at zero).
//   - Coordinate range validation shared by the engine and HTTP layer.
//
// Everything in this package is pure: no I/O, no state, deterministic
// outputs for the same inputs.

package geo

import "math"

const (
	// earthRadiusKM is the mean radius of the sphere the haversine
	// formula is evaluated on.
	earthRadiusKM = 6371

	// DefaultMaxScore is the score awarded for a perfect guess.
	DefaultMaxScore = 5000

	// DefaultMaxDistanceKM is the distance at which the score reaches zero.
	DefaultMaxDistanceKM = 500
)

// Point is a latitude/longitude pair in decimal degrees.
type Point struct {
	Lat float64
	Lng float64
}

// Valid reports whether p is a finite coordinate within
// lat ∈ [-90, 90] and lng ∈ [-180, 180].
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || math.IsNaN(p.Lng) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Distance returns the great-circle distance between a and b in kilometers.
//
// Uses the haversine formula on a sphere of radius 6371 km. The square-root
// argument is clamped to [0,1] so floating-point overshoot near antipodal
// or identical points never produces a NaN.
func Distance(a, b Point) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)

	h := math.Pow(math.Sin(dLat/2), 2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Pow(math.Sin(dLng/2), 2)

	// Clamp against rounding overshoot.
	if h > 1 {
		h = 1
	} else if h < 0 {
		h = 0
	}

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKM * c
}

// Score maps a distance to a round score using the default parameters
// (5000 points at 0 km, 0 points at ≥500 km).
func Score(distanceKM float64) int {
	return ScoreWith(distanceKM, DefaultMaxScore, DefaultMaxDistanceKM)
}

// ScoreWith maps a distance to a score with explicit parameters:
//
//	round(max(0, maxScore * (1 - distanceKM/maxDistanceKM)))
//
// Monotonically non-increasing in distance; clamps to 0 once
// distanceKM ≥ maxDistanceKM.
func ScoreWith(distanceKM float64, maxScore int, maxDistanceKM float64) int {
	s := float64(maxScore) * (1 - distanceKM/maxDistanceKM)
	if s < 0 {
		return 0
	}
	return int(math.Round(s))
}

// radians converts decimal degrees to radians.
func radians(deg float64) float64 { return deg * math.Pi / 180 }
