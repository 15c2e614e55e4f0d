// Package geo holds the two-dimensional geometry used by trip telemetry.
package geo

import (
	"fmt"
	"math"
)

// MetersPerDegree converts a planar distance in degrees to meters.
// Excess-distance pricing depends on this exact constant.
const MetersPerDegree = 111320.0

// Point is a location in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// NewPoint builds a point from longitude and latitude, in that order.
func NewPoint(lon, lat float64) Point {
	return Point{Lat: lat, Lon: lon}
}

// Validate checks latitude is in [-90, 90] and longitude in [-180, 180].
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]", p.Lat)
	}
	if math.IsNaN(p.Lon) || p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]", p.Lon)
	}
	return nil
}

// PlanarDistance returns the Euclidean distance between a and b in degrees.
func PlanarDistance(a, b Point) float64 {
	return math.Hypot(b.Lat-a.Lat, b.Lon-a.Lon)
}

// DistanceMeters is the flat approximation of the distance between a and b:
// planar degrees scaled by MetersPerDegree. It is not a geodesic distance and
// drifts over long ranges and near the poles; billing relies on it as is.
func DistanceMeters(a, b Point) float64 {
	return PlanarDistance(a, b) * MetersPerDegree
}
