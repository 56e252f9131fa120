// Package geo provides coordinate parsing and great-circle distance helpers.
package geo

import (
	"strconv"
	"strings"

	"github.com/tkrajina/gpxgo/gpx"
)

const metersPerKm = 1000.0

// Coordinate is an immutable WGS84 latitude/longitude pair.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the pair lies inside the WGS84 envelope.
func (c Coordinate) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// DistanceKm returns the haversine great-circle distance between two points
// in kilometres. Identical points yield 0; the result is never negative.
func DistanceKm(a, b Coordinate) float64 {
	if a == b {
		return 0
	}
	d := gpx.Distance2D(a.Latitude, a.Longitude, b.Latitude, b.Longitude, true) / metersPerKm
	if d < 0 {
		return 0
	}
	return d
}

// ParseCoordinatePair parses "<lat>,<lon>" with optional whitespace and
// signs. The second return is false when the text does not match that exact
// shape, letting callers fall through to the next resolution strategy.
func ParseCoordinatePair(text string) (Coordinate, bool) {
	parts := strings.Split(text, ",")
	if len(parts) != 2 {
		return Coordinate{}, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Coordinate{}, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Coordinate{}, false
	}
	c := Coordinate{Latitude: lat, Longitude: lon}
	if !c.Valid() {
		return Coordinate{}, false
	}
	return c, true
}
