package geo

import (
	"math"
	"testing"
)

func TestParseCoordinatePairRoundTrip(t *testing.T) {
	cases := []struct {
		in       string
		lat, lon float64
	}{
		{"51.5074,-0.1278", 51.5074, -0.1278},
		{" 51.5074 , -0.1278 ", 51.5074, -0.1278},
		{"-33.86,151.21", -33.86, 151.21},
		{"+51.5,+0.1", 51.5, 0.1},
		{"0,0", 0, 0},
	}
	for _, tc := range cases {
		c, ok := ParseCoordinatePair(tc.in)
		if !ok {
			t.Fatalf("expected %q to parse", tc.in)
		}
		if math.Abs(c.Latitude-tc.lat) > 1e-6 || math.Abs(c.Longitude-tc.lon) > 1e-6 {
			t.Fatalf("parsed %q as %+v", tc.in, c)
		}
	}
}

func TestParseCoordinatePairRejects(t *testing.T) {
	for _, in := range []string{
		"", "SW1A 1AA", "London", "51.5", "51.5,0.1,7",
		"91,0", "-91,0", "0,181", "0,-181", "lat,lon",
	} {
		if _, ok := ParseCoordinatePair(in); ok {
			t.Fatalf("expected %q to be rejected", in)
		}
	}
}

func TestDistanceKmIdentity(t *testing.T) {
	for _, c := range []Coordinate{
		{51.5074, -0.1278},
		{0, 0},
		{-89.9, 179.9},
	} {
		if d := DistanceKm(c, c); d != 0 {
			t.Fatalf("distance to self should be 0, got %f", d)
		}
	}
}

func TestDistanceKmSymmetry(t *testing.T) {
	a := Coordinate{51.5074, -0.1278} // London
	b := Coordinate{53.4808, -2.2426} // Manchester
	ab := DistanceKm(a, b)
	ba := DistanceKm(b, a)
	if math.Abs(ab-ba) > 1e-9 {
		t.Fatalf("distance not symmetric: %f vs %f", ab, ba)
	}
	// London to Manchester is roughly 262 km; allow ~0.5% slack.
	if ab < 255 || ab > 270 {
		t.Fatalf("unexpected London-Manchester distance: %f km", ab)
	}
	if ab < 0 {
		t.Fatal("distance must never be negative")
	}
}
