package aggregate

import (
	"testing"

	"github.com/shopspring/decimal"

	"fuelwatch/internal/filter"
	"fuelwatch/internal/geo"
	"fuelwatch/internal/model"
)

func match(siteID, brand string, distanceKm float64, prices map[model.FuelType]float64) filter.Match {
	p := make(map[model.FuelType]model.Price, len(prices))
	for ft, amount := range prices {
		p[ft] = model.Price{FuelType: ft, Amount: decimal.NewFromFloat(amount)}
	}
	return filter.Match{
		Station: model.Station{
			SiteID:   siteID,
			Brand:    brand,
			Location: geo.Coordinate{Latitude: 51.5, Longitude: -0.1},
			Prices:   p,
		},
		DistanceKm: distanceKm,
	}
}

func TestCheapestPicksMinimumPerFuelType(t *testing.T) {
	matches := []filter.Match{
		match("a", "Asda", 1.0, map[model.FuelType]float64{model.FuelE10: 134.7, model.FuelB7: 142.0}),
		match("b", "Tesco", 2.0, map[model.FuelType]float64{model.FuelE10: 132.9, model.FuelB7: 144.5}),
	}

	result := Cheapest(matches, []model.FuelType{model.FuelE10, model.FuelB7})
	if result.StationsConsidered != 2 {
		t.Fatalf("stations_considered = %d", result.StationsConsidered)
	}
	if result.Cheapest[model.FuelE10].Station.SiteID != "b" {
		t.Fatalf("wrong E10 winner: %s", result.Cheapest[model.FuelE10].Station.SiteID)
	}
	if result.Cheapest[model.FuelB7].Station.SiteID != "a" {
		t.Fatalf("wrong B7 winner: %s", result.Cheapest[model.FuelB7].Station.SiteID)
	}
}

func TestCheapestNeverPicksStationWithoutFuel(t *testing.T) {
	matches := []filter.Match{
		match("cheap-diesel", "Shell", 1.0, map[model.FuelType]float64{model.FuelB7: 120.0}),
		match("petrol", "Asda", 5.0, map[model.FuelType]float64{model.FuelE10: 150.0}),
	}

	result := Cheapest(matches, []model.FuelType{model.FuelE10})
	if got := result.Cheapest[model.FuelE10].Station.SiteID; got != "petrol" {
		t.Fatalf("winner must sell the fuel type, got %q", got)
	}
}

func TestCheapestTieBreakPrefersCloserStation(t *testing.T) {
	// Spec scenario: A (134.7p, 2.0 km) and B (134.7p, 1.0 km) -> B wins.
	matches := []filter.Match{
		match("A", "Asda", 2.0, map[model.FuelType]float64{model.FuelE10: 134.7}),
		match("B", "Tesco", 1.0, map[model.FuelType]float64{model.FuelE10: 134.7}),
	}

	result := Cheapest(matches, []model.FuelType{model.FuelE10})
	if got := result.Cheapest[model.FuelE10].Station.SiteID; got != "B" {
		t.Fatalf("closer station should win the tie, got %q", got)
	}
}

func TestCheapestTieBreakDeterministicOnBrandAndSite(t *testing.T) {
	build := func() []filter.Match {
		return []filter.Match{
			match("s2", "Tesco", 1.0, map[model.FuelType]float64{model.FuelE10: 134.7}),
			match("s1", "Tesco", 1.0, map[model.FuelType]float64{model.FuelE10: 134.7}),
			match("s9", "Asda", 1.0, map[model.FuelType]float64{model.FuelE10: 134.7}),
		}
	}

	for i := 0; i < 20; i++ {
		result := Cheapest(build(), []model.FuelType{model.FuelE10})
		winner := result.Cheapest[model.FuelE10].Station
		if winner.Brand != "Asda" || winner.SiteID != "s9" {
			t.Fatalf("run %d: nondeterministic winner %s/%s", i, winner.Brand, winner.SiteID)
		}
	}
}

func TestCheapestAbsentFuelTypeAbsentFromResult(t *testing.T) {
	matches := []filter.Match{
		match("a", "Asda", 1.0, map[model.FuelType]float64{model.FuelE10: 134.7}),
	}

	result := Cheapest(matches, []model.FuelType{model.FuelE10, model.FuelSDV})
	if _, ok := result.Cheapest[model.FuelSDV]; ok {
		t.Fatal("SDV has no sellers and must be absent")
	}
	if _, ok := result.Cheapest[model.FuelE10]; !ok {
		t.Fatal("E10 should be present")
	}
}

func TestCheapestEmptyMatches(t *testing.T) {
	result := Cheapest(nil, []model.FuelType{model.FuelE10, model.FuelB7})
	if len(result.Cheapest) != 0 {
		t.Fatalf("empty input must yield empty mapping, got %v", result.Cheapest)
	}
	if result.StationsConsidered != 0 {
		t.Fatalf("stations_considered = %d", result.StationsConsidered)
	}
}
