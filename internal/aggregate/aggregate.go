// Package aggregate computes the cheapest offering per fuel type.
package aggregate

import (
	"time"

	"fuelwatch/internal/filter"
	"fuelwatch/internal/model"
)

// Cheapest selects, independently for each requested fuel type, the station
// with the minimum price among the filtered matches.
//
// Ties on price are broken by smaller distance from the query center, then
// by lexicographically smaller (brand, site_id), so identical input always
// produces the same winner.
func Cheapest(matches []filter.Match, fuelTypes []model.FuelType) model.AggregateResult {
	result := model.AggregateResult{
		Cheapest:           make(map[model.FuelType]model.Cheapest, len(fuelTypes)),
		FetchedAt:          time.Now().UTC(),
		StationsConsidered: len(matches),
	}

	for _, ft := range fuelTypes {
		best, ok := cheapestFor(matches, ft)
		if !ok {
			continue // nobody sells this type: absent, not an error
		}
		result.Cheapest[ft] = best
	}
	return result
}

func cheapestFor(matches []filter.Match, ft model.FuelType) (model.Cheapest, bool) {
	var best model.Cheapest
	found := false
	for _, m := range matches {
		price, ok := m.Station.Prices[ft]
		if !ok {
			continue
		}
		candidate := model.Cheapest{Station: m.Station, Price: price, DistanceKm: m.DistanceKm}
		if !found || beats(candidate, best) {
			best = candidate
			found = true
		}
	}
	return best, found
}

func beats(a, b model.Cheapest) bool {
	if cmp := a.Price.Amount.Cmp(b.Price.Amount); cmp != 0 {
		return cmp < 0
	}
	if a.DistanceKm != b.DistanceKm {
		return a.DistanceKm < b.DistanceKm
	}
	if a.Station.Brand != b.Station.Brand {
		return a.Station.Brand < b.Station.Brand
	}
	return a.Station.SiteID < b.Station.SiteID
}
