// Package filter narrows the merged station set to the ones a query cares
// about.
package filter

import (
	"fuelwatch/internal/geo"
	"fuelwatch/internal/model"
)

// Match is a surviving station with its distance from the query center.
// The distance is computed once here so downstream consumers never repeat
// the haversine work.
type Match struct {
	Station    model.Station
	DistanceKm float64
}

// Apply filters stations by the query's active mode, then drops any station
// with no overlap between its fuel types and the requested set.
//
// Radius mode keeps stations within RadiusKm of the center. Site-id mode
// keeps every station whose SiteID matches, across all brands: cross-retailer
// id collisions are all returned and left for the aggregator to break.
func Apply(stations []model.Station, query model.SearchQuery) []Match {
	var matches []Match
	for _, st := range stations {
		distance := geo.DistanceKm(query.Center, st.Location)
		if query.SiteIDMode() {
			if st.SiteID != query.SiteID {
				continue
			}
		} else if distance > query.RadiusKm {
			continue
		}
		if !st.HasAnyFuel(query.FuelTypes) {
			continue
		}
		matches = append(matches, Match{Station: st, DistanceKm: distance})
	}
	return matches
}
