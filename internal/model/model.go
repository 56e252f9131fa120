// Package model holds the shared data model for fuel stations and prices.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fuelwatch/internal/geo"
)

// FuelType is one of the four categories tracked by the UK open-data scheme.
type FuelType string

const (
	FuelE10 FuelType = "E10" // unleaded petrol
	FuelE5  FuelType = "E5"  // super unleaded
	FuelB7  FuelType = "B7"  // diesel
	FuelSDV FuelType = "SDV" // super diesel
)

// AllFuelTypes lists every supported fuel type in canonical order.
var AllFuelTypes = []FuelType{FuelE10, FuelE5, FuelB7, FuelSDV}

// ParseFuelType maps a feed code onto the closed fuel-type set. Codes are
// matched case-insensitively; anything outside the set is rejected.
func ParseFuelType(code string) (FuelType, bool) {
	switch FuelType(strings.ToUpper(strings.TrimSpace(code))) {
	case FuelE10:
		return FuelE10, true
	case FuelE5:
		return FuelE5, true
	case FuelB7:
		return FuelB7, true
	case FuelSDV:
		return FuelSDV, true
	}
	return "", false
}

// Price is a per-station list price in pence per litre.
type Price struct {
	FuelType FuelType        `json:"fuel_type"`
	Amount   decimal.Decimal `json:"amount"`
}

// Station is one retail site as published by a retailer feed. Instances are
// built fresh each fetch cycle and never mutated afterwards. SiteID is only
// unique within its source feed; disambiguate by (Brand, SiteID).
type Station struct {
	SiteID      string             `json:"site_id"`
	Brand       string             `json:"brand"`
	Address     string             `json:"address"`
	Postcode    string             `json:"postcode"`
	Location    geo.Coordinate     `json:"location"`
	Prices      map[FuelType]Price `json:"prices"`
	LastUpdated time.Time          `json:"last_updated"`
}

// HasAnyFuel reports whether the station sells at least one of the given types.
func (s Station) HasAnyFuel(types []FuelType) bool {
	for _, ft := range types {
		if _, ok := s.Prices[ft]; ok {
			return true
		}
	}
	return false
}

// SearchQuery selects stations either by radius around a center or by an
// explicit site identifier. Exactly one mode is active per query.
type SearchQuery struct {
	Center    geo.Coordinate `json:"center"`
	RadiusKm  float64        `json:"radius_km"`
	SiteID    string         `json:"site_id"`
	FuelTypes []FuelType     `json:"fuel_types"`
}

// SiteIDMode reports whether the query filters by explicit identifier.
func (q SearchQuery) SiteIDMode() bool {
	return q.SiteID != ""
}

// Validate checks mode exclusivity and the fuel-type set.
func (q SearchQuery) Validate() error {
	if q.SiteIDMode() {
		if q.RadiusKm > 0 {
			return fmt.Errorf("search query: radius and site_id are mutually exclusive")
		}
	} else if q.RadiusKm <= 0 {
		return fmt.Errorf("search query: radius_km must be greater than zero")
	}
	if len(q.FuelTypes) == 0 {
		return fmt.Errorf("search query: at least one fuel type is required")
	}
	for _, ft := range q.FuelTypes {
		if _, ok := ParseFuelType(string(ft)); !ok {
			return fmt.Errorf("search query: unsupported fuel type %q", ft)
		}
	}
	return nil
}

// Cheapest pairs the winning station with its price and distance from the
// query center for one fuel type.
type Cheapest struct {
	Station    Station `json:"station"`
	Price      Price   `json:"price"`
	DistanceKm float64 `json:"distance_km"`
}

// AggregateResult maps each requested fuel type to its cheapest offering.
// A fuel type nobody sells within the filtered set is simply absent.
type AggregateResult struct {
	Cheapest           map[FuelType]Cheapest `json:"cheapest"`
	FetchedAt          time.Time             `json:"fetched_at"`
	StationsConsidered int                   `json:"stations_considered"`
}
