package feeds

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fuelwatch/internal/geo"
	"fuelwatch/internal/model"
)

// Normalizer converts one retailer's raw payload into the unified station
// model. Every entry in the registry implements the same contract; feeds
// without a dedicated entry get the conservative generic normalizer.
type Normalizer func(feed Descriptor, payload []byte, logger zerolog.Logger) ([]model.Station, error)

// registry maps retailer identifiers onto their normalizers. Most feeds
// follow the CMA reference shape and only differ in price units, so entries
// are thin wrappers around the generic walk.
var registry = map[string]Normalizer{
	"Karan Retail Ltd": withUnit(UnitPounds),
}

func normalizerFor(feed Descriptor) Normalizer {
	if n, ok := registry[feed.Retailer]; ok {
		return n
	}
	return normalizeGeneric
}

func withUnit(unit PriceUnit) Normalizer {
	return func(feed Descriptor, payload []byte, logger zerolog.Logger) ([]model.Station, error) {
		if feed.Unit == "" || feed.Unit == UnitAuto {
			feed.Unit = unit
		}
		return normalizeGeneric(feed, payload, logger)
	}
}

// Raw shapes cover the variation observed across retailer feeds: prices as
// maps or lists, coordinates nested or flattened, numbers as strings.
type rawPayload struct {
	LastUpdated any               `json:"last_updated"`
	Stations    []json.RawMessage `json:"stations"`
}

type rawStation struct {
	SiteID      string          `json:"site_id"`
	Brand       string          `json:"brand"`
	Address     string          `json:"address"`
	Postcode    string          `json:"postcode"`
	Latitude    any             `json:"latitude"`
	Longitude   any             `json:"longitude"`
	Location    *rawLocation    `json:"location"`
	Prices      json.RawMessage `json:"prices"`
	LastUpdated any             `json:"last_updated"`
}

type rawLocation struct {
	Address   string `json:"address"`
	Postcode  string `json:"postcode"`
	Latitude  any    `json:"latitude"`
	Longitude any    `json:"longitude"`
}

// normalizeGeneric handles the CMA reference shape plus the common
// deviations. A malformed station entry is skipped with a logged anomaly;
// only an unusable envelope is a whole-feed failure.
func normalizeGeneric(feed Descriptor, payload []byte, logger zerolog.Logger) ([]model.Station, error) {
	var raw rawPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, &ParseError{Retailer: feed.Retailer, Err: err}
	}

	feedUpdated := parseTimestamp(raw.LastUpdated)

	stations := make([]model.Station, 0, len(raw.Stations))
	for _, entry := range raw.Stations {
		var rs rawStation
		if err := json.Unmarshal(entry, &rs); err != nil {
			logger.Warn().Str("retailer", feed.Retailer).Err(err).Msg("skipping malformed station entry")
			continue
		}

		st, ok := buildStation(feed, rs, feedUpdated, logger)
		if !ok {
			continue
		}
		stations = append(stations, st)
	}
	return stations, nil
}

func buildStation(feed Descriptor, rs rawStation, feedUpdated time.Time, logger zerolog.Logger) (model.Station, bool) {
	address, postcode := rs.Address, rs.Postcode
	lat, latOK := asFloat(rs.Latitude)
	lon, lonOK := asFloat(rs.Longitude)
	if rs.Location != nil {
		if address == "" {
			address = rs.Location.Address
		}
		if postcode == "" {
			postcode = rs.Location.Postcode
		}
		if !latOK {
			lat, latOK = asFloat(rs.Location.Latitude)
		}
		if !lonOK {
			lon, lonOK = asFloat(rs.Location.Longitude)
		}
	}

	coord := geo.Coordinate{Latitude: lat, Longitude: lon}
	if !latOK || !lonOK || !coord.Valid() {
		logger.Warn().Str("retailer", feed.Retailer).Str("site_id", rs.SiteID).Msg("skipping station without usable coordinates")
		return model.Station{}, false
	}

	prices := normalizePrices(feed, rs.Prices, logger)
	if len(prices) == 0 {
		logger.Warn().Str("retailer", feed.Retailer).Str("site_id", rs.SiteID).Msg("skipping station without usable prices")
		return model.Station{}, false
	}

	updated := parseTimestamp(rs.LastUpdated)
	if updated.IsZero() {
		updated = feedUpdated
	}

	brand := strings.TrimSpace(rs.Brand)
	if brand == "" {
		brand = feed.Retailer
	}

	return model.Station{
		SiteID:      strings.TrimSpace(rs.SiteID),
		Brand:       brand,
		Address:     strings.TrimSpace(address),
		Postcode:    strings.TrimSpace(postcode),
		Location:    coord,
		Prices:      prices,
		LastUpdated: updated,
	}, true
}

// normalizePrices accepts either a fuel-code map or a list of
// {fuelType, price} objects. Unknown fuel codes are dropped with a logged
// anomaly, never an error: the fuel-type set is closed.
func normalizePrices(feed Descriptor, raw json.RawMessage, logger zerolog.Logger) map[model.FuelType]model.Price {
	if len(raw) == 0 {
		return nil
	}

	entries := map[string]any{}
	if err := json.Unmarshal(raw, &entries); err != nil {
		var list []map[string]any
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil
		}
		for _, item := range list {
			code, _ := item["fuelType"].(string)
			if code == "" {
				code, _ = item["fuel_type"].(string)
			}
			if code != "" {
				entries[code] = item
			}
		}
	}

	prices := make(map[model.FuelType]model.Price, len(entries))
	for code, value := range entries {
		ft, ok := model.ParseFuelType(code)
		if !ok {
			logger.Debug().Str("retailer", feed.Retailer).Str("code", code).Msg("dropping unknown fuel code")
			continue
		}
		amount, ok := coercePence(value, feed.Unit)
		if !ok {
			logger.Warn().Str("retailer", feed.Retailer).Str("code", code).Msg("dropping price with unusable value")
			continue
		}
		prices[ft] = model.Price{FuelType: ft, Amount: amount}
	}
	return prices
}

// priceKeys are tried in order when a price entry is an object rather than
// a bare number. Mirrors the field names observed across retailer feeds.
var priceKeys = []string{
	"price", "value", "amount", "amount_ppl", "amountPpl",
	"amountPencePerLitre", "amount_pence_per_litre",
	"cash_price", "cashPrice", "pence_per_litre", "ppl",
}

// coercePence turns a raw price value into pence per litre. With UnitAuto
// the magnitude decides: below 50 the feed is publishing pounds, 1000 and
// above is tenths of pence, anything between is pence already.
func coercePence(value any, unit PriceUnit) (decimal.Decimal, bool) {
	v, ok := priceFloat(value)
	if !ok || v <= 0 {
		return decimal.Decimal{}, false
	}

	switch unit {
	case UnitPounds:
		v *= 100
	case UnitPence:
	default:
		if v < 50 {
			v *= 100
		} else if v >= 1000 {
			v /= 10
		}
	}
	return decimal.NewFromFloat(v).Round(1), true
}

func priceFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case map[string]any:
		for _, key := range priceKeys {
			if inner, ok := v[key]; ok {
				if f, ok := priceFloat(inner); ok {
					return f, true
				}
			}
		}
		return 0, false
	case []any:
		for _, inner := range v {
			if f, ok := priceFloat(inner); ok {
				return f, true
			}
		}
		return 0, false
	default:
		return asFloat(value)
	}
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// dateFormats covers the timestamp shapes retailers actually publish.
var dateFormats = []string{
	"02/01/2006 15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05.000Z",
}

func parseTimestamp(value any) time.Time {
	switch v := value.(type) {
	case float64:
		return time.Unix(int64(v), 0).UTC()
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return time.Time{}
		}
		for _, layout := range dateFormats {
			if t, err := time.Parse(layout, trimmed); err == nil {
				return t.UTC()
			}
		}
		if t, err := time.Parse(time.RFC3339, strings.Replace(trimmed, "Z", "+00:00", 1)); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
