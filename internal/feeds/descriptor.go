// Package feeds fetches and normalizes the retailer price feeds published
// under the UK government open-data mandate.
package feeds

// PriceUnit declares how a feed encodes its price values.
type PriceUnit string

const (
	// UnitAuto applies a magnitude heuristic per value.
	UnitAuto PriceUnit = "auto"
	// UnitPence means values are already pence per litre.
	UnitPence PriceUnit = "pence"
	// UnitPounds means values are pounds per litre and need scaling.
	UnitPounds PriceUnit = "pounds"
)

// Descriptor identifies one retailer feed endpoint and its price-unit
// convention. Conventions vary per retailer and are not exhaustively
// documented upstream, so the set is a configuration surface: unknown feeds
// get the auto heuristic until a convention is confirmed.
type Descriptor struct {
	Retailer string    `json:"retailer"`
	URL      string    `json:"url"`
	Unit     PriceUnit `json:"unit,omitempty"`
}

// Defaults returns the official retailer list as published by the CMA at
// https://www.gov.uk/guidance/access-fuel-price-data.
func Defaults() []Descriptor {
	return []Descriptor{
		{Retailer: "Ascona Group", URL: "https://fuelprices.asconagroup.co.uk/newfuel.json"},
		{Retailer: "Asda", URL: "https://storelocator.asda.com/fuel_prices_data.json"},
		{Retailer: "bp", URL: "https://www.bp.com/en_gb/united-kingdom/home/fuelprices/fuel_prices_data.json"},
		{Retailer: "Esso Tesco Alliance", URL: "https://fuelprices.esso.co.uk/latestdata.json"},
		{Retailer: "JET Retail UK", URL: "https://jetlocal.co.uk/fuel_prices_data.json"},
		{Retailer: "Karan Retail Ltd", URL: "https://api.krl.live/integration/live_price/krl"},
		{Retailer: "Morrisons", URL: "https://www.morrisons.com/fuel-prices/fuel.json"},
		{Retailer: "Moto", URL: "https://moto-way.com/fuel-price/fuel_prices.json"},
		{Retailer: "Motor Fuel Group", URL: "https://fuel.motorfuelgroup.com/fuel_prices_data.json"},
		{Retailer: "Rontec", URL: "https://www.rontec-servicestations.co.uk/fuel-prices/data/fuel_prices_data.json"},
		{Retailer: "Sainsbury's", URL: "https://api.sainsburys.co.uk/v1/exports/latest/fuel_prices_data.json"},
		{Retailer: "SGN", URL: "https://www.sgnretail.uk/files/data/SGN_daily_fuel_prices.json"},
		{Retailer: "Shell", URL: "https://www.shell.co.uk/fuel-prices-data.html"},
		{Retailer: "Tesco", URL: "https://www.tesco.com/fuel_prices/fuel_prices_data.json"},
	}
}
