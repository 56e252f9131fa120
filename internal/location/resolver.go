// Package location resolves free-text input (coordinates, UK postcodes,
// place names, addresses) into a coordinate pair.
package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/muesli/gominatim"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"fuelwatch/internal/geo"
)

var (
	// ErrNotFound means every resolution strategy was exhausted without a match.
	ErrNotFound = errors.New("location: no match for input")
	// ErrUnavailable means a strategy hit a transient network/service fault.
	// The chain stops immediately rather than falling through to a broader,
	// geographically less precise strategy.
	ErrUnavailable = errors.New("location: geocoder unavailable")
)

// ukPostcode matches the outward+inward UK postcode shape, e.g. "SW1A 1AA".
var ukPostcode = regexp.MustCompile(`^[A-Za-z]{1,2}\d[A-Za-z\d]?\s*\d[A-Za-z]{2}$`)

// localTypeRank orders postcodes.io place matches from most to least
// significant settlement type.
var localTypeRank = map[string]int{
	"City":             1,
	"Town":             2,
	"Village":          3,
	"Suburban Area":    4,
	"Hamlet":           5,
	"Other Settlement": 6,
}

// Options parameterise the resolver.
type Options struct {
	PostcodesBaseURL string
	NominatimServer  string
	UserAgent        string
	Timeout          time.Duration
	CacheTTL         time.Duration
}

// Resolver turns free-text location input into a coordinate, trying
// progressively broader strategies: direct coordinates, UK postcode lookup,
// place-name lookup, then a GB-restricted Nominatim search.
type Resolver struct {
	opts   Options
	logger zerolog.Logger
	client *http.Client
	cache  *gocache.Cache
}

// New constructs a Resolver.
func New(opts Options, logger zerolog.Logger) *Resolver {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.PostcodesBaseURL == "" {
		opts.PostcodesBaseURL = "https://api.postcodes.io"
	}
	if opts.NominatimServer == "" {
		opts.NominatimServer = "https://nominatim.openstreetmap.org/"
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	opts.PostcodesBaseURL = strings.TrimRight(opts.PostcodesBaseURL, "/")

	return &Resolver{
		opts:   opts,
		logger: logger.With().Str("component", "location_resolver").Logger(),
		client: &http.Client{Timeout: opts.Timeout},
		cache:  gocache.New(opts.CacheTTL, 2*opts.CacheTTL),
	}
}

// Resolve runs the strategy chain, first match wins. Direct coordinate input
// never touches the network.
func (r *Resolver) Resolve(ctx context.Context, input string) (geo.Coordinate, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return geo.Coordinate{}, fmt.Errorf("%w: empty input", ErrNotFound)
	}

	if coord, ok := geo.ParseCoordinatePair(input); ok {
		return coord, nil
	}

	if cached, ok := r.cache.Get(strings.ToLower(input)); ok {
		return cached.(geo.Coordinate), nil
	}

	if ukPostcode.MatchString(input) {
		coord, ok, err := r.lookupPostcode(ctx, input)
		if err != nil {
			return geo.Coordinate{}, err
		}
		if ok {
			return r.remember(input, coord), nil
		}
		// Postcode-shaped but unknown to the lookup service; keep going.
	}

	if len(input) < 2 {
		return geo.Coordinate{}, ErrNotFound
	}

	coord, ok, err := r.lookupPlace(ctx, input)
	if err != nil {
		return geo.Coordinate{}, err
	}
	if ok {
		return r.remember(input, coord), nil
	}

	coord, err = r.geocodeFallback(ctx, input)
	if err != nil {
		return geo.Coordinate{}, err
	}
	return r.remember(input, coord), nil
}

func (r *Resolver) remember(input string, coord geo.Coordinate) geo.Coordinate {
	r.cache.Set(strings.ToLower(input), coord, gocache.DefaultExpiration)
	return coord
}

type postcodeResult struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type placeResult struct {
	Name      string  `json:"name_1"`
	LocalType string  `json:"local_type"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// lookupPostcode queries the postcode endpoint. A 404 is a definitive
// no-match and returns ok=false; 5xx and transport faults are transient.
func (r *Resolver) lookupPostcode(ctx context.Context, postcode string) (geo.Coordinate, bool, error) {
	endpoint := r.opts.PostcodesBaseURL + "/postcodes/" + url.PathEscape(postcode)

	var payload struct {
		Result postcodeResult `json:"result"`
	}
	found, err := r.getJSON(ctx, endpoint, &payload)
	if err != nil || !found {
		return geo.Coordinate{}, false, err
	}

	coord := geo.Coordinate{Latitude: payload.Result.Latitude, Longitude: payload.Result.Longitude}
	if !coord.Valid() {
		return geo.Coordinate{}, false, nil
	}
	r.logger.Debug().Str("postcode", postcode).Msg("resolved via postcode lookup")
	return coord, true, nil
}

// lookupPlace queries the place-name search and picks the highest-ranked
// exact name match.
func (r *Resolver) lookupPlace(ctx context.Context, query string) (geo.Coordinate, bool, error) {
	endpoint := r.opts.PostcodesBaseURL + "/places?limit=10&q=" + url.QueryEscape(query)

	var payload struct {
		Result []placeResult `json:"result"`
	}
	found, err := r.getJSON(ctx, endpoint, &payload)
	if err != nil || !found {
		return geo.Coordinate{}, false, err
	}

	best := placeResult{}
	bestRank := 0
	for _, p := range payload.Result {
		if !strings.EqualFold(p.Name, query) {
			continue
		}
		rank, ok := localTypeRank[p.LocalType]
		if !ok {
			rank = 999
		}
		if bestRank == 0 || rank < bestRank {
			best, bestRank = p, rank
		}
	}
	if bestRank == 0 {
		return geo.Coordinate{}, false, nil
	}

	coord := geo.Coordinate{Latitude: best.Latitude, Longitude: best.Longitude}
	if !coord.Valid() {
		return geo.Coordinate{}, false, nil
	}
	r.logger.Debug().Str("place", best.Name).Str("local_type", best.LocalType).Msg("resolved via place lookup")
	return coord, true, nil
}

// geocodeFallback asks Nominatim for the best GB-restricted match. The
// library issues the request with a default client, so the call runs in a
// goroutine and is raced against the configured timeout and ctx; expiry is
// a transient fault like any other strategy's timeout.
func (r *Resolver) geocodeFallback(ctx context.Context, query string) (geo.Coordinate, error) {
	gominatim.SetServer(r.opts.NominatimServer)

	search := gominatim.SearchQuery{
		Q:            query,
		Countrycodes: []string{"gb"},
		Limit:        1,
	}

	type outcome struct {
		results []gominatim.SearchResult
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		results, err := search.Get()
		done <- outcome{results: results, err: err}
	}()

	timer := time.NewTimer(r.opts.Timeout)
	defer timer.Stop()

	var results []gominatim.SearchResult
	select {
	case out := <-done:
		if out.err != nil {
			return geo.Coordinate{}, fmt.Errorf("%w: nominatim: %v", ErrUnavailable, out.err)
		}
		results = out.results
	case <-ctx.Done():
		return geo.Coordinate{}, fmt.Errorf("%w: nominatim: %v", ErrUnavailable, ctx.Err())
	case <-timer.C:
		return geo.Coordinate{}, fmt.Errorf("%w: nominatim: no response within %s", ErrUnavailable, r.opts.Timeout)
	}
	if len(results) == 0 {
		return geo.Coordinate{}, ErrNotFound
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("%w: nominatim latitude %q", ErrNotFound, results[0].Lat)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("%w: nominatim longitude %q", ErrNotFound, results[0].Lon)
	}

	r.logger.Debug().Str("display_name", results[0].DisplayName).Msg("resolved via nominatim fallback")
	return geo.Coordinate{Latitude: lat, Longitude: lon}, nil
}

// getJSON fetches and decodes a postcodes.io endpoint. Returns found=false
// on a 404 or any other definitive 4xx; transport faults and 5xx map onto
// ErrUnavailable.
func (r *Resolver) getJSON(ctx context.Context, endpoint string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if r.opts.UserAgent != "" {
		req.Header.Set("User-Agent", r.opts.UserAgent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= http.StatusInternalServerError:
		return false, fmt.Errorf("%w: lookup returned %d", ErrUnavailable, resp.StatusCode)
	default:
		r.logger.Debug().Int("status", resp.StatusCode).Str("url", endpoint).Msg("lookup returned no match")
		return false, nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("%w: decode lookup response: %v", ErrUnavailable, err)
	}
	return true, nil
}
