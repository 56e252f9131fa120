package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fuelwatch/internal/feeds"
	"fuelwatch/internal/geo"
	"fuelwatch/internal/location"
	"fuelwatch/internal/model"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

type stubResolver struct {
	coord geo.Coordinate
	err   error
	calls int
}

func (s *stubResolver) Resolve(ctx context.Context, input string) (geo.Coordinate, error) {
	s.calls++
	if s.err != nil {
		return geo.Coordinate{}, s.err
	}
	return s.coord, nil
}

type stubSource struct {
	stations []model.Station
	failures []feeds.Failure
	calls    int
}

func (s *stubSource) FetchAll(ctx context.Context, descriptors []feeds.Descriptor) ([]model.Station, []feeds.Failure) {
	s.calls++
	return s.stations, s.failures
}

func testStation(siteID string, lat, lon, price float64) model.Station {
	return model.Station{
		SiteID:   siteID,
		Brand:    "Asda",
		Location: geo.Coordinate{Latitude: lat, Longitude: lon},
		Prices: map[model.FuelType]model.Price{
			model.FuelE10: {FuelType: model.FuelE10, Amount: decimal.NewFromFloat(price)},
		},
	}
}

func radiusConfig() Config {
	return Config{
		LocationInput: "SW1A 1AA",
		RadiusKm:      5,
		FuelTypes:     []model.FuelType{model.FuelE10},
		Feeds:         []feeds.Descriptor{{Retailer: "Asda", URL: "http://unused"}},
	}
}

func TestRunCycleSuccess(t *testing.T) {
	resolver := &stubResolver{coord: geo.Coordinate{Latitude: 51.5, Longitude: -0.13}}
	source := &stubSource{stations: []model.Station{
		testStation("near", 51.51, -0.13, 134.7),
		testStation("far", 53.5, -2.2, 120.0),
	}}

	c, err := New(radiusConfig(), resolver, source, noopLogger())
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	if err := c.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}

	snap := c.Snapshot()
	if snap.State != StateReady || snap.Degraded {
		t.Fatalf("unexpected snapshot state: %+v", snap)
	}
	if snap.Result == nil || snap.Result.Cheapest[model.FuelE10].Station.SiteID != "near" {
		t.Fatalf("wrong result: %+v", snap.Result)
	}
	if snap.Result.StationsConsidered != 1 {
		t.Fatalf("far station should be filtered out, considered=%d", snap.Result.StationsConsidered)
	}
}

func TestResolveOncePerConfiguration(t *testing.T) {
	resolver := &stubResolver{coord: geo.Coordinate{Latitude: 51.5, Longitude: -0.13}}
	source := &stubSource{stations: []model.Station{testStation("a", 51.5, -0.13, 134.7)}}

	c, _ := New(radiusConfig(), resolver, source, noopLogger())
	for i := 0; i < 3; i++ {
		if err := c.RunCycle(context.Background()); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}
	if resolver.calls != 1 {
		t.Fatalf("location must be resolved once, saw %d calls", resolver.calls)
	}
	if source.calls != 3 {
		t.Fatalf("expected 3 fetches, saw %d", source.calls)
	}
}

func TestTotalFeedFailurePreservesLastGoodResult(t *testing.T) {
	resolver := &stubResolver{coord: geo.Coordinate{Latitude: 51.5, Longitude: -0.13}}
	source := &stubSource{stations: []model.Station{testStation("a", 51.5, -0.13, 134.7)}}

	c, _ := New(radiusConfig(), resolver, source, noopLogger())
	if err := c.RunCycle(context.Background()); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	good := c.Snapshot()

	source.stations = nil
	source.failures = []feeds.Failure{{Retailer: "Asda", Err: errors.New("down")}}

	err := c.RunCycle(context.Background())
	if !errors.Is(err, ErrAllFeedsFailed) {
		t.Fatalf("expected ErrAllFeedsFailed, got %v", err)
	}

	snap := c.Snapshot()
	if !snap.Degraded || snap.State != StateReady {
		t.Fatalf("expected degraded ready state, got %+v", snap)
	}
	if snap.Result != good.Result {
		t.Fatal("last successful result must be preserved unchanged")
	}
	if snap.LastError == "" {
		t.Fatal("last error should be reported")
	}
	if len(snap.Failures) != 1 || snap.Failures[0].Retailer != "Asda" {
		t.Fatalf("snapshot must report this cycle's feed failures, got %+v", snap.Failures)
	}
}

func TestFailureWithoutCachedResultStaysFailed(t *testing.T) {
	resolver := &stubResolver{err: location.ErrUnavailable}
	source := &stubSource{}

	c, _ := New(radiusConfig(), resolver, source, noopLogger())
	err := c.RunCycle(context.Background())
	if !errors.Is(err, location.ErrUnavailable) {
		t.Fatalf("expected transient resolver fault, got %v", err)
	}

	snap := c.Snapshot()
	if snap.State != StateFailed || snap.Degraded {
		t.Fatalf("no cached result: state should be failed, got %+v", snap)
	}
	if source.calls != 0 {
		t.Fatal("fetch must not run after a resolution fault")
	}
}

func TestReconfigureTriggersReResolution(t *testing.T) {
	resolver := &stubResolver{coord: geo.Coordinate{Latitude: 51.5, Longitude: -0.13}}
	source := &stubSource{stations: []model.Station{testStation("a", 51.5, -0.13, 134.7)}}

	c, _ := New(radiusConfig(), resolver, source, noopLogger())
	_ = c.RunCycle(context.Background())

	cfg := radiusConfig()
	cfg.LocationInput = "M1 1AE"
	if err := c.Reconfigure(cfg); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	if snap := c.Snapshot(); snap.Result != nil || snap.State != StateIdle {
		t.Fatalf("reconfigure should reset the snapshot, got %+v", snap)
	}

	_ = c.RunCycle(context.Background())
	if resolver.calls != 2 {
		t.Fatalf("new location input must re-resolve, saw %d calls", resolver.calls)
	}
}

func TestSiteIDModeSkipsResolution(t *testing.T) {
	resolver := &stubResolver{}
	source := &stubSource{stations: []model.Station{testStation("x100", 51.5, -0.13, 134.7)}}

	c, err := New(Config{
		SiteID:    "x100",
		FuelTypes: []model.FuelType{model.FuelE10},
		Feeds:     []feeds.Descriptor{{Retailer: "Asda", URL: "http://unused"}},
	}, resolver, source, noopLogger())
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}

	if err := c.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if resolver.calls != 0 {
		t.Fatal("site-id mode must never resolve a location")
	}
	snap := c.Snapshot()
	if snap.Result.Cheapest[model.FuelE10].Station.SiteID != "x100" {
		t.Fatalf("wrong winner: %+v", snap.Result)
	}
}

func TestNewRejectsInvalidConfiguration(t *testing.T) {
	cases := []Config{
		{LocationInput: "SW1A 1AA", RadiusKm: 5},                                        // no fuel types
		{LocationInput: "SW1A 1AA", FuelTypes: []model.FuelType{model.FuelE10}},         // no radius, no site id
		{SiteID: "x", RadiusKm: 5, FuelTypes: []model.FuelType{model.FuelE10}},          // both modes
		{RadiusKm: 5, FuelTypes: []model.FuelType{model.FuelE10}},                       // no location input
		{LocationInput: "SW1A 1AA", RadiusKm: 5, FuelTypes: []model.FuelType{"LPG"}},    // unknown fuel
	}
	for i, cfg := range cases {
		if _, err := New(cfg, &stubResolver{}, &stubSource{}, noopLogger()); err == nil {
			t.Fatalf("case %d: expected configuration error", i)
		}
	}
}

func TestRestoreSeedsDegradedResult(t *testing.T) {
	resolver := &stubResolver{coord: geo.Coordinate{Latitude: 51.5, Longitude: -0.13}}
	source := &stubSource{stations: []model.Station{testStation("a", 51.5, -0.13, 134.7)}}

	c, _ := New(radiusConfig(), resolver, source, noopLogger())
	if err := c.RunCycle(context.Background()); err != nil {
		t.Fatalf("seed cycle: %v", err)
	}
	persisted := c.Snapshot()

	// A fresh coordinator, as after a process restart.
	restarted, _ := New(radiusConfig(), resolver, source, noopLogger())
	if !restarted.Restore(persisted) {
		t.Fatal("restore with a result should succeed")
	}

	snap := restarted.Snapshot()
	if snap.State != StateReady || !snap.Degraded {
		t.Fatalf("restored result must be ready and degraded, got %+v", snap)
	}
	if snap.Result != persisted.Result {
		t.Fatal("restored result must be the persisted one")
	}

	if err := restarted.RunCycle(context.Background()); err != nil {
		t.Fatalf("post-restore cycle: %v", err)
	}
	if snap := restarted.Snapshot(); snap.Degraded {
		t.Fatal("a fresh cycle must clear the degraded flag")
	}
}

func TestRestoreIgnoresEmptyAndFreshState(t *testing.T) {
	resolver := &stubResolver{coord: geo.Coordinate{Latitude: 51.5, Longitude: -0.13}}
	source := &stubSource{stations: []model.Station{testStation("a", 51.5, -0.13, 134.7)}}

	c, _ := New(radiusConfig(), resolver, source, noopLogger())
	if c.Restore(Snapshot{State: StateFailed, LastError: "boom"}) {
		t.Fatal("a snapshot without a result must not be restored")
	}

	if err := c.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	fresh := c.Snapshot()
	stale := model.AggregateResult{StationsConsidered: 99}
	if c.Restore(Snapshot{Result: &stale}) {
		t.Fatal("restore must not overwrite fresh cycle data")
	}
	if snap := c.Snapshot(); snap.Result != fresh.Result {
		t.Fatal("fresh result must survive a late restore")
	}
}

func TestSnapshotJSONRoundTrip(t *testing.T) {
	resolver := &stubResolver{coord: geo.Coordinate{Latitude: 51.5, Longitude: -0.13}}
	source := &stubSource{stations: []model.Station{testStation("a", 51.5, -0.13, 134.7)}}

	c, _ := New(radiusConfig(), resolver, source, noopLogger())
	if err := c.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}

	payload, err := json.Marshal(c.Snapshot())
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}

	var decoded Snapshot
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if decoded.State != StateReady {
		t.Fatalf("state name must round-trip, got %v", decoded.State)
	}
	if decoded.Result == nil || decoded.Result.StationsConsidered != 1 {
		t.Fatalf("result must round-trip, got %+v", decoded.Result)
	}
}

func TestClampInterval(t *testing.T) {
	cases := []struct {
		in, want time.Duration
	}{
		{0, DefaultInterval},
		{-time.Hour, DefaultInterval},
		{time.Minute, MinInterval},
		{30 * time.Minute, 30 * time.Minute},
		{48 * time.Hour, MaxInterval},
	}
	for _, tc := range cases {
		if got := ClampInterval(tc.in); got != tc.want {
			t.Fatalf("ClampInterval(%s) = %s, want %s", tc.in, got, tc.want)
		}
	}
}
