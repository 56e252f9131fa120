// Package coordinator orchestrates one full update cycle: resolve the
// configured location once, fan out over the retailer feeds, filter, and
// aggregate. It owns the poll state and is the error boundary for the core.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fuelwatch/internal/aggregate"
	"fuelwatch/internal/feeds"
	"fuelwatch/internal/filter"
	"fuelwatch/internal/geo"
	"fuelwatch/internal/location"
	"fuelwatch/internal/model"
)

// Polling interval bounds. Out-of-range configuration is clamped at the
// boundary, not rejected.
const (
	MinInterval     = 5 * time.Minute
	MaxInterval     = 24 * time.Hour
	DefaultInterval = time.Hour
)

// ClampInterval forces an update interval into [MinInterval, MaxInterval].
func ClampInterval(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultInterval
	case d < MinInterval:
		return MinInterval
	case d > MaxInterval:
		return MaxInterval
	}
	return d
}

// ErrAllFeedsFailed marks a cycle in which every retailer feed failed.
var ErrAllFeedsFailed = errors.New("coordinator: all retailer feeds failed")

// ErrCycleInFlight is returned by TryRunCycle when a cycle is already running.
var ErrCycleInFlight = errors.New("coordinator: update cycle already in flight")

// State tracks where the current cycle is.
type State int

const (
	StateIdle State = iota
	StateResolving
	StateFetching
	StateAggregating
	StateReady
	StateFailed
)

// MarshalJSON emits the state name so snapshots stay readable when
// persisted or printed.
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON accepts the names MarshalJSON emits. Anything else, including
// snapshots written before the names existed, lands on StateIdle.
func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for _, candidate := range []State{StateIdle, StateResolving, StateFetching, StateAggregating, StateReady, StateFailed} {
		if candidate.String() == name {
			*s = candidate
			return nil
		}
	}
	*s = StateIdle
	return nil
}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateFetching:
		return "fetching"
	case StateAggregating:
		return "aggregating"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Resolver is the location-resolution contract the coordinator depends on.
type Resolver interface {
	Resolve(ctx context.Context, input string) (geo.Coordinate, error)
}

// FeedSource is the feed fan-out contract the coordinator depends on.
type FeedSource interface {
	FetchAll(ctx context.Context, descriptors []feeds.Descriptor) ([]model.Station, []feeds.Failure)
}

// Config is the search template consumed from the configuration layer.
type Config struct {
	LocationInput string
	RadiusKm      float64
	SiteID        string
	FuelTypes     []model.FuelType
	Feeds         []feeds.Descriptor
}

func (c Config) query(center geo.Coordinate) model.SearchQuery {
	return model.SearchQuery{
		Center:    center,
		RadiusKm:  c.RadiusKm,
		SiteID:    c.SiteID,
		FuelTypes: c.FuelTypes,
	}
}

func (c Config) siteIDMode() bool { return c.SiteID != "" }

// Snapshot is the whole poll state, replaced atomically at the end of every
// cycle and read-only everywhere else. Degraded means Result was carried
// over from an earlier successful cycle because the latest one failed.
type Snapshot struct {
	State       State                  `json:"state"`
	Result      *model.AggregateResult `json:"result,omitempty"`
	Degraded    bool                   `json:"degraded"`
	LastError   string                 `json:"last_error,omitempty"`
	LastSuccess time.Time              `json:"last_success,omitempty"`
	Resolved    *geo.Coordinate        `json:"resolved,omitempty"`
	Failures    []feeds.Failure        `json:"feed_failures,omitempty"`
}

// Coordinator runs update cycles. Cycles never overlap: RunCycle holds a
// mutex for the full cycle, so a new one cannot start while a previous
// aggregation is pending.
type Coordinator struct {
	resolver Resolver
	source   FeedSource
	logger   zerolog.Logger

	cycleMu sync.Mutex

	mu       sync.RWMutex
	cfg      Config
	resolved *geo.Coordinate
	snapshot Snapshot
	cancel   context.CancelFunc
}

// New validates the search template and constructs a Coordinator.
func New(cfg Config, resolver Resolver, source FeedSource, logger zerolog.Logger) (*Coordinator, error) {
	if err := cfg.query(geo.Coordinate{}).Validate(); err != nil {
		return nil, err
	}
	if !cfg.siteIDMode() && cfg.LocationInput == "" {
		return nil, fmt.Errorf("search query: location input required in radius mode")
	}
	if len(cfg.Feeds) == 0 {
		cfg.Feeds = feeds.Defaults()
	}
	return &Coordinator{
		resolver: resolver,
		source:   source,
		logger:   logger.With().Str("component", "coordinator").Logger(),
		cfg:      cfg,
		snapshot: Snapshot{State: StateIdle},
	}, nil
}

// Snapshot returns the current poll state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Reconfigure swaps the search template, cancels any in-flight cycle (its
// results are discarded), and drops the cached coordinate and last result:
// both belong to the old configuration.
func (c *Coordinator) Reconfigure(cfg Config) error {
	if err := cfg.query(geo.Coordinate{}).Validate(); err != nil {
		return err
	}
	if !cfg.siteIDMode() && cfg.LocationInput == "" {
		return fmt.Errorf("search query: location input required in radius mode")
	}
	if len(cfg.Feeds) == 0 {
		cfg.Feeds = feeds.Defaults()
	}

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.cfg = cfg
	c.resolved = nil
	c.snapshot = Snapshot{State: StateIdle}
	c.mu.Unlock()

	c.logger.Info().Msg("reconfigured; next cycle starts from resolution")
	return nil
}

// Restore seeds the poll state from a snapshot persisted by an earlier run
// of the same configuration, so the last-good result is readable before the
// first cycle completes. The restored result is flagged degraded until a
// fresh cycle replaces it. Reports whether anything was restored; snapshots
// without a result, or arriving after a cycle already produced data, are
// ignored.
func (c *Coordinator) Restore(snap Snapshot) bool {
	if snap.Result == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot.Result != nil {
		return false
	}
	c.resolved = snap.Resolved
	c.snapshot = Snapshot{
		State:       StateReady,
		Result:      snap.Result,
		Degraded:    true,
		LastSuccess: snap.LastSuccess,
		Resolved:    snap.Resolved,
	}
	return true
}

// TryRunCycle runs a cycle unless one is already in flight.
func (c *Coordinator) TryRunCycle(ctx context.Context) error {
	if !c.cycleMu.TryLock() {
		return ErrCycleInFlight
	}
	defer c.cycleMu.Unlock()
	return c.run(ctx)
}

// RunCycle executes one full update cycle, waiting for any in-flight cycle
// to finish first.
func (c *Coordinator) RunCycle(ctx context.Context) error {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()
	return c.run(ctx)
}

func (c *Coordinator) run(ctx context.Context) error {
	cycleCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.cancel = cancel
	cfg := c.cfg
	resolved := c.resolved
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
	}()

	start := time.Now()

	var center geo.Coordinate
	if !cfg.siteIDMode() {
		if resolved == nil {
			c.setState(StateResolving)
			coord, err := c.resolver.Resolve(cycleCtx, cfg.LocationInput)
			if err != nil {
				if cycleCtx.Err() != nil {
					return cycleCtx.Err()
				}
				return c.failCycle(fmt.Errorf("resolve %q: %w", cfg.LocationInput, err), nil)
			}
			c.mu.Lock()
			// A reconfigure may have swapped the template while we resolved;
			// its cancel shows up as a dead cycle context.
			if cycleCtx.Err() == nil {
				c.resolved = &coord
			}
			c.mu.Unlock()
			resolved = &coord
			c.logger.Info().
				Float64("lat", coord.Latitude).
				Float64("lon", coord.Longitude).
				Msg("location resolved")
		}
		center = *resolved
	}

	c.setState(StateFetching)
	stations, failures := c.source.FetchAll(cycleCtx, cfg.Feeds)
	if err := cycleCtx.Err(); err != nil {
		// Cancelled mid-cycle: abandon the partial results untouched.
		return err
	}
	if len(stations) == 0 && len(failures) > 0 {
		return c.failCycle(fmt.Errorf("%w (%d feeds)", ErrAllFeedsFailed, len(failures)), failures)
	}

	c.setState(StateAggregating)
	matches := filter.Apply(stations, cfg.query(center))
	result := aggregate.Cheapest(matches, cfg.FuelTypes)

	c.mu.Lock()
	c.snapshot = Snapshot{
		State:       StateReady,
		Result:      &result,
		Degraded:    false,
		LastSuccess: result.FetchedAt,
		Resolved:    resolved,
		Failures:    failures,
	}
	c.mu.Unlock()

	c.logger.Info().
		Int("stations_considered", result.StationsConsidered).
		Int("fuel_types_priced", len(result.Cheapest)).
		Int("feed_failures", len(failures)).
		Dur("elapsed", time.Since(start)).
		Msg("update cycle complete")
	return nil
}

// failCycle records a failed cycle. The last successful result is preserved
// and exposed with the degraded flag: stale-but-valid beats a void result
// during a network blip. Failures describe this cycle's feed outcomes, not
// the previous one's.
func (c *Coordinator) failCycle(err error, failures []feeds.Failure) error {
	c.mu.Lock()
	prev := c.snapshot
	next := Snapshot{
		LastError:   err.Error(),
		Result:      prev.Result,
		LastSuccess: prev.LastSuccess,
		Resolved:    c.resolved,
		Failures:    failures,
	}
	if prev.Result != nil {
		next.State = StateReady
		next.Degraded = true
	} else {
		next.State = StateFailed
	}
	c.snapshot = next
	c.mu.Unlock()

	if errors.Is(err, location.ErrUnavailable) {
		c.logger.Warn().Err(err).Msg("cycle failed on transient geocoder fault; will retry next tick")
	} else {
		c.logger.Error().Err(err).Msg("update cycle failed")
	}
	return err
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.snapshot.State = s
	c.mu.Unlock()
	c.logger.Debug().Stringer("state", s).Msg("state transition")
}
