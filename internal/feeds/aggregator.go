package feeds

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fuelwatch/internal/model"
)

// Failure pairs a retailer with the error its feed produced.
type Failure struct {
	Retailer string `json:"retailer"`
	Err      error  `json:"-"`
}

// Fetcher is the single-feed contract the aggregator fans out over.
type Fetcher interface {
	Fetch(ctx context.Context, feed Descriptor) ([]model.Station, error)
}

// AggregatorOptions tune the fan-out.
type AggregatorOptions struct {
	MaxConcurrent  int
	PerFeedTimeout time.Duration
}

// Aggregator fetches every retailer feed concurrently and merges the
// results. Partial success is the normal case: one failing feed never
// aborts its siblings.
type Aggregator struct {
	fetcher Fetcher
	opts    AggregatorOptions
	logger  zerolog.Logger
}

// NewAggregator constructs an Aggregator around a feed fetcher.
func NewAggregator(fetcher Fetcher, opts AggregatorOptions, logger zerolog.Logger) *Aggregator {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 6
	}
	if opts.PerFeedTimeout <= 0 {
		opts.PerFeedTimeout = 15 * time.Second
	}
	return &Aggregator{
		fetcher: fetcher,
		opts:    opts,
		logger:  logger.With().Str("component", "feed_aggregator").Logger(),
	}
}

// FetchAll fans out over the feeds with a bounded concurrency ceiling and a
// per-feed timeout, then merges all successful station lists. When every
// feed fails the station slice is empty and the caller decides whether that
// is a cycle failure.
func (a *Aggregator) FetchAll(ctx context.Context, descriptors []Descriptor) ([]model.Station, []Failure) {
	type outcome struct {
		stations []model.Station
		failure  *Failure
	}

	outcomes := make([]outcome, len(descriptors))
	sem := make(chan struct{}, a.opts.MaxConcurrent)
	var wg sync.WaitGroup

	for i, feed := range descriptors {
		wg.Add(1)
		go func(i int, feed Descriptor) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				outcomes[i] = outcome{failure: &Failure{Retailer: feed.Retailer, Err: ctx.Err()}}
				return
			}

			feedCtx, cancel := context.WithTimeout(ctx, a.opts.PerFeedTimeout)
			defer cancel()

			stations, err := a.fetcher.Fetch(feedCtx, feed)
			if err != nil {
				a.logger.Warn().Str("retailer", feed.Retailer).Err(err).Msg("feed failed")
				outcomes[i] = outcome{failure: &Failure{Retailer: feed.Retailer, Err: err}}
				return
			}
			outcomes[i] = outcome{stations: stations}
		}(i, feed)
	}
	wg.Wait()

	var merged []model.Station
	var failures []Failure
	for _, out := range outcomes {
		if out.failure != nil {
			failures = append(failures, *out.failure)
			continue
		}
		merged = append(merged, out.stations...)
	}

	a.logger.Info().
		Int("feeds", len(descriptors)).
		Int("failed", len(failures)).
		Int("stations", len(merged)).
		Msg("feed fan-out complete")
	return merged, failures
}
