package feeds

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"fuelwatch/internal/model"
)

// FetchError reports a network-level failure for one retailer feed.
type FetchError struct {
	Retailer string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s feed: %v", e.Retailer, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError reports a malformed payload for one retailer feed.
type ParseError struct {
	Retailer string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s feed: %v", e.Retailer, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ClientOptions parameterise the feed client.
type ClientOptions struct {
	Timeout   time.Duration
	UserAgent string
}

// Client fetches and parses one retailer feed at a time.
type Client struct {
	opts   ClientOptions
	logger zerolog.Logger
	client *http.Client
}

// NewClient constructs a feed client.
func NewClient(opts ClientOptions, logger zerolog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "fuelwatch/1.0"
	}
	return &Client{
		opts:   opts,
		logger: logger.With().Str("component", "feed_client").Logger(),
		client: &http.Client{Timeout: opts.Timeout},
	}
}

// Fetch retrieves one feed and normalizes it into the unified station model.
// Output order is feed insertion order and carries no semantic weight.
func (c *Client) Fetch(ctx context.Context, feed Descriptor) ([]model.Station, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, http.NoBody)
	if err != nil {
		return nil, &FetchError{Retailer: feed.Retailer, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &FetchError{Retailer: feed.Retailer, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Retailer: feed.Retailer, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Retailer: feed.Retailer, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	stations, err := normalizerFor(feed)(feed, payload, c.logger)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().Str("retailer", feed.Retailer).Int("stations", len(stations)).Msg("feed fetched")
	return stations, nil
}
