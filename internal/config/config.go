// Package config materialises application configuration from file,
// environment, and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"fuelwatch/internal/coordinator"
	"fuelwatch/internal/feeds"
	"fuelwatch/internal/logging"
	"fuelwatch/internal/model"
)

// Config is the full application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Search    SearchConfig    `mapstructure:"search"`
	Poll      PollConfig      `mapstructure:"poll"`
	Geocoding GeocodingConfig `mapstructure:"geocoding"`
	Feeds     FeedsConfig     `mapstructure:"feeds"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Web       WebConfig       `mapstructure:"web"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// SearchConfig is the consumed search template: a free-text location plus
// radius, or an explicit site id. The two modes are mutually exclusive.
type SearchConfig struct {
	LocationInput string   `mapstructure:"location"`
	RadiusKm      float64  `mapstructure:"radius_km"`
	SiteID        string   `mapstructure:"site_id"`
	FuelTypes     []string `mapstructure:"fuel_types"`
}

// PollConfig governs update cadence. Interval is clamped, not rejected, at
// this boundary.
type PollConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	StartupDelay time.Duration `mapstructure:"startup_delay"`
	RunAtStart   bool          `mapstructure:"run_at_start"`
}

// GeocodingConfig covers the location-resolution services.
type GeocodingConfig struct {
	PostcodesBaseURL string        `mapstructure:"postcodes_base_url"`
	NominatimServer  string        `mapstructure:"nominatim_server"`
	UserAgent        string        `mapstructure:"user_agent"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
}

// FeedsConfig covers retailer feed retrieval. Extra entries extend the
// built-in CMA registry; Disable removes retailers by name.
type FeedsConfig struct {
	RequestTimeout time.Duration      `mapstructure:"request_timeout"`
	MaxConcurrent  int                `mapstructure:"max_concurrent"`
	UserAgent      string             `mapstructure:"user_agent"`
	Extra          []feeds.Descriptor `mapstructure:"extra"`
	Disable        []string           `mapstructure:"disable"`
}

// DatabaseConfig encapsulates optional PostgreSQL snapshot persistence.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// AlertingConfig defines price-drop alert thresholds and routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	DropPct  float64        `mapstructure:"drop_pct"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram delivery channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// WebConfig controls the read-only status API.
type WebConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FUELWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Poll.Interval = coordinator.ClampInterval(cfg.Poll.Interval)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "fuelwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("search.radius_km", 5.0)
	v.SetDefault("search.fuel_types", []string{"E10", "B7"})

	v.SetDefault("poll.interval", "1h")
	v.SetDefault("poll.startup_delay", "0s")
	v.SetDefault("poll.run_at_start", true)

	v.SetDefault("geocoding.postcodes_base_url", "https://api.postcodes.io")
	v.SetDefault("geocoding.nominatim_server", "https://nominatim.openstreetmap.org/")
	v.SetDefault("geocoding.user_agent", "fuelwatch/1.0")
	v.SetDefault("geocoding.request_timeout", "10s")
	v.SetDefault("geocoding.cache_ttl", "1h")

	v.SetDefault("feeds.request_timeout", "15s")
	v.SetDefault("feeds.max_concurrent", 6)
	v.SetDefault("feeds.user_agent", "fuelwatch/1.0")

	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.drop_pct", 1.0)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("web.enabled", false)
	v.SetDefault("web.listen_addr", ":8080")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs the sanity checks that must fail startup rather than a
// single cycle.
func (c *Config) Validate() error {
	if c.Search.SiteID == "" && c.Search.LocationInput == "" {
		return fmt.Errorf("search: either location or site_id is required")
	}
	if c.Search.SiteID != "" && c.Search.LocationInput != "" {
		return fmt.Errorf("search: location and site_id are mutually exclusive")
	}
	if c.Search.SiteID == "" && c.Search.RadiusKm <= 0 {
		return fmt.Errorf("search.radius_km must be greater than zero")
	}
	if len(c.Search.FuelTypes) == 0 {
		return fmt.Errorf("search.fuel_types must not be empty")
	}
	if _, err := c.FuelTypes(); err != nil {
		return err
	}
	if c.Feeds.MaxConcurrent <= 0 {
		return fmt.Errorf("feeds.max_concurrent must be greater than zero")
	}
	if c.Alerting.Enabled && c.Alerting.DropPct <= 0 {
		return fmt.Errorf("alerting.drop_pct must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// FuelTypes maps the configured codes onto the closed fuel-type set.
func (c *Config) FuelTypes() ([]model.FuelType, error) {
	out := make([]model.FuelType, 0, len(c.Search.FuelTypes))
	for _, code := range c.Search.FuelTypes {
		ft, ok := model.ParseFuelType(code)
		if !ok {
			return nil, fmt.Errorf("search.fuel_types: unsupported fuel type %q", code)
		}
		out = append(out, ft)
	}
	return out, nil
}

// FeedDescriptors merges the built-in CMA registry with configured extras,
// minus disabled retailers.
func (c *Config) FeedDescriptors() []feeds.Descriptor {
	disabled := make(map[string]bool, len(c.Feeds.Disable))
	for _, name := range c.Feeds.Disable {
		disabled[strings.ToLower(name)] = true
	}

	var out []feeds.Descriptor
	for _, d := range append(feeds.Defaults(), c.Feeds.Extra...) {
		if disabled[strings.ToLower(d.Retailer)] {
			continue
		}
		out = append(out, d)
	}
	return out
}

// CoordinatorConfig builds the coordinator's search template.
func (c *Config) CoordinatorConfig() (coordinator.Config, error) {
	fuelTypes, err := c.FuelTypes()
	if err != nil {
		return coordinator.Config{}, err
	}
	return coordinator.Config{
		LocationInput: c.Search.LocationInput,
		RadiusKm:      c.Search.RadiusKm,
		SiteID:        c.Search.SiteID,
		FuelTypes:     fuelTypes,
		Feeds:         c.FeedDescriptors(),
	}, nil
}
