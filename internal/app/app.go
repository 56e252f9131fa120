// Package app aggregates configuration and shared dependencies for the CLI
// commands.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fuelwatch/internal/alerting"
	"fuelwatch/internal/config"
	"fuelwatch/internal/coordinator"
	"fuelwatch/internal/feeds"
	"fuelwatch/internal/location"
	"fuelwatch/internal/scheduler"
	"fuelwatch/internal/storage"
	"fuelwatch/internal/web"
)

// App holds the wired application.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// NewResolver builds the location resolver from configuration.
func (a *App) NewResolver() *location.Resolver {
	return location.New(location.Options{
		PostcodesBaseURL: a.Config.Geocoding.PostcodesBaseURL,
		NominatimServer:  a.Config.Geocoding.NominatimServer,
		UserAgent:        a.Config.Geocoding.UserAgent,
		Timeout:          a.Config.Geocoding.RequestTimeout,
		CacheTTL:         a.Config.Geocoding.CacheTTL,
	}, a.Logger)
}

func (a *App) newAggregator() *feeds.Aggregator {
	client := feeds.NewClient(feeds.ClientOptions{
		Timeout:   a.Config.Feeds.RequestTimeout,
		UserAgent: a.Config.Feeds.UserAgent,
	}, a.Logger)

	return feeds.NewAggregator(client, feeds.AggregatorOptions{
		MaxConcurrent:  a.Config.Feeds.MaxConcurrent,
		PerFeedTimeout: a.Config.Feeds.RequestTimeout,
	}, a.Logger)
}

// NewCoordinator wires resolver and feed aggregator into a coordinator.
func (a *App) NewCoordinator() (*coordinator.Coordinator, error) {
	cfg, err := a.Config.CoordinatorConfig()
	if err != nil {
		return nil, err
	}
	return coordinator.New(cfg, a.NewResolver(), a.newAggregator(), a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		tg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(tg.BotToken, tg.ChatID, tg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, error) {
	if a.Config.Database.DSN == "" {
		return nil, nil
	}
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}
	store := storage.NewStore(pool)
	if err := store.Init(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// configKey identifies the search template for snapshot persistence.
func (a *App) configKey() string {
	s := a.Config.Search
	if s.SiteID != "" {
		return fmt.Sprintf("site:%s|%v", s.SiteID, s.FuelTypes)
	}
	return fmt.Sprintf("loc:%s|%g|%v", s.LocationInput, s.RadiusKm, s.FuelTypes)
}

// Run executes the long-running polling service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	coord, err := a.NewCoordinator()
	if err != nil {
		return err
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Debug().Msg("database.dsn not configured; snapshot persistence disabled")
	} else {
		defer store.Close()
		a.restoreSnapshot(ctx, store, coord)
	}

	notifier := a.newNotifier()
	if a.Config.Alerting.Enabled && notifier == nil {
		a.Logger.Warn().Msg("alerting enabled but no delivery channel configured")
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Poll.Interval,
		StartupDelay: a.Config.Poll.StartupDelay,
		RunAtStart:   a.Config.Poll.RunAtStart,
	}, a.Logger)

	errCh := make(chan error, 2)

	if a.Config.Web.Enabled {
		server := web.New(a.Config.Web.ListenAddr, coord, a.Logger)
		go func() {
			if err := server.Run(ctx); err != nil {
				errCh <- fmt.Errorf("status api: %w", err)
			}
		}()
	}

	go func() {
		errCh <- sched.Run(ctx, func(tickCtx context.Context) error {
			return a.runTick(tickCtx, coord, store, notifier)
		})
	}()

	a.Logger.Info().
		Dur("interval", a.Config.Poll.Interval).
		Msg("starting polling service")

	err = <-errCh
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}
	a.Logger.Info().Msg("polling service stopped")
	return nil
}

// restoreSnapshot loads the persisted snapshot for the current configuration
// and seeds the coordinator with it, so the last-good result from a previous
// run is served (flagged degraded) before the first cycle completes. A
// missing or unreadable row only costs the warm start.
func (a *App) restoreSnapshot(ctx context.Context, store storage.SnapshotStore, coord *coordinator.Coordinator) {
	record, err := store.GetSnapshot(ctx, a.configKey())
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		a.Logger.Warn().Err(err).Msg("failed to load persisted snapshot")
		return
	}

	var snap coordinator.Snapshot
	if err := json.Unmarshal(record.Payload, &snap); err != nil {
		a.Logger.Warn().Err(err).Msg("persisted snapshot is unreadable; starting cold")
		return
	}
	if coord.Restore(snap) {
		a.Logger.Info().
			Time("last_success", snap.LastSuccess).
			Msg("restored last-good result from persisted snapshot")
	}
}

// runTick runs one cycle and applies the post-cycle concerns: snapshot
// persistence and price-drop alerting. The store parameter is the concrete
// type: a nil *storage.Store boxed into the interface would not compare
// equal to nil and the guard below would dereference it.
func (a *App) runTick(ctx context.Context, coord *coordinator.Coordinator, store *storage.Store, notifier alerting.Notifier) error {
	prev := coord.Snapshot().Result
	cycleErr := coord.RunCycle(ctx)
	snap := coord.Snapshot()

	if store != nil {
		if err := a.persistSnapshot(ctx, store, snap); err != nil {
			a.Logger.Error().Err(err).Msg("failed to persist snapshot")
		}
	}

	if cycleErr == nil && a.Config.Alerting.Enabled && notifier != nil {
		drops := alerting.DetectDrops(prev, snap.Result, decimal.NewFromFloat(a.Config.Alerting.DropPct))
		if len(drops) > 0 {
			note := alerting.Notification{FetchedAt: snap.Result.FetchedAt, Drops: drops}
			if err := notifier.Notify(ctx, note); err != nil {
				a.Logger.Error().Err(err).Msg("failed to dispatch price-drop alert")
			}
		}
	}

	return cycleErr
}

func (a *App) persistSnapshot(ctx context.Context, store storage.SnapshotStore, snap coordinator.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	record := storage.SnapshotRecord{
		ConfigKey: a.configKey(),
		State:     snap.State.String(),
		Degraded:  snap.Degraded,
		LastError: snap.LastError,
		Payload:   payload,
	}
	if !snap.LastSuccess.IsZero() {
		ts := snap.LastSuccess
		record.FetchedAt = &ts
	}
	return store.UpsertSnapshot(ctx, record)
}

// FetchOnce runs a single update cycle and prints the result as JSON.
func (a *App) FetchOnce(ctx context.Context) error {
	coord, err := a.NewCoordinator()
	if err != nil {
		return err
	}
	cycleErr := coord.RunCycle(ctx)

	snap := coord.Snapshot()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return err
	}
	return cycleErr
}

// Resolve runs just the location-resolution chain for debugging input.
func (a *App) Resolve(ctx context.Context, input string) error {
	coord, err := a.NewResolver().Resolve(ctx, input)
	if err != nil {
		return err
	}
	fmt.Printf("%s -> %.6f,%.6f\n", input, coord.Latitude, coord.Longitude)
	return nil
}
