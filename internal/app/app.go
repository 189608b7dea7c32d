package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/SVG-campus/KRAKEN-VOLUME/internal/alerting"
	"github.com/SVG-campus/KRAKEN-VOLUME/internal/config"
	"github.com/SVG-campus/KRAKEN-VOLUME/internal/digest"
	"github.com/SVG-campus/KRAKEN-VOLUME/internal/engine"
	"github.com/SVG-campus/KRAKEN-VOLUME/internal/feed"
	"github.com/SVG-campus/KRAKEN-VOLUME/internal/market"
	"github.com/SVG-campus/KRAKEN-VOLUME/internal/scheduler"
	"github.com/SVG-campus/KRAKEN-VOLUME/internal/server"
	"github.com/SVG-campus/KRAKEN-VOLUME/internal/service"
	"github.com/SVG-campus/KRAKEN-VOLUME/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newEngine() *engine.Engine {
	return engine.New(engine.Config{
		Strategy:        engine.Strategy(a.Config.Engine.Strategy),
		SlopeWindow:     a.Config.Engine.SlopeWindow,
		HorizonMultiple: a.Config.Engine.HorizonMultiple,
		MinHorizon:      a.Config.Engine.MinHorizon,
		LookbackHours:   a.Config.Engine.LookbackHours,
	}, a.Logger)
}

func (a *App) newMachine() *alerting.Machine {
	return alerting.NewMachine(alerting.LevelConfig{
		BaseThresholdPct: a.Config.Alerting.BaseThresholdPct,
		StepPct:          a.Config.Alerting.StepPct,
		Cooldown:         a.Config.Alerting.Cooldown,
	})
}

func (a *App) newAggregator() *digest.Aggregator {
	d := a.Config.Digest
	return digest.New(digest.Config{
		Window:             d.Window,
		TopN:               d.TopN,
		MinSignificancePct: d.MinSignificancePct,
		CrownStreak:        d.CrownStreak,
		CrownWindow:        d.CrownWindow,
		RepostDeltaPct:     d.RepostDeltaPct,
	})
}

func (a *App) newNotifier() *alerting.Fanout {
	var targets []alerting.Notifier
	if tg := a.Config.Alerting.Telegram; tg.Enabled {
		targets = append(targets, alerting.NewTelegramNotifier(tg.BotToken, tg.ChatID, tg.APIBase, 10*time.Second, a.Logger))
	}
	if wh := a.Config.Alerting.Webhook; wh.Enabled {
		targets = append(targets, alerting.NewWebhookNotifier(wh.URL, wh.Timeout, a.Logger))
	}
	return alerting.NewFanout(targets...)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	return store, store.Close, nil
}

func (a *App) newService(store *storage.Store, notifier alerting.Notifier) *service.Service {
	opts := service.Options{
		Engine:     a.newEngine(),
		Machine:    a.newMachine(),
		Aggregator: a.newAggregator(),
		Notifier:   notifier,
	}
	if store != nil {
		opts.AlertStore = store
		opts.DigestStore = store
		opts.Locker = store
	}
	return service.New(a.Config, opts, a.Logger)
}

// Run executes the long-running monitoring service: feed consumption, digest
// scheduling, and the snapshot API, torn down together on SIGINT/SIGTERM.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; alert audit disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	notifier := a.newNotifier()
	if notifier.Empty() {
		a.Logger.Warn().Msg("no notification channels configured; alerts log only")
	}
	svc := a.newService(store, notifierOrNil(notifier))

	client := feed.NewClient(feed.Config{
		URL:     a.Config.Feed.URL,
		Symbols: a.Config.Feed.Symbols,
	}, func(obs market.Observation) {
		svc.HandleObservation(ctx, obs)
	}, a.Logger)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return client.Run(ctx)
	})

	if a.Config.Digest.Enabled {
		job := scheduler.New(scheduler.Options{
			Name:         "digest",
			Interval:     a.Config.Digest.Interval,
			AlignToStart: true,
		}, a.Logger)
		group.Go(func() error {
			return job.Run(ctx, svc.RunDigest)
		})
	}

	if a.Config.Server.Enabled {
		srv := server.New(server.Config{
			Listen:       a.Config.Server.Listen,
			PushInterval: a.Config.Server.PushInterval,
		}, svc.Snapshot, a.Logger)
		group.Go(func() error {
			return srv.Run(ctx)
		})
	}

	a.Logger.Info().Msg("starting monitoring service")
	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

func notifierOrNil(f *alerting.Fanout) alerting.Notifier {
	if f == nil || f.Empty() {
		return nil
	}
	return f
}

// ExportOptions hold parameters for exporting audited alert history.
type ExportOptions struct {
	Pair      string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit   int
	Digests bool
}

// ReplayOptions configure the offline replay command.
type ReplayOptions struct {
	CSVPath string
}
