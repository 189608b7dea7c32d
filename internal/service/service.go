package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/SVG-campus/KRAKEN-VOLUME/internal/alerting"
	"github.com/SVG-campus/KRAKEN-VOLUME/internal/config"
	"github.com/SVG-campus/KRAKEN-VOLUME/internal/digest"
	"github.com/SVG-campus/KRAKEN-VOLUME/internal/engine"
	"github.com/SVG-campus/KRAKEN-VOLUME/internal/market"
	"github.com/SVG-campus/KRAKEN-VOLUME/internal/ranking"
	"github.com/SVG-campus/KRAKEN-VOLUME/internal/snapshot"
	"github.com/SVG-campus/KRAKEN-VOLUME/internal/storage"
)

// Service wires the metrics engine, alert machine, digest aggregator, and
// outbound collaborators into the per-observation pipeline.
type Service struct {
	engine      *engine.Engine
	machine     *alerting.Machine
	aggregator  *digest.Aggregator
	notifier    alerting.Notifier
	alertStore  storage.AlertAuditStore
	digestStore storage.DigestAuditStore
	locker      storage.AdvisoryLocker
	lockKey     int64
	rankMode    ranking.Mode
	meta        snapshot.Meta
	alertsOn    bool
	logger      zerolog.Logger
}

// Options collects the service collaborators; audit stores and locker may be
// nil when no database is configured.
type Options struct {
	Engine      *engine.Engine
	Machine     *alerting.Machine
	Aggregator  *digest.Aggregator
	Notifier    alerting.Notifier
	AlertStore  storage.AlertAuditStore
	DigestStore storage.DigestAuditStore
	Locker      storage.AdvisoryLocker
}

// New constructs the monitoring service.
func New(cfg *config.Config, opts Options, logger zerolog.Logger) *Service {
	return &Service{
		engine:      opts.Engine,
		machine:     opts.Machine,
		aggregator:  opts.Aggregator,
		notifier:    opts.Notifier,
		alertStore:  opts.AlertStore,
		digestStore: opts.DigestStore,
		locker:      opts.Locker,
		lockKey:     cfg.Digest.AdvisoryLockKey,
		rankMode:    ranking.Mode(cfg.Ranking.Mode),
		alertsOn:    cfg.Alerting.Enabled,
		meta: snapshot.Meta{
			Strategy:      cfg.Engine.Strategy,
			RankMode:      cfg.Ranking.Mode,
			SlopeWindow:   cfg.Engine.SlopeWindow.String(),
			LookbackHours: cfg.Engine.LookbackHours,
		},
		logger: logger.With().Str("component", "service").Logger(),
	}
}

// HandleObservation runs one observation through metrics and alerting. Alert
// state commits at decision time; delivery failures are logged and never fed
// back into the engine.
func (s *Service) HandleObservation(ctx context.Context, obs market.Observation) {
	upd := s.engine.Apply(obs)
	if !upd.Computed || !s.alertsOn {
		return
	}

	var out alerting.Outcome
	s.engine.Mutate(obs.Pair, func(st *market.PairState) {
		out = s.machine.Evaluate(st)
	})
	if !out.Fired {
		return
	}

	at := time.Unix(obs.Timestamp, 0).UTC()
	s.logger.Info().
		Str("pair", obs.Pair).
		Str("kind", string(out.Kind)).
		Float64("level", out.NewLevel).
		Float64("divergence_pct", out.DivergencePct).
		Msg("alert fired")

	if s.alertStore != nil {
		if _, err := s.alertStore.InsertAlert(ctx, alertRecord(obs.Pair, at, out)); err != nil {
			s.logger.Error().Err(err).Str("pair", obs.Pair).Msg("failed to persist alert record")
		}
	}
	if s.notifier != nil {
		note := alerting.RenderAlert(obs.Pair, out, at)
		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Str("pair", obs.Pair).Msg("failed to dispatch alert")
		}
	}
}

// RunDigest executes one digest cycle; wired as the digest scheduler's tick.
func (s *Service) RunDigest(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip digest; advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	var (
		d    *digest.Digest
		emit bool
	)
	s.engine.WriteLocked(func(store *market.Store) {
		d, emit = s.aggregator.Collect(bucket, store)
	})
	if !emit {
		s.logger.Debug().Time("bucket", bucket).Msg("digest suppressed")
		return nil
	}

	note := digest.Render(d)
	leader, _ := d.Leader()
	s.logger.Info().
		Time("bucket", bucket).
		Str("leader", leader.Pair).
		Int("winners", len(d.Winners)).
		Int("losers", len(d.Losers)).
		Msg("digest emitted")

	if s.digestStore != nil {
		rec := storage.DigestRecord{
			At:           d.At,
			Leader:       leader.Pair,
			LeaderAvgPct: decimal.NewFromFloat(market.Round2(leader.AvgDivergencePct)),
			Members:      d.Members(),
			Body:         note.Text,
		}
		if _, err := s.digestStore.InsertDigest(ctx, rec); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to persist digest record")
		}
	}
	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to dispatch digest")
		}
	}
	return nil
}

// Snapshot builds the read-only projection for the query/push surface.
func (s *Service) Snapshot() snapshot.Snapshot {
	var snap snapshot.Snapshot
	s.engine.ReadLocked(func(store *market.Store) {
		snap = snapshot.Build(time.Now().UTC(), store, s.rankMode, s.meta)
	})
	return snap
}

// Ranked returns the current momentum order.
func (s *Service) Ranked() []ranking.Ranked {
	var out []ranking.Ranked
	s.engine.ReadLocked(func(store *market.Store) {
		out = ranking.Rank(store, s.rankMode)
	})
	return out
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, err
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func alertRecord(pair string, at time.Time, out alerting.Outcome) storage.AlertRecord {
	return storage.AlertRecord{
		Pair:           pair,
		At:             at,
		Kind:           string(out.Kind),
		Direction:      out.Direction,
		LevelPct:       decimal.NewFromFloat(out.NewLevel),
		StepMovePct:    decimal.NewFromFloat(out.StepMovePct),
		VelocityPct:    decimal.NewFromFloat(out.VelocityPct),
		PriceChangePct: decimal.NewFromFloat(out.PriceChangePct),
		DivergencePct:  decimal.NewFromFloat(out.DivergencePct),
		TrendPerMinPct: decimal.NewFromFloat(out.TrendPerMinPct),
	}
}
