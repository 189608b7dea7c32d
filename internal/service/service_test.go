package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/SVG-campus/KRAKEN-VOLUME/internal/alerting"
	"github.com/SVG-campus/KRAKEN-VOLUME/internal/config"
	"github.com/SVG-campus/KRAKEN-VOLUME/internal/digest"
	"github.com/SVG-campus/KRAKEN-VOLUME/internal/engine"
	"github.com/SVG-campus/KRAKEN-VOLUME/internal/market"
	"github.com/SVG-campus/KRAKEN-VOLUME/internal/storage"
)

type fakeNotifier struct {
	notes []alerting.Notification
}

func (f *fakeNotifier) Notify(_ context.Context, note alerting.Notification) error {
	f.notes = append(f.notes, note)
	return nil
}

type fakeAlertStore struct {
	inserted []storage.AlertRecord
	err      error
}

func (f *fakeAlertStore) InsertAlert(_ context.Context, alert storage.AlertRecord) (storage.AlertRecord, error) {
	if f.err != nil {
		return alert, f.err
	}
	f.inserted = append(f.inserted, alert)
	return alert, nil
}

func (f *fakeAlertStore) ListRecentAlerts(context.Context, int) ([]storage.AlertRecord, error) {
	return f.inserted, nil
}

func (f *fakeAlertStore) ListAlertsForPair(context.Context, string, time.Time, time.Time) ([]storage.AlertRecord, error) {
	return f.inserted, nil
}

func (f *fakeAlertStore) DeleteAlertsBefore(context.Context, time.Time) error { return nil }

type fakeDigestStore struct {
	inserted []storage.DigestRecord
}

func (f *fakeDigestStore) InsertDigest(_ context.Context, d storage.DigestRecord) (storage.DigestRecord, error) {
	f.inserted = append(f.inserted, d)
	return d, nil
}

func (f *fakeDigestStore) ListRecentDigests(context.Context, int) ([]storage.DigestRecord, error) {
	return f.inserted, nil
}

type fakeLocker struct {
	acquired bool
	err      error
	calls    int
}

func (f *fakeLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	f.calls++
	return func() {}, f.acquired, f.err
}

func testConfig() *config.Config {
	return &config.Config{
		Engine: config.EngineConfig{
			Strategy:    "velocity",
			SlopeWindow: time.Hour,
		},
		Alerting: config.AlertingConfig{
			Enabled:          true,
			BaseThresholdPct: 5,
			StepPct:          1.25,
		},
		Digest: config.DigestConfig{
			Window:             5 * time.Minute,
			TopN:               5,
			MinSignificancePct: 1.0,
			CrownWindow:        30 * time.Minute,
			RepostDeltaPct:     2.0,
			AdvisoryLockKey:    42,
		},
		Ranking: config.RankingConfig{Mode: "ratio"},
	}
}

func newTestService(cfg *config.Config, opts Options) *Service {
	if opts.Engine == nil {
		opts.Engine = engine.New(engine.Config{
			Strategy:    engine.StrategyVelocity,
			SlopeWindow: cfg.Engine.SlopeWindow,
		}, zerolog.Nop())
	}
	if opts.Machine == nil {
		opts.Machine = alerting.NewMachine(alerting.LevelConfig{
			BaseThresholdPct: cfg.Alerting.BaseThresholdPct,
			StepPct:          cfg.Alerting.StepPct,
		})
	}
	if opts.Aggregator == nil {
		opts.Aggregator = digest.New(digest.Config{
			Window:             cfg.Digest.Window,
			TopN:               cfg.Digest.TopN,
			MinSignificancePct: cfg.Digest.MinSignificancePct,
			CrownWindow:        cfg.Digest.CrownWindow,
			RepostDeltaPct:     cfg.Digest.RepostDeltaPct,
		})
	}
	return New(cfg, opts, zerolog.Nop())
}

func obs(ts int64, price, baseline, volume float64) market.Observation {
	return market.Observation{
		Pair:             "BTC/USD",
		Timestamp:        ts,
		Price:            price,
		Baseline:         baseline,
		CumulativeVolume: volume,
	}
}

func TestHandleObservationFiresAlert(t *testing.T) {
	notifier := &fakeNotifier{}
	audit := &fakeAlertStore{}
	svc := newTestService(testConfig(), Options{Notifier: notifier, AlertStore: audit})

	// warm-up tick, then a volume surge with a flat price: velocity ~10%/h,
	// price change 0, divergence well past the 5% base threshold
	svc.HandleObservation(context.Background(), obs(0, 100, 100, 1000))
	svc.HandleObservation(context.Background(), obs(3600, 100, 100, 1100))

	if len(notifier.notes) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifier.notes))
	}
	note := notifier.notes[0]
	if note.Kind != "alert_step" || note.Pair != "BTC/USD" {
		t.Fatalf("unexpected notification %+v", note)
	}
	if len(audit.inserted) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(audit.inserted))
	}
	rec := audit.inserted[0]
	if rec.Pair != "BTC/USD" || rec.Kind != "step" || rec.Direction != "up" {
		t.Fatalf("unexpected audit record %+v", rec)
	}
	if rec.LevelPct.StringFixed(2) != "10.00" {
		t.Fatalf("unexpected level %s", rec.LevelPct)
	}
}

func TestHandleObservationQuietSignalNoAlert(t *testing.T) {
	notifier := &fakeNotifier{}
	svc := newTestService(testConfig(), Options{Notifier: notifier})

	svc.HandleObservation(context.Background(), obs(0, 100, 100, 1000))
	svc.HandleObservation(context.Background(), obs(3600, 100, 100, 1010))

	if len(notifier.notes) != 0 {
		t.Fatalf("expected no notification for 1%% velocity, got %+v", notifier.notes)
	}
}

func TestHandleObservationAlertingDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Alerting.Enabled = false
	notifier := &fakeNotifier{}
	svc := newTestService(cfg, Options{Notifier: notifier})

	svc.HandleObservation(context.Background(), obs(0, 100, 100, 1000))
	svc.HandleObservation(context.Background(), obs(3600, 100, 100, 2000))

	if len(notifier.notes) != 0 {
		t.Fatalf("alerting disabled, got %+v", notifier.notes)
	}
}

func TestHandleObservationStorageFailureStillNotifies(t *testing.T) {
	notifier := &fakeNotifier{}
	audit := &fakeAlertStore{err: errors.New("db down")}
	svc := newTestService(testConfig(), Options{Notifier: notifier, AlertStore: audit})

	svc.HandleObservation(context.Background(), obs(0, 100, 100, 1000))
	svc.HandleObservation(context.Background(), obs(3600, 100, 100, 1100))

	if len(notifier.notes) != 1 {
		t.Fatal("audit failure must not block delivery")
	}
}

func TestRunDigestEmitsAndPersists(t *testing.T) {
	notifier := &fakeNotifier{}
	store := &fakeDigestStore{}
	svc := newTestService(testConfig(), Options{Notifier: notifier, DigestStore: store})

	base := time.Unix(10_000, 0)
	svc.HandleObservation(context.Background(), obs(base.Unix()-3600, 100, 100, 1000))
	svc.HandleObservation(context.Background(), obs(base.Unix()-60, 100, 100, 1100))

	if err := svc.RunDigest(context.Background(), base); err != nil {
		t.Fatalf("digest: %v", err)
	}

	if len(notifier.notes) < 1 {
		t.Fatal("expected digest notification")
	}
	last := notifier.notes[len(notifier.notes)-1]
	if last.Kind != "digest" {
		t.Fatalf("unexpected notification kind %q", last.Kind)
	}
	if len(store.inserted) != 1 || store.inserted[0].Leader != "BTC/USD" {
		t.Fatalf("unexpected digest records %+v", store.inserted)
	}
}

func TestRunDigestSkipsWhenLockHeldElsewhere(t *testing.T) {
	notifier := &fakeNotifier{}
	locker := &fakeLocker{acquired: false}
	svc := newTestService(testConfig(), Options{Notifier: notifier, Locker: locker})

	if err := svc.RunDigest(context.Background(), time.Unix(10_000, 0)); err != nil {
		t.Fatalf("digest: %v", err)
	}
	if locker.calls != 1 {
		t.Fatalf("expected one lock attempt, got %d", locker.calls)
	}
	if len(notifier.notes) != 0 {
		t.Fatal("digest should be skipped without the lock")
	}
}

func TestRunDigestPropagatesLockError(t *testing.T) {
	locker := &fakeLocker{err: errors.New("conn refused")}
	svc := newTestService(testConfig(), Options{Locker: locker})

	if err := svc.RunDigest(context.Background(), time.Unix(10_000, 0)); err == nil {
		t.Fatal("expected lock error")
	}
}

func TestSnapshotReflectsState(t *testing.T) {
	svc := newTestService(testConfig(), Options{})

	svc.HandleObservation(context.Background(), obs(0, 100, 100, 1000))
	svc.HandleObservation(context.Background(), obs(3600, 100, 100, 1100))

	snap := svc.Snapshot()
	if snap.PairCount != 1 || snap.Pairs[0].Pair != "BTC/USD" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Pairs[0].VelocityPct != 10.0 {
		t.Fatalf("unexpected velocity %v", snap.Pairs[0].VelocityPct)
	}
	if snap.Meta.Strategy != "velocity" || snap.Meta.RankMode != "ratio" {
		t.Fatalf("unexpected meta %+v", snap.Meta)
	}

	ranked := svc.Ranked()
	if len(ranked) != 1 || ranked[0].Pair != "BTC/USD" {
		t.Fatalf("unexpected ranking %+v", ranked)
	}
}
