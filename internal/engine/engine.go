package engine

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/SVG-campus/KRAKEN-VOLUME/internal/market"
)

const epsilon = 1e-9

// Strategy selects how the volume and price signals are derived.
type Strategy string

const (
	// StrategyVelocity annualises the volume change over a short window and
	// compares price against the trailing average carried in the observation.
	StrategyVelocity Strategy = "velocity"
	// StrategyLookback compares volume and price against a sample roughly
	// lookback_hours in the past, with a warm-up period until one exists.
	StrategyLookback Strategy = "lookback"
)

// Config parameterises the metrics engine.
type Config struct {
	Strategy        Strategy
	SlopeWindow     time.Duration
	HorizonMultiple int
	MinHorizon      time.Duration
	LookbackHours   int
}

// Update is the result of applying one observation.
type Update struct {
	Pair           string
	Timestamp      int64
	VelocityPct    float64
	PriceChangePct float64
	DivergencePct  float64
	Computed       bool // false while the pair is warming up
}

// Engine owns the pair store and converts raw observations into the
// divergence signal. All mutation of pair state goes through its lock.
type Engine struct {
	cfg    Config
	logger zerolog.Logger

	mu    sync.RWMutex
	store *market.Store
}

// New constructs an Engine.
func New(cfg Config, logger zerolog.Logger) *Engine {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyVelocity
	}
	return &Engine{
		cfg:    cfg,
		logger: logger.With().Str("component", "engine").Logger(),
		store: market.NewStore(market.StoreConfig{
			SlopeWindow:     cfg.SlopeWindow,
			HorizonMultiple: cfg.HorizonMultiple,
			MinHorizon:      cfg.MinHorizon,
			LookbackHours:   cfg.LookbackHours,
			KeepLong:        cfg.Strategy == StrategyLookback,
		}),
	}
}

// Strategy reports the configured strategy.
func (e *Engine) Strategy() Strategy {
	return e.cfg.Strategy
}

// Apply records obs and recomputes the pair's signals. During warm-up (no
// usable reference yet) only the observation is stored and Computed is false.
func (e *Engine) Apply(obs market.Observation) Update {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.store.Upsert(obs.Pair)
	e.store.Record(st, obs)

	upd := Update{Pair: obs.Pair, Timestamp: obs.Timestamp}

	velocity, priceChange, ok := e.computeSignals(st, obs)
	last := obs
	st.Last = &last
	if !ok {
		return upd
	}
	if !finite(velocity) || !finite(priceChange) {
		e.logger.Warn().Str("pair", obs.Pair).Msg("dropping non-finite signal")
		return upd
	}

	st.VelocityPct = velocity
	st.PriceChangePct = priceChange
	st.DivergencePct = velocity - priceChange
	st.HasMetrics = true
	e.store.AppendTrend(st, market.TrendPoint{TS: obs.Timestamp, Diff: st.DivergencePct})

	upd.VelocityPct = velocity
	upd.PriceChangePct = priceChange
	upd.DivergencePct = st.DivergencePct
	upd.Computed = true
	return upd
}

func (e *Engine) computeSignals(st *market.PairState, obs market.Observation) (velocity, priceChange float64, ok bool) {
	switch e.cfg.Strategy {
	case StrategyLookback:
		target := obs.Timestamp - int64(e.cfg.LookbackHours)*3600
		ref, found := market.FindAtOrBefore(st, target)
		if !found {
			return 0, 0, false
		}
		velocity = (obs.CumulativeVolume - ref.CumulativeVolume) / math.Max(ref.CumulativeVolume, epsilon) * 100
		priceChange = (obs.Price - ref.Price) / math.Max(ref.Price, epsilon) * 100
		return velocity, priceChange, true
	default:
		if obs.Baseline <= 0 {
			// no trailing average in this tick; treat like warm-up
			return 0, 0, false
		}
		ref, found := market.FindApproxAgo(st, int64(e.cfg.SlopeWindow/time.Second), obs.Timestamp)
		if !found {
			return 0, 0, false
		}
		dt := obs.Timestamp - ref.Timestamp
		if dt < 1 {
			dt = 1
		}
		deltaVolume := obs.CumulativeVolume - ref.CumulativeVolume
		velocity = deltaVolume / math.Max(ref.CumulativeVolume, epsilon) * (3600 / float64(dt)) * 100
		priceChange = (obs.Price - obs.Baseline) / math.Max(obs.Baseline, epsilon) * 100
		return velocity, priceChange, true
	}
}

// Mutate runs fn with exclusive access to one pair's state. It is how the
// alert machine updates its hysteresis memory. No-op for unknown pairs.
func (e *Engine) Mutate(pair string, fn func(*market.PairState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.store.Pair(pair); ok {
		fn(st)
	}
}

// WriteLocked runs fn with exclusive access to the whole store. Used by the
// digest aggregator, which mutates streak counters across pairs.
func (e *Engine) WriteLocked(fn func(*market.Store)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.store)
}

// ReadLocked runs fn with shared access to the store, for ranking and
// snapshot projection.
func (e *Engine) ReadLocked(fn func(*market.Store)) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn(e.store)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
