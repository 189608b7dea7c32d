package market

import (
	"sort"
	"time"
)

const (
	defaultHorizonMultiple = 5
	defaultMinHorizon      = 10 * time.Minute
	minLongHorizon         = 26 * time.Hour
	longSafetyMargin       = 2 * time.Hour
)

// StoreConfig bounds the per-pair buffers.
type StoreConfig struct {
	SlopeWindow     time.Duration
	HorizonMultiple int // recent horizon = SlopeWindow × this, floored by MinHorizon
	MinHorizon      time.Duration
	LookbackHours   int
	KeepLong        bool // maintain the minute-resolution long buffer (lookback strategy)
}

// Store owns the pair map and the buffer bookkeeping. It performs no locking
// itself; the metrics engine serialises access.
type Store struct {
	cfg       StoreConfig
	recentSec int64
	longSec   int64
	pairs     map[string]*PairState
}

// NewStore builds a Store with horizon defaults applied.
func NewStore(cfg StoreConfig) *Store {
	if cfg.HorizonMultiple <= 0 {
		cfg.HorizonMultiple = defaultHorizonMultiple
	}
	if cfg.MinHorizon <= 0 {
		cfg.MinHorizon = defaultMinHorizon
	}

	recent := cfg.SlopeWindow * time.Duration(cfg.HorizonMultiple)
	if recent < cfg.MinHorizon {
		recent = cfg.MinHorizon
	}

	long := time.Duration(cfg.LookbackHours)*time.Hour + longSafetyMargin
	if long < minLongHorizon {
		long = minLongHorizon
	}

	return &Store{
		cfg:       cfg,
		recentSec: int64(recent / time.Second),
		longSec:   int64(long / time.Second),
		pairs:     make(map[string]*PairState),
	}
}

// Pair returns the state for a symbol if it exists.
func (s *Store) Pair(symbol string) (*PairState, bool) {
	st, ok := s.pairs[symbol]
	return st, ok
}

// Upsert returns the state for a symbol, creating it on first sight.
func (s *Store) Upsert(symbol string) *PairState {
	st, ok := s.pairs[symbol]
	if !ok {
		st = &PairState{Pair: symbol}
		s.pairs[symbol] = st
	}
	return st
}

// Len reports how many pairs have been seen.
func (s *Store) Len() int {
	return len(s.pairs)
}

// Each visits every pair state in symbol order.
func (s *Store) Each(fn func(*PairState)) {
	symbols := make([]string, 0, len(s.pairs))
	for sym := range s.pairs {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		fn(s.pairs[sym])
	}
}

// Record appends obs to the pair's buffers and evicts aged entries. Entries at
// or before the newest recent timestamp are not appended again, which keeps
// the buffers monotonic and makes duplicate delivery idempotent.
func (s *Store) Record(st *PairState, obs Observation) {
	if n := len(st.Recent); n == 0 || obs.Timestamp > st.Recent[n-1].Timestamp {
		st.Recent = append(st.Recent, obs)
	}
	st.Recent = trimObservations(st.Recent, obs.Timestamp-s.recentSec)

	if !s.cfg.KeepLong {
		return
	}
	bucket := obs.Timestamp / 60
	if n := len(st.Long); n == 0 || bucket > st.Long[n-1].Timestamp/60 {
		st.Long = append(st.Long, obs)
	}
	st.Long = trimObservations(st.Long, obs.Timestamp-s.longSec)
}

// AppendTrend records a divergence point and trims by the recent horizon.
func (s *Store) AppendTrend(st *PairState, p TrendPoint) {
	if n := len(st.Trend); n == 0 || p.TS > st.Trend[n-1].TS {
		st.Trend = append(st.Trend, p)
	}
	cutoff := p.TS - s.recentSec
	i := 0
	for i < len(st.Trend) && st.Trend[i].TS < cutoff {
		i++
	}
	if i > 0 {
		st.Trend = append(st.Trend[:0:0], st.Trend[i:]...)
	}
}

// FindAtOrBefore returns the most recent long-buffer entry with timestamp
// ≤ target, scanning backwards.
func FindAtOrBefore(st *PairState, target int64) (Observation, bool) {
	for i := len(st.Long) - 1; i >= 0; i-- {
		if st.Long[i].Timestamp <= target {
			return st.Long[i], true
		}
	}
	return Observation{}, false
}

// FindApproxAgo returns the newest recent-buffer entry at least seconds old
// relative to now, falling back to the oldest available entry.
func FindApproxAgo(st *PairState, seconds, now int64) (Observation, bool) {
	if len(st.Recent) == 0 {
		return Observation{}, false
	}
	for i := len(st.Recent) - 1; i >= 0; i-- {
		if now-st.Recent[i].Timestamp >= seconds {
			return st.Recent[i], true
		}
	}
	return st.Recent[0], true
}

func trimObservations(buf []Observation, cutoff int64) []Observation {
	i := 0
	for i < len(buf) && buf[i].Timestamp < cutoff {
		i++
	}
	if i == 0 {
		return buf
	}
	return append(buf[:0:0], buf[i:]...)
}
