package market

import "math"

// Observation is a single normalised ticker reading for one pair.
type Observation struct {
	Pair             string
	Timestamp        int64 // unix seconds
	Price            float64
	Baseline         float64 // trailing-average price reference (vwap); 0 when the feed carries none
	CumulativeVolume float64
}

// TrendPoint records one divergence reading for slope estimation.
type TrendPoint struct {
	TS   int64
	Diff float64
}

// AlertMemory is the hysteresis state owned by the alert machine.
type AlertMemory struct {
	Level       float64 // quantised level, 0 when quiescent
	LastFiredAt int64   // unix millis of the last announced alert
}

// PairState holds everything tracked for a single pair. It is created lazily
// on the first observation and lives for the process lifetime. The buffers and
// Last are written only by the metrics engine; the alert machine owns Alert and
// StepTimes, the digest aggregator owns DigestStreak.
type PairState struct {
	Pair string
	Last *Observation

	Recent []Observation // short horizon, oldest first
	Long   []Observation // minute buckets, lookback strategy only
	Trend  []TrendPoint  // divergence history for slope and digest averaging

	VelocityPct    float64
	PriceChangePct float64
	DivergencePct  float64
	HasMetrics     bool

	Alert        AlertMemory
	StepTimes    []int64 // unix seconds of fired step alerts, trimmed to the crown window
	DigestStreak int
}

// Round2 rounds to two decimals. Applied at the surface only; internal state
// keeps full float precision.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
