package alerting

import (
	"math"
	"time"

	"github.com/SVG-campus/KRAKEN-VOLUME/internal/market"
)

// OutcomeKind distinguishes alert notifications.
type OutcomeKind string

const (
	// OutcomeStep reports a move to a different non-zero level.
	OutcomeStep OutcomeKind = "step"
	// OutcomeDisarm reports a return to quiescence.
	OutcomeDisarm OutcomeKind = "disarm"
)

// LevelConfig holds the alert lattice parameters.
type LevelConfig struct {
	BaseThresholdPct float64
	StepPct          float64
	Cooldown         time.Duration
}

// Outcome is the result of one evaluation. Fired is false when hysteresis or
// the cooldown suppressed the notification; level bookkeeping happens anyway.
type Outcome struct {
	Fired          bool
	Kind           OutcomeKind
	Direction      string // "up" or "down"
	PrevLevel      float64
	NewLevel       float64
	StepMovePct    float64
	VelocityPct    float64
	PriceChangePct float64
	DivergencePct  float64
	TrendPerMinPct float64
}

// QuantizeLevel snaps a signed divergence onto the threshold+step lattice.
// Values inside the base threshold map to 0. Pure function.
func QuantizeLevel(diff, base, step float64) float64 {
	magnitude := math.Abs(diff)
	if magnitude < base {
		return 0
	}
	stepsAbove := math.Floor((magnitude-base)/step) + 1
	level := base + (stepsAbove-1)*step
	if diff < 0 {
		level = -level
	}
	return market.Round2(level)
}

// Machine evaluates level transitions per pair.
type Machine struct {
	cfg   LevelConfig
	clock func() time.Time
}

// NewMachine constructs a Machine using the wall clock.
func NewMachine(cfg LevelConfig) *Machine {
	return &Machine{cfg: cfg, clock: time.Now}
}

// SetClock overrides the clock, for replay and tests.
func (m *Machine) SetClock(clock func() time.Time) {
	if clock != nil {
		m.clock = clock
	}
}

// Evaluate compares the pair's current divergence against its stored level
// and decides whether a notification fires. The stored level is updated on
// every call; the cooldown gates only the notification side-effect, so a
// later allowed alert reports displacement since the last announced level.
func (m *Machine) Evaluate(st *market.PairState) Outcome {
	out := Outcome{
		PrevLevel:      st.Alert.Level,
		VelocityPct:    market.Round2(st.VelocityPct),
		PriceChangePct: market.Round2(st.PriceChangePct),
		DivergencePct:  market.Round2(st.DivergencePct),
	}
	out.NewLevel = QuantizeLevel(st.DivergencePct, m.cfg.BaseThresholdPct, m.cfg.StepPct)

	if out.NewLevel == out.PrevLevel {
		return out
	}

	now := m.clock()
	st.Alert.Level = out.NewLevel

	if st.Alert.LastFiredAt != 0 && now.UnixMilli()-st.Alert.LastFiredAt < m.cfg.Cooldown.Milliseconds() {
		return out
	}

	out.Fired = true
	out.StepMovePct = market.Round2(math.Abs(out.NewLevel - out.PrevLevel))
	out.TrendPerMinPct = market.Round2(trendRate(st.Trend) * 60)
	if out.NewLevel == 0 {
		out.Kind = OutcomeDisarm
	} else {
		out.Kind = OutcomeStep
		if out.NewLevel > out.PrevLevel {
			out.Direction = "up"
		} else {
			out.Direction = "down"
		}
		st.StepTimes = append(st.StepTimes, now.Unix())
	}
	st.Alert.LastFiredAt = now.UnixMilli()
	return out
}

// trendRate estimates the divergence slope in percent per second from the
// trend sub-buffer, comparing the newest point against one ~2 positions back.
func trendRate(trend []market.TrendPoint) float64 {
	if len(trend) < 2 {
		return 0
	}
	newest := trend[len(trend)-1]
	idx := len(trend) - 3
	if idx < 0 {
		idx = 0
	}
	older := trend[idx]
	dt := newest.TS - older.TS
	if dt < 1 {
		dt = 1
	}
	return (newest.Diff - older.Diff) / float64(dt)
}
