package ranking

import (
	"math"
	"sort"

	"github.com/SVG-campus/KRAKEN-VOLUME/internal/market"
)

// Mode selects the composite score.
type Mode string

const (
	// ModeRatio rewards volume surges without a matching price move.
	ModeRatio Mode = "ratio"
	// ModeRaw orders by volume velocity alone.
	ModeRaw Mode = "raw"
)

// priceFloor prevents the ratio score from exploding on flat prices.
const priceFloor = 0.0001

// Ranked is one scored pair.
type Ranked struct {
	Pair           string
	Score          float64
	VelocityPct    float64
	PriceChangePct float64
	DivergencePct  float64
}

// Score computes the composite momentum score for one pair.
func Score(mode Mode, velocityPct, priceChangePct float64) float64 {
	if mode == ModeRaw {
		return velocityPct
	}
	return velocityPct / math.Max(priceFloor, math.Abs(priceChangePct))
}

// Rank orders all pairs with computed metrics by descending score. Pairs with
// no observation yet, or still warming up, are excluded rather than scored as
// zero. Ties resolve lexicographically by symbol: Each visits in symbol
// order and the sort is stable.
func Rank(store *market.Store, mode Mode) []Ranked {
	ranked := make([]Ranked, 0, store.Len())
	store.Each(func(st *market.PairState) {
		if st.Last == nil || !st.HasMetrics {
			return
		}
		ranked = append(ranked, Ranked{
			Pair:           st.Pair,
			Score:          Score(mode, st.VelocityPct, st.PriceChangePct),
			VelocityPct:    st.VelocityPct,
			PriceChangePct: st.PriceChangePct,
			DivergencePct:  st.DivergencePct,
		})
	})
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}
