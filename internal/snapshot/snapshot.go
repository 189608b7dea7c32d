package snapshot

import (
	"time"

	"github.com/SVG-campus/KRAKEN-VOLUME/internal/market"
	"github.com/SVG-campus/KRAKEN-VOLUME/internal/ranking"
)

// PairView is the read-only projection of one pair.
type PairView struct {
	Pair             string  `json:"pair"`
	Rank             int     `json:"rank,omitempty"` // 0 while warming up
	Score            float64 `json:"score"`
	Timestamp        int64   `json:"timestamp"`
	LastPrice        float64 `json:"last_price"`
	Baseline         float64 `json:"baseline,omitempty"`
	CumulativeVolume float64 `json:"cumulative_volume"`
	VelocityPct      float64 `json:"velocity_pct"`
	PriceChangePct   float64 `json:"price_change_pct"`
	DivergencePct    float64 `json:"divergence_pct"`
	AlertLevelPct    float64 `json:"alert_level_pct"`
	DigestStreak     int     `json:"digest_streak"`
	WarmingUp        bool    `json:"warming_up,omitempty"`
}

// Meta describes the deployment configuration behind a snapshot.
type Meta struct {
	Strategy      string `json:"strategy"`
	RankMode      string `json:"rank_mode"`
	SlopeWindow   string `json:"slope_window"`
	LookbackHours int    `json:"lookback_hours,omitempty"`
}

// Snapshot is a point-in-time rendering of all pair states.
type Snapshot struct {
	GeneratedAt time.Time  `json:"generated_at"`
	Meta        Meta       `json:"meta"`
	PairCount   int        `json:"pair_count"`
	Pairs       []PairView `json:"pairs"`
}

// Build projects the store into a Snapshot: ranked pairs in rank order, then
// warm-up pairs in symbol order. All percentages are rounded to two decimals;
// nothing in the store is mutated.
func Build(now time.Time, store *market.Store, mode ranking.Mode, meta Meta) Snapshot {
	snap := Snapshot{GeneratedAt: now, Meta: meta, PairCount: 0}

	ranked := ranking.Rank(store, mode)
	views := make([]PairView, 0, store.Len())
	for i, r := range ranked {
		st, ok := store.Pair(r.Pair)
		if !ok {
			continue
		}
		view := pairView(st)
		view.Rank = i + 1
		view.Score = market.Round2(r.Score)
		views = append(views, view)
	}

	store.Each(func(st *market.PairState) {
		if st.Last == nil || st.HasMetrics {
			return
		}
		view := pairView(st)
		view.WarmingUp = true
		views = append(views, view)
	})

	snap.Pairs = views
	snap.PairCount = len(views)
	return snap
}

func pairView(st *market.PairState) PairView {
	obs := st.Last
	return PairView{
		Pair:             st.Pair,
		Timestamp:        obs.Timestamp,
		LastPrice:        obs.Price,
		Baseline:         obs.Baseline,
		CumulativeVolume: obs.CumulativeVolume,
		VelocityPct:      market.Round2(st.VelocityPct),
		PriceChangePct:   market.Round2(st.PriceChangePct),
		DivergencePct:    market.Round2(st.DivergencePct),
		AlertLevelPct:    st.Alert.Level,
		DigestStreak:     st.DigestStreak,
	}
}
