package ranking

import (
	"testing"
	"time"

	"github.com/SVG-campus/KRAKEN-VOLUME/internal/market"
)

func seedPair(store *market.Store, symbol string, velocity, priceChange float64) {
	st := store.Upsert(symbol)
	st.Last = &market.Observation{Pair: symbol, Timestamp: 1000, Price: 100, Baseline: 100, CumulativeVolume: 1}
	st.VelocityPct = velocity
	st.PriceChangePct = priceChange
	st.DivergencePct = velocity - priceChange
	st.HasMetrics = true
}

func newRankStore() *market.Store {
	return market.NewStore(market.StoreConfig{SlopeWindow: 5 * time.Minute, LookbackHours: 24})
}

func TestScoreModes(t *testing.T) {
	if got := Score(ModeRaw, 40, 2); got != 40 {
		t.Fatalf("raw score = %v, want 40", got)
	}
	if got := Score(ModeRatio, 40, 2); got != 20 {
		t.Fatalf("ratio score = %v, want 20", got)
	}
	// flat price hits the floor instead of dividing by zero
	if got := Score(ModeRatio, 1, 0); got != 1/0.0001 {
		t.Fatalf("floored ratio = %v, want %v", got, 1/0.0001)
	}
	// sign of the price change does not matter
	if Score(ModeRatio, 40, -2) != Score(ModeRatio, 40, 2) {
		t.Fatal("ratio score should use absolute price change")
	}
}

func TestRankOrdersByScoreDescending(t *testing.T) {
	store := newRankStore()
	seedPair(store, "ETH/USD", 30, 3) // ratio 10
	seedPair(store, "BTC/USD", 40, 2) // ratio 20
	seedPair(store, "SOL/USD", 5, 1)  // ratio 5

	ranked := Rank(store, ModeRatio)
	if len(ranked) != 3 {
		t.Fatalf("expected 3 ranked pairs, got %d", len(ranked))
	}
	want := []string{"BTC/USD", "ETH/USD", "SOL/USD"}
	for i, pair := range want {
		if ranked[i].Pair != pair {
			t.Fatalf("rank %d = %s, want %s", i, ranked[i].Pair, pair)
		}
	}
}

func TestRankExcludesWarmingUpPairs(t *testing.T) {
	store := newRankStore()
	seedPair(store, "BTC/USD", 10, 1)

	warming := store.Upsert("ETH/USD")
	warming.Last = &market.Observation{Pair: "ETH/USD", Timestamp: 1000, Price: 100}
	store.Upsert("XRP/USD") // no observation at all

	ranked := Rank(store, ModeRatio)
	if len(ranked) != 1 || ranked[0].Pair != "BTC/USD" {
		t.Fatalf("expected only BTC/USD ranked, got %+v", ranked)
	}
}

func TestRankBreaksTiesLexicographically(t *testing.T) {
	store := newRankStore()
	seedPair(store, "ZRX/USD", 20, 2)
	seedPair(store, "ADA/USD", 20, 2)
	seedPair(store, "ETH/USD", 20, 2)

	ranked := Rank(store, ModeRatio)
	want := []string{"ADA/USD", "ETH/USD", "ZRX/USD"}
	for i, pair := range want {
		if ranked[i].Pair != pair {
			t.Fatalf("rank %d = %s, want %s", i, ranked[i].Pair, pair)
		}
	}
}

func TestRankEmptyStore(t *testing.T) {
	if ranked := Rank(newRankStore(), ModeRaw); len(ranked) != 0 {
		t.Fatalf("expected empty ranking, got %+v", ranked)
	}
}
