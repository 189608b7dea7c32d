package digest

import (
	"strings"
	"testing"
	"time"

	"github.com/SVG-campus/KRAKEN-VOLUME/internal/market"
)

var digestNow = time.Unix(10_000, 0)

func newDigestStore() *market.Store {
	return market.NewStore(market.StoreConfig{SlopeWindow: 5 * time.Minute, LookbackHours: 24})
}

// seedTrend fills a pair with flat divergence values inside the digest window.
func seedTrend(store *market.Store, symbol string, diff float64) *market.PairState {
	st := store.Upsert(symbol)
	st.Last = &market.Observation{Pair: symbol, Timestamp: digestNow.Unix(), Price: 100, CumulativeVolume: 1}
	for i := int64(0); i < 5; i++ {
		st.Trend = append(st.Trend, market.TrendPoint{TS: digestNow.Unix() - 240 + i*60, Diff: diff})
	}
	return st
}

func testAggregator() *Aggregator {
	return New(Config{
		Window:             5 * time.Minute,
		TopN:               2,
		MinSignificancePct: 1.0,
		CrownStreak:        3,
		CrownWindow:        30 * time.Minute,
		RepostDeltaPct:     2.0,
	})
}

func TestCollectSplitsWinnersAndLosers(t *testing.T) {
	store := newDigestStore()
	seedTrend(store, "BTC/USD", 6)
	seedTrend(store, "ETH/USD", 3)
	seedTrend(store, "SOL/USD", -4)
	seedTrend(store, "XRP/USD", 0.5) // below significance

	d, emitted := testAggregator().Collect(digestNow, store)
	if !emitted {
		t.Fatal("first digest should emit")
	}
	if len(d.Winners) != 2 || d.Winners[0].Pair != "BTC/USD" || d.Winners[1].Pair != "ETH/USD" {
		t.Fatalf("unexpected winners %+v", d.Winners)
	}
	if len(d.Losers) != 1 || d.Losers[0].Pair != "SOL/USD" {
		t.Fatalf("unexpected losers %+v", d.Losers)
	}
}

func TestCollectCapsAtTopN(t *testing.T) {
	store := newDigestStore()
	seedTrend(store, "A/USD", 2)
	seedTrend(store, "B/USD", 3)
	seedTrend(store, "C/USD", 4)
	seedTrend(store, "D/USD", 5)

	d, _ := testAggregator().Collect(digestNow, store)
	if len(d.Winners) != 2 {
		t.Fatalf("expected top 2 winners, got %d", len(d.Winners))
	}
	if d.Winners[0].Pair != "D/USD" || d.Winners[1].Pair != "C/USD" {
		t.Fatalf("unexpected capped winners %+v", d.Winners)
	}
}

func TestCollectEmptyCycle(t *testing.T) {
	store := newDigestStore()
	seedTrend(store, "BTC/USD", 0.2)

	d, emitted := testAggregator().Collect(digestNow, store)
	if emitted || d != nil {
		t.Fatalf("quiet cycle should be suppressed, got %+v", d)
	}
}

func TestCollectSuppressesUnchangedRepost(t *testing.T) {
	store := newDigestStore()
	seedTrend(store, "BTC/USD", 6)
	seedTrend(store, "ETH/USD", 3)

	agg := testAggregator()
	if _, emitted := agg.Collect(digestNow, store); !emitted {
		t.Fatal("first digest should emit")
	}
	// same composition, leader drift below the repost threshold
	store.Each(func(st *market.PairState) { st.Trend = nil })
	seedTrend(store, "BTC/USD", 6.5)
	seedTrend(store, "ETH/USD", 3)
	if _, emitted := agg.Collect(digestNow, store); emitted {
		t.Fatal("unchanged digest should be suppressed")
	}
}

func TestCollectRepostsOnLeaderDrift(t *testing.T) {
	store := newDigestStore()
	seedTrend(store, "BTC/USD", 6)
	seedTrend(store, "ETH/USD", 3)

	agg := testAggregator()
	agg.Collect(digestNow, store)

	store.Each(func(st *market.PairState) { st.Trend = nil })
	seedTrend(store, "BTC/USD", 8.5)
	seedTrend(store, "ETH/USD", 3)
	if _, emitted := agg.Collect(digestNow, store); !emitted {
		t.Fatal("leader drift past threshold should repost")
	}
}

func TestCollectRepostsOnMembershipChange(t *testing.T) {
	store := newDigestStore()
	seedTrend(store, "BTC/USD", 6)

	agg := testAggregator()
	agg.Collect(digestNow, store)

	seedTrend(store, "SOL/USD", -4)
	if _, emitted := agg.Collect(digestNow, store); !emitted {
		t.Fatal("new member should force a repost")
	}
}

func TestStreakAndCrown(t *testing.T) {
	store := newDigestStore()
	seedTrend(store, "BTC/USD", 6)

	agg := testAggregator()
	for i := 0; i < 3; i++ {
		agg.Collect(digestNow, store)
	}

	st, _ := store.Pair("BTC/USD")
	if st.DigestStreak != 3 {
		t.Fatalf("expected streak 3, got %d", st.DigestStreak)
	}

	// fourth cycle reports the crown; membership is unchanged so it is
	// suppressed, but the returned digest still carries the decoration
	d, _ := agg.Collect(digestNow, store)
	if d == nil || !d.Winners[0].Crowned {
		t.Fatalf("expected crowned leader, got %+v", d)
	}
}

func TestCrownFromRecentSteps(t *testing.T) {
	store := newDigestStore()
	st := seedTrend(store, "BTC/USD", 6)
	st.StepTimes = []int64{digestNow.Unix() - 600, digestNow.Unix() - 120}

	d, _ := testAggregator().Collect(digestNow, store)
	if !d.Winners[0].Crowned {
		t.Fatal("two recent step alerts should crown the pair")
	}
}

func TestStepTimesTrimmedToCrownWindow(t *testing.T) {
	store := newDigestStore()
	st := seedTrend(store, "BTC/USD", 6)
	st.StepTimes = []int64{digestNow.Unix() - 3600, digestNow.Unix() - 120}

	testAggregator().Collect(digestNow, store)
	if len(st.StepTimes) != 1 || st.StepTimes[0] != digestNow.Unix()-120 {
		t.Fatalf("expected expired step times trimmed, got %v", st.StepTimes)
	}
}

func TestRender(t *testing.T) {
	d := &Digest{
		At: time.Date(2025, 3, 1, 12, 5, 0, 0, time.UTC),
		Winners: []Entry{
			{Pair: "BTC/USD", AvgDivergencePct: 6.126, Crowned: true},
			{Pair: "ETH/USD", AvgDivergencePct: 3},
		},
		Losers: []Entry{{Pair: "SOL/USD", AvgDivergencePct: -4}},
	}

	note := Render(d)
	if note.Kind != "digest" {
		t.Fatalf("unexpected kind %q", note.Kind)
	}
	if !strings.Contains(note.Subject, "BTC/USD leads at 6.13%") {
		t.Fatalf("unexpected subject %q", note.Subject)
	}
	for _, want := range []string{
		"1. BTC/USD 6.13% 👑",
		"2. ETH/USD 3.00%",
		"Losers:",
		"1. SOL/USD -4.00%",
	} {
		if !strings.Contains(note.Text, want) {
			t.Fatalf("text missing %q:\n%s", want, note.Text)
		}
	}
}
