package market

import (
	"testing"
	"time"
)

func newTestStore(keepLong bool) *Store {
	return NewStore(StoreConfig{
		SlopeWindow:   5 * time.Minute,
		MinHorizon:    10 * time.Minute,
		LookbackHours: 24,
		KeepLong:      keepLong,
	})
}

func obsAt(ts int64, price, volume float64) Observation {
	return Observation{Pair: "BTC/USD", Timestamp: ts, Price: price, Baseline: price, CumulativeVolume: volume}
}

func TestRecordKeepsBuffersMonotonic(t *testing.T) {
	s := newTestStore(false)
	st := s.Upsert("BTC/USD")

	s.Record(st, obsAt(100, 1, 10))
	s.Record(st, obsAt(100, 1, 10)) // duplicate delivery
	s.Record(st, obsAt(90, 1, 10))  // out of order
	s.Record(st, obsAt(160, 1, 11))

	if len(st.Recent) != 2 {
		t.Fatalf("expected 2 recent entries, got %d", len(st.Recent))
	}
	if st.Recent[0].Timestamp != 100 || st.Recent[1].Timestamp != 160 {
		t.Fatalf("unexpected recent order: %+v", st.Recent)
	}
}

func TestRecordEvictsByAge(t *testing.T) {
	s := newTestStore(false)
	st := s.Upsert("BTC/USD")

	// recent horizon = max(5m×5, 10m) = 25m
	s.Record(st, obsAt(0, 1, 10))
	s.Record(st, obsAt(1000, 1, 11))
	s.Record(st, obsAt(1510, 1, 12))

	if len(st.Recent) != 2 {
		t.Fatalf("expected first entry evicted, recent: %+v", st.Recent)
	}
	if st.Recent[0].Timestamp != 1000 {
		t.Fatalf("wrong survivor: %+v", st.Recent[0])
	}
}

func TestRecordLongBufferMinuteBuckets(t *testing.T) {
	s := newTestStore(true)
	st := s.Upsert("BTC/USD")

	s.Record(st, obsAt(30, 1, 10))
	s.Record(st, obsAt(45, 1, 11)) // same minute bucket
	s.Record(st, obsAt(75, 1, 12))

	if len(st.Long) != 2 {
		t.Fatalf("expected one entry per minute bucket, got %d", len(st.Long))
	}
	if st.Long[0].CumulativeVolume != 10 {
		t.Fatalf("bucket should keep the first entry, got %+v", st.Long[0])
	}
}

func TestFindAtOrBefore(t *testing.T) {
	s := newTestStore(true)
	st := s.Upsert("BTC/USD")

	if _, ok := FindAtOrBefore(st, 1000); ok {
		t.Fatal("empty buffer should report not found")
	}

	s.Record(st, obsAt(60, 1, 10))
	s.Record(st, obsAt(120, 1, 11))
	s.Record(st, obsAt(180, 1, 12))

	if _, ok := FindAtOrBefore(st, 59); ok {
		t.Fatal("all entries newer than target should report not found")
	}

	ref, ok := FindAtOrBefore(st, 150)
	if !ok {
		t.Fatal("expected a reference")
	}
	if ref.Timestamp != 120 {
		t.Fatalf("expected newest entry at or before target, got ts=%d", ref.Timestamp)
	}
}

func TestFindApproxAgo(t *testing.T) {
	s := newTestStore(false)
	st := s.Upsert("BTC/USD")

	if _, ok := FindApproxAgo(st, 60, 100); ok {
		t.Fatal("empty buffer should report not found")
	}

	s.Record(st, obsAt(100, 1, 10))
	s.Record(st, obsAt(160, 1, 11))
	s.Record(st, obsAt(200, 1, 12))

	ref, ok := FindApproxAgo(st, 60, 220)
	if !ok || ref.Timestamp != 160 {
		t.Fatalf("expected newest entry at least 60s old, got %+v ok=%v", ref, ok)
	}

	// nothing old enough: fall back to the oldest entry
	ref, ok = FindApproxAgo(st, 500, 220)
	if !ok || ref.Timestamp != 100 {
		t.Fatalf("expected fallback to oldest, got %+v ok=%v", ref, ok)
	}
}

func TestAppendTrendTrims(t *testing.T) {
	s := newTestStore(false)
	st := s.Upsert("BTC/USD")

	s.AppendTrend(st, TrendPoint{TS: 0, Diff: 1})
	s.AppendTrend(st, TrendPoint{TS: 700, Diff: 2})
	s.AppendTrend(st, TrendPoint{TS: 1510, Diff: 3})

	if len(st.Trend) != 2 {
		t.Fatalf("expected trend trimmed to horizon, got %+v", st.Trend)
	}
	if st.Trend[0].TS != 700 {
		t.Fatalf("wrong trend survivor: %+v", st.Trend[0])
	}
}

func TestEachVisitsInSymbolOrder(t *testing.T) {
	s := newTestStore(false)
	s.Upsert("ETH/USD")
	s.Upsert("BTC/USD")
	s.Upsert("SOL/USD")

	var seen []string
	s.Each(func(st *PairState) { seen = append(seen, st.Pair) })

	want := []string{"BTC/USD", "ETH/USD", "SOL/USD"}
	for i, sym := range want {
		if seen[i] != sym {
			t.Fatalf("expected %v, got %v", want, seen)
		}
	}
}
