package digest

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SVG-campus/KRAKEN-VOLUME/internal/alerting"
	"github.com/SVG-campus/KRAKEN-VOLUME/internal/market"
)

// Config tunes the digest cycle.
type Config struct {
	Window             time.Duration
	TopN               int
	MinSignificancePct float64
	CrownStreak        int
	CrownWindow        time.Duration
	RepostDeltaPct     float64
}

// Entry is one pair in a digest.
type Entry struct {
	Pair             string
	AvgDivergencePct float64
	Streak           int
	Crowned          bool
}

// Digest is one emitted summary cycle.
type Digest struct {
	At      time.Time
	Winners []Entry // avg divergence ≥ 0, descending
	Losers  []Entry // avg divergence < 0, most negative first
}

// Members lists every included pair, winners first.
func (d *Digest) Members() []string {
	out := make([]string, 0, len(d.Winners)+len(d.Losers))
	for _, e := range d.Winners {
		out = append(out, e.Pair)
	}
	for _, e := range d.Losers {
		out = append(out, e.Pair)
	}
	return out
}

// Leader returns the strongest entry by absolute average divergence.
func (d *Digest) Leader() (Entry, bool) {
	if len(d.Winners) > 0 {
		return d.Winners[0], true
	}
	if len(d.Losers) > 0 {
		return d.Losers[0], true
	}
	return Entry{}, false
}

// Aggregator builds sustained-divergence digests across all pairs and
// suppresses reposts when nothing materially changed.
type Aggregator struct {
	cfg Config

	lastMembers   map[string]struct{}
	lastLeaderAvg float64
	emitted       bool
}

// New constructs an Aggregator.
func New(cfg Config) *Aggregator {
	if cfg.TopN <= 0 {
		cfg.TopN = 5
	}
	return &Aggregator{cfg: cfg}
}

// Collect runs one digest cycle over the store. It mutates streak bookkeeping
// on every pair and must therefore run with exclusive access to the store.
// The returned bool is false when the digest was suppressed.
func (a *Aggregator) Collect(now time.Time, store *market.Store) (*Digest, bool) {
	nowSec := now.Unix()
	windowStart := nowSec - int64(a.cfg.Window/time.Second)

	candidates := make([]Entry, 0, store.Len())
	store.Each(func(st *market.PairState) {
		if st.Last == nil {
			return
		}
		avg, ok := windowAverage(st.Trend, windowStart)
		if !ok || math.Abs(avg) < a.cfg.MinSignificancePct {
			return
		}
		candidates = append(candidates, Entry{Pair: st.Pair, AvgDivergencePct: avg})
	})

	winners := make([]Entry, 0, len(candidates))
	losers := make([]Entry, 0, len(candidates))
	for _, c := range candidates {
		if c.AvgDivergencePct >= 0 {
			winners = append(winners, c)
		} else {
			losers = append(losers, c)
		}
	}
	sort.SliceStable(winners, func(i, j int) bool {
		return winners[i].AvgDivergencePct > winners[j].AvgDivergencePct
	})
	sort.SliceStable(losers, func(i, j int) bool {
		return losers[i].AvgDivergencePct < losers[j].AvgDivergencePct
	})
	winners = capEntries(winners, a.cfg.TopN)
	losers = capEntries(losers, a.cfg.TopN)

	included := make(map[string]struct{}, len(winners)+len(losers))
	for _, e := range winners {
		included[e.Pair] = struct{}{}
	}
	for _, e := range losers {
		included[e.Pair] = struct{}{}
	}

	crownCutoff := nowSec - int64(a.cfg.CrownWindow/time.Second)
	store.Each(func(st *market.PairState) {
		if _, ok := included[st.Pair]; ok {
			st.DigestStreak++
		} else {
			st.DigestStreak = 0
		}
		st.StepTimes = trimTimes(st.StepTimes, crownCutoff)
	})

	decorate := func(entries []Entry) {
		for i := range entries {
			st, _ := store.Pair(entries[i].Pair)
			entries[i].Streak = st.DigestStreak
			entries[i].Crowned = a.crowned(st)
		}
	}
	decorate(winners)
	decorate(losers)

	d := &Digest{At: now, Winners: winners, Losers: losers}
	if len(winners) == 0 && len(losers) == 0 {
		// nothing sustained; remember the empty composition so the next
		// non-empty cycle is treated as changed
		a.lastMembers = included
		return nil, false
	}
	if !a.changedSince(d) {
		return d, false
	}

	a.lastMembers = included
	if leader, ok := d.Leader(); ok {
		a.lastLeaderAvg = leader.AvgDivergencePct
	}
	a.emitted = true
	return d, true
}

func (a *Aggregator) crowned(st *market.PairState) bool {
	if a.cfg.CrownStreak > 0 && st.DigestStreak >= a.cfg.CrownStreak {
		return true
	}
	return len(st.StepTimes) >= 2
}

func (a *Aggregator) changedSince(d *Digest) bool {
	if !a.emitted {
		return true
	}
	members := d.Members()
	if len(members) != len(a.lastMembers) {
		return true
	}
	for _, m := range members {
		if _, ok := a.lastMembers[m]; !ok {
			return true
		}
	}
	if leader, ok := d.Leader(); ok {
		return math.Abs(leader.AvgDivergencePct-a.lastLeaderAvg) >= a.cfg.RepostDeltaPct
	}
	return false
}

// Render formats a digest as plain text for the notification channels.
func Render(d *Digest) alerting.Notification {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("Divergence digest %s UTC\n", d.At.UTC().Format("15:04")))
	writeSection := func(title string, entries []Entry) {
		if len(entries) == 0 {
			return
		}
		builder.WriteString(title + "\n")
		for i, e := range entries {
			mark := ""
			if e.Crowned {
				mark = " 👑"
			}
			builder.WriteString(fmt.Sprintf("%d. %s %s%%%s\n", i+1,
				e.Pair, decimal.NewFromFloat(market.Round2(e.AvgDivergencePct)).StringFixed(2), mark))
		}
	}
	writeSection("Winners:", d.Winners)
	writeSection("Losers:", d.Losers)

	subject := "divergence digest"
	if leader, ok := d.Leader(); ok {
		subject = fmt.Sprintf("digest: %s leads at %s%%", leader.Pair,
			decimal.NewFromFloat(market.Round2(leader.AvgDivergencePct)).StringFixed(2))
	}
	return alerting.Notification{Kind: "digest", At: d.At, Subject: subject, Text: builder.String()}
}

func windowAverage(trend []market.TrendPoint, windowStart int64) (float64, bool) {
	sum := 0.0
	count := 0
	for i := len(trend) - 1; i >= 0; i-- {
		if trend[i].TS < windowStart {
			break
		}
		sum += trend[i].Diff
		count++
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}

func capEntries(entries []Entry, n int) []Entry {
	if len(entries) > n {
		return entries[:n]
	}
	return entries
}

func trimTimes(times []int64, cutoff int64) []int64 {
	i := 0
	for i < len(times) && times[i] < cutoff {
		i++
	}
	if i == 0 {
		return times
	}
	return append(times[:0:0], times[i:]...)
}
