package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertRecord is the append-only audit row for one emitted alert. Nothing in
// the engine reads these back; they feed the show/export commands only.
type AlertRecord struct {
	ID             int64
	Pair           string
	At             time.Time
	Kind           string // "step" or "disarm"
	Direction      string
	LevelPct       decimal.Decimal
	StepMovePct    decimal.Decimal
	VelocityPct    decimal.Decimal
	PriceChangePct decimal.Decimal
	DivergencePct  decimal.Decimal
	TrendPerMinPct decimal.Decimal
	CreatedAt      time.Time
}

// DigestRecord is the audit row for one emitted digest.
type DigestRecord struct {
	ID           int64
	At           time.Time
	Leader       string
	LeaderAvgPct decimal.Decimal
	Members      []string
	Body         string
	CreatedAt    time.Time
}
