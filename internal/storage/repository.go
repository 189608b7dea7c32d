package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrNotConfigured indicates the storage pool was not initialised.
var ErrNotConfigured = errors.New("storage: pool not configured")

const (
	insertAlertSQL = `INSERT INTO divergence_alerts (
        pair,
        occurred_at,
        kind,
        direction,
        level_pct,
        step_move_pct,
        velocity_pct,
        price_change_pct,
        divergence_pct,
        trend_per_min_pct
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    RETURNING id, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        pair,
        occurred_at,
        kind,
        direction,
        level_pct,
        step_move_pct,
        velocity_pct,
        price_change_pct,
        divergence_pct,
        trend_per_min_pct,
        created_at
    FROM divergence_alerts
    ORDER BY occurred_at DESC
    LIMIT $1;`

	listAlertsForPairSQL = `SELECT
        id,
        pair,
        occurred_at,
        kind,
        direction,
        level_pct,
        step_move_pct,
        velocity_pct,
        price_change_pct,
        divergence_pct,
        trend_per_min_pct,
        created_at
    FROM divergence_alerts
    WHERE pair = $1
      AND occurred_at >= $2
      AND occurred_at < $3
    ORDER BY occurred_at;`

	deleteAlertsBeforeSQL = `DELETE FROM divergence_alerts WHERE created_at < $1;`

	insertDigestSQL = `INSERT INTO digest_posts (
        occurred_at,
        leader,
        leader_avg_pct,
        members,
        body
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    RETURNING id, created_at;`

	listRecentDigestsSQL = `SELECT
        id,
        occurred_at,
        leader,
        leader_avg_pct,
        members,
        body,
        created_at
    FROM digest_posts
    ORDER BY occurred_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AlertAuditStore defines persistence for emitted alerts.
type AlertAuditStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	ListAlertsForPair(ctx context.Context, pair string, from, to time.Time) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// DigestAuditStore defines persistence for emitted digests.
type DigestAuditStore interface {
	InsertDigest(ctx context.Context, d DigestRecord) (DigestRecord, error)
	ListRecentDigests(ctx context.Context, limit int) ([]DigestRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers, used so only one replica
// emits a given digest cycle.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to the audit tables.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.Pair,
		alert.At,
		alert.Kind,
		alert.Direction,
		alert.LevelPct.String(),
		alert.StepMovePct.String(),
		alert.VelocityPct.String(),
		alert.PriceChangePct.String(),
		alert.DivergencePct.String(),
		alert.TrendPerMinPct.String(),
	)

	rec := alert
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists the most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	return collectAlerts(rows, limit)
}

// ListAlertsForPair lists a pair's alerts inside a time window.
func (s *Store) ListAlertsForPair(ctx context.Context, pair string, from, to time.Time) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listAlertsForPairSQL, pair, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list alerts for pair: %w", queryErr)
	}
	defer rows.Close()

	return collectAlerts(rows, 0)
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

// InsertDigest persists a digest emission.
func (s *Store) InsertDigest(ctx context.Context, d DigestRecord) (DigestRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return DigestRecord{}, err
	}

	row := pool.QueryRow(ctx, insertDigestSQL,
		d.At,
		d.Leader,
		d.LeaderAvgPct.String(),
		d.Members,
		d.Body,
	)

	rec := d
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return DigestRecord{}, fmt.Errorf("insert digest: %w", scanErr)
	}
	return rec, nil
}

// ListRecentDigests lists the most recent digests.
func (s *Store) ListRecentDigests(ctx context.Context, limit int) ([]DigestRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentDigestsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent digests: %w", queryErr)
	}
	defer rows.Close()

	digests := make([]DigestRecord, 0, limit)
	for rows.Next() {
		var rec DigestRecord
		var avgStr string
		if err := rows.Scan(
			&rec.ID,
			&rec.At,
			&rec.Leader,
			&avgStr,
			&rec.Members,
			&rec.Body,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		avg, convErr := decimal.NewFromString(avgStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse leader avg pct: %w", convErr)
		}
		rec.LeaderAvgPct = avg
		digests = append(digests, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return digests, nil
}

func collectAlerts(rows pgx.Rows, sizeHint int) ([]AlertRecord, error) {
	alerts := make([]AlertRecord, 0, sizeHint)
	for rows.Next() {
		rec, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func scanAlert(rows pgx.Rows) (AlertRecord, error) {
	var (
		rec    AlertRecord
		fields [6]string
	)
	if err := rows.Scan(
		&rec.ID,
		&rec.Pair,
		&rec.At,
		&rec.Kind,
		&rec.Direction,
		&fields[0],
		&fields[1],
		&fields[2],
		&fields[3],
		&fields[4],
		&fields[5],
		&rec.CreatedAt,
	); err != nil {
		return AlertRecord{}, err
	}

	targets := []*decimal.Decimal{
		&rec.LevelPct,
		&rec.StepMovePct,
		&rec.VelocityPct,
		&rec.PriceChangePct,
		&rec.DivergencePct,
		&rec.TrendPerMinPct,
	}
	for i, raw := range fields {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return AlertRecord{}, fmt.Errorf("parse alert numeric column: %w", err)
		}
		*targets[i] = parsed
	}
	return rec, nil
}
