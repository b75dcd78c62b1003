package clickhouse

import (
	"context"
	"fmt"
	"time"

	"ema-feature-lab/internal/domain"
	"ema-feature-lab/internal/storage"
)

// EMAStore implements storage.EMAStore using ClickHouse.
//
// ema_features is a ReplacingMergeTree keyed by (asset_id, timeframe,
// period, timestamp_ms) with updated_at as the version column, so an
// upsert is a plain batched insert: re-delivered canonical rows and
// revised preview tails collapse to the newest version at merge time,
// and reads use FINAL to observe the collapsed state.
type EMAStore struct {
	conn *Conn
}

// NewEMAStore creates a new EMAStore.
func NewEMAStore(conn *Conn) *EMAStore {
	return &EMAStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EMAStore = (*EMAStore)(nil)

const emaColumns = `asset_id, timeframe, period, timestamp_ms, ema, ema_bar, roll, d1, d2, d1_roll, d2_roll`

// Upsert writes points keyed by (asset, timeframe, period, timestamp).
func (s *EMAStore) Upsert(ctx context.Context, points []*domain.EMAPoint) error {
	if len(points) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf(
		"INSERT INTO ema_features (%s, updated_at)", emaColumns))
	if err != nil {
		return translate("prepare ema batch", err)
	}

	now := time.Now().UTC()
	for _, p := range points {
		if p == nil {
			continue
		}
		if err := batch.Append(
			p.AssetID,
			p.Timeframe,
			int32(p.Period),
			p.TimestampMs,
			p.EMA,
			p.EMABar,
			p.Roll,
			p.D1,
			p.D2,
			p.D1Roll,
			p.D2Roll,
			now,
		); err != nil {
			return translate("append ema row", err)
		}
	}

	if err := batch.Send(); err != nil {
		return translate("send ema batch", err)
	}
	return nil
}

// GetSeries retrieves all points for a triple, ordered by timestamp ASC.
func (s *EMAStore) GetSeries(ctx context.Context, assetID, timeframe string, period int) ([]*domain.EMAPoint, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM ema_features FINAL
		WHERE asset_id = ? AND timeframe = ? AND period = ?
		ORDER BY timestamp_ms ASC
	`, emaColumns)

	rows, err := s.conn.Query(ctx, query, assetID, timeframe, int32(period))
	if err != nil {
		return nil, translate("get ema series", err)
	}
	defer rows.Close()

	var points []*domain.EMAPoint
	for rows.Next() {
		p, err := scanPoint(rows)
		if err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("iterate ema rows", err)
	}

	return points, nil
}

// GetAt retrieves the point at an exact timestamp.
func (s *EMAStore) GetAt(ctx context.Context, assetID, timeframe string, period int, tsMs int64) (*domain.EMAPoint, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM ema_features FINAL
		WHERE asset_id = ? AND timeframe = ? AND period = ? AND timestamp_ms = ?
		LIMIT 1
	`, emaColumns)

	rows, err := s.conn.Query(ctx, query, assetID, timeframe, int32(period), tsMs)
	if err != nil {
		return nil, translate("get ema at timestamp", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, translate("get ema at timestamp", err)
		}
		return nil, fmt.Errorf("%w: ema point %s/%s/%d@%d", storage.ErrNotFound, assetID, timeframe, period, tsMs)
	}
	return scanPoint(rows)
}

// GetCanonicalTail retrieves the n most recent canonical points with
// timestamp < beforeMs, ordered by timestamp ASC.
func (s *EMAStore) GetCanonicalTail(ctx context.Context, assetID, timeframe string, period int, beforeMs int64, n int) ([]*domain.EMAPoint, error) {
	if n <= 0 {
		return nil, nil
	}

	bound := beforeMs
	if bound <= 0 {
		bound = int64(1) << 62
	}

	// Newest n first, then handed back oldest-first.
	query := fmt.Sprintf(`
		SELECT %s
		FROM ema_features FINAL
		WHERE asset_id = ? AND timeframe = ? AND period = ?
		  AND timestamp_ms < ? AND NOT roll
		ORDER BY timestamp_ms DESC
		LIMIT ?
	`, emaColumns)

	rows, err := s.conn.Query(ctx, query, assetID, timeframe, int32(period), bound, n)
	if err != nil {
		return nil, translate("get canonical tail", err)
	}
	defer rows.Close()

	var points []*domain.EMAPoint
	for rows.Next() {
		p, err := scanPoint(rows)
		if err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("iterate tail rows", err)
	}

	// Reverse into ascending timestamp order.
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}

	return points, nil
}

type pointScanner interface {
	Scan(dest ...any) error
}

func scanPoint(row pointScanner) (*domain.EMAPoint, error) {
	var (
		p      domain.EMAPoint
		period int32
	)
	if err := row.Scan(
		&p.AssetID,
		&p.Timeframe,
		&period,
		&p.TimestampMs,
		&p.EMA,
		&p.EMABar,
		&p.Roll,
		&p.D1,
		&p.D2,
		&p.D1Roll,
		&p.D2Roll,
	); err != nil {
		return nil, translate("scan ema row", err)
	}
	p.Period = int(period)
	return &p, nil
}
