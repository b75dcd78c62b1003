package clickhouse

import (
	"context"
	"fmt"

	"ema-feature-lab/internal/domain"
	"ema-feature-lab/internal/storage"
)

// BarStore implements storage.BarStore using ClickHouse. The bar source
// pipeline owns canonical_closes; this store only reads.
type BarStore struct {
	conn *Conn
}

// NewBarStore creates a new BarStore.
func NewBarStore(conn *Conn) *BarStore {
	return &BarStore{conn: conn}
}

// Compile-time interface check.
var _ storage.BarStore = (*BarStore)(nil)

// GetSince retrieves rows for (asset, timeframe) with timestamp >= fromMs,
// ordered by timestamp ASC.
func (s *BarStore) GetSince(ctx context.Context, assetID, timeframe string, fromMs int64) ([]*domain.CanonicalClose, error) {
	query := `
		SELECT asset_id, timeframe, timestamp_ms, close, bar_seq, is_canonical
		FROM canonical_closes FINAL
		WHERE asset_id = ? AND timeframe = ? AND timestamp_ms >= ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, assetID, timeframe, fromMs)
	if err != nil {
		return nil, translate("get closes since", err)
	}
	defer rows.Close()

	var bars []*domain.CanonicalClose
	for rows.Next() {
		var bar domain.CanonicalClose
		if err := rows.Scan(&bar.AssetID, &bar.Timeframe, &bar.TimestampMs, &bar.Close, &bar.BarSeq, &bar.IsCanonical); err != nil {
			return nil, translate("scan close row", err)
		}
		bars = append(bars, &bar)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("iterate close rows", err)
	}

	return bars, nil
}

// CountCanonical returns the number of canonical rows for (asset, timeframe).
func (s *BarStore) CountCanonical(ctx context.Context, assetID, timeframe string) (int, error) {
	query := `
		SELECT count()
		FROM canonical_closes FINAL
		WHERE asset_id = ? AND timeframe = ? AND is_canonical
	`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, assetID, timeframe).Scan(&count); err != nil {
		return 0, translate("count canonical closes", err)
	}
	return int(count), nil
}

// LastCloseBefore returns the most recent non-gap close strictly before
// beforeMs, or storage.ErrNotFound when no such row exists.
func (s *BarStore) LastCloseBefore(ctx context.Context, assetID, timeframe string, beforeMs int64) (float64, error) {
	query := `
		SELECT close
		FROM canonical_closes FINAL
		WHERE asset_id = ? AND timeframe = ? AND timestamp_ms < ? AND NOT isNaN(close)
		ORDER BY timestamp_ms DESC
		LIMIT 1
	`

	rows, err := s.conn.Query(ctx, query, assetID, timeframe, beforeMs)
	if err != nil {
		return 0, translate("get last close", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, translate("get last close", err)
		}
		return 0, fmt.Errorf("%w: close before %d for %s/%s", storage.ErrNotFound, beforeMs, assetID, timeframe)
	}
	var px float64
	if err := rows.Scan(&px); err != nil {
		return 0, translate("scan last close", err)
	}
	return px, nil
}

// ListAssetIDs returns the distinct asset ids present for a timeframe.
func (s *BarStore) ListAssetIDs(ctx context.Context, timeframe string) ([]string, error) {
	query := `
		SELECT DISTINCT asset_id
		FROM canonical_closes
		WHERE timeframe = ?
		ORDER BY asset_id ASC
	`

	rows, err := s.conn.Query(ctx, query, timeframe)
	if err != nil {
		return nil, translate("list asset ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, translate("scan asset id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("iterate asset ids", err)
	}

	return ids, nil
}
