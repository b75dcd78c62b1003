package postgres

import (
	"context"
	"fmt"

	"ema-feature-lab/internal/domain"
	"ema-feature-lab/internal/storage"
)

// WatermarkStore implements storage.WatermarkStore using PostgreSQL.
type WatermarkStore struct {
	pool *Pool
}

// NewWatermarkStore creates a new WatermarkStore.
func NewWatermarkStore(pool *Pool) *WatermarkStore {
	return &WatermarkStore{pool: pool}
}

// Compile-time interface check.
var _ storage.WatermarkStore = (*WatermarkStore)(nil)

// EnsureSchema creates the watermark table if absent. Idempotent.
func (s *WatermarkStore) EnsureSchema(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS ema_watermarks (
			asset_id           TEXT        NOT NULL,
			timeframe          TEXT        NOT NULL,
			period             INTEGER     NOT NULL,
			daily_min_seen_ms  BIGINT,
			daily_max_seen_ms  BIGINT,
			last_bar_seq       BIGINT,
			last_time_close_ms BIGINT,
			last_canonical_ts_ms BIGINT,
			updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (asset_id, timeframe, period)
		)
	`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return s.translate("ensure watermark schema", err)
	}
	return nil
}

// Get retrieves the watermark for a triple. Returns ErrNotFound if the
// triple has never been computed.
func (s *WatermarkStore) Get(ctx context.Context, assetID, timeframe string, period int) (*domain.WatermarkRecord, error) {
	query := `
		SELECT asset_id, timeframe, period,
		       daily_min_seen_ms, daily_max_seen_ms,
		       last_bar_seq, last_time_close_ms, last_canonical_ts_ms,
		       updated_at
		FROM ema_watermarks
		WHERE asset_id = $1 AND timeframe = $2 AND period = $3
	`

	var w domain.WatermarkRecord
	err := s.pool.QueryRow(ctx, query, assetID, timeframe, period).Scan(
		&w.AssetID,
		&w.Timeframe,
		&w.Period,
		&w.DailyMinSeenMs,
		&w.DailyMaxSeenMs,
		&w.LastBarSeq,
		&w.LastTimeCloseMs,
		&w.LastCanonicalTsMs,
		&w.UpdatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, s.translate("get watermark", err)
	}
	return &w, nil
}

// Upsert writes a watermark keyed by (asset, timeframe, period).
func (s *WatermarkStore) Upsert(ctx context.Context, w *domain.WatermarkRecord) error {
	if w == nil || w.AssetID == "" || w.Timeframe == "" || w.Period <= 0 {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO ema_watermarks (
			asset_id, timeframe, period,
			daily_min_seen_ms, daily_max_seen_ms,
			last_bar_seq, last_time_close_ms, last_canonical_ts_ms,
			updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (asset_id, timeframe, period) DO UPDATE SET
			daily_min_seen_ms    = EXCLUDED.daily_min_seen_ms,
			daily_max_seen_ms    = EXCLUDED.daily_max_seen_ms,
			last_bar_seq         = EXCLUDED.last_bar_seq,
			last_time_close_ms   = EXCLUDED.last_time_close_ms,
			last_canonical_ts_ms = EXCLUDED.last_canonical_ts_ms,
			updated_at           = EXCLUDED.updated_at
	`

	_, err := s.pool.Exec(ctx, query,
		w.AssetID,
		w.Timeframe,
		w.Period,
		w.DailyMinSeenMs,
		w.DailyMaxSeenMs,
		w.LastBarSeq,
		w.LastTimeCloseMs,
		w.LastCanonicalTsMs,
		w.UpdatedAt,
	)
	if err != nil {
		return s.translate("upsert watermark", err)
	}
	return nil
}

// Delete removes a watermark. Deleting an absent record is not an error.
func (s *WatermarkStore) Delete(ctx context.Context, assetID, timeframe string, period int) error {
	query := `DELETE FROM ema_watermarks WHERE asset_id = $1 AND timeframe = $2 AND period = $3`

	if _, err := s.pool.Exec(ctx, query, assetID, timeframe, period); err != nil {
		return s.translate("delete watermark", err)
	}
	return nil
}

// translate maps driver errors onto the storage sentinels.
func (s *WatermarkStore) translate(op string, err error) error {
	if isResourceExhaustedError(err) {
		return fmt.Errorf("%w: %s: %v", storage.ErrResourceExhausted, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
