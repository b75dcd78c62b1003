package storage

import (
	"context"

	"ema-feature-lab/internal/domain"
)

// TimeframeCatalog provides read-only access to timeframe reference rows.
type TimeframeCatalog interface {
	// Get retrieves one spec by timeframe code. Returns ErrNotFound if absent.
	Get(ctx context.Context, code string) (*domain.TimeframeSpec, error)

	// List retrieves all specs.
	List(ctx context.Context) ([]*domain.TimeframeSpec, error)
}

// BarStore provides read access to canonical_closes. The engine never
// mutates bar rows.
type BarStore interface {
	// GetSince retrieves rows for (asset, timeframe) with timestamp >= fromMs,
	// ordered by timestamp ASC. fromMs <= 0 means all history.
	GetSince(ctx context.Context, assetID, timeframe string, fromMs int64) ([]*domain.CanonicalClose, error)

	// CountCanonical returns the number of rows with is_canonical=true for
	// (asset, timeframe).
	CountCanonical(ctx context.Context, assetID, timeframe string) (int, error)

	// LastCloseBefore returns the most recent non-gap close strictly before
	// beforeMs, or ErrNotFound when no such row exists.
	LastCloseBefore(ctx context.Context, assetID, timeframe string, beforeMs int64) (float64, error)

	// ListAssetIDs returns the distinct asset ids present for a timeframe.
	ListAssetIDs(ctx context.Context, timeframe string) ([]string, error)
}

// EMAStore provides idempotent upsert access to ema_features.
type EMAStore interface {
	// Upsert writes points keyed by (asset, timeframe, period, timestamp).
	// Canonical rows are insert-or-update-only-if-changed; preview rows
	// always overwrite.
	Upsert(ctx context.Context, points []*domain.EMAPoint) error

	// GetSeries retrieves all points for a triple, ordered by timestamp ASC.
	GetSeries(ctx context.Context, assetID, timeframe string, period int) ([]*domain.EMAPoint, error)

	// GetAt retrieves the point at an exact timestamp. Returns ErrNotFound
	// if absent.
	GetAt(ctx context.Context, assetID, timeframe string, period int, tsMs int64) (*domain.EMAPoint, error)

	// GetCanonicalTail retrieves the n most recent canonical points with
	// timestamp < beforeMs (beforeMs <= 0 means no bound), ordered by
	// timestamp ASC. Used to seed incremental recurrences and keep the
	// difference chains continuous across runs.
	GetCanonicalTail(ctx context.Context, assetID, timeframe string, period int, beforeMs int64, n int) ([]*domain.EMAPoint, error)
}

// WatermarkStore provides upsert access to ema_watermarks.
type WatermarkStore interface {
	// EnsureSchema creates the watermark table if absent. Idempotent.
	EnsureSchema(ctx context.Context) error

	// Get retrieves the watermark for a triple. Returns ErrNotFound if the
	// triple has never been computed.
	Get(ctx context.Context, assetID, timeframe string, period int) (*domain.WatermarkRecord, error)

	// Upsert writes a watermark keyed by (asset, timeframe, period).
	Upsert(ctx context.Context, w *domain.WatermarkRecord) error

	// Delete removes a watermark, forcing a full recompute of the triple on
	// the next run. Deleting an absent record is not an error.
	Delete(ctx context.Context, assetID, timeframe string, period int) error
}
