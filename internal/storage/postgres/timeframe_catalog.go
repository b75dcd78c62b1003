package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"ema-feature-lab/internal/domain"
	"ema-feature-lab/internal/storage"
)

// TimeframeCatalog implements storage.TimeframeCatalog using PostgreSQL.
// The catalog is reference data owned by an external system; this store is
// read-only.
type TimeframeCatalog struct {
	pool *Pool
}

// NewTimeframeCatalog creates a new TimeframeCatalog.
func NewTimeframeCatalog(pool *Pool) *TimeframeCatalog {
	return &TimeframeCatalog{pool: pool}
}

// Compile-time interface check.
var _ storage.TimeframeCatalog = (*TimeframeCatalog)(nil)

// Get retrieves one spec by timeframe code. Returns ErrNotFound if absent.
func (c *TimeframeCatalog) Get(ctx context.Context, code string) (*domain.TimeframeSpec, error) {
	query := `
		SELECT code, tf_days, family, valid_from_ms, valid_to_ms
		FROM timeframes
		WHERE code = $1
	`

	var spec domain.TimeframeSpec
	var family string
	err := c.pool.QueryRow(ctx, query, code).Scan(
		&spec.Code,
		&spec.TFDays,
		&family,
		&spec.ValidFromMs,
		&spec.ValidToMs,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		if isResourceExhaustedError(err) {
			return nil, fmt.Errorf("%w: get timeframe: %v", storage.ErrResourceExhausted, err)
		}
		return nil, fmt.Errorf("get timeframe: %w", err)
	}
	spec.Family = domain.AlignmentFamily(family)
	return &spec, nil
}

// List retrieves all specs ordered by code.
func (c *TimeframeCatalog) List(ctx context.Context) ([]*domain.TimeframeSpec, error) {
	query := `
		SELECT code, tf_days, family, valid_from_ms, valid_to_ms
		FROM timeframes
		ORDER BY code ASC
	`

	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		if isResourceExhaustedError(err) {
			return nil, fmt.Errorf("%w: list timeframes: %v", storage.ErrResourceExhausted, err)
		}
		return nil, fmt.Errorf("list timeframes: %w", err)
	}
	defer rows.Close()

	return scanTimeframes(rows)
}

// scanTimeframes scans multiple rows into a slice of TimeframeSpec.
func scanTimeframes(rows pgx.Rows) ([]*domain.TimeframeSpec, error) {
	var specs []*domain.TimeframeSpec

	for rows.Next() {
		var spec domain.TimeframeSpec
		var family string

		err := rows.Scan(
			&spec.Code,
			&spec.TFDays,
			&family,
			&spec.ValidFromMs,
			&spec.ValidToMs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan timeframe row: %w", err)
		}
		spec.Family = domain.AlignmentFamily(family)

		specs = append(specs, &spec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeframe rows: %w", err)
	}

	return specs, nil
}
